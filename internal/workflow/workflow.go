// Package workflow loads reduction workflow definitions from HCL files and
// applies them to a pipeline.
//
// A workflow file names the instrument, maps run roles to data files, and
// overrides reduction parameters:
//
//	workflow "porous-silica" {
//	  instrument = "sans2d"
//
//	  run "sample"     { file = "runs/sans2d-63114.json" }
//	  run "background" { file = "runs/sans2d-63159.json" }
//	  run "empty_beam" { file = "runs/sans2d-63091.json" }
//
//	  bins "wavelength" {
//	    start = 2.0
//	    stop  = 16.0
//	    count = 140
//	  }
//	  bins "q" {
//	    start = 0.01
//	    stop  = 0.5
//	    count = 140
//	  }
//
//	  params {
//	    correct_for_gravity  = true
//	    uncertainty_mode     = "upper_bound"
//	    non_background_range = [0.7, 17.1]
//	    direct_beam          = "direct-beam.json"
//	  }
//
//	  mask "beam_stop" { file = "masks/beam-stop.xml" }
//	  wavelength_mask "pulse_overlap" { min = 2.21, max = 2.59 }
//
//	  output {
//	    iofq = "out/iofq.xml"
//	  }
//	}
package workflow

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/neutronik/sansred/internal/ctxlog"
	"github.com/neutronik/sansred/internal/pipeline"
	"github.com/neutronik/sansred/internal/reduce"
)

// Workflow is the decoded form of one workflow block.
type Workflow struct {
	Name       string  `hcl:"name,label"`
	Instrument string  `hcl:"instrument"`
	Runs       []*Run  `hcl:"run,block"`
	Bins       []*Bins `hcl:"bins,block"`

	ParamsBlock     *paramsBlock      `hcl:"params,block"`
	Masks           []*Mask           `hcl:"mask,block"`
	WavelengthMasks []*WavelengthMask `hcl:"wavelength_mask,block"`
	Output          *Output           `hcl:"output,block"`

	Params Params
}

// Run maps one run role to a data file.
type Run struct {
	Role string `hcl:"role,label"`
	File string `hcl:"file"`
}

// Bins is a linear binning specification for one dimension.
type Bins struct {
	Dim   string  `hcl:"dim,label"`
	Start float64 `hcl:"start"`
	Stop  float64 `hcl:"stop"`
	Count int     `hcl:"count"`
}

// Mask names one pixel mask file.
type Mask struct {
	Name string `hcl:"name,label"`
	File string `hcl:"file"`
}

// WavelengthMask excludes one wavelength range.
type WavelengthMask struct {
	Name string  `hcl:"name,label"`
	Min  float64 `hcl:"min"`
	Max  float64 `hcl:"max"`
}

// Output names the files the reduced results are written to. Empty fields
// skip the corresponding output.
type Output struct {
	IofQ   string `hcl:"iofq,optional"`
	IofQxy string `hcl:"iofq_xy,optional"`
}

type paramsBlock struct {
	Remain hcl.Body `hcl:",remain"`
}

type fileRoot struct {
	Workflows []*Workflow `hcl:"workflow,block"`
}

// Load parses one workflow file. Exactly one workflow block is expected.
func Load(ctx context.Context, path string) (*Workflow, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("loading workflow file", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse workflow file %s: %w", path, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(file.Body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode workflow file %s: %w", path, diags)
	}
	if len(root.Workflows) != 1 {
		return nil, fmt.Errorf("workflow file %s must hold exactly one workflow block, found %d", path, len(root.Workflows))
	}
	w := root.Workflows[0]
	if w.ParamsBlock != nil {
		if err := decodeParams(w.ParamsBlock.Remain, &w.Params); err != nil {
			return nil, fmt.Errorf("workflow %q: %w", w.Name, err)
		}
	}
	if err := w.validate(); err != nil {
		return nil, fmt.Errorf("workflow %q: %w", w.Name, err)
	}
	logger.Debug("workflow loaded", "name", w.Name, "instrument", w.Instrument, "runs", len(w.Runs))
	return w, nil
}

func (w *Workflow) validate() error {
	valid := map[string]bool{}
	for _, r := range reduce.MonitorRuns {
		valid[string(r)] = true
	}
	seen := map[string]bool{}
	for _, r := range w.Runs {
		if !valid[r.Role] {
			return fmt.Errorf("unknown run role %q", r.Role)
		}
		if seen[r.Role] {
			return fmt.Errorf("duplicate run role %q", r.Role)
		}
		seen[r.Role] = true
	}
	if !seen[string(reduce.SampleRun)] {
		return fmt.Errorf("missing run block for role %q", reduce.SampleRun)
	}
	dims := map[string]bool{"wavelength": true, "q": true, "qx": true, "qy": true}
	for _, b := range w.Bins {
		if !dims[b.Dim] {
			return fmt.Errorf("unknown bins dimension %q", b.Dim)
		}
		if b.Count < 1 || b.Stop <= b.Start {
			return fmt.Errorf("bad binning for %q: start=%g stop=%g count=%d", b.Dim, b.Start, b.Stop, b.Count)
		}
	}
	for _, m := range w.WavelengthMasks {
		if m.Max <= m.Min {
			return fmt.Errorf("wavelength mask %q: empty range [%g, %g]", m.Name, m.Min, m.Max)
		}
	}
	return nil
}

// RunFiles maps the configured run roles to their files.
func (w *Workflow) RunFiles() map[pipeline.RunType]string {
	out := make(map[pipeline.RunType]string, len(w.Runs))
	for _, r := range w.Runs {
		out[pipeline.RunType(r.Role)] = r.File
	}
	return out
}

// HasRun reports whether a run role is configured.
func (w *Workflow) HasRun(run pipeline.RunType) bool {
	_, ok := w.RunFiles()[run]
	return ok
}
