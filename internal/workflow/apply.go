package workflow

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neutronik/sansred/internal/ctxlog"
	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/maskio"
	"github.com/neutronik/sansred/internal/pipeline"
	"github.com/neutronik/sansred/internal/reduce"
	"github.com/neutronik/sansred/internal/runio"
)

// Loader builds the run-file loader for the configured runs.
func (w *Workflow) Loader() *runio.FileLoader {
	return &runio.FileLoader{Paths: w.RunFiles()}
}

// Apply sets the workflow's binning, parameters and masks on the pipeline,
// on top of whatever defaults are already there. Mask and direct beam files
// are read here.
func (w *Workflow) Apply(ctx context.Context, pl *pipeline.Pipeline) error {
	logger := ctxlog.FromContext(ctx)

	for _, b := range w.Bins {
		edges := hist.Linspace(b.Start, b.Stop, b.Count)
		switch b.Dim {
		case "wavelength":
			pl.SetParam(reduce.KeyWavelengthBins, edges)
		case "q":
			pl.SetParam(reduce.KeyQBins, edges)
		case "qx":
			pl.SetParam(reduce.KeyQxBins, edges)
		case "qy":
			pl.SetParam(reduce.KeyQyBins, edges)
		}
	}

	p := w.Params
	if p.CorrectForGravity != nil {
		pl.SetParam(reduce.KeyCorrectForGravity, *p.CorrectForGravity)
	}
	if p.UncertaintyMode != "" {
		mode, err := hist.ParseMode(p.UncertaintyMode)
		if err != nil {
			return fmt.Errorf("workflow %q: %w", w.Name, err)
		}
		pl.SetParam(reduce.KeyUncertaintyMode, mode)
	}
	if p.NonBackgroundRange != nil {
		pl.SetParam(reduce.KeyNonBackgroundRange, p.NonBackgroundRange)
	}
	if p.WavelengthBands != nil {
		pl.SetParam(reduce.KeyWavelengthBands, p.WavelengthBands)
	}
	if p.DimsToKeep != nil {
		pl.SetParam(reduce.KeyDimsToKeep, p.DimsToKeep)
	}
	if p.BeamCenter != nil {
		pl.SetParam(reduce.KeyBeamCenter, r3.Vec{X: p.BeamCenter[0], Y: p.BeamCenter[1]})
	}
	if p.DirectBeamFile != "" {
		db, err := runio.LoadSpectrum(p.DirectBeamFile)
		if err != nil {
			return fmt.Errorf("workflow %q: direct beam: %w", w.Name, err)
		}
		pl.SetParam(reduce.KeyDirectBeam, db)
		logger.Debug("direct beam loaded", "file", p.DirectBeamFile, "bins", db.NBins())
	}

	if len(w.Masks) > 0 {
		masks := make(map[string][]int64, len(w.Masks))
		for _, m := range w.Masks {
			ids, err := maskio.ReadFile(m.File)
			if err != nil {
				return fmt.Errorf("workflow %q: mask %q: %w", w.Name, m.Name, err)
			}
			masks[m.Name] = ids
			logger.Debug("pixel mask loaded", "name", m.Name, "file", m.File, "pixels", len(ids))
		}
		pl.SetParam(reduce.KeyPixelMasks, masks)
	}

	if len(w.WavelengthMasks) > 0 {
		mask := &reduce.WavelengthMask{Name: w.WavelengthMasks[0].Name}
		for _, m := range w.WavelengthMasks {
			mask.Ranges = append(mask.Ranges, [2]float64{m.Min, m.Max})
		}
		pl.SetParam(reduce.KeyWavelengthMask, mask)
	}
	return nil
}
