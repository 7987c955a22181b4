package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutronik/sansred/internal/pipeline"
	"github.com/neutronik/sansred/internal/reduce"
)

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reduction.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const fullWorkflow = `
workflow "porous-silica" {
  instrument = "sans2d"

  run "sample"     { file = "runs/sans2d-63114.json" }
  run "background" { file = "runs/sans2d-63159.json" }
  run "empty_beam" { file = "runs/sans2d-63091.json" }

  bins "wavelength" {
    start = 2.0
    stop  = 16.0
    count = 140
  }
  bins "q" {
    start = 0.01
    stop  = 0.5
    count = 140
  }

  params {
    correct_for_gravity  = true
    uncertainty_mode     = "upper_bound"
    non_background_range = [0.7, 17.1]
    wavelength_bands     = [2.0, 9.0, 16.0]
    beam_center          = [0.09, -0.082]
  }

  mask "beam_stop" { file = "masks/beam-stop.xml" }

  wavelength_mask "pulse_overlap" {
    min = 2.21
    max = 2.59
  }

  output {
    iofq = "out/iofq.xml"
  }
}
`

func TestLoad(t *testing.T) {
	w, err := Load(context.Background(), writeWorkflow(t, fullWorkflow))
	require.NoError(t, err)

	assert.Equal(t, "porous-silica", w.Name)
	assert.Equal(t, "sans2d", w.Instrument)
	assert.Len(t, w.Runs, 3)
	assert.True(t, w.HasRun(reduce.SampleRun))
	assert.True(t, w.HasRun(reduce.BackgroundRun))
	assert.False(t, w.HasRun(reduce.TransmissionSampleRun))

	files := w.RunFiles()
	assert.Equal(t, "runs/sans2d-63114.json", files[reduce.SampleRun])

	require.NotNil(t, w.Params.CorrectForGravity)
	assert.True(t, *w.Params.CorrectForGravity)
	assert.Equal(t, "upper_bound", w.Params.UncertaintyMode)
	require.NotNil(t, w.Params.NonBackgroundRange)
	assert.Equal(t, [2]float64{0.7, 17.1}, *w.Params.NonBackgroundRange)
	assert.Equal(t, []float64{2, 9, 16}, w.Params.WavelengthBands)
	require.NotNil(t, w.Params.BeamCenter)
	assert.Equal(t, [2]float64{0.09, -0.082}, *w.Params.BeamCenter)

	require.Len(t, w.Masks, 1)
	assert.Equal(t, "beam_stop", w.Masks[0].Name)
	require.Len(t, w.WavelengthMasks, 1)
	assert.InDelta(t, 2.21, w.WavelengthMasks[0].Min, 1e-12)

	require.NotNil(t, w.Output)
	assert.Equal(t, "out/iofq.xml", w.Output.IofQ)
	assert.Empty(t, w.Output.IofQxy)
}

func TestLoad_Minimal(t *testing.T) {
	w, err := Load(context.Background(), writeWorkflow(t, `
workflow "minimal" {
  instrument = "loki"
  run "sample" { file = "sample.json" }
}
`))
	require.NoError(t, err)
	assert.Nil(t, w.Params.CorrectForGravity)
	assert.Nil(t, w.Output)
	assert.Empty(t, w.Bins)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no workflow block",
			content: ``,
			wantErr: "exactly one workflow block",
		},
		{
			name: "two workflow blocks",
			content: `
workflow "a" {
  instrument = "loki"
  run "sample" { file = "s.json" }
}
workflow "b" {
  instrument = "loki"
  run "sample" { file = "s.json" }
}
`,
			wantErr: "exactly one workflow block",
		},
		{
			name: "unknown run role",
			content: `
workflow "w" {
  instrument = "loki"
  run "sample" { file = "s.json" }
  run "calibration" { file = "c.json" }
}
`,
			wantErr: `unknown run role "calibration"`,
		},
		{
			name: "duplicate run role",
			content: `
workflow "w" {
  instrument = "loki"
  run "sample" { file = "a.json" }
  run "sample" { file = "b.json" }
}
`,
			wantErr: `duplicate run role "sample"`,
		},
		{
			name: "missing sample run",
			content: `
workflow "w" {
  instrument = "loki"
  run "background" { file = "b.json" }
}
`,
			wantErr: `missing run block for role "sample"`,
		},
		{
			name: "unknown bins dimension",
			content: `
workflow "w" {
  instrument = "loki"
  run "sample" { file = "s.json" }
  bins "tof" {
    start = 0
    stop  = 1
    count = 10
  }
}
`,
			wantErr: `unknown bins dimension "tof"`,
		},
		{
			name: "inverted binning",
			content: `
workflow "w" {
  instrument = "loki"
  run "sample" { file = "s.json" }
  bins "q" {
    start = 0.5
    stop  = 0.1
    count = 10
  }
}
`,
			wantErr: "bad binning",
		},
		{
			name: "empty wavelength mask",
			content: `
workflow "w" {
  instrument = "loki"
  run "sample" { file = "s.json" }
  wavelength_mask "m" {
    min = 3.0
    max = 3.0
  }
}
`,
			wantErr: "empty range",
		},
		{
			name: "unknown parameter",
			content: `
workflow "w" {
  instrument = "loki"
  run "sample" { file = "s.json" }
  params {
    gravity = true
  }
}
`,
			wantErr: `param "gravity"`,
		},
		{
			name: "wrong parameter type",
			content: `
workflow "w" {
  instrument = "loki"
  run "sample" { file = "s.json" }
  params {
    non_background_range = [1.0]
  }
}
`,
			wantErr: "exactly 2 numbers",
		},
		{
			name: "not hcl",
			content: `workflow {{{`,
			wantErr: "failed to parse workflow file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), writeWorkflow(t, tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

// applyProbe records the parameters a workflow sets.
func applyProbe(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	reg := pipeline.NewRegistry()
	pl, err := pipeline.New(reg)
	require.NoError(t, err)
	return pl
}

func TestApply(t *testing.T) {
	maskPath := filepath.Join(t.TempDir(), "mask.xml")
	require.NoError(t, os.WriteFile(maskPath,
		[]byte(`<detector-masking><group><detids>7-9</detids></group></detector-masking>`), 0o644))

	w, err := Load(context.Background(), writeWorkflow(t, `
workflow "w" {
  instrument = "loki"
  run "sample" { file = "s.json" }

  bins "q" {
    start = 0.01
    stop  = 0.3
    count = 100
  }

  params {
    correct_for_gravity = true
    uncertainty_mode    = "drop"
  }

  mask "beam_stop" { file = "`+maskPath+`" }

  wavelength_mask "a" {
    min = 2.0
    max = 2.5
  }
  wavelength_mask "b" {
    min = 4.0
    max = 4.5
  }
}
`))
	require.NoError(t, err)

	pl := applyProbe(t)
	require.NoError(t, w.Apply(context.Background(), pl))

	raw, err := pl.Compute(context.Background(), reduce.KeyQBins)
	require.NoError(t, err)
	edges := raw.([]float64)
	assert.Len(t, edges, 101)
	assert.InDelta(t, 0.01, edges[0], 1e-12)
	assert.InDelta(t, 0.3, edges[100], 1e-12)

	raw, err = pl.Compute(context.Background(), reduce.KeyCorrectForGravity)
	require.NoError(t, err)
	assert.Equal(t, true, raw)

	raw, err = pl.Compute(context.Background(), reduce.KeyPixelMasks)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int64{"beam_stop": {7, 8, 9}}, raw)

	raw, err = pl.Compute(context.Background(), reduce.KeyWavelengthMask)
	require.NoError(t, err)
	mask := raw.(*reduce.WavelengthMask)
	assert.Equal(t, "a", mask.Name)
	assert.Equal(t, [][2]float64{{2, 2.5}, {4, 4.5}}, mask.Ranges)
}

func TestApply_BadUncertaintyMode(t *testing.T) {
	w, err := Load(context.Background(), writeWorkflow(t, `
workflow "w" {
  instrument = "loki"
  run "sample" { file = "s.json" }
  params {
    uncertainty_mode = "maybe"
  }
}
`))
	require.NoError(t, err)

	err = w.Apply(context.Background(), applyProbe(t))
	assert.Error(t, err)
}

func TestApply_MissingMaskFile(t *testing.T) {
	w, err := Load(context.Background(), writeWorkflow(t, `
workflow "w" {
  instrument = "loki"
  run "sample" { file = "s.json" }
  mask "m" { file = "/nonexistent/mask.xml" }
}
`))
	require.NoError(t, err)

	err = w.Apply(context.Background(), applyProbe(t))
	assert.ErrorContains(t, err, `mask "m"`)
}
