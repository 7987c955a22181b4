package instrument

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neutronik/sansred/internal/pipeline"
	"github.com/neutronik/sansred/internal/reduce"
	"github.com/neutronik/sansred/internal/units"
)

func sans2dPanel(t *testing.T, positions []r3.Vec, counts []float64) *reduce.DetectorData {
	t.Helper()
	ids := make([]int64, len(positions))
	rows := make([][]float64, len(positions))
	for i := range positions {
		ids[i] = int64(i + 1)
		rows[i] = []float64{counts[i]}
	}
	d := &reduce.DetectorData{
		IDs:       ids,
		Positions: positions,
		SamplePos: r3.Vec{},
		SourcePos: r3.Vec{Z: -10},
		Dim:       "tof",
		Edges:     []float64{0, 10000},
		EdgeUnit:  units.Microsecond,
		Counts:    rows,
		Unit:      units.Counts,
		Masks:     map[string][]bool{},
		BinMasks:  map[string][]bool{},
	}
	require.NoError(t, d.Validate())
	return d
}

func TestSans2dGeometryMasks(t *testing.T) {
	positions := []r3.Vec{
		{X: 0.1, Y: 0.1, Z: 20},    // interior, bright
		{X: 0.5, Y: 0.0, Z: 20},    // beyond the x edge
		{X: 0.0, Y: -0.47, Z: 20},  // beyond the y edge
		{X: 0.2, Y: -0.05, Z: 20},  // holder region, shadowed
		{X: 0.2, Y: -0.05, Z: 20},  // holder region, but bright
		{X: -0.2, Y: -0.05, Z: 20}, // shadowed but outside the holder box
	}
	counts := []float64{1000, 1000, 1000, 1, 1000, 1}
	d := sans2dPanel(t, positions, counts)

	out := sans2dGeometryMasks(d)

	assert.Equal(t, []bool{false, true, true, false, false, false}, out.Masks["edges"])
	assert.Equal(t, []bool{false, false, false, true, false, false}, out.Masks["holder_mask"])

	// The input is untouched.
	assert.Empty(t, d.Masks)
}

type panelLoader struct {
	detector *reduce.DetectorData
}

func (l *panelLoader) LoadRun(_ context.Context, run pipeline.RunType) (*reduce.RunData, error) {
	return &reduce.RunData{Detector: l.detector}, nil
}

func TestSans2dCustomize_MasksThroughPipeline(t *testing.T) {
	def, err := Lookup("sans2d")
	require.NoError(t, err)
	require.NotNil(t, def.Customize)

	panel := sans2dPanel(t,
		[]r3.Vec{{X: 0.1, Y: 0.1, Z: 20}, {X: 0.5, Y: 0, Z: 20}},
		[]float64{1000, 1000})
	reg := pipeline.NewRegistry()
	reduce.Register(reg, &panelLoader{detector: panel})
	def.Customize(reg)
	pl, err := pipeline.New(reg)
	require.NoError(t, err)
	def.ApplyDefaults(pl)

	raw, err := pl.Compute(context.Background(), reduce.KeyMaskedData.For(reduce.SampleRun))
	require.NoError(t, err)
	masked := raw.(*reduce.DetectorData)

	assert.Equal(t, []bool{false, true}, masked.Masks["edges"])
	assert.Contains(t, masked.Masks, "holder_mask")
}
