package beamcenter

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/pipeline"
	"github.com/neutronik/sansred/internal/reduce"
	"github.com/neutronik/sansred/internal/units"
)

// gaussianDetector builds a square pixel grid at z=5 with counts falling
// off isotropically around the given center, so the true beam center is
// known exactly.
func gaussianDetector(t *testing.T, center r3.Vec) *reduce.DetectorData {
	t.Helper()
	const n = 15
	const pitch = 0.02
	edges := hist.Linspace(1000, 50000, 9)

	var positions []r3.Vec
	var ids []int64
	var counts [][]float64
	var variances [][]float64
	for ix := 0; ix < n; ix++ {
		for iy := 0; iy < n; iy++ {
			p := r3.Vec{
				X: (float64(ix) - float64(n-1)/2) * pitch,
				Y: (float64(iy) - float64(n-1)/2) * pitch,
				Z: 5,
			}
			r2 := (p.X-center.X)*(p.X-center.X) + (p.Y-center.Y)*(p.Y-center.Y)
			amp := 1000 * math.Exp(-r2/(2*0.05*0.05))
			row := make([]float64, len(edges)-1)
			vrow := make([]float64, len(edges)-1)
			for j := range row {
				row[j] = amp
				vrow[j] = amp
			}
			positions = append(positions, p)
			ids = append(ids, int64(len(ids)+1))
			counts = append(counts, row)
			variances = append(variances, vrow)
		}
	}
	d := &reduce.DetectorData{
		IDs:         ids,
		Positions:   positions,
		SamplePos:   r3.Vec{},
		SourcePos:   r3.Vec{Z: -5},
		PixelRadius: 0.004,
		PixelLength: 0.002,
		PixelAxis:   r3.Vec{X: 1},
		Dim:         "tof",
		Edges:       edges,
		EdgeUnit:    units.Microsecond,
		Counts:      counts,
		Variances:   variances,
		Unit:        units.Counts,
		Masks:       map[string][]bool{},
		BinMasks:    map[string][]bool{},
	}
	require.NoError(t, d.Validate())
	return d
}

func TestCenterOfMass(t *testing.T) {
	want := r3.Vec{X: 0.03, Y: -0.02}
	d := gaussianDetector(t, want)
	d.Dim = "wavelength" // COM only sums counts, the dim is irrelevant

	got, err := CenterOfMass(d)
	require.NoError(t, err)
	assert.InDelta(t, want.X, got.X, 0.01)
	assert.InDelta(t, want.Y, got.Y, 0.01)
	assert.InDelta(t, 0, got.Z, 1e-12)
}

func TestCenterOfMass_IgnoresMaskedPixels(t *testing.T) {
	d := gaussianDetector(t, r3.Vec{})
	// A hot masked pixel far off axis must not drag the center.
	hot := make([]bool, d.NPixels())
	for i, p := range d.Positions {
		if p.X > 0.12 {
			for j := range d.Counts[i] {
				d.Counts[i][j] = 1e6
			}
			hot[i] = true
		}
	}
	d.Masks["hot"] = hot

	got, err := CenterOfMass(d)
	require.NoError(t, err)
	assert.InDelta(t, 0, got.X, 0.01)
	assert.InDelta(t, 0, got.Y, 0.01)
}

func TestCenterOfMass_Errors(t *testing.T) {
	t.Run("no pixels", func(t *testing.T) {
		_, err := CenterOfMass(&reduce.DetectorData{})
		assert.ErrorContains(t, err, "no pixels")
	})

	t.Run("all masked", func(t *testing.T) {
		d := gaussianDetector(t, r3.Vec{})
		all := make([]bool, d.NPixels())
		for i := range all {
			all[i] = true
		}
		d.Masks["all"] = all
		_, err := CenterOfMass(d)
		assert.ErrorContains(t, err, "all pixels masked")
	})
}

func TestSelectPixels(t *testing.T) {
	d := gaussianDetector(t, r3.Vec{})
	d.Masks["edge"] = make([]bool, d.NPixels())
	d.Masks["edge"][0] = true
	d.BinMasks["bragg"] = make([]bool, d.NBins())

	keep := make([]bool, d.NPixels())
	keep[0] = true
	keep[3] = true

	got := selectPixels(d, keep)
	assert.Equal(t, 2, got.NPixels())
	assert.Equal(t, []int64{d.IDs[0], d.IDs[3]}, got.IDs)
	assert.Equal(t, []bool{true, false}, got.Masks["edge"])
	assert.Len(t, got.BinMasks["bragg"], d.NBins())
	require.NoError(t, got.Validate())
}

type fixedLoader struct {
	runs map[pipeline.RunType]*reduce.RunData
}

func (f *fixedLoader) LoadRun(_ context.Context, run pipeline.RunType) (*reduce.RunData, error) {
	rd, ok := f.runs[run]
	if !ok {
		return nil, fmt.Errorf("no data for run %q", run)
	}
	return rd, nil
}

func flatMonitor(scale float64) *reduce.Monitor {
	edges := hist.Linspace(1000, 50000, 25)
	values := make([]float64, len(edges)-1)
	for i := range values {
		values[i] = scale
	}
	return &reduce.Monitor{
		Distance: 10,
		Spec: &hist.Spectrum{
			Dim:      "tof",
			Edges:    edges,
			EdgeUnit: units.Microsecond,
			Values:   values,
			Unit:     units.Counts,
		},
	}
}

func monitors() map[pipeline.MonitorType]*reduce.Monitor {
	return map[pipeline.MonitorType]*reduce.Monitor{
		reduce.Incident:     flatMonitor(100),
		reduce.Transmission: flatMonitor(80),
	}
}

func basePipeline(t *testing.T, detector *reduce.DetectorData) *pipeline.Pipeline {
	t.Helper()
	loader := &fixedLoader{runs: map[pipeline.RunType]*reduce.RunData{
		reduce.SampleRun:              {Detector: detector, Monitors: monitors()},
		reduce.EmptyBeamRun:           {Monitors: monitors()},
		reduce.TransmissionSampleRun:  {Monitors: monitors()},
		reduce.TransmissionBackground: {Monitors: monitors()},
	}}
	reg := pipeline.NewRegistry()
	reduce.Register(reg, loader)
	pl, err := pipeline.New(reg)
	require.NoError(t, err)

	pl.SetParam(reduce.KeyWavelengthBins, hist.Linspace(1, 13, 7))
	pl.SetParam(reduce.KeyWavelengthBands, nil)
	pl.SetParam(reduce.KeyQBins, hist.Linspace(0.01, 0.3, 31))
	pl.SetParam(reduce.KeyNonBackgroundRange, nil)
	pl.SetParam(reduce.KeyBeamCenter, r3.Vec{})
	pl.SetParam(reduce.KeyCorrectForGravity, false)
	pl.SetParam(reduce.KeyUncertaintyMode, hist.ModeUpperBound)
	pl.SetParam(reduce.KeyDirectBeam, nil)
	pl.SetParam(reduce.KeyDimsToKeep, nil)
	pl.SetParam(reduce.KeyPixelMasks, nil)
	pl.SetParam(reduce.KeyWavelengthMask, nil)
	return pl
}

func TestFromIofQ_RecoversKnownCenter(t *testing.T) {
	want := r3.Vec{X: 0.024, Y: -0.018}
	pl := basePipeline(t, gaussianDetector(t, want))

	got, err := FromIofQ(context.Background(), pl, Options{
		QBins: hist.Linspace(0.02, 0.25, 13),
	})
	require.NoError(t, err)
	assert.InDelta(t, want.X, got.X, 0.01)
	assert.InDelta(t, want.Y, got.Y, 0.01)

	// The base pipeline still reduces with the original beam center.
	raw, err := pl.Compute(context.Background(), reduce.KeyCalibratedData.For(reduce.SampleRun))
	require.NoError(t, err)
	assert.InDelta(t, -0.14, raw.(*reduce.DetectorData).Positions[0].X, 1e-9)
}

func TestFromIofQ_RejectsMissingQBins(t *testing.T) {
	pl := basePipeline(t, gaussianDetector(t, r3.Vec{}))
	_, err := FromIofQ(context.Background(), pl, Options{})
	assert.ErrorContains(t, err, "at least 2 Q bin edges")
}
