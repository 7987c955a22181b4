package reduce

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/units"
)

// qFor returns the momentum transfer of a pixel at the given offset from
// the sample, for a beam along +z and no gravity correction.
func qFor(offset r3.Vec, wavelength float64) float64 {
	twoTheta := math.Asin(math.Hypot(offset.X, offset.Y) / r3.Norm(offset))
	return QFromAngle(twoTheta, wavelength)
}

func wavDetector(t *testing.T, positions []r3.Vec, counts [][]float64) *DetectorData {
	t.Helper()
	ids := make([]int64, len(positions))
	variances := make([][]float64, len(counts))
	for i := range positions {
		ids[i] = int64(i + 1)
		variances[i] = append([]float64(nil), counts[i]...)
	}
	d := &DetectorData{
		IDs:       ids,
		Positions: positions,
		SamplePos: r3.Vec{},
		SourcePos: r3.Vec{Z: -10},
		Dim:       "wavelength",
		Edges:     hist.Linspace(4, 6, len(counts[0])+1),
		EdgeUnit:  units.Angstrom,
		Counts:    counts,
		Variances: variances,
		Unit:      units.Counts,
		Masks:     map[string][]bool{},
		BinMasks:  map[string][]bool{},
	}
	require.NoError(t, d.Validate())
	return d
}

func TestBinInQ(t *testing.T) {
	pos := r3.Vec{X: 0.1, Z: 5}
	d := wavDetector(t, []r3.Vec{pos}, [][]float64{{3}})
	qBins := hist.Linspace(0, 0.05, 6)

	groups, err := binInQ(d, qBins, false, false)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, -1, groups[0].Label)

	q := qFor(pos, 5)
	bin := int(q / 0.01)
	m := groups[0].M
	for j := range m.Values[0] {
		if j == bin {
			assert.InDelta(t, 3, m.Values[0][j], 1e-12)
			assert.InDelta(t, 3, m.Variances[0][j], 1e-12)
		} else {
			assert.Zero(t, m.Values[0][j])
		}
	}
}

func TestBinInQ_SkipsMaskedPixelsAndBins(t *testing.T) {
	positions := []r3.Vec{{X: 0.1, Z: 5}, {X: 0.2, Z: 5}}
	d := wavDetector(t, positions, [][]float64{{3, 4}, {7, 9}})
	d.Masks["beamstop"] = []bool{false, true}
	d.BinMasks["bragg"] = []bool{false, true}

	groups, err := binInQ(d, hist.Linspace(0, 0.1, 11), false, false)
	require.NoError(t, err)

	var total float64
	for _, row := range groups[0].M.Values {
		for _, v := range row {
			total += v
		}
	}
	// Only pixel 0, bin 0 survives.
	assert.InDelta(t, 3, total, 1e-12)
}

func TestBinInQ_KeepsLayers(t *testing.T) {
	positions := []r3.Vec{{X: 0.1, Z: 5}, {X: 0.1, Z: 5}}
	d := wavDetector(t, positions, [][]float64{{3}, {7}})
	d.Layer = []int{1, 0}

	groups, err := binInQ(d, hist.Linspace(0, 0.1, 11), false, true)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, 0, groups[0].Label)
	assert.Equal(t, 1, groups[1].Label)

	sum := func(m *QMatrix) float64 {
		var s float64
		for _, row := range m.Values {
			for _, v := range row {
				s += v
			}
		}
		return s
	}
	assert.InDelta(t, 7, sum(groups[0].M), 1e-12)
	assert.InDelta(t, 3, sum(groups[1].M), 1e-12)
}

func TestBinInQ_RejectsTofData(t *testing.T) {
	d := wavDetector(t, []r3.Vec{{X: 0.1, Z: 5}}, [][]float64{{3}})
	d.Dim = "tof"
	_, err := binInQ(d, hist.Linspace(0, 0.1, 11), false, false)
	assert.ErrorContains(t, err, "expected wavelength")
}

func testQMatrix(t *testing.T, values [][]float64, withVariances bool) *QMatrix {
	t.Helper()
	wavEdges := hist.Linspace(4, 6, len(values)+1)
	qEdges := hist.Linspace(0, 0.1, len(values[0])+1)
	m := NewQMatrix(wavEdges, qEdges, withVariances, units.Counts)
	for i, row := range values {
		copy(m.Values[i], row)
		if withVariances {
			copy(m.Variances[i], row)
		}
	}
	return m
}

func TestSumBand(t *testing.T) {
	m := testQMatrix(t, [][]float64{{1, 2}, {10, 20}}, true)

	all := sumBand(m, []int{0, 1})
	assert.Equal(t, []float64{11, 22}, all.Values)
	assert.Equal(t, []float64{11, 22}, all.Variances)
	assert.Equal(t, "Q", all.Dim)

	first := sumBand(m, []int{0})
	assert.Equal(t, []float64{1, 2}, first.Values)
}

func TestBandRows(t *testing.T) {
	wavEdges := []float64{4, 5, 6, 7}

	assert.Equal(t, []int{0, 1, 2}, bandRows(wavEdges, [2]float64{4, 7}))
	assert.Equal(t, []int{1}, bandRows(wavEdges, [2]float64{5, 6}))
	assert.Nil(t, bandRows(wavEdges, [2]float64{8, 9}))
}

func TestNormalize(t *testing.T) {
	num := []QGroup{{Label: -1, M: testQMatrix(t, [][]float64{{6, 8}}, true)}}
	denom := []QGroup{{Label: -1, M: testQMatrix(t, [][]float64{{2, 4}}, false)}}
	bands := BandSet{{4, 6}}

	out, err := normalize(num, denom, bands)
	require.NoError(t, err)

	curve, err := out.Curve()
	require.NoError(t, err)
	assert.InDelta(t, 3, curve.Values[0], 1e-12)
	assert.InDelta(t, 2, curve.Values[1], 1e-12)
	// var(x/y) with var(y)=0 is var(x)/y^2.
	assert.InDelta(t, 6.0/4, curve.Variances[0], 1e-12)
	assert.Equal(t, units.Dimensionless, curve.Unit)
}

func TestNormalize_Bands(t *testing.T) {
	num := []QGroup{{Label: -1, M: testQMatrix(t, [][]float64{{6, 8}, {10, 12}}, false)}}
	denom := []QGroup{{Label: -1, M: testQMatrix(t, [][]float64{{2, 4}, {2, 4}}, false)}}
	bands := BandSet{{4, 5}, {5, 6}}

	out, err := normalize(num, denom, bands)
	require.NoError(t, err)
	require.Len(t, out.Groups, 1)
	require.Len(t, out.Groups[0].Curves, 2)

	assert.Equal(t, []float64{3, 2}, out.Groups[0].Curves[0].Values)
	assert.Equal(t, []float64{5, 3}, out.Groups[0].Curves[1].Values)

	// A multi-band result has no single curve.
	_, err = out.Curve()
	assert.ErrorContains(t, err, "expected a single curve")
}

func TestNormalize_Errors(t *testing.T) {
	m := testQMatrix(t, [][]float64{{6, 8}}, false)

	t.Run("group count mismatch", func(t *testing.T) {
		_, err := normalize([]QGroup{{Label: -1, M: m}}, nil, BandSet{{4, 6}})
		assert.ErrorContains(t, err, "numerator groups")
	})

	t.Run("label mismatch", func(t *testing.T) {
		_, err := normalize([]QGroup{{Label: 0, M: m}}, []QGroup{{Label: 1, M: m}}, BandSet{{4, 6}})
		assert.ErrorContains(t, err, "label mismatch")
	})

	t.Run("empty band", func(t *testing.T) {
		_, err := normalize([]QGroup{{Label: -1, M: m}}, []QGroup{{Label: -1, M: m}}, BandSet{{8, 9}})
		assert.ErrorContains(t, err, "selects no bins")
	})
}

func TestSubtractIofQ(t *testing.T) {
	mk := func(values []float64) *IofQ {
		s, err := hist.New("Q", hist.Linspace(0, 0.1, len(values)+1), values,
			units.InvAngstrom, units.Dimensionless)
		require.NoError(t, err)
		return &IofQ{
			Bands:  BandSet{{4, 6}},
			Groups: []IofQGroup{{Label: -1, Curves: []*hist.Spectrum{s}}},
		}
	}
	out, err := subtractIofQ(mk([]float64{5, 7}), mk([]float64{1, 2}))
	require.NoError(t, err)

	curve, err := out.Curve()
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5}, curve.Values)
}

func TestSubtractIofQ_ShapeMismatch(t *testing.T) {
	a := &IofQ{Bands: BandSet{{4, 6}}, Groups: []IofQGroup{{Label: -1}}}
	b := &IofQ{Bands: BandSet{{4, 5}, {5, 6}}, Groups: []IofQGroup{{Label: -1}}}
	_, err := subtractIofQ(a, b)
	assert.ErrorContains(t, err, "shape mismatch")
}

func TestQMatrixScaleRowAndDropVariances(t *testing.T) {
	m := testQMatrix(t, [][]float64{{2, 4}, {6, 8}}, true)

	m.ScaleRow(0, 0.5)
	assert.Equal(t, []float64{1, 2}, m.Values[0])
	assert.Equal(t, []float64{0.5, 1}, m.Variances[0])
	assert.Equal(t, []float64{6, 8}, m.Values[1])

	stripped := m.DropVariances()
	assert.Nil(t, stripped.Variances)
	assert.Equal(t, m.Values, stripped.Values)
}
