package reduce

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/units"
)

// QMatrix holds per-pixel contributions summed into (wavelength, Q) bins.
// Keeping the wavelength dimension until normalization allows slicing the
// same matrix into arbitrary wavelength bands.
type QMatrix struct {
	QEdges    []float64 // 1/angstrom
	WavEdges  []float64 // angstrom
	Values    [][]float64 // [wavelength][Q]
	Variances [][]float64 // nil, or same shape
	Unit      units.Unit
}

// NewQMatrix allocates a zeroed matrix over the given binnings.
func NewQMatrix(wavEdges, qEdges []float64, withVariances bool, unit units.Unit) *QMatrix {
	m := &QMatrix{
		QEdges:   append([]float64(nil), qEdges...),
		WavEdges: append([]float64(nil), wavEdges...),
		Values:   make([][]float64, len(wavEdges)-1),
		Unit:     unit,
	}
	if withVariances {
		m.Variances = make([][]float64, len(wavEdges)-1)
	}
	for i := range m.Values {
		m.Values[i] = make([]float64, len(qEdges)-1)
		if withVariances {
			m.Variances[i] = make([]float64, len(qEdges)-1)
		}
	}
	return m
}

// ScaleRow multiplies an entire wavelength row by the plain factor f.
func (m *QMatrix) ScaleRow(row int, f float64) {
	for j := range m.Values[row] {
		m.Values[row][j] *= f
		if m.Variances != nil {
			m.Variances[row][j] *= f * f
		}
	}
}

// DropVariances returns a copy of m without variances.
func (m *QMatrix) DropVariances() *QMatrix {
	out := NewQMatrix(m.WavEdges, m.QEdges, false, m.Unit)
	for i := range m.Values {
		copy(out.Values[i], m.Values[i])
	}
	return out
}

// Clone returns a deep copy.
func (m *QMatrix) Clone() *QMatrix {
	out := NewQMatrix(m.WavEdges, m.QEdges, m.Variances != nil, m.Unit)
	for i := range m.Values {
		copy(out.Values[i], m.Values[i])
		if m.Variances != nil {
			copy(out.Variances[i], m.Variances[i])
		}
	}
	return out
}

// QGroup is a QMatrix for one kept detector group (typically a layer).
// Label is -1 when the detector is reduced as a whole.
type QGroup struct {
	Label int
	M     *QMatrix
}

// binInQ converts wavelength-binned detector data to Q and sums all pixels
// into (wavelength, Q) bins, one matrix per kept group. Masked pixels and
// masked wavelength bins are excluded. With gravity correction the
// scattering angle is computed per wavelength bin.
func binInQ(d *DetectorData, qBins []float64, correctGravity, keepLayers bool) ([]QGroup, error) {
	if d.Dim != "wavelength" {
		return nil, fmt.Errorf("bin in q: detector data has dim %q, expected wavelength", d.Dim)
	}
	frame := NewFrame(d.SourcePos, d.SamplePos)
	mids := hist.Midpoints(d.Edges)

	groupIndex := map[int]int{-1: 0}
	labels := []int{-1}
	if keepLayers && d.Layer != nil {
		labels = d.LayerLabels()
		groupIndex = make(map[int]int, len(labels))
		for i, l := range labels {
			groupIndex[l] = i
		}
	}
	out := make([]QGroup, len(labels))
	for i, l := range labels {
		out[i] = QGroup{Label: l, M: NewQMatrix(d.Edges, qBins, d.Variances != nil, d.Unit)}
	}

	for i := 0; i < d.NPixels(); i++ {
		if d.MaskedOut(i) {
			continue
		}
		g := 0
		if keepLayers && d.Layer != nil {
			g = groupIndex[d.Layer[i]]
		}
		m := out[g].M
		scattered := r3.Sub(d.Positions[i], d.SamplePos)
		for j := 0; j < d.NBins(); j++ {
			if d.BinMaskedOut(j) {
				continue
			}
			twoTheta := frame.TwoTheta(scattered, mids[j], correctGravity)
			q := QFromAngle(twoTheta, mids[j])
			var variance float64
			if d.Variances != nil {
				variance = d.Variances[i][j]
			}
			var vrow []float64
			if m.Variances != nil {
				vrow = m.Variances[j]
			}
			hist.FillInto(q, d.Counts[i][j], variance, m.QEdges, m.Values[j], vrow)
		}
	}
	return out, nil
}

// IofQGroup is the reduced intensity for one kept detector group: one curve
// per wavelength band.
type IofQGroup struct {
	Label  int
	Curves []*hist.Spectrum
}

// IofQ is the normalized scattering intensity, possibly resolved by
// wavelength band and detector group.
type IofQ struct {
	Bands  BandSet
	Groups []IofQGroup
}

// Curve returns the single curve of an unbanded, ungrouped result.
func (i *IofQ) Curve() (*hist.Spectrum, error) {
	if len(i.Groups) != 1 || len(i.Groups[0].Curves) != 1 {
		return nil, fmt.Errorf("result has %d groups x %d bands, expected a single curve",
			len(i.Groups), len(i.Bands))
	}
	return i.Groups[0].Curves[0], nil
}

// bandRows returns the wavelength-row indices whose midpoints fall inside
// the band window.
func bandRows(wavEdges []float64, band [2]float64) []int {
	var rows []int
	for i := 0; i < len(wavEdges)-1; i++ {
		mid := 0.5 * (wavEdges[i] + wavEdges[i+1])
		if mid >= band[0] && mid < band[1] {
			rows = append(rows, i)
		}
	}
	return rows
}

// sumBand reduces the selected wavelength rows of a matrix to a Q spectrum.
func sumBand(m *QMatrix, rows []int) *hist.Spectrum {
	out := &hist.Spectrum{
		Dim:      "Q",
		Edges:    append([]float64(nil), m.QEdges...),
		EdgeUnit: units.InvAngstrom,
		Values:   make([]float64, len(m.QEdges)-1),
		Unit:     m.Unit,
	}
	if m.Variances != nil {
		out.Variances = make([]float64, len(m.QEdges)-1)
	}
	for _, r := range rows {
		for j, v := range m.Values[r] {
			out.Values[j] += v
			if out.Variances != nil {
				out.Variances[j] += m.Variances[r][j]
			}
		}
	}
	return out
}

// normalize divides the summed numerator by the summed denominator inside
// each wavelength band, for each kept group.
func normalize(num, denom []QGroup, bands BandSet) (*IofQ, error) {
	if len(num) != len(denom) {
		return nil, fmt.Errorf("normalize: %d numerator groups vs %d denominator groups", len(num), len(denom))
	}
	out := &IofQ{Bands: bands, Groups: make([]IofQGroup, len(num))}
	for g := range num {
		if num[g].Label != denom[g].Label {
			return nil, fmt.Errorf("normalize: group label mismatch %d vs %d", num[g].Label, denom[g].Label)
		}
		group := IofQGroup{Label: num[g].Label, Curves: make([]*hist.Spectrum, len(bands))}
		for b, band := range bands {
			rows := bandRows(num[g].M.WavEdges, band)
			if len(rows) == 0 {
				return nil, fmt.Errorf("normalize: wavelength band [%v, %v] selects no bins", band[0], band[1])
			}
			n := sumBand(num[g].M, rows)
			d := sumBand(denom[g].M, rows)
			curve, err := hist.Div(n, d)
			if err != nil {
				return nil, fmt.Errorf("normalize: %w", err)
			}
			group.Curves[b] = curve
		}
		out.Groups[g] = group
	}
	return out, nil
}

// subtractIofQ subtracts the background intensity from the sample intensity
// pointwise. Both must have been computed with identical Q binning, bands
// and groups.
func subtractIofQ(sample, background *IofQ) (*IofQ, error) {
	if len(sample.Groups) != len(background.Groups) || len(sample.Bands) != len(background.Bands) {
		return nil, fmt.Errorf("background subtraction: shape mismatch (%dx%d vs %dx%d)",
			len(sample.Groups), len(sample.Bands), len(background.Groups), len(background.Bands))
	}
	out := &IofQ{Bands: sample.Bands, Groups: make([]IofQGroup, len(sample.Groups))}
	for g := range sample.Groups {
		group := IofQGroup{Label: sample.Groups[g].Label, Curves: make([]*hist.Spectrum, len(sample.Bands))}
		for b := range sample.Groups[g].Curves {
			diff, err := hist.Sub(sample.Groups[g].Curves[b], background.Groups[g].Curves[b])
			if err != nil {
				return nil, fmt.Errorf("background subtraction: %w", err)
			}
			group.Curves[b] = diff
		}
		out.Groups[g] = group
	}
	return out, nil
}
