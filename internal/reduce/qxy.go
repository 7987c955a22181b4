package reduce

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/units"
)

// XYMatrix is a two-dimensional intensity map over (Qy, Qx) bins. Qx is the
// inner dimension so that plots naturally show Qx on the horizontal axis.
type XYMatrix struct {
	QxEdges   []float64 // 1/angstrom
	QyEdges   []float64 // 1/angstrom
	Values    [][]float64 // [Qy][Qx]
	Variances [][]float64 // nil, or same shape
	Unit      units.Unit
}

// NewXYMatrix allocates a zeroed matrix over the given binnings.
func NewXYMatrix(qxEdges, qyEdges []float64, withVariances bool, unit units.Unit) *XYMatrix {
	m := &XYMatrix{
		QxEdges: append([]float64(nil), qxEdges...),
		QyEdges: append([]float64(nil), qyEdges...),
		Values:  make([][]float64, len(qyEdges)-1),
		Unit:    unit,
	}
	if withVariances {
		m.Variances = make([][]float64, len(qyEdges)-1)
	}
	for i := range m.Values {
		m.Values[i] = make([]float64, len(qxEdges)-1)
		if withVariances {
			m.Variances[i] = make([]float64, len(qxEdges)-1)
		}
	}
	return m
}

// binInQxy converts wavelength-binned detector data to (Qx, Qy) and sums all
// pixels and wavelength bins. Qx = Q cos(phi), Qy = Q sin(phi), with phi the
// azimuthal angle about the beam.
func binInQxy(d *DetectorData, qxBins, qyBins []float64, correctGravity bool) (*XYMatrix, error) {
	if d.Dim != "wavelength" {
		return nil, fmt.Errorf("bin in qxy: detector data has dim %q, expected wavelength", d.Dim)
	}
	frame := NewFrame(d.SourcePos, d.SamplePos)
	mids := hist.Midpoints(d.Edges)
	out := NewXYMatrix(qxBins, qyBins, d.Variances != nil, d.Unit)

	nx := len(qxBins) - 1
	for i := 0; i < d.NPixels(); i++ {
		if d.MaskedOut(i) {
			continue
		}
		scattered := r3.Sub(d.Positions[i], d.SamplePos)
		phi := frame.Phi(scattered)
		cos, sin := math.Cos(phi), math.Sin(phi)
		for j := 0; j < d.NBins(); j++ {
			if d.BinMaskedOut(j) {
				continue
			}
			twoTheta := frame.TwoTheta(scattered, mids[j], correctGravity)
			q := QFromAngle(twoTheta, mids[j])
			qx, qy := q*cos, q*sin
			if qy < qyBins[0] || qy >= qyBins[len(qyBins)-1] {
				continue
			}
			row := searchBin(qyBins, qy)
			var variance float64
			if d.Variances != nil {
				variance = d.Variances[i][j]
			}
			var vrow []float64
			if out.Variances != nil {
				vrow = out.Variances[row]
			}
			if qx < qxBins[0] || qx >= qxBins[nx] {
				continue
			}
			hist.FillInto(qx, d.Counts[i][j], variance, out.QxEdges, out.Values[row], vrow)
		}
	}
	return out, nil
}

// searchBin returns the index of the bin containing x. The caller has
// already range-checked x.
func searchBin(edges []float64, x float64) int {
	lo, hi := 0, len(edges)-2
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if edges[mid] <= x {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// divideXY divides two intensity maps elementwise with variance propagation.
func divideXY(num, denom *XYMatrix) (*XYMatrix, error) {
	if err := sameXYShape(num, denom); err != nil {
		return nil, fmt.Errorf("normalize qxy: %w", err)
	}
	out := NewXYMatrix(num.QxEdges, num.QyEdges, num.Variances != nil || denom.Variances != nil,
		units.Div(num.Unit, denom.Unit))
	for i := range num.Values {
		for j := range num.Values[i] {
			x, y := num.Values[i][j], denom.Values[i][j]
			out.Values[i][j] = x / y
			if out.Variances != nil {
				var vx, vy float64
				if num.Variances != nil {
					vx = num.Variances[i][j]
				}
				if denom.Variances != nil {
					vy = denom.Variances[i][j]
				}
				out.Variances[i][j] = vx/(y*y) + vy*x*x/(y*y*y*y)
			}
		}
	}
	return out, nil
}

// subtractXY subtracts the background map from the sample map pointwise.
func subtractXY(sample, background *XYMatrix) (*XYMatrix, error) {
	if err := sameXYShape(sample, background); err != nil {
		return nil, fmt.Errorf("background subtraction qxy: %w", err)
	}
	if err := units.Same(sample.Unit, background.Unit); err != nil {
		return nil, err
	}
	out := NewXYMatrix(sample.QxEdges, sample.QyEdges,
		sample.Variances != nil || background.Variances != nil, sample.Unit)
	for i := range sample.Values {
		for j := range sample.Values[i] {
			out.Values[i][j] = sample.Values[i][j] - background.Values[i][j]
			if out.Variances != nil {
				var vx, vy float64
				if sample.Variances != nil {
					vx = sample.Variances[i][j]
				}
				if background.Variances != nil {
					vy = background.Variances[i][j]
				}
				out.Variances[i][j] = vx + vy
			}
		}
	}
	return out, nil
}

func sameXYShape(a, b *XYMatrix) error {
	if len(a.QxEdges) != len(b.QxEdges) || len(a.QyEdges) != len(b.QyEdges) {
		return fmt.Errorf("binning mismatch: %dx%d vs %dx%d bins",
			len(a.QyEdges)-1, len(a.QxEdges)-1, len(b.QyEdges)-1, len(b.QxEdges)-1)
	}
	for i := range a.QxEdges {
		if a.QxEdges[i] != b.QxEdges[i] {
			return fmt.Errorf("qx edge mismatch at index %d", i)
		}
	}
	for i := range a.QyEdges {
		if a.QyEdges[i] != b.QyEdges[i] {
			return fmt.Errorf("qy edge mismatch at index %d", i)
		}
	}
	return nil
}
