package reduce

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/units"
)

// solidAngle approximates the solid angle of each cylindrical detector pixel
// as seen from the sample position. The approximation treats the cylinder as
// a rectangular element of area 2*R*L whose normal is orthogonal to the
// cylinder axis and maximally parallel to the pixel position vector:
//
//	omega = 2*R*L * sqrt(1 - (r_hat . c_hat)^2) / |r|^2
//
// valid when the sample-pixel distance is large compared to R and L. Masked
// pixels keep their value; masks are applied downstream.
func solidAngle(d *DetectorData) (*hist.Spectrum, error) {
	if d.PixelRadius <= 0 || d.PixelLength <= 0 {
		return nil, fmt.Errorf("invalid pixel shape: radius=%v length=%v", d.PixelRadius, d.PixelLength)
	}
	axis := r3.Unit(d.PixelAxis)
	area := 2 * d.PixelRadius * d.PixelLength
	values := make([]float64, d.NPixels())
	for i, pos := range d.Positions {
		r := r3.Sub(pos, d.SamplePos)
		norm := r3.Norm(r)
		cosAxis := r3.Dot(r3.Unit(r), axis)
		cosAlpha := math.Sqrt(1 - cosAxis*cosAxis)
		values[i] = area * cosAlpha / (norm * norm)
	}
	// Pixel index plays the role of the coordinate here; the edges are just
	// 0..n so the spectrum shape invariants hold.
	edges := make([]float64, d.NPixels()+1)
	for i := range edges {
		edges[i] = float64(i)
	}
	return hist.New("pixel", edges, values, units.Dimensionless, units.Steradian)
}

// normWavelengthTerm computes the wavelength-dependent factor of the I(Q)
// denominator: incidentMonitor * transmissionFraction * directBeam. A nil
// direct beam is treated as flat.
func normWavelengthTerm(incident, transmission, directBeam *hist.Spectrum) (*hist.Spectrum, error) {
	out, err := hist.Mul(incident, transmission)
	if err != nil {
		return nil, fmt.Errorf("norm wavelength term: %w", err)
	}
	if directBeam != nil {
		out, err = hist.Mul(directBeam, out)
		if err != nil {
			return nil, fmt.Errorf("norm wavelength term: %w", err)
		}
	}
	return out, nil
}

// denominatorData expands the wavelength term onto the detector shape,
// multiplying each pixel's solid angle with the per-bin wavelength term.
// This is the broadcast that motivates the uncertainty modes: the
// wavelength-term variances are dropped or upper-bound scaled by the pixel
// count before the product.
func denominatorData(d *DetectorData, omega *hist.Spectrum, wavelengthTerm *hist.Spectrum, mode hist.Mode) (*DetectorData, error) {
	if omega.NBins() != d.NPixels() {
		return nil, fmt.Errorf("solid angle has %d pixels, detector has %d", omega.NBins(), d.NPixels())
	}
	if wavelengthTerm.NBins() != d.NBins() {
		return nil, fmt.Errorf("wavelength term has %d bins, detector has %d", wavelengthTerm.NBins(), d.NBins())
	}
	term := hist.BroadcastVariances(wavelengthTerm, d.NPixels(), mode)

	out := d.ShallowClone()
	out.Unit = units.Mul(omega.Unit, term.Unit)
	out.Counts = make([][]float64, d.NPixels())
	hasVar := term.Variances != nil || omega.Variances != nil
	if hasVar {
		out.Variances = make([][]float64, d.NPixels())
	} else {
		out.Variances = nil
	}
	for i := 0; i < d.NPixels(); i++ {
		row := make([]float64, d.NBins())
		var vrow []float64
		if hasVar {
			vrow = make([]float64, d.NBins())
		}
		o := omega.Values[i]
		var vo float64
		if omega.Variances != nil {
			vo = omega.Variances[i]
		}
		for j := 0; j < d.NBins(); j++ {
			w := term.Values[j]
			row[j] = o * w
			if hasVar {
				var vw float64
				if term.Variances != nil {
					vw = term.Variances[j]
				}
				vrow[j] = vo*w*w + vw*o*o
			}
		}
		out.Counts[i] = row
		if hasVar {
			out.Variances[i] = vrow
		}
	}
	return out, nil
}

// BandSet is the processed form of the wavelength-band parameter: one
// [start, end] window per band.
type BandSet [][2]float64

// processWavelengthBands validates and normalizes the wavelength-band
// parameter. A nil band set collapses to a single band spanning the full
// wavelength range. A one-dimensional set of edges becomes contiguous
// [start, end] windows.
func processWavelengthBands(bands any, wavelengthBins []float64) (BandSet, error) {
	switch b := bands.(type) {
	case nil:
		return BandSet{{wavelengthBins[0], wavelengthBins[len(wavelengthBins)-1]}}, nil
	case []float64:
		if len(b) < 2 {
			return nil, fmt.Errorf("wavelength bands need at least 2 edges, got %d", len(b))
		}
		out := make(BandSet, len(b)-1)
		for i := range out {
			out[i] = [2]float64{b[i], b[i+1]}
		}
		return out, nil
	case BandSet:
		for i, band := range b {
			if band[1] <= band[0] {
				return nil, fmt.Errorf("wavelength band %d has non-positive width [%v, %v]", i, band[0], band[1])
			}
		}
		return b, nil
	default:
		return nil, fmt.Errorf("wavelength bands must be edges or band windows, got %T", bands)
	}
}

// FullRange returns the [min, max] window covered by the band set.
func (b BandSet) FullRange() [2]float64 {
	out := b[0]
	for _, band := range b[1:] {
		out[0] = min(out[0], band[0])
		out[1] = max(out[1], band[1])
	}
	return out
}
