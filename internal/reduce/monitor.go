package reduce

import (
	"fmt"

	"github.com/neutronik/sansred/internal/hist"
)

// preprocessMonitor rebins a wavelength monitor to the requested binning and
// subtracts a flat background level estimated from the region outside
// nonBackgroundRange. With a nil range no background is subtracted.
func preprocessMonitor(m *Monitor, wavelengthBins []float64, nonBackgroundRange *[2]float64, mode hist.Mode) (*hist.Spectrum, error) {
	s := m.Spec
	if s.Dim != "wavelength" {
		return nil, fmt.Errorf("monitor has dim %q, expected wavelength", s.Dim)
	}

	var background *hist.Value
	if nonBackgroundRange != nil {
		lo, hi := nonBackgroundRange[0], nonBackgroundRange[1]
		if hi <= lo {
			return nil, fmt.Errorf("invalid non-background range [%v, %v]", lo, hi)
		}
		bg, err := meanOutsideRange(s, lo, hi)
		if err != nil {
			return nil, err
		}
		background = &bg
	}

	out, err := s.Rebin(wavelengthBins)
	if err != nil {
		return nil, fmt.Errorf("rebinning monitor: %w", err)
	}
	if background != nil {
		out, err = out.SubValue(*background, mode)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// meanOutsideRange returns the mean bin content of s over the bins fully
// outside [lo, hi].
func meanOutsideRange(s *hist.Spectrum, lo, hi float64) (hist.Value, error) {
	out := hist.Value{Unit: s.Unit}
	n := 0
	for i := range s.Values {
		if s.Edges[i] >= lo && s.Edges[i+1] <= hi {
			continue
		}
		out.V += s.Values[i]
		if s.Variances != nil {
			out.Var += s.Variances[i]
		}
		n++
	}
	if n == 0 {
		return out, fmt.Errorf("non-background range [%v, %v] leaves no background bins", lo, hi)
	}
	out.V /= float64(n)
	out.Var /= float64(n) * float64(n)
	return out, nil
}

// transmissionFraction computes the wavelength-dependent transmission
// fraction from the four monitor spectra:
//
//	(sampleTransmission / directTransmission) * (directIncident / sampleIncident)
//
// following the Mantid CalculateTransmission approximation without fitting.
func transmissionFraction(sampleIncident, sampleTransmission, directIncident, directTransmission *hist.Spectrum) (*hist.Spectrum, error) {
	a, err := hist.Div(sampleTransmission, directTransmission)
	if err != nil {
		return nil, fmt.Errorf("transmission fraction: %w", err)
	}
	b, err := hist.Div(directIncident, sampleIncident)
	if err != nil {
		return nil, fmt.Errorf("transmission fraction: %w", err)
	}
	frac, err := hist.Mul(a, b)
	if err != nil {
		return nil, fmt.Errorf("transmission fraction: %w", err)
	}
	return frac, nil
}
