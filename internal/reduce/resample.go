package reduce

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/interp"

	"github.com/neutronik/sansred/internal/ctxlog"
	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/units"
)

// ResampleDirectBeam interpolates the direct beam function onto the
// requested wavelength binning when the binnings differ. Values are
// interpolated piecewise-linearly between the old bin midpoints and
// extrapolated linearly beyond them. Variances do not survive an
// interpolation and are dropped, with a warning.
func ResampleDirectBeam(ctx context.Context, directBeam *hist.Spectrum, wavelengthBins []float64) (*hist.Spectrum, error) {
	if len(directBeam.Edges) == len(wavelengthBins) {
		same := true
		for i := range wavelengthBins {
			if directBeam.Edges[i] != wavelengthBins[i] {
				same = false
				break
			}
		}
		if same {
			return directBeam, nil
		}
	}
	if directBeam.Variances != nil {
		ctxlog.FromContext(ctx).Warn("direct beam variances dropped in resampling",
			"bins", directBeam.NBins())
	}
	xs := directBeam.Midpoints()
	ys := directBeam.Values
	if len(xs) < 2 {
		return nil, fmt.Errorf("direct beam needs at least 2 bins to resample, got %d", len(xs))
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("resampling direct beam: %w", err)
	}
	n := len(xs)
	at := func(x float64) float64 {
		switch {
		case x < xs[0]:
			slope := (ys[1] - ys[0]) / (xs[1] - xs[0])
			return ys[0] + slope*(x-xs[0])
		case x > xs[n-1]:
			slope := (ys[n-1] - ys[n-2]) / (xs[n-1] - xs[n-2])
			return ys[n-1] + slope*(x-xs[n-1])
		default:
			return pl.Predict(x)
		}
	}
	out := &hist.Spectrum{
		Dim:      "wavelength",
		Edges:    append([]float64(nil), wavelengthBins...),
		EdgeUnit: units.Angstrom,
		Values:   make([]float64, len(wavelengthBins)-1),
		Unit:     directBeam.Unit,
	}
	for i, mid := range hist.Midpoints(wavelengthBins) {
		out.Values[i] = at(mid)
	}
	return out, nil
}
