// Package directbeam computes the wavelength-dependent detector efficiency
// known as the direct beam function.
//
// The idea: I(Q) computed over the full wavelength range and I(Q) computed
// inside narrow wavelength bands must overlap if the direct beam function is
// correct. Starting from a flat function, each iteration measures by how
// much each band curve deviates from the full-range curve and corrects the
// function accordingly, then anchors the absolute scale to a reference
// intensity I0 at the lowest Q.
package directbeam

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/neutronik/sansred/internal/ctxlog"
	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/pipeline"
	"github.com/neutronik/sansred/internal/reduce"
	"github.com/neutronik/sansred/internal/units"
)

// Options controls the iteration.
type Options struct {
	// I0 is the known intensity of the reference sample at the lowest Q.
	I0 float64
	// Iterations is the number of refinement passes. Zero means the
	// default of 6.
	Iterations int
	// ConvergenceTolerance, when positive, stops early once every band
	// correction factor is within the tolerance of 1. Off by default; the
	// fixed iteration count is simple and robust.
	ConvergenceTolerance float64
}

// Iteration is a per-pass diagnostic snapshot.
type Iteration struct {
	Full       *hist.Spectrum
	Bands      []*hist.Spectrum
	DirectBeam *hist.Spectrum
}

// Compute runs the direct beam iteration against the reduction pipeline.
// The pipeline must have contiguous wavelength bands configured; base is
// left untouched. The returned slice holds one snapshot per iteration, the
// last of which carries the final direct beam function.
func Compute(ctx context.Context, base *pipeline.Pipeline, opts Options) ([]Iteration, error) {
	log := ctxlog.FromContext(ctx)
	if opts.I0 <= 0 {
		return nil, fmt.Errorf("direct beam: reference intensity I0 must be positive")
	}
	niter := opts.Iterations
	if niter == 0 {
		niter = 6
	}

	raw, err := base.Compute(ctx, reduce.KeyProcessedBands)
	if err != nil {
		return nil, err
	}
	bands := raw.(reduce.BandSet)
	bandEdges, err := contiguousEdges(bands)
	if err != nil {
		return nil, err
	}
	full := reduce.BandSet{bands.FullRange()}

	pl := base.Copy()
	pl.SetParam(reduce.KeyDirectBeam, (*hist.Spectrum)(nil))
	pl.SetParam(reduce.KeyDimsToKeep, []string(nil))

	raw, err = pl.Compute(ctx, reduce.KeyWavelengthBins)
	if err != nil {
		return nil, err
	}
	wavelengthBins := raw.([]float64)

	// The summed-Q terms are fixed throughout the iteration; pin them as
	// parameters so each pass only redoes the cheap normalization step.
	// Variances are stripped, the direct beam is computed without them.
	sample0, err := pinSummedQ(ctx, pl, reduce.SampleRun)
	if err != nil {
		return nil, err
	}
	background0, err := pinSummedQ(ctx, pl, reduce.BackgroundRun)
	if err != nil {
		return nil, err
	}

	db := flatDirectBeam(bandEdges)
	var results []Iteration
	for it := 0; it < niter; it++ {
		pl.SetParam(reduce.KeyWavelengthBands, full)
		iofqFull, err := singleGroupCurves(ctx, pl)
		if err != nil {
			return nil, err
		}
		pl.SetParam(reduce.KeyWavelengthBands, bands)
		iofqBands, err := singleGroupCurves(ctx, pl)
		if err != nil {
			return nil, err
		}
		if len(iofqBands) != db.NBins() {
			return nil, fmt.Errorf("direct beam: got %d band curves for %d bands", len(iofqBands), db.NBins())
		}

		factors, converged := efficiencyCorrection(iofqFull[0], iofqBands, opts)
		for i, f := range factors {
			db.Values[i] *= f
		}
		log.Info("direct beam iteration", "iteration", it+1, "of", niter)

		resampled, err := reduce.ResampleDirectBeam(ctx, db, wavelengthBins)
		if err != nil {
			return nil, err
		}
		pl.SetParam(reduce.KeyCleanSummedQ.For(reduce.SampleRun).WithPart(reduce.Denominator),
			scaleGroups(sample0, resampled))
		pl.SetParam(reduce.KeyCleanSummedQ.For(reduce.BackgroundRun).WithPart(reduce.Denominator),
			scaleGroups(background0, resampled))

		results = append(results, Iteration{
			Full:       iofqFull[0].Clone(),
			Bands:      cloneCurves(iofqBands),
			DirectBeam: db.Clone(),
		})
		if converged {
			log.Info("direct beam converged", "iteration", it+1)
			break
		}
	}
	return results, nil
}

// contiguousEdges turns a band set into wavelength bin edges, requiring the
// bands to tile the range without gaps or overlap.
func contiguousEdges(bands reduce.BandSet) ([]float64, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("direct beam: no wavelength bands configured")
	}
	edges := make([]float64, 0, len(bands)+1)
	edges = append(edges, bands[0][0])
	for i, b := range bands {
		if i > 0 && b[0] != edges[len(edges)-1] {
			return nil, fmt.Errorf("direct beam: wavelength bands must be contiguous")
		}
		if b[1] <= b[0] {
			return nil, fmt.Errorf("direct beam: empty wavelength band [%g, %g]", b[0], b[1])
		}
		edges = append(edges, b[1])
	}
	return edges, nil
}

func flatDirectBeam(edges []float64) *hist.Spectrum {
	values := make([]float64, len(edges)-1)
	for i := range values {
		values[i] = 1
	}
	s, _ := hist.New("wavelength", edges, values, units.Angstrom, units.Dimensionless)
	return s
}

// pinSummedQ computes the numerator and denominator summed-Q terms for one
// run, strips their variances and pins them as pipeline parameters. The
// denominator groups are returned for rescaling in later iterations.
func pinSummedQ(ctx context.Context, pl *pipeline.Pipeline, run pipeline.RunType) ([]reduce.QGroup, error) {
	var denom []reduce.QGroup
	for _, part := range []pipeline.Part{reduce.Numerator, reduce.Denominator} {
		key := reduce.KeyCleanSummedQ.For(run).WithPart(part)
		raw, err := pl.Compute(ctx, key)
		if err != nil {
			return nil, err
		}
		groups := raw.([]reduce.QGroup)
		stripped := make([]reduce.QGroup, len(groups))
		for i, g := range groups {
			stripped[i] = reduce.QGroup{Label: g.Label, M: g.M.DropVariances()}
		}
		pl.SetParam(key, stripped)
		if part == reduce.Denominator {
			denom = stripped
		}
	}
	return denom, nil
}

// singleGroupCurves computes the background-subtracted I(Q) and returns its
// per-band curves, requiring a single (ungrouped) result.
func singleGroupCurves(ctx context.Context, pl *pipeline.Pipeline) ([]*hist.Spectrum, error) {
	raw, err := pl.Compute(ctx, reduce.KeyBgSubtractedIofQ)
	if err != nil {
		return nil, err
	}
	iofq := raw.(*reduce.IofQ)
	if len(iofq.Groups) != 1 {
		return nil, fmt.Errorf("direct beam: expected ungrouped I(Q), got %d groups", len(iofq.Groups))
	}
	return iofq.Groups[0].Curves, nil
}

// efficiencyCorrection computes the per-band multiplication factor: the
// median over Q of the ratio between the band curve and the full-range
// curve, times a global scale anchoring the full-range intensity at the
// lowest Q to I0. Non-positive and non-finite band values are left out of
// the median.
func efficiencyCorrection(full *hist.Spectrum, bands []*hist.Spectrum, opts Options) ([]float64, bool) {
	scaling := full.Values[0] / opts.I0
	factors := make([]float64, len(bands))
	converged := opts.ConvergenceTolerance > 0
	for i, band := range bands {
		var ratios []float64
		for j, v := range band.Values {
			if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			r := v / full.Values[j]
			if math.IsNaN(r) || math.IsInf(r, 0) {
				continue
			}
			ratios = append(ratios, r)
		}
		med := math.NaN()
		if len(ratios) > 0 {
			sort.Float64s(ratios)
			med = stat.Quantile(0.5, stat.Empirical, ratios, nil)
		}
		factors[i] = med * scaling
		if converged && math.Abs(factors[i]-1) > opts.ConvergenceTolerance {
			converged = false
		}
	}
	return factors, converged
}

// scaleGroups multiplies each wavelength row of the denominator matrices by
// the direct beam value in that wavelength bin.
func scaleGroups(groups []reduce.QGroup, db *hist.Spectrum) []reduce.QGroup {
	out := make([]reduce.QGroup, len(groups))
	for i, g := range groups {
		m := g.M.Clone()
		for row := 0; row < db.NBins(); row++ {
			m.ScaleRow(row, db.Values[row])
		}
		out[i] = reduce.QGroup{Label: g.Label, M: m}
	}
	return out
}

func cloneCurves(curves []*hist.Spectrum) []*hist.Spectrum {
	out := make([]*hist.Spectrum, len(curves))
	for i, c := range curves {
		out[i] = c.Clone()
	}
	return out
}
