// Package beamcenter locates the beam center of an isotropic scattering
// pattern, first by a counts-weighted center of mass and then, optionally,
// by minimizing the spread between I(Q) computed in four detector quadrants.
package beamcenter

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neutronik/sansred/internal/ctxlog"
	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/pipeline"
	"github.com/neutronik/sansred/internal/reduce"
)

// Options controls the quadrant refinement.
type Options struct {
	// QBins is the Q binning used for the quadrant I(Q) curves. Coarser
	// bins than the final reduction are usually sufficient.
	QBins []float64
	// Tolerance is the termination tolerance of the minimizer. Zero means
	// the default of 0.1.
	Tolerance float64
	// MaxIterations caps the minimizer. Zero means the default of 50.
	MaxIterations int
}

type extrema struct {
	xmin, xmax, ymin, ymax float64
}

func xyExtrema(pos []r3.Vec, keep []bool) extrema {
	e := extrema{xmin: math.Inf(1), xmax: math.Inf(-1), ymin: math.Inf(1), ymax: math.Inf(-1)}
	for i, p := range pos {
		if !keep[i] {
			continue
		}
		e.xmin = math.Min(e.xmin, p.X)
		e.xmax = math.Max(e.xmax, p.X)
		e.ymin = math.Min(e.ymin, p.Y)
		e.ymax = math.Max(e.ymax, p.Y)
	}
	return e
}

func (e extrema) touches(o extrema) bool {
	return e.xmin == o.xmin || e.xmax == o.xmax || e.ymin == o.ymin || e.ymax == o.ymax
}

// CenterOfMass estimates the beam center as the counts-weighted mean of the
// pixel positions, projected onto the plane normal to the incident beam.
//
// Pixels with low counts are excluded: they tend to sit in asymmetric border
// regions of the panel and would bias the result. The cutoff starts at a
// tenth of the mean counts and doubles until no pixel at the X/Y extremes of
// the panel survives.
func CenterOfMass(d *reduce.DetectorData) (r3.Vec, error) {
	if d.NPixels() == 0 {
		return r3.Vec{}, fmt.Errorf("center of mass: no pixels")
	}
	values, _ := d.SummedCounts()

	unmasked := make([]bool, d.NPixels())
	var sum float64
	var n int
	for i := range unmasked {
		if d.MaskedOut(i) {
			continue
		}
		unmasked[i] = true
		sum += values[i]
		n++
	}
	if n == 0 {
		return r3.Vec{}, fmt.Errorf("center of mass: all pixels masked")
	}

	panelEdge := xyExtrema(d.Positions, unmasked)
	cutoff := 0.1 * sum / float64(n)
	keep := make([]bool, d.NPixels())
	for {
		any := false
		for i := range keep {
			keep[i] = unmasked[i] && values[i] >= cutoff
			any = any || keep[i]
		}
		if !any {
			return r3.Vec{}, fmt.Errorf("center of mass: cutoff %g left no pixels", cutoff)
		}
		if !xyExtrema(d.Positions, keep).touches(panelEdge) {
			break
		}
		cutoff *= 2
	}

	var com r3.Vec
	var weight float64
	for i, p := range d.Positions {
		if !keep[i] {
			continue
		}
		com = r3.Add(com, r3.Scale(values[i], p))
		weight += values[i]
	}
	com = r3.Scale(1/weight, com)

	frame := reduce.NewFrame(d.SourcePos, d.SamplePos)
	shift := r3.Sub(com, r3.Scale(r3.Dot(com, frame.Beam), frame.Beam))
	return offsetsToVector(frame, r3.Dot(shift, frame.X), r3.Dot(shift, frame.Y)), nil
}

// offsetsToVector converts x,y offsets in the plane normal to the beam into
// an absolute position vector.
func offsetsToVector(frame reduce.Frame, x, y float64) r3.Vec {
	return r3.Add(r3.Scale(x, frame.X), r3.Scale(y, frame.Y))
}

// FromIofQ finds the beam center by minimizing the difference between the
// I(Q) curves computed in four phi quadrants around the candidate center.
//
// The sample's masked detector data and normalization term are taken from
// base, which is left untouched. The center-of-mass estimate seeds the
// minimizer. The direct beam term is deliberately excluded from the quadrant
// normalization: it only becomes available once the beam center is known,
// and it shifts all quadrants alike.
func FromIofQ(ctx context.Context, base *pipeline.Pipeline, opts Options) (r3.Vec, error) {
	log := ctxlog.FromContext(ctx)
	if len(opts.QBins) < 2 {
		return r3.Vec{}, fmt.Errorf("beam center finder: need at least 2 Q bin edges")
	}
	tolerance := opts.Tolerance
	if tolerance == 0 {
		tolerance = 0.1
	}
	maxIter := opts.MaxIterations
	if maxIter == 0 {
		maxIter = 50
	}

	raw, err := base.Compute(ctx, reduce.KeyMaskedData.For(reduce.SampleRun))
	if err != nil {
		return r3.Vec{}, err
	}
	data := raw.(*reduce.DetectorData)
	raw, err = base.Compute(ctx, reduce.KeyNormWavelengthTerm.For(reduce.SampleRun))
	if err != nil {
		return r3.Vec{}, err
	}
	norm := raw.(*hist.Spectrum)

	com, err := CenterOfMass(data)
	if err != nil {
		return r3.Vec{}, err
	}
	log.Info("beam center initial guess from center of mass", "x", com.X, "y", com.Y)

	frame := reduce.NewFrame(data.SourcePos, data.SamplePos)
	bounds := cylindricalBounds(frame, data.SamplePos, data.Positions)

	pl := base.Copy()
	pl.SetParam(reduce.KeyNormWavelengthTerm.For(reduce.SampleRun), norm)
	pl.SetParam(reduce.KeyQBins, opts.QBins)
	pl.SetParam(reduce.KeyDirectBeam, (*hist.Spectrum)(nil))
	pl.SetParam(reduce.KeyWavelengthBands, nil)
	pl.SetParam(reduce.KeyDimsToKeep, []string(nil))
	pl.SetParam(reduce.KeyUncertaintyMode, hist.ModeUpperBound)

	cost := func(xy []float64) float64 {
		if xy[0] < bounds[0].xmin || xy[0] > bounds[0].xmax ||
			xy[1] < bounds[1].xmin || xy[1] > bounds[1].xmax {
			return math.Inf(1)
		}
		c, err := quadrantCost(ctx, pl, frame, data, xy[0], xy[1])
		if err != nil {
			log.Warn("beam center cost evaluation failed", "error", err)
			return math.Inf(1)
		}
		if math.IsInf(c, 0) {
			log.Info("non-finite cost, likely a division by zero; " +
				"consider restricting the Q range or coarsening the Q bins")
		}
		log.Info("beam center finder step", "x", xy[0], "y", xy[1], "cost", c)
		return c
	}

	problem := optimize.Problem{Func: cost}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{Absolute: tolerance, Iterations: maxIter},
	}
	result, err := optimize.Minimize(problem, []float64{r3.Dot(com, frame.X), r3.Dot(com, frame.Y)}, settings, &optimize.NelderMead{})
	if err != nil {
		return r3.Vec{}, fmt.Errorf("beam center finder: %w", err)
	}
	center := offsetsToVector(frame, result.X[0], result.X[1])
	log.Info("beam center found", "x", center.X, "y", center.Y, "cost", result.F)
	return center, nil
}

// cylindricalBounds returns the [x, y] search bounds spanned by the pixel
// positions in the plane normal to the beam.
func cylindricalBounds(frame reduce.Frame, samplePos r3.Vec, pos []r3.Vec) [2]extrema {
	var b [2]extrema
	b[0] = extrema{xmin: math.Inf(1), xmax: math.Inf(-1)}
	b[1] = extrema{xmin: math.Inf(1), xmax: math.Inf(-1)}
	for _, p := range pos {
		x, y := frame.Cylindrical(r3.Sub(p, samplePos))
		b[0].xmin = math.Min(b[0].xmin, x)
		b[0].xmax = math.Max(b[0].xmax, x)
		b[1].xmin = math.Min(b[1].xmin, y)
		b[1].xmax = math.Max(b[1].xmax, y)
	}
	return b
}

// quadrantCost runs the I(Q) reduction in four phi quadrants around the
// candidate center and scores how far the curves are from their mean:
//
//	cost = sum_Q mean(I) * (I_i - mean(I))^2 / sum_Q mean(I)
//
// The intensity-weighted residual discounts noisy low-statistics regions.
func quadrantCost(ctx context.Context, pl *pipeline.Pipeline, frame reduce.Frame, data *reduce.DetectorData, x, y float64) (float64, error) {
	center := offsetsToVector(frame, x, y)
	pl.SetParam(reduce.KeyBeamCenter, center)

	// Quadrant membership uses phi around the candidate center.
	phi := make([]float64, data.NPixels())
	for i, p := range data.Positions {
		phi[i] = frame.Phi(r3.Sub(r3.Sub(p, data.SamplePos), center))
	}

	curves := make([]*hist.Spectrum, 0, 4)
	for q := 0; q < 4; q++ {
		lo := -math.Pi + float64(q)*math.Pi/2
		hi := lo + math.Pi/2
		keep := make([]bool, data.NPixels())
		for i := range keep {
			keep[i] = phi[i] >= lo && phi[i] < hi
		}
		quadrant := selectPixels(data, keep)
		if quadrant.NPixels() == 0 {
			return 0, fmt.Errorf("quadrant %d holds no pixels", q)
		}
		pl.SetParam(reduce.KeyMaskedData.For(reduce.SampleRun), quadrant)
		raw, err := pl.Compute(ctx, reduce.KeyIofQ.For(reduce.SampleRun))
		if err != nil {
			return 0, err
		}
		curve, err := raw.(*reduce.IofQ).Curve()
		if err != nil {
			return 0, err
		}
		curves = append(curves, curve)
	}

	nq := curves[0].NBins()
	var num, den float64
	for j := 0; j < nq; j++ {
		var ref float64
		for _, c := range curves {
			ref += c.Values[j]
		}
		ref /= float64(len(curves))
		// Q bins with no counts in some quadrant divide zero by zero;
		// they carry no information about the center.
		if !isFinite(ref) {
			continue
		}
		for _, c := range curves {
			d := c.Values[j] - ref
			num += ref * d * d
		}
		den += ref
	}
	cost := num / den
	if !isFinite(cost) {
		return math.Inf(1), nil
	}
	return cost, nil
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// selectPixels returns a copy of d restricted to the pixels where keep is
// true. Per-pixel masks are carried over, bin masks are shared.
func selectPixels(d *reduce.DetectorData, keep []bool) *reduce.DetectorData {
	out := d.ShallowClone()
	out.IDs = nil
	out.Positions = nil
	out.Layer = nil
	out.Counts = nil
	out.Variances = nil
	out.Masks = make(map[string][]bool, len(d.Masks))
	for i := range keep {
		if !keep[i] {
			continue
		}
		out.IDs = append(out.IDs, d.IDs[i])
		out.Positions = append(out.Positions, d.Positions[i])
		if d.Layer != nil {
			out.Layer = append(out.Layer, d.Layer[i])
		}
		out.Counts = append(out.Counts, d.Counts[i])
		if d.Variances != nil {
			out.Variances = append(out.Variances, d.Variances[i])
		}
	}
	for name, m := range d.Masks {
		sel := make([]bool, 0, out.NPixels())
		for i := range keep {
			if keep[i] {
				sel = append(sel, m[i])
			}
		}
		out.Masks[name] = sel
	}
	return out
}
