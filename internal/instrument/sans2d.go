package instrument

import (
	"context"

	"github.com/neutronik/sansred/internal/pipeline"
	"github.com/neutronik/sansred/internal/reduce"
)

// SANS2D panel geometry cutoffs, determined by hand on the uncalibrated
// detector positions.
const (
	sans2dEdgeX = 0.48
	sans2dEdgeY = 0.45

	sans2dHolderXMin = 0.0
	sans2dHolderXMax = 0.42
	sans2dHolderYMin = -0.15
	sans2dHolderYMax = 0.05

	// Pixels in the holder region below this count fraction of the panel
	// mean are considered shadowed.
	sans2dLowCountFraction = 0.05
)

// sans2dCustomize replaces the generic masking step with one that also
// masks the detector edges and the sample holder shadow.
func sans2dCustomize(r *pipeline.Registry) {
	for _, run := range reduce.ScatteringRuns {
		run := run
		r.Replace(&pipeline.Provider{
			Key:  reduce.KeyMaskedData.For(run),
			Deps: []pipeline.Key{reduce.KeyTofData.For(run), reduce.KeyPixelMasks},
			Fn: func(_ context.Context, args []any) (any, error) {
				masks, _ := args[1].(map[string][]int64)
				d := reduce.ApplyPixelMasks(args[0].(*reduce.DetectorData), masks)
				return sans2dGeometryMasks(d), nil
			},
		})
	}
}

// sans2dGeometryMasks adds the edge and holder masks to a copy of d. The
// masks use the raw pixel positions, before any beam center calibration.
func sans2dGeometryMasks(d *reduce.DetectorData) *reduce.DetectorData {
	out := d.ShallowClone()

	edges := make([]bool, d.NPixels())
	for i, p := range d.Positions {
		x, y := p.X-d.SamplePos.X, p.Y-d.SamplePos.Y
		edges[i] = x < -sans2dEdgeX || x > sans2dEdgeX || y < -sans2dEdgeY || y > sans2dEdgeY
	}
	out.Masks["edges"] = edges

	values, _ := d.SummedCounts()
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	threshold := sans2dLowCountFraction * mean

	holder := make([]bool, d.NPixels())
	for i, p := range d.Positions {
		x, y := p.X-d.SamplePos.X, p.Y-d.SamplePos.Y
		holder[i] = values[i] < threshold &&
			x > sans2dHolderXMin && x < sans2dHolderXMax &&
			y > sans2dHolderYMin && y < sans2dHolderYMax
	}
	out.Masks["holder_mask"] = holder
	return out
}
