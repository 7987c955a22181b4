package reduce

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/units"
)

// DetectorData holds per-pixel binned counts together with the beamline
// geometry needed to reduce them. Dim names the shared bin coordinate,
// either "tof" (as loaded) or "wavelength" (after conversion); for the I(Q)
// denominator the "counts" are normalization weights instead.
type DetectorData struct {
	IDs       []int64
	Positions []r3.Vec
	Layer     []int // optional layer index per pixel; nil when single-layer

	SamplePos r3.Vec
	SourcePos r3.Vec

	// Cylindrical pixel shape, for the solid-angle approximation.
	PixelRadius float64
	PixelLength float64
	PixelAxis   r3.Vec

	Dim       string
	Edges     []float64
	EdgeUnit  units.Unit
	Counts    [][]float64 // [pixel][bin]
	Variances [][]float64 // nil, or same shape as Counts
	Unit      units.Unit

	Masks    map[string][]bool // named pixel masks
	BinMasks map[string][]bool // named per-bin masks, e.g. wavelength ranges
}

// NPixels returns the number of detector pixels.
func (d *DetectorData) NPixels() int { return len(d.Positions) }

// NBins returns the number of bins per pixel.
func (d *DetectorData) NBins() int { return len(d.Edges) - 1 }

// Validate checks shape invariants.
func (d *DetectorData) Validate() error {
	n := d.NPixels()
	if len(d.IDs) != n {
		return fmt.Errorf("detector data: %d ids for %d pixels", len(d.IDs), n)
	}
	if len(d.Counts) != n {
		return fmt.Errorf("detector data: %d count rows for %d pixels", len(d.Counts), n)
	}
	if d.Layer != nil && len(d.Layer) != n {
		return fmt.Errorf("detector data: %d layer entries for %d pixels", len(d.Layer), n)
	}
	for i, row := range d.Counts {
		if len(row) != d.NBins() {
			return fmt.Errorf("detector data: pixel %d has %d bins, expected %d", i, len(row), d.NBins())
		}
	}
	if d.Variances != nil && len(d.Variances) != n {
		return fmt.Errorf("detector data: %d variance rows for %d pixels", len(d.Variances), n)
	}
	for name, mask := range d.Masks {
		if len(mask) != n {
			return fmt.Errorf("detector data: mask %q has %d entries for %d pixels", name, len(mask), n)
		}
	}
	return nil
}

// ShallowClone copies the struct and the mask map, sharing the count slices.
// Providers that rewrite counts allocate fresh slices.
func (d *DetectorData) ShallowClone() *DetectorData {
	out := *d
	out.Masks = make(map[string][]bool, len(d.Masks))
	for name, mask := range d.Masks {
		out.Masks[name] = mask
	}
	out.BinMasks = make(map[string][]bool, len(d.BinMasks))
	for name, mask := range d.BinMasks {
		out.BinMasks[name] = mask
	}
	return &out
}

// MaskedOut reports whether pixel i is excluded by any mask.
func (d *DetectorData) MaskedOut(i int) bool {
	for _, mask := range d.Masks {
		if mask[i] {
			return true
		}
	}
	return false
}

// BinMaskedOut reports whether bin j is excluded by any per-bin mask.
func (d *DetectorData) BinMaskedOut(j int) bool {
	for _, mask := range d.BinMasks {
		if mask[j] {
			return true
		}
	}
	return false
}

// SummedCounts integrates each pixel over all bins.
func (d *DetectorData) SummedCounts() ([]float64, []float64) {
	values := make([]float64, d.NPixels())
	var variances []float64
	if d.Variances != nil {
		variances = make([]float64, d.NPixels())
	}
	for i, row := range d.Counts {
		for j, v := range row {
			values[i] += v
			if variances != nil {
				variances[i] += d.Variances[i][j]
			}
		}
	}
	return values, variances
}

// LayerLabels returns the sorted distinct layer labels, or nil when the data
// carries no layer dimension.
func (d *DetectorData) LayerLabels() []int {
	if d.Layer == nil {
		return nil
	}
	seen := make(map[int]bool)
	var labels []int
	for _, l := range d.Layer {
		if !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	for i := 1; i < len(labels); i++ {
		for j := i; j > 0 && labels[j] < labels[j-1]; j-- {
			labels[j], labels[j-1] = labels[j-1], labels[j]
		}
	}
	return labels
}

// Monitor is a beam monitor histogram together with its flight-path length
// from the source.
type Monitor struct {
	Distance float64 // m
	Spec     *hist.Spectrum
}
