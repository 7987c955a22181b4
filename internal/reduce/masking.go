package reduce

import (
	"fmt"

	"github.com/google/uuid"
)

// ApplyPixelMasks attaches named pixel masks, each given as a set of masked
// detector IDs, to the detector data.
func ApplyPixelMasks(d *DetectorData, masks map[string][]int64) *DetectorData {
	if len(masks) == 0 {
		return d
	}
	out := d.ShallowClone()
	index := make(map[int64]int, len(d.IDs))
	for i, id := range d.IDs {
		index[id] = i
	}
	for name, ids := range masks {
		mask := make([]bool, d.NPixels())
		for _, id := range ids {
			if i, ok := index[id]; ok {
				mask[i] = true
			}
		}
		out.Masks[name] = mask
	}
	return out
}

// WavelengthMask marks a set of wavelength windows whose bins are excluded
// from the reduction.
type WavelengthMask struct {
	Name   string
	Ranges [][2]float64 // angstrom
}

// maskWavelength records a per-bin mask covering the bins whose midpoint
// falls inside any masked wavelength range. Masked bins are skipped when
// summing into Q. A mask with no name gets a generated one; reusing an
// existing name is an error.
func maskWavelength(d *DetectorData, mask *WavelengthMask) (*DetectorData, error) {
	if mask == nil || len(mask.Ranges) == 0 {
		return d, nil
	}
	name := mask.Name
	if name == "" {
		name = uuid.NewString()
	}
	if _, exists := d.BinMasks[name]; exists {
		return nil, fmt.Errorf("mask %q already exists and would be overwritten", name)
	}
	masked := make([]bool, d.NBins())
	for j := 0; j < d.NBins(); j++ {
		mid := 0.5 * (d.Edges[j] + d.Edges[j+1])
		for _, r := range mask.Ranges {
			if mid >= r[0] && mid < r[1] {
				masked[j] = true
				break
			}
		}
	}
	out := d.ShallowClone()
	out.BinMasks[name] = masked
	return out, nil
}
