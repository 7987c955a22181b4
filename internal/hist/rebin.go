package hist

import (
	"fmt"
	"sort"
)

// Rebin redistributes counts onto a new binning, splitting each source bin
// proportionally to its overlap with the destination bins. Counts outside the
// destination range are discarded. Variances follow the same fractions.
func (s *Spectrum) Rebin(edges []float64) (*Spectrum, error) {
	out := &Spectrum{
		Dim:      s.Dim,
		Edges:    append([]float64(nil), edges...),
		EdgeUnit: s.EdgeUnit,
		Values:   make([]float64, len(edges)-1),
		Unit:     s.Unit,
	}
	if s.Variances != nil {
		out.Variances = make([]float64, len(edges)-1)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	RebinInto(s.Edges, s.Values, s.Variances, edges, out.Values, out.Variances)
	return out, nil
}

// RebinInto accumulates counts from a source binning onto destination slices.
// The destination is not cleared, so repeated calls sum contributions; this
// is what merges all detector pixels into a single Q histogram.
func RebinInto(srcEdges, srcValues, srcVars, dstEdges, dstValues, dstVars []float64) {
	nd := len(dstEdges) - 1
	for i := range srcValues {
		lo, hi := srcEdges[i], srcEdges[i+1]
		if hi <= dstEdges[0] || lo >= dstEdges[nd] {
			continue
		}
		width := hi - lo
		if width <= 0 {
			continue
		}
		// First destination bin overlapping [lo, hi).
		j := sort.SearchFloat64s(dstEdges, lo)
		if j > 0 && (j == len(dstEdges) || dstEdges[j] > lo) {
			j--
		}
		for ; j < nd && dstEdges[j] < hi; j++ {
			oLo := max(lo, dstEdges[j])
			oHi := min(hi, dstEdges[j+1])
			if oHi <= oLo {
				continue
			}
			frac := (oHi - oLo) / width
			dstValues[j] += srcValues[i] * frac
			if dstVars != nil && srcVars != nil {
				dstVars[j] += srcVars[i] * frac * frac
			}
		}
	}
}

// FillInto histograms a single value at coordinate x into the destination
// slices, as used for per-pixel Q contributions. Out-of-range values are
// dropped. Reports whether the value landed in a bin.
func FillInto(x, value, variance float64, dstEdges, dstValues, dstVars []float64) bool {
	n := len(dstEdges) - 1
	if x < dstEdges[0] || x >= dstEdges[n] {
		return false
	}
	j := sort.SearchFloat64s(dstEdges, x)
	// SearchFloat64s returns the first edge >= x; the containing bin starts
	// one edge earlier unless x sits exactly on that edge.
	if j == len(dstEdges) || dstEdges[j] > x {
		j--
	}
	if j == n {
		j--
	}
	dstValues[j] += value
	if dstVars != nil {
		dstVars[j] += variance
	}
	return true
}

// Slice returns the sub-spectrum covering [lo, hi]. The bounds must coincide
// with existing bin edges.
func (s *Spectrum) Slice(lo, hi float64) (*Spectrum, error) {
	iLo, iHi := -1, -1
	for i, e := range s.Edges {
		if e == lo {
			iLo = i
		}
		if e == hi {
			iHi = i
		}
	}
	if iLo < 0 || iHi < 0 || iHi <= iLo {
		return nil, fmt.Errorf("slice bounds [%v, %v] do not align with %q bin edges", lo, hi, s.Dim)
	}
	out := &Spectrum{
		Dim:      s.Dim,
		Edges:    append([]float64(nil), s.Edges[iLo:iHi+1]...),
		EdgeUnit: s.EdgeUnit,
		Values:   append([]float64(nil), s.Values[iLo:iHi]...),
		Unit:     s.Unit,
	}
	if s.Variances != nil {
		out.Variances = append([]float64(nil), s.Variances[iLo:iHi]...)
	}
	return out, nil
}
