// Package hist implements one-dimensional binned data with physical units and
// propagated statistical variances. A Spectrum is the basic quantity flowing
// through the reduction: monitor counts per wavelength bin, the direct beam
// function, transmission fractions and reduced I(Q) curves are all spectra.
package hist

import (
	"fmt"
	"math"

	"github.com/neutronik/sansred/internal/units"
)

// Spectrum is a histogram over a single named coordinate. Edges has one
// element more than Values. Variances is optional; when present it has the
// same length as Values.
type Spectrum struct {
	Dim       string
	Edges     []float64
	EdgeUnit  units.Unit
	Values    []float64
	Variances []float64
	Unit      units.Unit
}

// Value is a scalar with an optional variance, used for aggregates such as a
// mean monitor background level.
type Value struct {
	V    float64
	Var  float64
	Unit units.Unit
}

// New constructs a Spectrum and validates its shape.
func New(dim string, edges, values []float64, edgeUnit, unit units.Unit) (*Spectrum, error) {
	s := &Spectrum{Dim: dim, Edges: edges, EdgeUnit: edgeUnit, Values: values, Unit: unit}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the edge/value shape invariants.
func (s *Spectrum) Validate() error {
	if len(s.Edges) != len(s.Values)+1 {
		return fmt.Errorf("spectrum %q: %d edges for %d values", s.Dim, len(s.Edges), len(s.Values))
	}
	if s.Variances != nil && len(s.Variances) != len(s.Values) {
		return fmt.Errorf("spectrum %q: %d variances for %d values", s.Dim, len(s.Variances), len(s.Values))
	}
	for i := 1; i < len(s.Edges); i++ {
		if s.Edges[i] <= s.Edges[i-1] {
			return fmt.Errorf("spectrum %q: edges not strictly increasing at index %d", s.Dim, i)
		}
	}
	return nil
}

// NBins returns the number of bins.
func (s *Spectrum) NBins() int { return len(s.Values) }

// Clone returns a deep copy.
func (s *Spectrum) Clone() *Spectrum {
	out := &Spectrum{Dim: s.Dim, EdgeUnit: s.EdgeUnit, Unit: s.Unit}
	out.Edges = append([]float64(nil), s.Edges...)
	out.Values = append([]float64(nil), s.Values...)
	if s.Variances != nil {
		out.Variances = append([]float64(nil), s.Variances...)
	}
	return out
}

// Midpoints returns the bin centers.
func (s *Spectrum) Midpoints() []float64 {
	return Midpoints(s.Edges)
}

// Midpoints returns the centers of the bins described by edges.
func Midpoints(edges []float64) []float64 {
	out := make([]float64, len(edges)-1)
	for i := range out {
		out[i] = 0.5 * (edges[i] + edges[i+1])
	}
	return out
}

// Sum returns the total of all values, with summed variance.
func (s *Spectrum) Sum() Value {
	out := Value{Unit: s.Unit}
	for i, v := range s.Values {
		out.V += v
		if s.Variances != nil {
			out.Var += s.Variances[i]
		}
	}
	return out
}

// Mean returns the mean of all values. The variance of the mean is the summed
// variance divided by n squared.
func (s *Spectrum) Mean() Value {
	n := float64(s.NBins())
	if n == 0 {
		return Value{V: math.NaN(), Unit: s.Unit}
	}
	total := s.Sum()
	return Value{V: total.V / n, Var: total.Var / (n * n), Unit: s.Unit}
}

// DropVariances returns a copy of s without variances.
func (s *Spectrum) DropVariances() *Spectrum {
	out := s.Clone()
	out.Variances = nil
	return out
}

// SameEdges reports whether two spectra share an identical binning.
func SameEdges(a, b *Spectrum) bool {
	if a.Dim != b.Dim || a.EdgeUnit != b.EdgeUnit || len(a.Edges) != len(b.Edges) {
		return false
	}
	for i := range a.Edges {
		if a.Edges[i] != b.Edges[i] {
			return false
		}
	}
	return true
}

// Linspace returns n+1 evenly spaced edges spanning [lo, hi].
func Linspace(lo, hi float64, n int) []float64 {
	edges := make([]float64, n+1)
	step := (hi - lo) / float64(n)
	for i := range edges {
		edges[i] = lo + float64(i)*step
	}
	edges[n] = hi
	return edges
}
