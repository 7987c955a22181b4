package hist

import (
	"fmt"

	"github.com/neutronik/sansred/internal/units"
)

// binop applies f elementwise to two spectra with identical binning and
// propagates variances through the provided variance rule.
func binop(a, b *Spectrum, unit units.Unit,
	f func(x, y float64) float64,
	varf func(x, y, vx, vy float64) float64,
) (*Spectrum, error) {
	if !SameEdges(a, b) {
		return nil, fmt.Errorf("binning mismatch between %q and %q spectra", a.Dim, b.Dim)
	}
	out := &Spectrum{
		Dim:      a.Dim,
		Edges:    append([]float64(nil), a.Edges...),
		EdgeUnit: a.EdgeUnit,
		Values:   make([]float64, a.NBins()),
		Unit:     unit,
	}
	hasVar := a.Variances != nil || b.Variances != nil
	if hasVar {
		out.Variances = make([]float64, a.NBins())
	}
	for i := range out.Values {
		x, y := a.Values[i], b.Values[i]
		out.Values[i] = f(x, y)
		if hasVar {
			var vx, vy float64
			if a.Variances != nil {
				vx = a.Variances[i]
			}
			if b.Variances != nil {
				vy = b.Variances[i]
			}
			out.Variances[i] = varf(x, y, vx, vy)
		}
	}
	return out, nil
}

// Add returns a + b. Units must match.
func Add(a, b *Spectrum) (*Spectrum, error) {
	if err := units.Same(a.Unit, b.Unit); err != nil {
		return nil, err
	}
	return binop(a, b, a.Unit,
		func(x, y float64) float64 { return x + y },
		func(_, _, vx, vy float64) float64 { return vx + vy },
	)
}

// Sub returns a - b. Units must match.
func Sub(a, b *Spectrum) (*Spectrum, error) {
	if err := units.Same(a.Unit, b.Unit); err != nil {
		return nil, err
	}
	return binop(a, b, a.Unit,
		func(x, y float64) float64 { return x - y },
		func(_, _, vx, vy float64) float64 { return vx + vy },
	)
}

// Mul returns a * b with the product unit.
func Mul(a, b *Spectrum) (*Spectrum, error) {
	return binop(a, b, units.Mul(a.Unit, b.Unit),
		func(x, y float64) float64 { return x * y },
		func(x, y, vx, vy float64) float64 { return vx*y*y + vy*x*x },
	)
}

// Div returns a / b with the quotient unit.
func Div(a, b *Spectrum) (*Spectrum, error) {
	return binop(a, b, units.Div(a.Unit, b.Unit),
		func(x, y float64) float64 { return x / y },
		func(x, y, vx, vy float64) float64 {
			return vx/(y*y) + vy*x*x/(y*y*y*y)
		},
	)
}

// Scale multiplies every value by the plain scalar s in place.
func (s *Spectrum) Scale(factor float64) {
	for i := range s.Values {
		s.Values[i] *= factor
	}
	if s.Variances != nil {
		for i := range s.Variances {
			s.Variances[i] *= factor * factor
		}
	}
}

// MulValue returns s multiplied by a scalar Value. The scalar's variance is
// broadcast over the bins according to mode.
func (s *Spectrum) MulValue(v Value, mode Mode) *Spectrum {
	bv := BroadcastValue(v, s.NBins(), mode)
	out := s.Clone()
	out.Unit = units.Mul(s.Unit, v.Unit)
	needVar := out.Variances != nil || bv.Var != 0
	if needVar && out.Variances == nil {
		out.Variances = make([]float64, s.NBins())
	}
	for i := range out.Values {
		x := s.Values[i]
		out.Values[i] = x * bv.V
		if needVar {
			var vx float64
			if s.Variances != nil {
				vx = s.Variances[i]
			}
			out.Variances[i] = vx*bv.V*bv.V + bv.Var*x*x
		}
	}
	return out
}

// SubValue returns s - v with the scalar's variance broadcast according to
// mode. Units must match.
func (s *Spectrum) SubValue(v Value, mode Mode) (*Spectrum, error) {
	if err := units.Same(s.Unit, v.Unit); err != nil {
		return nil, err
	}
	bv := BroadcastValue(v, s.NBins(), mode)
	out := s.Clone()
	if bv.Var != 0 && out.Variances == nil {
		out.Variances = make([]float64, s.NBins())
	}
	for i := range out.Values {
		out.Values[i] -= bv.V
		if out.Variances != nil {
			out.Variances[i] += bv.Var
		}
	}
	return out, nil
}
