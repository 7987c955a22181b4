package hist

import "fmt"

// Mode selects how variances are handled when a quantity is broadcast to a
// larger shape. A plain broadcast of variances would introduce correlations
// between the broadcast copies, so the choices are to drop the variances or
// to keep an upper-bound estimate obtained by scaling them with the broadcast
// size.
type Mode int

const (
	// ModeUpperBound scales variances by the broadcast size.
	ModeUpperBound Mode = iota
	// ModeDrop discards variances on broadcast.
	ModeDrop
)

// ParseMode converts the configuration string form of a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "upper_bound":
		return ModeUpperBound, nil
	case "drop":
		return ModeDrop, nil
	default:
		return 0, fmt.Errorf("invalid uncertainty mode %q: must be 'upper_bound' or 'drop'", s)
	}
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == ModeDrop {
		return "drop"
	}
	return "upper_bound"
}

// BroadcastValue prepares a scalar for broadcast over n bins. The central
// value is never changed; only the variance is scaled or dropped.
func BroadcastValue(v Value, n int, mode Mode) Value {
	if v.Var == 0 || n <= 1 {
		return v
	}
	if mode == ModeDrop {
		return Value{V: v.V, Unit: v.Unit}
	}
	return Value{V: v.V, Var: v.Var * float64(n), Unit: v.Unit}
}

// BroadcastVariances prepares a spectrum for broadcast across size copies
// (for example a wavelength term multiplied onto every detector pixel).
func BroadcastVariances(s *Spectrum, size int, mode Mode) *Spectrum {
	if s.Variances == nil || size <= 1 {
		return s
	}
	out := s.Clone()
	if mode == ModeDrop {
		out.Variances = nil
		return out
	}
	for i := range out.Variances {
		out.Variances[i] *= float64(size)
	}
	return out
}
