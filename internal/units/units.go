// Package units provides the small set of physical units that flow through a
// SANS reduction: counts, lengths, wavelengths and momentum transfer. Units
// are tracked symbolically; arithmetic on mismatched units is an error rather
// than a silent conversion.
package units

import (
	"errors"
	"fmt"
)

// Unit identifies a physical unit symbolically.
type Unit string

const (
	Dimensionless Unit = ""
	Counts        Unit = "counts"
	Meter         Unit = "m"
	Millimeter    Unit = "mm"
	Angstrom      Unit = "angstrom"
	InvAngstrom   Unit = "1/angstrom"
	Microsecond   Unit = "us"
	Steradian     Unit = "sr"
)

// ErrIncompatible is returned when an operation requires two quantities to
// carry the same unit and they do not.
var ErrIncompatible = errors.New("incompatible units")

// Same returns an error unless a and b are identical units.
func Same(a, b Unit) error {
	if a != b {
		return fmt.Errorf("%w: %q vs %q", ErrIncompatible, display(a), display(b))
	}
	return nil
}

// Mul returns the unit of a product. Only the combinations that occur in the
// reduction are supported; anything else collapses to a composite symbol.
func Mul(a, b Unit) Unit {
	switch {
	case a == Dimensionless:
		return b
	case b == Dimensionless:
		return a
	case a == InvAngstrom && b == Angstrom, a == Angstrom && b == InvAngstrom:
		return Dimensionless
	default:
		return Unit(string(a) + "*" + string(b))
	}
}

// Div returns the unit of a quotient.
func Div(a, b Unit) Unit {
	switch {
	case a == b:
		return Dimensionless
	case b == Dimensionless:
		return a
	case a == Dimensionless && b == Angstrom:
		return InvAngstrom
	case a == Dimensionless && b == InvAngstrom:
		return Angstrom
	default:
		return Unit(string(a) + "/" + string(b))
	}
}

func display(u Unit) string {
	if u == Dimensionless {
		return "dimensionless"
	}
	return string(u)
}

// String implements fmt.Stringer.
func (u Unit) String() string { return display(u) }
