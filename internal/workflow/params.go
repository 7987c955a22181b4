package workflow

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Params holds the decoded params block. Pointer and nil-able fields
// distinguish "not set" from zero values, so instrument defaults survive.
type Params struct {
	CorrectForGravity  *bool
	UncertaintyMode    string
	NonBackgroundRange *[2]float64
	WavelengthBands    []float64
	DimsToKeep         []string
	BeamCenter         *[2]float64
	DirectBeamFile     string
}

// decodeParams evaluates the free-form attributes of a params block. The
// attribute set is open-ended in HCL terms but closed here so typos fail
// loudly.
func decodeParams(body hcl.Body, p *Params) error {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return fmt.Errorf("failed to read params block: %w", diags)
	}
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return fmt.Errorf("failed to evaluate param %q: %w", name, diags)
		}
		if err := decodeParam(name, val, p); err != nil {
			return fmt.Errorf("param %q: %w", name, err)
		}
	}
	return nil
}

func decodeParam(name string, val cty.Value, p *Params) error {
	switch name {
	case "correct_for_gravity":
		var b bool
		if err := gocty.FromCtyValue(val, &b); err != nil {
			return err
		}
		p.CorrectForGravity = &b
	case "uncertainty_mode":
		return gocty.FromCtyValue(val, &p.UncertaintyMode)
	case "non_background_range":
		pair, err := floatPair(val)
		if err != nil {
			return err
		}
		p.NonBackgroundRange = pair
	case "wavelength_bands":
		bands, err := floatSlice(val)
		if err != nil {
			return err
		}
		p.WavelengthBands = bands
	case "dims_to_keep":
		dims, err := stringSlice(val)
		if err != nil {
			return err
		}
		p.DimsToKeep = dims
	case "beam_center":
		pair, err := floatPair(val)
		if err != nil {
			return err
		}
		p.BeamCenter = pair
	case "direct_beam":
		return gocty.FromCtyValue(val, &p.DirectBeamFile)
	default:
		return fmt.Errorf("unknown parameter")
	}
	return nil
}

func floatSlice(val cty.Value) ([]float64, error) {
	if val.IsNull() {
		return nil, nil
	}
	conv, err := convert.Convert(val, cty.List(cty.Number))
	if err != nil {
		return nil, fmt.Errorf("expected a list of numbers: %w", err)
	}
	out := make([]float64, 0, conv.LengthInt())
	for it := conv.ElementIterator(); it.Next(); {
		_, v := it.Element()
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func floatPair(val cty.Value) (*[2]float64, error) {
	s, err := floatSlice(val)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	if len(s) != 2 {
		return nil, fmt.Errorf("expected exactly 2 numbers, got %d", len(s))
	}
	return &[2]float64{s[0], s[1]}, nil
}

func stringSlice(val cty.Value) ([]string, error) {
	if val.IsNull() {
		return nil, nil
	}
	conv, err := convert.Convert(val, cty.List(cty.String))
	if err != nil {
		return nil, fmt.Errorf("expected a list of strings: %w", err)
	}
	out := make([]string, 0, conv.LengthInt())
	for it := conv.ElementIterator(); it.Next(); {
		_, v := it.Element()
		var s string
		if err := gocty.FromCtyValue(v, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
