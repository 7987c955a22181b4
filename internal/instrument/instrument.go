// Package instrument holds per-instrument defaults and provider
// specializations for the supported SANS beamlines.
package instrument

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/pipeline"
	"github.com/neutronik/sansred/internal/reduce"
)

// Definition describes one instrument: its geometry offsets, the default
// reduction parameters, and optional provider specializations.
type Definition struct {
	Name string

	WavelengthBins     []float64
	QBins              []float64
	QxBins             []float64
	QyBins             []float64
	NonBackgroundRange *[2]float64
	CorrectForGravity  bool

	DetectorBankOffset r3.Vec
	SampleOffset       r3.Vec
	MonitorOffsets     map[pipeline.MonitorType]r3.Vec

	// Customize installs instrument-specific provider overrides, such as
	// the SANS2D geometry masks. May be nil.
	Customize func(r *pipeline.Registry)
}

// ApplyDefaults seeds the pipeline with the instrument's default parameters.
// Workflow configuration applied afterwards takes precedence.
func (d *Definition) ApplyDefaults(pl *pipeline.Pipeline) {
	pl.SetParam(reduce.KeyWavelengthBins, d.WavelengthBins)
	pl.SetParam(reduce.KeyQBins, d.QBins)
	pl.SetParam(reduce.KeyQxBins, d.QxBins)
	pl.SetParam(reduce.KeyQyBins, d.QyBins)
	pl.SetParam(reduce.KeyNonBackgroundRange, d.NonBackgroundRange)
	pl.SetParam(reduce.KeyCorrectForGravity, d.CorrectForGravity)
	pl.SetParam(reduce.KeyBeamCenter, r3.Vec{})
	pl.SetParam(reduce.KeyUncertaintyMode, hist.ModeUpperBound)
	pl.SetParam(reduce.KeyDirectBeam, (*hist.Spectrum)(nil))
	pl.SetParam(reduce.KeyWavelengthBands, nil)
	pl.SetParam(reduce.KeyWavelengthMask, (*reduce.WavelengthMask)(nil))
	pl.SetParam(reduce.KeyPixelMasks, map[string][]int64(nil))
	pl.SetParam(reduce.KeyDimsToKeep, []string(nil))
}

var registry = map[string]*Definition{}

func register(d *Definition) {
	registry[strings.ToLower(d.Name)] = d
}

// Lookup returns the definition for an instrument name, case-insensitively.
func Lookup(name string) (*Definition, error) {
	d, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown instrument %q, have %s", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names lists the registered instrument names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for _, d := range registry {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

func zeroMonitorOffsets() map[pipeline.MonitorType]r3.Vec {
	return map[pipeline.MonitorType]r3.Vec{
		reduce.Incident:     {},
		reduce.Transmission: {},
	}
}

func init() {
	register(&Definition{
		Name:              "loki",
		WavelengthBins:    hist.Linspace(1.0, 13.0, 201),
		QBins:             hist.Linspace(0.01, 0.3, 102),
		QxBins:            hist.Linspace(-0.3, 0.3, 101),
		QyBins:            hist.Linspace(-0.3, 0.3, 101),
		CorrectForGravity: true,
		MonitorOffsets:    zeroMonitorOffsets(),
	})
	register(&Definition{
		Name:               "sans2d",
		WavelengthBins:     hist.Linspace(2.0, 16.0, 141),
		QBins:              hist.Linspace(0.01, 0.5, 141),
		QxBins:             hist.Linspace(-0.5, 0.5, 101),
		QyBins:             hist.Linspace(-0.5, 0.5, 101),
		NonBackgroundRange: &[2]float64{0.7, 17.1},
		CorrectForGravity:  true,
		MonitorOffsets:     zeroMonitorOffsets(),
		Customize:          sans2dCustomize,
	})
	register(&Definition{
		Name:           "zoom",
		WavelengthBins: hist.Linspace(1.75, 16.5, 141),
		QBins:          hist.Linspace(0.004, 0.8, 301),
		QxBins:         hist.Linspace(-0.8, 0.8, 101),
		QyBins:         hist.Linspace(-0.8, 0.8, 101),
		MonitorOffsets: zeroMonitorOffsets(),
	})
	register(&Definition{
		Name:           "isis",
		WavelengthBins: hist.Linspace(2.0, 16.0, 141),
		QBins:          hist.Linspace(0.01, 0.5, 141),
		QxBins:         hist.Linspace(-0.5, 0.5, 101),
		QyBins:         hist.Linspace(-0.5, 0.5, 101),
		MonitorOffsets: zeroMonitorOffsets(),
	})
}
