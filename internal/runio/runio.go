// Package runio loads measurement runs from the JSON interchange format
// produced by the facility extraction tooling. One file holds one run: the
// detector panel (scattering runs) and the beam monitors.
package runio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neutronik/sansred/internal/ctxlog"
	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/pipeline"
	"github.com/neutronik/sansred/internal/reduce"
	"github.com/neutronik/sansred/internal/units"
)

type runFile struct {
	Instrument string             `json:"instrument"`
	Title      string             `json:"title"`
	RunNumber  int64              `json:"run_number"`
	Detector   *detectorJSON      `json:"detector,omitempty"`
	Monitors   map[string]monJSON `json:"monitors"`
}

type detectorJSON struct {
	Dim            string      `json:"dim"`
	Edges          []float64   `json:"edges"`
	EdgeUnit       string      `json:"edge_unit"`
	IDs            []int64     `json:"ids"`
	Positions      [][3]float64 `json:"positions"`
	Layer          []int       `json:"layer,omitempty"`
	SamplePosition [3]float64  `json:"sample_position"`
	SourcePosition [3]float64  `json:"source_position"`
	PixelRadius    float64     `json:"pixel_radius"`
	PixelLength    float64     `json:"pixel_length"`
	PixelAxis      [3]float64  `json:"pixel_axis"`
	Counts         [][]float64 `json:"counts"`
	Variances      [][]float64 `json:"variances,omitempty"`
	Unit           string      `json:"unit"`
}

type monJSON struct {
	Distance  float64   `json:"distance"`
	Dim       string    `json:"dim"`
	Edges     []float64 `json:"edges"`
	EdgeUnit  string    `json:"edge_unit"`
	Counts    []float64 `json:"counts"`
	Variances []float64 `json:"variances,omitempty"`
	Unit      string    `json:"unit"`
}

// FileLoader maps run roles to interchange files on disk.
type FileLoader struct {
	Paths map[pipeline.RunType]string
}

var _ reduce.Loader = (*FileLoader)(nil)

// LoadRun reads and validates the run file for the given role.
func (l *FileLoader) LoadRun(ctx context.Context, run pipeline.RunType) (*reduce.RunData, error) {
	path, ok := l.Paths[run]
	if !ok {
		return nil, fmt.Errorf("no run file configured for role %q", run)
	}
	ctxlog.FromContext(ctx).Debug("loading run file", "role", run, "path", path)
	return LoadFile(path)
}

// LoadFile reads one run from an interchange file.
func LoadFile(path string) (*reduce.RunData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run file: %w", err)
	}
	var rf runFile
	if err := json.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("parsing run file %q: %w", path, err)
	}
	rd := &reduce.RunData{
		Monitors: make(map[pipeline.MonitorType]*reduce.Monitor, len(rf.Monitors)),
		Meta: reduce.RunMeta{
			Title:      rf.Title,
			RunNumber:  rf.RunNumber,
			Instrument: rf.Instrument,
		},
	}
	if rf.Detector != nil {
		d, err := rf.Detector.toDetector()
		if err != nil {
			return nil, fmt.Errorf("run file %q: %w", path, err)
		}
		rd.Detector = d
	}
	for name, m := range rf.Monitors {
		mon, err := m.toMonitor()
		if err != nil {
			return nil, fmt.Errorf("run file %q: monitor %q: %w", path, name, err)
		}
		rd.Monitors[pipeline.MonitorType(name)] = mon
	}
	return rd, nil
}

// LoadSpectrum reads a standalone spectrum file, such as a previously
// computed direct beam function.
func LoadSpectrum(path string) (*hist.Spectrum, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spectrum file: %w", err)
	}
	var m monJSON
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing spectrum file %q: %w", path, err)
	}
	dim := m.Dim
	if dim == "" {
		dim = "wavelength"
	}
	s := &hist.Spectrum{
		Dim:       dim,
		Edges:     m.Edges,
		EdgeUnit:  units.Unit(m.EdgeUnit),
		Values:    m.Counts,
		Variances: m.Variances,
		Unit:      units.Unit(m.Unit),
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("spectrum file %q: %w", path, err)
	}
	return s, nil
}

func (dj *detectorJSON) toDetector() (*reduce.DetectorData, error) {
	d := &reduce.DetectorData{
		IDs:         dj.IDs,
		Positions:   toVecs(dj.Positions),
		Layer:       dj.Layer,
		SamplePos:   toVec(dj.SamplePosition),
		SourcePos:   toVec(dj.SourcePosition),
		PixelRadius: dj.PixelRadius,
		PixelLength: dj.PixelLength,
		PixelAxis:   toVec(dj.PixelAxis),
		Dim:         dj.Dim,
		Edges:       dj.Edges,
		EdgeUnit:    units.Unit(dj.EdgeUnit),
		Counts:      dj.Counts,
		Variances:   dj.Variances,
		Unit:        units.Unit(dj.Unit),
	}
	if d.Unit == "" {
		d.Unit = units.Counts
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (mj *monJSON) toMonitor() (*reduce.Monitor, error) {
	dim := mj.Dim
	if dim == "" {
		dim = "tof"
	}
	unit := units.Unit(mj.Unit)
	if unit == "" {
		unit = units.Counts
	}
	s := &hist.Spectrum{
		Dim:       dim,
		Edges:     mj.Edges,
		EdgeUnit:  units.Unit(mj.EdgeUnit),
		Values:    mj.Counts,
		Variances: mj.Variances,
		Unit:      unit,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if mj.Distance <= 0 {
		return nil, fmt.Errorf("monitor distance must be positive, got %g", mj.Distance)
	}
	return &reduce.Monitor{Distance: mj.Distance, Spec: s}, nil
}

func toVec(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }

func toVecs(a [][3]float64) []r3.Vec {
	out := make([]r3.Vec, len(a))
	for i, v := range a {
		out[i] = toVec(v)
	}
	return out
}
