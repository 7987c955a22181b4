package reduce

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/units"
)

// Physical constants for elastic time-of-flight conversion.
const (
	// hOverMn is Planck's constant over the neutron mass, in m^2/s.
	hOverMn = 3.9560346e-7
	// tofToWavelength converts tof[us]/L[m] to wavelength in angstrom.
	tofToWavelength = hOverMn * 1e-6 * 1e10
	// gravity is the standard acceleration, m/s^2.
	gravity = 9.80665
)

// WavelengthFromTof converts a time of flight in microseconds over a flight
// path of length l (meters) to a wavelength in angstrom.
func WavelengthFromTof(tof, l float64) float64 {
	return tofToWavelength * tof / l
}

// Frame describes the beam-aligned coordinate system: the incident beam
// direction and the two unit vectors spanning the plane normal to it. X is
// horizontal, Y is vertical (anti-parallel to gravity).
type Frame struct {
	Beam r3.Vec // unit vector from source to sample
	X    r3.Vec
	Y    r3.Vec
}

// NewFrame constructs the beam-aligned frame for the given geometry. The
// gravity direction is -Y in the lab frame.
func NewFrame(sourcePos, samplePos r3.Vec) Frame {
	beam := r3.Unit(r3.Sub(samplePos, sourcePos))
	down := r3.Vec{Y: -1}
	// Component of gravity normal to the beam defines -Y of the frame.
	yv := r3.Unit(r3.Scale(-1, r3.Sub(down, r3.Scale(r3.Dot(down, beam), beam))))
	xv := r3.Unit(r3.Cross(yv, beam))
	return Frame{Beam: beam, X: xv, Y: yv}
}

// Cylindrical returns the in-plane (x, y) components of a scattered-beam
// vector in the beam-aligned frame.
func (f Frame) Cylindrical(scattered r3.Vec) (x, y float64) {
	return r3.Dot(scattered, f.X), r3.Dot(scattered, f.Y)
}

// Phi returns the azimuthal angle of a scattered-beam vector about the beam.
func (f Frame) Phi(scattered r3.Vec) float64 {
	x, y := f.Cylindrical(scattered)
	return math.Atan2(y, x)
}

// GravityDrop returns the vertical drop of a neutron of the given wavelength
// (angstrom) over a flight path l2 (meters).
func GravityDrop(wavelength, l2 float64) float64 {
	// lambda*L2/(h/m_n) is the flight time over the sample-detector path.
	t := wavelength * 1e-10 * l2 / hOverMn
	return 0.5 * gravity * t * t
}

// TwoTheta returns the scattering angle for a pixel at the given scattered
// beam vector. With gravity correction enabled the apparent vertical
// position is corrected for the parabolic flight path (Seeger & Hjelm 1991),
// making the angle wavelength-dependent.
func (f Frame) TwoTheta(scattered r3.Vec, wavelength float64, correctGravity bool) float64 {
	l2 := r3.Norm(scattered)
	x, y := f.Cylindrical(scattered)
	if correctGravity {
		y += GravityDrop(wavelength, l2)
	}
	r := math.Hypot(x, y)
	if r > l2 {
		r = l2
	}
	return math.Asin(r / l2)
}

// QFromAngle returns the momentum transfer for a scattering angle two-theta
// and wavelength (angstrom), in 1/angstrom.
func QFromAngle(twoTheta, wavelength float64) float64 {
	return 4 * math.Pi * math.Sin(0.5*twoTheta) / wavelength
}

// detectorToWavelength rebins per-pixel TOF counts onto the requested
// wavelength binning, using each pixel's total flight path L1+L2.
func detectorToWavelength(d *DetectorData, wavelengthBins []float64) (*DetectorData, error) {
	if d.Dim != "tof" {
		return nil, fmt.Errorf("detector data has dim %q, expected tof", d.Dim)
	}
	out := d.ShallowClone()
	out.Dim = "wavelength"
	out.Edges = append([]float64(nil), wavelengthBins...)
	out.EdgeUnit = units.Angstrom
	out.Counts = make([][]float64, d.NPixels())
	if d.Variances != nil {
		out.Variances = make([][]float64, d.NPixels())
	}
	l1 := r3.Norm(r3.Sub(d.SamplePos, d.SourcePos))
	nb := len(wavelengthBins) - 1
	srcEdges := make([]float64, len(d.Edges))
	for i := range d.Counts {
		l := l1 + r3.Norm(r3.Sub(d.Positions[i], d.SamplePos))
		for j, t := range d.Edges {
			srcEdges[j] = WavelengthFromTof(t, l)
		}
		out.Counts[i] = make([]float64, nb)
		var vars []float64
		var srcVars []float64
		if d.Variances != nil {
			vars = make([]float64, nb)
			out.Variances[i] = vars
			srcVars = d.Variances[i]
		}
		hist.RebinInto(srcEdges, d.Counts[i], srcVars, wavelengthBins, out.Counts[i], vars)
	}
	return out, nil
}

// monitorToWavelength converts a TOF monitor histogram to wavelength.
func monitorToWavelength(m *Monitor) (*Monitor, error) {
	s := m.Spec
	if s.Dim != "tof" {
		return nil, fmt.Errorf("monitor has dim %q, expected tof", s.Dim)
	}
	edges := make([]float64, len(s.Edges))
	for i, t := range s.Edges {
		edges[i] = WavelengthFromTof(t, m.Distance)
	}
	out := &hist.Spectrum{
		Dim:      "wavelength",
		Edges:    edges,
		EdgeUnit: units.Angstrom,
		Values:   append([]float64(nil), s.Values...),
		Unit:     s.Unit,
	}
	if s.Variances != nil {
		out.Variances = append([]float64(nil), s.Variances...)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{Distance: m.Distance, Spec: out}, nil
}

// calibratePositions applies the beam-center offset to all pixel positions.
func calibratePositions(d *DetectorData, beamCenter r3.Vec) *DetectorData {
	out := d.ShallowClone()
	out.Positions = make([]r3.Vec, d.NPixels())
	for i, p := range d.Positions {
		out.Positions[i] = r3.Sub(p, beamCenter)
	}
	return out
}
