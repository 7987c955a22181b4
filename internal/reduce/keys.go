// Package reduce implements the SANS data-reduction steps as pipeline
// providers: time-of-flight to wavelength conversion, monitor preprocessing,
// transmission fraction, solid angle, masking, Q binning, normalization and
// background subtraction.
package reduce

import "github.com/neutronik/sansred/internal/pipeline"

// Run roles. Transmission runs are distinct measurements of the sample and
// background, used only for the transmission monitors.
const (
	SampleRun              pipeline.RunType = "sample"
	BackgroundRun          pipeline.RunType = "background"
	EmptyBeamRun           pipeline.RunType = "empty_beam"
	TransmissionSampleRun  pipeline.RunType = "transmission_sample"
	TransmissionBackground pipeline.RunType = "transmission_background"
)

// ScatteringRuns are the runs that contribute detector data to I(Q).
var ScatteringRuns = []pipeline.RunType{SampleRun, BackgroundRun}

// MonitorRuns are the runs whose monitors are preprocessed.
var MonitorRuns = []pipeline.RunType{
	SampleRun, BackgroundRun, EmptyBeamRun,
	TransmissionSampleRun, TransmissionBackground,
}

// TransmissionRunFor maps a scattering run to its transmission run.
func TransmissionRunFor(run pipeline.RunType) pipeline.RunType {
	if run == BackgroundRun {
		return TransmissionBackground
	}
	return TransmissionSampleRun
}

// Monitor roles.
const (
	Incident     pipeline.MonitorType = "incident"
	Transmission pipeline.MonitorType = "transmission"
)

// I(Q) parts.
const (
	Numerator   pipeline.Part = "numerator"
	Denominator pipeline.Part = "denominator"
)

// Parameter keys. Values are set on the pipeline before computing.
var (
	KeyWavelengthBins     = pipeline.Named("wavelength_bins")      // []float64 edges, angstrom
	KeyWavelengthBands    = pipeline.Named("wavelength_bands")     // BandSet or nil
	KeyQBins              = pipeline.Named("q_bins")               // []float64 edges, 1/angstrom
	KeyQxBins             = pipeline.Named("qx_bins")              // []float64 edges, 1/angstrom
	KeyQyBins             = pipeline.Named("qy_bins")              // []float64 edges, 1/angstrom
	KeyNonBackgroundRange = pipeline.Named("non_background_range") // *[2]float64 or nil, angstrom
	KeyBeamCenter         = pipeline.Named("beam_center")          // r3.Vec
	KeyCorrectForGravity  = pipeline.Named("correct_for_gravity")  // bool
	KeyUncertaintyMode    = pipeline.Named("uncertainty_mode")     // hist.Mode
	KeyDirectBeam         = pipeline.Named("direct_beam")          // *hist.Spectrum or nil
	KeyDimsToKeep         = pipeline.Named("dims_to_keep")         // []string, e.g. {"layer"}
	KeyPixelMasks         = pipeline.Named("pixel_masks")          // map[string][]int64 detector IDs
	KeyWavelengthMask     = pipeline.Named("wavelength_mask")      // *WavelengthMask or nil
)

// Result keys. Run/monitor/part roles are bound via For, WithMonitor and
// WithPart when registering and requesting.
var (
	KeyRawDetector          = pipeline.Named("raw_detector")
	KeyTofData              = pipeline.Named("tof_data")
	KeyMaskedData           = pipeline.Named("masked_data")
	KeyCalibratedData       = pipeline.Named("calibrated_data")
	KeyRawMonitor           = pipeline.Named("raw_monitor")
	KeyWavelengthMonitor    = pipeline.Named("wavelength_monitor")
	KeyCleanMonitor         = pipeline.Named("clean_monitor")
	KeyTransmissionFraction = pipeline.Named("transmission_fraction")
	KeySolidAngle           = pipeline.Named("solid_angle")
	KeyCleanDirectBeam      = pipeline.Named("clean_direct_beam")
	KeyNormWavelengthTerm   = pipeline.Named("norm_wavelength_term")
	KeyCleanWavelength      = pipeline.Named("clean_wavelength")
	KeyCleanSummedQ         = pipeline.Named("clean_summed_q")
	KeyCleanSummedQxy       = pipeline.Named("clean_summed_qxy")
	KeyProcessedBands       = pipeline.Named("processed_wavelength_bands")
	KeyIofQ                 = pipeline.Named("iofq")
	KeyIofQxy               = pipeline.Named("iofqxy")
	KeyBgSubtractedIofQ     = pipeline.Named("background_subtracted_iofq")
	KeyBgSubtractedIofQxy   = pipeline.Named("background_subtracted_iofqxy")
)
