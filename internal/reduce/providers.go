package reduce

import (
	"context"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/pipeline"
)

// RunMeta carries the descriptive metadata of a measurement run.
type RunMeta struct {
	Title      string
	RunNumber  int64
	Instrument string
}

// RunData is one loaded run: detector data (scattering runs only) plus the
// beam monitors.
type RunData struct {
	Detector *DetectorData
	Monitors map[pipeline.MonitorType]*Monitor
	Meta     RunMeta
}

// Loader loads raw run data for a run role. File-format specifics live
// behind this interface.
type Loader interface {
	LoadRun(ctx context.Context, run pipeline.RunType) (*RunData, error)
}

var KeyRawRun = pipeline.Named("raw_run")

// Register installs the generic reduction providers for all run roles.
// Facility packages may Replace individual providers afterwards.
func Register(r *pipeline.Registry, loader Loader) {
	for _, run := range MonitorRuns {
		registerRunProviders(r, loader, run)
	}
	for _, run := range ScatteringRuns {
		registerScatteringProviders(r, run)
	}

	r.Register(&pipeline.Provider{
		Key:  KeyProcessedBands,
		Deps: []pipeline.Key{KeyWavelengthBands, KeyWavelengthBins},
		Fn: func(_ context.Context, args []any) (any, error) {
			return processWavelengthBands(args[0], args[1].([]float64))
		},
	})
	r.Register(&pipeline.Provider{
		Key:  KeyCleanDirectBeam,
		Deps: []pipeline.Key{KeyDirectBeam, KeyWavelengthBins},
		Fn: func(ctx context.Context, args []any) (any, error) {
			db, _ := args[0].(*hist.Spectrum)
			if db == nil {
				return (*hist.Spectrum)(nil), nil
			}
			return ResampleDirectBeam(ctx, db, args[1].([]float64))
		},
	})
	r.Register(&pipeline.Provider{
		Key:  KeyBgSubtractedIofQ,
		Deps: []pipeline.Key{KeyIofQ.For(SampleRun), KeyIofQ.For(BackgroundRun)},
		Fn: func(_ context.Context, args []any) (any, error) {
			return subtractIofQ(args[0].(*IofQ), args[1].(*IofQ))
		},
	})
	r.Register(&pipeline.Provider{
		Key:  KeyBgSubtractedIofQxy,
		Deps: []pipeline.Key{KeyIofQxy.For(SampleRun), KeyIofQxy.For(BackgroundRun)},
		Fn: func(_ context.Context, args []any) (any, error) {
			return subtractXY(args[0].(*XYMatrix), args[1].(*XYMatrix))
		},
	})
}

// registerRunProviders installs the loading and monitor chain for one run.
func registerRunProviders(r *pipeline.Registry, loader Loader, run pipeline.RunType) {
	r.Register(&pipeline.Provider{
		Key: KeyRawRun.For(run),
		Fn: func(ctx context.Context, _ []any) (any, error) {
			return loader.LoadRun(ctx, run)
		},
	})
	for _, mon := range []pipeline.MonitorType{Incident, Transmission} {
		mon := mon
		r.Register(&pipeline.Provider{
			Key:  KeyRawMonitor.For(run).WithMonitor(mon),
			Deps: []pipeline.Key{KeyRawRun.For(run)},
			Fn: func(_ context.Context, args []any) (any, error) {
				rd := args[0].(*RunData)
				m, ok := rd.Monitors[mon]
				if !ok {
					return nil, fmt.Errorf("run %q has no %q monitor", run, mon)
				}
				return m, nil
			},
		})
		r.Register(&pipeline.Provider{
			Key:  KeyWavelengthMonitor.For(run).WithMonitor(mon),
			Deps: []pipeline.Key{KeyRawMonitor.For(run).WithMonitor(mon)},
			Fn: func(_ context.Context, args []any) (any, error) {
				return monitorToWavelength(args[0].(*Monitor))
			},
		})
		r.Register(&pipeline.Provider{
			Key: KeyCleanMonitor.For(run).WithMonitor(mon),
			Deps: []pipeline.Key{
				KeyWavelengthMonitor.For(run).WithMonitor(mon),
				KeyWavelengthBins, KeyNonBackgroundRange, KeyUncertaintyMode,
			},
			Fn: func(_ context.Context, args []any) (any, error) {
				nbr, _ := args[2].(*[2]float64)
				return preprocessMonitor(args[0].(*Monitor), args[1].([]float64), nbr, args[3].(hist.Mode))
			},
		})
	}
}

// registerScatteringProviders installs the detector chain for one
// scattering run.
func registerScatteringProviders(r *pipeline.Registry, run pipeline.RunType) {
	r.Register(&pipeline.Provider{
		Key:  KeyRawDetector.For(run),
		Deps: []pipeline.Key{KeyRawRun.For(run)},
		Fn: func(_ context.Context, args []any) (any, error) {
			rd := args[0].(*RunData)
			if rd.Detector == nil {
				return nil, fmt.Errorf("run %q has no detector data", run)
			}
			if err := rd.Detector.Validate(); err != nil {
				return nil, err
			}
			return rd.Detector, nil
		},
	})
	r.Register(&pipeline.Provider{
		Key:  KeyTofData.For(run),
		Deps: []pipeline.Key{KeyRawDetector.For(run)},
		Fn: func(_ context.Context, args []any) (any, error) {
			d := args[0].(*DetectorData)
			if d.Dim != "tof" {
				return nil, fmt.Errorf("run %q detector data has dim %q, expected tof", run, d.Dim)
			}
			return d, nil
		},
	})
	r.Register(&pipeline.Provider{
		Key:  KeyMaskedData.For(run),
		Deps: []pipeline.Key{KeyTofData.For(run), KeyPixelMasks},
		Fn: func(_ context.Context, args []any) (any, error) {
			masks, _ := args[1].(map[string][]int64)
			return ApplyPixelMasks(args[0].(*DetectorData), masks), nil
		},
	})
	r.Register(&pipeline.Provider{
		Key:  KeyCalibratedData.For(run),
		Deps: []pipeline.Key{KeyMaskedData.For(run), KeyBeamCenter},
		Fn: func(_ context.Context, args []any) (any, error) {
			return calibratePositions(args[0].(*DetectorData), args[1].(r3.Vec)), nil
		},
	})
	r.Register(&pipeline.Provider{
		Key: KeyCleanWavelength.For(run).WithPart(Numerator),
		Deps: []pipeline.Key{
			KeyCalibratedData.For(run), KeyWavelengthBins, KeyWavelengthMask,
		},
		Fn: func(_ context.Context, args []any) (any, error) {
			d, err := detectorToWavelength(args[0].(*DetectorData), args[1].([]float64))
			if err != nil {
				return nil, err
			}
			mask, _ := args[2].(*WavelengthMask)
			return maskWavelength(d, mask)
		},
	})
	r.Register(&pipeline.Provider{
		Key:  KeySolidAngle.For(run),
		Deps: []pipeline.Key{KeyCalibratedData.For(run)},
		Fn: func(_ context.Context, args []any) (any, error) {
			return solidAngle(args[0].(*DetectorData))
		},
	})
	r.Register(&pipeline.Provider{
		Key: KeyTransmissionFraction.For(run),
		Deps: []pipeline.Key{
			KeyCleanMonitor.For(TransmissionRunFor(run)).WithMonitor(Incident),
			KeyCleanMonitor.For(TransmissionRunFor(run)).WithMonitor(Transmission),
			KeyCleanMonitor.For(EmptyBeamRun).WithMonitor(Incident),
			KeyCleanMonitor.For(EmptyBeamRun).WithMonitor(Transmission),
		},
		Fn: func(_ context.Context, args []any) (any, error) {
			return transmissionFraction(
				args[0].(*hist.Spectrum), args[1].(*hist.Spectrum),
				args[2].(*hist.Spectrum), args[3].(*hist.Spectrum),
			)
		},
	})
	r.Register(&pipeline.Provider{
		Key: KeyNormWavelengthTerm.For(run),
		Deps: []pipeline.Key{
			KeyCleanMonitor.For(run).WithMonitor(Incident),
			KeyTransmissionFraction.For(run),
			KeyCleanDirectBeam,
		},
		Fn: func(_ context.Context, args []any) (any, error) {
			db, _ := args[2].(*hist.Spectrum)
			return normWavelengthTerm(args[0].(*hist.Spectrum), args[1].(*hist.Spectrum), db)
		},
	})
	r.Register(&pipeline.Provider{
		Key: KeyCleanWavelength.For(run).WithPart(Denominator),
		Deps: []pipeline.Key{
			KeyCleanWavelength.For(run).WithPart(Numerator),
			KeySolidAngle.For(run),
			KeyNormWavelengthTerm.For(run),
			KeyUncertaintyMode,
		},
		Fn: func(_ context.Context, args []any) (any, error) {
			return denominatorData(
				args[0].(*DetectorData),
				args[1].(*hist.Spectrum),
				args[2].(*hist.Spectrum),
				args[3].(hist.Mode),
			)
		},
	})
	for _, part := range []pipeline.Part{Numerator, Denominator} {
		part := part
		r.Register(&pipeline.Provider{
			Key: KeyCleanSummedQ.For(run).WithPart(part),
			Deps: []pipeline.Key{
				KeyCleanWavelength.For(run).WithPart(part),
				KeyQBins, KeyCorrectForGravity, KeyDimsToKeep,
			},
			Fn: func(_ context.Context, args []any) (any, error) {
				dims, _ := args[3].([]string)
				return binInQ(
					args[0].(*DetectorData),
					args[1].([]float64),
					args[2].(bool),
					slices.Contains(dims, "layer"),
				)
			},
		})
		r.Register(&pipeline.Provider{
			Key: KeyCleanSummedQxy.For(run).WithPart(part),
			Deps: []pipeline.Key{
				KeyCleanWavelength.For(run).WithPart(part),
				KeyQxBins, KeyQyBins, KeyCorrectForGravity,
			},
			Fn: func(_ context.Context, args []any) (any, error) {
				return binInQxy(
					args[0].(*DetectorData),
					args[1].([]float64),
					args[2].([]float64),
					args[3].(bool),
				)
			},
		})
	}
	r.Register(&pipeline.Provider{
		Key: KeyIofQ.For(run),
		Deps: []pipeline.Key{
			KeyCleanSummedQ.For(run).WithPart(Numerator),
			KeyCleanSummedQ.For(run).WithPart(Denominator),
			KeyProcessedBands,
		},
		Fn: func(_ context.Context, args []any) (any, error) {
			return normalize(args[0].([]QGroup), args[1].([]QGroup), args[2].(BandSet))
		},
	})
	r.Register(&pipeline.Provider{
		Key: KeyIofQxy.For(run),
		Deps: []pipeline.Key{
			KeyCleanSummedQxy.For(run).WithPart(Numerator),
			KeyCleanSummedQxy.For(run).WithPart(Denominator),
		},
		Fn: func(_ context.Context, args []any) (any, error) {
			return divideXY(args[0].(*XYMatrix), args[1].(*XYMatrix))
		},
	})
}
