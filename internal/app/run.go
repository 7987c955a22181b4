package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/neutronik/sansred/internal/beamcenter"
	"github.com/neutronik/sansred/internal/cansasio"
	"github.com/neutronik/sansred/internal/ctxlog"
	"github.com/neutronik/sansred/internal/directbeam"
	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/live"
	"github.com/neutronik/sansred/internal/reduce"
)

// Run executes the configured workflow to completion.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	if a.config.LiveURL != "" {
		return a.runLive(ctx)
	}

	if a.config.FindBeamCenter {
		if err := a.findBeamCenter(ctx); err != nil {
			return err
		}
	}
	if a.config.DirectBeamIterations > 0 {
		if err := a.refineDirectBeam(ctx); err != nil {
			return err
		}
	}
	return a.reduce(ctx)
}

// findBeamCenter runs the quadrant finder and overrides the configured
// beam center.
func (a *App) findBeamCenter(ctx context.Context) error {
	center, err := beamcenter.FromIofQ(ctx, a.pipeline, beamcenter.Options{
		QBins: a.coarseQBins(),
	})
	if err != nil {
		return fmt.Errorf("beam center finder: %w", err)
	}
	a.pipeline.SetParam(reduce.KeyBeamCenter, center)
	return nil
}

// coarseQBins derives a coarse Q binning for the beam center finder from
// the configured one. Fewer bins mean better statistics per bin, which the
// quadrant cost function needs.
func (a *App) coarseQBins() []float64 {
	raw, ok := a.pipeline.Param(reduce.KeyQBins)
	if !ok {
		return nil
	}
	edges := raw.([]float64)
	return hist.Linspace(edges[0], edges[len(edges)-1], 55)
}

func (a *App) refineDirectBeam(ctx context.Context) error {
	results, err := directbeam.Compute(ctx, a.pipeline, directbeam.Options{
		I0:         a.config.DirectBeamI0,
		Iterations: a.config.DirectBeamIterations,
	})
	if err != nil {
		return fmt.Errorf("direct beam refinement: %w", err)
	}
	final := results[len(results)-1].DirectBeam
	a.pipeline.SetParam(reduce.KeyDirectBeam, final)
	a.logger.Info("Direct beam function refined.", "iterations", len(results), "bands", final.NBins())
	return nil
}

// reduce computes and writes the configured outputs. With a background run
// configured the background-subtracted results are produced, otherwise the
// sample-only ones.
func (a *App) reduce(ctx context.Context) error {
	iofqKey := reduce.KeyIofQ.For(reduce.SampleRun)
	qxyKey := reduce.KeyIofQxy.For(reduce.SampleRun)
	if a.workflow.HasRun(reduce.BackgroundRun) {
		iofqKey = reduce.KeyBgSubtractedIofQ
		qxyKey = reduce.KeyBgSubtractedIofQxy
	}

	raw, err := a.pipeline.Compute(ctx, iofqKey)
	if err != nil {
		return fmt.Errorf("computing I(Q): %w", err)
	}
	iofq := raw.(*reduce.IofQ)
	a.logger.Info("I(Q) computed.", "groups", len(iofq.Groups), "bands", len(iofq.Bands))

	if path := a.iofqOutput(); path != "" {
		if err := a.writeIofQ(ctx, path, iofq); err != nil {
			return err
		}
	}

	if path := a.qxyOutput(); path != "" {
		raw, err := a.pipeline.Compute(ctx, qxyKey)
		if err != nil {
			return fmt.Errorf("computing I(Qx, Qy): %w", err)
		}
		if err := writeQxy(path, raw.(*reduce.XYMatrix)); err != nil {
			return err
		}
		a.logger.Info("I(Qx, Qy) written.", "path", path)
	}
	return nil
}

func (a *App) iofqOutput() string {
	if a.workflow.Output == nil {
		return ""
	}
	return a.workflow.Output.IofQ
}

func (a *App) qxyOutput() string {
	if a.workflow.Output == nil {
		return ""
	}
	return a.workflow.Output.IofQxy
}

func (a *App) writeIofQ(ctx context.Context, path string, iofq *reduce.IofQ) error {
	curve, err := iofq.Curve()
	if err != nil {
		return fmt.Errorf("writing I(Q): %w", err)
	}
	meta := cansasio.Metadata{
		Title:      a.workflow.Name,
		Instrument: a.inst.Name,
		Process:    "sansred",
	}
	if raw, err := a.pipeline.Compute(ctx, reduce.KeyRawRun.For(reduce.SampleRun)); err == nil {
		rd := raw.(*reduce.RunData)
		meta.Title = rd.Meta.Title
		meta.Run = fmt.Sprintf("%d", rd.Meta.RunNumber)
	}
	if err := cansasio.WriteFile(path, curve, meta); err != nil {
		return err
	}
	a.logger.Info("I(Q) written.", "path", path, "bins", curve.NBins())
	return nil
}

// qxyFile is the JSON layout for 2-D reduced data.
type qxyFile struct {
	QxEdges   []float64   `json:"qx_edges"`
	QyEdges   []float64   `json:"qy_edges"`
	Values    [][]float64 `json:"values"`
	Variances [][]float64 `json:"variances,omitempty"`
	Unit      string      `json:"unit"`
}

func writeQxy(path string, m *reduce.XYMatrix) error {
	out := qxyFile{
		QxEdges:   m.QxEdges,
		QyEdges:   m.QyEdges,
		Values:    finiteRows(m.Values),
		Variances: finiteRows(m.Variances),
		Unit:      string(m.Unit),
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("writing I(Qx, Qy): %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing I(Qx, Qy): %w", err)
	}
	return nil
}

// finiteRows replaces NaN and Inf entries with zero. Bins without any
// counts divide zero by zero during normalization, and JSON cannot
// represent the result.
func finiteRows(rows [][]float64) [][]float64 {
	if rows == nil {
		return nil
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			out[i][j] = v
		}
	}
	return out
}

// runLive streams events from the beamline feed and logs each recomputed
// curve. The sample run file provides the detector geometry the events are
// histogrammed onto.
func (a *App) runLive(ctx context.Context) error {
	raw, err := a.pipeline.Compute(ctx, reduce.KeyRawRun.For(reduce.SampleRun))
	if err != nil {
		return fmt.Errorf("live mode needs a sample run for the detector geometry: %w", err)
	}
	template := raw.(*reduce.RunData).Detector
	if template == nil {
		return fmt.Errorf("live mode: sample run %q has no detector data", reduce.SampleRun)
	}

	feed := live.NewFeed(a.pipeline, template, live.Options{URL: a.config.LiveURL})
	feed.OnResult = func(res live.Result) {
		sum := res.IofQ.Sum()
		a.logger.Info("Live I(Q) ready.", "events", res.Events, "bins", res.IofQ.NBins(), "integral", sum.V)
		if path := a.iofqOutput(); path != "" {
			meta := cansasio.Metadata{Title: a.workflow.Name, Instrument: a.inst.Name, Process: "sansred live"}
			if err := cansasio.WriteFile(path, res.IofQ, meta); err != nil {
				a.logger.Warn("Failed to write live I(Q).", "error", err)
			}
		}
	}
	return feed.Run(ctx)
}
