package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/neutronik/sansred/internal/ctxlog"
	"github.com/neutronik/sansred/internal/instrument"
	"github.com/neutronik/sansred/internal/pipeline"
	"github.com/neutronik/sansred/internal/reduce"
	"github.com/neutronik/sansred/internal/workflow"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	workflow *workflow.Workflow
	inst     *instrument.Definition
	pipeline *pipeline.Pipeline
}

// NewApp is the constructor for the main application. It loads the workflow
// file, builds the provider registry for the configured instrument and
// returns a fully initialized App instance with its own isolated logger.
func NewApp(outW io.Writer, appConfig *Config) (*App, error) {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	wf, err := workflow.Load(ctx, appConfig.WorkflowPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	inst, err := instrument.Lookup(wf.Instrument)
	if err != nil {
		return nil, err
	}
	logger.Debug("Instrument resolved.", "instrument", inst.Name)

	reg := pipeline.NewRegistry()
	reduce.Register(reg, wf.Loader())
	if inst.Customize != nil {
		inst.Customize(reg)
		logger.Debug("Instrument provider specializations installed.")
	}

	pl, err := pipeline.New(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	inst.ApplyDefaults(pl)
	if err := wf.Apply(ctx, pl); err != nil {
		return nil, err
	}
	logger.Debug("Pipeline configured.", "workflow", wf.Name)

	return &App{
		outW:     outW,
		logger:   logger,
		config:   appConfig,
		workflow: wf,
		inst:     inst,
		pipeline: pl,
	}, nil
}

// Pipeline returns the application's pipeline. This is primarily for testing.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}
