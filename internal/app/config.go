package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	WorkflowPath string // hcl workflow file

	LogFormat string
	LogLevel  string

	// FindBeamCenter runs the quadrant beam center finder before the
	// reduction and overrides the configured beam center with the result.
	FindBeamCenter bool

	// DirectBeamIterations, when positive, runs the direct beam
	// refinement for that many passes and uses the resulting function in
	// the final reduction. Requires DirectBeamI0.
	DirectBeamIterations int
	DirectBeamI0         float64

	// LiveURL switches to live mode: stream events from this socket.io
	// endpoint instead of reducing files once.
	LiveURL string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.WorkflowPath == "" {
		return nil, errors.New("WorkflowPath is a required configuration field and cannot be empty")
	}
	if cfg.DirectBeamIterations > 0 && cfg.DirectBeamI0 <= 0 {
		return nil, errors.New("direct beam iterations require a positive reference intensity I0")
	}
	if cfg.DirectBeamIterations < 0 {
		return nil, errors.New("direct beam iterations cannot be negative")
	}

	return &cfg, nil
}
