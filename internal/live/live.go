// Package live streams neutron events from a beamline event feed over
// socket.io and periodically recomputes I(Q) on the accumulated counts.
package live

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/neutronik/sansred/internal/ctxlog"
	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/pipeline"
	"github.com/neutronik/sansred/internal/reduce"
)

// Options configures the live feed connection.
type Options struct {
	URL       string
	Namespace string
	// Event is the socket.io event carrying neutron event chunks. Empty
	// means "events".
	Event string
	// Interval is how often I(Q) is recomputed. Zero means 5s.
	Interval time.Duration
	// ConnectTimeout bounds the initial connection. Zero means 10s.
	ConnectTimeout     time.Duration
	InsecureSkipVerify bool
}

// Event is one detected neutron: the pixel it hit and its time of flight in
// microseconds.
type Event struct {
	PixelID int64   `json:"id"`
	Tof     float64 `json:"tof"`
}

// chunk is the wire format of one feed message.
type chunk struct {
	Run    string  `json:"run"`
	Events []Event `json:"events"`
}

// Result is one recomputed live curve.
type Result struct {
	IofQ   *hist.Spectrum
	Events int64
}

// Feed accumulates streamed events on top of a template detector geometry
// and drives the reduction pipeline.
type Feed struct {
	opts    Options
	pl      *pipeline.Pipeline
	acc     *Accumulator
	onEvent chan []Event
	// OnResult receives each recomputed curve. Must be set before Run.
	OnResult func(Result)
}

// NewFeed prepares a live feed. The pipeline must be fully configured for
// the sample run; template provides the detector geometry the events are
// histogrammed onto.
func NewFeed(pl *pipeline.Pipeline, template *reduce.DetectorData, opts Options) *Feed {
	if opts.Event == "" {
		opts.Event = "events"
	}
	if opts.Interval == 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &Feed{
		opts:    opts,
		pl:      pl.Copy(),
		acc:     NewAccumulator(template),
		onEvent: make(chan []Event, 64),
	}
}

// Run connects to the feed and blocks until the context is cancelled or the
// connection fails. Each recomputation interval the accumulated counts are
// pushed through the pipeline and the resulting I(Q) handed to OnResult.
func (f *Feed) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx).With("url", f.opts.URL, "event", f.opts.Event)
	logger.Debug("live feed starting")
	defer logger.Debug("live feed stopped")

	parsedURL, err := url.Parse(f.opts.URL)
	if err != nil {
		return fmt.Errorf("failed to parse feed URL: %w", err)
	}

	var isConnected atomic.Bool
	connErr := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if f.opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(f.opts.Namespace, opts)
	defer func() {
		logger.Debug("Disconnecting feed client")
		io.Disconnect()
	}()

	io.On(types.EventName("connect"), func(...any) {
		isConnected.Store(true)
		logger.Info("Connected to live feed", "namespace", f.opts.Namespace, "sid", io.Id())
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		if err, ok := errs[0].(error); ok {
			select {
			case connErr <- err:
			default:
			}
		}
	})
	io.On(types.EventName(f.opts.Event), func(data ...any) {
		if len(data) == 0 {
			return
		}
		events, err := decodeChunk(data[0])
		if err != nil {
			logger.Warn("Dropping malformed feed chunk", "error", err)
			return
		}
		select {
		case f.onEvent <- events:
		case <-ctx.Done():
		}
	})

	io.Connect()

	connectDeadline := time.After(f.opts.ConnectTimeout)
	ticker := time.NewTicker(f.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-connErr:
			return fmt.Errorf("live feed connection: %w", err)
		case <-connectDeadline:
			if !isConnected.Load() {
				return fmt.Errorf("timed out while waiting for initial connection")
			}
		case events := <-f.onEvent:
			f.acc.Add(events)
		case <-ticker.C:
			if f.acc.Count() == 0 {
				continue
			}
			res, err := f.recompute(ctx)
			if err != nil {
				logger.Warn("Live recomputation failed", "error", err)
				continue
			}
			logger.Info("Live I(Q) updated", "events", res.Events)
			if f.OnResult != nil {
				f.OnResult(res)
			}
		}
	}
}

func (f *Feed) recompute(ctx context.Context) (Result, error) {
	snapshot := f.acc.Snapshot()
	f.pl.SetParam(reduce.KeyTofData.For(reduce.SampleRun), snapshot)
	raw, err := f.pl.Compute(ctx, reduce.KeyIofQ.For(reduce.SampleRun))
	if err != nil {
		return Result{}, err
	}
	curve, err := raw.(*reduce.IofQ).Curve()
	if err != nil {
		return Result{}, err
	}
	return Result{IofQ: curve, Events: f.acc.Count()}, nil
}

// decodeChunk converts a socket.io payload into events. Payloads arrive as
// decoded JSON values, so they take a round trip through encoding/json.
func decodeChunk(payload any) ([]Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var c chunk
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return c.Events, nil
}
