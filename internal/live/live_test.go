package live

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/neutronik/sansred/internal/pipeline"
	"github.com/neutronik/sansred/internal/reduce"
	"github.com/neutronik/sansred/internal/units"
)

func newEmptyPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	pl, err := pipeline.New(pipeline.NewRegistry())
	require.NoError(t, err)
	return pl
}

func tofTemplate(t *testing.T) *reduce.DetectorData {
	t.Helper()
	d := &reduce.DetectorData{
		IDs:       []int64{10, 20},
		Positions: []r3.Vec{{X: 0.1, Z: 5}, {X: -0.1, Z: 5}},
		SamplePos: r3.Vec{},
		SourcePos: r3.Vec{Z: -5},
		Dim:       "tof",
		Edges:     []float64{0, 10000, 20000},
		EdgeUnit:  units.Microsecond,
		Counts:    [][]float64{{0, 0}, {0, 0}},
		Unit:      units.Counts,
		Masks:     map[string][]bool{},
		BinMasks:  map[string][]bool{},
	}
	require.NoError(t, d.Validate())
	return d
}

func TestAccumulatorAdd(t *testing.T) {
	acc := NewAccumulator(tofTemplate(t))

	acc.Add([]Event{
		{PixelID: 10, Tof: 5000},
		{PixelID: 10, Tof: 15000},
		{PixelID: 20, Tof: 5000},
		{PixelID: 99, Tof: 5000},  // unknown pixel
		{PixelID: 10, Tof: 25000}, // beyond the tof range
	})

	assert.Equal(t, int64(3), acc.Count())

	snap := acc.Snapshot()
	assert.Equal(t, [][]float64{{1, 1}, {1, 0}}, snap.Counts)
	// Poisson statistics: variances equal counts.
	assert.Equal(t, snap.Counts, snap.Variances)
}

func TestAccumulatorSnapshot_Isolated(t *testing.T) {
	acc := NewAccumulator(tofTemplate(t))
	acc.Add([]Event{{PixelID: 10, Tof: 5000}})

	snap := acc.Snapshot()
	acc.Add([]Event{{PixelID: 10, Tof: 5000}})

	assert.Equal(t, [][]float64{{1, 0}, {0, 0}}, snap.Counts)
	assert.Equal(t, [][]float64{{2, 0}, {0, 0}}, acc.Snapshot().Counts)
}

func TestDecodeChunk(t *testing.T) {
	payload := map[string]any{
		"run": "live-1",
		"events": []any{
			map[string]any{"id": float64(10), "tof": 5000.0},
			map[string]any{"id": float64(20), "tof": 15000.0},
		},
	}

	events, err := decodeChunk(payload)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, Event{PixelID: 10, Tof: 5000}, events[0])
	assert.Equal(t, Event{PixelID: 20, Tof: 15000}, events[1])
}

func TestDecodeChunk_BadPayload(t *testing.T) {
	_, err := decodeChunk(map[string]any{"events": "not a list"})
	assert.Error(t, err)
}

func TestNewFeed_Defaults(t *testing.T) {
	f := NewFeed(newEmptyPipeline(t), tofTemplate(t), Options{URL: "http://localhost:9000"})
	assert.Equal(t, "events", f.opts.Event)
	assert.NotZero(t, f.opts.Interval)
	assert.NotZero(t, f.opts.ConnectTimeout)
}
