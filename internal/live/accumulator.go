package live

import (
	"sync"

	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/reduce"
)

// Accumulator histograms streamed neutron events onto a detector geometry.
// Counts follow Poisson statistics, so the variances equal the counts.
type Accumulator struct {
	mu       sync.Mutex
	template *reduce.DetectorData
	counts   [][]float64
	index    map[int64]int
	total    int64
}

// NewAccumulator starts from zero counts on the template's geometry. The
// template must be in time-of-flight space.
func NewAccumulator(template *reduce.DetectorData) *Accumulator {
	counts := make([][]float64, template.NPixels())
	for i := range counts {
		counts[i] = make([]float64, template.NBins())
	}
	index := make(map[int64]int, len(template.IDs))
	for i, id := range template.IDs {
		index[id] = i
	}
	return &Accumulator{template: template, counts: counts, index: index}
}

// Add histograms a batch of events. Events on unknown pixels or outside the
// time-of-flight range are dropped.
func (a *Accumulator) Add(events []Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	edges := a.template.Edges
	for _, ev := range events {
		i, ok := a.index[ev.PixelID]
		if !ok {
			continue
		}
		if hist.FillInto(ev.Tof, 1, 0, edges, a.counts[i], nil) {
			a.total++
		}
	}
}

// Count returns the number of accumulated events.
func (a *Accumulator) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Snapshot returns the accumulated counts as detector data, safe to hand to
// the pipeline while accumulation continues.
func (a *Accumulator) Snapshot() *reduce.DetectorData {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.template.ShallowClone()
	out.Counts = make([][]float64, len(a.counts))
	out.Variances = make([][]float64, len(a.counts))
	for i, row := range a.counts {
		c := make([]float64, len(row))
		copy(c, row)
		out.Counts[i] = c
		v := make([]float64, len(row))
		copy(v, row)
		out.Variances[i] = v
	}
	return out
}
