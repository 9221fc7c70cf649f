// Package metrics accumulates Rate, Trend and Counter series, evaluates
// thresholds against them and exposes live statistics.
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/shiftload/internal/loadgen/outcome"
)

// Kind identifies the type of a series.
type Kind string

const (
	// KindRate is the fraction of boolean observations that were true.
	KindRate Kind = "rate"
	// KindTrend is a distribution of numeric observations.
	KindTrend Kind = "trend"
	// KindCounter is a monotonically increasing count.
	KindCounter Kind = "counter"
)

// Built-in series names.
const (
	HTTPReqs           = "http_reqs"
	HTTPReqDuration    = "http_req_duration"
	HTTPReqConnecting  = "http_req_connecting"
	HTTPReqWaiting     = "http_req_waiting"
	HTTPReqReceiving   = "http_req_receiving"
	HTTPReqFailed      = "http_req_failed"
	SlowResponses      = "slow_responses"
	RateLimitHits      = "rate_limit_hits"
	Checks             = "checks"
	BatchSizeImpact    = "batch_size_impact"
	IterationDuration  = "iteration_duration"
	Iterations         = "iterations"
	DroppedIterations  = "dropped_iterations"
	MalformedResponses = "malformed_responses"
)

// Rate counts boolean observations. Lock-free.
type Rate struct {
	trues atomic.Int64
	total atomic.Int64
}

// Add records one observation.
func (r *Rate) Add(v bool) {
	if v {
		r.trues.Add(1)
	}
	r.total.Add(1)
}

// Value returns trues/total, or 0 without observations.
func (r *Rate) Value() float64 {
	total := r.total.Load()
	if total == 0 {
		return 0
	}
	return float64(r.trues.Load()) / float64(total)
}

// Counts returns the true and total observation counts.
func (r *Rate) Counts() (trues, total int64) {
	return r.trues.Load(), r.total.Load()
}

// Trend keeps every observation so percentiles are exact.
type Trend struct {
	mu     sync.Mutex
	values []float64
}

// Add records one observation. The lock is held only for the append.
func (t *Trend) Add(v float64) {
	t.mu.Lock()
	t.values = append(t.values, v)
	t.mu.Unlock()
}

// Values returns a copy of the observations.
func (t *Trend) Values() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]float64, len(t.values))
	copy(out, t.values)
	return out
}

// Counter is a monotonically increasing count. Lock-free.
type Counter struct {
	n atomic.Int64
}

// Add increments the counter by n.
func (c *Counter) Add(n int64) {
	c.n.Add(n)
}

// Value returns the current count.
func (c *Counter) Value() int64 {
	return c.n.Load()
}

// Summary is the statistics of one series. Trend values keep the series
// unit (milliseconds for durations).
type Summary struct {
	Kind  Kind    `json:"kind"`
	Count int64   `json:"count"`
	Avg   float64 `json:"avg,omitempty"`
	Min   float64 `json:"min,omitempty"`
	Max   float64 `json:"max,omitempty"`
	Med   float64 `json:"med,omitempty"`
	P90   float64 `json:"p90,omitempty"`
	P95   float64 `json:"p95,omitempty"`
	P99   float64 `json:"p99,omitempty"`
	Rate  float64 `json:"rate,omitempty"`
	Trues int64   `json:"trues,omitempty"`

	sorted []float64
}

// Percentile returns the nearest-rank k-th percentile of a trend summary.
func (s Summary) Percentile(k float64) float64 {
	return Percentile(s.sorted, k)
}

// Percentile returns the nearest-rank k-th percentile of ascending values:
// the value at index ceil(k/100*n)-1.
func Percentile(sorted []float64, k float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(k*float64(n)/100)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

func summarizeTrend(values []float64) Summary {
	s := Summary{Kind: KindTrend, Count: int64(len(values))}
	if len(values) == 0 {
		return s
	}

	sort.Float64s(values)
	sum := 0.0
	for _, v := range values {
		sum += v
	}

	s.sorted = values
	s.Avg = sum / float64(len(values))
	s.Min = values[0]
	s.Max = values[len(values)-1]
	s.Med = Percentile(values, 50)
	s.P90 = Percentile(values, 90)
	s.P95 = Percentile(values, 95)
	s.P99 = Percentile(values, 99)
	return s
}

// Aggregator holds the named series of one scenario. Safe for concurrent
// writers; series are created on first use.
type Aggregator struct {
	mu       sync.RWMutex
	rates    map[string]*Rate
	trends   map[string]*Trend
	counters map[string]*Counter

	classMu sync.Mutex
	classes map[outcome.Classification]int64
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		rates:    make(map[string]*Rate),
		trends:   make(map[string]*Trend),
		counters: make(map[string]*Counter),
		classes:  make(map[outcome.Classification]int64),
	}
}

// Rate returns the named rate series, creating it if needed.
func (a *Aggregator) Rate(name string) *Rate {
	a.mu.RLock()
	r, ok := a.rates[name]
	a.mu.RUnlock()
	if ok {
		return r
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok = a.rates[name]; !ok {
		r = &Rate{}
		a.rates[name] = r
	}
	return r
}

// Trend returns the named trend series, creating it if needed.
func (a *Aggregator) Trend(name string) *Trend {
	a.mu.RLock()
	t, ok := a.trends[name]
	a.mu.RUnlock()
	if ok {
		return t
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok = a.trends[name]; !ok {
		t = &Trend{}
		a.trends[name] = t
	}
	return t
}

// Counter returns the named counter, creating it if needed.
func (a *Aggregator) Counter(name string) *Counter {
	a.mu.RLock()
	c, ok := a.counters[name]
	a.mu.RUnlock()
	if ok {
		return c
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok = a.counters[name]; !ok {
		c = &Counter{}
		a.counters[name] = c
	}
	return c
}

// AddRate records a boolean observation.
func (a *Aggregator) AddRate(name string, v bool) {
	a.Rate(name).Add(v)
}

// AddTrend records a numeric observation.
func (a *Aggregator) AddTrend(name string, v float64) {
	a.Trend(name).Add(v)
}

// AddCount increments a counter.
func (a *Aggregator) AddCount(name string, n int64) {
	a.Counter(name).Add(n)
}

// RecordOutcome updates the built-in series for one request.
func (a *Aggregator) RecordOutcome(o outcome.Outcome) {
	a.AddCount(HTTPReqs, 1)
	a.AddTrend(HTTPReqDuration, ms(o.Duration))
	if o.HasResponse() {
		a.AddTrend(HTTPReqConnecting, ms(o.Phases.Connecting))
		a.AddTrend(HTTPReqWaiting, ms(o.Phases.Waiting))
		a.AddTrend(HTTPReqReceiving, ms(o.Phases.Receiving))
		a.AddRate(MalformedResponses, !o.BodyValid)
	}
	a.AddRate(HTTPReqFailed, o.Classification.IsError())
	a.AddRate(SlowResponses, o.Slow)
	a.AddRate(RateLimitHits, o.Classification == outcome.RateLimited)
	a.AddRate(Checks, o.ChecksPassed)
	if o.BatchSize > 0 {
		a.AddTrend(BatchSizeImpact, ms(o.Duration)/float64(o.BatchSize))
	}

	a.classMu.Lock()
	a.classes[o.Classification]++
	a.classMu.Unlock()
}

// RecordIteration records one completed iteration.
func (a *Aggregator) RecordIteration(d time.Duration) {
	a.AddCount(Iterations, 1)
	a.AddTrend(IterationDuration, ms(d))
}

// RecordDropped records an iteration that could not be scheduled.
func (a *Aggregator) RecordDropped() {
	a.AddCount(DroppedIterations, 1)
}

// Classifications returns the outcome count per classification.
func (a *Aggregator) Classifications() map[outcome.Classification]int64 {
	a.classMu.Lock()
	defer a.classMu.Unlock()
	out := make(map[outcome.Classification]int64, len(outcome.Classifications))
	for _, c := range outcome.Classifications {
		out[c] = a.classes[c]
	}
	return out
}

// Summary returns the statistics of the named series. ok is false when no
// series of that name exists.
func (a *Aggregator) Summary(name string) (Summary, bool) {
	a.mu.RLock()
	r, isRate := a.rates[name]
	t, isTrend := a.trends[name]
	c, isCounter := a.counters[name]
	a.mu.RUnlock()

	switch {
	case isTrend:
		return summarizeTrend(t.Values()), true
	case isRate:
		trues, total := r.Counts()
		return Summary{Kind: KindRate, Count: total, Rate: r.Value(), Trues: trues}, true
	case isCounter:
		return Summary{Kind: KindCounter, Count: c.Value()}, true
	default:
		return Summary{}, false
	}
}

// Names returns every series name in sorted order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	names := make([]string, 0, len(a.rates)+len(a.trends)+len(a.counters))
	for n := range a.rates {
		names = append(names, n)
	}
	for n := range a.trends {
		names = append(names, n)
	}
	for n := range a.counters {
		names = append(names, n)
	}
	a.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Summaries returns the statistics of every series.
func (a *Aggregator) Summaries() map[string]Summary {
	out := make(map[string]Summary)
	for _, name := range a.Names() {
		if s, ok := a.Summary(name); ok {
			out[name] = s
		}
	}
	return out
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
