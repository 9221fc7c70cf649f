package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/shiftload/internal/loadgen/outcome"
)

// Phase is the load shape the scheduler is currently in.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// Histogram range: 1 microsecond to 1 hour, 3 significant figures.
const (
	histogramMin     = 1
	histogramMax     = 3_600_000_000
	histogramSigFigs = 3
)

// Engine is the live view of a run, read by the console while requests are
// in flight. Percentiles come from an HDR histogram so reads stay O(1)
// regardless of sample count; the exact numbers used for thresholds live
// in the Aggregator.
//
// Engine is safe for concurrent use and implements loadgen.Recorder.
type Engine struct {
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	totalRequests atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	rateLimited   atomic.Int64
	slow          atomic.Int64
	iterations    atomic.Int64
	dropped       atomic.Int64

	activeVUs atomic.Int32

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startMu   sync.RWMutex
	startTime time.Time

	// previous snapshot totals, for the current RPS
	rpsMu      sync.Mutex
	rpsAt      time.Time
	rpsTotal   int64
	currentRPS float64
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// NewEngine creates an empty live engine.
func NewEngine() *Engine {
	now := time.Now()
	return &Engine{
		latencyHist:  hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs),
		currentPhase: PhaseInit,
		startTime:    now,
		rpsAt:        now,
	}
}

// RecordOutcome records one request.
func (e *Engine) RecordOutcome(o outcome.Outcome) {
	micros := o.Duration.Microseconds()
	if micros < histogramMin {
		micros = histogramMin
	}
	if micros > histogramMax {
		micros = histogramMax
	}

	// RecordValue is not thread-safe.
	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(micros)
	e.latencyHistMu.Unlock()

	e.totalRequests.Add(1)
	switch {
	case o.Classification == outcome.RateLimited:
		e.rateLimited.Add(1)
	case o.Classification.IsError():
		e.failures.Add(1)
	default:
		e.successes.Add(1)
	}
	if o.Slow {
		e.slow.Add(1)
	}
}

// RecordIteration counts a completed iteration.
func (e *Engine) RecordIteration(time.Duration) {
	e.iterations.Add(1)
}

// RecordDropped counts an iteration that could not be scheduled.
func (e *Engine) RecordDropped() {
	e.dropped.Add(1)
}

// Start marks the beginning of the measured run.
func (e *Engine) Start() {
	now := time.Now()
	e.startMu.Lock()
	e.startTime = now
	e.startMu.Unlock()

	e.rpsMu.Lock()
	e.rpsAt = now
	e.rpsTotal = e.totalRequests.Load()
	e.rpsMu.Unlock()
}

// SetPhase updates the current phase. Repeating the current phase is a no-op.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns a copy of the phase transitions.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// SetActiveVUs updates the active VU count.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
}

// GetActiveVUs returns the active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetSnapshot returns a point-in-time view of the run.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := LatencyStats{
		Min:   micros(e.latencyHist.Min()),
		Max:   micros(e.latencyHist.Max()),
		Mean:  micros(int64(e.latencyHist.Mean())),
		P50:   micros(e.latencyHist.ValueAtQuantile(50)),
		P90:   micros(e.latencyHist.ValueAtQuantile(90)),
		P95:   micros(e.latencyHist.ValueAtQuantile(95)),
		P99:   micros(e.latencyHist.ValueAtQuantile(99)),
		Count: e.latencyHist.TotalCount(),
	}
	e.latencyHistMu.Unlock()

	e.startMu.RLock()
	start := e.startTime
	e.startMu.RUnlock()

	now := time.Now()
	elapsed := now.Sub(start)
	total := e.totalRequests.Load()
	failures := e.failures.Load()

	rps := 0.0
	if elapsed > 0 {
		rps = float64(total) / elapsed.Seconds()
	}

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failures) / float64(total)
	}

	return &Snapshot{
		TotalRequests:     total,
		SuccessRequests:   e.successes.Load(),
		FailedRequests:    failures,
		RateLimited:       e.rateLimited.Load(),
		SlowRequests:      e.slow.Load(),
		Iterations:        e.iterations.Load(),
		DroppedIterations: e.dropped.Load(),
		Latency:           latency,
		RPS:               rps,
		CurrentRPS:        e.updateCurrentRPS(now, total),
		ErrorRate:         errorRate,
		ActiveVUs:         e.GetActiveVUs(),
		CurrentPhase:      e.GetPhase(),
		Elapsed:           elapsed,
		StartTime:         start,
		Timestamp:         now,
	}
}

// updateCurrentRPS returns the request rate since the previous snapshot,
// holding the last value when snapshots arrive closer than 500ms apart.
func (e *Engine) updateCurrentRPS(now time.Time, total int64) float64 {
	e.rpsMu.Lock()
	defer e.rpsMu.Unlock()

	window := now.Sub(e.rpsAt)
	if window < 500*time.Millisecond {
		return e.currentRPS
	}
	e.currentRPS = float64(total-e.rpsTotal) / window.Seconds()
	e.rpsAt = now
	e.rpsTotal = total
	return e.currentRPS
}

// Reset clears every measurement and restarts the clock.
func (e *Engine) Reset() {
	e.latencyHistMu.Lock()
	e.latencyHist.Reset()
	e.latencyHistMu.Unlock()

	e.totalRequests.Store(0)
	e.successes.Store(0)
	e.failures.Store(0)
	e.rateLimited.Store(0)
	e.slow.Store(0)
	e.iterations.Store(0)
	e.dropped.Store(0)
	e.activeVUs.Store(0)

	e.phaseMu.Lock()
	e.currentPhase = PhaseInit
	e.phaseHistory = nil
	e.phaseMu.Unlock()

	e.rpsMu.Lock()
	e.currentRPS = 0
	e.rpsMu.Unlock()

	e.Start()
}

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	TotalRequests     int64         `json:"totalRequests"`
	SuccessRequests   int64         `json:"successRequests"`
	FailedRequests    int64         `json:"failedRequests"`
	RateLimited       int64         `json:"rateLimited"`
	SlowRequests      int64         `json:"slowRequests"`
	Iterations        int64         `json:"iterations"`
	DroppedIterations int64         `json:"droppedIterations"`
	Latency           LatencyStats  `json:"latency"`
	RPS               float64       `json:"rps"`
	CurrentRPS        float64       `json:"currentRps"`
	ErrorRate         float64       `json:"errorRate"`
	ActiveVUs         int           `json:"activeVUs"`
	CurrentPhase      Phase         `json:"currentPhase"`
	Elapsed           time.Duration `json:"elapsed"`
	StartTime         time.Time     `json:"startTime"`
	Timestamp         time.Time     `json:"timestamp"`
}

// LatencyStats are histogram-derived latency statistics.
type LatencyStats struct {
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Count int64         `json:"count"`
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
