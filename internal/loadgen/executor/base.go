package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/shiftload/internal/loadgen"
	"github.com/wesleyorama2/shiftload/internal/loadgen/metrics"
)

// base holds the lifecycle every executor shares: timing, the run context
// that Stop cancels, active VU accounting and the two-step drain.
type base struct {
	config    *Config
	scheduler *loadgen.VUScheduler
	metrics   *metrics.Engine
	logger    *zap.Logger

	startMu   sync.RWMutex
	startTime time.Time
	running   atomic.Bool
	activeVUs atomic.Int32
	targetVUs atomic.Int32

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
	stopped    bool
	done       chan struct{}
}

func (b *base) init(config *Config, want Type) error {
	if config.Type != want {
		return fmt.Errorf("invalid config type: expected %s, got %s", want, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	b.config = config
	b.done = make(chan struct{})
	return nil
}

// begin records the run's collaborators and returns the two contexts every
// executor runs under: runCtx gates new iterations and ends at the
// scenario's duration or on Stop; iterCtx bounds in-flight requests and is
// only cancelled once the graceful stop period has passed.
func (b *base) begin(ctx context.Context, scheduler *loadgen.VUScheduler, engine *metrics.Engine) (runCtx, iterCtx context.Context, cancelIter context.CancelFunc) {
	if engine == nil {
		engine = metrics.NewEngine()
	}
	b.scheduler = scheduler
	b.metrics = engine
	b.logger = scheduler.Logger().With(zap.String("executor", string(b.config.Type)))

	b.startMu.Lock()
	b.startTime = time.Now()
	b.startMu.Unlock()
	b.running.Store(true)

	iterCtx, cancelIter = context.WithCancel(ctx)
	runCtx, cancelRun := context.WithTimeout(ctx, b.config.TotalDuration())

	b.cancelMu.Lock()
	b.cancelFunc = cancelRun
	if b.stopped {
		cancelRun()
	}
	b.cancelMu.Unlock()

	return runCtx, iterCtx, cancelIter
}

// finish drains in-flight iterations and marks the run done.
//
// Users are asked to stop, then get the graceful stop period to complete
// their current iteration. Whatever is still running afterwards has its
// requests cancelled; those surface as timeout outcomes.
func (b *base) finish(cancelIter context.CancelFunc) {
	b.cancelMu.Lock()
	if b.cancelFunc != nil {
		b.cancelFunc()
	}
	b.cancelMu.Unlock()

	b.scheduler.StopAllVUs()

	graceful := b.config.GracefulStopOrDefault()
	if !b.scheduler.Wait(graceful) {
		b.logger.Warn("graceful stop expired, abandoning in-flight requests",
			zap.Duration("gracefulStop", graceful),
			zap.Int("activeVUs", b.scheduler.GetActiveVUCount()))
		cancelIter()
		if !b.scheduler.Wait(hardStopWait) {
			b.logger.Error("iterations did not return after their requests were cancelled",
				zap.Int("activeVUs", b.scheduler.GetActiveVUCount()))
		}
	}
	cancelIter()

	b.metrics.SetActiveVUs(0)
	b.metrics.SetPhase(metrics.PhaseDone)
	b.running.Store(false)
	close(b.done)
}

// runVU runs a looping user and keeps the active count current.
func (b *base) runVU(runCtx, iterCtx context.Context, vu *loadgen.VirtualUser) {
	b.metrics.SetActiveVUs(int(b.activeVUs.Add(1)))
	defer func() {
		b.metrics.SetActiveVUs(int(b.activeVUs.Add(-1)))
	}()

	b.scheduler.RunVU(runCtx, iterCtx, vu)
}

func (b *base) elapsed() time.Duration {
	b.startMu.RLock()
	defer b.startMu.RUnlock()
	if b.startTime.IsZero() {
		return 0
	}
	return time.Since(b.startTime)
}

// GetProgress returns current progress (0.0 to 1.0).
func (b *base) GetProgress() float64 {
	if b.config == nil {
		return 0.0
	}
	if !b.running.Load() {
		b.startMu.RLock()
		started := !b.startTime.IsZero()
		b.startMu.RUnlock()
		if started {
			return 1.0
		}
		return 0.0
	}

	total := b.config.TotalDuration()
	if total <= 0 {
		return 1.0
	}
	return min(float64(b.elapsed())/float64(total), 1.0)
}

// GetActiveVUs returns current active VU count.
func (b *base) GetActiveVUs() int {
	return int(b.activeVUs.Load())
}

// stats fills the fields every executor reports.
func (b *base) stats() *Stats {
	if b.config == nil {
		return &Stats{}
	}

	b.startMu.RLock()
	start := b.startTime
	b.startMu.RUnlock()

	elapsed := b.elapsed()
	s := &Stats{
		StartTime:     start,
		CurrentTime:   time.Now(),
		Elapsed:       elapsed,
		TotalDuration: b.config.TotalDuration(),
		ActiveVUs:     b.GetActiveVUs(),
		TargetVUs:     int(b.targetVUs.Load()),
		CurrentStage:  b.config.StageAt(elapsed),
		TotalStages:   max(len(b.config.Stages), 1),
	}
	if b.config.IsRamping() && s.CurrentStage < len(b.config.Stages) {
		s.CurrentStageName = b.config.Stages[s.CurrentStage].Name
	}
	if b.metrics != nil {
		snap := b.metrics.GetSnapshot()
		s.Iterations = snap.Iterations
	}
	if b.scheduler != nil {
		s.DroppedIterations = b.scheduler.DroppedIterations()
	}
	return s
}

// Stop ends the run early and waits for it to drain, or for ctx.
func (b *base) Stop(ctx context.Context) error {
	b.cancelMu.Lock()
	b.stopped = true
	if b.cancelFunc != nil {
		b.cancelFunc()
	}
	started := b.cancelFunc != nil
	b.cancelMu.Unlock()

	if !started || b.done == nil {
		return nil
	}

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
