package executor

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/shiftload/internal/loadgen"
	"github.com/wesleyorama2/shiftload/internal/loadgen/metrics"
	"github.com/wesleyorama2/shiftload/internal/loadgen/pool"
	"github.com/wesleyorama2/shiftload/internal/loadgen/rate"
)

// arrival is the open-model loop shared by both arrival-rate executors.
//
// A pacer releases iteration starts at the profile's rate regardless of
// how long iterations take. Each release takes an idle VU from a pool that
// starts at preAllocatedVUs and grows on demand up to maxVUs. When no VU
// is idle and the pool cannot grow, the iteration is dropped and counted;
// the loop never blocks waiting for capacity, so the offered rate holds.
type arrival struct {
	base

	pacer *rate.Pacer

	idle       chan *loadgen.VirtualUser
	allVUs     []*loadgen.VirtualUser
	allVUsMu   sync.Mutex
	currentVUs atomic.Int32

	currentRate atomic.Uint64

	warnMu      sync.Mutex
	lastWarning time.Time
}

func (e *arrival) maxVUs() int {
	return max(e.config.MaxVUs, e.preAllocated())
}

func (e *arrival) preAllocated() int {
	return max(e.config.PreAllocatedVUs, 1)
}

func (e *arrival) run(ctx context.Context, scheduler *loadgen.VUScheduler, engine *metrics.Engine) error {
	runCtx, iterCtx, cancelIter := e.begin(ctx, scheduler, engine)
	defer cancelIter()

	initial := e.config.TargetAt(0)
	e.pacer = rate.NewPacer(initial)
	e.setRate(initial)

	e.idle = make(chan *loadgen.VirtualUser, e.maxVUs())
	for i := 0; i < e.preAllocated(); i++ {
		vu := e.spawn()
		if vu == nil {
			break
		}
		e.idle <- vu
	}
	e.metrics.SetPhase(e.config.PhaseAt(0))

	controllerDone := make(chan struct{})
	go func() {
		defer close(controllerDone)
		e.rateController(runCtx)
	}()

	e.schedule(runCtx, iterCtx)

	<-runCtx.Done()
	<-controllerDone
	e.finish(cancelIter)
	return nil
}

// rateController follows the profile every 100ms.
func (e *arrival) rateController(ctx context.Context) {
	ticker := time.NewTicker(controlInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := e.elapsed()
			target := e.config.TargetAt(elapsed)
			e.pacer.SetRate(target)
			e.setRate(target)
			e.metrics.SetPhase(e.config.PhaseAt(elapsed))
		}
	}
}

// schedule releases iterations until ctx is done or every owner is out of
// work.
func (e *arrival) schedule(runCtx, iterCtx context.Context) {
	for {
		if err := e.pacer.Wait(runCtx); err != nil {
			return
		}

		if e.scheduler.AllExhausted() {
			e.logger.Info("every owner exhausted its partition, no further iterations",
				zap.Int("owners", e.scheduler.MaxVUs()))
			return
		}

		vu := e.acquire()
		if vu == nil {
			e.scheduler.DropIteration()
			e.warnCapacity()
			continue
		}

		e.scheduler.Go(func() { e.runIteration(iterCtx, vu) })
	}
}

// acquire takes an idle VU or spawns one. It never blocks.
func (e *arrival) acquire() *loadgen.VirtualUser {
	for {
		select {
		case vu := <-e.idle:
			if vu.Exhausted() {
				e.retire(vu)
				continue
			}
			return vu
		default:
		}

		if int(e.currentVUs.Load()) >= e.maxVUs() {
			return nil
		}
		return e.spawn()
	}
}

func (e *arrival) spawn() *loadgen.VirtualUser {
	vu := e.scheduler.SpawnVU()
	if vu == nil {
		return nil
	}

	e.allVUsMu.Lock()
	e.allVUs = append(e.allVUs, vu)
	e.allVUsMu.Unlock()

	n := e.currentVUs.Add(1)
	e.targetVUs.Store(n)
	e.metrics.SetActiveVUs(int(n))
	return vu
}

// retire releases an exhausted VU's slot for good.
func (e *arrival) retire(vu *loadgen.VirtualUser) {
	e.scheduler.RemoveVU(vu)
	n := e.currentVUs.Add(-1)
	e.metrics.SetActiveVUs(int(n))
}

func (e *arrival) runIteration(ctx context.Context, vu *loadgen.VirtualUser) {
	e.activeVUs.Add(1)
	defer e.activeVUs.Add(-1)

	err := vu.RunIteration(ctx)
	switch {
	case errors.Is(err, pool.ErrPoolExhausted) || vu.Exhausted():
		e.retire(vu)
	case errors.Is(err, loadgen.ErrVUStopped):
		e.scheduler.RemoveVU(vu)
	default:
		// idle has room for every VU ever spawned
		e.idle <- vu
	}
}

// warnCapacity logs a dropped iteration at most once per second.
func (e *arrival) warnCapacity() {
	e.warnMu.Lock()
	defer e.warnMu.Unlock()

	if time.Since(e.lastWarning) < time.Second {
		return
	}
	e.lastWarning = time.Now()
	e.logger.Warn("insufficient VUs, dropping iterations",
		zap.Int("maxVUs", e.maxVUs()),
		zap.Float64("rate", e.rate()),
		zap.Int64("dropped", e.scheduler.DroppedIterations()))
}

func (e *arrival) setRate(perSecond float64) {
	e.currentRate.Store(math.Float64bits(perSecond))
}

func (e *arrival) rate() float64 {
	return math.Float64frombits(e.currentRate.Load())
}

// GetActiveVUs returns the number of VUs in the pool, busy or idle.
func (e *arrival) GetActiveVUs() int {
	return int(e.currentVUs.Load())
}

// GetStats returns executor statistics.
func (e *arrival) GetStats() *Stats {
	s := e.stats()
	s.ActiveVUs = e.GetActiveVUs()
	s.TargetVUs = e.maxVUs()
	s.CurrentRate = e.rate()
	if e.config != nil {
		s.TargetRate = e.config.TargetAt(e.config.TotalDuration())
	}
	return s
}
