package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/shiftload/internal/loadgen"
	"github.com/wesleyorama2/shiftload/internal/loadgen/metrics"
)

// RampingVUs moves the VU count linearly through stages.
//
// A controller re-evaluates the target every 100ms and rounds it to the
// nearest whole VU. Extra VUs are spawned into free owner slots; surplus
// VUs are taken from the end of the list and finish their current
// iteration before exiting.
//
// Example:
//
//	executor: ramping-vus
//	startVUs: 0
//	stages:
//	  - duration: 1m
//	    target: 10     # 0 -> 10 VUs over a minute
//	  - duration: 3m
//	    target: 10     # hold
//	  - duration: 30s
//	    target: 0      # ramp down
type RampingVUs struct {
	base

	vus   []*loadgen.VirtualUser
	vusMu sync.Mutex
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	return e.init(config, TypeRampingVUs)
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, scheduler *loadgen.VUScheduler, engine *metrics.Engine) error {
	runCtx, iterCtx, cancelIter := e.begin(ctx, scheduler, engine)
	defer cancelIter()

	e.control(runCtx, iterCtx, 0)

	ticker := time.NewTicker(controlInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-ticker.C:
			e.control(runCtx, iterCtx, e.elapsed())
		}
	}

	e.finish(cancelIter)
	return nil
}

// control applies the target for elapsed.
func (e *RampingVUs) control(runCtx, iterCtx context.Context, elapsed time.Duration) {
	target := roundVUs(e.config.TargetAt(elapsed))
	e.targetVUs.Store(int32(target))
	e.adjustVUs(runCtx, iterCtx, target)
	e.metrics.SetPhase(e.config.PhaseAt(elapsed))
}

// adjustVUs spawns or stops VUs to match target.
func (e *RampingVUs) adjustVUs(runCtx, iterCtx context.Context, target int) {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	// forget users that already exited
	live := e.vus[:0]
	for _, vu := range e.vus {
		if vu.GetState() != loadgen.VUStateStopped {
			live = append(live, vu)
		}
	}
	e.vus = live

	current := len(e.vus)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			vu := e.scheduler.SpawnVU()
			if vu == nil {
				e.logger.Debug("no owner slot available",
					zap.Int("target", target),
					zap.Int("current", len(e.vus)))
				return
			}
			e.vus = append(e.vus, vu)
			e.scheduler.Go(func() { e.runVU(runCtx, iterCtx, vu) })
		}

	case target < current:
		for i := current - 1; i >= target; i-- {
			e.vus[i].RequestStop()
		}
		e.vus = e.vus[:target]
	}
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	return e.stats()
}

var _ Executor = (*RampingVUs)(nil)
