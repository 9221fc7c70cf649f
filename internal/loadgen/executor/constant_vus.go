package executor

import (
	"context"

	"go.uber.org/zap"

	"github.com/wesleyorama2/shiftload/internal/loadgen"
	"github.com/wesleyorama2/shiftload/internal/loadgen/metrics"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// Each VU loops iterations as fast as responses allow (closed model), with
// the scenario's think time in between. A VU whose owner runs out of
// identifiers idles for the rest of the run.
//
// Example:
//
//	executor: constant-vus
//	vus: 5
//	duration: 2m
type ConstantVUs struct {
	base
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	return e.init(config, TypeConstantVUs)
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *loadgen.VUScheduler, engine *metrics.Engine) error {
	runCtx, iterCtx, cancelIter := e.begin(ctx, scheduler, engine)
	defer cancelIter()

	e.metrics.SetPhase(metrics.PhaseSteady)
	e.targetVUs.Store(int32(e.config.VUs))

	for i := 0; i < e.config.VUs; i++ {
		vu := scheduler.SpawnVU()
		if vu == nil {
			e.logger.Warn("no owner slot available, running with fewer VUs",
				zap.Int("requested", e.config.VUs),
				zap.Int("spawned", i))
			break
		}
		scheduler.Go(func() { e.runVU(runCtx, iterCtx, vu) })
	}

	<-runCtx.Done()
	e.finish(cancelIter)
	return nil
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	return e.stats()
}

var _ Executor = (*ConstantVUs)(nil)
