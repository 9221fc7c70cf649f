package executor

import (
	"context"

	"github.com/wesleyorama2/shiftload/internal/loadgen"
	"github.com/wesleyorama2/shiftload/internal/loadgen/metrics"
)

// ConstantArrivalRate starts iterations at a fixed rate (open model).
//
// Throughput does not depend on response time: if the API slows down, more
// VUs are brought in up to maxVUs, and beyond that iterations are dropped
// and reported.
//
// Example:
//
//	executor: constant-arrival-rate
//	rate: 30               # 30 iterations per timeUnit
//	timeUnit: 1m
//	duration: 5m
//	preAllocatedVUs: 2
//	maxVUs: 10
type ConstantArrivalRate struct {
	arrival
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate() *ConstantArrivalRate {
	return &ConstantArrivalRate{}
}

// Type returns the executor type.
func (e *ConstantArrivalRate) Type() Type {
	return TypeConstantArrivalRate
}

// Init initializes the executor with configuration.
func (e *ConstantArrivalRate) Init(ctx context.Context, config *Config) error {
	return e.init(config, TypeConstantArrivalRate)
}

// Run starts the executor and blocks until completion.
func (e *ConstantArrivalRate) Run(ctx context.Context, scheduler *loadgen.VUScheduler, engine *metrics.Engine) error {
	return e.run(ctx, scheduler, engine)
}

var _ Executor = (*ConstantArrivalRate)(nil)
