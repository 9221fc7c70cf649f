package executor

import (
	"context"

	"github.com/wesleyorama2/shiftload/internal/loadgen"
	"github.com/wesleyorama2/shiftload/internal/loadgen/metrics"
)

// RampingArrivalRate moves the iteration rate linearly through stages.
//
// The rate starts at startRate (default 0) and each stage ramps from the
// previous target to its own. The pacer is retuned every 100ms; lowering
// the rate never releases a burst of banked iterations. To start at a rate
// immediately, set startRate to the first stage's target.
//
// Example:
//
//	executor: ramping-arrival-rate
//	startRate: 0
//	timeUnit: 1s
//	stages:
//	  - duration: 1m
//	    target: 20           # 0 -> 20 iterations/s
//	  - duration: 3m
//	    target: 20
//	  - duration: 1m
//	    target: 0
//	preAllocatedVUs: 5
//	maxVUs: 50
type RampingArrivalRate struct {
	arrival
}

// NewRampingArrivalRate creates a new ramping arrival rate executor.
func NewRampingArrivalRate() *RampingArrivalRate {
	return &RampingArrivalRate{}
}

// Type returns the executor type.
func (e *RampingArrivalRate) Type() Type {
	return TypeRampingArrivalRate
}

// Init initializes the executor with configuration.
func (e *RampingArrivalRate) Init(ctx context.Context, config *Config) error {
	return e.init(config, TypeRampingArrivalRate)
}

// Run starts the executor and blocks until completion.
func (e *RampingArrivalRate) Run(ctx context.Context, scheduler *loadgen.VUScheduler, engine *metrics.Engine) error {
	return e.run(ctx, scheduler, engine)
}

var _ Executor = (*RampingArrivalRate)(nil)
