// Package loadgen runs workloads on virtual users. The executor package
// decides how many users run and when; this package owns the users, their
// owner slots and the per-owner state handed to every iteration.
package loadgen

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/shiftload/internal/loadgen/outcome"
)

// Workload is one scenario's unit of generated load.
//
// Iterate sends one request or one group of concurrent requests and reports
// every outcome through it.Record. Returning pool.ErrPoolExhausted tells the
// scheduler the owner has no work left; other errors are logged and the
// user carries on.
type Workload interface {
	Iterate(ctx context.Context, it *Iteration) error
}

// WorkloadFunc adapts a function to Workload.
type WorkloadFunc func(ctx context.Context, it *Iteration) error

// Iterate calls f.
func (f WorkloadFunc) Iterate(ctx context.Context, it *Iteration) error {
	return f(ctx, it)
}

// Recorder receives measurements. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordOutcome(o outcome.Outcome)
	RecordIteration(d time.Duration)
	RecordDropped()
}

// Recorders fans measurements out to several recorders.
type Recorders []Recorder

func (rs Recorders) RecordOutcome(o outcome.Outcome) {
	for _, r := range rs {
		r.RecordOutcome(o)
	}
}

func (rs Recorders) RecordIteration(d time.Duration) {
	for _, r := range rs {
		r.RecordIteration(d)
	}
}

func (rs Recorders) RecordDropped() {
	for _, r := range rs {
		r.RecordDropped()
	}
}

// OwnerState is the mutable state of one owner slot. It outlives the
// virtual users that occupy the slot.
type OwnerState struct {
	Slot int

	batches   atomic.Int64
	exhausted atomic.Bool
}

// Batches returns how many batch numbers the owner has taken.
func (s *OwnerState) Batches() int {
	return int(s.batches.Load())
}

// Exhausted reports whether the owner ran out of work.
func (s *OwnerState) Exhausted() bool {
	return s.exhausted.Load()
}

// markExhausted flags the owner and reports whether this call did it.
func (s *OwnerState) markExhausted() bool {
	return s.exhausted.CompareAndSwap(false, true)
}

// Iteration is handed to Workload.Iterate. It is only valid for the
// duration of that call.
type Iteration struct {
	// Owner is the slot the running user occupies.
	Owner int
	// VU is the id of the running user.
	VU int
	// Number counts the user's iterations, starting at 1.
	Number int64

	state       *OwnerState
	recorder    Recorder
	rateLimited atomic.Bool
	requests    atomic.Int64
}

// NextBatch returns the owner's next batch number, starting at 0.
func (it *Iteration) NextBatch() int {
	return int(it.state.batches.Add(1) - 1)
}

// Record reports one outcome. Safe to call from concurrent requests of the
// same iteration.
func (it *Iteration) Record(o outcome.Outcome) {
	it.requests.Add(1)
	if o.Classification == outcome.RateLimited {
		it.rateLimited.Store(true)
	}
	if it.recorder != nil {
		it.recorder.RecordOutcome(o)
	}
}

// RateLimited reports whether any request in this iteration was rate limited.
func (it *Iteration) RateLimited() bool {
	return it.rateLimited.Load()
}

// Requests returns how many outcomes were recorded.
func (it *Iteration) Requests() int64 {
	return it.requests.Load()
}

// NewIteration builds a standalone iteration, for driving a workload
// outside a scheduler.
func NewIteration(owner *OwnerState, recorder Recorder) *Iteration {
	if owner == nil {
		owner = &OwnerState{}
	}
	return &Iteration{Owner: owner.Slot, Number: 1, state: owner, recorder: recorder}
}
