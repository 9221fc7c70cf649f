package loadgen

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/shiftload/internal/loadgen/pool"
)

// VUState represents the lifecycle state of a virtual user.
type VUState int32

const (
	// VUStateIdle indicates the user is between iterations.
	VUStateIdle VUState = iota
	// VUStateRunning indicates an iteration is in flight.
	VUStateRunning
	// VUStateStopping indicates the user was asked to stop and will exit
	// after its current iteration.
	VUStateStopping
	// VUStateStopped indicates the user has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrVUStopped is returned by RunIteration on a stopping or stopped user.
var ErrVUStopped = errors.New("virtual user stopped")

// VirtualUser runs iterations of a workload on behalf of one owner slot.
//
// Iterations of one user are strictly sequential. The user's partition of
// the identifier space comes from its owner slot, not from the user, so a
// replacement user spawned into the same slot continues where the previous
// one stopped.
type VirtualUser struct {
	// ID is unique per spawned user.
	ID int

	owner    *OwnerState
	workload Workload
	recorder Recorder
	logger   *zap.Logger

	rateLimitPause time.Duration

	state     atomic.Int32
	stopCh    chan struct{}
	doneCh    chan struct{}
	iteration atomic.Int64
}

func newVirtualUser(id int, owner *OwnerState, workload Workload, recorder Recorder, rateLimitPause time.Duration, logger *zap.Logger) *VirtualUser {
	return &VirtualUser{
		ID:             id,
		owner:          owner,
		workload:       workload,
		recorder:       recorder,
		logger:         logger,
		rateLimitPause: rateLimitPause,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Owner returns the slot this user occupies.
func (vu *VirtualUser) Owner() int {
	return vu.owner.Slot
}

// GetState returns the current state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns how many iterations the user has started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Exhausted reports whether the user's owner has no work left.
func (vu *VirtualUser) Exhausted() bool {
	return vu.owner.Exhausted()
}

// RunIteration runs one iteration of the workload.
//
// ctx bounds the requests of the iteration; cancelling it abandons them.
// The call returns pool.ErrPoolExhausted once the owner has run out of
// work, without invoking the workload again. Workload errors are logged and
// returned; they never stop the user.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	switch vu.GetState() {
	case VUStateStopping, VUStateStopped:
		return fmt.Errorf("VU %d: %w", vu.ID, ErrVUStopped)
	}
	if vu.owner.Exhausted() {
		return pool.ErrPoolExhausted
	}

	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	it := &Iteration{
		Owner:    vu.owner.Slot,
		VU:       vu.ID,
		Number:   vu.iteration.Add(1),
		state:    vu.owner,
		recorder: vu.recorder,
	}

	start := time.Now()
	err := vu.workload.Iterate(ctx, it)
	elapsed := time.Since(start)

	if errors.Is(err, pool.ErrPoolExhausted) {
		if vu.owner.markExhausted() {
			vu.logger.Info("owner exhausted its partition",
				zap.Int("owner", vu.owner.Slot),
				zap.Int("batches", vu.owner.Batches()))
		}
		if it.Requests() == 0 {
			return err
		}
	}

	if vu.recorder != nil {
		vu.recorder.RecordIteration(elapsed)
	}

	if err != nil && !errors.Is(err, pool.ErrPoolExhausted) {
		vu.logger.Debug("iteration failed",
			zap.Int("vu", vu.ID),
			zap.Int("owner", vu.owner.Slot),
			zap.Error(err))
	}

	if it.RateLimited() && vu.rateLimitPause > 0 {
		vu.logger.Debug("rate limited, pausing",
			zap.Int("vu", vu.ID),
			zap.Duration("pause", vu.rateLimitPause))
		sleep(ctx, vu.stopCh, vu.rateLimitPause)
	}

	return err
}

// RequestStop asks the user to exit after its current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// WaitForStop waits up to timeout for the user to stop.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	select {
	case <-vu.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// markStopped transitions to stopped. Safe to call more than once.
func (vu *VirtualUser) markStopped() bool {
	for {
		cur := vu.state.Load()
		if VUState(cur) == VUStateStopped {
			return false
		}
		if vu.state.CompareAndSwap(cur, int32(VUStateStopped)) {
			if VUState(cur) != VUStateStopping {
				close(vu.stopCh)
			}
			close(vu.doneCh)
			return true
		}
	}
}
