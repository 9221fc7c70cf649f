package loadgen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/shiftload/internal/loadgen/pool"
)

// SchedulerOptions configures a VUScheduler.
type SchedulerOptions struct {
	// MaxVUs is the number of owner slots, and therefore the upper bound on
	// concurrently live users. Slot i owns partition band i.
	MaxVUs int

	// ThinkTime is slept between iterations by RunVU.
	ThinkTime ThinkTime

	// RateLimitPause is slept after an iteration that saw a rate_limited
	// outcome. Zero disables the pause.
	RateLimitPause time.Duration

	Logger *zap.Logger
}

// VUScheduler manages the lifecycle of virtual users and the owner slots
// they occupy.
//
// Owner state (batch counters, exhaustion) belongs to the slot and is kept
// for the whole run, so nothing about a run lives in package globals and
// several schedulers can run side by side.
type VUScheduler struct {
	workload Workload
	recorder Recorder
	opts     SchedulerOptions
	logger   *zap.Logger

	owners []*OwnerState

	slotsMu  sync.Mutex
	slotUsed []bool

	vus      map[int]*VirtualUser
	vusMu    sync.RWMutex
	nextVUID atomic.Int32

	dropped atomic.Int64

	wg sync.WaitGroup
}

// NewVUScheduler creates a scheduler with opts.MaxVUs owner slots.
func NewVUScheduler(workload Workload, recorder Recorder, opts SchedulerOptions) (*VUScheduler, error) {
	if workload == nil {
		return nil, errors.New("workload is required")
	}
	if opts.MaxVUs <= 0 {
		return nil, fmt.Errorf("maxVUs must be > 0, got %d", opts.MaxVUs)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	owners := make([]*OwnerState, opts.MaxVUs)
	for i := range owners {
		owners[i] = &OwnerState{Slot: i}
	}

	return &VUScheduler{
		workload: workload,
		recorder: recorder,
		opts:     opts,
		logger:   logger,
		owners:   owners,
		slotUsed: make([]bool, opts.MaxVUs),
		vus:      make(map[int]*VirtualUser),
	}, nil
}

// MaxVUs returns the number of owner slots.
func (s *VUScheduler) MaxVUs() int {
	return len(s.owners)
}

// Logger returns the scheduler's logger.
func (s *VUScheduler) Logger() *zap.Logger {
	return s.logger
}

// Owner returns the state of a slot.
func (s *VUScheduler) Owner(slot int) *OwnerState {
	return s.owners[slot]
}

// SpawnVU registers a new user in the lowest free slot whose owner still has
// work. It returns nil when no such slot exists. The caller runs the user.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	s.slotsMu.Lock()
	slot := -1
	for i, used := range s.slotUsed {
		if !used && !s.owners[i].Exhausted() {
			slot = i
			break
		}
	}
	if slot < 0 {
		s.slotsMu.Unlock()
		return nil
	}
	s.slotUsed[slot] = true
	s.slotsMu.Unlock()

	id := int(s.nextVUID.Add(1))
	vu := newVirtualUser(id, s.owners[slot], s.workload, s.recorder, s.opts.RateLimitPause,
		s.logger.With(zap.Int("vu", id), zap.Int("owner", slot)))

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu
}

// RemoveVU marks the user stopped and releases its slot.
func (s *VUScheduler) RemoveVU(vu *VirtualUser) {
	vu.markStopped()

	s.vusMu.Lock()
	_, exists := s.vus[vu.ID]
	delete(s.vus, vu.ID)
	s.vusMu.Unlock()

	if exists {
		s.slotsMu.Lock()
		s.slotUsed[vu.Owner()] = false
		s.slotsMu.Unlock()
	}
}

// GetActiveVUCount returns the number of registered users that have not
// stopped.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// AllExhausted reports whether every owner ran out of work.
func (s *VUScheduler) AllExhausted() bool {
	for _, o := range s.owners {
		if !o.Exhausted() {
			return false
		}
	}
	return true
}

// ExhaustedOwners returns how many owners ran out of work.
func (s *VUScheduler) ExhaustedOwners() int {
	n := 0
	for _, o := range s.owners {
		if o.Exhausted() {
			n++
		}
	}
	return n
}

// StopAllVUs asks every user to stop after its current iteration.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// DropIteration records an iteration that could not be scheduled.
func (s *VUScheduler) DropIteration() {
	s.dropped.Add(1)
	if s.recorder != nil {
		s.recorder.RecordDropped()
	}
}

// DroppedIterations returns how many iterations were dropped.
func (s *VUScheduler) DroppedIterations() int64 {
	return s.dropped.Load()
}

// Go runs fn in a goroutine tracked by Wait.
func (s *VUScheduler) Go(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Wait waits up to timeout for every goroutine started through Go. It
// reports whether they all finished.
func (s *VUScheduler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// RunVU loops the user until runCtx is done or the user is asked to stop.
//
// New iterations start only while runCtx is live; iterCtx bounds the
// requests of an iteration already in flight, so a run can stop scheduling
// while in-flight work finishes. Think time is slept between iterations.
// A user whose owner is exhausted idles until stopped. The user is removed
// from the scheduler when RunVU returns. Executors start it through Go.
func (s *VUScheduler) RunVU(runCtx, iterCtx context.Context, vu *VirtualUser) {
	defer s.RemoveVU(vu)

	for {
		select {
		case <-runCtx.Done():
			return
		case <-vu.stopCh:
			return
		default:
		}

		err := vu.RunIteration(iterCtx)
		if errors.Is(err, pool.ErrPoolExhausted) {
			select {
			case <-runCtx.Done():
			case <-vu.stopCh:
			}
			return
		}
		if errors.Is(err, ErrVUStopped) {
			return
		}

		if !sleep(runCtx, vu.stopCh, s.opts.ThinkTime.Next()) {
			return
		}
	}
}
