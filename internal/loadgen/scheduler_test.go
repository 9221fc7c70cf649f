package loadgen_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/shiftload/internal/loadgen"
	"github.com/wesleyorama2/shiftload/internal/loadgen/outcome"
	"github.com/wesleyorama2/shiftload/internal/loadgen/pool"
)

// countingRecorder counts everything it is handed.
type countingRecorder struct {
	outcomes   atomic.Int64
	iterations atomic.Int64
	dropped    atomic.Int64

	mu      sync.Mutex
	classes []outcome.Classification
}

func (r *countingRecorder) RecordOutcome(o outcome.Outcome) {
	r.outcomes.Add(1)
	r.mu.Lock()
	r.classes = append(r.classes, o.Classification)
	r.mu.Unlock()
}

func (r *countingRecorder) RecordIteration(time.Duration) { r.iterations.Add(1) }
func (r *countingRecorder) RecordDropped()                { r.dropped.Add(1) }

func okWorkload() loadgen.Workload {
	return loadgen.WorkloadFunc(func(ctx context.Context, it *loadgen.Iteration) error {
		it.Record(outcome.Outcome{Classification: outcome.Success, StatusCode: 200})
		return nil
	})
}

func newScheduler(t *testing.T, w loadgen.Workload, rec loadgen.Recorder, maxVUs int) *loadgen.VUScheduler {
	t.Helper()
	s, err := loadgen.NewVUScheduler(w, rec, loadgen.SchedulerOptions{MaxVUs: maxVUs})
	if err != nil {
		t.Fatalf("NewVUScheduler() error = %v", err)
	}
	return s
}

func TestNewVUScheduler_Validation(t *testing.T) {
	if _, err := loadgen.NewVUScheduler(nil, nil, loadgen.SchedulerOptions{MaxVUs: 1}); err == nil {
		t.Error("expected error for nil workload")
	}
	if _, err := loadgen.NewVUScheduler(okWorkload(), nil, loadgen.SchedulerOptions{}); err == nil {
		t.Error("expected error for zero maxVUs")
	}
}

func TestVUScheduler_SpawnVU_AssignsLowestFreeSlot(t *testing.T) {
	s := newScheduler(t, okWorkload(), nil, 3)

	a := s.SpawnVU()
	b := s.SpawnVU()
	c := s.SpawnVU()
	if a.Owner() != 0 || b.Owner() != 1 || c.Owner() != 2 {
		t.Fatalf("owners = %d,%d,%d, want 0,1,2", a.Owner(), b.Owner(), c.Owner())
	}
	if vu := s.SpawnVU(); vu != nil {
		t.Fatalf("SpawnVU() with all slots taken = %v, want nil", vu.Owner())
	}

	s.RemoveVU(b)
	d := s.SpawnVU()
	if d == nil || d.Owner() != 1 {
		t.Fatalf("respawned VU should reuse slot 1, got %v", d)
	}
	if d.ID == b.ID {
		t.Error("respawned VU should get a new id")
	}
	if got := s.GetActiveVUCount(); got != 3 {
		t.Errorf("GetActiveVUCount() = %d, want 3", got)
	}
}

func TestVUScheduler_BatchCounterFollowsSlot(t *testing.T) {
	var batches []int
	var mu sync.Mutex
	w := loadgen.WorkloadFunc(func(ctx context.Context, it *loadgen.Iteration) error {
		mu.Lock()
		batches = append(batches, it.NextBatch())
		mu.Unlock()
		return nil
	})
	s := newScheduler(t, w, nil, 1)

	first := s.SpawnVU()
	for i := 0; i < 2; i++ {
		if err := first.RunIteration(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	s.RemoveVU(first)

	second := s.SpawnVU()
	if err := second.RunIteration(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []int{0, 1, 2}
	for i := range want {
		if batches[i] != want[i] {
			t.Fatalf("batches = %v, want %v", batches, want)
		}
	}
	if got := s.Owner(0).Batches(); got != 3 {
		t.Errorf("Owner(0).Batches() = %d, want 3", got)
	}
}

func TestVUScheduler_IndependentSchedulersDoNotShareCounters(t *testing.T) {
	w := loadgen.WorkloadFunc(func(ctx context.Context, it *loadgen.Iteration) error {
		it.NextBatch()
		return nil
	})
	a := newScheduler(t, w, nil, 1)
	b := newScheduler(t, w, nil, 1)

	vu := a.SpawnVU()
	vu.RunIteration(context.Background())
	vu.RunIteration(context.Background())

	if got := b.Owner(0).Batches(); got != 0 {
		t.Errorf("second scheduler saw %d batches, want 0", got)
	}
}

func TestVUScheduler_ExhaustedSlotIsNotRespawned(t *testing.T) {
	w := loadgen.WorkloadFunc(func(ctx context.Context, it *loadgen.Iteration) error {
		if it.Owner == 0 {
			return pool.ErrPoolExhausted
		}
		return nil
	})
	s := newScheduler(t, w, nil, 2)

	vu := s.SpawnVU()
	if err := vu.RunIteration(context.Background()); err != pool.ErrPoolExhausted {
		t.Fatalf("RunIteration() error = %v, want ErrPoolExhausted", err)
	}
	if !vu.Exhausted() {
		t.Error("VU should report exhausted")
	}
	s.RemoveVU(vu)

	next := s.SpawnVU()
	if next == nil || next.Owner() != 1 {
		t.Fatalf("expected slot 1 after slot 0 exhausted, got %v", next)
	}
	if s.AllExhausted() {
		t.Error("AllExhausted() = true, want false")
	}
	if got := s.ExhaustedOwners(); got != 1 {
		t.Errorf("ExhaustedOwners() = %d, want 1", got)
	}
}

func TestVUScheduler_RunVU_LoopsUntilRunContextDone(t *testing.T) {
	rec := &countingRecorder{}
	s := newScheduler(t, okWorkload(), rec, 1)

	runCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	vu := s.SpawnVU()
	s.Go(func() { s.RunVU(runCtx, context.Background(), vu) })

	if !s.Wait(time.Second) {
		t.Fatal("RunVU did not return after run context expired")
	}
	if rec.iterations.Load() == 0 {
		t.Error("expected at least one iteration")
	}
	if rec.outcomes.Load() != rec.iterations.Load() {
		t.Errorf("outcomes = %d, iterations = %d", rec.outcomes.Load(), rec.iterations.Load())
	}
	if vu.GetState() != loadgen.VUStateStopped {
		t.Errorf("state = %v, want stopped", vu.GetState())
	}
	if s.GetActiveVUCount() != 0 {
		t.Errorf("GetActiveVUCount() = %d, want 0", s.GetActiveVUCount())
	}
}

func TestVUScheduler_RunVU_ThinkTime(t *testing.T) {
	rec := &countingRecorder{}
	s, err := loadgen.NewVUScheduler(okWorkload(), rec, loadgen.SchedulerOptions{
		MaxVUs:    1,
		ThinkTime: loadgen.ThinkTime{Min: 40 * time.Millisecond, Max: 40 * time.Millisecond},
	})
	if err != nil {
		t.Fatal(err)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	vu := s.SpawnVU()
	s.Go(func() { s.RunVU(runCtx, context.Background(), vu) })
	s.Wait(time.Second)

	if n := rec.iterations.Load(); n < 1 || n > 3 {
		t.Errorf("iterations = %d, want 1..3 with 40ms think time over 100ms", n)
	}
}

func TestVUScheduler_RunVU_ExhaustedOwnerIdles(t *testing.T) {
	var calls atomic.Int64
	w := loadgen.WorkloadFunc(func(ctx context.Context, it *loadgen.Iteration) error {
		calls.Add(1)
		return pool.ErrPoolExhausted
	})
	s := newScheduler(t, w, nil, 1)

	runCtx, cancel := context.WithCancel(context.Background())
	vu := s.SpawnVU()
	s.Go(func() { s.RunVU(runCtx, context.Background(), vu) })

	time.Sleep(50 * time.Millisecond)
	if got := s.GetActiveVUCount(); got != 1 {
		t.Errorf("exhausted VU should stay active while idle, count = %d", got)
	}
	cancel()

	if !s.Wait(time.Second) {
		t.Fatal("idle VU did not exit on cancel")
	}
	if calls.Load() != 1 {
		t.Errorf("workload called %d times, want 1", calls.Load())
	}
}

func TestVUScheduler_StopAllVUs(t *testing.T) {
	s := newScheduler(t, okWorkload(), nil, 3)

	runCtx := context.Background()
	for i := 0; i < 3; i++ {
		vu := s.SpawnVU()
		s.Go(func() { s.RunVU(runCtx, runCtx, vu) })
	}

	time.Sleep(20 * time.Millisecond)
	s.StopAllVUs()

	if !s.Wait(time.Second) {
		t.Fatal("VUs did not stop")
	}
	if s.GetActiveVUCount() != 0 {
		t.Errorf("GetActiveVUCount() = %d, want 0", s.GetActiveVUCount())
	}
}

func TestVUScheduler_DropIteration(t *testing.T) {
	rec := &countingRecorder{}
	s := newScheduler(t, okWorkload(), rec, 1)

	s.DropIteration()
	s.DropIteration()

	if s.DroppedIterations() != 2 || rec.dropped.Load() != 2 {
		t.Errorf("dropped = %d (recorder %d), want 2", s.DroppedIterations(), rec.dropped.Load())
	}
}
