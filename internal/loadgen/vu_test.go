package loadgen_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wesleyorama2/shiftload/internal/loadgen"
	"github.com/wesleyorama2/shiftload/internal/loadgen/outcome"
)

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state loadgen.VUState
		want  string
	}{
		{loadgen.VUStateIdle, "idle"},
		{loadgen.VUStateRunning, "running"},
		{loadgen.VUStateStopping, "stopping"},
		{loadgen.VUStateStopped, "stopped"},
		{loadgen.VUState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("VUState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestVirtualUser_RunIteration(t *testing.T) {
	rec := &countingRecorder{}
	s := newScheduler(t, okWorkload(), rec, 1)
	vu := s.SpawnVU()

	if vu.GetState() != loadgen.VUStateIdle {
		t.Errorf("initial state = %v, want idle", vu.GetState())
	}
	for i := 0; i < 3; i++ {
		if err := vu.RunIteration(context.Background()); err != nil {
			t.Fatalf("RunIteration() error = %v", err)
		}
	}

	if vu.GetIteration() != 3 {
		t.Errorf("GetIteration() = %d, want 3", vu.GetIteration())
	}
	if rec.iterations.Load() != 3 || rec.outcomes.Load() != 3 {
		t.Errorf("recorded %d iterations, %d outcomes", rec.iterations.Load(), rec.outcomes.Load())
	}
	if vu.GetState() != loadgen.VUStateIdle {
		t.Errorf("state after iterations = %v, want idle", vu.GetState())
	}
}

func TestVirtualUser_RunIteration_StoppedVU(t *testing.T) {
	s := newScheduler(t, okWorkload(), nil, 1)
	vu := s.SpawnVU()
	vu.RequestStop()

	err := vu.RunIteration(context.Background())
	if !errors.Is(err, loadgen.ErrVUStopped) {
		t.Errorf("RunIteration() on stopped VU error = %v, want ErrVUStopped", err)
	}
}

func TestVirtualUser_WorkloadErrorIsNotFatal(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	w := loadgen.WorkloadFunc(func(ctx context.Context, it *loadgen.Iteration) error {
		calls++
		return boom
	})
	s := newScheduler(t, w, nil, 1)
	vu := s.SpawnVU()

	for i := 0; i < 2; i++ {
		if err := vu.RunIteration(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("RunIteration() error = %v, want boom", err)
		}
	}
	if calls != 2 {
		t.Errorf("workload calls = %d, want 2", calls)
	}
}

func TestVirtualUser_RateLimitPause(t *testing.T) {
	w := loadgen.WorkloadFunc(func(ctx context.Context, it *loadgen.Iteration) error {
		it.Record(outcome.Outcome{Classification: outcome.RateLimited, StatusCode: 429})
		if !it.RateLimited() {
			t.Error("iteration should report rate limiting")
		}
		return nil
	})
	s, err := loadgen.NewVUScheduler(w, nil, loadgen.SchedulerOptions{MaxVUs: 1, RateLimitPause: 60 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	vu := s.SpawnVU()

	start := time.Now()
	vu.RunIteration(context.Background())
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("RunIteration returned after %v, want a rate-limit pause of ~60ms", elapsed)
	}
}

func TestVirtualUser_RequestStopDuringIteration(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	w := loadgen.WorkloadFunc(func(ctx context.Context, it *loadgen.Iteration) error {
		close(started)
		<-release
		it.Record(outcome.Outcome{Classification: outcome.Success})
		return nil
	})
	rec := &countingRecorder{}
	s := newScheduler(t, w, rec, 1)
	vu := s.SpawnVU()

	ctx := context.Background()
	s.Go(func() { s.RunVU(ctx, ctx, vu) })

	<-started
	vu.RequestStop()
	if vu.GetState() != loadgen.VUStateStopping {
		t.Errorf("state = %v, want stopping", vu.GetState())
	}
	close(release)

	if !vu.WaitForStop(time.Second) {
		t.Fatal("VU did not stop")
	}
	if rec.outcomes.Load() != 1 {
		t.Errorf("in-flight iteration should complete, outcomes = %d", rec.outcomes.Load())
	}
}

func TestIteration_NextBatchStandalone(t *testing.T) {
	owner := &loadgen.OwnerState{Slot: 4}
	it := loadgen.NewIteration(owner, nil)

	if it.Owner != 4 {
		t.Errorf("Owner = %d, want 4", it.Owner)
	}
	if a, b := it.NextBatch(), it.NextBatch(); a != 0 || b != 1 {
		t.Errorf("NextBatch() = %d, %d, want 0, 1", a, b)
	}
	it.Record(outcome.Outcome{Classification: outcome.Success})
	if it.Requests() != 1 {
		t.Errorf("Requests() = %d, want 1", it.Requests())
	}
}

func TestThinkTime_Next(t *testing.T) {
	tt := loadgen.ThinkTime{Min: time.Second, Max: 3 * time.Second}
	for i := 0; i < 100; i++ {
		d := tt.Next()
		if d < time.Second || d > 3*time.Second {
			t.Fatalf("Next() = %v outside [1s,3s]", d)
		}
	}

	fixed := loadgen.ThinkTime{Min: time.Second}
	if fixed.Next() != time.Second {
		t.Errorf("Next() with Max<Min = %v, want 1s", fixed.Next())
	}
	if !(loadgen.ThinkTime{}).IsZero() {
		t.Error("zero ThinkTime should report IsZero")
	}
}
