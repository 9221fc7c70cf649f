package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/wesleyorama2/shiftload/internal/loadgen/outcome"
)

func TestNewEngine(t *testing.T) {
	engine := NewEngine()

	snapshot := engine.GetSnapshot()
	if snapshot.TotalRequests != 0 {
		t.Errorf("Initial TotalRequests = %d, want 0", snapshot.TotalRequests)
	}
	if snapshot.CurrentPhase != PhaseInit {
		t.Errorf("Initial phase = %v, want %v", snapshot.CurrentPhase, PhaseInit)
	}
}

func TestEngine_RecordOutcome(t *testing.T) {
	engine := NewEngine()

	engine.RecordOutcome(outcome.Outcome{Duration: 10 * time.Millisecond, Classification: outcome.Success})
	engine.RecordOutcome(outcome.Outcome{Duration: 20 * time.Millisecond, Classification: outcome.Success, Slow: true})
	engine.RecordOutcome(outcome.Outcome{Duration: 30 * time.Millisecond, Classification: outcome.ServerError})
	engine.RecordOutcome(outcome.Outcome{Duration: 5 * time.Millisecond, Classification: outcome.RateLimited})
	engine.RecordIteration(time.Second)
	engine.RecordDropped()

	snapshot := engine.GetSnapshot()

	if snapshot.TotalRequests != 4 {
		t.Errorf("TotalRequests = %d, want 4", snapshot.TotalRequests)
	}
	if snapshot.SuccessRequests != 2 {
		t.Errorf("SuccessRequests = %d, want 2", snapshot.SuccessRequests)
	}
	if snapshot.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", snapshot.FailedRequests)
	}
	if snapshot.RateLimited != 1 {
		t.Errorf("RateLimited = %d, want 1", snapshot.RateLimited)
	}
	if snapshot.SlowRequests != 1 {
		t.Errorf("SlowRequests = %d, want 1", snapshot.SlowRequests)
	}
	if snapshot.ErrorRate != 0.25 {
		t.Errorf("ErrorRate = %v, want 0.25", snapshot.ErrorRate)
	}
	if snapshot.Iterations != 1 || snapshot.DroppedIterations != 1 {
		t.Errorf("Iterations = %d, Dropped = %d, want 1, 1", snapshot.Iterations, snapshot.DroppedIterations)
	}
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := NewEngine()

	for i := 1; i <= 10; i++ {
		engine.RecordOutcome(outcome.Outcome{
			Duration:       time.Duration(i*10) * time.Millisecond,
			Classification: outcome.Success,
		})
	}

	latency := engine.GetSnapshot().Latency

	// HDR binning keeps 3 significant figures
	if latency.P50 < 40*time.Millisecond || latency.P50 > 60*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms", latency.P50)
	}
	if latency.P99 < 90*time.Millisecond || latency.P99 > 110*time.Millisecond {
		t.Errorf("P99 = %v, want ~100ms", latency.P99)
	}
	if latency.Count != 10 {
		t.Errorf("Count = %d, want 10", latency.Count)
	}
}

func TestEngine_Phases(t *testing.T) {
	engine := NewEngine()

	phases := []Phase{PhaseRampUp, PhaseSteady, PhaseSteady, PhaseRampDown, PhaseDone}
	for _, phase := range phases {
		engine.SetPhase(phase)
		if got := engine.GetPhase(); got != phase {
			t.Errorf("GetPhase() = %v, want %v", got, phase)
		}
	}

	history := engine.GetPhaseHistory()
	if len(history) != 4 {
		t.Fatalf("phase history length = %d, want 4 (repeats are ignored)", len(history))
	}
	if history[0].Phase != PhaseRampUp || history[3].Phase != PhaseDone {
		t.Errorf("unexpected history %+v", history)
	}
}

func TestEngine_ActiveVUs(t *testing.T) {
	engine := NewEngine()

	engine.SetActiveVUs(10)
	if got := engine.GetActiveVUs(); got != 10 {
		t.Errorf("GetActiveVUs() = %d, want 10", got)
	}
	if got := engine.GetSnapshot().ActiveVUs; got != 10 {
		t.Errorf("snapshot ActiveVUs = %d, want 10", got)
	}
}

func TestEngine_Reset(t *testing.T) {
	engine := NewEngine()

	engine.RecordOutcome(outcome.Outcome{Duration: time.Millisecond, Classification: outcome.Success})
	engine.SetPhase(PhaseSteady)
	engine.SetActiveVUs(3)
	engine.Reset()

	snapshot := engine.GetSnapshot()
	if snapshot.TotalRequests != 0 || snapshot.Latency.Count != 0 {
		t.Errorf("after Reset: requests = %d, latency count = %d", snapshot.TotalRequests, snapshot.Latency.Count)
	}
	if snapshot.CurrentPhase != PhaseInit {
		t.Errorf("after Reset: phase = %v", snapshot.CurrentPhase)
	}
	if len(engine.GetPhaseHistory()) != 0 {
		t.Error("after Reset: phase history not cleared")
	}
}

func TestEngine_ConcurrentRecording(t *testing.T) {
	engine := NewEngine()

	var wg sync.WaitGroup
	for w := 0; w < 20; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				engine.RecordOutcome(outcome.Outcome{Duration: time.Millisecond, Classification: outcome.Success})
				_ = engine.GetSnapshot()
			}
		}()
	}
	wg.Wait()

	if got := engine.GetSnapshot().TotalRequests; got != 5000 {
		t.Errorf("TotalRequests = %d, want 5000", got)
	}
}
