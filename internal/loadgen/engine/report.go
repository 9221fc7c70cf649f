package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/wesleyorama2/shiftload/internal/loadgen/metrics"
	"github.com/wesleyorama2/shiftload/internal/loadgen/outcome"
)

// MetricSummary is the reported statistics of one series.
type MetricSummary struct {
	Kind  metrics.Kind `json:"kind" yaml:"kind"`
	Count int64        `json:"count" yaml:"count"`
	Avg   float64      `json:"avg" yaml:"avg"`
	Min   float64      `json:"min" yaml:"min"`
	Max   float64      `json:"max" yaml:"max"`
	Med   float64      `json:"med" yaml:"med"`
	P90   float64      `json:"p90" yaml:"p90"`
	P95   float64      `json:"p95" yaml:"p95"`
	P99   float64      `json:"p99" yaml:"p99"`
	Rate  float64      `json:"rate" yaml:"rate"`
}

// RunReport is the outcome of one scenario.
type RunReport struct {
	Scenario  string        `json:"scenario" yaml:"scenario"`
	Operation string        `json:"operation" yaml:"operation"`
	Executor  string        `json:"executor" yaml:"executor"`
	Duration  time.Duration `json:"duration" yaml:"duration"`

	// Passed is true iff every threshold held.
	Passed           bool                      `json:"passed" yaml:"passed"`
	ThresholdResults []metrics.ThresholdResult `json:"thresholdResults" yaml:"thresholdResults"`

	Metrics         map[string]MetricSummary         `json:"metrics" yaml:"metrics"`
	Classifications map[outcome.Classification]int64 `json:"classifications" yaml:"classifications"`

	Iterations        int64 `json:"iterations" yaml:"iterations"`
	DroppedIterations int64 `json:"droppedIterations" yaml:"droppedIterations"`
	ExhaustedOwners   int   `json:"exhaustedOwners" yaml:"exhaustedOwners"`
	Owners            int   `json:"owners" yaml:"owners"`

	// Claimed counts pool identifiers handed to owners. Partitioned
	// operations only.
	Claimed int `json:"claimed,omitempty" yaml:"claimed,omitempty"`

	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// Error is set when the scenario could not run to completion.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Result is the outcome of a whole run.
type Result struct {
	Name      string        `json:"name" yaml:"name"`
	Seed      uint64        `json:"seed" yaml:"seed"`
	StartTime time.Time     `json:"startTime" yaml:"startTime"`
	EndTime   time.Time     `json:"endTime" yaml:"endTime"`
	Duration  time.Duration `json:"duration" yaml:"duration"`

	// Passed is true iff every scenario passed.
	Passed    bool         `json:"passed" yaml:"passed"`
	Scenarios []*RunReport `json:"scenarios" yaml:"scenarios"`
}

// Failed returns the threshold results that did not hold, across scenarios.
func (r *Result) Failed() []metrics.ThresholdResult {
	var failed []metrics.ThresholdResult
	for _, s := range r.Scenarios {
		for _, tr := range s.ThresholdResults {
			if !tr.Passed {
				failed = append(failed, tr)
			}
		}
	}
	return failed
}

func buildReport(r *ScenarioRunner, elapsed time.Duration, runErr error) *RunReport {
	results := r.Aggregator.Evaluate(r.Thresholds)

	report := &RunReport{
		Scenario:          r.Name,
		Operation:         r.Config.Operation,
		Executor:          string(r.ExecConfig.Type),
		Duration:          elapsed,
		Passed:            metrics.AllPassed(results) && runErr == nil,
		ThresholdResults:  results,
		Metrics:           make(map[string]MetricSummary),
		Classifications:   r.Aggregator.Classifications(),
		Iterations:        r.Aggregator.Counter(metrics.Iterations).Value(),
		DroppedIterations: r.Scheduler.DroppedIterations(),
		ExhaustedOwners:   r.Scheduler.ExhaustedOwners(),
		Owners:            r.Scheduler.MaxVUs(),
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}
	if r.Allocator != nil {
		for owner := range report.Owners {
			report.Claimed += r.Allocator.Claimed(owner)
		}
	}

	for name, s := range r.Aggregator.Summaries() {
		report.Metrics[name] = MetricSummary{
			Kind:  s.Kind,
			Count: s.Count,
			Avg:   s.Avg,
			Min:   s.Min,
			Max:   s.Max,
			Med:   s.Med,
			P90:   s.P90,
			P95:   s.P95,
			P99:   s.P99,
			Rate:  s.Rate,
		}
	}

	report.Warnings = warnings(r, report)
	return report
}

func warnings(r *ScenarioRunner, report *RunReport) []string {
	var out []string

	if report.DroppedIterations > 0 {
		out = append(out, fmt.Sprintf("%d iterations dropped: %d VUs could not sustain the configured rate, raise maxVUs",
			report.DroppedIterations, r.ExecConfig.MaxVUsNeeded()))
	}
	if report.ExhaustedOwners > 0 {
		out = append(out, fmt.Sprintf("%d of %d owners exhausted their identifier partition before the run ended",
			report.ExhaustedOwners, report.Owners))
	}
	if n := report.Classifications[outcome.RateLimited]; n > 0 {
		out = append(out, fmt.Sprintf("%d requests were rate limited", n))
	}
	for _, tr := range report.ThresholdResults {
		if tr.NoData {
			out = append(out, fmt.Sprintf("threshold %q evaluated without data", tr.Name))
		}
	}
	if report.Metrics[metrics.HTTPReqs].Count == 0 && report.Error == "" {
		out = append(out, "no requests were sent")
	}

	sort.Strings(out)
	return out
}
