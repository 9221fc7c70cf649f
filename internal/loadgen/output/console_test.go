package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/shiftload/internal/loadgen/engine"
	"github.com/wesleyorama2/shiftload/internal/loadgen/executor"
	"github.com/wesleyorama2/shiftload/internal/loadgen/metrics"
	"github.com/wesleyorama2/shiftload/internal/loadgen/outcome"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{1 * time.Second, "1.0s"},
		{1*time.Minute + 30*time.Second, "1m 30s"},
		{1*time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDuration(tt.duration); got != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, got, tt.expected)
			}
		})
	}
}

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0ms"},
		{500 * time.Microsecond, "500µs"},
		{50 * time.Millisecond, "50ms"},
		{1500 * time.Millisecond, "1.50s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDurationShort(tt.duration); got != tt.expected {
				t.Errorf("formatDurationShort(%v) = %q, want %q", tt.duration, got, tt.expected)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		number   int64
		expected string
	}{
		{0, "0"},
		{100, "100"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
		{-1500, "-1500"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatNumber(tt.number); got != tt.expected {
				t.Errorf("formatNumber(%d) = %q, want %q", tt.number, got, tt.expected)
			}
		})
	}
}

func TestVisibleLen(t *testing.T) {
	tests := []struct {
		input    string
		expected int
	}{
		{"plain", 5},
		{"\033[32mgreen\033[0m", 5},
		{"\033[1m\033[31mred\033[0m │", 5},
		{"", 0},
	}

	for _, tt := range tests {
		if got := visibleLen(tt.input); got != tt.expected {
			t.Errorf("visibleLen(%q) = %d, want %d", tt.input, got, tt.expected)
		}
	}
}

func TestRenderProgressBar(t *testing.T) {
	if got := renderProgressBar(0.5, 4); got != "[██░░]" {
		t.Errorf("renderProgressBar(0.5, 4) = %q", got)
	}
	if got := renderProgressBar(2, 2); got != "[██]" {
		t.Errorf("renderProgressBar(2, 2) = %q, want clamped", got)
	}
	if got := renderProgressBar(-1, 2); got != "[░░]" {
		t.Errorf("renderProgressBar(-1, 2) = %q, want clamped", got)
	}
}

func newTestOutput(buf *bytes.Buffer, quiet bool) *ConsoleOutput {
	return NewConsoleOutput(ConsoleOutputConfig{
		TestName: "batch update",
		Writer:   buf,
		Quiet:    quiet,
		NoColor:  true,
	})
}

func sampleResult(passed bool) *engine.Result {
	return &engine.Result{
		Name:     "batch update",
		Seed:     42,
		Duration: 90 * time.Second,
		Passed:   passed,
		Scenarios: []*engine.RunReport{{
			Scenario:  "update",
			Operation: "update",
			Executor:  "ramping-vus",
			Duration:  90 * time.Second,
			Passed:    passed,
			ThresholdResults: []metrics.ThresholdResult{
				{Name: "http_req_failed: rate < 0.01", Metric: "http_req_failed", Expression: "rate < 0.01", Passed: passed, Actual: 0.25},
				{Name: "slow_responses: rate < 0.1", Metric: "slow_responses", Expression: "rate < 0.1", Passed: true, NoData: true},
			},
			Metrics: map[string]engine.MetricSummary{
				metrics.HTTPReqs:        {Kind: metrics.KindCounter, Count: 1200},
				metrics.HTTPReqDuration: {Kind: metrics.KindTrend, Count: 1200, Avg: 210.5, Med: 180, P95: 812.25, P99: 990, Max: 1400},
				metrics.HTTPReqFailed:   {Kind: metrics.KindRate, Count: 1200, Rate: 0.25},
			},
			Classifications: map[outcome.Classification]int64{
				outcome.Success:     900,
				outcome.ServerError: 280,
				outcome.RateLimited: 20,
			},
			Iterations: 1200,
			Owners:     3,
			Claimed:    120000,
			Warnings:   []string{"20 requests were rate limited"},
		}},
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	newTestOutput(&buf, false).PrintSummary(sampleResult(false))
	out := buf.String()

	for _, want := range []string{
		"batch update - Failed ✗",
		"Seed:          42",
		"✗ update (update, ramping-vus, 1m 30s)",
		"Requests:    1,200",
		"Claimed:     120,000 identifiers across 3 owners",
		"server_error   280",
		"rate_limited   20",
		"http_req_duration",
		"812.2",
		"http_req_failed        25.00%",
		"✗ http_req_failed: rate < 0.01 (actual: 0.25)",
		"✓ slow_responses: rate < 0.1 (actual: 0 no data)",
		"⚠ 20 requests were rate limited",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "client_error") {
		t.Errorf("summary should omit classifications with no outcomes:\n%s", out)
	}
	if strings.Contains(out, "\033[") {
		t.Errorf("NoColor output should not contain ANSI escapes")
	}
}

func TestPrintSummary_Quiet(t *testing.T) {
	var buf bytes.Buffer
	newTestOutput(&buf, true).PrintSummary(sampleResult(true))
	if got := strings.TrimSpace(buf.String()); got != "PASSED" {
		t.Errorf("quiet summary = %q, want PASSED", got)
	}

	buf.Reset()
	newTestOutput(&buf, true).PrintSummary(sampleResult(false))
	if got := strings.TrimSpace(buf.String()); got != "FAILED" {
		t.Errorf("quiet summary = %q, want FAILED", got)
	}
}

func TestUpdate_NonTTYPrintsOneLinePerScenario(t *testing.T) {
	var buf bytes.Buffer
	out := newTestOutput(&buf, false)
	if out.IsTTY() {
		t.Fatal("a buffer is not a terminal")
	}

	out.Update([]*LiveStats{
		{Scenario: "create", Progress: 0.5, Elapsed: 30 * time.Second, ActiveVUs: 3, TotalRequests: 12, RateLimited: 2},
		{Scenario: "list", Progress: 0.25, Elapsed: 30 * time.Second, ActiveVUs: 1, TotalRequests: 40},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "create: 50%") || !strings.Contains(lines[0], "429s: 2") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "list: 25%") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestUpdate_TTYRedrawsInPlace(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf, ForceTTY: true, NoColor: true})

	stats := []*LiveStats{{Scenario: "update", Progress: 0.1, TargetVUs: 3, ActiveVUs: 3}}
	out.Update(stats)
	first := buf.Len()
	if !strings.Contains(buf.String(), "VUs:     3 / 3") {
		t.Errorf("live box missing VU row:\n%s", buf.String())
	}

	out.Update(stats)
	if !strings.Contains(buf.String()[first:], "\033[") {
		t.Error("second update should move the cursor up over the previous frame")
	}
}

func TestStatsFromSnapshot(t *testing.T) {
	snap := &metrics.Snapshot{
		ActiveVUs:     4,
		TotalRequests: 100,
		ErrorRate:     0.1,
		RateLimited:   3,
		CurrentPhase:  metrics.PhaseSteady,
	}
	exec := &executor.Stats{
		Elapsed:       15 * time.Second,
		TotalDuration: 60 * time.Second,
		TargetVUs:     5,
		CurrentStage:  1,
		TotalStages:   3,
	}

	stats := StatsFromSnapshot("update", snap, exec)
	if stats.Progress != 0.25 {
		t.Errorf("Progress = %v, want 0.25", stats.Progress)
	}
	if stats.Remaining != 45*time.Second {
		t.Errorf("Remaining = %v, want 45s", stats.Remaining)
	}
	if stats.CurrentStage != 2 || stats.TotalStages != 3 {
		t.Errorf("stage = %d/%d, want 2/3", stats.CurrentStage, stats.TotalStages)
	}
	if stats.ActiveVUs != 4 || stats.RateLimited != 3 || stats.CurrentPhase != "steady" {
		t.Errorf("stats = %+v", stats)
	}

	empty := StatsFromSnapshot("idle", nil, nil)
	if empty.CurrentPhase != "initializing" {
		t.Errorf("CurrentPhase = %q, want initializing", empty.CurrentPhase)
	}
}
