package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/shiftload/internal/loadgen/engine"
	"github.com/wesleyorama2/shiftload/internal/loadgen/metrics"
	"github.com/wesleyorama2/shiftload/internal/loadgen/outcome"
)

func sampleResult() *engine.Result {
	return &engine.Result{
		Name:      "batch update",
		Seed:      42,
		StartTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:  90 * time.Second,
		Passed:    false,
		Scenarios: []*engine.RunReport{
			{
				Scenario:  "update",
				Operation: "update",
				Executor:  "ramping-vus",
				Duration:  90 * time.Second,
				ThresholdResults: []metrics.ThresholdResult{
					{Name: "http_req_duration: p(95) < 4000", Metric: "http_req_duration", Expression: "p(95) < 4000", Passed: true, Actual: 812},
					{Name: "http_req_failed: rate < 0.01", Metric: "http_req_failed", Expression: "rate < 0.01", Passed: false, Actual: 0.2},
				},
				Metrics: map[string]engine.MetricSummary{
					metrics.HTTPReqs: {Kind: metrics.KindCounter, Count: 10},
				},
				Classifications: map[outcome.Classification]int64{outcome.Success: 8, outcome.ServerError: 2},
				Warnings:        []string{"2 of 3 owners exhausted their identifier partition before the run ended"},
			},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{in: "json", want: FormatJSON},
		{in: "YAML", want: FormatYAML},
		{in: "yml", want: FormatYAML},
		{in: "junit", want: FormatJUnit},
		{in: "xml", want: FormatJUnit},
		{in: "csv", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatForPath(t *testing.T) {
	tests := map[string]OutputFormat{
		"report.json":  FormatJSON,
		"report.yaml":  FormatYAML,
		"junit.xml":    FormatJUnit,
		"report":       FormatJSON,
		"out/report.x": FormatJSON,
	}
	for path, want := range tests {
		if got := FormatForPath(path); got != want {
			t.Errorf("FormatForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestWriteResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResult(&buf, FormatJSON, sampleResult()); err != nil {
		t.Fatalf("WriteResult() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["passed"] != false {
		t.Errorf("passed = %v, want false", decoded["passed"])
	}
	scenarios, ok := decoded["scenarios"].([]any)
	if !ok || len(scenarios) != 1 {
		t.Fatalf("scenarios = %v, want one entry", decoded["scenarios"])
	}
	first := scenarios[0].(map[string]any)
	classes := first["classifications"].(map[string]any)
	if classes["server_error"] != float64(2) {
		t.Errorf("classifications.server_error = %v, want 2", classes["server_error"])
	}
}

func TestWriteResult_YAML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResult(&buf, FormatYAML, sampleResult()); err != nil {
		t.Fatalf("WriteResult() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"name: batch update", "seed: 42", "scenario: update", "duration: 1m30s"} {
		if !strings.Contains(out, want) {
			t.Errorf("YAML output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteResult_JUnit(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResult(&buf, FormatJUnit, sampleResult()); err != nil {
		t.Fatalf("WriteResult() error = %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, "<?xml") {
		t.Errorf("JUnit output should start with the XML header")
	}
	for _, want := range []string{
		`<testsuites name="batch update" tests="2" failures="1"`,
		`<testsuite name="update" tests="2" failures="1" errors="0"`,
		`type="threshold"`,
		"owners exhausted",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("JUnit output missing %q:\n%s", want, out)
		}
	}
}

func TestJUnitFromResult_ScenarioError(t *testing.T) {
	result := sampleResult()
	result.Scenarios[0].Error = "executor failed"
	result.Scenarios[0].ThresholdResults = nil

	suites := JUnitFromResult(result)
	if len(suites.TestSuites) != 1 {
		t.Fatalf("got %d suites, want 1", len(suites.TestSuites))
	}
	suite := suites.TestSuites[0]
	if suite.Errors != 1 || suite.SystemErr != "executor failed" {
		t.Errorf("suite = %+v, want one error with the message in system-err", suite)
	}
}

func TestWriteResult_UnknownFormat(t *testing.T) {
	if err := WriteResult(&bytes.Buffer{}, OutputFormat("csv"), sampleResult()); err == nil {
		t.Error("WriteResult() should reject an unknown format")
	}
}
