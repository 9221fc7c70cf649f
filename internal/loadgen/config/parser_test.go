package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wesleyorama2/shiftload/internal/loadgen/payload"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "surrounding space", input: " 4s ", expected: 4 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

const updateYAML = `
name: "Concurrent updates"
settings:
  baseUrl: "https://api.example.com/api/v1"
  apiKey: "secret"
pool:
  range:
    prefix: "shift-"
    count: 1000
payload:
  seed: 42
  jobId: "job-1"
scenarios:
  concurrent_updates:
    operation: update
    executor: ramping-vus
    stages:
      - duration: 30s
        target: 3
      - duration: 1m
        target: 3
    batchSize: 100
    batchesPerWorker: 3
  list:
    operation: list
    executor: constant-arrival-rate
    ratePerMinute: 30
    duration: 2m
    maxVUs: 5
    thresholds:
      http_req_duration: ["p(95) < 500"]
thresholds:
  http_req_failed: ["rate < 0.01"]
`

func TestParseConfig_YAML(t *testing.T) {
	cfg, err := ParseConfig([]byte(updateYAML), "test.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if cfg.Name != "Concurrent updates" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Payload == nil || cfg.Payload.Seed == nil || *cfg.Payload.Seed != 42 {
		t.Errorf("Payload.Seed = %v, want 42", cfg.Payload)
	}
	if got := cfg.ScenarioNames(); len(got) != 2 || got[0] != "concurrent_updates" || got[1] != "list" {
		t.Errorf("ScenarioNames() = %v", got)
	}

	upd := cfg.Scenarios["concurrent_updates"]
	if upd.ConcurrentBatches != DefaultConcurrentBatches {
		t.Errorf("ConcurrentBatches = %d, want default", upd.ConcurrentBatches)
	}
	if upd.SlowThreshold != DefaultBatchSlowThreshold {
		t.Errorf("update SlowThreshold = %q", upd.SlowThreshold)
	}
	if upd.ThinkTime == nil || upd.ThinkTime.Min != "1s" || upd.ThinkTime.Max != "3s" {
		t.Errorf("update ThinkTime = %+v", upd.ThinkTime)
	}
	if d, _ := ParseScenarioDuration(upd); d != 90*time.Second {
		t.Errorf("ParseScenarioDuration() = %v, want 90s", d)
	}

	list := cfg.Scenarios["list"]
	if list.Rate != 30 || list.TimeUnit != "1m" {
		t.Errorf("ratePerMinute not converted: rate=%v timeUnit=%q", list.Rate, list.TimeUnit)
	}
	if list.SlowThreshold != DefaultListSlowThreshold {
		t.Errorf("list SlowThreshold = %q", list.SlowThreshold)
	}
	if list.PageSize != DefaultPageSize {
		t.Errorf("list PageSize = %d", list.PageSize)
	}
}

func TestParseConfig_JSON(t *testing.T) {
	data := `{
  "name": "Creates",
  "scenarios": {
    "creates": {"operation": "create", "executor": "constant-vus", "vus": 2, "duration": "10s"}
  }
}`
	cfg, err := ParseConfig([]byte(data), "test.json")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	sc := cfg.Scenarios["creates"]
	if sc.VUs != 2 || sc.BatchSize != DefaultBatchSize {
		t.Errorf("scenario = %+v", sc)
	}
	if cfg.Settings.Timeout != DefaultTimeout || cfg.Settings.UserAgent != DefaultUserAgent {
		t.Errorf("settings defaults not applied: %+v", cfg.Settings)
	}
}

func TestParseConfig_InvalidYAML(t *testing.T) {
	if _, err := ParseConfig([]byte("scenarios: [unclosed"), "bad.yaml"); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "load.yaml")
	if err := os.WriteFile(path, []byte(updateYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(cfg.Scenarios) != 2 {
		t.Errorf("got %d scenarios", len(cfg.Scenarios))
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestThresholdsFor(t *testing.T) {
	cfg, err := ParseConfig([]byte(updateYAML), "test.yaml")
	if err != nil {
		t.Fatal(err)
	}

	if got := cfg.ThresholdsFor("list"); len(got["http_req_duration"]) != 1 || got["http_req_failed"] != nil {
		t.Errorf("list thresholds = %v, want its own", got)
	}
	if got := cfg.ThresholdsFor("concurrent_updates"); len(got["http_req_failed"]) != 1 {
		t.Errorf("update thresholds = %v, want top-level", got)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{EnvAPIURL: "http://env.example", EnvAPIKey: "env-key"}
	getenv := func(k string) string { return env[k] }

	cfg := &TestConfig{}
	ApplyEnv(cfg, getenv)
	if cfg.Settings.BaseURL != "http://env.example" || cfg.Settings.APIKey != "env-key" {
		t.Errorf("env not applied: %+v", cfg.Settings)
	}

	cfg = &TestConfig{Settings: Settings{BaseURL: "http://file.example"}}
	ApplyEnv(cfg, getenv)
	if cfg.Settings.BaseURL != "http://file.example" {
		t.Errorf("file value overridden: %q", cfg.Settings.BaseURL)
	}
}

func TestSynthesizerConfig(t *testing.T) {
	p := &PayloadConfig{
		JobID:     "job-1",
		BaseDate:  "2025-03-01",
		Templates: map[string]int{"status-only": 2, "rate-cost": 0},
	}

	cfg, err := p.SynthesizerConfig(7)
	if err != nil {
		t.Fatalf("SynthesizerConfig() error = %v", err)
	}
	if cfg.Seed != 7 || cfg.JobID != "job-1" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.BaseDate.Month() != time.March || cfg.BaseDate.Day() != 1 {
		t.Errorf("BaseDate = %v", cfg.BaseDate)
	}
	if cfg.Weights[payload.StatusOnly] != 2 || cfg.Weights[payload.RateCost] != 0 {
		t.Errorf("Weights = %v", cfg.Weights)
	}

	p.Templates = map[string]int{"nope": 1}
	if _, err := p.SynthesizerConfig(7); err == nil {
		t.Error("expected error for unknown template")
	}

	var none *PayloadConfig
	if cfg, err := none.SynthesizerConfig(3); err != nil || cfg.Seed != 3 {
		t.Errorf("nil payload: cfg=%+v err=%v", cfg, err)
	}
}

func TestExampleConfigs(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "..", "examples", "*.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Fatal("no example configs found")
	}

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if cfg.Name == "" {
				t.Error("example has no name")
			}
			for _, name := range cfg.ScenarioNames() {
				if len(cfg.ThresholdsFor(name)) == 0 {
					t.Errorf("scenario %s has no thresholds", name)
				}
			}
		})
	}
}
