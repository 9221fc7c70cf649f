package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/shiftload/internal/loadgen/payload"
)

// Environment variables consulted when settings leave the API target unset.
const (
	EnvAPIURL = "API_URL"
	EnvAPIKey = "API_KEY"
)

// LoadConfig reads a YAML or JSON file, applies defaults and validates it.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data, path)
}

// ParseConfig decodes data, choosing JSON or YAML by the filename's
// extension, then applies defaults and validates.
func ParseConfig(data []byte, filename string) (*TestConfig, error) {
	var cfg TestConfig

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	ApplyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseDurationString parses "30s", "2m", "1h30m", or a bare integer as
// seconds. An empty string is zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// ParseScenarioDuration returns the explicit duration, or the sum of the
// stage durations.
func ParseScenarioDuration(sc *ScenarioConfig) (time.Duration, error) {
	if sc.Duration != "" {
		return ParseDurationString(sc.Duration)
	}
	if len(sc.Stages) == 0 {
		return 0, fmt.Errorf("scenario has neither a duration nor stages")
	}

	var total time.Duration
	for i, stage := range sc.Stages {
		d, err := ParseDurationString(stage.Duration)
		if err != nil {
			return 0, fmt.Errorf("stages[%d]: %w", i, err)
		}
		total += d
	}
	return total, nil
}

// ApplyEnv fills the base URL and API key from the environment when the
// file left them empty.
func ApplyEnv(cfg *TestConfig, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if cfg.Settings.BaseURL == "" {
		cfg.Settings.BaseURL = getenv(EnvAPIURL)
	}
	if cfg.Settings.APIKey == "" {
		cfg.Settings.APIKey = getenv(EnvAPIKey)
	}
}

// ScenarioNames returns the scenario names in sorted order.
func (c *TestConfig) ScenarioNames() []string {
	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ThresholdsFor returns the scenario's thresholds, or the top-level ones
// when the scenario declares none.
func (c *TestConfig) ThresholdsFor(name string) map[string][]string {
	if sc, ok := c.Scenarios[name]; ok && len(sc.Thresholds) > 0 {
		return sc.Thresholds
	}
	return c.Thresholds
}

// PoolFor returns the scenario's pool override, or the top-level pool.
func (c *TestConfig) PoolFor(name string) *PoolConfig {
	if sc, ok := c.Scenarios[name]; ok && sc.Pool != nil {
		return sc.Pool
	}
	return c.Pool
}

// ParseBaseDate parses a YYYY-MM-DD date. Empty is the zero time.
func ParseBaseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// SynthesizerConfig converts the payload section. The seed is resolved by
// the caller so a random one can be logged before the run.
func (p *PayloadConfig) SynthesizerConfig(seed uint64) (payload.Config, error) {
	cfg := payload.Config{Seed: seed}
	if p == nil {
		return cfg, nil
	}

	base, err := ParseBaseDate(p.BaseDate)
	if err != nil {
		return cfg, err
	}

	cfg.Source = p.Source
	cfg.JobID = p.JobID
	cfg.CustomFieldID = p.CustomFieldID
	cfg.BookCandidateID = p.BookCandidateID
	cfg.BaseDate = base

	if len(p.Templates) > 0 {
		cfg.Weights = make(map[payload.TemplateID]int, len(p.Templates))
		for name, w := range p.Templates {
			id, ok := payload.ParseTemplate(name)
			if !ok {
				return cfg, fmt.Errorf("unknown template %q", name)
			}
			cfg.Weights[id] = w
		}
	}
	return cfg, nil
}
