package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/shiftload/internal/loadgen/metrics"
	"github.com/wesleyorama2/shiftload/internal/loadgen/payload"
	"github.com/wesleyorama2/shiftload/internal/loadgen/rate"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// ConfigurationError is fatal: the run cannot start without the named field.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

var validExecutors = map[string]bool{
	"constant-vus":          true,
	"ramping-vus":           true,
	"constant-arrival-rate": true,
	"ramping-arrival-rate":  true,
}

var validOperations = map[string]bool{
	OperationCreate: true,
	OperationUpdate: true,
	OperationDelete: true,
	OperationList:   true,
}

// Validate checks the structure of the configuration. It does not require
// the API target, which may still come from flags or the environment; see
// CheckTarget.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	for _, name := range c.ScenarioNames() {
		sc := c.Scenarios[name]
		if sc == nil {
			errs.Add("scenarios."+name, "scenario is empty")
			continue
		}
		validateScenario(name, sc, errs)

		if sc.NeedsPool() && c.PoolFor(name) == nil {
			errs.Add("scenarios."+name+".pool", fmt.Sprintf("%s scenarios need an identifier pool", sc.Operation))
		}
	}

	validateThresholds("thresholds", c.Thresholds, errs)
	validateSettings(&c.Settings, errs)

	if c.Pool != nil {
		validatePool("pool", c.Pool, errs)
	}
	if c.Payload != nil {
		validatePayload("payload", c.Payload, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// CheckTarget reports a ConfigurationError when the base URL or API key is
// missing or the URL is unusable.
func (c *TestConfig) CheckTarget() error {
	if c.Settings.BaseURL == "" {
		return &ConfigurationError{Field: "settings.baseUrl", Message: "base URL is required (set baseUrl, --url or " + EnvAPIURL + ")"}
	}
	u, err := url.Parse(c.Settings.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigurationError{Field: "settings.baseUrl", Message: fmt.Sprintf("invalid base URL %q", c.Settings.BaseURL)}
	}
	if c.Settings.APIKey == "" {
		return &ConfigurationError{Field: "settings.apiKey", Message: "API key is required (set apiKey, --api-key or " + EnvAPIKey + ")"}
	}
	return nil
}

func validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)

	if sc.Operation == "" {
		errs.Add(prefix+".operation", "operation is required")
	} else if !validOperations[sc.Operation] {
		errs.Add(prefix+".operation", fmt.Sprintf("unknown operation: %s", sc.Operation))
	}

	if sc.Executor == "" {
		errs.Add(prefix+".executor", "executor type is required")
	} else if !validExecutors[sc.Executor] {
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	switch sc.Executor {
	case "constant-vus":
		if sc.VUs <= 0 {
			errs.Add(prefix+".vus", "vus must be greater than 0")
		}
		validateRequiredDuration(prefix, sc, errs)
	case "ramping-vus":
		if len(sc.Stages) == 0 {
			errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
		}
		if sc.StartVUs < 0 {
			errs.Add(prefix+".startVUs", "startVUs cannot be negative")
		}
	case "constant-arrival-rate":
		if sc.Rate <= 0 {
			errs.Add(prefix+".rate", "rate must be greater than 0")
		}
		validateRequiredDuration(prefix, sc, errs)
		validateVUPool(prefix, sc, errs)
	case "ramping-arrival-rate":
		if len(sc.Stages) == 0 {
			errs.Add(prefix+".stages", "at least one stage is required for ramping-arrival-rate executor")
		}
		if sc.StartRate < 0 {
			errs.Add(prefix+".startRate", "startRate cannot be negative")
		}
		validateVUPool(prefix, sc, errs)
	}

	for i := range sc.Stages {
		validateStage(fmt.Sprintf("%s.stages[%d]", prefix, i), &sc.Stages[i], errs)
	}

	unit := time.Second
	if sc.TimeUnit != "" {
		if d, err := ParseDurationString(sc.TimeUnit); err != nil || d <= 0 {
			errs.Add(prefix+".timeUnit", fmt.Sprintf("invalid timeUnit: %q", sc.TimeUnit))
		} else {
			unit = d
		}
	}
	switch sc.Executor {
	case "constant-arrival-rate":
		validateMinRate(prefix+".rate", sc.Rate, unit, errs)
	case "ramping-arrival-rate":
		validateMinRate(prefix+".startRate", sc.StartRate, unit, errs)
		for i := range sc.Stages {
			validateMinRate(fmt.Sprintf("%s.stages[%d].target", prefix, i), sc.Stages[i].Target, unit, errs)
		}
	}

	if sc.BatchSize < 0 {
		errs.Add(prefix+".batchSize", "batchSize cannot be negative")
	}
	if sc.ConcurrentBatches < 0 {
		errs.Add(prefix+".concurrentBatches", "concurrentBatches cannot be negative")
	}
	if sc.BatchesPerWorker < 0 {
		errs.Add(prefix+".batchesPerWorker", "batchesPerWorker cannot be negative")
	}
	if sc.PageSize < 0 {
		errs.Add(prefix+".pageSize", "pageSize cannot be negative")
	}

	validateOptionalDuration(prefix+".slowThreshold", sc.SlowThreshold, errs)
	validateOptionalDuration(prefix+".rateLimitPause", sc.RateLimitPause, errs)
	validateOptionalDuration(prefix+".timeout", sc.Timeout, errs)
	validateOptionalDuration(prefix+".gracefulStop", sc.GracefulStop, errs)

	if sc.ThinkTime != nil {
		validateThinkTime(prefix+".thinkTime", sc.ThinkTime, errs)
	}
	if sc.Pool != nil {
		validatePool(prefix+".pool", sc.Pool, errs)
	}
	validateThresholds(prefix+".thresholds", sc.Thresholds, errs)
}

func validateRequiredDuration(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.Duration == "" {
		errs.Add(prefix+".duration", fmt.Sprintf("duration is required for %s executor", sc.Executor))
		return
	}
	if d, err := ParseDurationString(sc.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}
}

func validateVUPool(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.PreAllocatedVUs < 0 {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be negative")
	}
	if sc.MaxVUs < 0 {
		errs.Add(prefix+".maxVUs", "maxVUs cannot be negative")
	}
	if sc.MaxVUs > 0 && sc.PreAllocatedVUs > sc.MaxVUs {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be greater than maxVUs")
	}
}

// validateMinRate rejects a positive rate the pacer would treat as paused.
// Zero stays valid for ramping stages.
func validateMinRate(field string, value float64, unit time.Duration, errs *ValidationErrors) {
	if value <= 0 {
		return
	}
	if perSecond := value / unit.Seconds(); perSecond < rate.MinRate {
		errs.Add(field, fmt.Sprintf("%g per %s is below the minimum of %g per second (%g per minute)",
			value, unit, rate.MinRate, rate.MinRate*60))
	}
}

func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if d, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

func validateThinkTime(prefix string, tt *ThinkTimeConfig, errs *ValidationErrors) {
	lo, err := ParseDurationString(tt.Min)
	if err != nil {
		errs.Add(prefix+".min", fmt.Sprintf("invalid min: %v", err))
		return
	}
	hi, err := ParseDurationString(tt.Max)
	if err != nil {
		errs.Add(prefix+".max", fmt.Sprintf("invalid max: %v", err))
		return
	}
	if lo > hi {
		errs.Add(prefix, "min must be less than or equal to max")
	}
}

func validatePool(prefix string, p *PoolConfig, errs *ValidationErrors) {
	sources := 0
	if len(p.IDs) > 0 {
		sources++
	}
	if p.File != "" {
		sources++
	}
	if p.Range != nil {
		sources++
		if p.Range.Count <= 0 {
			errs.Add(prefix+".range.count", "count must be greater than 0")
		}
		if p.Range.Start < 0 {
			errs.Add(prefix+".range.start", "start cannot be negative")
		}
	}
	if p.Fetch != nil {
		sources++
		if p.Fetch.PageSize < 0 || p.Fetch.Limit < 0 {
			errs.Add(prefix+".fetch", "pageSize and limit cannot be negative")
		}
	}

	switch {
	case sources == 0:
		errs.Add(prefix, "one of ids, file, range or fetch is required")
	case sources > 1:
		errs.Add(prefix, "only one of ids, file, range or fetch may be set")
	}
}

func validatePayload(prefix string, p *PayloadConfig, errs *ValidationErrors) {
	if _, err := ParseBaseDate(p.BaseDate); err != nil {
		errs.Add(prefix+".baseDate", err.Error())
	}

	names := make([]string, 0, len(p.Templates))
	for name := range p.Templates {
		names = append(names, name)
	}
	sort.Strings(names)

	enabled := len(p.Templates) == 0
	for _, name := range names {
		w := p.Templates[name]
		if _, ok := payload.ParseTemplate(name); !ok {
			errs.Add(prefix+".templates."+name, "unknown template")
		}
		if w < 0 {
			errs.Add(prefix+".templates."+name, "weight cannot be negative")
		}
		if w > 0 {
			enabled = true
		}
	}
	if !enabled {
		errs.Add(prefix+".templates", "at least one template needs a positive weight")
	}
}

func validateSettings(s *Settings, errs *ValidationErrors) {
	validateOptionalDuration("settings.timeout", s.Timeout, errs)
	validateOptionalDuration("settings.gracefulStop", s.GracefulStop, errs)
	validateOptionalDuration("settings.slowThreshold", s.SlowThreshold, errs)

	if s.ThinkTime != nil {
		validateThinkTime("settings.thinkTime", s.ThinkTime, errs)
	}

	// The base URL may still come from flags or the environment;
	// CheckTarget validates it once resolved.

	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "maxIdleConnsPerHost cannot be negative")
	}
}

func validateOptionalDuration(field, value string, errs *ValidationErrors) {
	if value == "" {
		return
	}
	if d, err := ParseDurationString(value); err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
	} else if d < 0 {
		errs.Add(field, "duration cannot be negative")
	}
}

func validateThresholds(prefix string, defs map[string][]string, errs *ValidationErrors) {
	metricNames := make([]string, 0, len(defs))
	for name := range defs {
		metricNames = append(metricNames, name)
	}
	sort.Strings(metricNames)

	for _, name := range metricNames {
		for i, expr := range defs[name] {
			if _, err := metrics.ParseThreshold(name, expr); err != nil {
				errs.Add(fmt.Sprintf("%s.%s[%d]", prefix, name, i), err.Error())
			}
		}
	}
}
