// Package config loads and validates load test definitions.
package config

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "Shift batch update"
//	settings:
//	  baseUrl: "https://api.example.com/api/v1"
//	  timeout: 30s
//	pool:
//	  file: shift-ids.json
//	payload:
//	  seed: 42
//	  jobId: "job-123"
//	scenarios:
//	  concurrent_updates:
//	    operation: update
//	    executor: ramping-vus
//	    stages:
//	      - duration: 30s
//	        target: 5
//	    batchSize: 100
//	    batchesPerWorker: 3
//	thresholds:
//	  http_req_duration: ["p(95) < 4s"]
//	  http_req_failed: ["rate < 0.01"]
type TestConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Settings Settings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Pool is the default identifier source for update and delete scenarios.
	Pool *PoolConfig `json:"pool,omitempty" yaml:"pool,omitempty"`

	Payload *PayloadConfig `json:"payload,omitempty" yaml:"payload,omitempty"`

	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds apply to every scenario that declares none of its own.
	// Keys are series names, values threshold expressions.
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	Options *ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// Settings are shared by every scenario.
type Settings struct {
	// BaseURL is the API root, e.g. https://host/api/v1. Falls back to API_URL.
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// APIKey is sent as x-api-key. Falls back to API_KEY.
	APIKey string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`

	Timeout       string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	UserAgent     string            `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	Headers       map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	GracefulStop  string            `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
	SlowThreshold string            `json:"slowThreshold,omitempty" yaml:"slowThreshold,omitempty"`
	ThinkTime     *ThinkTimeConfig  `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
}

// ThinkTimeConfig bounds the random pause between iterations of a VU.
type ThinkTimeConfig struct {
	Min string `json:"min" yaml:"min"`
	Max string `json:"max" yaml:"max"`
}

// PoolConfig selects where identifiers come from. Exactly one source is set.
type PoolConfig struct {
	// IDs lists identifiers inline.
	IDs []string `json:"ids,omitempty" yaml:"ids,omitempty"`

	// File is a fixture written by `shiftload ids`, a JSON array or one id per line.
	File string `json:"file,omitempty" yaml:"file,omitempty"`

	// Range generates prefix+start .. prefix+start+count-1.
	Range *RangeConfig `json:"range,omitempty" yaml:"range,omitempty"`

	// Fetch pages identifiers from the API before the run.
	Fetch *FetchConfig `json:"fetch,omitempty" yaml:"fetch,omitempty"`
}

// RangeConfig is a synthetic identifier range.
type RangeConfig struct {
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Start  int    `json:"start,omitempty" yaml:"start,omitempty"`
	Count  int    `json:"count" yaml:"count"`
}

// FetchConfig pages through the list endpoint to collect identifiers.
type FetchConfig struct {
	PageSize int    `json:"pageSize,omitempty" yaml:"pageSize,omitempty"`
	Limit    int    `json:"limit,omitempty" yaml:"limit,omitempty"`
	JobID    string `json:"jobId,omitempty" yaml:"jobId,omitempty"`
}

// PayloadConfig drives request body synthesis.
type PayloadConfig struct {
	// Seed makes bodies reproducible. Unset means a random seed, which is
	// logged and reported so the run can be replayed.
	Seed *uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	Source          string `json:"source,omitempty" yaml:"source,omitempty"`
	JobID           string `json:"jobId,omitempty" yaml:"jobId,omitempty"`
	CustomFieldID   string `json:"customFieldId,omitempty" yaml:"customFieldId,omitempty"`
	BookCandidateID string `json:"bookCandidateId,omitempty" yaml:"bookCandidateId,omitempty"`

	// BaseDate is the first day of generated create bodies (YYYY-MM-DD).
	BaseDate string `json:"baseDate,omitempty" yaml:"baseDate,omitempty"`

	// Templates weights update templates by name; zero disables one.
	Templates map[string]int `json:"templates,omitempty" yaml:"templates,omitempty"`
}

// ScenarioConfig defines one load scenario: what it sends and how the load
// is shaped over time.
type ScenarioConfig struct {
	// Operation is create, update, delete or list.
	Operation string `json:"operation" yaml:"operation"`

	// Executor is constant-vus, ramping-vus, constant-arrival-rate or
	// ramping-arrival-rate.
	Executor string `json:"executor" yaml:"executor"`

	VUs      int    `json:"vus,omitempty" yaml:"vus,omitempty"`
	StartVUs int    `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Rate is iterations per TimeUnit (default 1s).
	Rate      float64 `json:"rate,omitempty" yaml:"rate,omitempty"`
	StartRate float64 `json:"startRate,omitempty" yaml:"startRate,omitempty"`
	TimeUnit  string  `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// RatePerMinute is shorthand for rate with timeUnit 1m.
	RatePerMinute float64 `json:"ratePerMinute,omitempty" yaml:"ratePerMinute,omitempty"`

	PreAllocatedVUs int           `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int           `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`
	Stages          []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`
	GracefulStop    string        `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// BatchSize is the number of items per batch request.
	BatchSize int `json:"batchSize,omitempty" yaml:"batchSize,omitempty"`

	// ConcurrentBatches is how many batch requests one iteration sends at once.
	ConcurrentBatches int `json:"concurrentBatches,omitempty" yaml:"concurrentBatches,omitempty"`

	// BatchesPerWorker caps the batches one owner sends; it sets the band
	// of identifiers each owner reserves.
	BatchesPerWorker int `json:"batchesPerWorker,omitempty" yaml:"batchesPerWorker,omitempty"`

	// PageSize is the list page size.
	PageSize int `json:"pageSize,omitempty" yaml:"pageSize,omitempty"`

	SlowThreshold  string           `json:"slowThreshold,omitempty" yaml:"slowThreshold,omitempty"`
	ThinkTime      *ThinkTimeConfig `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`
	RateLimitPause string           `json:"rateLimitPause,omitempty" yaml:"rateLimitPause,omitempty"`
	Timeout        string           `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Pool overrides the top-level pool for this scenario.
	Pool *PoolConfig `json:"pool,omitempty" yaml:"pool,omitempty"`

	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count (ramping-vus) or iterations per time unit
	// (ramping-arrival-rate)
	Target float64 `json:"target" yaml:"target"`

	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ExecutionOptions controls how scenarios are run together.
type ExecutionOptions struct {
	// Sequential runs scenarios one-by-one instead of in parallel.
	Sequential bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`
}

// Operations a scenario can perform.
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
	OperationList   = "list"
)

// NeedsPool reports whether the operation mutates existing identifiers.
func (sc *ScenarioConfig) NeedsPool() bool {
	return sc.Operation == OperationUpdate || sc.Operation == OperationDelete
}

// IsBatch reports whether the operation sends batch bodies.
func (sc *ScenarioConfig) IsBatch() bool {
	return sc.Operation != OperationList
}
