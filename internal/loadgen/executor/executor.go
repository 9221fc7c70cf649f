// Package executor decides how much load a scenario generates over time:
// how many virtual users run (VU executors) or how many iterations start
// per second (arrival-rate executors).
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/shiftload/internal/loadgen"
	"github.com/wesleyorama2/shiftload/internal/loadgen/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps the VU count linearly through stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantArrivalRate starts iterations at a fixed rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"

	// TypeRampingArrivalRate ramps the iteration rate linearly through stages.
	TypeRampingArrivalRate Type = "ramping-arrival-rate"
)

// Types lists every executor type.
var Types = []Type{TypeConstantVUs, TypeRampingVUs, TypeConstantArrivalRate, TypeRampingArrivalRate}

// DefaultGracefulStop is how long in-flight iterations may run on after the
// scenario ends before their requests are abandoned.
const DefaultGracefulStop = 30 * time.Second

// controlInterval is how often ramping executors re-evaluate their target.
const controlInterval = 100 * time.Millisecond

// hardStopWait bounds the wait for iterations after their requests were
// cancelled.
const hardStopWait = 10 * time.Second

// Executor drives one scenario's load shape.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init validates and stores the configuration. Called once before Run.
	Init(ctx context.Context, config *Config) error

	// Run generates load and blocks until the scenario is over and its
	// in-flight iterations have drained.
	Run(ctx context.Context, scheduler *loadgen.VUScheduler, engine *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor statistics.
	GetStats() *Stats

	// Stop ends the scenario early. New iterations stop immediately;
	// in-flight iterations get the graceful stop period.
	Stop(ctx context.Context) error
}

// Config is the load profile of one scenario. Which fields apply depends
// on Type.
type Config struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`

	// constant-vus
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// ramping-vus
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// arrival-rate executors: Rate and StartRate are iterations per TimeUnit
	Rate            float64       `json:"rate,omitempty" yaml:"rate,omitempty"`
	StartRate       float64       `json:"startRate,omitempty" yaml:"startRate,omitempty"`
	TimeUnit        time.Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`
	PreAllocatedVUs int           `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int           `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// ramping executors
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulStop is how long in-flight iterations may finish after the
	// run ends. Nil means DefaultGracefulStop; zero abandons them at once.
	GracefulStop *time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// Stage is one leg of a ramping profile. The value moves linearly from the
// previous stage's target (or the start value) to Target over Duration.
type Stage struct {
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count (ramping-vus) or iterations per time unit
	// (ramping-arrival-rate).
	Target float64 `json:"target" yaml:"target"`

	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	Iterations        int64 `json:"iterations"`
	DroppedIterations int64 `json:"droppedIterations"`

	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName,omitempty"`
	TotalStages      int    `json:"totalStages"`

	// iterations per second
	CurrentRate float64 `json:"currentRate,omitempty"`
	TargetRate  float64 `json:"targetRate,omitempty"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}
	if c.GracefulStop != nil && *c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if c.StartVUs < 0 {
			return &ValidationError{Field: "startVUs", Message: "startVUs must be >= 0"}
		}
		if err := c.validateStages(); err != nil {
			return err
		}
		if c.peak() < 1 {
			return &ValidationError{Field: "stages", Message: "at least one stage must target 1 or more VUs"}
		}

	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}
		if err := c.validateArrival(); err != nil {
			return err
		}

	case TypeRampingArrivalRate:
		if c.StartRate < 0 {
			return &ValidationError{Field: "startRate", Message: "startRate must be >= 0"}
		}
		if err := c.validateStages(); err != nil {
			return err
		}
		if c.peak() <= 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage must target a rate > 0"}
		}
		if err := c.validateArrival(); err != nil {
			return err
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

func (c *Config) validateStages() error {
	if len(c.Stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	for i, s := range c.Stages {
		if s.Duration <= 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration must be > 0"}
		}
		if s.Target < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must be >= 0"}
		}
	}
	return nil
}

func (c *Config) validateArrival() error {
	if c.TimeUnit < 0 {
		return &ValidationError{Field: "timeUnit", Message: "timeUnit must be > 0"}
	}
	if c.PreAllocatedVUs < 0 {
		return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs must be >= 0"}
	}
	if c.MaxVUs < 0 {
		return &ValidationError{Field: "maxVUs", Message: "maxVUs must be >= 0"}
	}
	if c.MaxVUs > 0 && c.MaxVUs < c.PreAllocatedVUs {
		return &ValidationError{Field: "maxVUs", Message: "maxVUs must be >= preAllocatedVUs"}
	}
	return nil
}

// IsArrivalRate reports whether the executor paces iteration starts.
func (c *Config) IsArrivalRate() bool {
	return c.Type == TypeConstantArrivalRate || c.Type == TypeRampingArrivalRate
}

// IsRamping reports whether the executor follows stages.
func (c *Config) IsRamping() bool {
	return c.Type == TypeRampingVUs || c.Type == TypeRampingArrivalRate
}

// TotalDuration calculates the total duration for this executor.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs, TypeConstantArrivalRate:
		return c.Duration

	case TypeRampingVUs, TypeRampingArrivalRate:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	default:
		return 0
	}
}

// GracefulStopOrDefault returns GracefulStop, or DefaultGracefulStop when unset.
func (c *Config) GracefulStopOrDefault() time.Duration {
	if c.GracefulStop != nil {
		return *c.GracefulStop
	}
	return DefaultGracefulStop
}

// Unit returns TimeUnit, defaulting to one second.
func (c *Config) Unit() time.Duration {
	if c.TimeUnit > 0 {
		return c.TimeUnit
	}
	return time.Second
}

// TargetAt is the scheduler's single time-to-target function: the VU count
// (VU executors) or iterations per second (arrival-rate executors) the
// profile asks for at elapsed. Past the end it holds the final value.
func (c *Config) TargetAt(elapsed time.Duration) float64 {
	switch c.Type {
	case TypeConstantVUs:
		return float64(c.VUs)
	case TypeRampingVUs:
		v, _ := interpolate(float64(c.StartVUs), c.Stages, elapsed)
		return v
	case TypeConstantArrivalRate:
		return c.perSecond(c.Rate)
	case TypeRampingArrivalRate:
		v, _ := interpolate(c.StartRate, c.Stages, elapsed)
		return c.perSecond(v)
	default:
		return 0
	}
}

// StageAt returns the index of the stage active at elapsed. Constant
// executors have a single implicit stage 0.
func (c *Config) StageAt(elapsed time.Duration) int {
	if !c.IsRamping() {
		return 0
	}
	_, stage := interpolate(0, c.Stages, elapsed)
	return stage
}

// PhaseAt classifies the load shape at elapsed.
func (c *Config) PhaseAt(elapsed time.Duration) metrics.Phase {
	if !c.IsRamping() || len(c.Stages) == 0 {
		return metrics.PhaseSteady
	}

	stage := c.StageAt(elapsed)
	from := float64(c.StartVUs)
	if c.Type == TypeRampingArrivalRate {
		from = c.StartRate
	}
	if stage > 0 {
		from = c.Stages[stage-1].Target
	}

	switch to := c.Stages[stage].Target; {
	case to > from:
		return metrics.PhaseRampUp
	case to < from:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

// MaxVUsNeeded is the number of owner slots the scenario can occupy.
func (c *Config) MaxVUsNeeded() int {
	switch c.Type {
	case TypeConstantVUs:
		return c.VUs
	case TypeRampingVUs:
		return max(c.StartVUs, int(c.peak()+0.5))
	case TypeConstantArrivalRate, TypeRampingArrivalRate:
		return max(c.MaxVUs, c.PreAllocatedVUs, 1)
	default:
		return 0
	}
}

func (c *Config) peak() float64 {
	var peak float64
	for _, s := range c.Stages {
		peak = max(peak, s.Target)
	}
	return peak
}

func (c *Config) perSecond(v float64) float64 {
	return v / c.Unit().Seconds()
}

// interpolate walks the stages and returns the linearly interpolated value
// at elapsed together with the active stage index.
func interpolate(start float64, stages []Stage, elapsed time.Duration) (float64, int) {
	if len(stages) == 0 {
		return start, 0
	}
	if elapsed < 0 {
		elapsed = 0
	}

	var stageStart time.Duration
	from := start
	for i, stage := range stages {
		stageEnd := stageStart + stage.Duration
		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			return from + (stage.Target-from)*progress, i
		}
		from = stage.Target
		stageStart = stageEnd
	}

	last := len(stages) - 1
	return stages[last].Target, last
}

// roundVUs converts a fractional VU target to a worker count.
func roundVUs(target float64) int {
	if target <= 0 {
		return 0
	}
	return int(target + 0.5)
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
