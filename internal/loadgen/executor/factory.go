package executor

import (
	"context"
	"fmt"

	"github.com/wesleyorama2/shiftload/internal/loadgen/config"
)

// NewExecutor creates an uninitialized executor of the given type. Call
// Init before Run.
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(), nil
	case TypeRampingArrivalRate:
		return NewRampingArrivalRate(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// FromScenario converts a scenario definition into an executor Config,
// parsing its duration strings.
func FromScenario(name string, sc *config.ScenarioConfig) (*Config, error) {
	cfg := &Config{
		Name:            name,
		Type:            Type(sc.Executor),
		VUs:             sc.VUs,
		StartVUs:        sc.StartVUs,
		Rate:            sc.Rate,
		StartRate:       sc.StartRate,
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
	}

	var err error
	if cfg.Duration, err = config.ParseDurationString(sc.Duration); err != nil {
		return nil, fmt.Errorf("invalid duration: %w", err)
	}
	if sc.GracefulStop != "" {
		graceful, err := config.ParseDurationString(sc.GracefulStop)
		if err != nil {
			return nil, fmt.Errorf("invalid gracefulStop: %w", err)
		}
		cfg.GracefulStop = &graceful
	}
	if cfg.TimeUnit, err = config.ParseDurationString(sc.TimeUnit); err != nil {
		return nil, fmt.Errorf("invalid timeUnit: %w", err)
	}

	for i, stage := range sc.Stages {
		d, err := config.ParseDurationString(stage.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid stages[%d] duration: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, Stage{Duration: d, Target: stage.Target, Name: stage.Name})
	}

	return cfg, nil
}

// Description documents an executor type for the CLI.
type Description struct {
	Type        Type
	Name        string
	Description string
}

// GetExecutorDescription returns documentation for an executor type, or nil.
func GetExecutorDescription(executorType Type) *Description {
	switch executorType {
	case TypeConstantVUs:
		return &Description{
			Type:        TypeConstantVUs,
			Name:        "Constant VUs",
			Description: "Fixed number of workers looping for a duration, with think time between iterations (closed model).",
		}
	case TypeRampingVUs:
		return &Description{
			Type:        TypeRampingVUs,
			Name:        "Ramping VUs",
			Description: "Worker count follows stages, interpolated linearly from startVUs.",
		}
	case TypeConstantArrivalRate:
		return &Description{
			Type:        TypeConstantArrivalRate,
			Name:        "Constant Arrival Rate",
			Description: "Starts iterations at a fixed rate regardless of response time; iterations are dropped when every worker is busy (open model).",
		}
	case TypeRampingArrivalRate:
		return &Description{
			Type:        TypeRampingArrivalRate,
			Name:        "Ramping Arrival Rate",
			Description: "Iteration rate follows stages, interpolated linearly from startRate.",
		}
	default:
		return nil
	}
}
