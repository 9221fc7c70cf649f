// Package engine runs the scenarios of a load test and reports on them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/shiftload/internal/loadgen"
	"github.com/wesleyorama2/shiftload/internal/loadgen/config"
	"github.com/wesleyorama2/shiftload/internal/loadgen/executor"
	"github.com/wesleyorama2/shiftload/internal/loadgen/metrics"
	"github.com/wesleyorama2/shiftload/internal/loadgen/payload"
	"github.com/wesleyorama2/shiftload/internal/loadgen/pool"
	"github.com/wesleyorama2/shiftload/internal/loadgen/shifts"
)

// DefaultRateLimitPause is slept by a user after an iteration that was
// rate limited, unless the scenario sets rateLimitPause.
const DefaultRateLimitPause = time.Second

// Options tune an Engine beyond what the test configuration holds.
type Options struct {
	Logger *zap.Logger

	// Collectors receives every outcome when set, labelled by scenario.
	Collectors *metrics.Collectors

	// Seed overrides payload.seed.
	Seed *uint64

	// Scenarios restricts the run to the named scenarios.
	Scenarios []string

	// FetchDelay is slept between pages when a pool is fetched from the API.
	FetchDelay time.Duration
}

// Engine orchestrates a load test.
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("test.yaml")
//	eng, _ := engine.New(cfg, engine.Options{Logger: logger})
//	result, _ := eng.Run(ctx)
//	fmt.Printf("passed: %v\n", result.Passed)
type Engine struct {
	config *config.TestConfig
	opts   Options
	logger *zap.Logger

	seed   uint64
	synth  *payload.Synthesizer
	client *shifts.Client

	names []string

	// pools are shared by scenarios that point at the same pool section.
	pools map[*config.PoolConfig]*pool.Pool

	scenarios map[string]*ScenarioRunner
	mu        sync.RWMutex

	startTime time.Time
	running   bool
}

// ScenarioRunner holds everything one scenario runs with.
type ScenarioRunner struct {
	Name       string
	Config     *config.ScenarioConfig
	ExecConfig *executor.Config
	Executor   executor.Executor
	Scheduler  *loadgen.VUScheduler
	Workload   loadgen.Workload
	Allocator  *pool.Allocator
	Thresholds []metrics.Threshold

	// Aggregator holds exact series for thresholds and the report.
	Aggregator *metrics.Aggregator

	// Live feeds progress output while the scenario runs.
	Live *metrics.Engine

	Report *RunReport
}

// New prepares an engine. It fails with a *config.ConfigurationError when
// the target API is not configured, before anything is sent.
func New(cfg *config.TestConfig, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.CheckTarget(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	names, err := selectScenarios(cfg, opts.Scenarios)
	if err != nil {
		return nil, err
	}

	seed, random := resolveSeed(cfg, opts.Seed)
	if random {
		logger.Info("using random payload seed, pass it back with --seed to replay", zap.Uint64("seed", seed))
	}

	synthCfg, err := cfg.Payload.SynthesizerConfig(seed)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "payload", Message: err.Error()}
	}
	synth, err := payload.New(synthCfg)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "payload", Message: err.Error()}
	}

	client, err := shifts.NewClient(shifts.ClientOptions{
		BaseURL:             cfg.Settings.BaseURL,
		APIKey:              cfg.Settings.APIKey,
		UserAgent:           cfg.Settings.UserAgent,
		Headers:             cfg.Settings.Headers,
		MaxIdleConnsPerHost: cfg.Settings.MaxIdleConnsPerHost,
		Logger:              logger,
	})
	if err != nil {
		return nil, &config.ConfigurationError{Field: "settings.baseUrl", Message: err.Error()}
	}

	return &Engine{
		config:    cfg,
		opts:      opts,
		logger:    logger,
		seed:      seed,
		synth:     synth,
		client:    client,
		names:     names,
		pools:     make(map[*config.PoolConfig]*pool.Pool),
		scenarios: make(map[string]*ScenarioRunner),
	}, nil
}

func selectScenarios(cfg *config.TestConfig, only []string) ([]string, error) {
	all := cfg.ScenarioNames()
	if len(only) == 0 {
		return all, nil
	}

	known := make(map[string]bool, len(all))
	for _, name := range all {
		known[name] = true
	}
	want := make(map[string]bool, len(only))
	for _, name := range only {
		if !known[name] {
			return nil, &config.ConfigurationError{Field: "scenarios", Message: fmt.Sprintf("unknown scenario %q", name)}
		}
		want[name] = true
	}

	var names []string
	for _, name := range all {
		if want[name] {
			names = append(names, name)
		}
	}
	return names, nil
}

// resolveSeed picks the override, then payload.seed, then a random seed.
func resolveSeed(cfg *config.TestConfig, override *uint64) (seed uint64, random bool) {
	if override != nil {
		return *override, false
	}
	if cfg.Payload != nil && cfg.Payload.Seed != nil {
		return *cfg.Payload.Seed, false
	}
	return rand.Uint64(), true
}

// Seed returns the payload seed of the run.
func (e *Engine) Seed() uint64 {
	return e.seed
}

// Scenarios returns the names of the scenarios that will run, sorted.
func (e *Engine) Scenarios() []string {
	return append([]string(nil), e.names...)
}

// Run executes the selected scenarios and blocks until all of them have
// drained. Cancelling ctx stops every scenario; in-flight iterations get
// their graceful stop period.
//
// A scenario that fails to run is reported with its Error set; the
// returned error is the first such failure.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.startTime = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if err := e.initializeScenarios(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize scenarios: %w", err)
	}

	e.logger.Info("starting load test",
		zap.String("name", e.config.Name),
		zap.Strings("scenarios", e.names),
		zap.Uint64("seed", e.seed))

	var runErr error
	if e.config.Options != nil && e.config.Options.Sequential {
		runErr = e.runScenariosSequentially(ctx)
	} else {
		runErr = e.runScenariosConcurrently(ctx)
	}

	result := &Result{
		Name:      e.config.Name,
		Seed:      e.seed,
		StartTime: e.startTime,
		EndTime:   time.Now(),
		Duration:  time.Since(e.startTime),
		Passed:    true,
	}
	for _, name := range e.names {
		report := e.scenarios[name].Report
		if report == nil {
			continue
		}
		result.Scenarios = append(result.Scenarios, report)
		if !report.Passed {
			result.Passed = false
		}
	}
	if len(result.Scenarios) < len(e.names) {
		result.Passed = false
	}

	e.logger.Info("load test finished",
		zap.Bool("passed", result.Passed),
		zap.Duration("duration", result.Duration))

	return result, runErr
}

// initializeScenarios builds the pool, allocator, workload, scheduler and
// executor of each selected scenario.
func (e *Engine) initializeScenarios(ctx context.Context) error {
	runners := make(map[string]*ScenarioRunner, len(e.names))
	for _, name := range e.names {
		runner, err := e.newRunner(ctx, name)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}
		runners[name] = runner
	}

	e.mu.Lock()
	e.scenarios = runners
	e.mu.Unlock()
	return nil
}

func (e *Engine) newRunner(ctx context.Context, name string) (*ScenarioRunner, error) {
	sc := e.config.Scenarios[name]

	execCfg, err := executor.FromScenario(name, sc)
	if err != nil {
		return nil, err
	}
	owners := execCfg.MaxVUsNeeded()

	thresholds, err := metrics.ParseThresholds(e.config.ThresholdsFor(name))
	if err != nil {
		return nil, err
	}

	settings, err := e.workloadSettings(name, sc)
	if err != nil {
		return nil, err
	}

	runner := &ScenarioRunner{
		Name:       name,
		Config:     sc,
		ExecConfig: execCfg,
		Thresholds: thresholds,
		Aggregator: metrics.NewAggregator(),
		Live:       metrics.NewEngine(),
	}

	switch sc.Operation {
	case config.OperationCreate:
		runner.Workload = shifts.NewCreateWorkload(e.client, e.synth, settings, e.logger)
	case config.OperationList:
		runner.Workload = shifts.NewListWorkload(e.client, settings)
	case config.OperationUpdate, config.OperationDelete:
		p, err := e.loadPool(ctx, e.config.PoolFor(name))
		if err != nil {
			return nil, err
		}
		alloc, err := newAllocator(p, owners, sc)
		if err != nil {
			return nil, err
		}
		runner.Allocator = alloc
		e.logger.Info("partitioned identifier pool",
			zap.String("scenario", name),
			zap.Int("identifiers", p.Len()),
			zap.Int("owners", owners),
			zap.Int("band", alloc.BandSize()))

		if sc.Operation == config.OperationUpdate {
			runner.Workload = shifts.NewUpdateWorkload(e.client, e.synth, p, alloc, settings, e.logger)
		} else {
			runner.Workload = shifts.NewDeleteWorkload(e.client, p, alloc, settings, e.logger)
		}
	default:
		return nil, fmt.Errorf("unknown operation %q", sc.Operation)
	}

	recorders := loadgen.Recorders{runner.Aggregator, runner.Live}
	if e.opts.Collectors != nil {
		recorders = append(recorders, e.opts.Collectors.ForScenario(name))
	}

	schedOpts, err := schedulerOptions(sc, owners, e.logger.With(zap.String("scenario", name)))
	if err != nil {
		return nil, err
	}
	runner.Scheduler, err = loadgen.NewVUScheduler(runner.Workload, recorders, schedOpts)
	if err != nil {
		return nil, err
	}

	runner.Executor, err = executor.CreateAndInitExecutor(ctx, execCfg)
	if err != nil {
		return nil, err
	}
	return runner, nil
}

func (e *Engine) workloadSettings(name string, sc *config.ScenarioConfig) (shifts.Settings, error) {
	timeout, err := config.ParseDurationString(sc.Timeout)
	if err != nil {
		return shifts.Settings{}, fmt.Errorf("invalid timeout: %w", err)
	}
	slow, err := config.ParseDurationString(sc.SlowThreshold)
	if err != nil {
		return shifts.Settings{}, fmt.Errorf("invalid slowThreshold: %w", err)
	}

	var jobID string
	if e.config.Payload != nil {
		jobID = e.config.Payload.JobID
	}

	return shifts.Settings{
		Scenario:          name,
		BatchSize:         sc.BatchSize,
		ConcurrentBatches: sc.ConcurrentBatches,
		BatchesPerWorker:  sc.BatchesPerWorker,
		PageSize:          sc.PageSize,
		JobID:             jobID,
		Timeout:           timeout,
		SlowThreshold:     slow,
	}, nil
}

func schedulerOptions(sc *config.ScenarioConfig, owners int, logger *zap.Logger) (loadgen.SchedulerOptions, error) {
	opts := loadgen.SchedulerOptions{
		MaxVUs:         owners,
		RateLimitPause: DefaultRateLimitPause,
		Logger:         logger,
	}

	if sc.RateLimitPause != "" {
		d, err := config.ParseDurationString(sc.RateLimitPause)
		if err != nil {
			return opts, fmt.Errorf("invalid rateLimitPause: %w", err)
		}
		opts.RateLimitPause = d
	}

	if sc.ThinkTime != nil {
		minD, err := config.ParseDurationString(sc.ThinkTime.Min)
		if err != nil {
			return opts, fmt.Errorf("invalid thinkTime.min: %w", err)
		}
		maxD, err := config.ParseDurationString(sc.ThinkTime.Max)
		if err != nil {
			return opts, fmt.Errorf("invalid thinkTime.max: %w", err)
		}
		opts.ThinkTime = loadgen.ThinkTime{Min: minD, Max: maxD}
	}
	return opts, nil
}

// newAllocator sizes owner bands. With batchesPerWorker each owner reserves
// exactly that many batches; otherwise the pool is split evenly in whole
// batches.
func newAllocator(p *pool.Pool, owners int, sc *config.ScenarioConfig) (*pool.Allocator, error) {
	if sc.BatchesPerWorker > 0 {
		return pool.NewAllocator(p.Len(), owners, pool.WithBandSize(sc.BatchesPerWorker*sc.BatchSize))
	}
	return pool.NewAllocator(p.Len(), owners, pool.WithAlignment(sc.BatchSize))
}

// loadPool resolves a pool section once per run.
func (e *Engine) loadPool(ctx context.Context, pc *config.PoolConfig) (*pool.Pool, error) {
	if pc == nil {
		return nil, &config.ConfigurationError{Field: "pool", Message: "an identifier pool is required"}
	}
	if p, ok := e.pools[pc]; ok {
		return p, nil
	}

	var (
		p   *pool.Pool
		err error
	)
	switch {
	case len(pc.IDs) > 0:
		p, err = pool.New(pc.IDs)
	case pc.File != "":
		p, err = pool.LoadFile(pc.File)
	case pc.Range != nil:
		p = pool.Range(pc.Range.Prefix, pc.Range.Start, pc.Range.Count)
	case pc.Fetch != nil:
		p, err = e.fetchPool(ctx, pc.Fetch)
	default:
		err = errors.New("pool has no source")
	}
	if err != nil {
		return nil, fmt.Errorf("loading identifier pool: %w", err)
	}
	if p.Len() == 0 {
		e.logger.Warn("identifier pool is empty, every owner starts exhausted")
	}

	e.pools[pc] = p
	return p, nil
}

func (e *Engine) fetchPool(ctx context.Context, fc *config.FetchConfig) (*pool.Pool, error) {
	e.logger.Info("fetching identifiers", zap.Int("pageSize", fc.PageSize), zap.Int("limit", fc.Limit))
	ids, err := e.client.FetchIDs(ctx, shifts.FetchOptions{
		PageSize: fc.PageSize,
		Limit:    fc.Limit,
		JobID:    fc.JobID,
		Delay:    e.opts.FetchDelay,
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("fetched identifiers", zap.Int("count", len(ids)))
	return pool.New(ids)
}

// runScenariosConcurrently runs all scenarios in parallel.
func (e *Engine) runScenariosConcurrently(ctx context.Context) error {
	// A failing scenario does not cancel the others.
	var g errgroup.Group
	for _, name := range e.names {
		runner := e.scenarios[name]
		g.Go(func() error {
			if err := e.runScenario(ctx, runner); err != nil {
				return fmt.Errorf("scenario %s failed: %w", runner.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// runScenariosSequentially runs scenarios one at a time in name order.
func (e *Engine) runScenariosSequentially(ctx context.Context) error {
	for _, name := range e.names {
		if err := ctx.Err(); err != nil {
			return err
		}
		runner := e.scenarios[name]
		if err := e.runScenario(ctx, runner); err != nil {
			return fmt.Errorf("scenario %s failed: %w", name, err)
		}
	}
	return nil
}

// runScenario runs one scenario to completion and builds its report.
func (e *Engine) runScenario(ctx context.Context, runner *ScenarioRunner) error {
	logger := e.logger.With(zap.String("scenario", runner.Name))
	logger.Info("scenario starting",
		zap.String("operation", runner.Config.Operation),
		zap.String("executor", string(runner.ExecConfig.Type)),
		zap.Duration("duration", runner.ExecConfig.TotalDuration()),
		zap.Int("maxVUs", runner.Scheduler.MaxVUs()))

	runner.Live.Start()

	stopGauge := e.trackActiveVUs(runner)
	start := time.Now()
	err := runner.Executor.Run(ctx, runner.Scheduler, runner.Live)
	elapsed := time.Since(start)
	stopGauge()

	report := buildReport(runner, elapsed, err)

	e.mu.Lock()
	runner.Report = report
	e.mu.Unlock()

	for _, w := range report.Warnings {
		logger.Warn(w)
	}
	logger.Info("scenario finished",
		zap.Bool("passed", report.Passed),
		zap.Int64("iterations", report.Iterations),
		zap.Int64("requests", report.Metrics[metrics.HTTPReqs].Count),
		zap.Duration("duration", elapsed))
	return err
}

// trackActiveVUs mirrors the executor's active user count into the
// Prometheus gauge until the returned func is called.
func (e *Engine) trackActiveVUs(runner *ScenarioRunner) (stop func()) {
	if e.opts.Collectors == nil {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				e.opts.Collectors.SetActiveVUs(runner.Name, 0)
				return
			case <-ticker.C:
				e.opts.Collectors.SetActiveVUs(runner.Name, runner.Executor.GetActiveVUs())
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop ends every running scenario early. In-flight iterations get their
// graceful stop period; Run returns once they drain.
//
// All scenarios stop scheduling at once. A scenario still draining must not
// hold back the stop of the others.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return nil
	}
	scenarios := e.scenarios
	e.mu.RUnlock()

	var g errgroup.Group
	for _, runner := range scenarios {
		g.Go(func() error {
			if err := runner.Executor.Stop(ctx); err != nil {
				return fmt.Errorf("stop scenario %s: %w", runner.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// GetProgress returns the overall progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.scenarios) == 0 {
		return 0.0
	}

	var total float64
	for _, runner := range e.scenarios {
		total += runner.Executor.GetProgress()
	}
	return total / float64(len(e.scenarios))
}

// GetScenarioStats returns current executor stats for all scenarios.
func (e *Engine) GetScenarioStats() map[string]*executor.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := make(map[string]*executor.Stats, len(e.scenarios))
	for name, runner := range e.scenarios {
		stats[name] = runner.Executor.GetStats()
	}
	return stats
}

// GetSnapshots returns the live metrics of every scenario.
func (e *Engine) GetSnapshots() map[string]*metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snaps := make(map[string]*metrics.Snapshot, len(e.scenarios))
	for name, runner := range e.scenarios {
		snaps[name] = runner.Live.GetSnapshot()
	}
	return snaps
}
