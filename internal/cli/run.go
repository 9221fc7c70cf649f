package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/shiftload/internal/loadgen/config"
	"github.com/wesleyorama2/shiftload/internal/loadgen/engine"
	"github.com/wesleyorama2/shiftload/internal/loadgen/metrics"
	consoleout "github.com/wesleyorama2/shiftload/internal/loadgen/output"
	"github.com/wesleyorama2/shiftload/internal/output"
)

// stopTimeout bounds how long the first interrupt waits for a graceful stop.
const stopTimeout = time.Minute

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test against the shift API",
		Long: `Run load scenarios from a configuration file, or a single scenario built
from flags.

Config file mode:
  shiftload run --config update-load.yaml

Quick mode (single scenario):
  shiftload run --url https://api.example.com/api/v1 --api-key $API_KEY \
    --operation update --pool-file shift-ids.json \
    --executor ramping-vus --stages "30s:5,2m:5,30s:0" \
    --batch-size 100 --batches-per-worker 3

Arrival rate mode:
  shiftload run --operation list \
    --executor constant-arrival-rate --rate 10 --duration 5m --max-vus 50

The base URL and API key fall back to API_URL and API_KEY. The first
interrupt stops the run gracefully; a second one abandons in-flight requests.`,
		Args: cobra.NoArgs,
		RunE: runLoadTest,
	}

	f := cmd.Flags()
	f.StringP("config", "c", "", "Load test configuration file (YAML or JSON)")
	f.String("url", "", "API base URL, e.g. https://host/api/v1")
	f.String("api-key", "", "API key sent as x-api-key")
	f.StringArray("scenario", nil, "Run only this scenario (repeatable)")
	f.Bool("json", false, "Write the result as JSON to stdout instead of the summary")
	f.StringP("output", "o", "", "Write the result to a file (.json, .yaml or .xml for JUnit)")
	f.String("format", "", "Format of --output: json, yaml or junit (default from extension)")
	f.BoolP("quiet", "q", false, "Only print the final verdict")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	f.Uint64("seed", 0, "Payload seed (overrides payload.seed)")

	f.String("operation", "", "Quick mode: create, update, delete or list")
	f.String("executor", config.DefaultExecutor, "Quick mode executor")
	f.Int("vus", 0, "Quick mode: number of virtual users")
	f.String("duration", "", "Quick mode: run duration (default 30s without stages)")
	f.String("stages", "", `Quick mode: ramping stages as "duration:target,..." e.g. "30s:5,1m:5,30s:0"`)
	f.Float64("rate", 0, "Quick mode: iterations per time unit for arrival-rate executors")
	f.String("time-unit", "", "Quick mode: rate time unit (default 1s)")
	f.Int("max-vus", 0, "Quick mode: VU cap for arrival-rate executors")
	f.Int("pre-allocated-vus", 0, "Quick mode: VUs started up front for arrival-rate executors")
	f.Int("batch-size", 0, "Quick mode: items per batch request")
	f.Int("concurrent-batches", 0, "Quick mode: batch requests sent at once per iteration")
	f.Int("batches-per-worker", 0, "Quick mode: batches each worker may send")
	f.String("pool-file", "", "Quick mode: identifier fixture written by `shiftload ids`")
	f.Int("pool-range", 0, "Quick mode: generate this many synthetic identifiers")
	f.String("pool-prefix", "", "Quick mode: prefix of generated identifiers")
	f.Bool("pool-fetch", false, "Quick mode: fetch identifiers from the API before the run")
	f.String("job-id", "", "Quick mode: job the generated shifts and fetched identifiers belong to")
	f.StringArray("threshold", nil, `Quick mode: threshold as "metric:expression" (repeatable)`)

	return cmd
}

func runLoadTest(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}

	opts := engine.Options{Logger: logger}
	opts.Scenarios, _ = cmd.Flags().GetStringArray("scenario")
	if cmd.Flags().Changed("seed") {
		seed, _ := cmd.Flags().GetUint64("seed")
		opts.Seed = &seed
	}

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr != "" {
		opts.Collectors = metrics.NewCollectors()
	}

	outputPath, _ := cmd.Flags().GetString("output")
	formatName, _ := cmd.Flags().GetString("format")
	fileFormat := output.FormatForPath(outputPath)
	if formatName != "" {
		if fileFormat, err = output.ParseFormat(formatName); err != nil {
			return configError(err)
		}
	}

	eng, err := engine.New(cfg, opts)
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if opts.Collectors != nil {
		go func() {
			if err := opts.Collectors.Serve(ctx, metricsAddr, logger); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	stopSignals := handleInterrupts(ctx, cancel, eng, logger)
	defer stopSignals()

	jsonOut, _ := cmd.Flags().GetBool("json")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")

	consoleWriter := cmd.OutOrStdout()
	if jsonOut {
		consoleWriter = cmd.ErrOrStderr()
	}
	console := consoleout.NewConsoleOutput(consoleout.ConsoleOutputConfig{
		TestName: cfg.Name,
		Writer:   consoleWriter,
		Quiet:    quiet || jsonOut,
		NoColor:  noColor,
	})
	console.PrintHeader(eng.Scenarios(), eng.Seed())

	watchCtx, stopWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		console.Watch(watchCtx, eng)
	}()

	result, runErr := eng.Run(ctx)
	stopWatch()
	wg.Wait()

	if runErr != nil && result == nil {
		return runErr
	}
	if runErr != nil {
		logger.Error("run ended with errors", zap.Error(runErr))
	}

	if jsonOut {
		if err := output.WriteResult(cmd.OutOrStdout(), output.FormatJSON, result); err != nil {
			return err
		}
	} else {
		console.PrintSummary(result)
	}

	if outputPath != "" {
		if err := writeResultFile(outputPath, fileFormat, result); err != nil {
			return err
		}
		logger.Info("result written", zap.String("path", outputPath), zap.String("format", string(fileFormat)))
	}

	if !result.Passed || runErr != nil {
		return &ExitError{Code: ExitFailed}
	}
	return nil
}

// handleInterrupts stops the engine gracefully on the first SIGINT or
// SIGTERM and cancels ctx on the second.
func handleInterrupts(ctx context.Context, cancel context.CancelFunc, eng *engine.Engine, logger *zap.Logger) (stop func()) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		interrupts := 0
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-sigCh:
				interrupts++
				if interrupts > 1 {
					logger.Warn("second interrupt, abandoning in-flight requests")
					cancel()
					return
				}
				logger.Info("interrupt received, stopping gracefully (interrupt again to abort)")
				go func() {
					stopCtx, stopCancel := context.WithTimeout(ctx, stopTimeout)
					defer stopCancel()
					if err := eng.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Warn("graceful stop incomplete", zap.Error(err))
					}
				}()
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func writeResultFile(path string, format output.OutputFormat, result *engine.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := output.WriteResult(f, format, result); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// loadRunConfig reads --config, or builds a single scenario from the quick
// mode flags, then applies the environment and the target flags.
func loadRunConfig(cmd *cobra.Command) (*config.TestConfig, error) {
	configFile, _ := cmd.Flags().GetString("config")
	operation, _ := cmd.Flags().GetString("operation")

	var cfg *config.TestConfig
	var err error
	switch {
	case configFile != "":
		cfg, err = config.LoadConfig(configFile)
		if err != nil {
			return nil, configError(err)
		}
	case operation != "":
		cfg, err = buildConfigFromFlags(cmd)
		if err != nil {
			return nil, configError(err)
		}
	default:
		_ = cmd.Help()
		return nil, configError(errors.New("either --config or --operation is required"))
	}

	if v, _ := cmd.Flags().GetString("url"); v != "" {
		cfg.Settings.BaseURL = v
	}
	if v, _ := cmd.Flags().GetString("api-key"); v != "" {
		cfg.Settings.APIKey = v
	}
	config.ApplyEnv(cfg, nil)
	return cfg, nil
}

// buildConfigFromFlags builds a one-scenario configuration from flags.
func buildConfigFromFlags(cmd *cobra.Command) (*config.TestConfig, error) {
	f := cmd.Flags()
	operation, _ := f.GetString("operation")
	executorType, _ := f.GetString("executor")
	duration, _ := f.GetString("duration")
	stages, _ := f.GetString("stages")

	sc := &config.ScenarioConfig{
		Operation: operation,
		Executor:  executorType,
		Duration:  duration,
	}
	sc.VUs, _ = f.GetInt("vus")
	sc.Rate, _ = f.GetFloat64("rate")
	sc.TimeUnit, _ = f.GetString("time-unit")
	sc.MaxVUs, _ = f.GetInt("max-vus")
	sc.PreAllocatedVUs, _ = f.GetInt("pre-allocated-vus")
	sc.BatchSize, _ = f.GetInt("batch-size")
	sc.ConcurrentBatches, _ = f.GetInt("concurrent-batches")
	sc.BatchesPerWorker, _ = f.GetInt("batches-per-worker")

	if sc.VUs == 0 && (executorType == "constant-vus" || executorType == "") {
		sc.VUs = 1
	}
	if duration == "" && stages == "" {
		sc.Duration = "30s"
	}
	if stages != "" {
		parsed, err := parseStages(stages)
		if err != nil {
			return nil, fmt.Errorf("invalid stages format: %w", err)
		}
		sc.Stages = parsed
	}

	jobID, _ := f.GetString("job-id")
	pool, err := poolFromFlags(cmd, jobID)
	if err != nil {
		return nil, err
	}

	thresholds := map[string][]string{
		metrics.HTTPReqFailed: {"rate<0.01"},
	}
	exprs, _ := f.GetStringArray("threshold")
	if len(exprs) > 0 {
		thresholds = make(map[string][]string)
		for _, raw := range exprs {
			name, expr, ok := strings.Cut(raw, ":")
			if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(expr) == "" {
				return nil, fmt.Errorf("threshold %q: expected metric:expression", raw)
			}
			name = strings.TrimSpace(name)
			thresholds[name] = append(thresholds[name], strings.TrimSpace(expr))
		}
	}

	cfg := &config.TestConfig{
		Name:        fmt.Sprintf("Quick %s test", operation),
		Description: "Test generated from command line flags",
		Pool:        pool,
		Scenarios:   map[string]*config.ScenarioConfig{operation: sc},
		Thresholds:  thresholds,
	}
	if jobID != "" {
		cfg.Payload = &config.PayloadConfig{JobID: jobID}
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func poolFromFlags(cmd *cobra.Command, jobID string) (*config.PoolConfig, error) {
	f := cmd.Flags()
	file, _ := f.GetString("pool-file")
	count, _ := f.GetInt("pool-range")
	prefix, _ := f.GetString("pool-prefix")
	fetch, _ := f.GetBool("pool-fetch")

	var sources int
	for _, set := range []bool{file != "", count > 0, fetch} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return nil, errors.New("--pool-file, --pool-range and --pool-fetch are mutually exclusive")
	}

	switch {
	case file != "":
		return &config.PoolConfig{File: file}, nil
	case count > 0:
		return &config.PoolConfig{Range: &config.RangeConfig{Prefix: prefix, Start: 1, Count: count}}, nil
	case fetch:
		return &config.PoolConfig{Fetch: &config.FetchConfig{JobID: jobID}}, nil
	}
	return nil, nil
}

// parseStages parses stages from the flag format "30s:10,2m:10,30s:0".
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	for i, part := range strings.Split(stagesStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := part[:colonIdx]
		targetStr := part[colonIdx+1:]

		if _, err := config.ParseDurationString(durationStr); err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}

		target, err := strconv.ParseFloat(targetStr, 64)
		if err != nil || target < 0 {
			return nil, fmt.Errorf("stage %d: invalid target '%s'", i+1, targetStr)
		}

		stages = append(stages, config.StageConfig{
			Duration: durationStr,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, errors.New("at least one stage is required")
	}
	return stages, nil
}
