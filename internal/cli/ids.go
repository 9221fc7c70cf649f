package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/shiftload/internal/loadgen/config"
	"github.com/wesleyorama2/shiftload/internal/loadgen/pool"
	"github.com/wesleyorama2/shiftload/internal/loadgen/shifts"
)

func newIDsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ids",
		Short: "Fetch shift identifiers into a pool fixture",
		Long: `Page through the shift list endpoint, newest first, and write the
identifiers to a fixture that update and delete scenarios read with
pool.file or --pool-file.`,
		Args: cobra.NoArgs,
		RunE: runFetchIDs,
	}

	f := cmd.Flags()
	f.StringP("out", "o", "shift-ids.json", "Fixture file to write")
	f.String("url", "", "API base URL (default API_URL)")
	f.String("api-key", "", "API key (default API_KEY)")
	f.Int("page-size", shifts.DefaultFetchPageSize, "Identifiers per page")
	f.Int("limit", shifts.DefaultFetchLimit, "Stop after this many identifiers")
	f.String("job-id", "", "Only fetch shifts of this job")
	f.Duration("delay", 2*time.Second, "Pause between pages")

	return cmd
}

func runFetchIDs(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	f := cmd.Flags()
	out, _ := f.GetString("out")
	cfg := &config.TestConfig{}
	cfg.Settings.BaseURL, _ = f.GetString("url")
	cfg.Settings.APIKey, _ = f.GetString("api-key")
	config.ApplyEnv(cfg, nil)
	if err := cfg.CheckTarget(); err != nil {
		return err
	}

	opts := shifts.FetchOptions{}
	opts.PageSize, _ = f.GetInt("page-size")
	opts.Limit, _ = f.GetInt("limit")
	opts.JobID, _ = f.GetString("job-id")
	opts.Delay, _ = f.GetDuration("delay")
	if opts.PageSize <= 0 || opts.Limit <= 0 {
		return configError(errors.New("--page-size and --limit must be greater than 0"))
	}

	client, err := shifts.NewClient(shifts.ClientOptions{
		BaseURL:   cfg.Settings.BaseURL,
		APIKey:    cfg.Settings.APIKey,
		UserAgent: config.DefaultUserAgent,
		Logger:    logger,
	})
	if err != nil {
		return configError(err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	start := time.Now()
	ids, err := client.FetchIDs(ctx, opts)
	if err != nil {
		return err
	}
	if err := pool.WriteFile(out, ids); err != nil {
		return err
	}

	logger.Info("identifiers written",
		zap.String("path", out),
		zap.Int("count", len(ids)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
