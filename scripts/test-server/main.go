// Command test-server serves an in-memory shift API for local load runs:
//
//	go run ./scripts/test-server --addr :8080 --api-key dev --seed 5000
//	shiftload run -c update.yaml --url http://localhost:8080/api/v1 --api-key dev
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/shiftload/internal/loadgen/shifts/shiftstest"
	"github.com/wesleyorama2/shiftload/internal/logging"
)

func main() {
	if err := newCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "test-server",
		Short:        "Serve an in-memory shift API",
		SilenceUsage: true,
		RunE:         serve,
	}
	cmd.Flags().String("addr", ":8080", "Listen address")
	cmd.Flags().String("api-key", "", "Required x-api-key (empty accepts any)")
	cmd.Flags().Int("seed", 1000, "Shifts to pre-populate")
	cmd.Flags().Duration("latency", 0, "Delay added to every response")
	cmd.Flags().String("log-level", "info", "Log level")
	return cmd
}

func serve(cmd *cobra.Command, _ []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	logger, err := logging.New(logging.Options{Level: level, Format: logging.FormatConsole})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	addr, _ := cmd.Flags().GetString("addr")
	opts := shiftstest.Options{Logger: logger}
	opts.APIKey, _ = cmd.Flags().GetString("api-key")
	opts.Seed, _ = cmd.Flags().GetInt("seed")
	opts.Latency, _ = cmd.Flags().GetDuration("latency")

	server := &http.Server{
		Addr:              addr,
		Handler:           shiftstest.New(opts).Handler(),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving shift API",
			zap.String("addr", addr),
			zap.String("baseUrl", "http://localhost"+addr+shiftstest.Prefix),
			zap.Int("seed", opts.Seed))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
