package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/shiftload/internal/loadgen/config"
	"github.com/wesleyorama2/shiftload/internal/logging"
)

var version = "0.1.0"

// Exit codes.
const (
	ExitPassed      = 0
	ExitFailed      = 1
	ExitConfigError = 2
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// configError marks err as a configuration problem.
func configError(err error) error {
	return &ExitError{Code: ExitConfigError, Err: err}
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitPassed
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}
	var valErrs *config.ValidationErrors
	if errors.As(err, &valErrs) {
		return ExitConfigError
	}
	return ExitFailed
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "shiftload",
		Short:   "Load generator for the shift batch API",
		Version: version,
		Long: `shiftload drives concurrent batch create, update, delete and list traffic
against the shift API, keeps every worker on its own slice of shift
identifiers, and checks latency and error thresholds at the end of the run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", logging.FormatConsole, "Log format: console or json")
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newIDsCmd())
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return ExitCode(err)
}

// newLogger builds the logger from the persistent flags. Logs go to
// stderr so reports on stdout stay machine readable.
func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	noColor, _ := cmd.Flags().GetBool("no-color")

	logger, err := logging.New(logging.Options{
		Level:   level,
		Format:  format,
		Writer:  cmd.ErrOrStderr(),
		NoColor: noColor,
	})
	if err != nil {
		return nil, configError(err)
	}
	return logger, nil
}
