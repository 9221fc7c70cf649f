// Package logging builds the zap logger used across shiftload.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configure the logger.
type Options struct {
	// Level is debug, info, warn or error.
	Level string

	// Format is console or json.
	Format string

	// Writer receives log lines. Defaults to stderr so stdout stays free for
	// the live display and reports.
	Writer io.Writer

	// NoColor disables colored levels in console format.
	NoColor bool
}

// NewOptions returns the defaults: info level, console format.
func NewOptions() Options {
	return Options{Level: zapcore.InfoLevel.String(), Format: FormatConsole}
}

// Validate checks the level and format.
func (o Options) Validate() []error {
	var errs []error

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(o.Level)); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q: %w", o.Level, err))
	}

	switch strings.ToLower(o.Format) {
	case FormatConsole, FormatJSON, "":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q, want console or json", o.Format))
	}
	return errs
}

// New builds a logger from opts.
func New(opts Options) (*zap.Logger, error) {
	if errs := opts.Validate(); len(errs) > 0 {
		return nil, errs[0]
	}

	level := zapcore.InfoLevel
	if opts.Level != "" {
		_ = level.UnmarshalText([]byte(opts.Level))
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(time.RFC3339Nano),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case FormatJSON:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		if !opts.NoColor && isTerminal(w) {
			encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), level)
	return zap.New(core, zap.AddStacktrace(zapcore.PanicLevel)), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
