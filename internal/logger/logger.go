// Package logger configures the process-wide zerolog logger. Diagnostics go
// to a JSON log file and, when enabled, a human-readable console writer on
// stderr. Every event carries the run id so interleaved decks can be traced.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls logger initialisation
type Options struct {
	Level  string // debug, info, warn, error
	File   string // JSON log file, empty disables file logging
	Pretty bool   // console output on stderr
}

// Init installs the global logger and returns a close function for the log
// file along with the generated run id.
func Init(opts Options) (func() error, string, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	closeFn := func() error { return nil }

	if opts.Pretty {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}

	if opts.File != "" {
		if dir := filepath.Dir(opts.File); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return closeFn, "", fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return closeFn, "", fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closeFn = f.Close
	}

	var w io.Writer = io.Discard
	if len(writers) > 0 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	runID := uuid.NewString()
	log.Logger = zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("run_id", runID).
		Logger()

	return closeFn, runID, nil
}

// WithComponent returns a child logger tagged with the component name
func WithComponent(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
