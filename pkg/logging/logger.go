// Package logging configures zerolog for the downloader: JSON to
// stderr by default, console output behind Pretty, component-scoped
// loggers via NewLogger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Payload cache operations (hit/miss, key)
//   - Pacing waits per source
//   - Saved payload paths
//
// Info: Normal operation events
//   - Dataset start/completion with ok/error totals
//   - Run start/completion with the report path
//   - Requests that succeeded after retries
//
// Warn: Warning conditions that don't prevent operation
//   - Retryable upstream statuses and retry backoff
//   - Failed years (recorded in the summary, run continues)
//   - Cache errors (fallback to a network fetch)
//
// Error: Error conditions requiring attention
//   - Artifact write failures (payload, summary, run report)
//   - Dataset-level failures (missing credential, panic)
//
// Context Fields:
//   - dataset: dataset slug (directory name under the output root)
//   - source: upstream API (fred, bls, oecd, ...)
//   - year: year being fetched
//   - attempt: retry attempt number
//   - error_type: outcome classification (client_error, server_error, ...)
//   - recommended_action: operator hint attached to a failure
//   - run_id: identifier of the orchestrator run
