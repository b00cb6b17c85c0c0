package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal, panic).
	Level string

	// Format is the output format (json, console, pretty).
	Format string

	// Output is the output destination (stdout, stderr).
	Output string

	// AddSource adds source file and line number to log entries.
	AddSource bool

	// TimeFormat is the time format for timestamps.
	TimeFormat string
}

// DefaultLoggingConfig returns a LoggingConfig with sensible defaults.
// Logs go to stderr so that stdout stays free for interactive prompts.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stderr",
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// NewLogger creates a new zerolog logger based on configuration.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	var output io.Writer

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}

	return NewLoggerTo(cfg, output)
}

// NewLoggerTo creates a logger that writes to w, ignoring cfg.Output.
func NewLoggerTo(cfg LoggingConfig, w io.Writer) zerolog.Logger {
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	// Use console writer for human-readable output in a terminal session.
	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}

	logger := zerolog.New(w).With().Timestamp()
	if cfg.AddSource {
		logger = logger.Caller()
	}

	log := logger.Logger()

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	return log.Level(level)
}

// parseLevel converts a string log level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithRecordContext adds the source record URL to a logger.
func WithRecordContext(logger zerolog.Logger, url string) zerolog.Logger {
	return logger.With().
		Str("record_url", url).
		Logger()
}

// WithEntityContext adds entity resolution fields to a logger.
func WithEntityContext(logger zerolog.Logger, entityType, name string) zerolog.Logger {
	return logger.With().
		Str("entity_type", entityType).
		Str("query", name).
		Logger()
}

// WithRequestContext adds the HTTP request ID to a logger.
func WithRequestContext(logger zerolog.Logger, requestID string) zerolog.Logger {
	return logger.With().
		Str("request_id", requestID).
		Logger()
}
