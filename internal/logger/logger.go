// Package logger provides structured logging for the document mapper.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error, disabled
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// DefaultConfig returns the configuration used when nothing is configured.
func DefaultConfig() Config {
	return Config{Level: "info"}
}

// Logger wraps zerolog with component helpers
type Logger struct {
	zlog zerolog.Logger
}

// New creates a new structured logger. Unlike the global zerolog level, the
// level is applied to this logger only so several containers can coexist.
func New(cfg Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", "odm").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Zerolog returns the underlying zerolog logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Component returns a zerolog logger tagged with the component name. Library
// packages take a zerolog.Logger, this is how the container hands them one.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]any) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// LogDriverOperation logs a collection primitive with structured fields
func (l *Logger) LogDriverOperation(collection, operation string, duration time.Duration, err error) {
	event := l.zlog.Debug()
	if err != nil {
		event = l.zlog.Error().Err(err)
	}

	event.
		Str("component", "driver").
		Str("collection", collection).
		Str("operation", operation).
		Dur("duration_ms", duration).
		Msg("driver operation completed")
}
