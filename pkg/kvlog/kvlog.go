// Package kvlog is the structured logging façade used throughout brtkv. It
// wraps zerolog the same way the teacher's pkg/log does: a global Logger,
// an Init that picks level/format, and WithComponent child loggers, with a
// thin Logger wrapper adding Printf-style helpers the storage engine calls
// at every pin/flush/evict/replay site.
package kvlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level names the configured verbosity, as given to cmd/brtutil's
// --log-level flag.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls Init.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// base is the process-wide zerolog.Logger every component logger derives
// from via With().
var base zerolog.Logger

func init() {
	// Sensible default so packages that log before Init (tests, cmd/brtutil
	// subcommands run without an explicit config) still produce output.
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// Init reconfigures the global base logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		base = zerolog.New(output).With().Timestamp().Logger()
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
}

// Logger is a component-scoped logger with Printf-style helpers, used by
// cachetable/wal/rollback/engine instead of the raw zerolog event builder.
type Logger struct {
	z zerolog.Logger
}

// WithComponent returns a Logger tagged with a "component" field, the way
// the teacher tags node_id/service_id/task_id.
func WithComponent(component string) Logger {
	return Logger{z: base.With().Str("component", component).Logger()}
}

// WithFields returns a Logger additionally tagged with the given key/value
// pairs (e.g. "file", fileID, "offset", off).
func (l Logger) WithFields(kv ...any) Logger {
	ctx := l.z.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ctx = ctx.Interface(key, kv[i+1])
	}
	return Logger{z: ctx.Logger()}
}

func (l Logger) Debugf(format string, args ...any) { l.z.Debug().Msgf(format, args...) }
func (l Logger) Infof(format string, args ...any)  { l.z.Info().Msgf(format, args...) }
func (l Logger) Warnf(format string, args ...any)  { l.z.Warn().Msgf(format, args...) }
func (l Logger) Errorf(format string, args ...any) { l.z.Error().Msgf(format, args...) }

// Err attaches an error to the next log line.
func (l Logger) Err(err error) Logger {
	return Logger{z: l.z.With().AnErr("error", err).Logger()}
}
