// Package logging constructs kvmesh's structured logger. It generalizes
// the teacher's monitoring.NewLogger (hardcoded "ws-server" name,
// level-from-enum switch) into one parameterized by ServerConfig's
// Log section, with optional file rotation via lumberjack.
package logging

import (
	"io"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level mirrors spec.md's Log.level ∈ {Trace..Error}.
type Level string

const (
	LevelTrace Level = "trace"
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Rotation mirrors spec.md's Log.rotation ∈ {Hourly,Daily,Never}.
type Rotation string

const (
	RotationHourly Rotation = "hourly"
	RotationDaily  Rotation = "daily"
	RotationNever  Rotation = "never"
)

// Config is the subset of ServerConfig.Log that shapes the logger.
type Config struct {
	Path           string
	Rotation       Rotation
	Level          Level
	EnableFile     bool
	ServiceName    string
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelTrace:
		return zerolog.TraceLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// rotationMaxAge converts the coarse Hourly/Daily/Never rotation
// setting into lumberjack's day-granular MaxAge, the closest knob it
// exposes; Never maps to 0, which lumberjack reads as "no age limit".
// New still builds the lumberjack writer whenever EnableFile is set,
// whatever the Rotation, and lumberjack still rotates the file by size.
func rotationMaxAge(r Rotation) int {
	switch r {
	case RotationHourly:
		return 1
	case RotationDaily:
		return 7
	default:
		return 0
	}
}

// New builds a zerolog.Logger per cfg. When cfg.EnableFile is set, logs
// are written to a lumberjack-rotated file at cfg.Path in addition to
// stdout; otherwise stdout only.
func New(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(zerologLevel(cfg.Level))

	var output io.Writer = os.Stdout
	if cfg.EnableFile && cfg.Path != "" {
		fileWriter := &lumberjack.Logger{
			Filename: cfg.Path,
			MaxAge:   rotationMaxAge(cfg.Rotation),
			Compress: true,
		}
		output = zerolog.MultiLevelWriter(os.Stdout, fileWriter)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "kvmesh"
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", name).
		Logger()
}

// RecoverPanic logs a recovered panic without re-panicking, so a bug in
// one connection/stream goroutine does not take the process down. Use
// in a deferred call at the top of every spawned goroutine.
func RecoverPanic(logger zerolog.Logger, goroutine string) {
	if r := recover(); r != nil {
		logger.Error().
			Str("goroutine", goroutine).
			Interface("panic", r).
			Str("stack", string(debug.Stack())).
			Msg("goroutine panic recovered")
	}
}
