package log

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// New creates a zerolog.Logger writing to stderr, as JSON or, when pretty is
// set, in console format. Events that carry a context get the active trace
// and span ids.
func New(level zerolog.Level, pretty bool) zerolog.Logger {
	return NewWithWriter(os.Stderr, level, pretty)
}

// NewWithWriter is New with an explicit output.
func NewWithWriter(w io.Writer, level zerolog.Level, pretty bool) zerolog.Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(level).
		Hook(TraceHook{}).
		With().
		Timestamp().
		Logger()
}

// ParseLevel parses a level name, falling back to info for empty or unknown
// names.
func ParseLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Setup builds the process logger from its configured level and format and
// installs it as the global and default context logger.
func Setup(levelName string, pretty bool) zerolog.Logger {
	logger := New(ParseLevel(levelName), pretty)

	zlog.Logger = logger
	zerolog.DefaultContextLogger = &logger

	return logger
}

// FromContext returns the logger carried by ctx, or fallback when ctx holds
// no enabled logger and no default context logger is installed.
func FromContext(ctx context.Context, fallback *zerolog.Logger) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return fallback
}
