// Package logging builds the process logger.
//
// Output goes to stderr, rendered with zerolog's console writer when stderr is
// a terminal and as JSON lines otherwise. An optional rotating file sink can be
// added alongside.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Out overrides stderr. Tests pass a buffer.
	Out io.Writer
	// Console forces console formatting on Out.
	Console bool
}

// New returns a root logger. The returned closer releases the file sink, if any.
func New(opts Options) (zerolog.Logger, io.Closer) {
	zerolog.TimestampFieldName = "timestamp"

	out := opts.Out
	console := opts.Console
	if out == nil {
		out = os.Stderr
		console = console || term.IsTerminal(int(os.Stderr.Fd()))
	}
	if console {
		cw := zerolog.NewConsoleWriter()
		cw.Out = out
		cw.TimeFormat = time.DateTime
		out = cw
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
		}
		out = zerolog.MultiLevelWriter(out, rotator)
		closer = rotator
	}

	SetLevel(opts.Level)
	logger := zerolog.New(out).
		With().
		Timestamp().
		Int("pid", os.Getpid()).
		Logger()

	return logger, closer
}

// ParseLevel maps a config string to a zerolog level. Unknown values mean info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetLevel changes the process-wide level. Loggers from New follow it, so a
// config reload can change verbosity without rebuilding them.
func SetLevel(s string) {
	zerolog.SetGlobalLevel(ParseLevel(s))
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
