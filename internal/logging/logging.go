// Package logging provides the structured logger used by cmd/kvd for
// startup and shutdown events: one event name plus free-form key/value
// fields per call, built on github.com/rs/zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the event/fields vocabulary this core
// uses consistently: every call site logs one event name plus key/value
// fields, never a free-form printf message.
type Logger struct {
	z zerolog.Logger
}

// New builds a Logger writing JSON lines to out. A nil out defaults to
// os.Stderr.
func New(out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	z := zerolog.New(out).With().Timestamp().Logger()
	return &Logger{z: z}
}

// NewConsole builds a Logger writing human-readable console output instead
// of JSON lines. A nil out defaults to os.Stderr.
func NewConsole(out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	cw := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	return &Logger{z: zerolog.New(cw).With().Timestamp().Logger()}
}

// Event starts a log entry at level for the given event name. Fields are
// attached with the returned builder's chained calls before Msg/Send.
func (l *Logger) Event(level zerolog.Level, event string) *zerolog.Event {
	if l == nil {
		return zerolog.Nop().WithLevel(level).Str("event", event)
	}
	return l.z.WithLevel(level).Str("event", event)
}

func (l *Logger) Info(event string) *zerolog.Event  { return l.Event(zerolog.InfoLevel, event) }
func (l *Logger) Warn(event string) *zerolog.Event  { return l.Event(zerolog.WarnLevel, event) }
func (l *Logger) Error(event string) *zerolog.Event { return l.Event(zerolog.ErrorLevel, event) }
func (l *Logger) Debug(event string) *zerolog.Event { return l.Event(zerolog.DebugLevel, event) }
