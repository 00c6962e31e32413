package core

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger shared by the loop and the adapters.
// A nil *Logger is valid and discards everything.
type Logger = logiface.Logger[logiface.Event]

// NewLogger returns a JSON logger writing to w at the given level.
func NewLogger(w io.Writer, level logiface.Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(w),
			stumpy.WithTimeField("time"),
		),
		stumpy.L.WithLevel(level),
	).Logger()
}

// ParseLevel accepts the syslog keywords logiface prints ("err", "info",
// ...) plus the common long forms.
func ParseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info", "informational":
		return logiface.LevelInformational, nil
	case "disabled", "off", "none":
		return logiface.LevelDisabled, nil
	case "emerg", "emergency":
		return logiface.LevelEmergency, nil
	case "alert":
		return logiface.LevelAlert, nil
	case "crit", "critical":
		return logiface.LevelCritical, nil
	case "err", "error":
		return logiface.LevelError, nil
	case "warn", "warning":
		return logiface.LevelWarning, nil
	case "notice":
		return logiface.LevelNotice, nil
	case "debug":
		return logiface.LevelDebug, nil
	case "trace":
		return logiface.LevelTrace, nil
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
}

// LogDiagnostics returns a DiagnosticSink that writes each failure to l at
// error level.
func LogDiagnostics(l *Logger) DiagnosticSink {
	return DiagnosticFunc(func(err error) {
		b := l.Err().Err(err)
		var cbErr *CallbackError
		var jobErr *JobError
		switch {
		case errors.As(err, &cbErr):
			b = b.Str("kind", "callback").Str("source", cbErr.Source).Int64("id", cbErr.ID)
		case errors.As(err, &jobErr):
			b = b.Str("kind", "job")
		}
		b.Log("unhandled exception")
	})
}
