package jsloop

import "github.com/cryguy/jsloop/internal/core"

// Type aliases re-exporting internal/core types so embedders can configure
// a Host and inspect its failures without importing internal packages.

type LoopConfig = core.LoopConfig
type Channel = core.Channel
type Logger = core.Logger
type DiagnosticSink = core.DiagnosticSink
type DiagnosticFunc = core.DiagnosticFunc
type CallbackError = core.CallbackError
type JobError = core.JobError
type WaitError = core.WaitError
type PanicError = core.PanicError

// Callback sources reported in CallbackError.Source.
const (
	SourceTimer     = core.SourceTimer
	SourceReadiness = core.SourceReadiness
	SourceSignal    = core.SourceSignal
	SourcePort      = core.SourcePort
)

// ErrResourceExhausted is reported when a registry is at capacity.
var ErrResourceExhausted = core.ErrResourceExhausted

// NewLogger returns a JSON logger writing to w at level ("debug", "info",
// "warn", "err", ...).
var NewLogger = core.NewLogger

// ParseLevel parses a log level name.
var ParseLevel = core.ParseLevel
