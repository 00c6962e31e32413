package core

import "time"

// DefaultIdleWaitMs caps how long a single poll may block while timers
// exist but are all further out than the cap.
const DefaultIdleWaitMs = 10000

// LoopConfig holds the event loop's limits. Zero capacities mean unbounded.
type LoopConfig struct {
	IdleWaitMs  int // upper bound on one timer-driven wait, in milliseconds
	MaxTimers   int // linked timers
	MaxHandlers int // descriptors with at least one readiness callback
	MaxSignals  int // signal bindings
	MaxPorts    int // registered message ports
}

// IdleWait returns the configured cap, falling back to DefaultIdleWaitMs.
func (c LoopConfig) IdleWait() time.Duration {
	if c.IdleWaitMs <= 0 {
		return DefaultIdleWaitMs * time.Millisecond
	}
	return time.Duration(c.IdleWaitMs) * time.Millisecond
}

// EngineConfig holds runtime configuration for an embedded engine.
type EngineConfig struct {
	MemoryLimitMB   int  // per-runtime memory limit
	MaxScriptSizeKB int  // max source size accepted by Eval
	Worker          bool // run as a worker sub-context: signals are never delivered
	Loop            LoopConfig
}
