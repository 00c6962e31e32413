package jsloop

import "github.com/cryguy/jsloop/internal/core"

// HostConfig holds runtime configuration for a Host.
type HostConfig struct {
	MemoryLimitMB   int        // per-runtime memory limit, 0 for none
	MaxScriptSizeKB int        // max source size accepted by Eval, 0 for none
	Worker          bool       // worker sub-context: signals are never delivered
	LogLevel        string     // builds a JSON logger on stderr when no WithLogger is given
	Loop            LoopConfig // idle wait cap and registry capacities
}

func (c HostConfig) engineConfig() core.EngineConfig {
	return core.EngineConfig{
		MemoryLimitMB:   c.MemoryLimitMB,
		MaxScriptSizeKB: c.MaxScriptSizeKB,
		Worker:          c.Worker,
		Loop:            c.Loop,
	}
}
