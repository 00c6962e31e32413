//go:build v8

package jsloop

import (
	"github.com/cryguy/jsloop/internal/core"
	"github.com/cryguy/jsloop/internal/v8engine"
)

func newBackend(cfg core.EngineConfig, opts core.EngineOptions) (core.EngineBackend, error) {
	e, err := v8engine.NewEngine(cfg, opts)
	if err != nil {
		return nil, err
	}
	return e, nil
}
