//go:build !v8

package jsloop

import (
	"github.com/cryguy/jsloop/internal/core"
	"github.com/cryguy/jsloop/internal/quickjs"
)

func newBackend(cfg core.EngineConfig, opts core.EngineOptions) (core.EngineBackend, error) {
	e, err := quickjs.NewEngine(cfg, opts)
	if err != nil {
		return nil, err
	}
	return e, nil
}
