package engine

import (
	"github.com/go-playground/validator/v10"
	"github.com/tetratelabs/wazero"

	"github.com/wippyai/jsbridge/errors"
)

// validate is shared; validator caches struct metadata.
var validate = validator.New()

// Config holds configuration for engine creation
type Config struct {
	// CompilationCache is shared between engines to reuse compiled machine
	// code. nil disables caching.
	CompilationCache wazero.CompilationCache `validate:"-"`

	// Exports overrides the symbol names looked up in the module.
	// nil means DefaultExports().
	Exports *Exports

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32 `validate:"lte=65536"`

	// DisableWASI skips providing wasi_snapshot_preview1 to modules that
	// import it. Such modules then fail to instantiate.
	DisableWASI bool
}

func (c *Config) exports() Exports {
	if c == nil || c.Exports == nil {
		return DefaultExports()
	}
	return *c.Exports
}

func (c *Config) check() error {
	if c == nil {
		return nil
	}
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "invalid engine config")
	}
	return nil
}
