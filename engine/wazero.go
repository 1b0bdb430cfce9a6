package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/jsbridge/errors"
)

const wasiModuleName = "wasi_snapshot_preview1"

// WazeroEngine compiles and instantiates QuickJS WebAssembly builds.
type WazeroEngine struct {
	runtime      wazero.Runtime
	exports      Exports
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
	disableWASI  bool
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	e := &WazeroEngine{exports: cfg.exports()}

	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.CompilationCache != nil {
			runtimeCfg = runtimeCfg.WithCompilationCache(cfg.CompilationCache)
		}
		e.disableWASI = cfg.DisableWASI
	}

	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return e, nil
}

// LoadModule compiles a QuickJS build and checks that it exports every
// function the bridge calls, with the expected signatures.
func (e *WazeroEngine) LoadModule(ctx context.Context, wasmBytes []byte) (*WazeroModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}

	if err := checkExports(compiled, e.exports); err != nil {
		compiled.Close(ctx)
		return nil, err
	}

	needsWASI := false
	for _, def := range compiled.ImportedFunctions() {
		if mod, _, _ := def.Import(); mod == wasiModuleName {
			needsWASI = true
			break
		}
	}

	Logger().Debug("module loaded",
		zap.Int("exports", len(compiled.ExportedFunctions())),
		zap.Bool("wasi", needsWASI))

	return &WazeroModule{
		engine:    e,
		compiled:  compiled,
		needsWASI: needsWASI,
	}, nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// InitWASI instantiates the WASI singleton for this engine's runtime.
// Safe for concurrent calls from multiple modules sharing the same engine.
func (e *WazeroEngine) InitWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(wasiModuleName) != nil {
		e.wasiInitDone.Store(true)
		return nil
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
		// If another path initialized WASI concurrently in the same runtime,
		// treat it as success and mark done.
		if e.runtime.Module(wasiModuleName) == nil {
			return fmt.Errorf("instantiate WASI: %w", err)
		}
	}

	e.wasiInitDone.Store(true)
	return nil
}

// WazeroModule is a compiled QuickJS build
type WazeroModule struct {
	engine    *WazeroEngine
	compiled  wazero.CompiledModule
	needsWASI bool
}

// Instantiate creates an isolated guest instance with its own JavaScript
// runtime. ctx is used for every guest call the instance makes.
func (m *WazeroModule) Instantiate(ctx context.Context) (*WazeroInstance, error) {
	if m.needsWASI {
		if m.engine.disableWASI {
			return nil, errors.Load("instantiate module", fmt.Errorf("module imports %s but WASI is disabled", wasiModuleName))
		}
		if err := m.engine.InitWASI(ctx); err != nil {
			return nil, errors.Load("init WASI", err)
		}
	}

	// Anonymous so several instances can share one runtime. Reactor builds
	// run their constructors from _initialize.
	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize")

	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modCfg)
	if err != nil {
		return nil, errors.Load("instantiate module", err)
	}

	inst, err := newInstance(ctx, mod, m.engine.exports)
	if err != nil {
		mod.Close(ctx)
		return nil, err
	}
	return inst, nil
}

// Close releases the compiled code.
func (m *WazeroModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}
