// Package wasmcore is the embedding surface of the KPIO WebAssembly
// runtime core: parse a binary into an immutable Module, instantiate it
// into an ExecutorContext with a WASI context built from a Config, and
// call its exports.
//
//	rt := wasmcore.NewRuntime(wasmcore.NewConfig().WithPreopen("/app"))
//	m, err := rt.CompileModule(binary)
//	ctx, err := rt.InstantiateModule(m)
//	results, err := ctx.CallExport("_start")
package wasmcore

import (
	"fmt"

	"github.com/kpio-os/wasmcore/internal/logging"
	"github.com/kpio-os/wasmcore/internal/sys"
	"github.com/kpio-os/wasmcore/vfs"
	"github.com/kpio-os/wasmcore/wasi"
	"github.com/kpio-os/wasmcore/wasm"
	"github.com/kpio-os/wasmcore/wasm/binary"
	"github.com/kpio-os/wasmcore/wasm/interp"
)

// Runtime compiles and instantiates modules against one engine and one
// configuration.
type Runtime struct {
	cfg    *Config
	engine *interp.Engine
	cache  *moduleCache
}

// NewRuntime builds a Runtime from cfg; a nil cfg means defaults.
func NewRuntime(cfg *Config) *Runtime {
	if cfg == nil {
		cfg = NewConfig()
	}
	r := &Runtime{cfg: cfg, engine: interp.NewEngine()}
	if cfg.cacheSize > 0 {
		// Size is validated positive; construction cannot fail.
		r.cache, _ = newModuleCache(cfg.cacheSize)
	}
	return r
}

// Engine exposes the executor engine, mainly for differential tests.
func (r *Runtime) Engine() *interp.Engine { return r.engine }

// CompileModule decodes, validates, and translates a binary. The returned
// module is immutable and may be instantiated any number of times.
func (r *Runtime) CompileModule(bin []byte) (*wasm.Module, error) {
	var key uint64
	if r.cache != nil {
		key = cacheKey(bin)
		if m, ok := r.cache.get(key); ok {
			return m, nil
		}
	}
	m, err := binary.DecodeModule(bin)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := r.engine.CompileModule(m); err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.add(key, m)
	}
	return m, nil
}

// InstantiateModule realizes a compiled module: the WASI context is built
// from the runtime's Config, preopens are registered in order starting at
// fd 3, and the start function (if any) runs before this returns.
func (r *Runtime) InstantiateModule(m *wasm.Module) (*wasm.ExecutorContext, error) {
	cfg := r.cfg
	fsys := cfg.fs
	if fsys == nil {
		fsys = vfs.New()
	}
	opts := []sys.Option{
		sys.WithArgs(cfg.args...),
		sys.WithEnviron(cfg.environ...),
		sys.WithStdio(cfg.stdin, cfg.stdout, cfg.stderr),
	}
	if cfg.walltime != nil {
		opts = append(opts, sys.WithWalltime(cfg.walltime))
	}
	if cfg.nanotime != nil {
		opts = append(opts, sys.WithNanotime(cfg.nanotime))
	}
	if cfg.randSource != nil {
		opts = append(opts, sys.WithRandSource(cfg.randSource))
	}
	sysCtx, err := sys.NewContext(fsys, opts...)
	if err != nil {
		return nil, err
	}
	for _, p := range cfg.preopens {
		if _, err := sysCtx.FS().Preopen(p); err != nil {
			return nil, fmt.Errorf("preopen %q: %w", p, err)
		}
	}

	imports := wasm.Imports{wasi.ModuleName: wasi.HostModule()}
	for name, hm := range cfg.hostModules {
		imports[name] = hm
	}
	if cfg.hostLogger != nil {
		hl := logging.NewHostLogger(cfg.hostLogger)
		for name, hm := range imports {
			imports[name] = hl.Wrap(name, hm)
		}
	}
	return wasm.Instantiate(m, imports, sysCtx, r.engine)
}
