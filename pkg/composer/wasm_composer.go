package composer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/ciphernom/bitquill/pkg/bqerr"
	"github.com/ciphernom/bitquill/pkg/delta"
)

// WASMComposerConfig bounds the sandbox a host-supplied composer module
// runs under: deny-by-default, matching the teacher's WASISandbox posture
// — no filesystem, no network, no ambient authority.
type WASMComposerConfig struct {
	MemoryLimitBytes uint32
	CPUTimeLimit     time.Duration
}

// WASMComposer wraps a host-supplied WebAssembly module implementing the
// Composer contract, so the injected capability described in spec.md §9
// can be delivered as a sandboxed guest module instead of linked Go code.
// The module receives the JSON-encoded delta sequence on stdin and must
// write the single composed Delta, JSON-encoded, to stdout.
type WASMComposer struct {
	runtime wazero.Runtime
	module  wazero.CompiledModule
	config  WASMComposerConfig
}

// NewWASMComposer compiles wasmBytes under a deny-by-default sandbox: no
// filesystem mount, no network import, no environment variables, a
// bounded memory ceiling, matching core/pkg/runtime/sandbox.WASISandbox.
func NewWASMComposer(ctx context.Context, wasmBytes []byte, cfg WASMComposerConfig) (*WASMComposer, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitBytes > 0 {
		pages := cfg.MemoryLimitBytes / (64 * 1024)
		if pages == 0 {
			pages = 1
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, bqerr.New(bqerr.KindCanonicalization, bqerr.ClassFatal, "wasm composer compile failed", err)
	}

	return &WASMComposer{runtime: r, module: compiled, config: cfg}, nil
}

// Compose marshals deltas to JSON, feeds them to the guest module over
// stdin, and decodes the module's stdout as the composed Delta. No
// filesystem, network, or host environment is wired into the instance.
func (c *WASMComposer) Compose(ctx context.Context, deltas []delta.Delta) (delta.Delta, error) {
	if c.config.CPUTimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CPUTimeLimit)
		defer cancel()
	}

	input, err := json.Marshal(deltas)
	if err != nil {
		return delta.Delta{}, bqerr.New(bqerr.KindCanonicalization, bqerr.ClassFatal, "wasm composer input marshal failed", err)
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName("bitquill-composer").
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := c.runtime.InstantiateModule(ctx, c.module, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return delta.Delta{}, bqerr.New(bqerr.KindCanonicalization, bqerr.ClassRetryable, "wasm composer timed out", ctx.Err())
		}
		return delta.Delta{}, bqerr.New(bqerr.KindCanonicalization, bqerr.ClassFatal, "wasm composer instantiation failed", err)
	}
	defer func() { _ = mod.Close(ctx) }()

	if stderr.Len() > 0 {
		return delta.Delta{}, bqerr.New(bqerr.KindCanonicalization, bqerr.ClassFatal, fmt.Sprintf("wasm composer stderr: %s", stderr.String()), nil)
	}

	var out delta.Delta
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return delta.Delta{}, bqerr.New(bqerr.KindCanonicalization, bqerr.ClassFatal, "wasm composer output decode failed", err)
	}
	return out, nil
}

// Close releases the wazero runtime and compiled module.
func (c *WASMComposer) Close(ctx context.Context) error {
	_ = c.module.Close(ctx)
	return c.runtime.Close(ctx)
}
