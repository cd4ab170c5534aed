package script

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// WASMEngine runs precompiled plugin units as WASI command modules. The
// plugin source field carries the module bytes, base64-encoded. On each run
// the module receives {"body","url","headers"} as JSON on stdin; whatever it
// writes to stdout becomes the replacement body. An empty stdout means no
// modification.
type WASMEngine struct {
	runtime wazero.Runtime
}

// NewWASMEngine creates the WASI execution provider.
func NewWASMEngine(ctx context.Context) (*WASMEngine, error) {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true))

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	return &WASMEngine{runtime: r}, nil
}

// Close releases the underlying runtime.
func (e *WASMEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Compile decodes and compiles the module.
func (e *WASMEngine) Compile(name, source string) (Program, error) {
	wasmBytes, err := base64.StdEncoding.DecodeString(source)
	if err != nil {
		return nil, fmt.Errorf("compile %s: decode module: %w", name, err)
	}
	compiled, err := e.runtime.CompileModule(context.Background(), wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return &wasmProgram{name: name, runtime: e.runtime, compiled: compiled}, nil
}

type wasmProgram struct {
	name     string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

type wasmInput struct {
	Body    string            `json:"body"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

func (p *wasmProgram) Run(body, url string, headers map[string]string) (string, bool, error) {
	input, err := json.Marshal(wasmInput{Body: body, URL: url, Headers: headers})
	if err != nil {
		return "", false, fmt.Errorf("run %s: encode input: %w", p.name, err)
	}

	var stdout bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName(""). // anonymous, so concurrent runs don't collide
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithArgs(p.name)

	ctx := context.Background()
	mod, err := p.runtime.InstantiateModule(ctx, p.compiled, cfg)
	if err != nil {
		if exitErr, ok := err.(*sys.ExitError); ok && exitErr.ExitCode() == 0 {
			// _start returned cleanly via proc_exit(0).
		} else {
			return "", false, fmt.Errorf("run %s: %w", p.name, err)
		}
	}
	if mod != nil {
		_ = mod.Close(ctx)
	}

	if stdout.Len() == 0 {
		return "", false, nil
	}
	return stdout.String(), true, nil
}
