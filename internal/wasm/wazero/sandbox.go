// Package wazero implements the extraction sandbox on the pure-Go wazero
// runtime. wazero does not implement Memory64, so modules declaring a
// 64-bit memory fail to compile here.
package wazero

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/candid-extractor/internal/wasm"
)

func init() {
	wasm.Register(wasm.EngineWazero, newSandbox)
}

// sandbox owns one wazero.Runtime; closing it closes the host modules,
// the compiled module and the instance together.
type sandbox struct {
	runtime  wazero.Runtime
	logger   *zap.Logger
	compiled wazero.CompiledModule
	stubs    *hostStubs
	instance api.Module
}

func newSandbox(config *wasm.RuntimeConfig, logger *zap.Logger) (wasm.Sandbox, error) {
	if config == nil {
		config = wasm.DefaultRuntimeConfig()
	}

	var rc wazero.RuntimeConfig
	switch config.Compiler {
	case wasm.CompilerInterpreter:
		rc = wazero.NewRuntimeConfigInterpreter()
	case wasm.CompilerNative:
		rc = wazero.NewRuntimeConfigCompiler()
	case wasm.CompilerAuto, "":
		rc = wazero.NewRuntimeConfig()
	default:
		return nil, fmt.Errorf("unknown wazero compiler mode: %s", config.Compiler)
	}
	// Lets a context deadline interrupt a guest that never returns.
	rc = rc.WithCloseOnContextDone(true)

	r := wazero.NewRuntimeWithConfig(context.Background(), rc)
	logger = logger.With(zap.String("component", "wasm-wazero"))

	return &sandbox{
		runtime: r,
		logger:  logger,
		stubs:   newHostStubs(r, logger),
	}, nil
}

// Compile decodes and validates the Wasm binary.
func (s *sandbox) Compile(ctx context.Context, binary []byte) error {
	compiled, err := s.runtime.CompileModule(ctx, binary)
	if err != nil {
		return err
	}
	s.compiled = compiled
	return nil
}

// Imports lists function and memory imports. wazero does not expose table
// or global imports; those surface as instantiation failures.
func (s *sandbox) Imports() []wasm.ImportDescriptor {
	var imports []wasm.ImportDescriptor

	for _, fn := range s.compiled.ImportedFunctions() {
		module, name, _ := fn.Import()
		imports = append(imports, wasm.ImportDescriptor{
			Module:  module,
			Name:    name,
			Kind:    wasm.ExternFunc,
			Params:  fromValueTypes(fn.ParamTypes()),
			Results: fromValueTypes(fn.ResultTypes()),
		})
	}

	for _, mem := range s.compiled.ImportedMemories() {
		module, name, _ := mem.Import()
		imports = append(imports, wasm.ImportDescriptor{
			Module: module,
			Name:   name,
			Kind:   wasm.ExternMemory,
		})
	}

	return imports
}

// Stub registers a no-op host function for a function import.
func (s *sandbox) Stub(imp wasm.ImportDescriptor) error {
	if imp.Kind != wasm.ExternFunc {
		return fmt.Errorf("cannot mock %s import", imp.Kind)
	}
	return s.stubs.add(imp)
}

// Instantiate instantiates the stub host modules, then the guest.
func (s *sandbox) Instantiate(ctx context.Context) error {
	if err := s.stubs.instantiate(ctx); err != nil {
		return fmt.Errorf("failed to instantiate mocked imports: %w", err)
	}

	// Anonymous, and without the WASI _start convention: only the Wasm
	// start section runs.
	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions()

	instance, err := s.runtime.InstantiateModule(ctx, s.compiled, moduleConfig)
	if err != nil {
		return err
	}
	s.instance = instance
	return nil
}

// Memory returns the exported memory. wazero memories are always 32-bit.
func (s *sandbox) Memory(name string) (wasm.LinearMemory, bool) {
	mem := s.instance.ExportedMemory(name)
	if mem == nil {
		return nil, false
	}
	return &memory{mem: mem}, true
}

// Function returns the exported function.
func (s *sandbox) Function(name string) (wasm.Function, bool) {
	fn := s.instance.ExportedFunction(name)
	if fn == nil {
		return nil, false
	}
	return &function{fn: fn}, true
}

// Close releases the runtime and everything created from it.
func (s *sandbox) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}

type memory struct {
	mem api.Memory
}

func (m *memory) Width() wasm.AddressWidth {
	return wasm.Width32
}

func (m *memory) Bytes() []byte {
	buf, ok := m.mem.Read(0, m.mem.Size())
	if !ok {
		return nil
	}
	return buf
}

type function struct {
	fn api.Function
}

func (f *function) Params() []wasm.ValueKind {
	return fromValueTypes(f.fn.Definition().ParamTypes())
}

func (f *function) Results() []wasm.ValueKind {
	return fromValueTypes(f.fn.Definition().ResultTypes())
}

func (f *function) Call(ctx context.Context) ([]uint64, error) {
	return f.fn.Call(ctx)
}
