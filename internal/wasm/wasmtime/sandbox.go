// Package wasmtime implements the extraction sandbox on wasmtime with the
// Memory64 proposal enabled.
package wasmtime

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v23"
	"go.uber.org/zap"

	"github.com/woxQAQ/candid-extractor/internal/wasm"
)

func init() {
	wasm.Register(wasm.EngineWasmtime, newSandbox)
}

// sandbox owns one wasmtime engine and store. The engine is created in
// Compile because epoch interruption has to be decided before the module
// is compiled.
type sandbox struct {
	logger *zap.Logger

	engine   *wasmtime.Engine
	store    *wasmtime.Store
	module   *wasmtime.Module
	linker   *wasmtime.Linker
	instance *wasmtime.Instance

	timer       *time.Timer
	interrupted atomic.Bool
}

func newSandbox(_ *wasm.RuntimeConfig, logger *zap.Logger) (wasm.Sandbox, error) {
	return &sandbox{
		logger: logger.With(zap.String("component", "wasm-wasmtime")),
	}, nil
}

// Compile creates the engine and store, then decodes and validates the
// binary. A context deadline arms epoch interruption.
func (s *sandbox) Compile(ctx context.Context, binary []byte) error {
	deadline, bounded := ctx.Deadline()

	cfg := wasmtime.NewConfig()
	cfg.SetWasmMemory64(true)
	cfg.SetEpochInterruption(bounded)

	s.engine = wasmtime.NewEngineWithConfig(cfg)
	s.store = wasmtime.NewStore(s.engine)
	s.linker = wasmtime.NewLinker(s.engine)

	if bounded {
		// Guest code traps once the epoch moves past the deadline.
		s.store.SetEpochDeadline(1)
		engine := s.engine
		s.timer = time.AfterFunc(time.Until(deadline), func() {
			s.interrupted.Store(true)
			engine.IncrementEpoch()
		})
	}

	module, err := wasmtime.NewModule(s.engine, binary)
	if err != nil {
		return err
	}
	s.module = module
	return nil
}

// Imports lists every import the module declares.
func (s *sandbox) Imports() []wasm.ImportDescriptor {
	var imports []wasm.ImportDescriptor

	for _, imp := range s.module.Imports() {
		desc := wasm.ImportDescriptor{Module: imp.Module()}
		if name := imp.Name(); name != nil {
			desc.Name = *name
		}

		ty := imp.Type()
		switch {
		case ty.FuncType() != nil:
			ft := ty.FuncType()
			desc.Kind = wasm.ExternFunc
			desc.Params = fromValTypes(ft.Params())
			desc.Results = fromValTypes(ft.Results())
		case ty.MemoryType() != nil:
			desc.Kind = wasm.ExternMemory
		case ty.TableType() != nil:
			desc.Kind = wasm.ExternTable
		default:
			desc.Kind = wasm.ExternGlobal
		}

		imports = append(imports, desc)
	}

	return imports
}

// Stub defines a no-op function in the linker under the import's name.
func (s *sandbox) Stub(imp wasm.ImportDescriptor) error {
	if imp.Kind != wasm.ExternFunc {
		return fmt.Errorf("cannot mock %s import", imp.Kind)
	}

	params, err := toValTypes(imp.Params)
	if err != nil {
		return err
	}
	results, err := toValTypes(imp.Results)
	if err != nil {
		return err
	}

	defaults := make([]wasmtime.Val, len(imp.Results))
	for i, k := range imp.Results {
		defaults[i] = zeroVal(k)
	}

	name := imp.String()
	logger := s.logger
	return s.linker.FuncNew(imp.Module, imp.Name, wasmtime.NewFuncType(params, results),
		func(_ *wasmtime.Caller, _ []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			logger.Debug("Mocked import called", zap.String("import", name))
			return defaults, nil
		})
}

// Instantiate links the stubs and runs the start function, if any.
func (s *sandbox) Instantiate(_ context.Context) error {
	instance, err := s.linker.Instantiate(s.store, s.module)
	if err != nil {
		return s.interruptedErr(err)
	}
	s.instance = instance
	return nil
}

// Memory returns the exported memory and its declared addressing width.
func (s *sandbox) Memory(name string) (wasm.LinearMemory, bool) {
	ext := s.instance.GetExport(s.store, name)
	if ext == nil || ext.Memory() == nil {
		return nil, false
	}

	mem := ext.Memory()
	width := wasm.Width32
	if mem.Type(s.store).Is64() {
		width = wasm.Width64
	}
	return &memory{mem: mem, store: s.store, width: width}, true
}

// Function returns the exported function.
func (s *sandbox) Function(name string) (wasm.Function, bool) {
	ext := s.instance.GetExport(s.store, name)
	if ext == nil || ext.Func() == nil {
		return nil, false
	}

	fn := ext.Func()
	ty := fn.Type(s.store)
	return &function{
		sandbox: s,
		fn:      fn,
		params:  fromValTypes(ty.Params()),
		results: fromValTypes(ty.Results()),
	}, true
}

// Close stops the epoch timer. The engine, store and instance hold no
// handles outside this sandbox and are freed with it.
func (s *sandbox) Close(_ context.Context) error {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.instance = nil
	s.linker = nil
	s.module = nil
	s.store = nil
	s.engine = nil
	return nil
}

func (s *sandbox) interruptedErr(err error) error {
	if s.interrupted.Load() {
		return fmt.Errorf("interrupted at execution deadline: %w: %w", context.DeadlineExceeded, err)
	}
	return err
}

type memory struct {
	mem   *wasmtime.Memory
	store *wasmtime.Store
	width wasm.AddressWidth
}

func (m *memory) Width() wasm.AddressWidth {
	return m.width
}

func (m *memory) Bytes() []byte {
	return m.mem.UnsafeData(m.store)
}

type function struct {
	sandbox *sandbox
	fn      *wasmtime.Func
	params  []wasm.ValueKind
	results []wasm.ValueKind
}

func (f *function) Params() []wasm.ValueKind {
	return f.params
}

func (f *function) Results() []wasm.ValueKind {
	return f.results
}

func (f *function) Call(_ context.Context) ([]uint64, error) {
	out, err := f.fn.Call(f.sandbox.store)
	if err != nil {
		return nil, f.sandbox.interruptedErr(err)
	}

	switch v := out.(type) {
	case nil:
		return nil, nil
	case int32:
		return []uint64{uint64(uint32(v))}, nil
	case int64:
		return []uint64{uint64(v)}, nil
	default:
		return nil, fmt.Errorf("unexpected result type %T", out)
	}
}
