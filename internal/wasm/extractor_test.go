package wasm_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/woxQAQ/candid-extractor/internal/wasm"
	_ "github.com/woxQAQ/candid-extractor/internal/wasm/wasmtime"
	_ "github.com/woxQAQ/candid-extractor/internal/wasm/wazero"
	"github.com/woxQAQ/candid-extractor/internal/wasmtest"
)

var engines = []string{wasm.EngineWasmtime, wasm.EngineWazero}

func newExtractor(t *testing.T, engine string, timeout time.Duration) *wasm.Extractor {
	t.Helper()

	x, err := wasm.NewExtractor(zaptest.NewLogger(t), &wasm.RuntimeConfig{
		Engine:           engine,
		ExecutionTimeout: timeout,
		Compiler:         wasm.CompilerAuto,
	})
	require.NoError(t, err)
	return x
}

// forEachEngine runs fn once per registered engine.
func forEachEngine(t *testing.T, fn func(t *testing.T, x *wasm.Extractor)) {
	t.Helper()

	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			fn(t, newExtractor(t, engine, 0))
		})
	}
}

func requireKind(t *testing.T, err error, kind wasm.Kind) *wasm.Error {
	t.Helper()

	var xerr *wasm.Error
	require.ErrorAs(t, err, &xerr)
	require.Equal(t, kind, xerr.Kind, "unexpected error: %v", err)
	return xerr
}

func TestExtractAtOffsetZero(t *testing.T) {
	bin := wasmtest.Service(t, "service : {}", 0, false)

	forEachEngine(t, func(t *testing.T, x *wasm.Extractor) {
		text, err := x.Extract(context.Background(), bin)
		require.NoError(t, err)
		assert.Equal(t, "service : {}", text)
	})
}

func TestExtractAtNonZeroOffset(t *testing.T) {
	bin := wasmtest.Service(t, "service : {}", 10, false)

	forEachEngine(t, func(t *testing.T, x *wasm.Extractor) {
		text, err := x.Extract(context.Background(), bin)
		require.NoError(t, err)
		assert.Equal(t, "service : {}", text)
	})
}

func TestExtractStopsAtFirstNUL(t *testing.T) {
	bin := wasmtest.Canister{
		Offset:  0,
		Data:    []byte("service : {}\x00trailing bytes\x00"),
		Pointer: 0,
	}.Wasm(t)

	forEachEngine(t, func(t *testing.T, x *wasm.Extractor) {
		text, err := x.Extract(context.Background(), bin)
		require.NoError(t, err)
		assert.Equal(t, "service : {}", text)
	})
}

func TestExtractEmptyString(t *testing.T) {
	bin := wasmtest.Canister{Pointer: 1024}.Wasm(t)

	forEachEngine(t, func(t *testing.T, x *wasm.Extractor) {
		text, err := x.Extract(context.Background(), bin)
		require.NoError(t, err)
		assert.Empty(t, text)
	})
}

func TestExtractWithMockedImports(t *testing.T) {
	// The start function and the accessor both call imports; the mocks
	// return zero, so the accessor yields 32.
	bin := wasmtest.Compile(t, `(module
  (import "ic0" "msg_arg_data_size" (func $size (result i32)))
  (import "ic0" "time" (func $time (result i64)))
  (import "ic0" "debug_print" (func $print (param i32 i32)))
  (import "ic0" "msg_reply" (func $reply))
  (import "env" "mix" (func $mix (param f32 f64 i64) (result f64)))
  (memory (export "memory") 1)
  (data (i32.const 32) "service : { greet : (text) -> (text) }\00")
  (func $init
    (call $print (i32.const 0) (i32.const 0))
    (drop (call $time))
    (drop (call $mix (f32.const 1) (f64.const 2) (i64.const 3)))
    (call $reply))
  (start $init)
  (func (export "get_candid_pointer") (result i32)
    (i32.add (call $size) (i32.const 32)))
)`)

	forEachEngine(t, func(t *testing.T, x *wasm.Extractor) {
		text, err := x.Extract(context.Background(), bin)
		require.NoError(t, err)
		assert.Equal(t, "service : { greet : (text) -> (text) }", text)
	})
}

func TestExtractMemory64(t *testing.T) {
	bin32 := wasmtest.Service(t, "service : {}", 10, false)
	bin64 := wasmtest.Service(t, "service : {}", 10, true)

	x := newExtractor(t, wasm.EngineWasmtime, 0)

	text32, err := x.Extract(context.Background(), bin32)
	require.NoError(t, err)
	text64, err := x.Extract(context.Background(), bin64)
	require.NoError(t, err)

	assert.Equal(t, "service : {}", text64)
	assert.Equal(t, text32, text64)
}

func TestExtractMemory64Failures(t *testing.T) {
	x := newExtractor(t, wasm.EngineWasmtime, 0)

	t.Run("pointer past memory", func(t *testing.T) {
		bin := wasmtest.Canister{Memory64: true, Pointer: 1 << 40}.Wasm(t)

		_, err := x.Extract(context.Background(), bin)
		xerr := requireKind(t, err, wasm.KindOutOfBoundsScan)
		assert.Equal(t, uint64(1<<40), xerr.Offset)
	})

	t.Run("i32 accessor", func(t *testing.T) {
		bin := wasmtest.Compile(t, `(module
  (memory (export "memory") i64 1)
  (func (export "get_candid_pointer") (result i32) i32.const 0)
)`)

		_, err := x.Extract(context.Background(), bin)
		xerr := requireKind(t, err, wasm.KindAccessorSignatureMismatch)
		assert.Contains(t, xerr.Error(), "memory64 requires () -> (i64)")
	})
}

func TestWazeroRejectsMemory64(t *testing.T) {
	bin := wasmtest.Service(t, "service : {}", 0, true)

	_, err := newExtractor(t, wasm.EngineWazero, 0).Extract(context.Background(), bin)
	requireKind(t, err, wasm.KindMalformedModule)
}

func TestExtractRoundTrip(t *testing.T) {
	texts := []string{
		"service : {}",
		"a",
		"type Result = variant { Ok : text; Err : text };\nservice : { greet : (text) -> (Result) query }",
		"サービス : { 挨拶 : (text) -> (text) }",
		strings.Repeat("service : { f : () -> () };", 500),
	}
	offsets := []uint64{0, 1, 7, 4096, 60000}

	forEachEngine(t, func(t *testing.T, x *wasm.Extractor) {
		for _, text := range texts {
			for _, offset := range offsets {
				if offset+uint64(len(text)) >= 65536 {
					continue
				}

				bin := wasmtest.Service(t, text, offset, false)
				got, err := x.Extract(context.Background(), bin)
				require.NoError(t, err, "offset %d", offset)
				require.Equal(t, text, got, "offset %d", offset)
			}
		}

		// The last byte of the page is the terminator.
		text := "service : {}"
		bin := wasmtest.Service(t, text, 65536-uint64(len(text))-1, false)
		got, err := x.Extract(context.Background(), bin)
		require.NoError(t, err)
		assert.Equal(t, text, got)
	})
}

func TestExtractConcurrently(t *testing.T) {
	forEachEngine(t, func(t *testing.T, x *wasm.Extractor) {
		var g errgroup.Group

		for i := range 8 {
			text := fmt.Sprintf("service : { method_%d : () -> () }", i)
			bin := wasmtest.Service(t, text, uint64(i*100), false)

			g.Go(func() error {
				got, err := x.Extract(context.Background(), bin)
				if err != nil {
					return err
				}
				if got != text {
					return fmt.Errorf("got %q, want %q", got, text)
				}
				return nil
			})
		}

		require.NoError(t, g.Wait())
	})
}

func TestExtractFailures(t *testing.T) {
	tests := []struct {
		name   string
		module func(t *testing.T) []byte
		kind   wasm.Kind
		check  func(t *testing.T, e *wasm.Error)
	}{
		{
			name:   "not wasm",
			module: func(*testing.T) []byte { return []byte("service : {}") },
			kind:   wasm.KindMalformedModule,
		},
		{
			name:   "truncated header",
			module: func(*testing.T) []byte { return []byte{0x00, 0x61, 0x73} },
			kind:   wasm.KindMalformedModule,
		},
		{
			name: "memory import",
			module: func(t *testing.T) []byte {
				return wasmtest.Compile(t, `(module
  (import "env" "memory" (memory 1))
  (export "memory" (memory 0))
  (func (export "get_candid_pointer") (result i32) i32.const 0)
)`)
			},
			kind: wasm.KindImportUnsatisfiable,
			check: func(t *testing.T, e *wasm.Error) {
				assert.Equal(t, "env::memory", e.Import)
			},
		},
		{
			name: "start function traps",
			module: func(t *testing.T) []byte {
				return wasmtest.Compile(t, `(module
  (memory (export "memory") 1)
  (func $init unreachable)
  (start $init)
  (func (export "get_candid_pointer") (result i32) i32.const 0)
)`)
			},
			kind: wasm.KindInstantiationFailed,
		},
		{
			name: "no memory export",
			module: func(t *testing.T) []byte {
				return wasmtest.Compile(t, `(module
  (func (export "get_candid_pointer") (result i32) i32.const 0)
)`)
			},
			kind: wasm.KindMissingMemoryExport,
			check: func(t *testing.T, e *wasm.Error) {
				assert.Equal(t, wasm.MemoryExportName, e.Export)
			},
		},
		{
			name: "memory exported under another name",
			module: func(t *testing.T) []byte {
				return wasmtest.Compile(t, `(module
  (memory (export "mem") 1)
  (func (export "get_candid_pointer") (result i32) i32.const 0)
)`)
			},
			kind: wasm.KindMissingMemoryExport,
		},
		{
			name: "no accessor export",
			module: func(t *testing.T) []byte {
				return wasmtest.Compile(t, `(module (memory (export "memory") 1))`)
			},
			kind: wasm.KindMissingAccessorExport,
			check: func(t *testing.T, e *wasm.Error) {
				assert.Equal(t, wasm.AccessorExportName, e.Export)
			},
		},
		{
			name: "accessor is a global",
			module: func(t *testing.T) []byte {
				return wasmtest.Compile(t, `(module
  (memory (export "memory") 1)
  (global (export "get_candid_pointer") i32 (i32.const 0))
)`)
			},
			kind: wasm.KindMissingAccessorExport,
		},
		{
			name: "i64 accessor for memory32",
			module: func(t *testing.T) []byte {
				return wasmtest.Compile(t, `(module
  (memory (export "memory") 1)
  (func (export "get_candid_pointer") (result i64) i64.const 0)
)`)
			},
			kind: wasm.KindAccessorSignatureMismatch,
			check: func(t *testing.T, e *wasm.Error) {
				assert.Contains(t, e.Error(), "memory32 requires () -> (i32), found () -> (i64)")
			},
		},
		{
			name: "accessor with parameters",
			module: func(t *testing.T) []byte {
				return wasmtest.Compile(t, `(module
  (memory (export "memory") 1)
  (func (export "get_candid_pointer") (param i32) (result i32) local.get 0)
)`)
			},
			kind: wasm.KindAccessorSignatureMismatch,
		},
		{
			name: "accessor without result",
			module: func(t *testing.T) []byte {
				return wasmtest.Compile(t, `(module
  (memory (export "memory") 1)
  (func (export "get_candid_pointer"))
)`)
			},
			kind: wasm.KindAccessorSignatureMismatch,
		},
		{
			name: "accessor traps",
			module: func(t *testing.T) []byte {
				return wasmtest.Compile(t, `(module
  (memory (export "memory") 1)
  (func (export "get_candid_pointer") (result i32) unreachable)
)`)
			},
			kind: wasm.KindAccessorTrapped,
		},
		{
			name: "pointer at memory size",
			module: func(t *testing.T) []byte {
				return wasmtest.Canister{Pointer: 65536}.Wasm(t)
			},
			kind: wasm.KindOutOfBoundsScan,
			check: func(t *testing.T, e *wasm.Error) {
				assert.Equal(t, uint64(65536), e.Offset)
			},
		},
		{
			name: "negative pointer",
			module: func(t *testing.T) []byte {
				return wasmtest.Canister{Pointer: 0xFFFFFFFF}.Wasm(t)
			},
			kind: wasm.KindOutOfBoundsScan,
			check: func(t *testing.T, e *wasm.Error) {
				assert.Equal(t, uint64(0xFFFFFFFF), e.Offset)
			},
		},
		{
			name: "no terminator before end of memory",
			module: func(t *testing.T) []byte {
				return wasmtest.Canister{Offset: 65533, Data: []byte("abc"), Pointer: 65533}.Wasm(t)
			},
			kind: wasm.KindOutOfBoundsScan,
		},
		{
			name: "invalid utf-8",
			module: func(t *testing.T) []byte {
				return wasmtest.Canister{Offset: 16, Data: []byte{'s', 0xff, 0xfe, 0x00}, Pointer: 16}.Wasm(t)
			},
			kind: wasm.KindInvalidTextEncoding,
			check: func(t *testing.T, e *wasm.Error) {
				assert.Equal(t, uint64(16), e.Offset)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bin := tt.module(t)

			forEachEngine(t, func(t *testing.T, x *wasm.Extractor) {
				_, err := x.Extract(context.Background(), bin)
				xerr := requireKind(t, err, tt.kind)
				assert.Equal(t, "<memory>", xerr.Module)
				if tt.check != nil {
					tt.check(t, xerr)
				}
			})
		})
	}
}

func TestExtractGlobalImport(t *testing.T) {
	bin := wasmtest.Compile(t, `(module
  (import "env" "__stack_pointer" (global i32))
  (memory (export "memory") 1)
  (func (export "get_candid_pointer") (result i32) i32.const 0)
)`)

	// wasmtime reports every import kind; wazero only lists function and
	// memory imports, so the missing global fails at link time.
	want := map[string]wasm.Kind{
		wasm.EngineWasmtime: wasm.KindImportUnsatisfiable,
		wasm.EngineWazero:   wasm.KindInstantiationFailed,
	}

	forEachEngine(t, func(t *testing.T, x *wasm.Extractor) {
		_, err := x.Extract(context.Background(), bin)
		requireKind(t, err, want[x.Engine()])
	})
}

func TestExtractTimeout(t *testing.T) {
	spin := wasmtest.Compile(t, `(module
  (memory (export "memory") 1)
  (func (export "get_candid_pointer") (result i32)
    (loop $spin (br $spin))
    i32.const 0)
)`)
	spinAtStart := wasmtest.Compile(t, `(module
  (memory (export "memory") 1)
  (func $init (loop $spin (br $spin)))
  (start $init)
  (func (export "get_candid_pointer") (result i32) i32.const 0)
)`)

	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			x := newExtractor(t, engine, 200*time.Millisecond)

			_, err := x.Extract(context.Background(), spin)
			requireKind(t, err, wasm.KindAccessorTrapped)
			var timeout *wasm.TimeoutError
			assert.ErrorAs(t, err, &timeout)

			_, err = x.Extract(context.Background(), spinAtStart)
			requireKind(t, err, wasm.KindInstantiationFailed)
			assert.ErrorAs(t, err, &timeout)
		})
	}
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backend.wasm")
	require.NoError(t, os.WriteFile(path, wasmtest.Service(t, "service : {}", 0, false), 0o644))

	forEachEngine(t, func(t *testing.T, x *wasm.Extractor) {
		text, err := x.ExtractFile(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, "service : {}", text)

		missing := filepath.Join(dir, "missing.wasm")
		_, err = x.ExtractFile(context.Background(), missing)
		xerr := requireKind(t, err, wasm.KindInputUnavailable)
		assert.Equal(t, missing, xerr.Module)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})
}

func TestExtractNilInput(t *testing.T) {
	forEachEngine(t, func(t *testing.T, x *wasm.Extractor) {
		_, err := x.Extract(context.Background(), nil)
		requireKind(t, err, wasm.KindInputUnavailable)
	})
}
