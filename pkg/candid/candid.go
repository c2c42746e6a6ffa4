// Package candid extracts the Candid service description embedded in an
// Internet Computer canister's Wasm module.
//
// The module is instantiated with every function import replaced by a
// no-op, its get_candid_pointer export is called, and the NUL-terminated
// string at the returned offset of the exported "memory" is decoded.
//
//	did, err := candid.ExtractFile(ctx, "backend.wasm")
//	if candid.KindOf(err) == candid.KindMissingAccessorExport {
//	    // not built with candid export support
//	}
package candid

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/candid-extractor/internal/wasm"
	_ "github.com/woxQAQ/candid-extractor/internal/wasm/wasmtime"
	_ "github.com/woxQAQ/candid-extractor/internal/wasm/wazero"
)

// Error is the structured failure returned by every function here.
type Error = wasm.Error

// Kind identifies the failed stage of an extraction.
type Kind = wasm.Kind

const (
	KindInputUnavailable          = wasm.KindInputUnavailable
	KindMalformedModule           = wasm.KindMalformedModule
	KindImportUnsatisfiable       = wasm.KindImportUnsatisfiable
	KindInstantiationFailed       = wasm.KindInstantiationFailed
	KindMissingMemoryExport       = wasm.KindMissingMemoryExport
	KindMissingAccessorExport     = wasm.KindMissingAccessorExport
	KindAccessorSignatureMismatch = wasm.KindAccessorSignatureMismatch
	KindAccessorTrapped           = wasm.KindAccessorTrapped
	KindOutOfBoundsScan           = wasm.KindOutOfBoundsScan
	KindInvalidTextEncoding       = wasm.KindInvalidTextEncoding
)

// Engine names accepted by WithEngine.
const (
	EngineWasmtime = wasm.EngineWasmtime
	EngineWazero   = wasm.EngineWazero
)

// ErrEngineNotFound is returned by WithEngine names that are not built in.
var ErrEngineNotFound = wasm.ErrEngineNotFound

// KindOf returns the Kind carried by err.
func KindOf(err error) Kind {
	return wasm.KindOf(err)
}

type options struct {
	engine  string
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures an extraction.
type Option func(*options)

// WithEngine selects the Wasm engine. wazero cannot load 64-bit memories.
func WithEngine(name string) Option {
	return func(o *options) { o.engine = name }
}

// WithTimeout bounds instantiation and the accessor call.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func newExtractor(opts []Option) (*wasm.Extractor, error) {
	o := options{engine: wasm.DefaultEngine, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := wasm.DefaultRuntimeConfig()
	cfg.Engine = o.engine
	cfg.ExecutionTimeout = o.timeout
	return wasm.NewExtractor(o.logger, cfg)
}

// Extract returns the Candid interface embedded in a Wasm module.
func Extract(ctx context.Context, module []byte, opts ...Option) (string, error) {
	x, err := newExtractor(opts)
	if err != nil {
		return "", err
	}
	return x.Extract(ctx, module)
}

// ExtractFile reads a Wasm module from path and returns its Candid interface.
func ExtractFile(ctx context.Context, path string, opts ...Option) (string, error) {
	x, err := newExtractor(opts)
	if err != nil {
		return "", err
	}
	return x.ExtractFile(ctx, path)
}
