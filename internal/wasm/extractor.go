package wasm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Export names every canister follows.
const (
	MemoryExportName   = "memory"
	AccessorExportName = "get_candid_pointer"
)

// State is a step of one extraction.
type State int

const (
	StateStart State = iota
	StateParsed
	StateInstantiated
	StateMemoryResolved
	StatePointerObtained
	StateExtracted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateParsed:
		return "parsed"
	case StateInstantiated:
		return "instantiated"
	case StateMemoryResolved:
		return "memory-resolved"
	case StatePointerObtained:
		return "pointer-obtained"
	case StateExtracted:
		return "extracted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Extractor recovers the Candid interface embedded in a canister module.
// It holds no per-module state and is safe for concurrent use; every call
// gets its own sandbox.
type Extractor struct {
	config *RuntimeConfig
	loader *ModuleLoader
	logger *zap.Logger
}

// NewExtractor creates an extractor using the configured engine.
func NewExtractor(logger *zap.Logger, config *RuntimeConfig) (*Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = DefaultRuntimeConfig()
	}
	if config.Engine == "" {
		c := *config
		c.Engine = DefaultEngine
		config = &c
	}
	if !HasEngine(config.Engine) {
		return nil, fmt.Errorf("unknown engine: %s (registered: %v): %w",
			config.Engine, Engines(), ErrEngineNotFound)
	}

	return &Extractor{
		config: config,
		loader: NewModuleLoader(logger),
		logger: logger.With(zap.String("component", "candid-extractor")),
	}, nil
}

// Engine returns the engine name this extractor uses.
func (x *Extractor) Engine() string {
	return x.config.Engine
}

// Extract runs the whole pipeline on an in-memory module.
func (x *Extractor) Extract(ctx context.Context, binary []byte) (string, error) {
	return x.ExtractSource(ctx, &MemoryModuleSource{ModuleName: "<memory>", Data: binary})
}

// ExtractFile reads a module from disk and extracts its Candid interface.
func (x *Extractor) ExtractFile(ctx context.Context, path string) (string, error) {
	return x.ExtractSource(ctx, &FileModuleSource{Path: path})
}

// ExtractSource loads a module from source and extracts its Candid interface.
func (x *Extractor) ExtractSource(ctx context.Context, source ModuleSource) (string, error) {
	binary, err := x.loader.LoadModule(ctx, source)
	if err != nil {
		return "", err
	}
	return x.extract(ctx, source.Name(), binary)
}

func (x *Extractor) extract(ctx context.Context, name string, binary []byte) (string, error) {
	if x.config.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.config.ExecutionTimeout)
		defer cancel()
	}

	logger := x.logger.With(zap.String("module", name), zap.String("engine", x.config.Engine))
	start := time.Now()

	sb, err := NewSandbox(x.config.Engine, x.config, logger)
	if err != nil {
		return "", err
	}
	defer func() {
		// The caller's context may already be done; release regardless.
		if err := sb.Close(context.Background()); err != nil {
			logger.Warn("Failed to close sandbox", zap.Error(err))
		}
	}()

	fail := func(e *Error) (string, error) {
		e.Module = name
		logger.Debug("Extraction failed",
			zap.Stringer("state", StateFailed),
			zap.Stringer("kind", e.Kind),
			zap.Error(e),
		)
		return "", e
	}
	enter := func(s State) {
		logger.Debug("Extraction state", zap.Stringer("state", s))
	}

	enter(StateStart)

	if err := sb.Compile(ctx, binary); err != nil {
		return fail(&Error{Kind: KindMalformedModule, Err: err})
	}
	enter(StateParsed)

	if xerr := x.synthesizeImports(sb, logger); xerr != nil {
		return fail(xerr)
	}

	if err := sb.Instantiate(ctx); err != nil {
		return fail(x.withTimeout(ctx, &Error{Kind: KindInstantiationFailed, Err: err}))
	}
	enter(StateInstantiated)

	lm, ok := sb.Memory(MemoryExportName)
	if !ok {
		return fail(&Error{Kind: KindMissingMemoryExport, Export: MemoryExportName})
	}
	mem := NewMemory(lm)
	logger.Debug("Memory resolved",
		zap.Stringer("width", mem.Width()),
		zap.Uint64("size_bytes", mem.Size()),
	)
	enter(StateMemoryResolved)

	offset, xerr := x.retrievePointer(ctx, sb, mem.Width())
	if xerr != nil {
		return fail(xerr)
	}
	enter(StatePointerObtained)

	text, err := mem.ReadString(offset)
	if err != nil {
		var scanErr *Error
		if errors.As(err, &scanErr) {
			return fail(scanErr)
		}
		return fail(&Error{Kind: KindOutOfBoundsScan, Offset: offset, Err: err})
	}
	enter(StateExtracted)

	logger.Info("Candid interface extracted",
		zap.Uint64("offset", offset),
		zap.Int("length", len(text)),
		zap.Duration("duration", time.Since(start)),
	)

	return text, nil
}

// synthesizeImports registers a no-op stub for every function import and
// rejects every other import kind.
func (x *Extractor) synthesizeImports(sb Sandbox, logger *zap.Logger) *Error {
	imports := sb.Imports()
	stubbed := 0

	for _, imp := range imports {
		if imp.Kind != ExternFunc {
			return &Error{
				Kind:   KindImportUnsatisfiable,
				Import: imp.String(),
				Detail: fmt.Sprintf("%s imports are not mocked", imp.Kind),
			}
		}

		if err := sb.Stub(imp); err != nil {
			return &Error{Kind: KindImportUnsatisfiable, Import: imp.String(), Err: err}
		}
		stubbed++

		logger.Debug("Mocked import",
			zap.String("import", imp.String()),
			zap.String("signature", imp.Signature()),
		)
	}

	logger.Debug("Imports synthesized", zap.Int("functions", stubbed))
	return nil
}

// retrievePointer calls the accessor whose result width matches the memory.
func (x *Extractor) retrievePointer(ctx context.Context, sb Sandbox, width AddressWidth) (uint64, *Error) {
	fn, ok := sb.Function(AccessorExportName)
	if !ok {
		return 0, &Error{Kind: KindMissingAccessorExport, Export: AccessorExportName}
	}

	params, results := fn.Params(), fn.Results()
	want := []ValueKind{width.PointerKind()}
	if len(params) != 0 || len(results) != 1 || results[0] != want[0] {
		return 0, &Error{
			Kind:   KindAccessorSignatureMismatch,
			Export: AccessorExportName,
			Detail: fmt.Sprintf("%s requires %s, found %s",
				width, FormatSignature(nil, want), FormatSignature(params, results)),
		}
	}

	out, err := fn.Call(ctx)
	if err != nil {
		return 0, x.withTimeout(ctx, &Error{Kind: KindAccessorTrapped, Export: AccessorExportName, Err: err})
	}
	if len(out) != 1 {
		return 0, &Error{
			Kind:   KindAccessorSignatureMismatch,
			Export: AccessorExportName,
			Detail: fmt.Sprintf("call returned %d values", len(out)),
		}
	}

	return width.Offset(out[0]), nil
}

// withTimeout replaces the engine cause with a TimeoutError when the
// execution budget ran out.
func (x *Extractor) withTimeout(ctx context.Context, e *Error) *Error {
	if x.config.ExecutionTimeout == 0 {
		return e
	}
	// The engine may notice the deadline before ctx does.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(e.Err, context.DeadlineExceeded) {
		if e.Err != nil {
			e.Detail = e.Err.Error()
		}
		e.Err = &TimeoutError{Duration: x.config.ExecutionTimeout}
	}
	return e
}
