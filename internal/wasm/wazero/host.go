package wazero

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/candid-extractor/internal/wasm"
)

// hostStubs collects no-op host functions grouped by import namespace.
// Each namespace becomes one wazero host module.
type hostStubs struct {
	runtime  wazero.Runtime
	logger   *zap.Logger
	builders map[string]wazero.HostModuleBuilder
	order    []string
}

func newHostStubs(r wazero.Runtime, logger *zap.Logger) *hostStubs {
	return &hostStubs{
		runtime:  r,
		logger:   logger,
		builders: make(map[string]wazero.HostModuleBuilder),
	}
}

// add exports a stub for imp from the host module named imp.Module.
func (h *hostStubs) add(imp wasm.ImportDescriptor) error {
	params, err := toValueTypes(imp.Params)
	if err != nil {
		return err
	}
	results, err := toValueTypes(imp.Results)
	if err != nil {
		return err
	}

	builder, ok := h.builders[imp.Module]
	if !ok {
		builder = h.runtime.NewHostModuleBuilder(imp.Module)
		h.builders[imp.Module] = builder
		h.order = append(h.order, imp.Module)
	}

	builder.NewFunctionBuilder().
		WithGoModuleFunction(h.noop(imp.String(), len(results)), params, results).
		WithName(imp.Name).
		Export(imp.Name)

	return nil
}

// instantiate instantiates every host module so the guest can link to them.
func (h *hostStubs) instantiate(ctx context.Context) error {
	for _, name := range h.order {
		if _, err := h.builders[name].Instantiate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// noop returns a function that zeroes its results. The stack is shared
// between params and results, so every result slot is overwritten.
func (h *hostStubs) noop(name string, numResults int) api.GoModuleFunc {
	return func(_ context.Context, _ api.Module, stack []uint64) {
		h.logger.Debug("Mocked import called", zap.String("import", name))
		for i := 0; i < numResults; i++ {
			stack[i] = 0
		}
	}
}

func toValueTypes(kinds []wasm.ValueKind) ([]api.ValueType, error) {
	types := make([]api.ValueType, len(kinds))
	for i, k := range kinds {
		switch k {
		case wasm.ValueKindI32:
			types[i] = api.ValueTypeI32
		case wasm.ValueKindI64:
			types[i] = api.ValueTypeI64
		case wasm.ValueKindF32:
			types[i] = api.ValueTypeF32
		case wasm.ValueKindF64:
			types[i] = api.ValueTypeF64
		case wasm.ValueKindExternRef:
			types[i] = api.ValueTypeExternref
		default:
			return nil, &wasm.UnsupportedValueError{Engine: wasm.EngineWazero, Kind: k}
		}
	}
	return types, nil
}

func fromValueTypes(types []api.ValueType) []wasm.ValueKind {
	kinds := make([]wasm.ValueKind, len(types))
	for i, t := range types {
		switch t {
		case api.ValueTypeI32:
			kinds[i] = wasm.ValueKindI32
		case api.ValueTypeI64:
			kinds[i] = wasm.ValueKindI64
		case api.ValueTypeF32:
			kinds[i] = wasm.ValueKindF32
		case api.ValueTypeF64:
			kinds[i] = wasm.ValueKindF64
		case api.ValueTypeExternref:
			kinds[i] = wasm.ValueKindExternRef
		case valueTypeFuncref:
			kinds[i] = wasm.ValueKindFuncRef
		case valueTypeV128:
			kinds[i] = wasm.ValueKindV128
		default:
			kinds[i] = wasm.ValueKindUnknown
		}
	}
	return kinds
}

// Binary encodings wazero reports but does not name in its api package.
const (
	valueTypeFuncref api.ValueType = 0x70
	valueTypeV128    api.ValueType = 0x7b
)
