package wasmtime

import (
	"github.com/bytecodealliance/wasmtime-go/v23"

	"github.com/woxQAQ/candid-extractor/internal/wasm"
)

func fromValTypes(types []*wasmtime.ValType) []wasm.ValueKind {
	kinds := make([]wasm.ValueKind, len(types))
	for i, t := range types {
		switch t.Kind() {
		case wasmtime.KindI32:
			kinds[i] = wasm.ValueKindI32
		case wasmtime.KindI64:
			kinds[i] = wasm.ValueKindI64
		case wasmtime.KindF32:
			kinds[i] = wasm.ValueKindF32
		case wasmtime.KindF64:
			kinds[i] = wasm.ValueKindF64
		case wasmtime.KindFuncref:
			kinds[i] = wasm.ValueKindFuncRef
		case wasmtime.KindExternref:
			kinds[i] = wasm.ValueKindExternRef
		default:
			kinds[i] = wasm.ValueKindUnknown
		}
	}
	return kinds
}

func toValTypes(kinds []wasm.ValueKind) ([]*wasmtime.ValType, error) {
	types := make([]*wasmtime.ValType, len(kinds))
	for i, k := range kinds {
		switch k {
		case wasm.ValueKindI32:
			types[i] = wasmtime.NewValType(wasmtime.KindI32)
		case wasm.ValueKindI64:
			types[i] = wasmtime.NewValType(wasmtime.KindI64)
		case wasm.ValueKindF32:
			types[i] = wasmtime.NewValType(wasmtime.KindF32)
		case wasm.ValueKindF64:
			types[i] = wasmtime.NewValType(wasmtime.KindF64)
		case wasm.ValueKindFuncRef:
			types[i] = wasmtime.NewValType(wasmtime.KindFuncref)
		case wasm.ValueKindExternRef:
			types[i] = wasmtime.NewValType(wasmtime.KindExternref)
		default:
			return nil, &wasm.UnsupportedValueError{Engine: wasm.EngineWasmtime, Kind: k}
		}
	}
	return types, nil
}

// zeroVal is the default value returned by mocked imports.
func zeroVal(k wasm.ValueKind) wasmtime.Val {
	switch k {
	case wasm.ValueKindI64:
		return wasmtime.ValI64(0)
	case wasm.ValueKindF32:
		return wasmtime.ValF32(0)
	case wasm.ValueKindF64:
		return wasmtime.ValF64(0)
	case wasm.ValueKindFuncRef:
		return wasmtime.ValFuncref(nil)
	case wasm.ValueKindExternRef:
		return wasmtime.ValExternref(nil)
	default:
		return wasmtime.ValI32(0)
	}
}
