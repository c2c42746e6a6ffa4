package wasm

import (
	"context"
	"strings"
)

// ValueKind is an engine-neutral Wasm value type.
type ValueKind byte

const (
	ValueKindUnknown ValueKind = iota
	ValueKindI32
	ValueKindI64
	ValueKindF32
	ValueKindF64
	ValueKindV128
	ValueKindFuncRef
	ValueKindExternRef
)

func (k ValueKind) String() string {
	switch k {
	case ValueKindI32:
		return "i32"
	case ValueKindI64:
		return "i64"
	case ValueKindF32:
		return "f32"
	case ValueKindF64:
		return "f64"
	case ValueKindV128:
		return "v128"
	case ValueKindFuncRef:
		return "funcref"
	case ValueKindExternRef:
		return "externref"
	default:
		return "unknown"
	}
}

// ExternKind is the kind of an import or export.
type ExternKind int

const (
	ExternFunc ExternKind = iota
	ExternTable
	ExternMemory
	ExternGlobal
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// ImportDescriptor describes one import declared by a compiled module.
// Params and Results are only set for function imports.
type ImportDescriptor struct {
	Module  string
	Name    string
	Kind    ExternKind
	Params  []ValueKind
	Results []ValueKind
}

func (d ImportDescriptor) String() string {
	return d.Module + "::" + d.Name
}

// Signature renders the function signature, e.g. "(i32 i64) -> i32".
func (d ImportDescriptor) Signature() string {
	return FormatSignature(d.Params, d.Results)
}

// FormatSignature renders params and results in WAT-like notation.
func FormatSignature(params, results []ValueKind) string {
	join := func(kinds []ValueKind) string {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = k.String()
		}
		return "(" + strings.Join(names, " ") + ")"
	}
	return join(params) + " -> " + join(results)
}

// AddressWidth is the offset width of a linear memory.
type AddressWidth int

const (
	Width32 AddressWidth = 32
	Width64 AddressWidth = 64
)

func (w AddressWidth) String() string {
	if w == Width64 {
		return "memory64"
	}
	return "memory32"
}

// PointerKind is the result type the accessor must have for this width.
func (w AddressWidth) PointerKind() ValueKind {
	if w == Width64 {
		return ValueKindI64
	}
	return ValueKindI32
}

// Offset interprets a raw call result as an unsigned byte offset.
func (w AddressWidth) Offset(raw uint64) uint64 {
	if w == Width64 {
		return raw
	}
	return uint64(uint32(raw))
}

// Sandbox is one isolated VM context (engine, store and instance). It is
// owned by exactly one extraction and must be closed by it.
type Sandbox interface {
	// Compile decodes and validates the module binary.
	Compile(ctx context.Context, binary []byte) error

	// Imports lists the imports of the compiled module visible to the engine.
	Imports() []ImportDescriptor

	// Stub registers a no-op implementation for a function import.
	Stub(imp ImportDescriptor) error

	// Instantiate links the stubs and instantiates the compiled module.
	// The module's start function runs here.
	Instantiate(ctx context.Context) error

	// Memory returns the exported memory with the given name.
	Memory(name string) (LinearMemory, bool)

	// Function returns the exported function with the given name.
	Function(name string) (Function, bool)

	// Close releases everything the sandbox created.
	Close(ctx context.Context) error
}

// LinearMemory is a read-only view of an exported memory.
type LinearMemory interface {
	Width() AddressWidth

	// Bytes returns the backing buffer. It is only valid until the
	// sandbox is closed.
	Bytes() []byte
}

// Function is an exported function of an instance.
type Function interface {
	Params() []ValueKind
	Results() []ValueKind

	// Call invokes the function without arguments. Results are encoded
	// as uint64; i32 results occupy the low 32 bits.
	Call(ctx context.Context) ([]uint64, error)
}
