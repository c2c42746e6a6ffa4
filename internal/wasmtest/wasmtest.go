// Package wasmtest builds canister fixtures from WAT for tests.
package wasmtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/bytecodealliance/wasmtime-go/v23"
)

// Compile converts WAT into a Wasm binary or fails the test.
func Compile(t testing.TB, wat string) []byte {
	t.Helper()

	bin, err := wasmtime.Wat2Wasm(wat)
	if err != nil {
		t.Fatalf("Failed to compile WAT: %v\n%s", err, wat)
	}
	return bin
}

// Data renders bytes as a WAT string literal, escaping every byte.
func Data(b []byte) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, c := range b {
		fmt.Fprintf(&sb, "\\%02x", c)
	}
	sb.WriteByte('"')
	return sb.String()
}

// Canister describes a minimal canister: one exported memory holding Data
// at Offset, and an accessor returning Pointer.
type Canister struct {
	Memory64 bool
	Pages    int // default 1
	Offset   uint64
	Data     []byte
	Pointer  uint64
	Imports  []string // raw import clauses, e.g. (import "ic0" "time" (func (result i64)))
}

// WAT renders the module text.
func (c Canister) WAT() string {
	idx, ptr := "i32", "i32"
	if c.Memory64 {
		idx, ptr = "i64", "i64"
	}
	pages := c.Pages
	if pages == 0 {
		pages = 1
	}

	var sb strings.Builder
	sb.WriteString("(module\n")
	for _, imp := range c.Imports {
		fmt.Fprintf(&sb, "  %s\n", imp)
	}
	if c.Memory64 {
		fmt.Fprintf(&sb, "  (memory $mem i64 %d)\n", pages)
	} else {
		fmt.Fprintf(&sb, "  (memory $mem %d)\n", pages)
	}
	sb.WriteString("  (export \"memory\" (memory $mem))\n")
	if len(c.Data) > 0 {
		fmt.Fprintf(&sb, "  (data (%s.const %d) %s)\n", idx, c.Offset, Data(c.Data))
	}
	fmt.Fprintf(&sb, "  (func $get_candid_pointer (result %s)\n    %s.const %d\n  )\n", ptr, ptr, c.Pointer)
	sb.WriteString("  (export \"get_candid_pointer\" (func $get_candid_pointer))\n")
	sb.WriteString(")\n")
	return sb.String()
}

// Wasm compiles the canister.
func (c Canister) Wasm(t testing.TB) []byte {
	t.Helper()
	return Compile(t, c.WAT())
}

// Service builds a canister holding text, NUL-terminated, at offset.
func Service(t testing.TB, text string, offset uint64, memory64 bool) []byte {
	t.Helper()
	return Canister{
		Memory64: memory64,
		Offset:   offset,
		Data:     append([]byte(text), 0),
		Pointer:  offset,
	}.Wasm(t)
}
