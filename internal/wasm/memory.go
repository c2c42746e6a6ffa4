package wasm

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// Memory reads NUL-terminated strings out of a guest's linear memory.
//
// Every read is bounds checked against the buffer the engine reports, so a
// bogus pointer from the guest turns into an OutOfBoundsScan error instead
// of a panic. Memory never writes.
type Memory struct {
	mem LinearMemory
}

// NewMemory creates a memory helper.
func NewMemory(mem LinearMemory) *Memory {
	return &Memory{mem: mem}
}

// Width returns the addressing width of the underlying memory.
func (m *Memory) Width() AddressWidth {
	return m.mem.Width()
}

// Size returns the current memory size in bytes.
func (m *Memory) Size() uint64 {
	return uint64(len(m.mem.Bytes()))
}

// ReadString reads a NUL-terminated UTF-8 string starting at offset.
func (m *Memory) ReadString(offset uint64) (string, error) {
	return ScanString(m.mem.Bytes(), offset)
}

// ScanString collects bytes from buf[offset:] up to, but excluding, the
// first zero byte and decodes them as UTF-8.
func ScanString(buf []byte, offset uint64) (string, error) {
	size := uint64(len(buf))
	if offset >= size {
		return "", &Error{
			Kind:   KindOutOfBoundsScan,
			Offset: offset,
			Detail: fmt.Sprintf("offset is outside memory of %d bytes", size),
		}
	}

	rest := buf[offset:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", &Error{
			Kind:   KindOutOfBoundsScan,
			Offset: offset,
			Detail: fmt.Sprintf("no NUL terminator before end of memory (%d bytes)", size),
		}
	}

	raw := rest[:end]
	if !utf8.Valid(raw) {
		return "", &Error{
			Kind:   KindInvalidTextEncoding,
			Offset: offset,
			Detail: fmt.Sprintf("%d bytes are not valid UTF-8", len(raw)),
		}
	}

	// string() copies, so the result outlives the sandbox.
	return string(raw), nil
}
