package wasm

import (
	"errors"
	"testing"
)

func TestScanString(t *testing.T) {
	buf := []byte("service : {}\x00tail\x00\x00abc")

	tests := []struct {
		name   string
		offset uint64
		want   string
	}{
		{name: "start", offset: 0, want: "service : {}"},
		{name: "middle", offset: 10, want: "{}"},
		{name: "stops at first NUL", offset: 13, want: "tail"},
		{name: "empty", offset: 17, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScanString(buf, tt.offset)
			if err != nil {
				t.Fatalf("ScanString() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ScanString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScanStringErrors(t *testing.T) {
	tests := []struct {
		name   string
		buf    []byte
		offset uint64
		kind   Kind
	}{
		{name: "offset at end", buf: []byte("abc\x00"), offset: 4, kind: KindOutOfBoundsScan},
		{name: "offset far past end", buf: []byte("abc\x00"), offset: 1 << 40, kind: KindOutOfBoundsScan},
		{name: "empty buffer", buf: nil, offset: 0, kind: KindOutOfBoundsScan},
		{name: "no terminator", buf: []byte("abc"), offset: 0, kind: KindOutOfBoundsScan},
		{name: "invalid utf-8", buf: []byte{'a', 0xff, 0xfe, 0}, offset: 0, kind: KindInvalidTextEncoding},
		{name: "truncated sequence", buf: []byte{0xe3, 0x82, 0}, offset: 0, kind: KindInvalidTextEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ScanString(tt.buf, tt.offset)

			var xerr *Error
			if !errors.As(err, &xerr) {
				t.Fatalf("ScanString() error = %v, want *Error", err)
			}
			if xerr.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", xerr.Kind, tt.kind)
			}
			if xerr.Offset != tt.offset {
				t.Errorf("Offset = %d, want %d", xerr.Offset, tt.offset)
			}
		})
	}
}

func TestScanStringUnicode(t *testing.T) {
	buf := append([]byte("service : { greet : (text) -> (text) } // サービス"), 0)

	got, err := ScanString(buf, 0)
	if err != nil {
		t.Fatalf("ScanString() failed: %v", err)
	}
	if got != string(buf[:len(buf)-1]) {
		t.Errorf("ScanString() = %q", got)
	}
}

func TestScanStringCopies(t *testing.T) {
	buf := []byte("abc\x00")

	got, err := ScanString(buf, 0)
	if err != nil {
		t.Fatal(err)
	}

	buf[0] = 'x'
	if got != "abc" {
		t.Errorf("Result changed with the buffer: %q", got)
	}
}

func TestMemory(t *testing.T) {
	buf := make([]byte, 128)
	copy(buf[100:], "service : {}")

	mem := NewMemory(&fakeMemory{width: Width64, buf: buf})

	if mem.Width() != Width64 {
		t.Errorf("Width() = %s, want memory64", mem.Width())
	}
	if mem.Size() != 128 {
		t.Errorf("Size() = %d, want 128", mem.Size())
	}

	got, err := mem.ReadString(100)
	if err != nil {
		t.Fatalf("ReadString() failed: %v", err)
	}
	if got != "service : {}" {
		t.Errorf("ReadString() = %q", got)
	}
}

func TestAddressWidth(t *testing.T) {
	if Width32.PointerKind() != ValueKindI32 || Width64.PointerKind() != ValueKindI64 {
		t.Error("PointerKind() should follow the address width")
	}
	if Width32.String() != "memory32" || Width64.String() != "memory64" {
		t.Errorf("String() = %s, %s", Width32, Width64)
	}

	// i32 results are unsigned and only the low 32 bits count.
	if got := Width32.Offset(0xFFFFFFFF); got != 4294967295 {
		t.Errorf("Width32.Offset(0xFFFFFFFF) = %d", got)
	}
	if got := Width32.Offset(1<<32 | 7); got != 7 {
		t.Errorf("Width32.Offset(1<<32|7) = %d, want 7", got)
	}
	if got := Width64.Offset(1<<40 | 7); got != 1<<40|7 {
		t.Errorf("Width64.Offset(1<<40|7) = %d", got)
	}
}
