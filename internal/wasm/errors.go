package wasm

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the extraction stage that failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindInputUnavailable
	KindMalformedModule
	KindImportUnsatisfiable
	KindInstantiationFailed
	KindMissingMemoryExport
	KindMissingAccessorExport
	KindAccessorSignatureMismatch
	KindAccessorTrapped
	KindOutOfBoundsScan
	KindInvalidTextEncoding
)

var kindNames = map[Kind]string{
	KindUnknown:                   "unknown",
	KindInputUnavailable:          "input-unavailable",
	KindMalformedModule:           "malformed-module",
	KindImportUnsatisfiable:       "import-unsatisfiable",
	KindInstantiationFailed:       "instantiation-failed",
	KindMissingMemoryExport:       "missing-memory-export",
	KindMissingAccessorExport:     "missing-accessor-export",
	KindAccessorSignatureMismatch: "accessor-signature-mismatch",
	KindAccessorTrapped:           "accessor-trapped",
	KindOutOfBoundsScan:           "out-of-bounds-scan",
	KindInvalidTextEncoding:       "invalid-text-encoding",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the single failure type returned by the extractor. Exactly one
// Kind is set; the remaining fields are filled in where the stage has them.
type Error struct {
	Kind Kind

	// Module is the name of the source the bytes came from (file path or
	// caller supplied name).
	Module string

	// Import is "namespace::name" for import synthesis failures.
	Import string

	// Export is the export name for resolution and call failures.
	Export string

	// Offset is the scan start for out-of-bounds and encoding failures.
	Offset uint64

	// Detail is a short human readable explanation.
	Detail string

	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Module != "" {
		msg += fmt.Sprintf(" in module '%s'", e.Module)
	}

	switch e.Kind {
	case KindImportUnsatisfiable:
		msg += fmt.Sprintf(": cannot mock import '%s'", e.Import)
	case KindMissingMemoryExport:
		msg += fmt.Sprintf(": no memory export named '%s'", e.Export)
	case KindMissingAccessorExport:
		msg += fmt.Sprintf(": no function export named '%s'", e.Export)
	case KindAccessorSignatureMismatch, KindAccessorTrapped:
		msg += fmt.Sprintf(": function '%s'", e.Export)
	case KindOutOfBoundsScan, KindInvalidTextEncoding:
		msg += fmt.Sprintf(": string at offset %d", e.Offset)
	}

	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var xerr *Error
	if errors.As(err, &xerr) {
		return xerr.Kind
	}
	return KindUnknown
}

// TimeoutError occurs when Wasm execution exceeds the configured budget.
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Wasm execution timed out after %v", e.Duration)
}

// UnsupportedValueError occurs when an engine cannot express an import
// signature in a host function.
type UnsupportedValueError struct {
	Engine string
	Kind   ValueKind
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("engine '%s' cannot mock value type %s", e.Engine, e.Kind)
}
