package wasm

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// ModuleSource represents a source for Wasm bytecode.
type ModuleSource interface {
	// Bytes returns the Wasm bytecode.
	Bytes() ([]byte, error)

	// Name returns a name/identifier for this module.
	Name() string
}

// FileModuleSource loads Wasm from a file.
type FileModuleSource struct {
	Path string
}

// Bytes reads the Wasm file.
func (f *FileModuleSource) Bytes() ([]byte, error) {
	return os.ReadFile(f.Path)
}

// Name returns the file path as the module name.
func (f *FileModuleSource) Name() string {
	return f.Path
}

// MemoryModuleSource loads Wasm from memory.
type MemoryModuleSource struct {
	ModuleName string
	Data       []byte
}

// Bytes returns the Wasm bytecode.
func (m *MemoryModuleSource) Bytes() ([]byte, error) {
	if m.Data == nil {
		return nil, fmt.Errorf("no bytes supplied")
	}
	return m.Data, nil
}

// Name returns the module name.
func (m *MemoryModuleSource) Name() string {
	return m.ModuleName
}

// ModuleLoader obtains raw module bytes for the extractor.
type ModuleLoader struct {
	logger *zap.Logger
}

// NewModuleLoader creates a new module loader.
func NewModuleLoader(logger *zap.Logger) *ModuleLoader {
	return &ModuleLoader{
		logger: logger.With(zap.String("component", "wasm-loader")),
	}
}

// LoadModule reads the bytes of a source. Any failure is InputUnavailable.
func (l *ModuleLoader) LoadModule(ctx context.Context, source ModuleSource) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindInputUnavailable, Module: source.Name(), Err: err}
	}

	wasmBytes, err := source.Bytes()
	if err != nil {
		return nil, &Error{
			Kind:   KindInputUnavailable,
			Module: source.Name(),
			Detail: "failed to read module bytes",
			Err:    err,
		}
	}

	l.logger.Debug("Module bytes loaded",
		zap.String("module", source.Name()),
		zap.Int("size_bytes", len(wasmBytes)),
	)

	return wasmBytes, nil
}

// LoadModuleFromFile is a convenience function for loading from a file path.
func (l *ModuleLoader) LoadModuleFromFile(ctx context.Context, path string) ([]byte, error) {
	return l.LoadModule(ctx, &FileModuleSource{Path: path})
}

// LoadModuleFromMemory loads from a byte slice.
func (l *ModuleLoader) LoadModuleFromMemory(ctx context.Context, name string, data []byte) ([]byte, error) {
	return l.LoadModule(ctx, &MemoryModuleSource{ModuleName: name, Data: data})
}
