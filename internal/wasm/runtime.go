package wasm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	EngineWasmtime = "wasmtime"
	EngineWazero   = "wazero"

	// DefaultEngine supports both 32-bit and 64-bit memories.
	DefaultEngine = EngineWasmtime
)

// Compiler modes for the wazero engine.
const (
	CompilerAuto        = "auto"
	CompilerInterpreter = "interpreter"
	CompilerNative      = "compiler"
)

// ErrEngineNotFound is returned for an engine name nobody registered.
var ErrEngineNotFound = errors.New("engine not found")

// RuntimeConfig holds sandbox configuration.
type RuntimeConfig struct {
	// Engine selects the registered sandbox implementation.
	// Default: wasmtime
	Engine string

	// ExecutionTimeout bounds one extraction, including the start
	// function and the accessor call. Zero means unbounded.
	ExecutionTimeout time.Duration

	// Compiler selects the wazero execution mode (auto, interpreter,
	// compiler). Ignored by other engines.
	Compiler string
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Engine:           DefaultEngine,
		ExecutionTimeout: 0,
		Compiler:         CompilerAuto,
	}
}

// Factory creates a fresh sandbox for one extraction.
type Factory func(config *RuntimeConfig, logger *zap.Logger) (Sandbox, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register registers a sandbox factory under an engine name.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("engine %s already registered", name))
	}
	factories[name] = factory
}

// NewSandbox creates a sandbox with the named engine.
func NewSandbox(name string, config *RuntimeConfig, logger *zap.Logger) (Sandbox, error) {
	if name == "" {
		name = DefaultEngine
	}

	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown engine: %s: %w", name, ErrEngineNotFound)
	}

	return factory(config, logger)
}

// HasEngine reports whether an engine is registered.
func HasEngine(name string) bool {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	_, ok := factories[name]
	return ok
}

// Engines returns the registered engine names, sorted.
func Engines() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
