package candid_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/candid-extractor/internal/wasmtest"
	"github.com/woxQAQ/candid-extractor/pkg/candid"
)

func TestExtract(t *testing.T) {
	bin := wasmtest.Service(t, "service : {}", 10, false)

	for _, engine := range []string{candid.EngineWasmtime, candid.EngineWazero} {
		t.Run(engine, func(t *testing.T) {
			text, err := candid.Extract(context.Background(), bin,
				candid.WithEngine(engine),
				candid.WithLogger(zaptest.NewLogger(t)),
				candid.WithTimeout(10*time.Second),
			)
			require.NoError(t, err)
			assert.Equal(t, "service : {}", text)
		})
	}
}

func TestExtractDefaultsToMemory64CapableEngine(t *testing.T) {
	bin := wasmtest.Service(t, "service : {}", 0, true)

	text, err := candid.Extract(context.Background(), bin)
	require.NoError(t, err)
	assert.Equal(t, "service : {}", text)
}

func TestExtractFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.wasm")
	require.NoError(t, os.WriteFile(path, wasmtest.Service(t, "service : {}", 0, false), 0o644))

	text, err := candid.ExtractFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "service : {}", text)
}

func TestErrors(t *testing.T) {
	bin := wasmtest.Compile(t, `(module (memory (export "memory") 1))`)

	_, err := candid.Extract(context.Background(), bin)
	assert.Equal(t, candid.KindMissingAccessorExport, candid.KindOf(err))

	var cerr *candid.Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "get_candid_pointer", cerr.Export)

	_, err = candid.ExtractFile(context.Background(), filepath.Join(t.TempDir(), "missing.wasm"))
	assert.Equal(t, candid.KindInputUnavailable, candid.KindOf(err))
}

func TestUnknownEngine(t *testing.T) {
	_, err := candid.Extract(context.Background(), nil, candid.WithEngine("v8"))
	assert.ErrorIs(t, err, candid.ErrEngineNotFound)
}
