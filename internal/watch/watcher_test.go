package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/candid-extractor/internal/wasm"
	_ "github.com/woxQAQ/candid-extractor/internal/wasm/wazero"
	"github.com/woxQAQ/candid-extractor/internal/wasmtest"
)

type outcome struct {
	text string
	err  error
}

func TestWatcherReExtractsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.wasm")
	require.NoError(t, os.WriteFile(path, wasmtest.Service(t, "service : {}", 0, false), 0o644))

	x, err := wasm.NewExtractor(zaptest.NewLogger(t), &wasm.RuntimeConfig{Engine: wasm.EngineWazero})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outcomes := make(chan outcome, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := New(x, path, zaptest.NewLogger(t)).
			WithDebounce(50*time.Millisecond).
			Run(ctx, func(text string, err error) {
				outcomes <- outcome{text: text, err: err}
			})
		assert.NoError(t, err)
	}()

	next := func() outcome {
		select {
		case o := <-outcomes:
			return o
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for extraction")
			return outcome{}
		}
	}

	first := next()
	require.NoError(t, first.err)
	assert.Equal(t, "service : {}", first.text)

	updated := wasmtest.Service(t, "service : { greet : (text) -> (text) }", 0, false)
	require.NoError(t, os.WriteFile(path, updated, 0o644))

	second := next()
	require.NoError(t, second.err)
	assert.Equal(t, "service : { greet : (text) -> (text) }", second.text)

	// A broken build is reported and watching continues.
	require.NoError(t, os.WriteFile(path, []byte("not wasm"), 0o644))
	third := next()
	assert.Equal(t, wasm.KindMalformedModule, wasm.KindOf(third.err))

	cancel()
	wg.Wait()
}

func TestWatcherMissingDirectory(t *testing.T) {
	x, err := wasm.NewExtractor(zaptest.NewLogger(t), &wasm.RuntimeConfig{Engine: wasm.EngineWazero})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "missing", "backend.wasm")
	err = New(x, path, zaptest.NewLogger(t)).Run(context.Background(), func(string, error) {})
	assert.Error(t, err)
}
