package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

// fakeOllama serves /api/tags and /api/embed with 3-dimensional vectors.
type fakeOllama struct {
	models      []string
	embedCalls  atomic.Int32
	failFirst   int32
	failStatus  int
	lastBatches [][]string
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		var resp OllamaModelListResponse
		for _, m := range f.models {
			resp.Models = append(resp.Models, OllamaModelInfo{Name: m})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		n := f.embedCalls.Add(1)
		if n <= f.failFirst {
			http.Error(w, "busy", f.failStatus)
			return
		}
		var req struct {
			Model string `json:"model"`
			Input any    `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, x := range v {
				inputs = append(inputs, x.(string))
			}
		}
		f.lastBatches = append(f.lastBatches, inputs)

		resp := OllamaEmbedResponse{Model: req.Model}
		for i := range inputs {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(i + 1), 0.5, 0.25})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func newTestOllama(t *testing.T, f *fakeOllama, batch int) *OllamaEmbedder {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	cfg.BatchSize = batch
	cfg.MaxRetries = 2
	e, err := NewOllamaEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestOllamaEmbedder_DetectsModelAndDimensions(t *testing.T) {
	// Given: a server with a tagged model name
	f := &fakeOllama{models: []string{"nomic-embed-text:latest"}}

	// When: creating the embedder
	e := newTestOllama(t, f, 8)

	// Then: the base-name match is used and dimensions come from the probe
	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
	assert.Equal(t, 3, e.Dimensions())
	assert.Equal(t, ModeRemote, e.Mode())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_BatchesAndSkipsBlank(t *testing.T) {
	// Given: batch size 2
	f := &fakeOllama{models: []string{"nomic-embed-text"}}
	e := newTestOllama(t, f, 2)
	probeCalls := f.embedCalls.Load()

	// When: embedding three texts and one blank
	vecs, err := e.Embed(context.Background(), []string{"a", "", "b", "c"})

	// Then: two requests; blank gets a zero vector without a request
	require.NoError(t, err)
	require.Len(t, vecs, 4)
	assert.Equal(t, int32(2), f.embedCalls.Load()-probeCalls)
	assert.True(t, IsZeroVector(vecs[1]))
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(2), vecs[2][0])
	assert.Equal(t, float32(1), vecs[3][0])
}

func TestOllamaEmbedder_RetriesServerErrors(t *testing.T) {
	f := &fakeOllama{models: []string{"nomic-embed-text"}}
	e := newTestOllama(t, f, 8)
	f.embedCalls.Store(0)
	f.failFirst = 1
	f.failStatus = http.StatusServiceUnavailable

	vecs, err := e.Embed(context.Background(), []string{"hello"})

	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, int32(2), f.embedCalls.Load())
}

func TestOllamaEmbedder_ClientErrorIsNotRetried(t *testing.T) {
	f := &fakeOllama{models: []string{"nomic-embed-text"}}
	e := newTestOllama(t, f, 8)
	f.embedCalls.Store(0)
	f.failFirst = 100
	f.failStatus = http.StatusBadRequest

	_, err := e.Embed(context.Background(), []string{"hello"})

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeEmbeddingFailed, amerrors.GetCode(err))
	assert.Equal(t, int32(1), f.embedCalls.Load())
}

func TestOllamaEmbedder_MissingModel(t *testing.T) {
	f := &fakeOllama{models: []string{"llama3"}}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	_, err := NewOllamaEmbedder(context.Background(), cfg)

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeNetworkUnavailable, amerrors.GetCode(err))
}

func TestOllamaEmbedder_SkipHealthCheckNeedsDimensions(t *testing.T) {
	cfg := DefaultOllamaConfig()
	cfg.SkipHealthCheck = true

	_, err := NewOllamaEmbedder(context.Background(), cfg)
	assert.Error(t, err)

	cfg.Dimensions = 768
	e, err := NewOllamaEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 768, e.Dimensions())
}
