package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// newEmbeddingServer answers /v1/embeddings with [1, len(text)] per input, listed in
// reverse order so callers must place results by index.
func newEmbeddingServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		requests.Add(1)
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data := make([]embeddingData, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, embeddingData{
				Object:    "embedding",
				Embedding: []float32{1, float32(len(req.Input[i]))},
				Index:     i,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": len(req.Input), "total_tokens": len(req.Input)},
		})
	}))
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	var requests atomic.Int32
	srv := newEmbeddingServer(t, &requests)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{
		APIKey:     "sk-test",
		BaseURL:    srv.URL + "/v1",
		Dimensions: 2,
		BatchSize:  2,
		Workers:    2,
	}, nil)
	require.NoError(t, err)
	defer e.Close()

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	out, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, len(texts))
	assert.Equal(t, int32(3), requests.Load(), "five texts in sub-batches of two")

	for i, text := range texts {
		require.Len(t, out[i], 2)
		assert.InDelta(t, float64(len(text)), float64(out[i][1]/out[i][0]), 1e-4, "text %q", text)
		assert.InDelta(t, 1.0, float64(out[i][0]*out[i][0]+out[i][1]*out[i][1]), 1e-5)
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	var requests atomic.Int32
	srv := newEmbeddingServer(t, &requests)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)
	defer e.Close()

	v, err := e.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, float64(v[1]/v[0]), 1e-4)
	assert.Equal(t, 1536, e.Dimensions())
}

func TestOpenAIEmbedder_SendsConfiguredDimensions(t *testing.T) {
	var got atomic.Int32
	got.Store(-1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got.Store(int32(req.Dimensions))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   []embeddingData{{Object: "embedding", Embedding: []float32{0.6, 0.8}, Index: 0}},
		})
	}))
	defer srv.Close()

	tests := []struct {
		name       string
		configured int
		want       int32
	}{
		{"configured", 512, 512},
		{"model default", 0, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewOpenAIEmbedder(OpenAIConfig{
				APIKey:     "sk-test",
				BaseURL:    srv.URL + "/v1",
				Model:      "text-embedding-3-small",
				Dimensions: tt.configured,
			}, nil)
			require.NoError(t, err)
			defer e.Close()

			_, err = e.Embed(context.Background(), "tide")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Load())
		})
	}
}

func TestOpenAIEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom","type":"server_error"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", BatchSize: 1}, nil)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	assert.Error(t, err)
}

func TestOpenAIEmbedder_Defaults(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{}, nil)
	assert.Error(t, err)

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", Model: "text-embedding-3-large"}, nil)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, 3072, e.Dimensions())
}
