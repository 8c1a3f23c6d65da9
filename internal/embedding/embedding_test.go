package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeProducesUnitVector(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Fatalf("Normalize() = %v", v)
	}
}

func TestNormalizeKeepsZeroVector(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	for _, x := range v {
		if x != 0 {
			t.Fatalf("Normalize(zero) = %v", v)
		}
	}
}

func TestOllamaEmbedderEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" || len(req.Input) != 1 || req.Input[0] != "hello" {
			t.Errorf("unexpected request: %#v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{3, 4}}})
	}))
	defer server.Close()

	embedder := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL, Dimensions: 2})
	vector, err := embedder.Embed(context.Background(), "hello", true)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vector) != 2 || math.Abs(float64(vector[1])-0.8) > 1e-6 {
		t.Fatalf("Embed() = %v", vector)
	}
}

func TestOllamaEmbedderDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1, 2, 3}}})
	}))
	defer server.Close()

	_, err := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL, Dimensions: 2}).Embed(context.Background(), "x", false)
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestOllamaEmbedderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL}).Embed(context.Background(), "x", false); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestOllamaEmbedderDefaults(t *testing.T) {
	embedder := NewOllamaEmbedder(OllamaConfig{})
	if embedder.baseURL != defaultOllamaURL {
		t.Fatalf("baseURL = %q", embedder.baseURL)
	}
	if embedder.Model() != "nomic-embed-text" {
		t.Fatalf("Model() = %q", embedder.Model())
	}
}

func TestEmbedRejectsEmptyTextWithoutCalling(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	_, err := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL}).Embed(context.Background(), "   ", true)
	if !errors.Is(err, ErrEmptyText) {
		t.Fatalf("error = %v, want %v", err, ErrEmptyText)
	}
	openaiEmbedder, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder() error = %v", err)
	}
	if _, err := openaiEmbedder.Embed(context.Background(), "", true); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("error = %v, want %v", err, ErrEmptyText)
	}
	if called {
		t.Fatal("empty text should not reach the endpoint")
	}
}

func TestOpenAIEmbedderBatchPreservesOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["dimensions"] != float64(2) {
			t.Errorf("dimensions = %#v", req["dimensions"])
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float32{0, 2}},
				{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer server.Close()

	embedder, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: server.URL + "/v1", APIKey: "test-key", Dimensions: 2})
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder() error = %v", err)
	}
	vectors, err := embedder.EmbedBatch(context.Background(), []string{"a", "b"}, true)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Fatalf("EmbedBatch() = %v", vectors)
	}
}

func TestNewOpenAIEmbedderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIEmbedder(OpenAIConfig{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
