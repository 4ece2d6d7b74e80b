package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	h := HashEmbedder{EmbedDim: 8}
	v1, err := h.EmbedBatch(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := h.EmbedBatch(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v1[0]) != 8 {
		t.Fatalf("expected dim 8, got %d", len(v1[0]))
	}
	for i := range v1[0] {
		if v1[0][i] != v2[0][i] {
			t.Fatalf("hash embedding not deterministic at index %d", i)
		}
	}
}

func TestHashEmbedderDiffersByText(t *testing.T) {
	h := HashEmbedder{EmbedDim: 16}
	v1, _ := h.EmbedBatch(context.Background(), []string{"alpha"})
	v2, _ := h.EmbedBatch(context.Background(), []string{"beta"})
	if equalVectors(v1[0], v2[0]) {
		t.Fatal("expected different embeddings for different text")
	}
}

func equalVectors(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAPIEmbedderEmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := embeddingResponse{Data: make([]embeddingResponseData, len(req.Input))}
		for i := range req.Input {
			resp.Data[i] = embeddingResponseData{Embedding: []float64{1, 2, 3}, Index: i}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	e := NewAPIEmbedder(server.URL, "", "test-model", 3)
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
}

func TestResolve(t *testing.T) {
	if _, ok := Resolve("hash", "", "", 8).(HashEmbedder); !ok {
		t.Fatal("expected Resolve(\"hash\", ...) to return a HashEmbedder")
	}
	if _, ok := Resolve("fastembed:bge-small-en", "http://x", "", 384).(*APIEmbedder); !ok {
		t.Fatal("expected Resolve(\"fastembed:...\", ...) to return an *APIEmbedder")
	}
}
