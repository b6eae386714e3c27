package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chadiek/receptionist/internal/errs"
	"github.com/chadiek/receptionist/internal/model"
)

func TestEmbedEmptyInputRejectedWithoutNetworkCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New("key", srv.URL)
	_, err := c.Embed(context.Background(), "   ")
	if err != errs.EmbeddingInvalidInput {
		t.Fatalf("expected EmbeddingInvalidInput, got %v", err)
	}
	if called {
		t.Fatal("expected no network round trip for empty input")
	}
}

func TestEmbedReturnsFixedDimensionVector(t *testing.T) {
	vec := make([]float32, model.EmbDim)
	for i := range vec {
		vec[i] = 0.001
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: vec}}})
	}))
	defer srv.Close()

	c := New("key", srv.URL)
	got, err := c.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(got) != model.EmbDim {
		t.Fatalf("expected %d dimensions, got %d", model.EmbDim, len(got))
	}
}

func TestEmbedWrongDimensionIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{0.1, 0.2}}}})
	}))
	defer srv.Close()

	c := New("key", srv.URL)
	_, err := c.Embed(context.Background(), "hello")
	if !strings.Contains(err.Error(), "dimensions") {
		t.Fatalf("expected a dimension-mismatch error, got %v", err)
	}
}

func TestEmbedTransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("key", srv.URL)
	_, err := c.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected an error on 500 response")
	}
}
