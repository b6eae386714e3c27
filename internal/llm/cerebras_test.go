package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"context"
)

func TestClientCompleteNoKey(t *testing.T) {
	c := NewClient("", "http://unused", "model")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.complete(ctx, chatCompletionsRequest{}); err == nil {
		t.Fatal("expected error with missing api key")
	}
}

func TestClientCompleteHTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("not-json")) }},
		{"empty_choices", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := NewClient("key", srv.URL, "model")
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := c.complete(ctx, chatCompletionsRequest{}); err == nil {
				t.Fatal("expected error; got nil")
			}
		})
	}
}

func TestClientCompleteWithRetrySucceedsOnSecondAttempt(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(500)
			return
		}
		w.WriteHeader(200)
		_ = json.NewEncoder(w).Encode(chatCompletionsResponse{
			Choices: []chatChoice{{Message: Message{Role: "assistant", Content: "hi there"}}},
		})
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, "model")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := c.completeWithRetry(ctx, chatCompletionsRequest{})
	if err != nil {
		t.Fatalf("completeWithRetry() error = %v", err)
	}
	if msg.Content != "hi there" {
		t.Fatalf("msg.Content = %q, want %q", msg.Content, "hi there")
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestClientCompleteWithRetryGivesUpAfterSecondFailure(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(500)
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, "model")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.completeWithRetry(ctx, chatCompletionsRequest{}); err == nil {
		t.Fatal("expected error after exhausting retry")
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}
