package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chadiek/receptionist/internal/model"
)

type fakeRetriever struct {
	contactCalls int
	emailCalls   int
}

func (f *fakeRetriever) SearchContacts(ctx context.Context, name string) []model.SearchResult {
	f.contactCalls++
	return []model.SearchResult{{Content: "Jane Doe", SourceID: "c1", Score: 1}}
}

func (f *fakeRetriever) SearchEmails(ctx context.Context, purposeText string) []model.SearchResult {
	f.emailCalls++
	return []model.SearchResult{{Content: "re: invoice", SourceID: "e1", Score: 0.9}}
}

// scriptedServer replays one chatCompletionsResponse per call, in order.
func scriptedServer(t *testing.T, responses []chatCompletionsResponse) *httptest.Server {
	t.Helper()
	idx := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if idx >= len(responses) {
			t.Fatalf("unexpected extra request %d", idx)
		}
		resp := responses[idx]
		idx++
		w.WriteHeader(200)
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func toolCallMsg(calls ...ToolCall) Message {
	return Message{Role: "assistant", ToolCalls: calls}
}

func tc(id, name, args string) ToolCall {
	var c ToolCall
	c.ID = id
	c.Type = "function"
	c.Function.Name = name
	c.Function.Arguments = args
	return c
}

func TestRunTurnDispatchesToolsThenTerminates(t *testing.T) {
	srv := scriptedServer(t, []chatCompletionsResponse{
		{Choices: []chatChoice{{Message: toolCallMsg(tc("1", "search_contacts", `{"name":"Jane"}`))}}},
		{Choices: []chatChoice{{Message: toolCallMsg(tc("2", "generate_response", `{"reply":"Hi Jane, how can I help?"}`))}}},
	})
	defer srv.Close()

	retr := &fakeRetriever{}
	driver := NewDriver(NewClient("key", srv.URL, "model"), retr, 4, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := driver.RunTurn(ctx, nil, "Hi this is Jane calling about the invoice")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if reply != "Hi Jane, how can I help?" {
		t.Fatalf("reply = %q", reply)
	}
	if retr.contactCalls != 1 {
		t.Fatalf("contactCalls = %d, want 1", retr.contactCalls)
	}
}

func TestRunTurnDedupesRepeatedToolCall(t *testing.T) {
	srv := scriptedServer(t, []chatCompletionsResponse{
		{Choices: []chatChoice{{Message: toolCallMsg(
			tc("1", "search_contacts", `{"name":"Jane"}`),
			tc("2", "search_contacts", `{"name":"Jane"}`),
		)}}},
		{Choices: []chatChoice{{Message: toolCallMsg(tc("3", "generate_response", `{"reply":"done"}`))}}},
	})
	defer srv.Close()

	retr := &fakeRetriever{}
	driver := NewDriver(NewClient("key", srv.URL, "model"), retr, 4, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := driver.RunTurn(ctx, nil, "hi"); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if retr.contactCalls != 1 {
		t.Fatalf("contactCalls = %d, want 1 (deduped)", retr.contactCalls)
	}
}

func TestRunTurnFallsBackWhenIterationsExhausted(t *testing.T) {
	responses := make([]chatCompletionsResponse, 4)
	for i := range responses {
		responses[i] = chatCompletionsResponse{Choices: []chatChoice{{Message: toolCallMsg(
			tc("x", "search_contacts", `{"name":"nobody"}`),
		)}}}
	}
	srv := scriptedServer(t, responses)
	defer srv.Close()

	retr := &fakeRetriever{}
	driver := NewDriver(NewClient("key", srv.URL, "model"), retr, 4, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := driver.RunTurn(ctx, nil, "hi")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if reply != FallbackReply {
		t.Fatalf("reply = %q, want fallback", reply)
	}
}

// slowRetriever records how long its ctx stayed alive, so tests can
// tell a per-call timeout from the caller's own cancellation.
type slowRetriever struct {
	elapsed time.Duration
}

func (s *slowRetriever) SearchContacts(ctx context.Context, name string) []model.SearchResult {
	start := time.Now()
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
	}
	s.elapsed = time.Since(start)
	return nil
}

func (s *slowRetriever) SearchEmails(ctx context.Context, purposeText string) []model.SearchResult {
	return nil
}

func TestDispatchToolCutOffByToolCallTimeout(t *testing.T) {
	srv := scriptedServer(t, []chatCompletionsResponse{
		{Choices: []chatChoice{{Message: toolCallMsg(tc("1", "search_contacts", `{"name":"Jane"}`))}}},
		{Choices: []chatChoice{{Message: toolCallMsg(tc("2", "generate_response", `{"reply":"done"}`))}}},
	})
	defer srv.Close()

	retr := &slowRetriever{}
	driver := NewDriver(NewClient("key", srv.URL, "model"), retr, 4, 30*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := driver.RunTurn(ctx, nil, "hi"); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if retr.elapsed > 150*time.Millisecond {
		t.Fatalf("search_contacts ran for %v, want cut off near the 30ms tool-call timeout", retr.elapsed)
	}
}

func TestRunTurnReturnsDirectReplyWithoutToolCalls(t *testing.T) {
	srv := scriptedServer(t, []chatCompletionsResponse{
		{Choices: []chatChoice{{Message: Message{Role: "assistant", Content: "Sure, one moment."}}}},
	})
	defer srv.Close()

	driver := NewDriver(NewClient("key", srv.URL, "model"), &fakeRetriever{}, 4, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := driver.RunTurn(ctx, nil, "hi")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if reply != "Sure, one moment." {
		t.Fatalf("reply = %q", reply)
	}
}
