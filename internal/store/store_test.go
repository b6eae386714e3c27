package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/chadiek/receptionist/internal/model"
)

func TestRegexQuote(t *testing.T) {
	got := regexQuote("Sarah (Chen)?")
	want := `Sarah \(Chen\)\?`
	if got != want {
		t.Fatalf("regexQuote() = %q, want %q", got, want)
	}
}

func TestSortResultsDescending(t *testing.T) {
	results := []model.SearchResult{
		{SourceID: "b", Score: 0.5},
		{SourceID: "a", Score: 0.9},
		{SourceID: "c", Score: 0.9},
	}
	sortResultsDescending(results)
	if results[0].SourceID != "a" || results[1].SourceID != "c" || results[2].SourceID != "b" {
		t.Fatalf("unexpected order: %+v", results)
	}
}

// connectTestGateway skips the test when the MONGO_TEST_URI environment
// variable is unset, and fails it when that URI cannot be reached. Integration
// coverage of the aggregation pipelines requires a live Atlas-shaped
// vector index and is exercised in deployment, not in this unit suite.
func connectTestGateway(t *testing.T) *Gateway {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set; skipping store integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gw, err := Connect(ctx, uri, "receptionist_test")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { gw.Close(context.Background()) })
	return gw
}

func TestUpsertEmailIdempotent(t *testing.T) {
	gw := connectTestGateway(t)
	ctx := context.Background()

	e1 := model.Email{ID: "E1", Sender: "a@b.com", Subject: "s1", Body: "B1", Timestamp: time.Now()}
	if err := gw.UpsertEmail(ctx, e1); err != nil {
		t.Fatalf("UpsertEmail() error = %v", err)
	}
	e2 := e1
	e2.Body = "B2"
	if err := gw.UpsertEmail(ctx, e2); err != nil {
		t.Fatalf("UpsertEmail() error = %v", err)
	}

	got, ok, err := gw.FindEmail(ctx, "E1")
	if err != nil || !ok {
		t.Fatalf("FindEmail() = %v, %v, %v", got, ok, err)
	}
	if got.Body != "B2" {
		t.Fatalf("expected second payload's body to win, got %q", got.Body)
	}
}

func TestNameSearchContactsCaseInsensitiveSubstring(t *testing.T) {
	gw := connectTestGateway(t)
	ctx := context.Background()

	if err := gw.UpsertContact(ctx, model.Contact{ID: "c1", Name: "Sarah Chen", Email: "sarah@acme.example", Company: "Acme"}); err != nil {
		t.Fatalf("UpsertContact() error = %v", err)
	}

	results, err := gw.NameSearchContacts(ctx, "sarah", 3)
	if err != nil {
		t.Fatalf("NameSearchContacts() error = %v", err)
	}
	if len(results) != 1 || results[0].SourceID != "c1" {
		t.Fatalf("expected one case-insensitive substring hit, got %+v", results)
	}
}
