package retrieval

import (
	"context"
	"testing"

	"github.com/chadiek/receptionist/internal/errs"
	"github.com/chadiek/receptionist/internal/model"
)

type fakeStore struct {
	contacts    []model.SearchResult
	contactsErr error
	emails      []model.SearchResult
	emailsErr   error
}

func (f *fakeStore) NameSearchContacts(ctx context.Context, name string, k int) ([]model.SearchResult, error) {
	return f.contacts, f.contactsErr
}

func (f *fakeStore) VectorSearchEmails(ctx context.Context, queryVector []float32, k int) ([]model.SearchResult, error) {
	return f.emails, f.emailsErr
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func strp(s string) *string { return &s }

func TestBuildContextBothAxes(t *testing.T) {
	store := &fakeStore{
		contacts: []model.SearchResult{{SourceID: "c1", Score: 1.0}},
		emails:   []model.SearchResult{{SourceID: "e1", Score: 0.9}},
	}
	eng := New(store, &fakeEmbedder{vec: make([]float32, model.EmbDim)})

	ctx := eng.BuildContext(context.Background(), strp("Sarah Chen"), strp("Q2 proposal"), nil)
	if len(ctx.Contacts) != 1 || len(ctx.Emails) != 1 {
		t.Fatalf("expected both axes populated, got %+v", ctx)
	}
}

func TestBuildContextOnlyNonEmptyAxes(t *testing.T) {
	store := &fakeStore{contacts: []model.SearchResult{{SourceID: "c1"}}}
	eng := New(store, &fakeEmbedder{})

	ctx := eng.BuildContext(context.Background(), strp("Sarah"), nil, nil)
	if len(ctx.Contacts) != 1 {
		t.Fatalf("expected contacts populated, got %+v", ctx.Contacts)
	}
	if len(ctx.Emails) != 0 {
		t.Fatalf("expected no email search when purpose is empty, got %+v", ctx.Emails)
	}
}

func TestSearchEmailsDegradesOnStoreFailure(t *testing.T) {
	store := &fakeStore{emailsErr: errs.StoreUnavailable}
	eng := New(store, &fakeEmbedder{vec: make([]float32, model.EmbDim)})

	results := eng.SearchEmails(context.Background(), "anything")
	if results != nil {
		t.Fatalf("expected nil (degraded) results, got %+v", results)
	}
}

func TestSearchEmailsDegradesOnEmbeddingFailure(t *testing.T) {
	store := &fakeStore{}
	eng := New(store, &fakeEmbedder{err: errs.EmbeddingUnavailable})

	results := eng.SearchEmails(context.Background(), "anything")
	if results != nil {
		t.Fatalf("expected nil (degraded) results, got %+v", results)
	}
}

func TestCapResultsDedupesAndCaps(t *testing.T) {
	in := []model.SearchResult{
		{SourceID: "a", Score: 0.9},
		{SourceID: "a", Score: 0.9},
		{SourceID: "b", Score: 0.8},
		{SourceID: "c", Score: 0.7},
	}
	out := capResults(in, 2)
	if len(out) != 2 {
		t.Fatalf("expected cap of 2, got %d", len(out))
	}
	if out[0].SourceID != "a" || out[1].SourceID != "b" {
		t.Fatalf("expected deduped order [a b], got %+v", out)
	}
}
