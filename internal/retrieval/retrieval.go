// Package retrieval is the adaptive retrieval engine (C4): name-based
// contact lookup, vector-similarity email search, and synthesis of a
// compact per-turn Context object. Individual collaborator failures
// degrade to empty results for that axis rather than aborting the turn.
package retrieval

import (
	"context"
	"errors"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/chadiek/receptionist/internal/errs"
	"github.com/chadiek/receptionist/internal/model"
)

// Store is the subset of the persistence gateway retrieval depends on.
type Store interface {
	NameSearchContacts(ctx context.Context, name string, k int) ([]model.SearchResult, error)
	VectorSearchEmails(ctx context.Context, queryVector []float32, k int) ([]model.SearchResult, error)
}

// Embedder is the subset of the embedding client retrieval depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine implements C4's three operations over a Store and an Embedder.
type Engine struct {
	Store     Store
	Embedder  Embedder
	KContacts int
	KEmails   int
}

// New constructs an Engine with the caps named in spec.md §3
// (K_contacts = K_emails = 3).
func New(store Store, embedder Embedder) *Engine {
	return &Engine{Store: store, Embedder: embedder, KContacts: 3, KEmails: 3}
}

// SearchContacts performs a name lookup, capped at KContacts. Any
// Store failure degrades to an empty result, never an error.
func (e *Engine) SearchContacts(ctx context.Context, name string) []model.SearchResult {
	if name == "" {
		return nil
	}
	results, err := e.Store.NameSearchContacts(ctx, name, e.KContacts)
	if err != nil {
		log.Printf("retrieval: contact search degraded: %v", err)
		return nil
	}
	return capResults(results, e.KContacts)
}

// SearchEmails embeds purposeText and performs a vector search over
// emails, capped at KEmails and strictly score-descending. Any
// Embedder or Store failure degrades to an empty result.
func (e *Engine) SearchEmails(ctx context.Context, purposeText string) []model.SearchResult {
	if purposeText == "" {
		return nil
	}
	vec, err := e.Embedder.Embed(ctx, purposeText)
	if err != nil {
		if !errors.Is(err, errs.EmbeddingInvalidInput) {
			log.Printf("retrieval: email embedding degraded: %v", err)
		}
		return nil
	}
	results, err := e.Store.VectorSearchEmails(ctx, vec, e.KEmails)
	if err != nil {
		log.Printf("retrieval: email search degraded: %v", err)
		return nil
	}
	return capResults(results, e.KEmails)
}

// BuildContext assembles a turn-local Context, invoking contact and
// email search only for the axes that are non-empty, in parallel when
// both are present (spec.md §5's "contacts and emails may be invoked
// in parallel").
func (e *Engine) BuildContext(ctx context.Context, identifiedName, inferredPurpose *string, transcriptTail []model.Utterance) model.Context {
	var contacts, emails []model.SearchResult

	g, gctx := errgroup.WithContext(ctx)
	if identifiedName != nil && *identifiedName != "" {
		g.Go(func() error {
			contacts = e.SearchContacts(gctx, *identifiedName)
			return nil
		})
	}
	if inferredPurpose != nil && *inferredPurpose != "" {
		g.Go(func() error {
			emails = e.SearchEmails(gctx, *inferredPurpose)
			return nil
		})
	}
	// Both branches above always return nil: retrieval failures degrade
	// internally, so this Wait can never itself fail the turn.
	_ = g.Wait()

	return model.Context{
		IdentifiedName:  identifiedName,
		InferredPurpose: inferredPurpose,
		Contacts:        contacts,
		Emails:          emails,
		TranscriptTail:  transcriptTail,
	}
}

// capResults enforces the cap and de-duplicates by SourceID while
// preserving score order, satisfying spec.md §4.C4's "no duplicate
// records across the result list by identifier" invariant.
func capResults(results []model.SearchResult, k int) []model.SearchResult {
	seen := make(map[string]bool, len(results))
	out := make([]model.SearchResult, 0, k)
	for _, r := range results {
		if seen[r.SourceID] {
			continue
		}
		seen[r.SourceID] = true
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	return out
}
