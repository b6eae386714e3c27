// Package store is the persistence gateway (C2): typed access to three
// MongoDB collections — emails (with embedding), contacts, and calls —
// with upsert semantics and a vector-search-shaped aggregation query
// over email embeddings. Grounded in
// original_source/receptionist/database.py and vector_search.py.
package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chadiek/receptionist/internal/errs"
	"github.com/chadiek/receptionist/internal/model"
)

const (
	emailsCollection   = "emails"
	contactsCollection = "contacts"
	callsCollection    = "calls"

	// vectorIndexName names the Atlas-shaped vector index expected over
	// emails.embedding, matching original_source/vector_search.py.
	vectorIndexName = "email_vector_index"
)

// Gateway is the persistence boundary every other component depends on.
// All methods fail with errs.StoreUnavailable if the backing store is
// unreachable; retrieval callers treat that as empty results, while
// persistence callers retry once.
type Gateway struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and returns a ready Gateway. The context bounds
// only the initial connectivity ping, not the Gateway's lifetime.
func Connect(ctx context.Context, uri, dbName string) (*Gateway, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}
	return &Gateway{client: client, db: client.Database(dbName)}, nil
}

// Close releases the underlying driver connection pool.
func (g *Gateway) Close(ctx context.Context) error {
	return g.client.Disconnect(ctx)
}

func (g *Gateway) emails() *mongo.Collection   { return g.db.Collection(emailsCollection) }
func (g *Gateway) contacts() *mongo.Collection { return g.db.Collection(contactsCollection) }
func (g *Gateway) calls() *mongo.Collection    { return g.db.Collection(callsCollection) }

// UpsertEmail replaces the email with the same ID, or inserts it if
// absent. Idempotent: the same input applied twice yields the same
// post-state.
func (g *Gateway) UpsertEmail(ctx context.Context, e model.Email) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := g.emails().ReplaceOne(ctx, bson.M{"_id": e.ID}, e, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}
	return nil
}

// UpsertContact replaces the contact with the same ID, or inserts it
// if absent.
func (g *Gateway) UpsertContact(ctx context.Context, c model.Contact) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := g.contacts().ReplaceOne(ctx, bson.M{"_id": c.ID}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}
	return nil
}

// DeleteEmail removes the email with the given ID. Deleting a
// non-existent ID is not an error.
func (g *Gateway) DeleteEmail(ctx context.Context, id string) error {
	if _, err := g.emails().DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}
	return nil
}

// DeleteContact removes the contact with the given ID.
func (g *Gateway) DeleteContact(ctx context.Context, id string) error {
	if _, err := g.contacts().DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}
	return nil
}

// FindEmail fetches a single email by ID. Returns (model.Email{}, false, nil)
// when no such email exists.
func (g *Gateway) FindEmail(ctx context.Context, id string) (model.Email, bool, error) {
	var e model.Email
	err := g.emails().FindOne(ctx, bson.M{"_id": id}).Decode(&e)
	if err == mongo.ErrNoDocuments {
		return model.Email{}, false, nil
	}
	if err != nil {
		return model.Email{}, false, fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}
	return e, true, nil
}

// FindContact fetches a single contact by ID.
func (g *Gateway) FindContact(ctx context.Context, id string) (model.Contact, bool, error) {
	var c model.Contact
	err := g.contacts().FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return model.Contact{}, false, nil
	}
	if err != nil {
		return model.Contact{}, false, fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}
	return c, true, nil
}

// emailHit mirrors the $project stage of the vector search pipeline
// below, plus the computed score.
type emailHit struct {
	ID        string    `bson:"_id"`
	Sender    string    `bson:"sender"`
	Subject   string    `bson:"subject"`
	Body      string    `bson:"body"`
	Timestamp time.Time `bson:"timestamp"`
	Score     float64   `bson:"score"`
}

// VectorSearchEmails returns at most k emails ranked by cosine
// similarity to queryVector, strictly score-descending with ties
// broken by source ID. Mirrors the $vectorSearch aggregation shape
// from original_source/vector_search.py: numCandidates = k*10.
func (g *Gateway) VectorSearchEmails(ctx context.Context, queryVector []float32, k int) ([]model.SearchResult, error) {
	pipeline := bson.A{
		bson.M{"$vectorSearch": bson.M{
			"index":         vectorIndexName,
			"path":          "embedding",
			"queryVector":   queryVector,
			"numCandidates": k * 10,
			"limit":         k,
		}},
		bson.M{"$project": bson.M{
			"_id": 1, "sender": 1, "subject": 1, "body": 1, "timestamp": 1,
			"score": bson.M{"$meta": "vectorSearchScore"},
		}},
	}

	cur, err := g.emails().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}
	defer cur.Close(ctx)

	var hits []emailHit
	if err := cur.All(ctx, &hits); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}

	results := make([]model.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, model.SearchResult{
			Content:  h.Body,
			SourceID: h.ID,
			Score:    h.Score,
			Meta: map[string]any{
				"sender":    h.Sender,
				"subject":   h.Subject,
				"timestamp": h.Timestamp,
			},
		})
	}
	sortResultsDescending(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// contactHit mirrors a document in the contacts collection.
type contactHit struct {
	ID      string `bson:"_id"`
	Name    string `bson:"name"`
	Email   string `bson:"email"`
	Phone   string `bson:"phone,omitempty"`
	Company string `bson:"company,omitempty"`
}

// NameSearchContacts performs a case-insensitive substring match over
// the display name, capped at k. Substring matches carry no native
// relevance score, so every hit scores 1.0, matching
// original_source/vector_search.py's contact search.
func (g *Gateway) NameSearchContacts(ctx context.Context, name string, k int) ([]model.SearchResult, error) {
	if name == "" {
		return nil, nil
	}
	filter := bson.M{"name": bson.M{"$regex": regexQuote(name), "$options": "i"}}
	cur, err := g.contacts().Find(ctx, filter, options.Find().SetLimit(int64(k)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}
	defer cur.Close(ctx)

	var hits []contactHit
	if err := cur.All(ctx, &hits); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}

	results := make([]model.SearchResult, 0, len(hits))
	for _, h := range hits {
		content := fmt.Sprintf("%s - %s", h.Name, h.Email)
		if h.Company != "" {
			content += fmt.Sprintf(" (%s)", h.Company)
		}
		results = append(results, model.SearchResult{
			Content:  content,
			SourceID: h.ID,
			Score:    1.0,
			Meta: map[string]any{
				"name": h.Name, "email": h.Email, "phone": h.Phone, "company": h.Company,
			},
		})
	}
	sortResultsDescending(results)
	return results, nil
}

// PersistCall upserts the full call record (transcript, outcome,
// timestamps). Call.ID is the stable gateway-assigned identifier.
func (g *Gateway) PersistCall(ctx context.Context, c model.Call) error {
	_, err := g.calls().ReplaceOne(ctx, bson.M{"_id": c.ID}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}
	return nil
}

// PersistCallWithRetry applies PersistCall, retrying once after a short
// backoff on StoreUnavailable, per spec.md §4.C7's persistence policy.
func (g *Gateway) PersistCallWithRetry(ctx context.Context, c model.Call) error {
	err := g.PersistCall(ctx, c)
	if err == nil {
		return nil
	}
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return err
	}
	return g.PersistCall(ctx, c)
}

// FindCall looks up a previously persisted call record by ID.
func (g *Gateway) FindCall(ctx context.Context, id string) (model.Call, bool, error) {
	var c model.Call
	err := g.calls().FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return model.Call{}, false, nil
	}
	if err != nil {
		return model.Call{}, false, fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}
	return c, true, nil
}

// UpdateCallOutcome reconciles a call record's terminal outcome once
// the telephony gateway's own status callback (C10) arrives, which
// happens after the orchestrator's own best-local-guess persistence in
// teardown and may supersede it. Only an existing record is updated;
// no record is created for an ID that was never persisted.
func (g *Gateway) UpdateCallOutcome(ctx context.Context, id string, outcome model.Outcome, summary string) error {
	_, err := g.calls().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"outcome": outcome, "outcome_summary": summary}},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.StoreUnavailable, err)
	}
	return nil
}

func sortResultsDescending(results []model.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SourceID < results[j].SourceID
	})
}

// regexQuote escapes Mongo regex metacharacters in free-form caller
// input before it is embedded in a $regex filter.
func regexQuote(s string) string {
	special := `\.+*?()|[]{}^$`
	out := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		for _, sp := range []byte(special) {
			if c == sp {
				out = append(out, '\\')
				break
			}
		}
		out = append(out, c)
	}
	return string(out)
}
