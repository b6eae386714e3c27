// Package model defines the data shapes shared across the call pipeline:
// emails and contacts (the input contract of retrieval), call records,
// and the transient search-result and context objects assembled per
// reasoning turn.
package model

import (
	"fmt"
	"math"
	"time"
)

// EmbDim is the fixed dimensionality of every stored embedding vector,
// matching the Voyage AI voyage-2 model used by the corpus this gateway
// was grounded on.
const EmbDim = 1024

// Email is a single ingested message, optionally embedded for vector
// search. Embedding is nil until ingestion computes it; once present it
// MUST have exactly EmbDim entries, all finite.
type Email struct {
	ID        string    `bson:"_id"`
	Sender    string    `bson:"sender"`
	Subject   string    `bson:"subject"`
	Body      string    `bson:"body"`
	Timestamp time.Time `bson:"timestamp"`
	Embedding []float32 `bson:"embedding,omitempty"`
}

// Validate enforces the non-empty-field and embedding-length invariants
// from the data model. A zero-length Embedding slice is treated as
// "not yet embedded", not a validation failure.
func (e Email) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("email id is required")
	}
	if e.Sender == "" {
		return fmt.Errorf("email sender is required")
	}
	if e.Subject == "" {
		return fmt.Errorf("email subject is required")
	}
	if e.Body == "" {
		return fmt.Errorf("email body is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("email timestamp is required")
	}
	if len(e.Embedding) > 0 {
		if len(e.Embedding) != EmbDim {
			return fmt.Errorf("email embedding must have exactly %d dimensions, got %d", EmbDim, len(e.Embedding))
		}
		for _, v := range e.Embedding {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return fmt.Errorf("email embedding contains a non-finite value")
			}
		}
	}
	return nil
}

// Embeddable reports whether this email carries a fully-populated
// embedding and is therefore eligible for vector search.
func (e Email) Embeddable() bool {
	return len(e.Embedding) == EmbDim
}

// Contact is an administrator-managed entry used to identify callers.
// Never mutated by the call pipeline itself.
type Contact struct {
	ID      string `bson:"_id"`
	Name    string `bson:"name"`
	Email   string `bson:"email"`
	Phone   string `bson:"phone,omitempty"`
	Company string `bson:"company,omitempty"`
}

// Validate enforces the required-field invariants from the data model.
func (c Contact) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("contact id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("contact name is required")
	}
	if c.Email == "" {
		return fmt.Errorf("contact email is required")
	}
	return nil
}

// Speaker distinguishes caller speech from synthesized assistant speech
// in a call's transcript.
type Speaker string

const (
	SpeakerCaller    Speaker = "caller"
	SpeakerAssistant Speaker = "assistant"
)

// Utterance is one entry in a call's ordered transcript.
type Utterance struct {
	Speaker   Speaker   `bson:"speaker"`
	Text      string    `bson:"text"`
	Timestamp time.Time `bson:"timestamp"`
}

// Outcome classifies how a finished call resolved.
type Outcome string

const (
	OutcomeConnected  Outcome = "connected"
	OutcomeVoicemail  Outcome = "voicemail"
	OutcomeRejected   Outcome = "rejected"
	OutcomeMissed     Outcome = "missed"
	OutcomeInProgress Outcome = "in-progress"
)

// Call is the persisted record of one telephone call, exclusively owned
// and appended to by the orchestrator (C7) from start to teardown.
type Call struct {
	ID               string      `bson:"_id"`
	CallerNumber     string      `bson:"caller_number"`
	StartedAt        time.Time   `bson:"started_at"`
	EndedAt          *time.Time  `bson:"ended_at,omitempty"`
	IdentifiedName   *string     `bson:"identified_name,omitempty"`
	InferredPurpose  *string     `bson:"inferred_purpose,omitempty"`
	Outcome          Outcome     `bson:"outcome"`
	OutcomeSummary   string      `bson:"outcome_summary,omitempty"`
	Transcript       []Utterance `bson:"transcript"`
}

// Append adds an utterance to the transcript, enforcing strict
// chronological order. Callers must hold the call's single-writer
// discipline (the orchestrator); this is a cheap defensive check, not a
// substitute for it.
func (c *Call) Append(u Utterance) error {
	if u.Text == "" {
		return nil // empty-string events are filtered at the source, never appended
	}
	if n := len(c.Transcript); n > 0 && u.Timestamp.Before(c.Transcript[n-1].Timestamp) {
		return fmt.Errorf("%w: transcript append out of order", errInvariant)
	}
	c.Transcript = append(c.Transcript, u)
	return nil
}

// errInvariant avoids importing internal/errs here to keep model
// dependency-free; callers (internal/orchestrator's teardown) map it
// into errs.InvariantViolation directly.
var errInvariant = fmt.Errorf("model invariant violation")

// SearchResult is a transient hit from either contact or email search.
// Collections of results are always sorted strictly by descending
// Score; ties broken by lexicographic SourceID.
type SearchResult struct {
	Content  string
	SourceID string
	Score    float64
	Meta     map[string]any
}

// Context is the compact, turn-local object a reasoning turn is built
// from. Immutable once constructed.
type Context struct {
	IdentifiedName  *string
	InferredPurpose *string
	Contacts        []SearchResult // up to K_contacts
	Emails          []SearchResult // up to K_emails
	TranscriptTail  []Utterance
}
