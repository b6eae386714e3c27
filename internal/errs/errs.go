// Package errs defines the sentinel error taxonomy shared by every
// collaborator in the call pipeline. Components wrap transport/driver
// errors into one of these so the orchestrator can apply a uniform
// degrade-or-terminate policy without inspecting provider-specific types.
package errs

import "errors"

// Sentinel errors. Use errors.Is against these; wrap the underlying
// cause with fmt.Errorf("...: %w", err) at the point of detection.
var (
	// GatewayProtocol signals a malformed frame from the telephony
	// gateway. Recoverable by closing the call.
	GatewayProtocol = errors.New("gateway protocol violation")

	// TranscriptionUnavailable signals the STT session ended abnormally.
	TranscriptionUnavailable = errors.New("transcription unavailable")

	// SynthesisUnavailable signals the TTS session is failing.
	SynthesisUnavailable = errors.New("synthesis unavailable")

	// ReasoningUnavailable signals a model transport error or timeout.
	ReasoningUnavailable = errors.New("reasoning unavailable")

	// RetrievalUnavailable signals the store or embedding provider is
	// unreachable. Retrieval callers degrade to empty results.
	RetrievalUnavailable = errors.New("retrieval unavailable")

	// StoreUnavailable signals the persistence backing store is
	// unreachable. A narrower cause of RetrievalUnavailable /
	// PersistenceUnavailable at the gateway boundary.
	StoreUnavailable = errors.New("store unavailable")

	// PersistenceUnavailable signals a store write failed after retry.
	PersistenceUnavailable = errors.New("persistence unavailable")

	// InvariantViolation signals an internal bug: fatal to the call.
	InvariantViolation = errors.New("invariant violation")

	// EmbeddingInvalidInput signals empty or whitespace-only embed input.
	// Not retried.
	EmbeddingInvalidInput = errors.New("embedding invalid input")

	// EmbeddingUnavailable signals an embedding provider transport error.
	EmbeddingUnavailable = errors.New("embedding unavailable")
)
