// Package orchestrator is the call state machine (C7): per-call
// ownership of transcript history, concurrent fan-out to STT/TTS,
// barge-in, cancellation, and final call persistence. A call's state
// is exclusively owned by one Orchestrator from start to teardown;
// every other collaborator observes it only through the typed event
// channels and interfaces below — no back-pointers.
package orchestrator

import (
	"context"
	"time"

	"github.com/chadiek/receptionist/internal/llm"
	"github.com/chadiek/receptionist/internal/model"
	"github.com/chadiek/receptionist/internal/tts"
)

// State is one node of the per-call state machine described in
// spec.md §4.C7.
type State string

const (
	StateIdle      State = "idle"
	StateGreeting  State = "greeting"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
	StateEnding    State = "ending"
	StateEnded     State = "ended"
)

// TranscriptEvent is the STT half of the tagged event union: an
// interim or final transcript, or a terminal session error.
type TranscriptEvent struct {
	Text    string
	IsFinal bool
	Err     error
}

// STT is the subset of the streaming transcription session (C5) the
// orchestrator depends on.
type STT interface {
	Connect() error
	Events() <-chan TranscriptEvent
	SendFrame(frame []byte) error
	Close() error
}

// TTS is the subset of the streaming synthesis session (C5) the
// orchestrator depends on.
type TTS interface {
	Speak(ctx context.Context, text string) error
	Cancel()
	Events() <-chan tts.Event
	Close() error
}

// Driver is the reasoning driver (C6) as seen by the orchestrator: one
// bounded tool-calling turn per call.
type Driver interface {
	RunTurn(ctx context.Context, history []llm.Message, transcript string) (string, error)
}

// Retrieval is the subset of the retrieval engine (C4) used to
// pre-seed turn context from extracted caller info, per spec.md
// §4.C6's "orchestrator uses these to pre-seed context before the
// first model invocation."
type Retrieval interface {
	BuildContext(ctx context.Context, identifiedName, inferredPurpose *string, transcriptTail []model.Utterance) model.Context
}

// Persister is the subset of the persistence gateway (C2) used for
// call-record writes.
type Persister interface {
	PersistCallWithRetry(ctx context.Context, c model.Call) error
}

// AudioCache is the subset of the audio artifact cache (C9) used to
// produce greeting audio without a live streaming TTS round trip, per
// the pre-synthesized-pull-URL pin in spec.md §9's open questions.
type AudioCache interface {
	GetOrSynthesize(ctx context.Context, text, voiceParams string) ([]byte, error)
}

// MediaSink is the outbound half of the media gateway adapter (C8):
// raw mulaw/8kHz frames to deliver to the telephony gateway.
type MediaSink interface {
	WriteFrame(frame []byte) error
}

// Clock abstracts time.Now for the timestamps recorded on the call
// (start, end, utterances). The idle and silence timers use the time
// package directly and are not driven by Clock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
