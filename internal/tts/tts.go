// Package tts is the TTS half of Speech I/O (C5): discrete speak(text)
// requests, ordered FIFO per session, producing telephony-compatible
// (mulaw/8kHz/mono) audio frames and a terminal done signal per speak.
// cancel() aborts the in-progress speak at the next safe frame boundary
// and lets subsequent speaks proceed.
package tts

import (
	"context"
	"fmt"
	"sync"
)

// Event is one item in a Session's output stream. A Frame carries audio
// bytes for the speak currently in progress; Done fires exactly once
// per accepted speak (including a cancelled one); Err carries a
// terminal session error.
type Event struct {
	Frame []byte
	Done  bool
	Err   error
}

// Provider streams telephony-encoded audio for a single text. The
// returned error channel carries at most one error and is closed when
// streaming ends, successfully or not.
type Provider interface {
	Stream(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// BatchProvider additionally supports a blocking, whole-buffer
// synthesis call used by the audio artifact cache (C9) to fill a miss.
type BatchProvider interface {
	Provider
	SynthesizeBatch(ctx context.Context, text, voiceParams string) ([]byte, error)
}

type speakRequest struct {
	ctx  context.Context
	text string
}

// Session serializes speak requests over a Provider and exposes a
// single Events stream. Owns its background worker and releases all
// resources on Close regardless of the reason.
type Session struct {
	provider Provider

	mu      sync.Mutex
	cancel  context.CancelFunc // cancels the in-progress speak, if any
	closed  bool

	queue  chan speakRequest
	events chan Event
	done   chan struct{}
}

// NewSession constructs a Session bound to provider and starts its
// worker loop.
func NewSession(provider Provider) *Session {
	s := &Session{
		provider: provider,
		queue:    make(chan speakRequest, 32),
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Events returns the session's output stream.
func (s *Session) Events() <-chan Event { return s.events }

// Speak enqueues text for synthesis. Ordered FIFO with respect to other
// Speak calls on this session.
func (s *Session) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("tts: session is closed")
	}
	s.mu.Unlock()

	select {
	case s.queue <- speakRequest{ctx: ctx, text: text}:
		return nil
	case <-s.done:
		return fmt.Errorf("tts: session is closed")
	}
}

// Cancel aborts any in-progress speak at the next safe frame boundary
// and discards undelivered frames. Subsequent Speak calls still
// proceed — only the current item is affected.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close releases all resources. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	close(s.done)
	return nil
}

func (s *Session) run() {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case req := <-s.queue:
			s.speakOne(req)
		}
	}
}

func (s *Session) speakOne(req speakRequest) {
	ctx, cancel := context.WithCancel(req.ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	frames, errCh := s.provider.Stream(ctx, req.text)
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				s.emit(Event{Done: true})
				drainErr(errCh, s)
				return
			}
			select {
			case s.events <- Event{Frame: frame}:
			case <-ctx.Done():
				// barge-in: discard this and all remaining undelivered
				// frames from this speak, then signal done.
				drainFrames(frames)
				s.emit(Event{Done: true})
				drainErr(errCh, s)
				return
			case <-s.done:
				return
			}
		case err := <-errCh:
			if err != nil {
				s.emit(Event{Err: err})
			}
			s.emit(Event{Done: true})
			return
		case <-s.done:
			return
		}
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func drainFrames(frames <-chan []byte) {
	for range frames {
	}
}

func drainErr(errCh <-chan error, s *Session) {
	if err, ok := <-errCh; ok && err != nil {
		s.emit(Event{Err: err})
	}
}
