package tts

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// fakeProvider emits n frames of fixed size then closes, or blocks
// until ctx is cancelled when block is set — used to exercise barge-in.
type fakeProvider struct {
	frames [][]byte
	block  bool
	err    error
}

func (f *fakeProvider) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	out := make(chan []byte, len(f.frames))
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		for _, fr := range f.frames {
			select {
			case out <- fr:
			case <-ctx.Done():
				return
			}
		}
		if f.block {
			<-ctx.Done()
			return
		}
		if f.err != nil {
			errCh <- f.err
		}
	}()
	return out, errCh
}

func TestSessionSpeakDeliversFramesThenDone(t *testing.T) {
	p := &fakeProvider{frames: [][]byte{[]byte("a"), []byte("b")}}
	s := NewSession(p)
	defer s.Close()

	if err := s.Speak(context.Background(), "hi"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}

	var frames int
	doneSeen := false
	for ev := range waitEvents(t, s, 3) {
		if ev.Done {
			doneSeen = true
			continue
		}
		frames++
	}
	if frames != 2 || !doneSeen {
		t.Fatalf("expected 2 frames + done, got frames=%d done=%v", frames, doneSeen)
	}
}

func TestSessionCancelAbortsInProgressSpeak(t *testing.T) {
	p := &fakeProvider{frames: [][]byte{[]byte("a")}, block: true}
	s := NewSession(p)
	defer s.Close()

	if err := s.Speak(context.Background(), "long reply"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	// Let the first frame land, then barge in.
	<-s.Events()
	s.Cancel()

	select {
	case ev := <-s.Events():
		if !ev.Done {
			t.Fatalf("expected a Done event after cancel, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Done after Cancel")
	}
}

func TestSessionSpeakAfterCancelProceeds(t *testing.T) {
	p := &fakeProvider{frames: [][]byte{[]byte("a")}, block: true}
	s := NewSession(p)
	defer s.Close()

	_ = s.Speak(context.Background(), "first")
	<-s.Events()
	s.Cancel()
	<-s.Events() // Done from the cancelled speak

	if err := s.Speak(context.Background(), "second"); err != nil {
		t.Fatalf("Speak() after cancel error = %v", err)
	}
	select {
	case ev := <-s.Events():
		if ev.Err != nil {
			t.Fatalf("unexpected error: %v", ev.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the next speak to proceed")
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := NewSession(&fakeProvider{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := s.Speak(context.Background(), "x"); err == nil {
		t.Fatal("expected Speak on a closed session to fail")
	}
}

func waitEvents(t *testing.T, s *Session, n int) <-chan Event {
	t.Helper()
	out := make(chan Event, n)
	go func() {
		defer close(out)
		for i := 0; i < n; i++ {
			select {
			case ev, ok := <-s.Events():
				if !ok {
					return
				}
				out <- ev
				if ev.Done {
					return
				}
			case <-time.After(time.Second):
				t.Error(fmt.Errorf("timed out waiting for event %d", i))
				return
			}
		}
	}()
	return out
}
