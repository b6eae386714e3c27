package transcript

import "testing"

func TestHelpersLastWordAndContinuation(t *testing.T) {
	if lastWord("") != "" {
		t.Fatal("lastWord empty mismatch")
	}
	if lastWord("hi there!") != "there" {
		t.Fatal("lastWord basic mismatch")
	}
	if !isContinuationLikely("we should and") {
		t.Fatal("expected continuation likely when last word is 'and'")
	}
	if isContinuationLikely("complete sentence.") {
		t.Fatal("did not expect continuation likely")
	}
}

func TestComputeDeltaLocked(t *testing.T) {
	s := NewSession("key")
	s.latestFullTranscript = "hello there friend"
	s.committedFullTranscript = "hello there"
	delta := s.computeDeltaLocked()
	if delta != "friend" {
		t.Fatalf("expected delta 'friend', got %q", delta)
	}
	if s.committedFullTranscript != "hello there friend" {
		t.Fatal("expected committed transcript to advance to the latest")
	}
}

func TestHandleTurnFiltersEmptyTranscript(t *testing.T) {
	s := NewSession("key")
	s.handleTurn("")
	select {
	case ev := <-s.events:
		t.Fatalf("expected no event for empty transcript, got %+v", ev)
	default:
	}
}

func TestSendFrameRejectsUnconnectedSession(t *testing.T) {
	s := NewSession("key")
	if err := s.SendFrame([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error sending a frame on an unconnected session")
	}
}
