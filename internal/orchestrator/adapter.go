package orchestrator

import (
	"time"

	"github.com/chadiek/receptionist/internal/transcript"
)

// STTAdapter narrows a *transcript.Session down to the STT interface,
// translating transcript.Event into the orchestrator's own tagged
// TranscriptEvent so this package never depends on C5's wire-level
// event shape. Exported so the HTTP/media entrypoint (C10) can
// construct an STT for each call without reaching into this package's
// internals.
type STTAdapter struct {
	session *transcript.Session
	events  chan TranscriptEvent
}

// NewSTTAdapter wraps session and starts the translation goroutine.
// Call Connect before sending frames, as with the wrapped session.
func NewSTTAdapter(session *transcript.Session) *STTAdapter {
	a := &STTAdapter{session: session, events: make(chan TranscriptEvent, 100)}
	go a.translate()
	return a
}

func (a *STTAdapter) translate() {
	defer close(a.events)
	for ev := range a.session.Events() {
		a.events <- TranscriptEvent{Text: ev.Text, IsFinal: ev.IsFinal, Err: ev.Err}
	}
}

func (a *STTAdapter) Connect() error                 { return a.session.Connect() }
func (a *STTAdapter) Events() <-chan TranscriptEvent { return a.events }
func (a *STTAdapter) SendFrame(frame []byte) error   { return a.session.SendFrame(frame) }
func (a *STTAdapter) Close() error                   { return a.session.Close() }

// mulawFrameBytes is one 20ms frame of mulaw/8kHz mono audio (160
// samples, 1 byte/sample).
const mulawFrameBytes = 160

// writePaced chunks a synthesized audio blob into mulawFrameBytes
// frames and writes them to sink at 20ms intervals, matching the
// telephony gateway's native frame cadence. Returns early once done is
// closed (e.g. a hangup requested mid-greeting).
func writePaced(done <-chan struct{}, sink MediaSink, blob []byte) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for off := 0; off < len(blob); off += mulawFrameBytes {
		end := off + mulawFrameBytes
		if end > len(blob) {
			end = len(blob)
		}
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = sink.WriteFrame(blob[off:end])
		}
	}
}
