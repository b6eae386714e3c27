// Package transcript is the STT half of Speech I/O (C5): a streaming
// session that accepts mulaw/8kHz audio frames and emits transcript
// events, restartable per call. Adapted from an AssemblyAI-shaped
// realtime protocol (Begin/Turn/Termination/Error frames).
package transcript

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
)

// SilenceThreshold is the base inactivity window required before an
// utterance is considered complete. Conservative, to avoid cutting the
// caller off mid-sentence.
const SilenceThreshold = 700 * time.Millisecond

// ContinuationExtension is added to SilenceThreshold when the last word
// suggests the caller is likely to continue the sentence.
const ContinuationExtension = 1200 * time.Millisecond

// StabilizationGrace absorbs late ASR updates after crossing the
// silence threshold, before committing a final transcript.
const StabilizationGrace = 250 * time.Millisecond

// Event is one transcript event in the STT contract: {text, is_final,
// confidence?, t_emit}. Err is set only on the terminal error event.
type Event struct {
	Text       string
	IsFinal    bool
	Confidence float64
	TEmit      time.Time
	Err        error
}

// beginMessage, turnMessage, terminationMessage, and errorMessage are
// the four frame shapes the provider emits.
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type          string `json:"type"`
	Transcript    string `json:"transcript"`
	TurnFormatted bool   `json:"turn_is_formatted"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Session is a single streaming STT connection. A new Session starts
// from silence with no carried state — restartability is achieved by
// constructing a fresh Session, never by reusing a closed one.
type Session struct {
	apiKey string

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	events chan Event
	audio  chan []byte
	stopCh chan struct{}
	once   sync.Once

	accMu                   sync.Mutex
	latestFullTranscript    string
	committedFullTranscript string
	lastUpdateTime          time.Time
	silenceTimer            *time.Timer
}

// NewSession constructs an unconnected Session; call Connect before
// sending audio.
func NewSession(apiKey string) *Session {
	return &Session{
		apiKey: apiKey,
		events: make(chan Event, 100),
		audio:  make(chan []byte, 1000),
		stopCh: make(chan struct{}),
	}
}

// Connect dials the realtime streaming endpoint for mulaw/8kHz mono
// audio, matching the telephony media stream's native encoding — no
// transcoding needed on the hot path.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("transcript: STT api key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "8000")
	params.Set("encoding", "pcm_mulaw")
	params.Set("format_turns", "false")

	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())
	headers := map[string][]string{"Authorization": {s.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("transcript: connect failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("transcript: failed to connect: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.lastUpdateTime = time.Now()

	go s.handleMessages()
	go s.sendAudioData()

	return nil
}

// Events returns the stream of transcript events. Interim events carry
// IsFinal=false and may arrive out of order relative to other interims;
// final events monotonically advance the committed transcript and are
// never reordered.
func (s *Session) Events() <-chan Event { return s.events }

// SendFrame queues one ~20ms mulaw/8kHz audio frame. Per spec.md §5's
// backpressure rule, STT inbound must never be dropped on a full
// buffer at the orchestrator boundary; this channel is sized generously
// and a full buffer here indicates the session should be torn down.
func (s *Session) SendFrame(frame []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("transcript: session not connected")
	}
	select {
	case s.audio <- frame:
		return nil
	default:
		return fmt.Errorf("transcript: audio buffer full, session must be torn down")
	}
}

// Close closes the connection and releases all resources, regardless
// of why Close was called (normal end, error, cancellation). Safe to
// call more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		close(s.stopCh)
		if s.silenceTimer != nil {
			s.silenceTimer.Stop()
			s.silenceTimer = nil
		}
		if s.conn != nil {
			_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
			err = s.conn.Close()
		}
		s.connected = false
		s.conn = nil
		s.flushPendingDelta()
		close(s.audio)
		close(s.events)
	})
	return err
}

func (s *Session) handleMessages() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("transcript: recovered from panic in handleMessages: %v", r)
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.emitTerminalError(fmt.Errorf("transcript: provider connection dropped: %w", err))
			return
		}
		s.processMessage(message)
	}
}

func (s *Session) emitTerminalError(err error) {
	select {
	case <-s.stopCh:
	case s.events <- Event{Err: err, TEmit: time.Now()}:
	}
}

func (s *Session) processMessage(message []byte) {
	var base map[string]interface{}
	if err := json.Unmarshal(message, &base); err != nil {
		return
	}
	msgType, _ := base["type"].(string)
	switch msgType {
	case "Begin":
		var msg beginMessage
		_ = json.Unmarshal(message, &msg)
		log.Printf("transcript: session began id=%s", msg.ID)
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		s.handleTurn(msg.Transcript)
	case "Termination":
		var msg terminationMessage
		_ = json.Unmarshal(message, &msg)
		s.flushPendingDelta()
	case "Error":
		var msg errorMessage
		_ = json.Unmarshal(message, &msg)
		s.emitTerminalError(fmt.Errorf("transcript: provider error: %s", msg.Error))
	}
}

func (s *Session) handleTurn(transcript string) {
	if transcript == "" {
		return // empty-string events are filtered at the source
	}
	s.emitInterim(transcript)

	s.accMu.Lock()
	s.latestFullTranscript = transcript
	s.lastUpdateTime = time.Now()
	if s.silenceTimer == nil {
		s.silenceTimer = time.AfterFunc(SilenceThreshold, s.finalizeDueToSilence)
	} else {
		s.silenceTimer.Stop()
		s.silenceTimer.Reset(SilenceThreshold)
	}
	s.accMu.Unlock()
}

func (s *Session) emitInterim(text string) {
	select {
	case s.events <- Event{Text: text, IsFinal: false, TEmit: time.Now()}:
	default:
		// Interim events may be dropped under backpressure; they only
		// drive barge-in detection and UI echo, never the transcript.
	}
}

// finalizeDueToSilence runs after SilenceThreshold of inactivity and
// commits the delta since the last committed transcript, extending the
// wait if the transcript looks mid-sentence.
func (s *Session) finalizeDueToSilence() {
	select {
	case <-s.stopCh:
		return
	default:
	}

	s.accMu.Lock()
	threshold := SilenceThreshold
	if isContinuationLikely(s.latestFullTranscript) {
		threshold += ContinuationExtension
	}
	sinceText := time.Since(s.lastUpdateTime)
	if sinceText < threshold {
		wait := threshold - sinceText
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		s.rescheduleLocked(wait)
		s.accMu.Unlock()
		return
	}
	lastUpdateAt := s.lastUpdateTime
	s.accMu.Unlock()

	time.Sleep(StabilizationGrace)

	s.accMu.Lock()
	defer s.accMu.Unlock()
	if s.lastUpdateTime.After(lastUpdateAt) {
		s.rescheduleLocked(SilenceThreshold)
		return
	}

	delta := s.computeDeltaLocked()
	if delta == "" {
		return
	}
	select {
	case <-s.stopCh:
	case s.events <- Event{Text: delta, IsFinal: true, TEmit: time.Now()}:
	}
}

func (s *Session) rescheduleLocked(wait time.Duration) {
	if s.silenceTimer == nil {
		s.silenceTimer = time.AfterFunc(wait, s.finalizeDueToSilence)
	} else {
		s.silenceTimer.Stop()
		s.silenceTimer.Reset(wait)
	}
}

// computeDeltaLocked must be called with accMu held. It commits
// latestFullTranscript and returns the trimmed delta since the last
// commit.
func (s *Session) computeDeltaLocked() string {
	latest := s.latestFullTranscript
	base := s.committedFullTranscript
	delta := strings.TrimSpace(strings.TrimPrefix(latest, base))
	if delta == "" && base != "" {
		if idx := strings.LastIndex(latest, base); idx >= 0 && idx+len(base) <= len(latest) {
			delta = strings.TrimSpace(latest[idx+len(base):])
		}
	}
	s.committedFullTranscript = latest
	return delta
}

func (s *Session) flushPendingDelta() {
	s.accMu.Lock()
	delta := s.computeDeltaLocked()
	s.accMu.Unlock()
	if delta == "" {
		return
	}
	select {
	case s.events <- Event{Text: delta, IsFinal: true, TEmit: time.Now()}:
	case <-time.After(200 * time.Millisecond):
		log.Printf("transcript: flush timed out delivering final delta")
	}
}

func isContinuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	trim := strings.TrimSpace(text)
	if trim == "" {
		return ""
	}
	fields := strings.FieldsFunc(trim, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}

func (s *Session) sendAudioData() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("transcript: recovered from panic in sendAudioData: %v", r)
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		case frame, ok := <-s.audio:
			if !ok {
				return
			}
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.emitTerminalError(fmt.Errorf("transcript: failed to send audio: %w", err))
				return
			}
		}
	}
}
