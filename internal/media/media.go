// Package media is the media gateway adapter (C8): the websocket
// boundary between the telephony gateway's Media Streams protocol and
// the call orchestrator's raw mulaw/8kHz frames. Grounded in
// agentplexus-omnivoice-twilio/transport/provider.go's Connection,
// adapted from a generic multi-provider transport down to the one
// wire shape this system speaks.
package media

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// EventKind tags the inbound half of the tagged event union the
// gateway emits as it parses the telephony provider's Media Streams
// frames.
type EventKind int

const (
	EventConnected EventKind = iota
	EventStart
	EventMedia
	EventDTMF
	EventStop
	EventError
)

// Event is one decoded inbound Media Streams frame.
type Event struct {
	Kind  EventKind
	Start StartInfo // populated on EventStart
	Audio []byte    // populated on EventMedia: raw mulaw/8kHz, already base64-decoded
	Digit string    // populated on EventDTMF
	Err   error     // populated on EventError
}

// StartInfo carries the metadata the provider's start frame attaches
// to a stream, including the custom parameters the voice webhook
// injected into the <Stream> verb (the caller's number).
type StartInfo struct {
	StreamSID    string
	CallSID      string
	CustomParams map[string]string
}

// wire message shapes, grounded in provider.go's mediaMessage family.
type inboundMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	DTMF      *dtmfPayload  `json:"dtmf,omitempty"`
}

type startPayload struct {
	StreamSID    string            `json:"streamSid"`
	CallSID      string            `json:"callSid"`
	CustomParams map[string]string `json:"customParameters"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type dtmfPayload struct {
	Digit string `json:"digit"`
}

// Conn is one accepted Media Streams websocket connection. It
// implements orchestrator.MediaSink via WriteFrame.
type Conn struct {
	ws     *websocket.Conn
	events chan Event

	mu        sync.RWMutex
	streamSID string
	callSID   string

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// upgrader accepts connections from any origin: Twilio (or any other
// telephony provider speaking this wire shape) posts to this
// endpoint server-to-server, not from a browser, so there is no
// cross-origin caller to restrict.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Accept upgrades an inbound HTTP request to a Media Streams
// websocket connection and starts its read/write loops. The returned
// Conn's Events channel begins delivering frames immediately; callers
// typically block on the first EventStart before constructing the
// orchestrator for this call, since that frame carries the stream SID
// and caller-number custom parameter.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("media: websocket upgrade: %w", err)
	}
	c := &Conn{
		ws:       ws,
		events:   make(chan Event, 100),
		outbound: make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

// Events returns the channel of decoded inbound frames. Closed once
// the connection's read loop exits (peer stop/disconnect/error).
func (c *Conn) Events() <-chan Event { return c.events }

// StreamSID returns the provider-assigned stream identifier, empty
// until the start frame arrives.
func (c *Conn) StreamSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamSID
}

// CallSID returns the provider-assigned call identifier, empty until
// the start frame arrives.
func (c *Conn) CallSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callSID
}

// WriteFrame base64-encodes one outbound mulaw/8kHz frame and queues
// it for delivery, satisfying orchestrator.MediaSink. Non-blocking: a
// full outbound buffer drops the oldest queued frame rather than
// stalling the orchestrator's single-writer loop, matching
// provider.go's audioWriter drop-oldest policy.
func (c *Conn) WriteFrame(frame []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("media: connection closed")
	default:
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case c.outbound <- buf:
	default:
		select {
		case <-c.outbound:
		default:
		}
		select {
		case c.outbound <- buf:
		default:
		}
	}
	return nil
}

// Close tears down the connection. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.events)
	defer c.Close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case c.events <- Event{Kind: EventError, Err: err}:
				case <-c.done:
				}
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		var ev Event
		switch msg.Event {
		case "connected":
			ev = Event{Kind: EventConnected}
		case "start":
			if msg.Start == nil {
				continue
			}
			c.mu.Lock()
			c.streamSID = msg.Start.StreamSID
			c.callSID = msg.Start.CallSID
			c.mu.Unlock()
			ev = Event{Kind: EventStart, Start: StartInfo{
				StreamSID:    msg.Start.StreamSID,
				CallSID:      msg.Start.CallSID,
				CustomParams: msg.Start.CustomParams,
			}}
		case "media":
			if msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				continue
			}
			ev = Event{Kind: EventMedia, Audio: audio}
		case "dtmf":
			if msg.DTMF == nil {
				continue
			}
			ev = Event{Kind: EventDTMF, Digit: msg.DTMF.Digit}
		case "stop":
			select {
			case c.events <- Event{Kind: EventStop}:
			case <-c.done:
			}
			return
		default:
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.outbound:
			encoded := base64.StdEncoding.EncodeToString(frame)
			msg := map[string]any{
				"event":     "media",
				"streamSid": c.StreamSID(),
				"media":     map[string]string{"payload": encoded},
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
