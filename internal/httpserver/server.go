// Package httpserver is the admin I/O surface (C10): the Twilio voice
// webhook, the bidirectional media stream websocket that feeds the
// call orchestrator (C7), the call-status outcome reconciliation
// webhook, and the cached-audio pull URL (C9). Grounded in the
// teacher's echo wiring (original main.go, internal/httpserver/router.go)
// and its hand-built-TwiML idiom (twilio/twilio.go::handleVoice).
package httpserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/twilio/twilio-go/twiml"

	"github.com/chadiek/receptionist/internal/cache"
	"github.com/chadiek/receptionist/internal/config"
	"github.com/chadiek/receptionist/internal/llm"
	"github.com/chadiek/receptionist/internal/media"
	ourmw "github.com/chadiek/receptionist/internal/middleware"
	"github.com/chadiek/receptionist/internal/model"
	"github.com/chadiek/receptionist/internal/orchestrator"
	"github.com/chadiek/receptionist/internal/transcript"
	"github.com/chadiek/receptionist/internal/tts"
)

// Store is the subset of the persistence gateway (C2) this package
// depends on directly, beyond what it hands to the orchestrator.
type Store interface {
	orchestrator.Persister
	UpdateCallOutcome(ctx context.Context, id string, outcome model.Outcome, summary string) error
}

// Deps bundles the collaborators Server wires into each call. Driver
// and TTS are required (a nil TTS only makes /incoming-call answer with
// a service-unavailable message; /media still expects one); Store,
// Retrieval and Cache degrade gracefully when nil, matching spec.md's
// "best-effort, never block the happy path on an optional
// collaborator" posture.
type Deps struct {
	Store     Store                  // optional: nil disables persistence and status reconciliation
	Retrieval orchestrator.Retrieval // optional: nil disables context pre-seeding
	Driver    orchestrator.Driver
	TTS       tts.BatchProvider // shared provider for both live speak and cache fill
	Cache     *cache.Cache      // optional: nil falls back to live TTS for the greeting
}

// Server hosts the routes described in spec.md §4.C10.
type Server struct {
	cfg  config.Config
	deps Deps

	Router *echo.Echo
}

// New constructs a Server and wires its routes. The caller owns
// starting and stopping the returned Router's HTTP listener.
func New(cfg config.Config, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	webhookAuth := ourmw.TwilioAuth(func() string { return cfg.TwilioAuthToken }, cfg.PublicURL)

	e.GET("/healthz", s.healthz)
	e.POST("/incoming-call", s.incomingCall, webhookAuth)
	e.POST("/call-status", s.callStatus, webhookAuth)
	e.GET("/media", s.mediaStream)
	e.GET("/cache/:id", s.cachePull)

	s.Router = e
	return s
}

func (s *Server) healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// incomingCall answers Twilio's voice webhook with a <Connect><Stream>
// directive pointing back at this process's /media websocket, passing
// the caller's number through as a custom parameter the media
// handler reads off the start frame. Hand-built XML, matching the
// teacher's twilio/twilio.go::handleVoice idiom for verbs the vendored
// twiml package doesn't model.
func (s *Server) incomingCall(c echo.Context) error {
	if s.cfg.AssemblyAIKey == "" || (s.deps.TTS == nil) {
		return s.respondServiceUnavailable(c)
	}

	params := ourmw.TwilioParams(c)
	from := params["From"]

	streamURL := s.mediaStreamURL(c.Request())
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Connect>
    <Stream url="%s">
      <Parameter name="caller_phone" value="%s"/>
    </Stream>
  </Connect>
</Response>`, escapeXMLAttr(streamURL), escapeXMLAttr(from))

	return c.XMLBlob(http.StatusOK, []byte(body))
}

// respondServiceUnavailable answers the voice webhook with a simple
// apology when a required credential is missing, via the twiml
// package rather than hand-built XML: unlike the <Connect><Stream>
// directive, <Say>/<Hangup> is exactly what twiml.VoiceSay models,
// matching the teacher's own use of twiml.Voice for simple verbs.
func (s *Server) respondServiceUnavailable(c echo.Context) error {
	say := &twiml.VoiceSay{Message: "We're unable to take your call right now. Please try again later."}
	hangup := &twiml.VoiceHangup{}
	body, err := twiml.Voice([]twiml.Element{say, hangup})
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	return c.XMLBlob(http.StatusOK, []byte(body))
}

// callStatus reconciles a call's persisted outcome against Twilio's
// own terminal status, per spec.md §9: callStatus takes priority over
// the orchestrator's own best-local-guess when the call never reached
// a live conversation (no-answer/busy/failed/canceled) — statuses the
// orchestrator's teardown couldn't have known about at all, since it
// only ever saw the conversation, not the carrier's dial outcome.
func (s *Server) callStatus(c echo.Context) error {
	params := ourmw.TwilioParams(c)
	callSID := params["CallSid"]
	callStatus := params["CallStatus"]

	if s.deps.Store != nil && callSID != "" {
		switch callStatus {
		case "no-answer", "canceled", "busy", "failed":
			outcome := llm.ClassifyOutcome(callStatus, "")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.deps.Store.UpdateCallOutcome(ctx, callSID, outcome, "call-status: "+callStatus); err != nil {
				log.Printf("httpserver: call-status reconcile for %s failed: %v", callSID, err)
			}
			cancel()
		}
	}

	return c.String(http.StatusOK, "OK")
}

// cachePull serves a previously synthesized audio artifact (C9) by
// its opaque content hash. 404 on a miss — the caller never held a
// guarantee of durability past the cache's LRU horizon.
func (s *Server) cachePull(c echo.Context) error {
	if s.deps.Cache == nil {
		return c.NoContent(http.StatusNotFound)
	}
	blob, ok := s.deps.Cache.Get(c.Param("id"))
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	return c.Blob(http.StatusOK, "audio/basic", blob)
}

// mediaStream upgrades the telephony gateway's bidirectional audio
// websocket and drives one call's orchestrator (C7) to completion.
// Blocks for the lifetime of the call.
func (s *Server) mediaStream(c echo.Context) error {
	conn, err := media.Accept(c.Response(), c.Request())
	if err != nil {
		return err
	}

	start, ok := awaitStart(conn)
	if !ok {
		_ = conn.Close()
		return nil
	}

	sttSession := transcript.NewSession(s.cfg.AssemblyAIKey)
	ttsSession := tts.NewSession(s.deps.TTS)

	// s.deps.Store and s.deps.Cache are typed pointers; passing a nil
	// one straight into an interface-typed Params field would wrap a
	// nil pointer in a non-nil interface, so Orchestrator's "!= nil"
	// guards would never see a plain nil. Only assign when non-nil.
	var persister orchestrator.Persister
	if s.deps.Store != nil {
		persister = s.deps.Store
	}
	var audioCache orchestrator.AudioCache
	if s.deps.Cache != nil {
		audioCache = s.deps.Cache
	}

	o := orchestrator.New(orchestrator.Params{
		CallID:           start.CallSID,
		CallerNumber:     start.CustomParams["caller_phone"],
		STT:              orchestrator.NewSTTAdapter(sttSession),
		TTS:              ttsSession,
		Driver:           s.deps.Driver,
		Retrieval:        s.deps.Retrieval,
		Persister:        persister,
		Cache:            audioCache,
		Sink:             conn,
		VoiceParams:      "default",
		CallIdleTimeout:  s.cfg.CallIdleTimeout,
		SilenceTimeout:   s.cfg.SilenceTimeout,
		ModelTurnTimeout: s.cfg.ModelTurnTimeout,
		ShutdownGrace:    s.cfg.ShutdownGrace,
		BargeInMinChars:  s.cfg.BargeInMinChars,
		RestartSTT: func() (orchestrator.STT, error) {
			return orchestrator.NewSTTAdapter(transcript.NewSession(s.cfg.AssemblyAIKey)), nil
		},
	})

	go pumpMediaEvents(conn, o)

	if err := o.Run(c.Request().Context()); err != nil {
		log.Printf("httpserver: call=%s orchestrator.Run: %v", start.CallSID, err)
	}
	_ = conn.Close()
	return nil
}

// awaitStart blocks until the first start frame arrives (or the
// connection closes first), since the orchestrator needs the call SID
// and caller-number custom parameter before it can be constructed.
func awaitStart(conn *media.Conn) (media.StartInfo, bool) {
	for ev := range conn.Events() {
		if ev.Kind == media.EventStart {
			return ev.Start, true
		}
	}
	return media.StartInfo{}, false
}

// pumpMediaEvents forwards every remaining inbound frame from the
// websocket to the orchestrator until the connection's event stream
// closes (peer stop/disconnect/error), at which point it requests a
// normal hangup.
func pumpMediaEvents(conn *media.Conn, o *orchestrator.Orchestrator) {
	for ev := range conn.Events() {
		switch ev.Kind {
		case media.EventMedia:
			o.FeedAudio(ev.Audio)
		case media.EventStop, media.EventError:
			o.RequestEnd()
		}
	}
	o.RequestEnd()
}

// mediaStreamURL builds the wss:// URL Twilio's <Stream> verb should
// dial back into this process, preferring the configured public
// base URL (needed behind a tunnel/reverse proxy) over the request's
// own Host header.
func (s *Server) mediaStreamURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		host := strings.TrimPrefix(strings.TrimPrefix(s.cfg.PublicURL, "https://"), "http://")
		host = strings.TrimSuffix(host, "/")
		return "wss://" + host + "/media"
	}
	return "wss://" + r.Host + "/media"
}

func escapeXMLAttr(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
