// Package orchestrator implements the per-call state machine (C7)
// described in spec.md §4.C7: IDLE -> GREETING -> LISTENING ->
// THINKING -> SPEAKING -> LISTENING, with barge-in back to LISTENING
// and any state -> ENDING -> ENDED. One Orchestrator instance owns
// exactly one call's state for its whole lifetime, single-writer.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/receptionist/internal/errs"
	"github.com/chadiek/receptionist/internal/llm"
	"github.com/chadiek/receptionist/internal/model"
)

// GreetingText and RepromptText are the fixed utterances the
// orchestrator produces without a reasoning turn. Fixed text keeps
// the audio artifact cache warm across calls.
const (
	GreetingText = "Thanks for calling. How can I help you today?"
	RepromptText = "Are you still there? I didn't catch that."
)

// Params configures one Orchestrator. All fields are required unless
// noted; Orchestrator does not mutate Params after construction.
type Params struct {
	CallID       string
	CallerNumber string

	STT       STT
	TTS       TTS
	Driver    Driver
	Retrieval Retrieval // optional: nil disables context pre-seeding
	Persister Persister
	Cache     AudioCache // optional: nil falls back to live TTS.Speak for the greeting
	Sink      MediaSink
	Clock     Clock // optional: defaults to the wall clock

	VoiceParams string // passed through to AudioCache/batch synthesis

	CallIdleTimeout  time.Duration
	SilenceTimeout   time.Duration
	ModelTurnTimeout time.Duration
	ShutdownGrace    time.Duration
	BargeInMinChars  int

	// RestartSTT constructs a replacement STT session after the
	// current one terminates abnormally (errs.TranscriptionUnavailable).
	// Optional: nil disables the one-time restart, so the first drop
	// ends the call. A call ended this way hangs up without speaking a
	// fallback reply.
	RestartSTT func() (STT, error)
}

// Orchestrator runs one call's state machine to completion.
type Orchestrator struct {
	p Params

	call    model.Call
	history []llm.Message

	repromptCount int
	sttRestarted  bool

	audioIn chan []byte
	stopCh  chan struct{}
	endOnce sync.Once
}

// New constructs an Orchestrator for one inbound call. Run must be
// called exactly once.
func New(p Params) *Orchestrator {
	if p.Clock == nil {
		p.Clock = realClock{}
	}
	return &Orchestrator{
		p: p,
		call: model.Call{
			ID:           p.CallID,
			CallerNumber: p.CallerNumber,
			Outcome:      model.OutcomeInProgress,
		},
		audioIn: make(chan []byte, 256),
		stopCh:  make(chan struct{}),
	}
}

// turnMsg is the result of one background reasoning turn, tagged with
// the generation it was spawned for so the main loop can discard
// results from a turn that was superseded before it completed.
type turnMsg struct {
	gen      int
	userText string
	reply    string
	err      error
	name     *string
	purpose  *string
}

// FeedAudio forwards one inbound mulaw/8kHz frame from the media
// gateway adapter (C8) to the STT session and resets the call-idle
// timer. Safe to call from a different goroutine than Run.
func (o *Orchestrator) FeedAudio(frame []byte) {
	select {
	case o.audioIn <- frame:
	default:
		// STT inbound must never be dropped at line rate (spec.md §5);
		// a full buffer means the call is already falling behind and
		// must be torn down rather than silently absorbing loss.
		o.RequestEnd()
	}
}

// RequestEnd signals a normal hangup (stream-stop, explicit disconnect)
// from the media gateway adapter. Safe to call more than once.
func (o *Orchestrator) RequestEnd() {
	o.endOnce.Do(func() { close(o.stopCh) })
}

// Run drives the call from IDLE to ENDED. It blocks until the call
// ends, for any reason: explicit hangup, idle timeout, or a fatal
// collaborator error. The parent ctx bounds the call's whole
// lifetime; cancelling it is equivalent to RequestEnd.
func (o *Orchestrator) Run(ctx context.Context) error {
	callCtx, cancelCall := context.WithCancel(ctx)
	defer cancelCall()

	o.call.StartedAt = o.p.Clock.Now()

	if err := o.p.STT.Connect(); err != nil {
		return fmt.Errorf("%w: %v", errs.TranscriptionUnavailable, err)
	}
	sttEvents := o.p.STT.Events()

	idleTimer := time.NewTimer(o.p.CallIdleTimeout)
	defer idleTimer.Stop()
	silenceTimer := time.NewTimer(o.p.SilenceTimeout)
	defer silenceTimer.Stop()
	disableSilenceTimer(silenceTimer)

	turnResults := make(chan turnMsg, 4)
	var turnCancel context.CancelFunc
	var turnGen int
	var pendingReply string

	state := StateGreeting
	o.speakGreeting(callCtx)
	state = StateListening
	resetTimer(silenceTimer, o.p.SilenceTimeout)

	endReason := "normal"

loop:
	for {
		select {
		case <-ctx.Done():
			endReason = "context cancelled"
			break loop
		case <-o.stopCh:
			endReason = "hangup"
			break loop
		case frame := <-o.audioIn:
			resetTimer(idleTimer, o.p.CallIdleTimeout)
			if err := o.p.STT.SendFrame(frame); err != nil {
				log.Printf("orchestrator: call=%s dropping frame after SendFrame error: %v", o.call.ID, err)
			}

		case ev, ok := <-sttEvents:
			if !ok {
				continue
			}
			if ev.Err != nil {
				if o.handleTranscriptionFailure(ev.Err, &sttEvents) {
					continue
				}
				endReason = "transcription unavailable"
				break loop
			}
			if !ev.IsFinal {
				text := strings.TrimSpace(ev.Text)
				if state == StateSpeaking && len(text) >= o.p.BargeInMinChars {
					o.p.TTS.Cancel()
					if turnCancel != nil {
						turnCancel()
						turnCancel = nil
					}
					state = StateListening
					resetTimer(silenceTimer, o.p.SilenceTimeout)
				}
				continue
			}

			text := strings.TrimSpace(ev.Text)
			if text == "" {
				continue // empty-string finals are filtered at the source
			}
			if err := o.call.Append(model.Utterance{Speaker: model.SpeakerCaller, Text: text, Timestamp: o.p.Clock.Now()}); err != nil {
				log.Printf("orchestrator: call=%s %v", o.call.ID, err)
				endReason = "invariant violation"
				break loop
			}
			disableSilenceTimer(silenceTimer)
			o.repromptCount = 0

			if turnCancel != nil {
				turnCancel() // a new final supersedes any still-running turn
				turnCancel = nil
			}
			turnGen++
			gen := turnGen
			turnCtx, cancel := context.WithTimeout(callCtx, o.p.ModelTurnTimeout)
			turnCancel = cancel
			state = StateThinking
			name, purpose := o.call.IdentifiedName, o.call.InferredPurpose
			history := append([]llm.Message(nil), o.history...)
			tail := tailOf(o.call.Transcript, 6)
			go o.runTurn(turnCtx, gen, text, name, purpose, history, tail, turnResults)

		case res := <-turnResults:
			if res.gen != turnGen {
				continue // superseded by a later final transcript
			}
			turnCancel = nil
			if state != StateThinking {
				continue
			}
			if res.name != nil {
				o.call.IdentifiedName = res.name
			}
			if res.purpose != nil {
				o.call.InferredPurpose = res.purpose
			}
			if res.err != nil {
				log.Printf("orchestrator: call=%s reasoning error: %v", o.call.ID, res.err)
			}
			reply := strings.TrimSpace(res.reply)
			if reply == "" {
				reply = llm.FallbackReply
			}
			o.history = append(o.history, llm.Message{Role: "user", Content: res.userText}, llm.Message{Role: "assistant", Content: reply})

			if err := o.p.TTS.Speak(callCtx, reply); err != nil {
				log.Printf("orchestrator: call=%s %v: %v", o.call.ID, errs.SynthesisUnavailable, err)
				state = StateListening
				resetTimer(silenceTimer, o.p.SilenceTimeout)
				continue
			}
			pendingReply = reply
			state = StateSpeaking

		case ev := <-o.p.TTS.Events():
			if ev.Err != nil {
				log.Printf("orchestrator: call=%s %v: %v", o.call.ID, errs.SynthesisUnavailable, ev.Err)
			}
			if len(ev.Frame) > 0 && o.p.Sink != nil {
				if err := o.p.Sink.WriteFrame(ev.Frame); err != nil {
					log.Printf("orchestrator: call=%s outbound frame dropped: %v", o.call.ID, err)
				}
			}
			if ev.Done && state == StateSpeaking {
				if err := o.call.Append(model.Utterance{Speaker: model.SpeakerAssistant, Text: pendingReply, Timestamp: o.p.Clock.Now()}); err != nil {
					log.Printf("orchestrator: call=%s %v", o.call.ID, err)
				}
				pendingReply = ""
				state = StateListening
				resetTimer(silenceTimer, o.p.SilenceTimeout)
			}

		case <-idleTimer.C:
			endReason = "call idle timeout"
			break loop

		case <-silenceTimer.C:
			if state != StateListening {
				continue
			}
			o.repromptCount++
			if o.repromptCount > 2 {
				endReason = "silence timeout exhausted"
				break loop
			}
			if err := o.p.TTS.Speak(callCtx, RepromptText); err != nil {
				log.Printf("orchestrator: call=%s reprompt failed: %v", o.call.ID, err)
				resetTimer(silenceTimer, o.p.SilenceTimeout)
				continue
			}
			pendingReply = RepromptText
			state = StateSpeaking
		}
	}

	return o.teardown(cancelCall, state, endReason)
}

// handleTranscriptionFailure implements spec.md §7's TranscriptionUnavailable
// recovery: one session restart, then give up. Returns true if the
// call should continue with a replacement session.
func (o *Orchestrator) handleTranscriptionFailure(err error, sttEvents *<-chan TranscriptEvent) bool {
	log.Printf("orchestrator: call=%s %v: %v", o.call.ID, errs.TranscriptionUnavailable, err)
	if o.sttRestarted || o.p.RestartSTT == nil {
		return false
	}
	o.sttRestarted = true
	_ = o.p.STT.Close()
	fresh, ferr := o.p.RestartSTT()
	if ferr != nil {
		log.Printf("orchestrator: call=%s STT restart failed: %v", o.call.ID, ferr)
		return false
	}
	if cerr := fresh.Connect(); cerr != nil {
		log.Printf("orchestrator: call=%s STT restart connect failed: %v", o.call.ID, cerr)
		return false
	}
	o.p.STT = fresh
	*sttEvents = fresh.Events()
	return true
}

// speakGreeting delivers the fixed greeting via the audio artifact
// cache's batch path when available, per spec.md §9's pin of the
// greeting-delivery open question to a pre-synthesized pull path;
// falls back to a live streaming Speak otherwise.
func (o *Orchestrator) speakGreeting(ctx context.Context) {
	if o.p.Cache != nil {
		blob, err := o.p.Cache.GetOrSynthesize(ctx, GreetingText, o.p.VoiceParams)
		if err == nil {
			writePaced(o.stopCh, o.p.Sink, blob)
			return
		}
		log.Printf("orchestrator: call=%s greeting cache miss, falling back to live TTS: %v", o.call.ID, err)
	}
	if err := o.p.TTS.Speak(ctx, GreetingText); err != nil {
		log.Printf("orchestrator: call=%s greeting speak failed: %v", o.call.ID, err)
		return
	}
	for ev := range o.p.TTS.Events() {
		if len(ev.Frame) > 0 && o.p.Sink != nil {
			if err := o.p.Sink.WriteFrame(ev.Frame); err != nil {
				log.Printf("orchestrator: call=%s greeting frame dropped: %v", o.call.ID, err)
			}
		}
		if ev.Done {
			return
		}
	}
}

// runTurn executes one bounded reasoning turn on a background
// goroutine. It performs retrieval pre-seeding (pure, no Orchestrator
// mutation) and reports its result by generation so the single-writer
// main loop can safely fold it back into call state.
func (o *Orchestrator) runTurn(ctx context.Context, gen int, userText string, name, purpose *string, history []llm.Message, tail []model.Utterance, out chan<- turnMsg) {
	extractedName, extractedPurpose := llm.ExtractCallerInfo(userText)
	effName, effPurpose := name, purpose
	if extractedName != nil {
		effName = extractedName
	}
	if extractedPurpose != nil {
		effPurpose = extractedPurpose
	}

	msgs := history
	if o.p.Retrieval != nil && (effName != nil || effPurpose != nil) {
		built := o.p.Retrieval.BuildContext(ctx, effName, effPurpose, tail)
		if seed := serializeContext(built); seed != "" {
			msgs = append(append([]llm.Message(nil), history...), llm.Message{Role: "system", Content: seed})
		}
	}

	reply, err := o.p.Driver.RunTurn(ctx, msgs, userText)
	select {
	case out <- turnMsg{gen: gen, userText: userText, reply: reply, err: err, name: extractedName, purpose: extractedPurpose}:
	case <-ctx.Done():
	}
}

// teardown implements ENDING -> ENDED: cancels the call's handle,
// bounds collaborator release to ShutdownGrace, and persists the call
// record with retry, per spec.md §4.C7.
func (o *Orchestrator) teardown(cancelCall context.CancelFunc, lastState State, reason string) error {
	cancelCall()

	graceCtx, cancelGrace := context.WithTimeout(context.Background(), o.p.ShutdownGrace)
	defer cancelGrace()

	closed := make(chan struct{})
	go func() {
		_ = o.p.STT.Close()
		_ = o.p.TTS.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-graceCtx.Done():
		log.Printf("orchestrator: call=%s shutdown grace exceeded, proceeding to ENDED anyway", o.call.ID)
	}

	now := o.p.Clock.Now()
	o.call.EndedAt = &now
	o.call.Outcome = o.classifyOutcome(reason)
	o.call.OutcomeSummary = reason

	if o.p.Persister != nil {
		persistCtx, cancel := context.WithTimeout(context.Background(), o.p.ShutdownGrace)
		if err := o.p.Persister.PersistCallWithRetry(persistCtx, o.call); err != nil {
			log.Printf("orchestrator: call=%s %v: %v", o.call.ID, errs.PersistenceUnavailable, err)
		}
		cancel()
	}

	log.Printf("orchestrator: call=%s ended reason=%q lastState=%s", o.call.ID, reason, lastState)

	if reason == "invariant violation" {
		return fmt.Errorf("%w: %s", errs.InvariantViolation, reason)
	}
	return nil
}

// classifyOutcome applies the deterministic call-status/decision
// mapping pinned in spec.md §9; call-status itself isn't known until
// the telephony gateway's separate status webhook arrives (C10), so
// this is a best local guess later reconciled by that handler.
func (o *Orchestrator) classifyOutcome(reason string) model.Outcome {
	if reason == "transcription unavailable" || reason == "invariant violation" {
		return model.OutcomeRejected
	}
	if len(o.call.Transcript) == 0 {
		return model.OutcomeMissed
	}
	return llm.ClassifyOutcome("", "handled")
}

func resetTimer(t *time.Timer, d time.Duration) {
	t.Stop()
	select {
	case <-t.C:
	default:
	}
	t.Reset(d)
}

// disableSilenceTimer parks the silence-reprompt timer far in the
// future while the call isn't in LISTENING, avoiding a nil channel in
// the main select.
func disableSilenceTimer(t *time.Timer) { resetTimer(t, 24*time.Hour) }

// tailOf returns a fresh copy of the last n utterances so a caller can
// hand it to a background goroutine without sharing the call's live
// transcript backing array.
func tailOf(transcript []model.Utterance, n int) []model.Utterance {
	if len(transcript) > n {
		transcript = transcript[len(transcript)-n:]
	}
	out := make([]model.Utterance, len(transcript))
	copy(out, transcript)
	return out
}
