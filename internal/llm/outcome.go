package llm

import "github.com/chadiek/receptionist/internal/model"

// decision is the coarse label the reasoning driver settles on for a
// finished call, grounded in reasoning_engine.py's CallOutcome.decision.
type decision string

const (
	decisionHandled   decision = "handled"
	decisionScheduled decision = "scheduled"
	decisionEscalated decision = "escalated"
	decisionRejected  decision = "rejected"
)

// ClassifyOutcome resolves the terminal Outcome recorded on a Call.
// callStatus is the telephony gateway's final status callback value
// (e.g. "completed", "no-answer", "busy", "failed", "canceled");
// reasoningDecision is the driver's own read on how the call went.
//
// callStatus takes priority whenever the call never reached a live
// conversation: a no-answer/busy/failed/canceled status means
// Outcome is missed or rejected regardless of what the driver thinks,
// since it never got to run. Otherwise the driver's decision maps to
// rejected for "rejected" and to connected for every other value,
// including an empty one; voicemail is never returned.
func ClassifyOutcome(callStatus string, reasoningDecision string) model.Outcome {
	switch callStatus {
	case "no-answer", "canceled":
		return model.OutcomeMissed
	case "busy", "failed":
		return model.OutcomeRejected
	}

	switch decision(reasoningDecision) {
	case decisionRejected:
		return model.OutcomeRejected
	case decisionHandled, decisionScheduled, decisionEscalated:
		return model.OutcomeConnected
	default:
		return model.OutcomeConnected
	}
}
