package llm

import (
	"testing"

	"github.com/chadiek/receptionist/internal/model"
)

func TestClassifyOutcomeCallStatusTakesPriority(t *testing.T) {
	cases := []struct {
		status string
		want   model.Outcome
	}{
		{"no-answer", model.OutcomeMissed},
		{"canceled", model.OutcomeMissed},
		{"busy", model.OutcomeRejected},
		{"failed", model.OutcomeRejected},
	}
	for _, tc := range cases {
		if got := ClassifyOutcome(tc.status, "handled"); got != tc.want {
			t.Errorf("ClassifyOutcome(%q, handled) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestClassifyOutcomeFallsBackToReasoningDecision(t *testing.T) {
	cases := []struct {
		decision string
		want     model.Outcome
	}{
		{"handled", model.OutcomeConnected},
		{"scheduled", model.OutcomeConnected},
		{"escalated", model.OutcomeConnected},
		{"rejected", model.OutcomeRejected},
		{"", model.OutcomeConnected},
	}
	for _, tc := range cases {
		if got := ClassifyOutcome("completed", tc.decision); got != tc.want {
			t.Errorf("ClassifyOutcome(completed, %q) = %v, want %v", tc.decision, got, tc.want)
		}
	}
}
