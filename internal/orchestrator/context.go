package orchestrator

import (
	"fmt"
	"strings"

	"github.com/chadiek/receptionist/internal/model"
)

// serializeContext renders a turn-local Context as a system note the
// reasoning driver can fold into its prompt, pre-seeding the caller's
// identity and retrieved grounding before the first model invocation,
// per spec.md §4.C6. Grounded in
// original_source/reasoning_engine.py::synthesize_context.
func serializeContext(ctx model.Context) string {
	if ctx.IdentifiedName == nil && ctx.InferredPurpose == nil && len(ctx.Contacts) == 0 && len(ctx.Emails) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Known context for this call:\n")
	if ctx.IdentifiedName != nil {
		fmt.Fprintf(&b, "- Caller identified as: %s\n", *ctx.IdentifiedName)
	}
	if ctx.InferredPurpose != nil {
		fmt.Fprintf(&b, "- Inferred purpose: %s\n", *ctx.InferredPurpose)
	}
	for _, c := range ctx.Contacts {
		fmt.Fprintf(&b, "- Contact match: %s\n", c.Content)
	}
	for _, e := range ctx.Emails {
		fmt.Fprintf(&b, "- Related email: %s\n", e.Content)
	}
	return strings.TrimSpace(b.String())
}
