package llm

import "regexp"

// namePatterns and purposePatterns are heuristic regexes for the
// extraction subroutine named in spec.md §4.C6, grounded in
// reasoning_engine.py::extract_caller_info.
var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:hi|hello|hey),?\s*(?:this is|it's|i'm|my name is)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`),
	regexp.MustCompile(`(?i)(?:this is|it's|i'm)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)\s+(?:calling|here|from)`),
	regexp.MustCompile(`(?i)([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)\s+(?:here|calling|speaking)`),
}

var purposePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:calling|call)\s+(?:about|regarding|for)\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)(?:wanted to|want to|need to)\s+(?:talk|speak|discuss|ask)\s+(?:about|regarding)?\s*(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)(?:following up|checking)\s+(?:on|about)\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)(?:question|inquiry)\s+(?:about|regarding)\s+(.+?)(?:\.|$)`),
}

// ExtractCallerInfo opportunistically extracts an identified_name and
// inferred_purpose from the latest final transcript. Either or both
// fields remain nil when no pattern matches — this is a best-effort
// heuristic, not a required step on every turn.
func ExtractCallerInfo(transcript string) (name, purpose *string) {
	for _, p := range namePatterns {
		if m := p.FindStringSubmatch(transcript); len(m) > 1 {
			v := trimSpaceNonEmpty(m[1])
			if v != nil {
				name = v
				break
			}
		}
	}
	for _, p := range purposePatterns {
		if m := p.FindStringSubmatch(transcript); len(m) > 1 {
			v := trimSpaceNonEmpty(m[1])
			if v != nil {
				purpose = v
				break
			}
		}
	}
	return name, purpose
}

func trimSpaceNonEmpty(s string) *string {
	trimmed := s
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\t') {
		trimmed = trimmed[1:]
	}
	for len(trimmed) > 0 && (trimmed[len(trimmed)-1] == ' ' || trimmed[len(trimmed)-1] == '\t') {
		trimmed = trimmed[:len(trimmed)-1]
	}
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
