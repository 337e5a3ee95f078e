package authorize

import "strings"

// Option labels are free-form natural language supplied by the calling
// protocol, so classification is a substring heuristic over a small
// fixed vocabulary rather than an enum match.

// ClassifyLabel maps a chosen option label to a decision. Labels
// containing "no" or "deny" (case-insensitive) deny; everything else
// allows.
func ClassifyLabel(label string) Decision {
	lower := strings.ToLower(label)
	if strings.Contains(lower, "no") || strings.Contains(lower, "deny") {
		return DecisionDeny
	}
	return DecisionAllow
}

// WantsRule reports whether an allow label asks to remember the choice.
func WantsRule(label string) bool {
	lower := strings.ToLower(label)
	return strings.Contains(lower, "always") || strings.Contains(lower, "don't ask again")
}

// WantsProjectScope reports whether the remembered rule should be
// limited to the request's working directory.
func WantsProjectScope(label string) bool {
	return strings.Contains(strings.ToLower(label), "project")
}
