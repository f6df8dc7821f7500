// Package postproc polishes generated text before it is committed to
// conversational history. All steps are rule-based and deterministic.
package postproc

import (
	"regexp"
	"strings"
)

// empathyMarkers are matched against the lowercased first sentence. A reply
// already opening with one of these never receives a second injection, which
// keeps Process idempotent.
var empathyMarkers = []string{
	"i understand",
	"i am sorry",
	"i apologize",
	"great news",
	"glad to hear",
}

const (
	concernedPrefix  = "I understand the issue. "
	frustratedPrefix = "I apologize for the inconvenience. "
)

// listSpacing matches a numbered list item missing the space after the
// period, e.g. "1.Item".
var listSpacing = regexp.MustCompile(`(\d+)\.([A-Za-z])`)

// Process trims the text, prepends a fixed empathy phrase when the emotional
// directive calls for one and the first sentence has none, and normalizes
// numbered-list spacing. Processing its own output with the same directive
// yields the same text.
func Process(text, directive string) string {
	text = strings.TrimSpace(text)

	first, _, _ := strings.Cut(text, ".")
	first = strings.ToLower(first)

	hasEmpathy := false
	for _, marker := range empathyMarkers {
		if strings.Contains(first, marker) {
			hasEmpathy = true
			break
		}
	}

	if !hasEmpathy {
		lower := strings.ToLower(directive)
		switch {
		case strings.Contains(lower, "concerned"):
			text = concernedPrefix + text
		case strings.Contains(lower, "frustrated"):
			text = frustratedPrefix + text
		}
	}

	return listSpacing.ReplaceAllString(text, "$1. $2")
}
