package convo

import (
	"regexp"
	"strings"
)

const (
	maxBridgeEntities = 5

	bridgeFallback = "Context summary: Previous conversation ended."
	bridgePrefix   = "Context summary: User previously discussed "
)

var (
	// phrasePattern matches capitalized multi-word phrases such as project
	// or product names ("Project Apollo").
	phrasePattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s[A-Z][a-z]+)+\b`)

	// dottedPattern matches dotted tokens such as filenames and hostnames
	// ("server.py", "api.example.com").
	dottedPattern = regexp.MustCompile(`\b[\w.-]+\.\w+\b`)
)

// bridgeSummary condenses evicted messages into one sentence naming the
// entities they mentioned. Pure: the same input always yields the same
// summary. Entities keep first-seen order, dedupe case-sensitively, and cap
// at maxBridgeEntities; capitalized phrases are collected before dotted
// tokens.
func bridgeSummary(evicted []Message) string {
	parts := make([]string, 0, len(evicted))
	for _, m := range evicted {
		parts = append(parts, m.Content)
	}
	block := strings.Join(parts, " ")

	seen := make(map[string]struct{})
	entities := make([]string, 0, maxBridgeEntities)
	collect := func(matches []string) {
		for _, m := range matches {
			if len(entities) >= maxBridgeEntities {
				return
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			entities = append(entities, m)
		}
	}
	collect(phrasePattern.FindAllString(block, -1))
	collect(dottedPattern.FindAllString(block, -1))

	if len(entities) == 0 {
		return bridgeFallback
	}
	return bridgePrefix + strings.Join(entities, ", ") + "."
}
