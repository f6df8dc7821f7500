package knowledge

import "strings"

// maxQueryTokens bounds how much of a long user message feeds the match
// expression.
const maxQueryTokens = 16

// buildMatchQuery turns free text into an FTS5 MATCH expression: quotes are
// stripped, the text is whitespace-tokenized, and each token becomes a quoted
// prefix term ("tok"*). Returns "" when no tokens survive, which callers
// treat as an empty search.
func buildMatchQuery(query string) string {
	clean := strings.NewReplacer(`"`, " ", `'`, " ").Replace(query)
	tokens := strings.Fields(clean)
	if len(tokens) > maxQueryTokens {
		tokens = tokens[:maxQueryTokens]
	}

	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		terms = append(terms, `"`+tok+`"*`)
	}
	return strings.Join(terms, " ")
}
