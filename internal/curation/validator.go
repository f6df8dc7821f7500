// Package curation holds the offline tooling that feeds and guards the
// knowledge base: content validation, bulk import, and topic distillation.
package curation

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

// Issue is one validation finding for a question/answer pair.
type Issue struct {
	Field  string // "question" or "answer"
	Kind   string // "pii-email", "pii-phone", "pii-ip", "toxicity", "duplicate"
	Detail string
}

var piiPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"pii-email", regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)},
	{"pii-phone", regexp.MustCompile(`\b(?:\+?\d{1,3}[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`)},
	{"pii-ip", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// toxicKeywords are matched as whole words, case-insensitive. Deliberately a
// short blunt list; this is a gate for curated support content, not a
// general-purpose filter.
var toxicKeywords = []string{
	"idiot", "stupid", "moron", "hate", "kill", "worthless",
}

var toxicPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(toxicKeywords, "|") + `)\b`)

// Validator screens question/answer pairs before insertion. Duplicate
// detection hashes question+answer; the set is seeded from the existing
// store and grows as clean pairs pass through.
type Validator struct {
	seen map[string]struct{}
}

// NewValidator builds a validator seeded with existing question+answer
// pairs.
func NewValidator(existing [][2]string) *Validator {
	v := &Validator{seen: make(map[string]struct{}, len(existing))}
	for _, pair := range existing {
		v.seen[pairHash(pair[0], pair[1])] = struct{}{}
	}
	return v
}

// Check validates one pair. A clean pair (no issues) is registered in the
// duplicate set so the same pair reported twice in one batch is flagged.
func (v *Validator) Check(question, answer string) []Issue {
	var issues []Issue

	for field, text := range map[string]string{"question": question, "answer": answer} {
		for _, p := range piiPatterns {
			if m := p.re.FindString(text); m != "" {
				issues = append(issues, Issue{Field: field, Kind: p.kind, Detail: m})
			}
		}
		if m := toxicPattern.FindString(text); m != "" {
			issues = append(issues, Issue{Field: field, Kind: "toxicity", Detail: m})
		}
	}

	h := pairHash(question, answer)
	if _, dup := v.seen[h]; dup {
		issues = append(issues, Issue{Field: "question", Kind: "duplicate", Detail: question})
	}

	if len(issues) == 0 {
		v.seen[h] = struct{}{}
	}
	return issues
}

func pairHash(question, answer string) string {
	sum := md5.Sum([]byte(question + answer))
	return hex.EncodeToString(sum[:])
}
