// Package convo holds bounded per-conversation message history. When the
// history outgrows its budget, the evicted prefix is replaced by a
// deterministic bridge summary so the model keeps a trace of what was
// discussed.
package convo

import (
	"log"
)

// Message is one turn in a session's history.
type Message struct {
	Role    string
	Content string
}

// Roles used in history entries and prompts.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	// charsPerToken approximates model tokenization for budget accounting.
	charsPerToken = 4

	// DefaultBudgetTokens is the default history budget in token units.
	DefaultBudgetTokens = 1024

	// DefaultKeepRecent is how many trailing messages survive compression
	// verbatim.
	DefaultKeepRecent = 2
)

// Session is one conversation's ordered history under a character budget.
// The system prompt is stored once and never mutated. Session is not safe
// for concurrent use; callers serialize access per session.
type Session struct {
	systemPrompt string
	history      []Message
	maxChars     int
	keepRecent   int
}

// NewSession creates a session with a token-unit budget. Non-positive
// arguments fall back to the defaults.
func NewSession(systemPrompt string, budgetTokens, keepRecent int) *Session {
	if budgetTokens <= 0 {
		budgetTokens = DefaultBudgetTokens
	}
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}
	return &Session{
		systemPrompt: systemPrompt,
		maxChars:     budgetTokens * charsPerToken,
		keepRecent:   keepRecent,
	}
}

// AddMessage appends a turn and compresses the history if it is over budget.
func (s *Session) AddMessage(role, content string) {
	s.history = append(s.history, Message{Role: role, Content: content})
	s.enforceLimits()
}

// enforceLimits replaces everything but the last keepRecent messages with a
// single bridge summary once the total content length exceeds the budget.
// A history no longer than keepRecent is left alone even when over budget.
func (s *Session) enforceLimits() {
	total := 0
	for _, m := range s.history {
		total += len(m.Content)
	}
	if total <= s.maxChars || len(s.history) <= s.keepRecent {
		return
	}

	cut := len(s.history) - s.keepRecent
	bridge := bridgeSummary(s.history[:cut])
	log.Printf("[convo] history over budget (%d chars), compressing %d messages", total, cut)

	compact := make([]Message, 0, s.keepRecent+1)
	compact = append(compact, Message{Role: RoleSystem, Content: bridge})
	compact = append(compact, s.history[cut:]...)
	s.history = compact
}

// FullContext returns a fresh copy of the prompt: the stored system prompt
// followed by the history. Mutating the result does not affect the session.
func (s *Session) FullContext() []Message {
	out := make([]Message, 0, len(s.history)+1)
	out = append(out, Message{Role: RoleSystem, Content: s.systemPrompt})
	out = append(out, s.history...)
	return out
}

// Clear empties the history. The system prompt is kept.
func (s *Session) Clear() {
	s.history = nil
}

// Len reports the number of history entries, excluding the system prompt.
func (s *Session) Len() int {
	return len(s.history)
}

// SystemPrompt returns the prompt the session was created with.
func (s *Session) SystemPrompt() string {
	return s.systemPrompt
}
