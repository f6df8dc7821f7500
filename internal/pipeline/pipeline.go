// Package pipeline orchestrates one conversational turn: emotion
// classification, knowledge retrieval, context assembly, streaming
// generation, and post-processing, with per-session history.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/neurolite-ai/neurolite/internal/convo"
	"github.com/neurolite-ai/neurolite/internal/emotion"
	"github.com/neurolite-ai/neurolite/internal/engine"
	"github.com/neurolite-ai/neurolite/internal/knowledge"
	"github.com/neurolite-ai/neurolite/internal/postproc"
)

// Event is one increment of a turn's streamed output. The channel returned
// by Turn carries zero or more delta events followed by exactly one done or
// error event.
type Event struct {
	Kind EventKind
	Text string
}

// EventKind discriminates stream events.
type EventKind string

const (
	// EventDelta carries one raw text increment.
	EventDelta EventKind = "delta"
	// EventDone carries the full post-processed reply.
	EventDone EventKind = "done"
	// EventError carries a terminal failure message; nothing was committed
	// to history for the assistant side.
	EventError EventKind = "error"
)

// Config holds the per-turn knobs the pipeline applies to every session.
type Config struct {
	SystemPrompt   string
	HistoryBudget  int // token units, 4 chars each
	KeepRecent     int
	RetrievalLimit int
	MaxTokens      int
	Temperature    float64
}

// Pipeline is the turn orchestrator. It owns the session map; all other
// collaborators are injected. Safe for concurrent use: turns on different
// sessions run in parallel, turns on the same session are serialized in
// arrival order.
type Pipeline struct {
	cfg        Config
	classifier *emotion.Classifier
	store      *knowledge.Store
	gen        engine.Generator

	mu       sync.Mutex
	sessions map[string]*sessionSlot
}

type sessionSlot struct {
	mu      sync.Mutex
	session *convo.Session
}

// New builds a pipeline. store may be nil, in which case retrieval is
// skipped and every turn gets the no-knowledge fallback block.
func New(cfg Config, classifier *emotion.Classifier, store *knowledge.Store, gen engine.Generator) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		classifier: classifier,
		store:      store,
		gen:        gen,
		sessions:   make(map[string]*sessionSlot),
	}
}

// Turn runs one conversational turn for sessionID and returns the event
// stream. The channel is closed after the terminal event. Cancelling ctx
// aborts generation promptly; an aborted or failed turn commits the user
// message but no assistant message.
func (p *Pipeline) Turn(ctx context.Context, sessionID, userText string) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		p.runTurn(ctx, sessionID, userText, out)
	}()
	return out
}

func (p *Pipeline) runTurn(ctx context.Context, sessionID, userText string, out chan<- Event) {
	slot := p.slot(sessionID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	label, directive := p.classifier.Analyze(userText)

	var results []knowledge.Entry
	if p.store != nil {
		results = p.store.Search(userText, p.cfg.RetrievalLimit)
	}
	composed := composePrompt(p.cfg.SystemPrompt, directive, knowledgeBlock(results))

	sess := slot.session
	sess.AddMessage(convo.RoleUser, userText)

	// The stored system head is swapped for the composed prompt for this
	// call only; FullContext hands out copies, so the session keeps its
	// original prompt.
	msgs := sess.FullContext()
	msgs[0].Content = composed

	var raw strings.Builder
	err := p.gen.Stream(ctx, toEngineMessages(msgs), engine.Options{
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	}, func(delta string) error {
		raw.WriteString(delta)
		select {
		case out <- Event{Kind: EventDelta, Text: delta}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		log.Printf("[pipeline] turn failed for session %s: %v", sessionID, err)
		select {
		case out <- Event{Kind: EventError, Text: err.Error()}:
		case <-ctx.Done():
		}
		return
	}

	processed := postproc.Process(raw.String(), string(label))
	sess.AddMessage(convo.RoleAssistant, processed)

	select {
	case out <- Event{Kind: EventDone, Text: processed}:
	case <-ctx.Done():
	}
}

// slot resolves or creates the keyed session entry.
func (p *Pipeline) slot(sessionID string) *sessionSlot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok {
		s = &sessionSlot{
			session: convo.NewSession(p.cfg.SystemPrompt, p.cfg.HistoryBudget, p.cfg.KeepRecent),
		}
		p.sessions[sessionID] = s
	}
	return s
}

// ResetSession clears one session's history. Unknown ids are a no-op.
func (p *Pipeline) ResetSession(sessionID string) {
	p.mu.Lock()
	slot, ok := p.sessions[sessionID]
	p.mu.Unlock()
	if !ok {
		return
	}
	slot.mu.Lock()
	slot.session.Clear()
	slot.mu.Unlock()
}

// SessionCount reports how many sessions have been seen since startup.
func (p *Pipeline) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

const knowledgeFallback = "No direct knowledge base entry found. Rely on general knowledge."

// knowledgeBlock renders retrieval results for prompt injection.
func knowledgeBlock(entries []knowledge.Entry) string {
	if len(entries) == 0 {
		return knowledgeFallback
	}
	var sb strings.Builder
	sb.WriteString("Relevant knowledge base entries:")
	for _, e := range entries {
		fmt.Fprintf(&sb, "\n- Q: %s A: %s", e.Question, e.Answer)
	}
	return sb.String()
}

func composePrompt(systemPrompt, directive, block string) string {
	return systemPrompt + "\n" + directive + "\n" + block
}

func toEngineMessages(msgs []convo.Message) []engine.Message {
	out := make([]engine.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, engine.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
