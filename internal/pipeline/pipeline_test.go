package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neurolite-ai/neurolite/internal/emotion"
	"github.com/neurolite-ai/neurolite/internal/engine"
	"github.com/neurolite-ai/neurolite/internal/knowledge"
)

// fakeGenerator replays scripted deltas and records every prompt it was
// given.
type fakeGenerator struct {
	mu      sync.Mutex
	deltas  []string
	err     error
	hold    bool // block after the scripted deltas until ctx is cancelled
	prompts [][]engine.Message

	active  int32
	overlap int32
}

func (f *fakeGenerator) Stream(ctx context.Context, msgs []engine.Message, _ engine.Options, emit func(string) error) error {
	if atomic.AddInt32(&f.active, 1) > 1 {
		atomic.StoreInt32(&f.overlap, 1)
	}
	defer atomic.AddInt32(&f.active, -1)

	f.mu.Lock()
	f.prompts = append(f.prompts, msgs)
	f.mu.Unlock()

	for _, d := range f.deltas {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(d); err != nil {
			return err
		}
	}
	if f.hold {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeGenerator) lastPrompt() []engine.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return nil
	}
	return f.prompts[len(f.prompts)-1]
}

func testConfig() Config {
	return Config{
		SystemPrompt:   "You are a support assistant.",
		HistoryBudget:  1024,
		KeepRecent:     2,
		RetrievalLimit: 3,
		MaxTokens:      128,
	}
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestTurnStreamsAndCommits(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"The server", " is down."}}
	p := New(testConfig(), emotion.NewClassifier(), nil, gen)

	events := collect(t, p.Turn(context.Background(), "s1", "I have a problem with my server"))

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	if events[0].Kind != EventDelta || events[0].Text != "The server" {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[1].Kind != EventDelta || events[1].Text != " is down." {
		t.Fatalf("second event = %+v", events[1])
	}
	done := events[2]
	if done.Kind != EventDone {
		t.Fatalf("terminal event = %+v, want done", done)
	}
	// "problem" classifies concerned, so the processed reply gains the
	// empathy opener.
	if done.Text != "I understand the issue. The server is down." {
		t.Fatalf("processed text = %q", done.Text)
	}

	// The processed reply is what history carries into the next turn.
	events = collect(t, p.Turn(context.Background(), "s1", "thanks"))
	if events[len(events)-1].Kind != EventDone {
		t.Fatalf("second turn did not finish: %+v", events)
	}
	prompt := gen.lastPrompt()
	found := false
	for _, m := range prompt {
		if m.Content == "I understand the issue. The server is down." {
			found = true
		}
	}
	if !found {
		t.Fatalf("processed assistant reply missing from next prompt: %+v", prompt)
	}
}

func TestTurnComposedHead(t *testing.T) {
	store, err := knowledge.Open(filepath.Join(t.TempDir(), "knowledge.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	if _, err := store.Insert("How do I fix timeouts?", "Raise the timeout limit.", ""); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	gen := &fakeGenerator{deltas: []string{"ok"}}
	p := New(testConfig(), emotion.NewClassifier(), store, gen)
	collect(t, p.Turn(context.Background(), "s1", "fix timeouts"))

	prompt := gen.lastPrompt()
	if len(prompt) < 2 {
		t.Fatalf("prompt too short: %+v", prompt)
	}
	head := prompt[0].Content
	if !strings.HasPrefix(head, "You are a support assistant.\n") {
		t.Fatalf("head missing system prompt: %q", head)
	}
	if !strings.Contains(head, emotion.Directive(emotion.Neutral)) {
		t.Fatalf("head missing directive: %q", head)
	}
	if !strings.Contains(head, "Relevant knowledge base entries:") ||
		!strings.Contains(head, "- Q: How do I fix timeouts? A: Raise the timeout limit.") {
		t.Fatalf("head missing knowledge block: %q", head)
	}

	// A query with no hits gets the fixed fallback sentence.
	collect(t, p.Turn(context.Background(), "s1", "zzzz qqqq"))
	head = gen.lastPrompt()[0].Content
	if !strings.Contains(head, "No direct knowledge base entry found. Rely on general knowledge.") {
		t.Fatalf("head missing fallback block: %q", head)
	}
}

func TestTurnStoredPromptNotMutated(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"ok"}}
	p := New(testConfig(), emotion.NewClassifier(), nil, gen)

	collect(t, p.Turn(context.Background(), "s1", "I have a problem"))
	collect(t, p.Turn(context.Background(), "s1", "hello"))

	// Second turn's head must be composed from the original system prompt,
	// not from the first turn's composed head.
	head := gen.lastPrompt()[0].Content
	if strings.Count(head, "You are a support assistant.") != 1 {
		t.Fatalf("system prompt duplicated or lost: %q", head)
	}
	if strings.Contains(head, emotion.Directive(emotion.Concerned)) {
		t.Fatalf("previous turn's directive leaked into stored prompt: %q", head)
	}
}

func TestTurnFailureCommitsNothingForAssistant(t *testing.T) {
	wantErr := errors.New("backend unavailable")
	gen := &fakeGenerator{deltas: []string{"partial "}, err: wantErr}
	p := New(testConfig(), emotion.NewClassifier(), nil, gen)

	events := collect(t, p.Turn(context.Background(), "s1", "hello"))
	last := events[len(events)-1]
	if last.Kind != EventError {
		t.Fatalf("terminal event = %+v, want error", last)
	}
	if !strings.Contains(last.Text, "backend unavailable") {
		t.Fatalf("error text = %q", last.Text)
	}

	// Next turn: the failed turn's user message is in history, but no
	// partial assistant text is.
	gen.err = nil
	collect(t, p.Turn(context.Background(), "s1", "are you there"))
	prompt := gen.lastPrompt()
	var roles []string
	for _, m := range prompt {
		roles = append(roles, m.Role)
		if strings.Contains(m.Content, "partial") {
			t.Fatalf("partial output leaked into history: %+v", prompt)
		}
	}
	// system head + first user msg + second user msg
	if len(prompt) != 3 {
		t.Fatalf("prompt roles = %v, want 3 entries", roles)
	}
}

func TestTurnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{deltas: []string{"a"}, hold: true}
	p := New(testConfig(), emotion.NewClassifier(), nil, gen)

	ch := p.Turn(ctx, "s1", "hello")
	if ev := <-ch; ev.Kind != EventDelta {
		t.Fatalf("first event = %+v", ev)
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return // closed without a done event
			}
			if ev.Kind == EventDone {
				t.Fatalf("cancelled turn produced done event: %+v", ev)
			}
		case <-deadline:
			t.Fatal("turn did not terminate after cancellation")
		}
	}
}

func TestSameSessionTurnsSerialized(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"x", "y", "z"}}
	p := New(testConfig(), emotion.NewClassifier(), nil, gen)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range p.Turn(context.Background(), "shared", "hello") {
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&gen.overlap) != 0 {
		t.Fatal("turns on the same session overlapped")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"ok"}}
	p := New(testConfig(), emotion.NewClassifier(), nil, gen)

	collect(t, p.Turn(context.Background(), "a", "alpha message"))
	collect(t, p.Turn(context.Background(), "b", "beta message"))

	prompt := gen.lastPrompt()
	for _, m := range prompt {
		if strings.Contains(m.Content, "alpha message") {
			t.Fatalf("session a history leaked into session b: %+v", prompt)
		}
	}
	if p.SessionCount() != 2 {
		t.Fatalf("SessionCount = %d, want 2", p.SessionCount())
	}
}

func TestResetSession(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"ok"}}
	p := New(testConfig(), emotion.NewClassifier(), nil, gen)

	collect(t, p.Turn(context.Background(), "s1", "remember the Apollo launch"))
	p.ResetSession("s1")
	collect(t, p.Turn(context.Background(), "s1", "hello"))

	prompt := gen.lastPrompt()
	if len(prompt) != 2 {
		t.Fatalf("history survived reset: %+v", prompt)
	}
}
