package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neurolite-ai/neurolite/internal/bus"
	"github.com/neurolite-ai/neurolite/internal/config"
	"github.com/neurolite-ai/neurolite/internal/cron"
	"github.com/neurolite-ai/neurolite/internal/engine"
)

// fakeGenerator implements engine.Generator for testing
type fakeGenerator struct {
	deltas []string
	err    error
	calls  int
}

func (g *fakeGenerator) Stream(ctx context.Context, _ []engine.Message, _ engine.Options, emit func(string) error) error {
	g.calls++
	if g.err != nil {
		return g.err
	}
	for _, d := range g.deltas {
		if err := emit(d); err != nil {
			return err
		}
	}
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	return &config.Config{
		Agent: config.AgentConfig{
			SystemPrompt:  "You are a support assistant.",
			MaxTokens:     256,
			HistoryBudget: config.DefaultHistoryBudget,
			KeepRecent:    config.DefaultKeepRecent,
		},
		Gateway: config.GatewayConfig{Host: "localhost", Port: 18890},
		Knowledge: config.KnowledgeConfig{
			DBPath:            filepath.Join(tmpDir, "knowledge.db"),
			RetrievalLimit:    config.DefaultRetrievalLimit,
			OptimizeSchedule:  config.DefaultOptimizeSchedule,
			IntegritySchedule: config.DefaultIntegritySchedule,
		},
	}
}

func newTestGateway(t *testing.T, gen engine.Generator) *Gateway {
	t.Helper()
	g, err := NewWithOptions(testConfig(t), Options{Generator: gen})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	return g
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long message", 10, "this is a ..."},
		{"", 5, ""},
	}

	for _, tt := range tests {
		got := truncate(tt.input, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}

func TestNewWithOptions_InjectedGenerator(t *testing.T) {
	g := newTestGateway(t, &fakeGenerator{deltas: []string{"hi"}})
	defer g.Shutdown()

	if g.bus == nil {
		t.Error("bus should not be nil")
	}
	if g.pipe == nil {
		t.Error("pipeline should not be nil")
	}
	if g.store == nil {
		t.Error("knowledge store should not be nil")
	}
	if g.cron == nil {
		t.Error("cron should not be nil")
	}
	if g.channels == nil {
		t.Error("channels should not be nil")
	}
	if g.Pipeline() != g.pipe || g.Store() != g.store {
		t.Error("accessors should expose the wired components")
	}
}

func TestGateway_HandleTurn_StreamsToBus(t *testing.T) {
	g := newTestGateway(t, &fakeGenerator{deltas: []string{"Hello ", "there."}})
	defer g.Shutdown()

	msg := bus.InboundMessage{Channel: "webui", SenderID: "u1", ChatID: "u1", Content: "hi"}
	g.handleTurn(context.Background(), msg)

	var got []bus.OutboundMessage
	for len(g.bus.Outbound) > 0 {
		got = append(got, <-g.bus.Outbound)
	}

	if len(got) != 3 {
		t.Fatalf("outbound messages = %d, want 3 (two deltas + final)", len(got))
	}
	if got[0].Kind != bus.KindDelta || got[0].Content != "Hello " {
		t.Errorf("first event = %+v, want delta 'Hello '", got[0])
	}
	if got[1].Kind != bus.KindDelta || got[1].Content != "there." {
		t.Errorf("second event = %+v, want delta 'there.'", got[1])
	}
	if got[2].Kind != bus.KindFinal || got[2].Content != "Hello there." {
		t.Errorf("final event = %+v, want final 'Hello there.'", got[2])
	}
	if got[2].Channel != "webui" || got[2].ChatID != "u1" {
		t.Errorf("final addressed to %s/%s, want webui/u1", got[2].Channel, got[2].ChatID)
	}
}

func TestGateway_HandleTurn_ErrorReply(t *testing.T) {
	g := newTestGateway(t, &fakeGenerator{err: errors.New("backend down")})
	defer g.Shutdown()

	msg := bus.InboundMessage{Channel: "telegram", SenderID: "1", ChatID: "2", Content: "hi"}
	g.handleTurn(context.Background(), msg)

	select {
	case out := <-g.bus.Outbound:
		if out.Kind != bus.KindError {
			t.Errorf("kind = %q, want %q", out.Kind, bus.KindError)
		}
		if out.Content != errorReply {
			t.Errorf("content = %q, want the generic error reply", out.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for error message")
	}
}

func TestGateway_ProcessLoop(t *testing.T) {
	g := newTestGateway(t, &fakeGenerator{deltas: []string{"response"}})
	defer g.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go g.processLoop(ctx)

	g.bus.Inbound <- bus.InboundMessage{
		Channel:  "webui",
		SenderID: "user1",
		ChatID:   "chat1",
		Content:  "hello",
	}

	deadline := time.After(time.Second)
	for {
		select {
		case out := <-g.bus.Outbound:
			if out.Kind != bus.KindFinal {
				continue // skip deltas
			}
			if out.Content != "response" {
				t.Errorf("final content = %q, want 'response'", out.Content)
			}
			if out.Channel != "webui" || out.ChatID != "chat1" {
				t.Errorf("final addressed to %s/%s, want webui/chat1", out.Channel, out.ChatID)
			}
			return
		case <-deadline:
			t.Fatal("timeout waiting for final message")
		}
	}
}

func TestGateway_ProcessLoop_ContextCancelled(t *testing.T) {
	g := newTestGateway(t, &fakeGenerator{})
	defer g.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		g.processLoop(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("processLoop did not exit after context cancel")
	}
}

func TestGateway_HandleJob_Maintenance(t *testing.T) {
	g := newTestGateway(t, &fakeGenerator{})
	defer g.Shutdown()

	for _, task := range []string{cron.TaskOptimizeIndex, cron.TaskIntegrityCheck} {
		job := cron.CronJob{
			ID:      "job-" + task,
			Payload: cron.Payload{Kind: cron.PayloadMaintenance, Message: task},
		}
		result, err := g.handleJob(job)
		if err != nil {
			t.Errorf("handleJob(%s) error: %v", task, err)
		}
		if result != "ok" {
			t.Errorf("handleJob(%s) = %q, want ok", task, result)
		}
	}

	_, err := g.handleJob(cron.CronJob{
		Payload: cron.Payload{Kind: cron.PayloadMaintenance, Message: "bogus"},
	})
	if err == nil {
		t.Error("expected error for unknown maintenance task")
	}
}

func TestGateway_HandleJob_PromptWithDelivery(t *testing.T) {
	g := newTestGateway(t, &fakeGenerator{deltas: []string{"Report ready."}})
	defer g.Shutdown()

	job := cron.CronJob{
		ID: "report-job",
		Payload: cron.Payload{
			Kind:    cron.PayloadPrompt,
			Message: "summarize open issues",
			Deliver: true,
			Channel: "telegram",
			To:      "12345",
		},
	}

	result, err := g.handleJob(job)
	if err != nil {
		t.Fatalf("handleJob error: %v", err)
	}
	if result != "Report ready." {
		t.Errorf("result = %q, want 'Report ready.'", result)
	}

	select {
	case out := <-g.bus.Outbound:
		if out.Kind != bus.KindFinal {
			t.Errorf("kind = %q, want %q", out.Kind, bus.KindFinal)
		}
		if out.Channel != "telegram" || out.ChatID != "12345" {
			t.Errorf("delivered to %s/%s, want telegram/12345", out.Channel, out.ChatID)
		}
		if out.Content != "Report ready." {
			t.Errorf("content = %q, want 'Report ready.'", out.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delivered message")
	}
}

func TestGateway_HandleJob_PromptError(t *testing.T) {
	g := newTestGateway(t, &fakeGenerator{err: errors.New("model unavailable")})
	defer g.Shutdown()

	_, err := g.handleJob(cron.CronJob{
		ID:      "flaky",
		Payload: cron.Payload{Kind: cron.PayloadPrompt, Message: "hello"},
	})
	if err == nil {
		t.Error("expected error from failed prompt job")
	}
}

func TestGateway_EnsureMaintenanceJobs(t *testing.T) {
	g := newTestGateway(t, &fakeGenerator{})
	defer g.Shutdown()

	if err := g.ensureMaintenanceJobs(); err != nil {
		t.Fatalf("ensureMaintenanceJobs: %v", err)
	}
	// Idempotent across restarts.
	if err := g.ensureMaintenanceJobs(); err != nil {
		t.Fatalf("ensureMaintenanceJobs (second): %v", err)
	}

	jobs := g.cron.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	tasks := map[string]bool{}
	for _, job := range jobs {
		if job.Payload.Kind != cron.PayloadMaintenance {
			t.Errorf("job %s kind = %q, want maintenance", job.Name, job.Payload.Kind)
		}
		tasks[job.Payload.Message] = true
	}
	if !tasks[cron.TaskOptimizeIndex] || !tasks[cron.TaskIntegrityCheck] {
		t.Errorf("maintenance tasks = %v, want optimize and integrity", tasks)
	}
}

func TestGateway_Run_WithSignalChan(t *testing.T) {
	cfg := testConfig(t)
	sigCh := make(chan os.Signal, 1)

	g, err := NewWithOptions(cfg, Options{
		Generator:  &fakeGenerator{},
		SignalChan: sigCh,
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Run(context.Background())
	}()

	// Give it time to start
	time.Sleep(50 * time.Millisecond)

	sigCh <- os.Interrupt

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run did not exit after signal")
	}
}

func TestGateway_Shutdown(t *testing.T) {
	g := newTestGateway(t, &fakeGenerator{})
	if err := g.Shutdown(); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}
}
