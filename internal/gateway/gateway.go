// Package gateway wires the pieces together: channels feed inbound messages
// onto the bus, each message runs through the turn pipeline, and the stream
// events flow back out to the originating channel. It also owns the cron
// service and the knowledge store lifecycle.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/neurolite-ai/neurolite/internal/bus"
	"github.com/neurolite-ai/neurolite/internal/channel"
	"github.com/neurolite-ai/neurolite/internal/config"
	"github.com/neurolite-ai/neurolite/internal/cron"
	"github.com/neurolite-ai/neurolite/internal/emotion"
	"github.com/neurolite-ai/neurolite/internal/engine"
	"github.com/neurolite-ai/neurolite/internal/knowledge"
	"github.com/neurolite-ai/neurolite/internal/pipeline"
)

// errorReply is what users see when a turn fails; the real error only goes
// to the log.
const errorReply = "Sorry, I encountered an error processing your message."

// Names of the built-in knowledge maintenance jobs.
const (
	optimizeJobName  = "__internal_knowledge_optimize"
	integrityJobName = "__internal_knowledge_integrity"
)

// Options for creating a Gateway.
type Options struct {
	Generator  engine.Generator // injected for testing; nil means the configured model provider
	SignalChan chan os.Signal   // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	store      *knowledge.Store
	pipe       *pipeline.Pipeline
	channels   *channel.ChannelManager
	cron       *cron.Service
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	store, err := knowledge.Open(cfg.Knowledge.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	g.store = store

	gen := opts.Generator
	if gen == nil {
		gen = engine.NewModelGenerator(engine.ModelOptions{
			Provider:  cfg.Provider.Type,
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			Model:     cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		})
	}

	g.pipe = pipeline.New(pipeline.Config{
		SystemPrompt:   cfg.Agent.SystemPrompt,
		HistoryBudget:  cfg.Agent.HistoryBudget,
		KeepRecent:     cfg.Agent.KeepRecent,
		RetrievalLimit: cfg.Knowledge.RetrievalLimit,
		MaxTokens:      cfg.Agent.MaxTokens,
		Temperature:    cfg.Agent.Temperature,
	}, emotion.NewClassifier(), store, gen)

	cronStorePath := filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json")
	g.cron = cron.NewService(cronStorePath)
	g.cron.OnJob = g.handleJob

	chMgr, err := channel.NewChannelManager(cfg.Channels, cfg.Gateway, g.bus)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.signalChan = opts.SignalChan

	return g, nil
}

// Pipeline exposes the turn pipeline, mainly for the CLI chat command.
func (g *Gateway) Pipeline() *pipeline.Pipeline {
	return g.pipe
}

// Store exposes the knowledge store for CLI subcommands.
func (g *Gateway) Store() *knowledge.Store {
	return g.store
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if err := g.ensureMaintenanceJobs(); err != nil {
		log.Printf("[gateway] ensure maintenance jobs warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			go g.handleTurn(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// handleTurn relays one turn's event stream to the originating channel. The
// pipeline serializes turns per session, so spawning a goroutine per inbound
// message is safe.
func (g *Gateway) handleTurn(ctx context.Context, msg bus.InboundMessage) {
	for ev := range g.pipe.Turn(ctx, msg.SessionKey(), msg.Content) {
		out := bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID}
		switch ev.Kind {
		case pipeline.EventDelta:
			out.Kind = bus.KindDelta
			out.Content = ev.Text
		case pipeline.EventDone:
			out.Kind = bus.KindFinal
			out.Content = ev.Text
		case pipeline.EventError:
			out.Kind = bus.KindError
			out.Content = errorReply
		}
		select {
		case g.bus.Outbound <- out:
		case <-ctx.Done():
			return
		}
	}
}

// handleJob executes one cron job: maintenance jobs act on the knowledge
// store, prompt jobs run a pipeline turn on a dedicated session.
func (g *Gateway) handleJob(job cron.CronJob) (string, error) {
	if job.Payload.Kind == cron.PayloadMaintenance {
		switch job.Payload.Message {
		case cron.TaskOptimizeIndex:
			return "ok", g.store.Optimize()
		case cron.TaskIntegrityCheck:
			return "ok", g.store.CheckIndex()
		default:
			return "", fmt.Errorf("unknown maintenance task %q", job.Payload.Message)
		}
	}

	result, err := g.runPrompt(context.Background(), job.Payload.Message)
	if err != nil {
		return "", err
	}
	if job.Payload.Deliver && job.Payload.Channel != "" {
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: job.Payload.Channel,
			ChatID:  job.Payload.To,
			Kind:    bus.KindFinal,
			Content: result,
		}
	}
	return result, nil
}

// runPrompt runs one turn on the shared system session and waits for the
// terminal event.
func (g *Gateway) runPrompt(ctx context.Context, prompt string) (string, error) {
	var result string
	var runErr error
	for ev := range g.pipe.Turn(ctx, "system:cron", prompt) {
		switch ev.Kind {
		case pipeline.EventDone:
			result = ev.Text
		case pipeline.EventError:
			runErr = errors.New(ev.Text)
		}
	}
	return result, runErr
}

func (g *Gateway) ensureMaintenanceJobs() error {
	_, err := g.cron.EnsureJob(optimizeJobName,
		cron.Schedule{Kind: "cron", Expr: g.cfg.Knowledge.OptimizeSchedule},
		cron.Payload{Kind: cron.PayloadMaintenance, Message: cron.TaskOptimizeIndex})
	if err != nil {
		return err
	}
	_, err = g.cron.EnsureJob(integrityJobName,
		cron.Schedule{Kind: "cron", Expr: g.cfg.Knowledge.IntegritySchedule},
		cron.Payload{Kind: cron.PayloadMaintenance, Message: cron.TaskIntegrityCheck})
	return err
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close knowledge store warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
