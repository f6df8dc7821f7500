package curation

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/neurolite-ai/neurolite/internal/engine"
	"github.com/neurolite-ai/neurolite/internal/knowledge"
)

const (
	// DistillSource tags entries produced by topic distillation.
	DistillSource = "distillation"

	defaultRetries    = 3
	defaultRetryDelay = 2 * time.Second
	pairsPerTopic     = 5
)

// Distiller turns topic names into validated knowledge entries by asking the
// generation engine for Q/A pairs.
type Distiller struct {
	gen       engine.Generator
	store     *knowledge.Store
	validator *Validator

	Retries    int
	RetryDelay time.Duration
	MaxTokens  int
}

func NewDistiller(gen engine.Generator, store *knowledge.Store, v *Validator) *Distiller {
	return &Distiller{
		gen:        gen,
		store:      store,
		validator:  v,
		Retries:    defaultRetries,
		RetryDelay: defaultRetryDelay,
		MaxTokens:  1024,
	}
}

// TopicResult summarizes one topic's distillation.
type TopicResult struct {
	Topic    string
	Inserted int
	Skipped  int
	Err      error
}

// Run distills every topic, continuing past per-topic failures.
func (d *Distiller) Run(ctx context.Context, topics []string) []TopicResult {
	results := make([]TopicResult, 0, len(topics))
	for _, topic := range topics {
		res := d.distillTopic(ctx, topic)
		if res.Err != nil {
			log.Printf("[curation] distill %q failed: %v", topic, res.Err)
		} else {
			log.Printf("[curation] distill %q: %d inserted, %d skipped", topic, res.Inserted, res.Skipped)
		}
		results = append(results, res)
	}
	return results
}

// distillTopic asks the engine for pairs, retrying generation failures and
// empty parses up to Retries attempts.
func (d *Distiller) distillTopic(ctx context.Context, topic string) TopicResult {
	res := TopicResult{Topic: topic}

	var pairs []Pair
	var lastErr error
	for attempt := 1; attempt <= d.Retries; attempt++ {
		text, err := d.generate(ctx, topic)
		if err != nil {
			lastErr = err
		} else if pairs = parsePairs(text); len(pairs) > 0 {
			lastErr = nil
			break
		} else {
			lastErr = fmt.Errorf("no parseable pairs in response")
		}

		if attempt < d.Retries {
			select {
			case <-time.After(d.RetryDelay):
			case <-ctx.Done():
				res.Err = ctx.Err()
				return res
			}
		}
	}
	if lastErr != nil {
		res.Err = lastErr
		return res
	}

	for _, p := range pairs {
		if issues := d.validator.Check(p.Question, p.Answer); len(issues) > 0 {
			res.Skipped++
			continue
		}
		if _, err := d.store.Insert(p.Question, p.Answer, DistillSource); err != nil {
			res.Err = err
			return res
		}
		res.Inserted++
	}
	return res
}

func (d *Distiller) generate(ctx context.Context, topic string) (string, error) {
	prompt := fmt.Sprintf(
		"Generate %d factual question and answer pairs about %q for a technical support knowledge base.\n"+
			"Format each pair on two lines exactly as:\nQ: <question>\nA: <answer>",
		pairsPerTopic, topic,
	)

	var sb strings.Builder
	err := d.gen.Stream(ctx, []engine.Message{
		{Role: "system", Content: "You produce concise, accurate knowledge base content."},
		{Role: "user", Content: prompt},
	}, engine.Options{MaxTokens: d.MaxTokens}, func(delta string) error {
		sb.WriteString(delta)
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// parsePairs extracts Q:/A: pairs from generated text. A pair needs a Q line
// followed by an A line; anything else is ignored.
func parsePairs(text string) []Pair {
	var pairs []Pair
	var question string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Q:"):
			question = strings.TrimSpace(strings.TrimPrefix(line, "Q:"))
		case strings.HasPrefix(line, "A:"):
			answer := strings.TrimSpace(strings.TrimPrefix(line, "A:"))
			if question != "" && answer != "" {
				pairs = append(pairs, Pair{Question: question, Answer: answer})
			}
			question = ""
		}
	}
	return pairs
}
