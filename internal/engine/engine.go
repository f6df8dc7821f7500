// Package engine abstracts the streaming text-generation backend behind a
// small Generator interface so the pipeline, curation tools, and tests can
// swap implementations.
package engine

import "context"

// Message is one entry of the prompt handed to the backend, oldest first.
type Message struct {
	Role    string
	Content string
}

// Options carries per-call sampling settings. Zero values defer to the
// backend defaults.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Generator produces an ordered stream of text increments for a prompt.
// emit is called once per increment, in order, from a single goroutine; an
// error returned from emit aborts the stream and is returned from Stream.
// Implementations must observe ctx cancellation promptly.
type Generator interface {
	Stream(ctx context.Context, msgs []Message, opts Options, emit func(delta string) error) error
}
