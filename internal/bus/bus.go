// Package bus decouples channels from the turn pipeline: channels push
// inbound user messages, the gateway pushes outbound stream events, and each
// channel subscribes for its own outbound traffic.
package bus

import (
	"context"
	"log"
	"sync"
)

// MessageBus carries inbound and outbound traffic between channels and the
// gateway loop.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu   sync.RWMutex
	subs map[string]func(OutboundMessage)
}

// NewMessageBus creates a bus with the given channel buffer size.
func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
		subs:     make(map[string]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers the handler for one channel's outbound
// messages, replacing any previous handler.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = fn
}

// DispatchOutbound routes outbound messages to their channel's subscriber
// until ctx is cancelled. Messages for unsubscribed channels are dropped
// with a log line.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn := b.subs[msg.Channel]
			b.mu.RUnlock()
			if fn == nil {
				log.Printf("[bus] no subscriber for channel %s, dropping %s", msg.Channel, msg.Kind)
				continue
			}
			fn(msg)
		case <-ctx.Done():
			return
		}
	}
}
