// Package channel implements the serving surfaces: each channel turns user
// input into inbound bus messages and renders outbound stream events.
package channel

import (
	"context"

	"github.com/neurolite-ai/neurolite/internal/bus"
)

// Channel is one serving surface. Start must not block; Stop is idempotent.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Send(msg bus.OutboundMessage) error
	Stop() error
}

// BaseChannel carries the shared bits: name, bus handle, sender allow-list.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
}

// NewBaseChannel builds the shared channel state. An empty allowFrom list
// allows every sender.
func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	var allowed map[string]struct{}
	if len(allowFrom) > 0 {
		allowed = make(map[string]struct{}, len(allowFrom))
		for _, id := range allowFrom {
			allowed[id] = struct{}{}
		}
	}
	return BaseChannel{name: name, bus: b, allowFrom: allowed}
}

func (b *BaseChannel) Name() string {
	return b.name
}

// IsAllowed reports whether senderID passes the allow-list.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if b.allowFrom == nil {
		return true
	}
	_, ok := b.allowFrom[senderID]
	return ok
}
