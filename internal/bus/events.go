package bus

import "time"

// InboundMessage is one user turn arriving from a channel.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// SessionKey scopes conversation history per channel and chat.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// Outbound payload kinds. A turn produces zero or more deltas followed by
// exactly one final or error.
const (
	KindDelta = "delta"
	KindFinal = "final"
	KindError = "error"
)

// OutboundMessage is one streamed increment or terminal payload headed back
// to a channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Kind    string
	Content string
}
