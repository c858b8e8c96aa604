package bus

import (
	"strings"
	"time"
)

// Kind tells a channel how to render an outbound message.
type Kind string

const (
	// KindText is a plain reply: help, status, confirmations.
	KindText Kind = "text"
	// KindOutput carries the output of a command.
	KindOutput Kind = "output"
	// KindError carries a user-facing error.
	KindError Kind = "error"
)

// InboundMessage represents a message received from any channel.
type InboundMessage struct {
	Channel   string            `json:"channel"` // telegram, cli
	SenderID  string            `json:"senderId"`
	ChatID    string            `json:"chatId"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OwnerID returns the sandbox owner the message speaks for: the channel plus
// the stable part of the sender id. Senders may carry a "|username" suffix,
// which is dropped since usernames can change.
func (m *InboundMessage) OwnerID() string {
	sender, _, _ := strings.Cut(m.SenderID, "|")
	return m.Channel + ":" + sender
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
	Kind    Kind   `json:"kind"`
	ReplyTo string `json:"replyTo,omitempty"`
}
