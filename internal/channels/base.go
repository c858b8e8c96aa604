package channels

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkuds/shellbox/internal/bus"
)

// Channel is the interface all channels must implement.
type Channel interface {
	// Name returns the unique identifier for this channel.
	Name() string

	// Start begins listening for messages on this channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop() error

	// Send delivers an outbound message through this channel.
	Send(msg bus.OutboundMessage) error

	// IsRunning returns true if the channel is currently active.
	IsRunning() bool
}

// BaseChannel provides common functionality for all channel implementations.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowList []string
	log       zerolog.Logger
	running   bool
	mu        sync.RWMutex
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string, log zerolog.Logger) BaseChannel {
	return BaseChannel{
		name:      name,
		bus:       msgBus,
		allowList: allowList,
		log:       log.With().Str("channel", name).Logger(),
	}
}

// Name returns the channel's unique identifier.
func (c *BaseChannel) Name() string {
	return c.name
}

// IsRunning returns true if the channel is currently active.
func (c *BaseChannel) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *BaseChannel) setRunning(running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = running
}

// IsAllowed checks if a sender may use this channel. A sender matches when
// its id equals an allowList entry or, for compound ids like
// "123456|username", when either part does. An empty allowList denies
// everyone: a sandbox is never handed to an unconfigured audience.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		c.log.Warn().Str("sender", senderID).Msg("denied: no allowed users configured")
		return false
	}

	for _, part := range strings.Split(senderID, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		for _, allowed := range c.allowList {
			if part == allowed {
				return true
			}
		}
	}
	return false
}

// publishInbound creates and publishes an inbound message to the message bus.
func (c *BaseChannel) publishInbound(senderID, chatID, content string, metadata map[string]string) {
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:   c.name,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})
}

// reply publishes an error straight back to the sender's chat.
func (c *BaseChannel) reply(chatID, content string) {
	c.bus.PublishOutbound(bus.OutboundMessage{
		Channel: c.name,
		ChatID:  chatID,
		Content: content,
		Kind:    bus.KindError,
	})
}
