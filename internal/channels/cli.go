package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hkuds/shellbox/internal/bus"
)

// CLIChannel connects the local terminal to the relay. It carries a single
// conversation: each Exchange waits for the reply to its own line.
type CLIChannel struct {
	BaseChannel
	user      string
	replies   chan bus.OutboundMessage
	subscribe sync.Once
	exchange  sync.Mutex
}

// NewCLIChannel creates the terminal channel for user. The local user is
// the only sender it accepts.
func NewCLIChannel(msgBus *bus.MessageBus, user string, log zerolog.Logger) *CLIChannel {
	return &CLIChannel{
		BaseChannel: NewBaseChannel("cli", msgBus, []string{user}, log),
		user:        user,
		replies:     make(chan bus.OutboundMessage, 1),
	}
}

// Start subscribes the channel to its replies.
func (c *CLIChannel) Start(ctx context.Context) error {
	if c.IsRunning() {
		return fmt.Errorf("cli channel is already running")
	}
	c.subscribe.Do(func() {
		c.bus.SubscribeOutbound(c.name, func(msg bus.OutboundMessage) {
			if err := c.Send(msg); err != nil {
				c.log.Warn().Err(err).Msg("dropped reply")
			}
		})
	})
	c.setRunning(true)
	return nil
}

// Stop stops accepting replies.
func (c *CLIChannel) Stop() error {
	c.setRunning(false)
	return nil
}

// Send hands a reply to the waiting Exchange.
func (c *CLIChannel) Send(msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("cli channel is not running")
	}
	select {
	case c.replies <- msg:
		return nil
	default:
		return fmt.Errorf("no exchange waiting for reply")
	}
}

// Exchange publishes line as the local user and waits for the reply.
func (c *CLIChannel) Exchange(ctx context.Context, line string) (bus.OutboundMessage, error) {
	c.exchange.Lock()
	defer c.exchange.Unlock()

	if !c.IsAllowed(c.user) {
		return bus.OutboundMessage{}, fmt.Errorf("user %q is not allowed", c.user)
	}

	// A reply that arrived after its Exchange gave up is stale.
	select {
	case <-c.replies:
	default:
	}

	c.publishInbound(c.user, "local", line, nil)

	select {
	case reply := <-c.replies:
		return reply, nil
	case <-ctx.Done():
		return bus.OutboundMessage{}, ctx.Err()
	}
}
