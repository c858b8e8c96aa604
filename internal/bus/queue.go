package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrClosed is returned by consumers once the bus is closed.
var ErrClosed = errors.New("message bus closed")

// MessageBus provides a channel-based message passing system for inbound
// and outbound messages with subscriber support.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	subscribers map[string][]func(OutboundMessage)
	mu          sync.RWMutex

	log       zerolog.Logger
	closed    chan struct{}
	closeOnce sync.Once
}

// NewMessageBus creates a new MessageBus with the specified buffer size
// for both inbound and outbound channels.
func NewMessageBus(bufferSize int) *MessageBus {
	return &MessageBus{
		inbound:     make(chan InboundMessage, bufferSize),
		outbound:    make(chan OutboundMessage, bufferSize),
		subscribers: make(map[string][]func(OutboundMessage)),
		log:         zerolog.Nop(),
		closed:      make(chan struct{}),
	}
}

// SetLogger sets the logger used to report failing subscribers.
func (b *MessageBus) SetLogger(log zerolog.Logger) {
	b.log = log.With().Str("component", "bus").Logger()
}

// PublishInbound sends a message to the inbound channel.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case <-b.closed:
		return
	case b.inbound <- msg:
	}
}

// ConsumeInbound blocks until an inbound message is available, ctx is done
// or the bus is closed.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return InboundMessage{}, ctx.Err()
	case <-b.closed:
		return InboundMessage{}, ErrClosed
	}
}

// PublishOutbound sends a message to the outbound channel.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case <-b.closed:
		return
	case b.outbound <- msg:
	}
}

// ConsumeOutbound blocks until an outbound message is available, ctx is done
// or the bus is closed. Use it instead of DispatchOutbound, not alongside.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, error) {
	select {
	case msg := <-b.outbound:
		return msg, nil
	case <-ctx.Done():
		return OutboundMessage{}, ctx.Err()
	case <-b.closed:
		return OutboundMessage{}, ErrClosed
	}
}

// SubscribeOutbound registers a callback function to receive outbound
// messages for the specified channel.
func (b *MessageBus) SubscribeOutbound(channel string, callback func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], callback)
}

// DispatchOutbound delivers outbound messages to the subscribers of their
// channel until ctx is done or the bus is closed. Call it once.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closed:
			return
		case msg := <-b.outbound:
			b.mu.RLock()
			callbacks := b.subscribers[msg.Channel]
			b.mu.RUnlock()

			if len(callbacks) == 0 {
				b.log.Warn().Str("channel", msg.Channel).Msg("no subscriber for outbound message")
				continue
			}

			for _, cb := range callbacks {
				go b.deliver(cb, msg)
			}
		}
	}
}

func (b *MessageBus) deliver(callback func(OutboundMessage), msg OutboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("channel", msg.Channel).Msg("subscriber panicked")
		}
	}()
	callback(msg)
}

// InboundSize returns the current number of messages in the inbound channel.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the current number of messages in the outbound channel.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}

// Close closes the message bus, stopping all dispatch operations. It is safe
// to call more than once.
func (b *MessageBus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}
