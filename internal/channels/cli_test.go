package channels

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkuds/shellbox/internal/bus"
)

// echoRelay answers every inbound message with its sender and content.
func echoRelay(ctx context.Context, b *bus.MessageBus) {
	for {
		msg, err := b.ConsumeInbound(ctx)
		if err != nil {
			return
		}
		b.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: "echo:" + msg.SenderID + ":" + msg.Content,
			Kind:    bus.KindOutput,
		})
	}
}

func TestCLIExchange(t *testing.T) {
	b := bus.NewMessageBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer b.Close()

	go echoRelay(ctx, b)
	go b.DispatchOutbound(ctx)

	c := NewCLIChannel(b, "dev", zerolog.Nop())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, line := range []string{"ls", "pwd"} {
		exCtx, exCancel := context.WithTimeout(ctx, 2*time.Second)
		reply, err := c.Exchange(exCtx, line)
		exCancel()
		if err != nil {
			t.Fatalf("Exchange(%q): %v", line, err)
		}
		if want := "echo:dev:" + line; reply.Content != want {
			t.Errorf("Exchange(%q) = %q, want %q", line, reply.Content, want)
		}
	}
}

func TestCLIExchangeTimesOut(t *testing.T) {
	b := bus.NewMessageBus(4)
	defer b.Close()

	c := NewCLIChannel(b, "dev", zerolog.Nop())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Exchange(ctx, "ls"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Exchange() error = %v, want DeadlineExceeded", err)
	}
}

func TestCLIDropsStaleReply(t *testing.T) {
	b := bus.NewMessageBus(4)
	defer b.Close()

	c := NewCLIChannel(b, "dev", zerolog.Nop())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Send(bus.OutboundMessage{Content: "stale"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	go func() {
		msg, err := b.ConsumeInbound(context.Background())
		if err != nil {
			return
		}
		c.Send(bus.OutboundMessage{Content: "fresh:" + msg.Content})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := c.Exchange(ctx, "ls")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if reply.Content != "fresh:ls" {
		t.Errorf("Exchange() = %q, want fresh:ls", reply.Content)
	}
}

func TestCLIRequiresUser(t *testing.T) {
	c := NewCLIChannel(bus.NewMessageBus(1), "", zerolog.Nop())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := c.Exchange(context.Background(), "ls"); err == nil {
		t.Error("Exchange() with no user succeeded")
	}
}
