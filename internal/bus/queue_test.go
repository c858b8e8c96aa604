package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestOwnerID(t *testing.T) {
	tests := []struct {
		name string
		msg  InboundMessage
		want string
	}{
		{"plain sender", InboundMessage{Channel: "telegram", SenderID: "42"}, "telegram:42"},
		{"sender with username", InboundMessage{Channel: "telegram", SenderID: "42|alice"}, "telegram:42"},
		{"cli", InboundMessage{Channel: "cli", SenderID: "root"}, "cli:root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.OwnerID(); got != tt.want {
				t.Errorf("OwnerID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewMessageBus(t *testing.T) {
	bus := NewMessageBus(10)
	if bus == nil {
		t.Fatal("NewMessageBus returned nil")
	}
	if bus.InboundSize() != 0 {
		t.Errorf("InboundSize() = %d, want 0", bus.InboundSize())
	}
	if bus.OutboundSize() != 0 {
		t.Errorf("OutboundSize() = %d, want 0", bus.OutboundSize())
	}
}

func TestPublishConsumeInbound(t *testing.T) {
	bus := NewMessageBus(10)
	ctx := context.Background()

	bus.PublishInbound(InboundMessage{Channel: "cli", Content: "ls"})

	if bus.InboundSize() != 1 {
		t.Errorf("InboundSize() = %d, want 1", bus.InboundSize())
	}

	got, err := bus.ConsumeInbound(ctx)
	if err != nil {
		t.Fatalf("ConsumeInbound: %v", err)
	}
	if got.Content != "ls" {
		t.Errorf("ConsumeInbound().Content = %q, want %q", got.Content, "ls")
	}
}

func TestConsumeInboundCancelled(t *testing.T) {
	bus := NewMessageBus(10)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := bus.ConsumeInbound(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}

	bus.Close()
	if _, err := bus.ConsumeInbound(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("error after Close = %v, want ErrClosed", err)
	}
}

func TestPublishConsumeOutbound(t *testing.T) {
	bus := NewMessageBus(10)
	bus.PublishOutbound(OutboundMessage{Channel: "telegram", ChatID: "42", Content: "file1\n", Kind: KindOutput})

	got, err := bus.ConsumeOutbound(context.Background())
	if err != nil {
		t.Fatalf("ConsumeOutbound: %v", err)
	}
	if got.Content != "file1\n" || got.Kind != KindOutput {
		t.Errorf("ConsumeOutbound() = %+v", got)
	}
}

func TestSubscribeAndDispatchOutbound(t *testing.T) {
	bus := NewMessageBus(10)

	var received OutboundMessage
	var wg sync.WaitGroup
	wg.Add(1)

	bus.SubscribeOutbound("telegram", func(msg OutboundMessage) {
		received = msg
		wg.Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go bus.DispatchOutbound(ctx)

	bus.PublishOutbound(OutboundMessage{Channel: "telegram", Content: "dispatched"})

	wg.Wait()
	cancel()

	if received.Content != "dispatched" {
		t.Errorf("received.Content = %q, want %q", received.Content, "dispatched")
	}
}

func TestDispatchSurvivesPanickingSubscriber(t *testing.T) {
	bus := NewMessageBus(10)

	var wg sync.WaitGroup
	wg.Add(2)
	calls := 0
	var mu sync.Mutex
	bus.SubscribeOutbound("telegram", func(msg OutboundMessage) {
		defer wg.Done()
		mu.Lock()
		calls++
		mu.Unlock()
		if msg.Content == "boom" {
			panic("subscriber failed")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.DispatchOutbound(ctx)

	bus.PublishOutbound(OutboundMessage{Channel: "telegram", Content: "boom"})
	bus.PublishOutbound(OutboundMessage{Channel: "telegram", Content: "fine"})
	wg.Wait()

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestCloseStopsPublish(t *testing.T) {
	// Fill the buffer so next publish would block
	bus := NewMessageBus(1)
	bus.PublishInbound(InboundMessage{Content: "fill"})
	bus.Close()
	bus.Close()

	// Should not block after close even when buffer is full
	done := make(chan struct{})
	go func() {
		bus.PublishInbound(InboundMessage{Content: "after close"})
		close(done)
	}()

	select {
	case <-done:
		// success - PublishInbound returned without blocking
	case <-time.After(time.Second):
		t.Fatal("PublishInbound blocked after Close")
	}
}
