package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hkuds/shellbox/internal/bus"
	"github.com/hkuds/shellbox/internal/session"
)

const helpText = `Shellbox gives you a private Linux sandbox for a limited time.

/new - start a sandbox
/status - show your sandbox and the time left
/end - terminate your sandbox
/help - show this message

Anything else you send runs as a shell command in your sandbox.`

// maxQueued is how many messages one owner may have waiting. Messages past
// it are answered at once with busyText.
const maxQueued = 32

const busyText = "Too many pending messages. Wait for your earlier commands to finish."

// mailbox queues one owner's messages so they are answered in order. The
// queue is guarded by Relay.mu; wake signals the owner's worker.
type mailbox struct {
	queue []bus.InboundMessage
	wake  chan struct{}
}

// Run consumes inbound messages from b and publishes one reply per message.
// Messages from the same owner are handled in order; different owners do
// not wait for each other, and consuming never waits on a busy owner. Run
// returns when ctx is done or b is closed, after in-flight messages finish.
func (r *Relay) Run(ctx context.Context, b *bus.MessageBus) error {
	r.log.Info().Msg("relay started")
	defer r.workers.Wait()

	for {
		msg, err := b.ConsumeInbound(ctx)
		if errors.Is(err, bus.ErrClosed) {
			r.log.Info().Msg("relay stopped: bus closed")
			return nil
		}
		if err != nil {
			r.log.Info().Msg("relay stopped: context cancelled")
			return ctx.Err()
		}
		r.dispatch(ctx, b, msg)
	}
}

func (r *Relay) dispatch(ctx context.Context, b *bus.MessageBus, msg bus.InboundMessage) {
	owner := msg.OwnerID()

	r.mu.Lock()
	mb, ok := r.mailboxes[owner]
	if !ok {
		mb = &mailbox{wake: make(chan struct{}, 1)}
		r.mailboxes[owner] = mb
		r.workers.Add(1)
		go r.work(ctx, b, owner, mb)
	}
	if len(mb.queue) >= maxQueued {
		r.mu.Unlock()
		r.log.Warn().Str("owner", owner).Msg("mailbox full, message rejected")
		out := replyHeader(msg)
		out.Kind = bus.KindError
		out.Content = busyText
		b.PublishOutbound(out)
		return
	}
	mb.queue = append(mb.queue, msg)
	r.mu.Unlock()

	select {
	case mb.wake <- struct{}{}:
	default:
	}
}

// work answers one owner's messages and exits after an idle period with
// nothing queued.
func (r *Relay) work(ctx context.Context, b *bus.MessageBus, owner string, mb *mailbox) {
	defer r.workers.Done()

	idle := time.NewTimer(r.idle)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			r.drop(owner)
			return
		}
		if msg, ok := r.next(mb); ok {
			b.PublishOutbound(r.reply(ctx, msg))
			continue
		}

		idle.Reset(r.idle)
		select {
		case <-mb.wake:
		case <-idle.C:
			r.mu.Lock()
			if len(mb.queue) == 0 {
				delete(r.mailboxes, owner)
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
		case <-ctx.Done():
			r.drop(owner)
			return
		}
	}
}

// next pops the oldest queued message.
func (r *Relay) next(mb *mailbox) (bus.InboundMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(mb.queue) == 0 {
		return bus.InboundMessage{}, false
	}
	msg := mb.queue[0]
	mb.queue[0] = bus.InboundMessage{}
	mb.queue = mb.queue[1:]
	return msg, true
}

func (r *Relay) drop(owner string) {
	r.mu.Lock()
	delete(r.mailboxes, owner)
	r.mu.Unlock()
}

// replyHeader addresses an answer to the chat and message it responds to.
func replyHeader(msg bus.InboundMessage) bus.OutboundMessage {
	return bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Kind:    bus.KindText,
		ReplyTo: msg.Metadata["message_id"],
	}
}

// reply handles one chat message and builds the answer for its chat.
func (r *Relay) reply(ctx context.Context, msg bus.InboundMessage) bus.OutboundMessage {
	out := replyHeader(msg)
	owner := msg.OwnerID()
	text := strings.TrimSpace(msg.Content)

	fail := func(err error) bus.OutboundMessage {
		out.Kind = bus.KindError
		out.Content = ErrorText(err)
		return out
	}

	switch verb(text) {
	case "/start", "/help":
		out.Content = helpText

	case "/new":
		s, err := r.sessions.CreateSession(ctx, owner)
		if err != nil {
			return fail(err)
		}
		out.Content = fmt.Sprintf("Sandbox %s is ready. It expires in %s.",
			s.SandboxName, s.Remaining(r.now()).Round(time.Second))

	case "/status":
		s, err := r.sessions.GetActiveSession(ctx, owner)
		if err != nil {
			return fail(err)
		}
		if s == nil {
			out.Content = "No active sandbox. Send /new to start one."
			return out
		}
		out.Content = fmt.Sprintf("Sandbox %s is active. Time left: %s.",
			s.SandboxName, s.Remaining(r.now()).Round(time.Second))

	case "/end":
		if err := r.sessions.TerminateSession(ctx, owner); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				out.Kind = bus.KindError
				out.Content = "No active sandbox found"
				return out
			}
			return fail(err)
		}
		out.Content = "Sandbox terminated."

	case "":
		s, err := r.sessions.GetActiveSession(ctx, owner)
		if err != nil {
			return fail(err)
		}
		if s == nil {
			out.Kind = bus.KindError
			out.Content = "No active sandbox. Send /new to start one."
			return out
		}
		resp := r.Handle(ctx, Request{Owner: owner, SandboxID: s.SandboxID, Command: text})
		if resp.Failed() {
			out.Kind = bus.KindError
			out.Content = resp.Error
			return out
		}
		out.Kind = bus.KindOutput
		out.Content = resp.Output

	default:
		out.Content = "Unknown command. Send /help for the list."
	}
	return out
}

// verb returns the chat command at the start of text, without any @botname
// suffix, or "" when text is not a command. Absolute paths such as /bin/ls
// are shell commands, not verbs.
func verb(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	word, _, _ := strings.Cut(text, " ")
	word, _, _ = strings.Cut(word, "@")
	if strings.Contains(word[1:], "/") {
		return ""
	}
	return strings.ToLower(word)
}
