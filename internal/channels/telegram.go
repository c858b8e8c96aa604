package channels

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/hkuds/shellbox/internal/bus"
	"github.com/hkuds/shellbox/internal/config"
)

// telegramAPI is the part of *tgbotapi.BotAPI the channel uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TelegramChannel implements the Channel interface for Telegram messaging.
type TelegramChannel struct {
	BaseChannel
	token string
	bot   telegramAPI
	dial  func(token string) (telegramAPI, error)

	// chatIDs maps string chat IDs to int64 for message sending
	chatIDs map[string]int64
	chatMu  sync.RWMutex

	subscribe sync.Once
	cancel    context.CancelFunc
}

// NewTelegramChannel creates a new Telegram channel instance.
func NewTelegramChannel(cfg config.TelegramConfig, msgBus *bus.MessageBus, log zerolog.Logger) *TelegramChannel {
	c := &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", msgBus, cfg.AllowFrom, log),
		token:       cfg.Token,
		chatIDs:     make(map[string]int64),
	}
	c.dial = c.dialBot
	return c
}

func (c *TelegramChannel) dialBot(token string) (telegramAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("bot", bot.Self.UserName).Msg("telegram bot authorized")
	return bot, nil
}

// Start begins listening for Telegram updates.
func (c *TelegramChannel) Start(ctx context.Context) error {
	if c.IsRunning() {
		return fmt.Errorf("telegram channel is already running")
	}

	bot, err := c.dial(c.token)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	c.bot = bot

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60 // long polling
	updates := bot.GetUpdatesChan(u)

	c.setRunning(true)

	c.subscribe.Do(func() {
		c.bus.SubscribeOutbound(c.name, func(msg bus.OutboundMessage) {
			if err := c.Send(msg); err != nil {
				c.log.Error().Err(err).Str("chat", msg.ChatID).Msg("failed to send message")
			}
		})
	})

	go c.processUpdates(ctx, updates)
	return nil
}

func (c *TelegramChannel) processUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("update processing stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			c.handleMessage(update.Message)
		}
	}
}

// handleMessage turns one Telegram message into an inbound bus message.
// Only text is accepted; a sandbox takes shell commands.
func (c *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}

	// user_id|username; the relay keys sandboxes on the numeric part
	senderID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.UserName != "" {
		senderID = senderID + "|" + msg.From.UserName
	}

	if !c.IsAllowed(senderID) {
		c.log.Warn().Str("sender", senderID).Msg("message from unauthorized sender")
		return
	}

	chatIDStr := strconv.FormatInt(msg.Chat.ID, 10)
	c.chatMu.Lock()
	c.chatIDs[chatIDStr] = msg.Chat.ID
	c.chatMu.Unlock()

	if strings.TrimSpace(msg.Text) == "" {
		c.reply(chatIDStr, "Only text commands are supported")
		return
	}

	metadata := map[string]string{
		"message_id": strconv.Itoa(msg.MessageID),
		"chat_type":  msg.Chat.Type,
	}
	if msg.From.UserName != "" {
		metadata["username"] = msg.From.UserName
	}

	c.publishInbound(senderID, chatIDStr, msg.Text, metadata)
}

// Stop gracefully shuts down the Telegram channel.
func (c *TelegramChannel) Stop() error {
	if !c.IsRunning() {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}
	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}

	c.setRunning(false)
	c.log.Info().Msg("telegram channel stopped")
	return nil
}

// Send delivers an outbound message through Telegram.
func (c *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram channel is not running")
	}

	chatID, err := c.getChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	telegramMsg := tgbotapi.NewMessage(chatID, FormatHTML(msg))
	telegramMsg.ParseMode = tgbotapi.ModeHTML

	if msg.ReplyTo != "" {
		if replyID, err := strconv.Atoi(msg.ReplyTo); err == nil {
			telegramMsg.ReplyToMessageID = replyID
		}
	}

	_, err = c.bot.Send(telegramMsg)
	if err != nil {
		// Fall back to plain text if Telegram rejects the markup
		c.log.Warn().Err(err).Msg("HTML message failed, falling back to plain text")
		telegramMsg.ParseMode = ""
		telegramMsg.Text = FormatPlain(msg)
		_, err = c.bot.Send(telegramMsg)
	}
	return err
}

// getChatID retrieves the int64 chat ID from a string ID.
func (c *TelegramChannel) getChatID(chatIDStr string) (int64, error) {
	c.chatMu.RLock()
	if chatID, ok := c.chatIDs[chatIDStr]; ok {
		c.chatMu.RUnlock()
		return chatID, nil
	}
	c.chatMu.RUnlock()

	chatIDStr = strings.TrimSpace(chatIDStr)
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse chat ID '%s': %w", chatIDStr, err)
	}

	c.chatMu.Lock()
	c.chatIDs[chatIDStr] = chatID
	c.chatMu.Unlock()

	return chatID, nil
}
