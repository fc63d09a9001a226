package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"shopchat/pkg/bus"
	"shopchat/pkg/channel"
	"shopchat/pkg/config"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const typingRefreshInterval = 4 * time.Second
const failureReply = "Sorry, the assistant is not available right now. Please try again later."

// messenger is the subset of the Bot API the adapter talks to.
type messenger interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
	AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error
}

// Adapter bridges Telegram updates into dialogue manager conversations, one per chat.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	events    *bus.MessageBus
	log       *slog.Logger
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, events *bus.MessageBus, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		events:    events,
		log:       log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and forwards messages and button taps through handler.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			a.handleUpdate(ctx, bot, update, handler)
		}
	}
}

// handleUpdate turns a text message or an inline button tap into one inbound message.
func (a *Adapter) handleUpdate(ctx context.Context, bot messenger, update telego.Update, handler channel.Handler) {
	var (
		text   string
		from   int64
		chatID int64
	)

	switch {
	case update.Message != nil:
		message := update.Message
		text = strings.TrimSpace(message.Text)
		if text == "" {
			// Photos, stickers and the like have nothing to forward.
			return
		}
		if message.From == nil {
			a.log.Debug("Ignoring message without sender")
			return
		}
		from = message.From.ID
		chatID = message.Chat.ID
	case update.CallbackQuery != nil:
		query := update.CallbackQuery
		if err := bot.AnswerCallbackQuery(ctx, tu.CallbackQuery(query.ID)); err != nil {
			a.log.Debug("Failed to answer callback query", "error", err)
		}
		if query.Message == nil {
			return
		}
		text = strings.TrimSpace(query.Data)
		if text == "" {
			return
		}
		from = query.From.ID
		chatID = query.Message.GetChat().ID
	default:
		return
	}

	senderID := strconv.FormatInt(from, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		a.events.PublishEvent(ctx, bus.Event{
			Type:     bus.EventMessageDropped,
			Channel:  channelName,
			SenderID: senderID,
			Reason:   "sender not allowed",
		})
		return
	}

	key := sessionKey(strconv.FormatInt(chatID, 10))
	inbound := bus.InboundMessage{
		Text:     text,
		Output:   newOutput(bot, chatID, a.log),
		SenderID: key,
		Channel:  channelName,
		Metadata: map[string]any{
			"update_id":   update.UpdateID,
			"telegram_id": senderID,
		},
	}
	a.log.Info("Received message", "chat_id", chatID, "sender_id", senderID, "session_key", key, "content", previewText(text))

	stopTyping := a.startTypingIndicator(ctx, bot, chatID)
	err := handler(ctx, inbound)
	stopTyping()
	if err == nil {
		return
	}

	a.log.Error("Failed to process inbound message", "chat_id", chatID, "error", err)
	if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), failureReply)); err != nil {
		a.log.Error("Failed to send telegram message", "error", err)
	}
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// sessionKey maps one Telegram chat to one dialogue manager conversation.
func sessionKey(chatID string) string {
	return "telegram:" + strings.TrimSpace(chatID)
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator sends an initial typing action and refreshes it periodically
// until the returned cancel function is called.
func (a *Adapter) startTypingIndicator(ctx context.Context, bot messenger, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return cancel
}
