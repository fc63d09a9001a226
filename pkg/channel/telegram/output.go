package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Bot API limit on inline button callback data.
const maxCallbackData = 64

// Output renders dialogue manager replies into one Telegram chat.
type Output struct {
	bot    messenger
	chatID int64
	log    *slog.Logger
}

func newOutput(bot messenger, chatID int64, log *slog.Logger) *Output {
	if log == nil {
		log = slog.Default()
	}
	return &Output{bot: bot, chatID: chatID, log: log}
}

func (o *Output) Name() string {
	return channelName
}

func (o *Output) SendText(ctx context.Context, _ string, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	o.log.Info("Sending message", "chat_id", o.chatID, "content", previewText(text))
	if _, err := o.bot.SendMessage(ctx, tu.Message(tu.ID(o.chatID), text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func (o *Output) SendImage(ctx context.Context, _ string, url string) error {
	if _, err := o.bot.SendPhoto(ctx, tu.Photo(tu.ID(o.chatID), tu.FileFromURL(url))); err != nil {
		return fmt.Errorf("send telegram photo: %w", err)
	}
	return nil
}

// SendButtons attaches an inline keyboard with one row per button. A tap comes back as a
// callback query carrying the button payload.
func (o *Output) SendButtons(ctx context.Context, _ string, text string, buttons []map[string]any) error {
	keyboard := inlineKeyboard(buttons)
	if keyboard == nil {
		return o.SendText(ctx, "", text)
	}
	if strings.TrimSpace(text) == "" {
		text = "Choose an option:"
	}

	params := tu.Message(tu.ID(o.chatID), text).WithReplyMarkup(keyboard)
	if _, err := o.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send telegram buttons: %w", err)
	}
	return nil
}

// SendElements sends one message per element built from its title and subtitle.
func (o *Output) SendElements(ctx context.Context, _ string, elements []map[string]any) error {
	for _, element := range elements {
		if err := o.SendText(ctx, "", elementText(element)); err != nil {
			return err
		}
	}
	return nil
}

func (o *Output) SendCustomJSON(_ context.Context, _ string, payload map[string]any) error {
	o.log.Debug("Skipping custom payload unsupported by telegram", "chat_id", o.chatID, "keys", len(payload))
	return nil
}

func (o *Output) SendAttachment(_ context.Context, _ string, _ any) error {
	o.log.Debug("Skipping attachment unsupported by telegram", "chat_id", o.chatID)
	return nil
}

func inlineKeyboard(buttons []map[string]any) *telego.InlineKeyboardMarkup {
	rows := make([][]telego.InlineKeyboardButton, 0, len(buttons))
	for _, button := range buttons {
		title := stringField(button, "title")
		payload := stringField(button, "payload")
		if payload == "" {
			payload = title
		}
		if title == "" || len(payload) > maxCallbackData {
			continue
		}
		rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton(title).WithCallbackData(payload)))
	}

	if len(rows) == 0 {
		return nil
	}
	return tu.InlineKeyboard(rows...)
}

func elementText(element map[string]any) string {
	lines := make([]string, 0, 2)
	for _, key := range []string{"title", "subtitle"} {
		if value := stringField(element, key); value != "" {
			lines = append(lines, value)
		}
	}
	return strings.Join(lines, "\n")
}

func stringField(values map[string]any, key string) string {
	value, ok := values[key]
	if !ok || value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}
