package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"shopchat/pkg/config"
)

const (
	webhookPath = "/webhooks/rest/webhook"
	healthPath  = "/"
)

// BotMessage is one response object produced by the dialogue manager for a user message.
type BotMessage struct {
	RecipientID  string           `json:"recipient_id,omitempty"`
	Text         string           `json:"text,omitempty"`
	Image        string           `json:"image,omitempty"`
	Buttons      []map[string]any `json:"buttons,omitempty"`
	QuickReplies []map[string]any `json:"quick_replies,omitempty"`
	Elements     []map[string]any `json:"elements,omitempty"`
	Custom       map[string]any   `json:"custom,omitempty"`
	Attachment   any              `json:"attachment,omitempty"`
}

type webhookRequest struct {
	Sender   string         `json:"sender"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Client talks to the dialogue manager's REST input channel.
type Client struct {
	http *resty.Client
}

func New(cfg config.DialogueConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("dialogue.base_url is required")
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if cfg.RequestTimeoutSeconds > 0 {
		client.SetTimeout(time.Duration(cfg.RequestTimeoutSeconds) * time.Second)
	}

	return &Client{http: client}, nil
}

// Send forwards one user message and returns the bot's replies in order.
func (c *Client) Send(ctx context.Context, sender string, message string, metadata map[string]any) ([]BotMessage, error) {
	log := clientLogger().With("operation", "send", "sender_id", sender)
	startedAt := time.Now()
	log.Debug("dialogue request started", "message_length", len(message))

	var replies []BotMessage
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(webhookRequest{Sender: sender, Message: message, Metadata: metadata}).
		SetResult(&replies).
		Post(webhookPath)
	if err != nil {
		log.Debug("dialogue request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return nil, fmt.Errorf("send message: %w", err)
	}
	if resp.IsError() {
		log.Debug("dialogue request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "status", resp.StatusCode())
		return nil, fmt.Errorf("send message: dialogue manager returned %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}

	log.Debug("dialogue request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "replies", len(replies))
	return replies, nil
}

// Health reports whether the dialogue manager answers on its root endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get(healthPath)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("health check failed: dialogue manager returned %s", resp.Status())
	}
	return nil
}

func clientLogger() *slog.Logger {
	return slog.Default().With("component", "dialogue.client")
}
