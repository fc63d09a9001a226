package bus

import "context"

// InboundMessage is one normalized user message handed to the dialogue manager.
type InboundMessage struct {
	Text     string         `json:"text"`
	Output   OutputChannel  `json:"-"`
	SenderID string         `json:"sender_id"`
	Channel  string         `json:"channel"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// OutputChannel emits the dialogue manager's response primitives back to the
// conversation the inbound message came from.
type OutputChannel interface {
	Name() string
	SendText(ctx context.Context, recipientID string, text string) error
	SendImage(ctx context.Context, recipientID string, url string) error
	SendButtons(ctx context.Context, recipientID string, text string, buttons []map[string]any) error
	SendElements(ctx context.Context, recipientID string, elements []map[string]any) error
	SendCustomJSON(ctx context.Context, recipientID string, payload map[string]any) error
	SendAttachment(ctx context.Context, recipientID string, attachment any) error
}
