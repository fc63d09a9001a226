package socketio

import (
	"context"
	"log/slog"
	"maps"

	"shopchat/pkg/session"
	"shopchat/pkg/sio"
)

const customRoomKey = "room"

type imagePayload struct {
	Src string `json:"src"`
}

type attachment struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type templatePayload struct {
	TemplateType string           `json:"template_type"`
	Elements     []map[string]any `json:"elements"`
}

type quickReply struct {
	ContentType string `json:"content_type"`
	Title       any    `json:"title"`
	Payload     any    `json:"payload"`
}

type textMessage struct {
	Text string `json:"text"`
}

type buttonsMessage struct {
	Text         string       `json:"text"`
	QuickReplies []quickReply `json:"quick_replies"`
}

type attachmentMessage struct {
	Attachment any `json:"attachment"`
}

// Output emits response primitives to the socket a message arrived on. With session
// persistence it follows the session to its current socket after a reconnect.
type Output struct {
	server    *sio.Server
	namespace string
	socketID  string
	event     string

	sessionID string
	registry  session.Registry
	log       *slog.Logger
}

// NewOutput binds an output handle to one socket of server. sessionID and registry may be
// empty, in which case emissions only ever target socketID.
func NewOutput(server *sio.Server, namespace string, socketID string, event string, sessionID string, registry session.Registry, log *slog.Logger) *Output {
	if log == nil {
		log = slog.Default()
	}
	return &Output{
		server:    server,
		namespace: namespace,
		socketID:  socketID,
		event:     event,
		sessionID: sessionID,
		registry:  registry,
		log:       log,
	}
}

func (o *Output) Name() string {
	return channelName
}

func (o *Output) SendText(ctx context.Context, _ string, text string) error {
	return o.send(ctx, textMessage{Text: text})
}

func (o *Output) SendImage(ctx context.Context, _ string, url string) error {
	return o.send(ctx, attachmentMessage{Attachment: attachment{Type: "image", Payload: imagePayload{Src: url}}})
}

// SendButtons renders buttons as quick replies. Missing title or payload keys are sent as null.
func (o *Output) SendButtons(ctx context.Context, _ string, text string, buttons []map[string]any) error {
	return o.send(ctx, buttonsMessage{Text: text, QuickReplies: quickReplies(buttons)})
}

// SendElements emits one generic template per element.
func (o *Output) SendElements(ctx context.Context, _ string, elements []map[string]any) error {
	for _, element := range elements {
		message := attachmentMessage{Attachment: attachment{
			Type:    "template",
			Payload: templatePayload{TemplateType: "generic", Elements: []map[string]any{element}},
		}}
		if err := o.send(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

// SendCustomJSON emits payload as is. A room key supplied by the caller selects the target
// room; otherwise it is set to the bound socket.
func (o *Output) SendCustomJSON(ctx context.Context, _ string, payload map[string]any) error {
	message := make(map[string]any, len(payload)+1)
	maps.Copy(message, payload)

	if room, ok := message[customRoomKey].(string); ok && room != "" {
		return o.server.Emit(ctx, o.namespace, room, o.event, message)
	}

	target, ok := o.target(ctx)
	if !ok {
		o.logDrop("custom")
		return nil
	}
	if _, present := message[customRoomKey]; !present {
		message[customRoomKey] = target
	}
	return o.server.Emit(ctx, o.namespace, target, o.event, message)
}

func (o *Output) SendAttachment(ctx context.Context, _ string, value any) error {
	return o.send(ctx, attachmentMessage{Attachment: value})
}

func (o *Output) send(ctx context.Context, message any) error {
	target, ok := o.target(ctx)
	if !ok {
		o.logDrop("message")
		return nil
	}
	return o.server.Emit(ctx, o.namespace, target, o.event, message)
}

// target resolves the live socket for this conversation.
func (o *Output) target(ctx context.Context) (string, bool) {
	if o.server.Connected(o.namespace, o.socketID) {
		return o.socketID, true
	}
	if o.sessionID == "" || o.registry == nil {
		return "", false
	}

	socketID, ok, err := o.registry.Lookup(ctx, o.sessionID)
	if err != nil {
		o.log.Warn("Session lookup failed", "session_id", o.sessionID, "error", err)
		return "", false
	}
	if !ok || !o.server.Connected(o.namespace, socketID) {
		return "", false
	}
	return socketID, true
}

func (o *Output) logDrop(kind string) {
	o.log.Debug("Dropping emission without live socket", "kind", kind, "sid", o.socketID, "session_id", o.sessionID)
}

func quickReplies(buttons []map[string]any) []quickReply {
	replies := make([]quickReply, 0, len(buttons))
	for _, button := range buttons {
		replies = append(replies, quickReply{
			ContentType: "text",
			Title:       button["title"],
			Payload:     button["payload"],
		})
	}
	return replies
}
