package dialogue

import (
	"context"
	"fmt"

	"shopchat/pkg/bus"
)

// Deliver pushes replies onto out in the order the dialogue framework's output channels use:
// buttons (or quick replies, or plain text), then custom, image, attachment and elements.
func Deliver(ctx context.Context, out bus.OutputChannel, recipientID string, replies []BotMessage) error {
	for _, reply := range replies {
		if err := deliverOne(ctx, out, recipientID, reply); err != nil {
			return fmt.Errorf("deliver to %s: %w", out.Name(), err)
		}
	}
	return nil
}

func deliverOne(ctx context.Context, out bus.OutputChannel, recipientID string, reply BotMessage) error {
	switch {
	case len(reply.Buttons) > 0:
		if err := out.SendButtons(ctx, recipientID, reply.Text, reply.Buttons); err != nil {
			return err
		}
	case len(reply.QuickReplies) > 0:
		if err := out.SendButtons(ctx, recipientID, reply.Text, reply.QuickReplies); err != nil {
			return err
		}
	case reply.Text != "":
		if err := out.SendText(ctx, recipientID, reply.Text); err != nil {
			return err
		}
	}

	if len(reply.Custom) > 0 {
		if err := out.SendCustomJSON(ctx, recipientID, reply.Custom); err != nil {
			return err
		}
	}
	if reply.Image != "" {
		if err := out.SendImage(ctx, recipientID, reply.Image); err != nil {
			return err
		}
	}
	if reply.Attachment != nil {
		if err := out.SendAttachment(ctx, recipientID, reply.Attachment); err != nil {
			return err
		}
	}
	if len(reply.Elements) > 0 {
		if err := out.SendElements(ctx, recipientID, reply.Elements); err != nil {
			return err
		}
	}
	return nil
}
