package crm

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/propreach/internal/outreach"
)

// MessageType maps an outreach channel to the conversation message type.
func MessageType(ch outreach.Channel) string {
	if ch == outreach.ChannelEmail {
		return "Email"
	}
	return "SMS"
}

// SendMessage posts an outbound SMS or email into the contact's conversation.
// It is never retried: a timeout may still have delivered the message.
func (c *Client) SendMessage(ctx context.Context, req MessageRequest) (*MessageResult, error) {
	if req.ContactID == "" {
		return nil, errors.New("crm: contactID required")
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, errors.New("crm: message body required")
	}
	msgType := req.Type
	if msgType == "" {
		msgType = "SMS"
	}
	ctx, span := tracer.Start(ctx, "crm.send_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("crm.contact_id", req.ContactID),
		attribute.String("crm.message_type", msgType),
	)

	body := map[string]any{
		"type":      msgType,
		"contactId": req.ContactID,
		"message":   req.Body,
	}
	if msgType == "Email" {
		body["subject"] = req.Subject
		body["html"] = strings.ReplaceAll(req.Body, "\n", "<br>")
		if req.EmailFrom != "" {
			body["emailFrom"] = req.EmailFrom
		}
	}
	var result MessageResult
	if err := c.invoke(ctx, call{
		method: "POST",
		path:   "/conversations/messages",
		body:   body,
	}, &result); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("crm.message_id", result.MessageID))
	return &result, nil
}
