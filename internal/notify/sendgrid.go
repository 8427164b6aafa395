package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/pkg/logging"
)

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridSender sends through the SendGrid v3 mail API.
type SendGridSender struct {
	client *sendgrid.Client
	from   identity
	logger *logging.Logger
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   newIdentity(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}
}

// Send delivers msg. 429 and 5xx responses wrap outreach.ErrTransient, other
// 4xx responses wrap outreach.ErrPermanent.
func (s *SendGridSender) Send(ctx context.Context, msg Email) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	message := mail.NewSingleEmail(
		mail.NewEmail(s.from.name, s.from.address),
		msg.Subject,
		mail.NewEmail("", msg.To),
		msg.Text,
		textToHTML(msg.Text),
	)
	if msg.ReplyTo != "" {
		message.SetReplyTo(mail.NewEmail("", msg.ReplyTo))
	}

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", maskEmail(msg.To))
		return fmt.Errorf("notify: sendgrid send: %w: %w", outreach.ErrTransient, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		s.logger.Warn("sendgrid unavailable", "status", resp.StatusCode, "to", maskEmail(msg.To))
		return fmt.Errorf("notify: sendgrid status %d: %w", resp.StatusCode, outreach.ErrTransient)
	case resp.StatusCode >= 400:
		s.logger.Error("sendgrid rejected email", "status", resp.StatusCode, "body", resp.Body, "to", maskEmail(msg.To))
		return fmt.Errorf("notify: sendgrid status %d: %w", resp.StatusCode, outreach.ErrPermanent)
	}

	s.logger.Info("email sent via sendgrid", "to", maskEmail(msg.To), "status", resp.StatusCode)
	return nil
}
