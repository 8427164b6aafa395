package notify

import (
	"context"
	"html"
	"net/mail"
	"strings"

	"github.com/wolfman30/propreach/pkg/logging"
)

const defaultFromName = "Lead Desk"

// EmailSender delivers operator notification email. Only plain text is
// supplied; providers derive the HTML part.
type EmailSender interface {
	Send(ctx context.Context, msg Email) error
}

// Email is an operator-facing notification.
type Email struct {
	To      string
	Subject string
	Text    string
	ReplyTo string
}

// identity is the From line shared by the provider senders.
type identity struct {
	name    string
	address string
}

func newIdentity(name, address string) identity {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultFromName
	}
	return identity{name: name, address: strings.TrimSpace(address)}
}

func (id identity) String() string {
	return (&mail.Address{Name: id.name, Address: id.address}).String()
}

// StubEmailSender logs instead of sending; used when no provider is configured.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg Email) error {
	s.logger.Info("email not sent: no provider", "to", maskEmail(msg.To), "subject", msg.Subject)
	return nil
}

func textToHTML(body string) string {
	return strings.ReplaceAll(html.EscapeString(body), "\n", "<br>")
}

// maskEmail keeps the domain and the first character of the local part.
func maskEmail(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}

var (
	_ EmailSender = (*StubEmailSender)(nil)
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*SESSender)(nil)
)
