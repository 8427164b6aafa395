package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/propreach/pkg/logging"
)

// HandoffNotice describes a lead that asked for a human.
type HandoffNotice struct {
	OwnerEmail  string
	CompanyName string
	ContactID   string
	ContactName string
	Phone       string
	Email       string
	Property    string
	LastMessage string
	Reason      string
	OccurredAt  time.Time
}

// HandoffNotifier emails the account owner when the AI hands a lead off.
type HandoffNotifier struct {
	email        EmailSender
	fallbackTo   string
	dashboardURL string
	logger       *logging.Logger
}

// NewHandoffNotifier creates a notifier. fallbackTo receives notices for
// accounts with no owner email on file.
func NewHandoffNotifier(email EmailSender, fallbackTo string, logger *logging.Logger) *HandoffNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &HandoffNotifier{email: email, fallbackTo: strings.TrimSpace(fallbackTo), logger: logger}
}

// WithDashboardURL links each notice to the contact in the CRM UI.
func (n *HandoffNotifier) WithDashboardURL(url string) *HandoffNotifier {
	n.dashboardURL = strings.TrimRight(url, "/")
	return n
}

// NotifyHandoff sends the notice. With no recipient it logs and returns nil.
func (n *HandoffNotifier) NotifyHandoff(ctx context.Context, notice HandoffNotice) error {
	if n == nil || n.email == nil {
		return errors.New("notify: no email sender configured")
	}
	to := strings.TrimSpace(notice.OwnerEmail)
	if to == "" {
		to = n.fallbackTo
	}
	if to == "" {
		n.logger.Warn("handoff notice dropped: no recipient", "contact_id", notice.ContactID)
		return nil
	}

	name := notice.ContactName
	if name == "" {
		name = "A lead"
	}
	subject := fmt.Sprintf("Lead needs a call back: %s", name)

	var b strings.Builder
	fmt.Fprintf(&b, "%s asked to talk with someone.\n\n", name)
	fmt.Fprintf(&b, "Phone: %s\n", valueOr(notice.Phone, "not on file"))
	if notice.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", notice.Email)
	}
	if notice.Property != "" {
		fmt.Fprintf(&b, "Property: %s\n", notice.Property)
	}
	if notice.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", notice.Reason)
	}
	if notice.LastMessage != "" {
		fmt.Fprintf(&b, "\nTheir last message:\n\"%s\"\n", truncate(notice.LastMessage, 500))
	}
	if n.dashboardURL != "" && notice.ContactID != "" {
		fmt.Fprintf(&b, "\nOpen contact: %s/contacts/detail/%s\n", n.dashboardURL, notice.ContactID)
	}
	if notice.CompanyName != "" {
		fmt.Fprintf(&b, "\n- %s lead desk\n", notice.CompanyName)
	}

	if err := n.email.Send(ctx, Email{To: to, Subject: subject, Text: b.String(), ReplyTo: notice.Email}); err != nil {
		return fmt.Errorf("notify: handoff email: %w", err)
	}
	return nil
}

func valueOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
