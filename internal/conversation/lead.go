package conversation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/propreach/internal/crm"
	"github.com/wolfman30/propreach/internal/outreach"
)

// Contact tags the engine reads or writes.
const (
	TagHandoff        = "ai-handoff"
	TagQualified      = "ai-qualified"
	TagDirectMailOnly = "direct-mail-only"
	TagOrganicSocial  = "organic-social"
)

// LeadContext is the per-exchange view of a contact handed to prompts and tools.
type LeadContext struct {
	UserID      string
	ContactID   string
	Name        string
	Phone       string
	Email       string
	LeadType    string
	Intent      Intent
	State       State
	Channel     outreach.Channel
	Address     *Address
	RawAddress  string
	Valuation   *Valuation
	CalendarID  string
	Timezone    string
	AgentName   string
	CompanyName string
	Booked      bool
}

// FirstName returns the first token of the name, or "there".
func (l *LeadContext) FirstName() string {
	if f := strings.Fields(l.Name); len(f) > 0 {
		return f[0]
	}
	return "there"
}

// HasKnownAddress reports whether any property address is on file.
func (l *LeadContext) HasKnownAddress() bool {
	return l.Address != nil || strings.TrimSpace(l.RawAddress) != ""
}

func buildLeadContext(c *crm.Contact, fields crm.FieldMap, ch outreach.Channel) *LeadContext {
	lead := &LeadContext{
		ContactID: c.ID,
		Name:      c.Name(),
		Phone:     c.Phone,
		Email:     c.Email,
		LeadType:  strings.TrimSpace(fields.Read(c, crm.FieldLeadType)),
		State:     ParseState(fields.Read(c, crm.FieldAIState)),
		Channel:   ch,
	}
	lead.Intent = IntentFromLeadType(lead.LeadType)
	lead.RawAddress = strings.TrimSpace(fields.Read(c, crm.FieldPropertyAddress))
	if lead.RawAddress == "" {
		lead.RawAddress = c.MailingAddress()
	}
	return lead
}

// Eligibility decides whether a contact may receive AI replies.
type Eligibility struct {
	leadTypes map[string]struct{}
}

// NewEligibility recognizes the given lead-type labels, case-insensitively.
func NewEligibility(leadTypes []string) *Eligibility {
	set := make(map[string]struct{}, len(leadTypes))
	for _, lt := range leadTypes {
		if lt = strings.ToLower(strings.TrimSpace(lt)); lt != "" {
			set[lt] = struct{}{}
		}
	}
	return &Eligibility{leadTypes: set}
}

var errNoPhone = errors.New("no phone on contact")

// Check returns nil when the contact is AI-enabled. Organic social leads are
// exempt from the lead-type check only.
func (e *Eligibility) Check(c *crm.Contact, leadType string) error {
	switch {
	case c == nil:
		return fmt.Errorf("conversation: nil contact: %w", outreach.ErrIneligibleContact)
	case c.DND:
		return fmt.Errorf("conversation: contact %s is do-not-disturb: %w", c.ID, outreach.ErrIneligibleContact)
	case len(c.Phones()) == 0:
		return fmt.Errorf("conversation: contact %s: %v: %w", c.ID, errNoPhone, outreach.ErrIneligibleContact)
	case c.HasTag(TagDirectMailOnly):
		return fmt.Errorf("conversation: contact %s is direct-mail only: %w", c.ID, outreach.ErrIneligibleContact)
	case c.HasTag(TagOrganicSocial):
		return nil
	}
	if _, ok := e.leadTypes[strings.ToLower(strings.TrimSpace(leadType))]; !ok {
		return fmt.Errorf("conversation: contact %s lead type %q not AI-enabled: %w", c.ID, leadType, outreach.ErrIneligibleContact)
	}
	return nil
}
