package outreach

import (
	"fmt"
	"strings"
	"time"
)

// Channel identifies the delivery medium of a queue item.
type Channel string

const (
	ChannelSMS   Channel = "SMS"
	ChannelEmail Channel = "EMAIL"
)

// Channels lists every supported outreach channel.
var Channels = []Channel{ChannelSMS, ChannelEmail}

// ParseChannel accepts case-insensitive channel names.
func ParseChannel(raw string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SMS":
		return ChannelSMS, nil
	case "EMAIL":
		return ChannelEmail, nil
	default:
		return "", fmt.Errorf("outreach: unknown channel %q", raw)
	}
}

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusReplied   Status = "REPLIED"
	StatusFailed    Status = "FAILED"
	StatusOptedOut  Status = "OPTED_OUT"
	StatusCompleted Status = "COMPLETED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusOptedOut || s == StatusCompleted
}

// QueueItem is one contact's outreach work item on one channel.
type QueueItem struct {
	ID              string     `dynamodbav:"id" json:"id"`
	UserID          string     `dynamodbav:"userId" json:"userId"`
	LocationID      string     `dynamodbav:"locationId,omitempty" json:"locationId,omitempty"`
	UserChannel     string     `dynamodbav:"userChannel" json:"-"`
	ContactID       string     `dynamodbav:"contactId" json:"contactId"`
	Channel         Channel    `dynamodbav:"channel" json:"channel"`
	LeadID          string     `dynamodbav:"leadId,omitempty" json:"leadId,omitempty"`
	PropertyAddress string     `dynamodbav:"propertyAddress,omitempty" json:"propertyAddress,omitempty"`
	AddressKey      string     `dynamodbav:"addressKey,omitempty" json:"-"`
	ContactName     string     `dynamodbav:"contactName,omitempty" json:"contactName,omitempty"`
	NameKey         string     `dynamodbav:"nameKey,omitempty" json:"-"`
	ContactPhone    string     `dynamodbav:"contactPhone,omitempty" json:"contactPhone,omitempty"`
	ContactEmail    string     `dynamodbav:"contactEmail,omitempty" json:"contactEmail,omitempty"`
	Status          Status     `dynamodbav:"status" json:"status"`
	TouchCount      int        `dynamodbav:"touchCount" json:"touchCount"`
	LastSentAt      *time.Time `dynamodbav:"lastSentAt,omitempty" json:"lastSentAt,omitempty"`
	LastSentAtMs    int64      `dynamodbav:"lastSentAtMs,omitempty" json:"-"`
	CreatedAt       time.Time  `dynamodbav:"createdAt" json:"createdAt"`
	CreatedAtMs     int64      `dynamodbav:"createdAtMs" json:"-"`
	UpdatedAt       time.Time  `dynamodbav:"updatedAt" json:"updatedAt"`
}

// DueBy reports whether the item was last touched before cutoff. Untouched
// items are always due; a zero cutoff admits everything.
func (it *QueueItem) DueBy(cutoff time.Time) bool {
	return cutoff.IsZero() || it.LastSentAtMs == 0 || it.LastSentAtMs < cutoff.UnixMilli()
}

// ItemID is the deterministic primary key for (contactID, channel).
func ItemID(contactID string, channel Channel) string {
	return contactID + "#" + string(channel)
}

// UserChannelKey is the partition key of the pending-batch index.
func UserChannelKey(userID string, channel Channel) string {
	return userID + "#" + string(channel)
}

// FirstName returns the first token of the contact name, or "there".
func (q *QueueItem) FirstName() string {
	fields := strings.Fields(q.ContactName)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

// Outcome is a call or conversation disposition reported for a contact.
type Outcome string

const (
	OutcomeNotInterested  Outcome = "not_interested"
	OutcomeWrongNumber    Outcome = "wrong_number"
	OutcomeDNC            Outcome = "dnc"
	OutcomeAlreadyListed  Outcome = "already_listed"
	OutcomeAlreadySold    Outcome = "already_sold"
	OutcomeNoAnswer       Outcome = "no_answer"
	OutcomeCallbackLater  Outcome = "callback_later"
	OutcomeAppointmentSet Outcome = "appointment_set"
	OutcomeMaxAttempts    Outcome = "max_attempts"
)

var outcomeLabels = map[Outcome]string{
	OutcomeNotInterested:  "Not Interested",
	OutcomeWrongNumber:    "Wrong Number",
	OutcomeDNC:            "Do Not Call",
	OutcomeAlreadyListed:  "Already Listed",
	OutcomeAlreadySold:    "Already Sold",
	OutcomeNoAnswer:       "No Answer",
	OutcomeCallbackLater:  "Callback Later",
	OutcomeAppointmentSet: "Appointment Set",
	OutcomeMaxAttempts:    "Max Attempts Reached",
}

// ParseOutcome normalizes labels like "Wrong Number" or "wrong-number".
func ParseOutcome(raw string) (Outcome, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	if norm == "do_not_call" {
		norm = string(OutcomeDNC)
	}
	o := Outcome(norm)
	if _, ok := outcomeLabels[o]; !ok {
		return "", fmt.Errorf("outreach: unknown outcome %q", raw)
	}
	return o, nil
}

// Label is the CRM-facing value written to the call-outcome field.
func (o Outcome) Label() string {
	if label, ok := outcomeLabels[o]; ok {
		return label
	}
	return string(o)
}

// Stops reports whether the outcome suppresses all further outreach to a lead.
func (o Outcome) Stops() bool {
	switch o {
	case OutcomeNotInterested, OutcomeWrongNumber, OutcomeDNC, OutcomeAlreadyListed, OutcomeAlreadySold:
		return true
	}
	return false
}

// Terminal reports whether the outcome closes the contact's cadence.
func (o Outcome) Terminal() bool {
	return o.Stops() || o == OutcomeAppointmentSet || o == OutcomeMaxAttempts
}

// DispositionEvent reports a terminal outcome recorded on a contact.
type DispositionEvent struct {
	UserID     string    `json:"userId"`
	ContactID  string    `json:"contactId"`
	Outcome    Outcome   `json:"outcome"`
	Source     string    `json:"source,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
