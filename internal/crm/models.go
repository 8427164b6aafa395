package crm

import (
	"fmt"
	"strings"
	"time"
)

// CustomFieldValue is a contact or opportunity custom field as the CRM returns it.
type CustomFieldValue struct {
	ID    string `json:"id"`
	Value any    `json:"value,omitempty"`
}

// String renders the value; numbers come back from JSON as float64.
func (f CustomFieldValue) String() string {
	switch v := f.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}

// Contact is the CRM-resident person record.
type Contact struct {
	ID           string             `json:"id"`
	LocationID   string             `json:"locationId"`
	FirstName    string             `json:"firstName"`
	LastName     string             `json:"lastName"`
	ContactName  string             `json:"contactName"`
	Phone        string             `json:"phone"`
	Email        string             `json:"email"`
	Tags         []string           `json:"tags"`
	CustomFields []CustomFieldValue `json:"customFields"`
	DND          bool               `json:"dnd"`
	Address1     string             `json:"address1"`
	City         string             `json:"city"`
	State        string             `json:"state"`
	PostalCode   string             `json:"postalCode"`
	Source       string             `json:"source"`
}

// Name returns the best available display name.
func (c *Contact) Name() string {
	full := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if full != "" {
		return full
	}
	return strings.TrimSpace(c.ContactName)
}

// Phones lists the contact's phone numbers.
func (c *Contact) Phones() []string {
	if strings.TrimSpace(c.Phone) == "" {
		return nil
	}
	return []string{c.Phone}
}

// Emails lists the contact's email addresses.
func (c *Contact) Emails() []string {
	if strings.TrimSpace(c.Email) == "" {
		return nil
	}
	return []string{c.Email}
}

// HasTag reports whether the contact carries tag, case-insensitively.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if strings.EqualFold(strings.TrimSpace(t), tag) {
			return true
		}
	}
	return false
}

// FieldValue returns the raw value of the custom field with the given vendor id.
func (c *Contact) FieldValue(id string) string {
	for _, f := range c.CustomFields {
		if f.ID == id {
			return f.String()
		}
	}
	return ""
}

// MailingAddress joins the contact's street address parts.
func (c *Contact) MailingAddress() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{c.Address1, c.City, strings.TrimSpace(c.State + " " + c.PostalCode)} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// MessageRequest is an outbound conversation message.
type MessageRequest struct {
	ContactID string
	Type      string // "SMS" or "Email"
	Body      string
	Subject   string
	EmailFrom string
}

// MessageResult identifies the created message.
type MessageResult struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// SearchRequest filters a contact search.
type SearchRequest struct {
	Query     string
	Tag       string
	PageLimit int
}

// Opportunity is a pipeline deal attached to a contact.
type Opportunity struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Status          string             `json:"status"`
	PipelineID      string             `json:"pipelineId"`
	PipelineStageID string             `json:"pipelineStageId"`
	ContactID       string             `json:"contactId"`
	CustomFields    []CustomFieldValue `json:"customFields"`
}

// OpportunityUpdate is a partial opportunity update. Empty fields are left untouched.
type OpportunityUpdate struct {
	Status       string
	StageID      string
	CustomFields map[string]string
}

// AppointmentRequest books a calendar slot for a contact.
type AppointmentRequest struct {
	CalendarID string
	ContactID  string
	StartTime  time.Time
	EndTime    time.Time
	Title      string
}

// Appointment is a booked calendar event.
type Appointment struct {
	ID         string `json:"id"`
	CalendarID string `json:"calendarId"`
	ContactID  string `json:"contactId"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
	Status     string `json:"appointmentStatus"`
}
