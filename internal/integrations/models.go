package integrations

import (
	"errors"
	"time"

	"github.com/wolfman30/propreach/internal/ratelimit"
)

// ErrNotFound indicates no integration exists for the lookup key.
var ErrNotFound = errors.New("integrations: integration not found")

// Integration is an account's CRM connection: OAuth tokens, sub-account
// location and the rate-limit windows metered against it.
type Integration struct {
	UserID       string                      `dynamodbav:"userId" json:"userId"`
	LocationID   string                      `dynamodbav:"locationId" json:"locationId"`
	CompanyName  string                      `dynamodbav:"companyName,omitempty" json:"companyName,omitempty"`
	AgentName    string                      `dynamodbav:"agentName,omitempty" json:"agentName,omitempty"`
	OwnerEmail   string                      `dynamodbav:"ownerEmail,omitempty" json:"ownerEmail,omitempty"`
	CalendarID   string                      `dynamodbav:"calendarId,omitempty" json:"calendarId,omitempty"`
	AccessToken  string                      `dynamodbav:"accessToken" json:"-"`
	RefreshToken string                      `dynamodbav:"refreshToken" json:"-"`
	ExpiresAt    time.Time                   `dynamodbav:"expiresAt" json:"expiresAt"`
	IsActive     bool                        `dynamodbav:"isActive" json:"isActive"`
	Counters     map[string]ratelimit.Window `dynamodbav:"counters" json:"counters"`
	CreatedAt    time.Time                   `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time                   `dynamodbav:"updatedAt" json:"updatedAt"`
}

// Token is a usable CRM bearer token plus the location it is scoped to.
type Token struct {
	AccessToken string
	LocationID  string
	ExpiresAt   time.Time
}
