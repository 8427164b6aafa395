// Package cadence enforces the touch ceiling and spacing for each outreach
// cadence and writes the resulting counters back to the CRM.
package cadence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/propreach/internal/crm"
	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/pkg/logging"
)

// crmAPI is the slice of the CRM gateway the tracker writes through.
type crmAPI interface {
	GetContact(ctx context.Context, contactID string) (*crm.Contact, error)
	UpdateCustomFields(ctx context.Context, contactID string, values map[string]string) error
	GetOpportunitiesForContact(ctx context.Context, contactID string) ([]crm.Opportunity, error)
	UpdateOpportunity(ctx context.Context, opportunityID string, upd crm.OpportunityUpdate) error
	Fields() crm.FieldMap
}

// Tracker applies one Policy.
type Tracker struct {
	policy Policy
	crm    crmAPI
	loc    *time.Location
	logger *logging.Logger
}

// NewTracker builds a tracker. loc is the business-day timezone.
func NewTracker(policy Policy, client crmAPI, loc *time.Location, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{policy: policy, crm: client, loc: loc, logger: logger}
}

// Policy returns the tracker's policy.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// IsEligibleForNextTouch reports whether item may receive another touch at now.
func (t *Tracker) IsEligibleForNextTouch(item *outreach.QueueItem, now time.Time) bool {
	if item == nil || item.Status != outreach.StatusPending {
		return false
	}
	return t.eligible(item.TouchCount, item.LastSentAt, now)
}

func (t *Tracker) eligible(count int, last *time.Time, now time.Time) bool {
	if count >= t.policy.MaxTouches {
		return false
	}
	if !t.policy.SpacingEnabled || last == nil || last.IsZero() {
		return true
	}
	return BusinessDaysBetween(*last, now, t.loc) >= t.policy.MinBusinessDays
}

// RecordTouch stamps the next touch for item on the CRM contact and returns
// the new count. It refuses to go past the ceiling.
func (t *Tracker) RecordTouch(ctx context.Context, item *outreach.QueueItem, now time.Time) (int, error) {
	if item == nil {
		return 0, errors.New("cadence: nil queue item")
	}
	return t.write(ctx, item.ContactID, item.TouchCount, now)
}

// RecordContactTouch increments the counter held on the CRM contact itself.
// Used by cadences with no queue item, such as dial tracking.
func (t *Tracker) RecordContactTouch(ctx context.Context, contactID string, now time.Time) (int, error) {
	contact, err := t.crm.GetContact(ctx, contactID)
	if err != nil {
		return 0, fmt.Errorf("cadence: load contact: %w", err)
	}
	current := 0
	if raw := strings.TrimSpace(t.crm.Fields().Read(contact, t.policy.CountField)); raw != "" {
		current, err = strconv.Atoi(raw)
		if err != nil {
			t.logger.Warn("cadence: unreadable touch count, treating as zero",
				"contact_id", contactID, "field", t.policy.CountField, "value", raw)
			current = 0
		}
	}
	return t.write(ctx, contactID, current, now)
}

func (t *Tracker) write(ctx context.Context, contactID string, current int, now time.Time) (int, error) {
	if current >= t.policy.MaxTouches {
		return current, fmt.Errorf("cadence: %s touches exhausted for %s: %w", t.policy.Name, contactID, outreach.ErrIneligibleContact)
	}
	next := current + 1
	err := t.crm.UpdateCustomFields(ctx, contactID, map[string]string{
		t.policy.CountField:     strconv.Itoa(next),
		t.policy.LastTouchField: now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return current, fmt.Errorf("cadence: record %s touch: %w", t.policy.Name, err)
	}
	return next, nil
}

// ReachedCeiling reports whether count is the final permitted touch.
func (t *Tracker) ReachedCeiling(count int) bool {
	return count >= t.policy.MaxTouches
}

// OnMaxTouchesReached writes the terminal label to every opportunity of the
// contact. Opportunities already carrying the label are left alone, so a
// repeated call performs no writes. It returns the number updated.
func (t *Tracker) OnMaxTouchesReached(ctx context.Context, contactID string) (int, error) {
	opps, err := t.crm.GetOpportunitiesForContact(ctx, contactID)
	if err != nil {
		return 0, fmt.Errorf("cadence: list opportunities: %w", err)
	}
	label := outreach.OutcomeMaxAttempts.Label()
	fieldID, _ := t.crm.Fields().ID(crm.FieldCallOutcome)

	updated := 0
	var errs []error
	for _, opp := range opps {
		if alreadyLabeled(opp, fieldID, label) {
			continue
		}
		upd := crm.OpportunityUpdate{CustomFields: map[string]string{crm.FieldCallOutcome: label}}
		if err := t.crm.UpdateOpportunity(ctx, opp.ID, upd); err != nil {
			t.logger.Error("cadence: failed to mark opportunity", "contact_id", contactID, "opportunity_id", opp.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		updated++
	}
	t.logger.Info("cadence: max touches reached", "contact_id", contactID, "cadence", t.policy.Name, "opportunities_updated", updated)
	return updated, errors.Join(errs...)
}

func alreadyLabeled(opp crm.Opportunity, fieldID, label string) bool {
	if fieldID == "" {
		return false
	}
	for _, f := range opp.CustomFields {
		if f.ID == fieldID && f.String() == label {
			return true
		}
	}
	return false
}
