package cadence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/propreach/internal/crm"
	"github.com/wolfman30/propreach/internal/outreach"
)

type fakeCRM struct {
	contact    *crm.Contact
	fieldCalls []map[string]string
	opps       []crm.Opportunity
	oppUpdates map[string]crm.OpportunityUpdate
	updateErr  error
	fields     crm.FieldMap
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		oppUpdates: map[string]crm.OpportunityUpdate{},
		fields: crm.NewFieldMap(map[string]string{
			crm.FieldSMSTouchCount: "f_sms",
			crm.FieldLastSMSAt:     "f_sms_at",
			crm.FieldDialAttempts:  "f_dial",
			crm.FieldLastDialAt:    "f_dial_at",
			crm.FieldCallOutcome:   "f_outcome",
		}),
	}
}

func (f *fakeCRM) GetContact(ctx context.Context, id string) (*crm.Contact, error) {
	if f.contact == nil {
		return nil, errors.New("not found")
	}
	return f.contact, nil
}

func (f *fakeCRM) UpdateCustomFields(ctx context.Context, id string, values map[string]string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.fieldCalls = append(f.fieldCalls, values)
	return nil
}

func (f *fakeCRM) GetOpportunitiesForContact(ctx context.Context, id string) ([]crm.Opportunity, error) {
	return f.opps, nil
}

func (f *fakeCRM) UpdateOpportunity(ctx context.Context, id string, upd crm.OpportunityUpdate) error {
	f.oppUpdates[id] = upd
	for i := range f.opps {
		if f.opps[i].ID == id {
			f.opps[i].CustomFields = append(f.opps[i].CustomFields, crm.CustomFieldValue{ID: "f_outcome", Value: upd.CustomFields[crm.FieldCallOutcome]})
		}
	}
	return nil
}

func (f *fakeCRM) Fields() crm.FieldMap { return f.fields }

func pending(count int, last *time.Time) *outreach.QueueItem {
	return &outreach.QueueItem{ContactID: "c-1", Status: outreach.StatusPending, TouchCount: count, LastSentAt: last}
}

func TestEligibilityCeiling(t *testing.T) {
	tr := NewTracker(SMSPolicy(0), newFakeCRM(), nil, nil)
	now := time.Now()

	assert.True(t, tr.IsEligibleForNextTouch(pending(0, nil), now))
	assert.True(t, tr.IsEligibleForNextTouch(pending(6, nil), now))
	assert.False(t, tr.IsEligibleForNextTouch(pending(7, nil), now))

	opted := pending(1, nil)
	opted.Status = outreach.StatusOptedOut
	assert.False(t, tr.IsEligibleForNextTouch(opted, now))
}

func TestSpacingPolicySwitch(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	// Friday afternoon -> Monday morning is one business day.
	last := time.Date(2024, 3, 8, 15, 0, 0, 0, loc)
	monday := time.Date(2024, 3, 11, 10, 0, 0, 0, loc)
	tuesday := time.Date(2024, 3, 12, 10, 0, 0, 0, loc)

	off := NewTracker(SMSPolicy(7), newFakeCRM(), loc, nil)
	assert.True(t, off.IsEligibleForNextTouch(pending(1, &last), monday))

	on := NewTracker(SMSPolicy(7).WithSpacing(true, 2), newFakeCRM(), loc, nil)
	assert.False(t, on.IsEligibleForNextTouch(pending(1, &last), monday))
	assert.True(t, on.IsEligibleForNextTouch(pending(1, &last), tuesday))
}

func TestBusinessDaysBetween(t *testing.T) {
	utc := time.UTC
	fri := time.Date(2024, 3, 8, 12, 0, 0, 0, utc)
	assert.Equal(t, 0, BusinessDaysBetween(fri, fri.Add(2*time.Hour), utc))
	assert.Equal(t, 0, BusinessDaysBetween(fri, fri.AddDate(0, 0, 2), utc))
	assert.Equal(t, 1, BusinessDaysBetween(fri, fri.AddDate(0, 0, 3), utc))
	assert.Equal(t, 5, BusinessDaysBetween(fri, fri.AddDate(0, 0, 7), utc))
	assert.Equal(t, 0, BusinessDaysBetween(fri, fri.AddDate(0, 0, -1), utc))
}

func TestRecordTouchWritesFields(t *testing.T) {
	f := newFakeCRM()
	tr := NewTracker(SMSPolicy(7), f, nil, nil)
	now := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)

	n, err := tr.RecordTouch(context.Background(), pending(2, nil), now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, f.fieldCalls, 1)
	assert.Equal(t, "3", f.fieldCalls[0][crm.FieldSMSTouchCount])
	assert.Equal(t, "2024-03-05T14:00:00Z", f.fieldCalls[0][crm.FieldLastSMSAt])
}

func TestRecordTouchRefusesPastCeiling(t *testing.T) {
	f := newFakeCRM()
	tr := NewTracker(SMSPolicy(7), f, nil, nil)

	n, err := tr.RecordTouch(context.Background(), pending(7, nil), time.Now())
	assert.ErrorIs(t, err, outreach.ErrIneligibleContact)
	assert.Equal(t, 7, n)
	assert.Empty(t, f.fieldCalls)
}

func TestRecordContactTouchReadsCRMCount(t *testing.T) {
	f := newFakeCRM()
	f.contact = &crm.Contact{ID: "c-1", CustomFields: []crm.CustomFieldValue{{ID: "f_dial", Value: float64(7)}}}
	tr := NewTracker(DialTrackingPolicy(0), f, nil, nil)

	n, err := tr.RecordContactTouch(context.Background(), "c-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.True(t, tr.ReachedCeiling(n))

	f.contact.CustomFields[0].Value = float64(8)
	_, err = tr.RecordContactTouch(context.Background(), "c-1", time.Now())
	assert.ErrorIs(t, err, outreach.ErrIneligibleContact)
}

func TestOnMaxTouchesReachedOncePerCrossing(t *testing.T) {
	f := newFakeCRM()
	f.opps = []crm.Opportunity{{ID: "o-1"}, {ID: "o-2"}}
	tr := NewTracker(SMSPolicy(7), f, nil, nil)

	n, err := tr.OnMaxTouchesReached(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "Max Attempts Reached", f.oppUpdates["o-1"].CustomFields[crm.FieldCallOutcome])

	n, err = tr.OnMaxTouchesReached(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCeilingSimulation(t *testing.T) {
	f := newFakeCRM()
	f.opps = []crm.Opportunity{{ID: "o-1"}}
	tr := NewTracker(SMSPolicy(7), f, nil, nil)
	item := pending(0, nil)
	terminalWrites := 0

	for pass := 0; pass < 20; pass++ {
		if !tr.IsEligibleForNextTouch(item, time.Now()) {
			continue
		}
		n, err := tr.RecordTouch(context.Background(), item, time.Now())
		require.NoError(t, err)
		item.TouchCount = n
		if tr.ReachedCeiling(n) {
			updated, err := tr.OnMaxTouchesReached(context.Background(), item.ContactID)
			require.NoError(t, err)
			terminalWrites += updated
			item.Status = outreach.StatusCompleted
		}
	}
	assert.Equal(t, 7, item.TouchCount)
	assert.Equal(t, 1, terminalWrites)
}
