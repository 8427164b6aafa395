package disposition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/propreach/internal/cadence"
	"github.com/wolfman30/propreach/internal/compliance"
	"github.com/wolfman30/propreach/internal/crm"
	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/internal/ratelimit"
	"github.com/wolfman30/propreach/internal/tenancy"
)

type fakeFinder struct {
	items   []outreach.QueueItem
	leadErr error
	calls   []string
}

func (f *fakeFinder) filter(keep func(outreach.QueueItem) bool) []outreach.QueueItem {
	var out []outreach.QueueItem
	for _, it := range f.items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func (f *fakeFinder) ByContact(_ context.Context, contactID string) ([]outreach.QueueItem, error) {
	return f.filter(func(it outreach.QueueItem) bool { return it.ContactID == contactID }), nil
}

func (f *fakeFinder) ByLead(_ context.Context, userID, leadID string) ([]outreach.QueueItem, error) {
	f.calls = append(f.calls, "lead")
	if f.leadErr != nil {
		return nil, f.leadErr
	}
	return f.filter(func(it outreach.QueueItem) bool { return it.UserID == userID && it.LeadID == leadID }), nil
}

func (f *fakeFinder) ByAddress(_ context.Context, userID, key string) ([]outreach.QueueItem, error) {
	f.calls = append(f.calls, "address")
	return f.filter(func(it outreach.QueueItem) bool { return it.UserID == userID && it.AddressKey == key }), nil
}

func (f *fakeFinder) ByNamePrefix(_ context.Context, userID, prefix string) ([]outreach.QueueItem, error) {
	f.calls = append(f.calls, "name")
	return f.filter(func(it outreach.QueueItem) bool { return it.UserID == userID && it.NameKey == prefix }), nil
}

type fakeStatus struct {
	mu     sync.Mutex
	status map[string]outreach.Status
}

func (f *fakeStatus) MarkStatus(_ context.Context, itemID string, status outreach.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		f.status = map[string]outreach.Status{}
	}
	f.status[itemID] = status
	return nil
}

type fakeCRM struct {
	writes  map[string]map[string]string
	fail    map[string]error
	contact *crm.Contact
	opps    []crm.Opportunity
	oppUpd  map[string]crm.OpportunityUpdate
	fields  crm.FieldMap
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		writes: map[string]map[string]string{},
		fail:   map[string]error{},
		oppUpd: map[string]crm.OpportunityUpdate{},
		fields: crm.NewFieldMap(map[string]string{
			crm.FieldDialAttempts: "f_dial",
			crm.FieldLastDialAt:   "f_dial_at",
			crm.FieldCallOutcome:  "f_outcome",
		}),
	}
}

func (f *fakeCRM) UpdateCustomFields(_ context.Context, contactID string, values map[string]string) error {
	if err := f.fail[contactID]; err != nil {
		return err
	}
	f.writes[contactID] = values
	return nil
}

func (f *fakeCRM) GetContact(_ context.Context, id string) (*crm.Contact, error) {
	if f.contact == nil {
		return &crm.Contact{ID: id}, nil
	}
	return f.contact, nil
}

func (f *fakeCRM) GetOpportunitiesForContact(context.Context, string) ([]crm.Opportunity, error) {
	return f.opps, nil
}

func (f *fakeCRM) UpdateOpportunity(_ context.Context, id string, upd crm.OpportunityUpdate) error {
	f.oppUpd[id] = upd
	return nil
}

func (f *fakeCRM) Fields() crm.FieldMap { return f.fields }

type fakeLedger struct {
	recs []compliance.DispositionRecord
}

func (l *fakeLedger) RecordDisposition(_ context.Context, rec compliance.DispositionRecord) error {
	l.recs = append(l.recs, rec)
	return nil
}

func item(id, contact, lead, addr string) outreach.QueueItem {
	return outreach.QueueItem{
		ID:         id,
		UserID:     "u-1",
		ContactID:  contact,
		LeadID:     lead,
		AddressKey: addr,
		Channel:    outreach.ChannelSMS,
		Status:     outreach.StatusPending,
	}
}

func acctCtx() context.Context {
	return tenancy.WithUserID(context.Background(), "u-1")
}

func newBroadcaster(f *fakeFinder, st *fakeStatus, c *fakeCRM, limits ratelimit.Limits) *Broadcaster {
	lim := ratelimit.New(ratelimit.NewMemoryStore(), map[ratelimit.Kind]ratelimit.Limits{ratelimit.KindCRMWrite: limits}, nil)
	return NewBroadcaster(f, st, c, lim, 0, nil)
}

func TestBroadcastByLead(t *testing.T) {
	f := &fakeFinder{items: []outreach.QueueItem{
		item("a-sms", "a", "L1", "k"),
		item("b-sms", "b", "L1", "k"),
		item("b-email", "b", "L1", "k"),
		item("c-sms", "c", "L1", ""),
		item("x-sms", "x", "L2", "k"),
	}}
	st := &fakeStatus{}
	c := newFakeCRM()
	ledger := &fakeLedger{}
	b := newBroadcaster(f, st, c, ratelimit.Limits{}).WithLedger(ledger)

	res, err := b.OnTerminalOutcome(acctCtx(), "a", outreach.OutcomeWrongNumber)
	require.NoError(t, err)

	assert.Equal(t, "lead", res.Resolver)
	assert.Equal(t, 2, res.Siblings)
	assert.Equal(t, 2, res.UpdatedContacts)
	assert.Zero(t, res.Failed)
	assert.Equal(t, "Wrong Number", c.writes["b"][crm.FieldCallOutcome])
	assert.Equal(t, "Wrong Number", c.writes["c"][crm.FieldCallOutcome])
	assert.NotContains(t, c.writes, "a")
	assert.NotContains(t, c.writes, "x")

	for _, id := range []string{"a-sms", "b-sms", "b-email", "c-sms"} {
		assert.Equal(t, outreach.StatusOptedOut, st.status[id], id)
	}
	assert.NotContains(t, st.status, "x-sms")
	assert.Len(t, ledger.recs, 3)
	assert.Equal(t, []string{"lead"}, f.calls)
}

func TestBroadcastFallsBackToAddressThenName(t *testing.T) {
	f := &fakeFinder{items: []outreach.QueueItem{
		item("a-sms", "a", "", "12 oak st"),
		item("b-sms", "b", "", "12 oak st"),
	}}
	c := newFakeCRM()
	res, err := newBroadcaster(f, &fakeStatus{}, c, ratelimit.Limits{}).OnTerminalOutcome(acctCtx(), "a", outreach.OutcomeAlreadySold)
	require.NoError(t, err)
	assert.Equal(t, "address", res.Resolver)
	assert.Equal(t, 1, res.UpdatedContacts)

	named := item("n1", "n", "", "")
	named.NameKey = "smith"
	other := item("m1", "m", "", "")
	other.NameKey = "smith"
	f = &fakeFinder{items: []outreach.QueueItem{named, other}}
	res, err = newBroadcaster(f, &fakeStatus{}, newFakeCRM(), ratelimit.Limits{}).OnTerminalOutcome(acctCtx(), "n", outreach.OutcomeDNC)
	require.NoError(t, err)
	assert.Equal(t, "name", res.Resolver)
	assert.Equal(t, 1, res.UpdatedContacts)
}

func TestBroadcastSingletonWhenNoKeys(t *testing.T) {
	f := &fakeFinder{items: []outreach.QueueItem{item("a-sms", "a", "", "")}}
	st := &fakeStatus{}
	c := newFakeCRM()
	res, err := newBroadcaster(f, st, c, ratelimit.Limits{}).OnTerminalOutcome(acctCtx(), "a", outreach.OutcomeNotInterested)
	require.NoError(t, err)
	assert.Equal(t, "singleton", res.Resolver)
	assert.Zero(t, res.Siblings)
	assert.Empty(t, c.writes)
	assert.Equal(t, outreach.StatusOptedOut, st.status["a-sms"])
}

func TestBroadcastContinuesPastSiblingFailure(t *testing.T) {
	f := &fakeFinder{items: []outreach.QueueItem{
		item("a", "a", "L1", ""),
		item("b", "b", "L1", ""),
		item("c", "c", "L1", ""),
		item("d", "d", "L1", ""),
	}}
	c := newFakeCRM()
	c.fail["c"] = errors.New("boom")
	res, err := newBroadcaster(f, &fakeStatus{}, c, ratelimit.Limits{}).OnTerminalOutcome(acctCtx(), "a", outreach.OutcomeDNC)
	require.NoError(t, err)
	assert.Equal(t, 2, res.UpdatedContacts)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, c.writes, "d")
}

func TestBroadcastStopsCRMWritesWhenQuotaExhausted(t *testing.T) {
	f := &fakeFinder{items: []outreach.QueueItem{
		item("a", "a", "L1", ""),
		item("b", "b", "L1", ""),
		item("c", "c", "L1", ""),
		item("d", "d", "L1", ""),
	}}
	st := &fakeStatus{}
	c := newFakeCRM()
	res, err := newBroadcaster(f, st, c, ratelimit.Limits{Hourly: 1}).OnTerminalOutcome(acctCtx(), "a", outreach.OutcomeWrongNumber)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedContacts)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, c.writes, 1)
	// Queue opt-outs do not spend CRM quota.
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, outreach.StatusOptedOut, st.status[id], id)
	}
}

func TestAppointmentSetDoesNotOptOut(t *testing.T) {
	f := &fakeFinder{items: []outreach.QueueItem{item("a", "a", "L1", ""), item("b", "b", "L1", "")}}
	st := &fakeStatus{}
	c := newFakeCRM()
	res, err := newBroadcaster(f, st, c, ratelimit.Limits{}).OnTerminalOutcome(acctCtx(), "a", outreach.OutcomeAppointmentSet)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedContacts)
	assert.Equal(t, "Appointment Set", c.writes["b"][crm.FieldCallOutcome])
	assert.Empty(t, st.status)
}

func TestMaxAttemptsIsNotBroadcast(t *testing.T) {
	f := &fakeFinder{items: []outreach.QueueItem{item("a", "a", "L1", ""), item("b", "b", "L1", "")}}
	c := newFakeCRM()
	res, err := newBroadcaster(f, &fakeStatus{}, c, ratelimit.Limits{}).OnTerminalOutcome(acctCtx(), "a", outreach.OutcomeMaxAttempts)
	require.NoError(t, err)
	assert.Zero(t, res.UpdatedContacts)
	assert.Empty(t, c.writes)
	assert.Empty(t, f.calls)
}

func TestBroadcastIsIdempotent(t *testing.T) {
	f := &fakeFinder{items: []outreach.QueueItem{item("a", "a", "L1", ""), item("b", "b", "L1", "")}}
	st := &fakeStatus{}
	c := newFakeCRM()
	b := newBroadcaster(f, st, c, ratelimit.Limits{})
	for i := 0; i < 2; i++ {
		res, err := b.OnTerminalOutcome(acctCtx(), "a", outreach.OutcomeDNC)
		require.NoError(t, err)
		assert.Equal(t, 1, res.UpdatedContacts)
	}
	assert.Equal(t, map[string]string{crm.FieldCallOutcome: "Do Not Call"}, c.writes["b"])
}

func TestResolverErrorIsReturned(t *testing.T) {
	f := &fakeFinder{items: []outreach.QueueItem{item("a", "a", "L1", "")}, leadErr: errors.New("dynamo down")}
	_, err := newBroadcaster(f, &fakeStatus{}, newFakeCRM(), ratelimit.Limits{}).OnTerminalOutcome(acctCtx(), "a", outreach.OutcomeDNC)
	assert.ErrorContains(t, err, "via lead")
}

func TestBroadcastRequiresAccount(t *testing.T) {
	_, err := newBroadcaster(&fakeFinder{}, &fakeStatus{}, newFakeCRM(), ratelimit.Limits{}).OnTerminalOutcome(context.Background(), "a", outreach.OutcomeDNC)
	assert.Error(t, err)
}

func TestHandleInboundReplyWritesTriggerOutcome(t *testing.T) {
	f := &fakeFinder{items: []outreach.QueueItem{item("a", "a", "L1", ""), item("b", "b", "L1", "")}}
	c := newFakeCRM()
	res, err := newBroadcaster(f, &fakeStatus{}, c, ratelimit.Limits{}).Handle(context.Background(), outreach.DispositionEvent{
		UserID: "u-1", ContactID: "a", Outcome: outreach.OutcomeWrongNumber, Source: SourceInboundReply,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedContacts)
	assert.Equal(t, "Wrong Number", c.writes["a"][crm.FieldCallOutcome])
	assert.Equal(t, "Wrong Number", c.writes["b"][crm.FieldCallOutcome])
}

func TestHandleIgnoresNonTerminal(t *testing.T) {
	f := &fakeFinder{items: []outreach.QueueItem{item("a", "a", "L1", ""), item("b", "b", "L1", "")}}
	c := newFakeCRM()
	res, err := newBroadcaster(f, &fakeStatus{}, c, ratelimit.Limits{}).Handle(acctCtx(), outreach.DispositionEvent{ContactID: "a", Outcome: outreach.OutcomeCallbackLater})
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.Empty(t, c.writes)
}

func TestNoAnswerTracksDialsUntilCeiling(t *testing.T) {
	f := &fakeFinder{items: []outreach.QueueItem{item("a-sms", "a", "L1", "")}}
	st := &fakeStatus{}
	c := newFakeCRM()
	c.opps = []crm.Opportunity{{ID: "opp-1"}}
	dial := cadence.NewTracker(cadence.DialTrackingPolicy(2), c, time.UTC, nil)
	b := newBroadcaster(f, st, c, ratelimit.Limits{}).WithDialTracking(dial)
	evt := outreach.DispositionEvent{UserID: "u-1", ContactID: "a", Outcome: outreach.OutcomeNoAnswer}

	_, err := b.Handle(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "1", c.writes["a"][crm.FieldDialAttempts])
	assert.Empty(t, c.oppUpd)

	c.contact = &crm.Contact{ID: "a", CustomFields: []crm.CustomFieldValue{{ID: "f_dial", Value: "1"}}}
	_, err = b.Handle(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "2", c.writes["a"][crm.FieldDialAttempts])
	assert.Equal(t, "Max Attempts Reached", c.oppUpd["opp-1"].CustomFields[crm.FieldCallOutcome])
	assert.Equal(t, outreach.StatusCompleted, st.status["a-sms"])
}
