package disposition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/propreach/internal/crm"
	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/internal/ratelimit"
)

type stubHandler struct {
	errs map[string]error
	seen []outreach.DispositionEvent
}

func (h *stubHandler) Handle(_ context.Context, evt outreach.DispositionEvent) (Result, error) {
	h.seen = append(h.seen, evt)
	return Result{}, h.errs[evt.ContactID]
}

func encode(t *testing.T, evt outreach.DispositionEvent) string {
	t.Helper()
	b, err := json.Marshal(evt)
	require.NoError(t, err)
	return string(b)
}

func TestPublisherRoundTripThroughWorker(t *testing.T) {
	q := NewMemoryQueue()
	pub := NewPublisher(q)
	require.NoError(t, pub.Publish(context.Background(), outreach.DispositionEvent{UserID: "u-1", ContactID: "a", Outcome: outreach.OutcomeDNC}))
	require.NoError(t, pub.Publish(context.Background(), outreach.DispositionEvent{UserID: "u-1", ContactID: "b", Outcome: outreach.OutcomeDNC}))

	h := &stubHandler{errs: map[string]error{
		"b": fmt.Errorf("crm: %w", outreach.ErrTransient),
	}}
	w := NewWorker(h, q, nil, WithReceiveWaitSeconds(0))

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, h.seen, 2)
	assert.Equal(t, outreach.OutcomeDNC, h.seen[0].Outcome)
	// The transient failure stays queued for redelivery.
	assert.Equal(t, 1, q.Len())
}

func TestWorkerDropsPermanentFailuresAndGarbage(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Send(context.Background(), "{not json"))
	require.NoError(t, q.Send(context.Background(), encode(t, outreach.DispositionEvent{ContactID: "a"})))
	h := &stubHandler{errs: map[string]error{"a": fmt.Errorf("bad request: %w", outreach.ErrPermanent)}}

	_, err := NewWorker(h, q, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, q.Len())
}

func TestWorkerKeepsUnclassifiedFailures(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Send(context.Background(), encode(t, outreach.DispositionEvent{ContactID: "a"})))
	h := &stubHandler{errs: map[string]error{"a": errors.New("connection reset")}}

	_, err := NewWorker(h, q, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())
}

func TestWorkerRetriesDNCWhenSiblingLookupFails(t *testing.T) {
	f := &fakeFinder{
		items: []outreach.QueueItem{item("a-sms", "a", "L1", ""), item("b-sms", "b", "L1", "")},
		leadErr: fmt.Errorf("outreach: failed to query %s: %w", outreach.LeadIndex,
			errors.New("ProvisionedThroughputExceededException: rate of requests exceeds the allowed throughput")),
	}
	st := &fakeStatus{}
	c := newFakeCRM()
	b := newBroadcaster(f, st, c, ratelimit.Limits{})

	q := NewMemoryQueue()
	require.NoError(t, NewPublisher(q).Publish(context.Background(), outreach.DispositionEvent{UserID: "u-1", ContactID: "a", Outcome: outreach.OutcomeDNC}))
	w := NewWorker(b, q, nil, WithReceiveWaitSeconds(0))

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, q.Len(), "the event must survive a store failure")
	assert.NotContains(t, st.status, "b-sms")

	f.leadErr = nil
	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, q.Len())
	assert.Equal(t, outreach.StatusOptedOut, st.status["b-sms"])
	assert.Equal(t, "Do Not Call", c.writes["b"][crm.FieldCallOutcome])
}

func TestWorkerDropsEventWithoutAccount(t *testing.T) {
	b := newBroadcaster(&fakeFinder{}, &fakeStatus{}, newFakeCRM(), ratelimit.Limits{})
	q := NewMemoryQueue()
	require.NoError(t, q.Send(context.Background(), encode(t, outreach.DispositionEvent{ContactID: "a", Outcome: outreach.OutcomeDNC})))

	_, err := NewWorker(b, q, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, q.Len())
}

func TestHandleSQSEventReportsRetryableFailures(t *testing.T) {
	h := &stubHandler{errs: map[string]error{"b": outreach.ErrTransient}}
	w := NewWorker(h, NewMemoryQueue(), nil)
	resp, err := w.HandleSQSEvent(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: encode(t, outreach.DispositionEvent{ContactID: "a"})},
		{MessageId: "m2", Body: encode(t, outreach.DispositionEvent{ContactID: "b"})},
	}})
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m2", resp.BatchItemFailures[0].ItemIdentifier)
}

func TestInlinePublisherBroadcasts(t *testing.T) {
	f := &fakeFinder{items: []outreach.QueueItem{item("a", "a", "L1", ""), item("b", "b", "L1", "")}}
	c := newFakeCRM()
	b := newBroadcaster(f, &fakeStatus{}, c, ratelimit.Limits{})
	require.NoError(t, NewInlinePublisher(b).Publish(context.Background(), outreach.DispositionEvent{UserID: "u-1", ContactID: "a", Outcome: outreach.OutcomeAlreadyListed}))
	assert.Equal(t, "Already Listed", c.writes["b"][crm.FieldCallOutcome])
}
