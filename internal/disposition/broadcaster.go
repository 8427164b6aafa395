// Package disposition fans a contact's terminal outcome out to the sibling
// contacts skip-traced for the same lead.
package disposition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/wolfman30/propreach/internal/cadence"
	"github.com/wolfman30/propreach/internal/compliance"
	"github.com/wolfman30/propreach/internal/crm"
	"github.com/wolfman30/propreach/internal/observability/metrics"
	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/internal/ratelimit"
	"github.com/wolfman30/propreach/internal/tenancy"
	"github.com/wolfman30/propreach/pkg/logging"
)

var tracer = otel.Tracer("propreach.internal.disposition")

// Event sources.
const (
	SourceWebhook      = "webhook"
	SourceInboundReply = "inbound_reply"
)

type fieldWriter interface {
	UpdateCustomFields(ctx context.Context, contactID string, values map[string]string) error
}

type statusWriter interface {
	MarkStatus(ctx context.Context, itemID string, status outreach.Status) error
}

type quotaReserver interface {
	CheckAndReserve(ctx context.Context, accountID string, kind ratelimit.Kind) (ratelimit.Decision, error)
}

type dispositionLedger interface {
	RecordDisposition(ctx context.Context, rec compliance.DispositionRecord) error
}

// Result summarizes one broadcast.
type Result struct {
	Resolver        string
	Siblings        int
	UpdatedContacts int
	Failed          int
}

// Broadcaster applies a terminal outcome to a contact's siblings.
type Broadcaster struct {
	finder  outreach.SiblingFinder
	queue   statusWriter
	crm     fieldWriter
	quota   quotaReserver
	chain   Chain
	pacer   *rate.Limiter
	ledger  dispositionLedger
	dial    *cadence.Tracker
	metrics *metrics.OutreachMetrics
	logger  *logging.Logger
	now     func() time.Time
}

// NewBroadcaster builds a broadcaster pacing sibling CRM writes at one per spacing.
func NewBroadcaster(finder outreach.SiblingFinder, queue statusWriter, client fieldWriter, quota quotaReserver, spacing time.Duration, logger *logging.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.Default()
	}
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &Broadcaster{
		finder: finder,
		queue:  queue,
		crm:    client,
		quota:  quota,
		chain:  DefaultChain(finder),
		pacer:  rate.NewLimiter(limit, 1),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithLedger records every disposition write in the compliance ledger.
func (b *Broadcaster) WithLedger(l dispositionLedger) *Broadcaster {
	b.ledger = l
	return b
}

// WithDialTracking counts no_answer dispositions against the dial cadence.
func (b *Broadcaster) WithDialTracking(t *cadence.Tracker) *Broadcaster {
	b.dial = t
	return b
}

func (b *Broadcaster) WithMetrics(m *metrics.OutreachMetrics) *Broadcaster {
	b.metrics = m
	return b
}

// WithChain replaces the sibling resolver chain.
func (b *Broadcaster) WithChain(c Chain) *Broadcaster {
	b.chain = c
	return b
}

// Handle processes a disposition event for the account in ctx: dial
// tracking for no_answer, the trigger's own outcome field for outcomes
// detected from inbound replies, then the sibling fan-out.
func (b *Broadcaster) Handle(ctx context.Context, evt outreach.DispositionEvent) (Result, error) {
	if evt.UserID != "" {
		ctx = tenancy.WithUserID(ctx, evt.UserID)
	}
	switch {
	case evt.Outcome == outreach.OutcomeNoAnswer:
		return Result{}, b.trackDial(ctx, evt.ContactID)
	case !evt.Outcome.Terminal():
		b.logger.Info("disposition is not terminal, nothing to broadcast", "contact_id", evt.ContactID, "outcome", evt.Outcome)
		return Result{}, nil
	}
	if evt.Source == SourceInboundReply {
		if err := b.writeOutcome(ctx, evt.ContactID, evt.Outcome); err != nil {
			b.logger.Error("failed to write outcome on trigger contact", "contact_id", evt.ContactID, "error", err)
		}
	}
	source := evt.Source
	if source == "" {
		source = SourceWebhook
	}
	return b.broadcast(ctx, evt.ContactID, evt.Outcome, source)
}

// OnTerminalOutcome fans outcome out from contactID to its siblings.
// Failures on one sibling are logged and counted; the rest still run.
// Repeating a broadcast rewrites the same values.
func (b *Broadcaster) OnTerminalOutcome(ctx context.Context, contactID string, outcome outreach.Outcome) (Result, error) {
	return b.broadcast(ctx, contactID, outcome, SourceWebhook)
}

func (b *Broadcaster) broadcast(ctx context.Context, contactID string, outcome outreach.Outcome, source string) (Result, error) {
	ctx, span := tracer.Start(ctx, "disposition.broadcast")
	defer span.End()
	span.SetAttributes(attribute.String("crm.contact_id", contactID), attribute.String("disposition.outcome", string(outcome)))

	userID, ok := tenancy.UserIDFromContext(ctx)
	if !ok {
		return Result{}, fmt.Errorf("disposition: account missing from context: %w", outreach.ErrPermanent)
	}
	if contactID == "" {
		return Result{}, fmt.Errorf("disposition: contactId required: %w", outreach.ErrPermanent)
	}
	logger := b.logger.With("user_id", userID, "contact_id", contactID, "outcome", string(outcome))

	trigger, err := b.finder.ByContact(ctx, contactID)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("disposition: load trigger items: %w", err)
	}
	if outcome.Stops() {
		b.optOut(ctx, trigger, logger)
	}
	b.record(ctx, userID, contactID, contactID, outcome, source, logger)

	// Max attempts is per person, not per lead.
	if outcome == outreach.OutcomeMaxAttempts {
		return Result{Resolver: "none"}, nil
	}

	items, resolver, err := b.chain.Resolve(ctx, userID, trigger)
	if err != nil {
		span.RecordError(err)
		return Result{Resolver: resolver}, fmt.Errorf("disposition: resolve siblings via %s: %w", resolver, err)
	}
	order, groups := groupByContact(items, contactID)
	res := Result{Resolver: resolver, Siblings: len(order)}
	span.SetAttributes(attribute.String("disposition.resolver", resolver), attribute.Int("disposition.siblings", len(order)))

	quotaExhausted := false
	for _, sibling := range order {
		if outcome.Stops() {
			b.optOut(ctx, groups[sibling], logger)
		}
		if quotaExhausted {
			res.Failed++
			continue
		}
		if err := b.pacer.Wait(ctx); err != nil {
			return res, err
		}
		err := b.writeOutcome(ctx, sibling, outcome)
		switch {
		case errors.Is(err, outreach.ErrQuotaExceeded):
			logger.Warn("crm write quota exhausted, remaining siblings keep queue updates only", "sibling_id", sibling)
			quotaExhausted = true
			res.Failed++
		case err != nil:
			logger.Error("sibling update failed", "sibling_id", sibling, "error", err)
			res.Failed++
		default:
			res.UpdatedContacts++
			b.record(ctx, userID, contactID, sibling, outcome, source, logger)
		}
		b.metrics.ObserveSiblingUpdate(string(outcome), err == nil)
	}

	logger.Info("disposition broadcast complete",
		"resolver", resolver,
		"siblings", res.Siblings,
		"updated", res.UpdatedContacts,
		"failed", res.Failed,
	)
	return res, nil
}

func (b *Broadcaster) writeOutcome(ctx context.Context, contactID string, outcome outreach.Outcome) error {
	userID, _ := tenancy.UserIDFromContext(ctx)
	if b.quota != nil {
		dec, err := b.quota.CheckAndReserve(ctx, userID, ratelimit.KindCRMWrite)
		if err != nil {
			return err
		}
		if !dec.Allowed {
			return outreach.ErrQuotaExceeded
		}
	}
	return b.crm.UpdateCustomFields(ctx, contactID, map[string]string{crm.FieldCallOutcome: outcome.Label()})
}

func (b *Broadcaster) optOut(ctx context.Context, items []outreach.QueueItem, logger *logging.Logger) {
	for _, it := range items {
		err := b.queue.MarkStatus(ctx, it.ID, outreach.StatusOptedOut)
		if err != nil && !errors.Is(err, outreach.ErrStaleUpdate) && !errors.Is(err, outreach.ErrItemNotFound) {
			logger.Error("failed to opt out queue item", "item_id", it.ID, "error", err)
		}
	}
}

func (b *Broadcaster) record(ctx context.Context, userID, trigger, contactID string, outcome outreach.Outcome, source string, logger *logging.Logger) {
	if b.ledger == nil {
		return
	}
	err := b.ledger.RecordDisposition(ctx, compliance.DispositionRecord{
		UserID:           userID,
		TriggerContactID: trigger,
		ContactID:        contactID,
		Outcome:          string(outcome),
		Source:           source,
		CreatedAt:        b.now(),
	})
	if err != nil {
		logger.Warn("failed to record disposition", "error", err)
	}
}

// trackDial counts an unanswered call; at the ceiling the contact's
// opportunities are closed out and its queue items completed.
func (b *Broadcaster) trackDial(ctx context.Context, contactID string) error {
	if b.dial == nil {
		return nil
	}
	count, err := b.dial.RecordContactTouch(ctx, contactID, b.now())
	if errors.Is(err, outreach.ErrIneligibleContact) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("disposition: dial tracking: %w", err)
	}
	if !b.dial.ReachedCeiling(count) {
		return nil
	}
	if _, err := b.dial.OnMaxTouchesReached(ctx, contactID); err != nil {
		return fmt.Errorf("disposition: close out opportunities: %w", err)
	}
	items, err := b.finder.ByContact(ctx, contactID)
	if err != nil {
		return fmt.Errorf("disposition: load contact items: %w", err)
	}
	for _, it := range items {
		if err := b.queue.MarkStatus(ctx, it.ID, outreach.StatusCompleted); err != nil && !errors.Is(err, outreach.ErrStaleUpdate) {
			b.logger.Warn("failed to complete queue item", "item_id", it.ID, "error", err)
		}
	}
	return nil
}
