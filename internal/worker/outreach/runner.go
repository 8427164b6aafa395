// Package outreachworker runs the scheduled SMS and email outreach passes.
package outreachworker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/propreach/internal/cadence"
	"github.com/wolfman30/propreach/internal/compliance"
	"github.com/wolfman30/propreach/internal/crm"
	"github.com/wolfman30/propreach/internal/integrations"
	"github.com/wolfman30/propreach/internal/observability/metrics"
	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/internal/ratelimit"
	"github.com/wolfman30/propreach/internal/tenancy"
	"github.com/wolfman30/propreach/pkg/logging"
)

// Request is the scheduled event payload. UserID narrows the pass to one account.
type Request struct {
	UserID string `json:"userId,omitempty"`
}

// SMSResult is returned by the SMS pass.
type SMSResult struct {
	StatusCode        int    `json:"statusCode"`
	ContactsProcessed int    `json:"contactsProcessed"`
	Message           string `json:"message,omitempty"`
}

// EmailResult is returned by the email pass.
type EmailResult struct {
	StatusCode int    `json:"statusCode"`
	EmailsSent int    `json:"emailsSent"`
	Message    string `json:"message,omitempty"`
}

type gate interface {
	IsOpen(now time.Time) bool
	NextOpenMessage(now time.Time) string
}

type accountSource interface {
	ListActive(ctx context.Context) ([]integrations.Integration, error)
	GetActive(ctx context.Context, userID string) (*integrations.Integration, error)
}

type tokenSource interface {
	GetValidToken(ctx context.Context, userID string) (*integrations.Token, error)
}

type messenger interface {
	SendMessage(ctx context.Context, req crm.MessageRequest) (*crm.MessageResult, error)
}

type quota interface {
	CheckAndReserve(ctx context.Context, accountID string, kind ratelimit.Kind) (ratelimit.Decision, error)
	Release(ctx context.Context, accountID string, kind ratelimit.Kind, n int) error
}

type touchLedger interface {
	RecordTouch(ctx context.Context, rec compliance.TouchRecord) error
	SentSince(ctx context.Context, contactID, channel string, since time.Time) (int, error)
}

// Config tunes a Runner.
type Config struct {
	SMSBatchSize   int
	EmailBatchSize int
	SMSSendDelay   time.Duration
	EmailSendDelay time.Duration
	// MinTouchGap keeps an item from being touched twice inside the window
	// regardless of the cadence spacing policy.
	MinTouchGap time.Duration
	EmailFrom   string
}

const (
	defaultSMSBatch    = 10
	defaultEmailBatch  = 25
	defaultMinTouchGap = 20 * time.Hour
)

// Runner executes one outreach pass per invocation.
type Runner struct {
	gate     gate
	accounts accountSource
	tokens   tokenSource
	queue    outreach.Queue
	crm      messenger
	limiter  quota
	trackers map[outreach.Channel]*cadence.Tracker
	ledger   touchLedger
	metrics  *metrics.OutreachMetrics
	logger   *logging.Logger
	cfg      Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner wires a Runner. sms and email are the per-channel cadence trackers.
func NewRunner(g gate, accounts accountSource, tokens tokenSource, queue outreach.Queue, client messenger, limiter quota, sms, email *cadence.Tracker, cfg Config, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.SMSBatchSize <= 0 {
		cfg.SMSBatchSize = defaultSMSBatch
	}
	if cfg.EmailBatchSize <= 0 {
		cfg.EmailBatchSize = defaultEmailBatch
	}
	if cfg.MinTouchGap == 0 {
		cfg.MinTouchGap = defaultMinTouchGap
	}
	return &Runner{
		gate:     g,
		accounts: accounts,
		tokens:   tokens,
		queue:    queue,
		crm:      client,
		limiter:  limiter,
		trackers: map[outreach.Channel]*cadence.Tracker{outreach.ChannelSMS: sms, outreach.ChannelEmail: email},
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepCtx,
	}
}

func (r *Runner) WithLedger(l touchLedger) *Runner {
	r.ledger = l
	return r
}

func (r *Runner) WithMetrics(m *metrics.OutreachMetrics) *Runner {
	r.metrics = m
	return r
}

// WithClock overrides time and the inter-send delay, for tests.
func (r *Runner) WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) *Runner {
	if now != nil {
		r.now = now
	}
	if sleep != nil {
		r.sleep = sleep
	}
	return r
}

// RunSMS sends the next SMS touch to each eligible queued contact.
func (r *Runner) RunSMS(ctx context.Context, req Request) (SMSResult, error) {
	sent, msg, err := r.run(ctx, outreach.ChannelSMS, req)
	if err != nil {
		return SMSResult{StatusCode: http.StatusInternalServerError, ContactsProcessed: sent, Message: err.Error()}, err
	}
	return SMSResult{StatusCode: http.StatusOK, ContactsProcessed: sent, Message: msg}, nil
}

// RunEmail sends the next email touch to each eligible queued contact.
func (r *Runner) RunEmail(ctx context.Context, req Request) (EmailResult, error) {
	sent, msg, err := r.run(ctx, outreach.ChannelEmail, req)
	if err != nil {
		return EmailResult{StatusCode: http.StatusInternalServerError, EmailsSent: sent, Message: err.Error()}, err
	}
	return EmailResult{StatusCode: http.StatusOK, EmailsSent: sent, Message: msg}, nil
}

func (r *Runner) run(ctx context.Context, ch outreach.Channel, req Request) (int, string, error) {
	began := time.Now()
	defer func() { r.metrics.ObserveRun(string(ch), time.Since(began).Seconds()) }()

	started := r.now()

	if !r.gate.IsOpen(started) {
		msg := r.gate.NextOpenMessage(started)
		r.logger.Info("outside business hours, skipping outreach pass", "channel", ch, "reason", msg)
		return 0, msg, nil
	}

	accounts, err := r.loadAccounts(ctx, req.UserID)
	if err != nil {
		return 0, "", err
	}

	total := 0
	for _, acct := range accounts {
		n, err := r.runAccount(ctx, acct, ch)
		total += n
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return total, "", err
			}
			r.logger.Warn("account pass ended early", "user_id", acct.UserID, "channel", ch, "error", err)
		}
	}
	r.logger.Info("outreach pass complete", "channel", ch, "accounts", len(accounts), "sent", total)
	return total, fmt.Sprintf("sent %d", total), nil
}

func (r *Runner) loadAccounts(ctx context.Context, userID string) ([]integrations.Integration, error) {
	if userID = strings.TrimSpace(userID); userID != "" {
		acct, err := r.accounts.GetActive(ctx, userID)
		if errors.Is(err, integrations.ErrNotFound) {
			r.logger.Warn("no active integration for requested account", "user_id", userID)
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("outreachworker: load account: %w", err)
		}
		return []integrations.Integration{*acct}, nil
	}
	accts, err := r.accounts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("outreachworker: list accounts: %w", err)
	}
	return accts, nil
}

// runAccount processes one account's slice. Token and quota failures end the
// slice; item failures do not.
func (r *Runner) runAccount(ctx context.Context, acct integrations.Integration, ch outreach.Channel) (int, error) {
	logger := r.logger.ForAccount(acct.UserID, string(ch))
	ctx = tenancy.WithUserID(ctx, acct.UserID)
	if acct.LocationID != "" {
		ctx = tenancy.WithLocationID(ctx, acct.LocationID)
	}

	if _, err := r.tokens.GetValidToken(ctx, acct.UserID); err != nil {
		logger.Error("no usable CRM token, skipping account", "error", err)
		return 0, fmt.Errorf("%w: %v", outreach.ErrTokenUnavailable, err)
	}

	limit := r.cfg.SMSBatchSize
	if ch == outreach.ChannelEmail {
		limit = r.cfg.EmailBatchSize
	}
	tracker := r.trackers[ch]
	items, err := r.queue.PendingBatch(ctx, acct.UserID, ch, limit, r.dueCutoff(tracker, r.now()))
	if err != nil {
		return 0, fmt.Errorf("outreachworker: pending batch: %w", err)
	}
	if len(items) == 0 {
		logger.Info("outreach queue empty")
		return 0, nil
	}

	kind := ratelimit.KindForChannel(ch)
	data := outreach.TemplateData{AgentName: acct.AgentName, CompanyName: acct.CompanyName}
	sent := 0
	for i := range items {
		item := &items[i]
		now := r.now()
		if skip := r.skipReason(ctx, item, tracker, now); skip != "" {
			logger.Debug("item not due", "item_id", item.ID, "reason", skip)
			continue
		}
		if reason := missingAddress(item); reason != "" {
			r.fail(ctx, item, 0, reason, logger)
			continue
		}

		dec, err := r.limiter.CheckAndReserve(ctx, acct.UserID, kind)
		if err != nil {
			return sent, fmt.Errorf("outreachworker: quota reserve: %w", err)
		}
		if !dec.Allowed {
			r.metrics.ObserveQuotaDenial(string(kind))
			logger.Warn("quota exhausted, leaving remaining items pending", "retry_after", dec.RetryAfter.String())
			return sent, outreach.ErrQuotaExceeded
		}

		if sent > 0 {
			if err := r.sleep(ctx, r.delay(ch)); err != nil {
				r.release(ctx, acct.UserID, kind, logger)
				return sent, err
			}
		}
		ok, err := r.touch(ctx, item, tracker, data, now, logger)
		if !ok {
			r.release(ctx, acct.UserID, kind, logger)
		}
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

// dueCutoff is the newest lastSentAt an item may carry and still be worth
// loading. N business days always span more than N-1 calendar days.
func (r *Runner) dueCutoff(tracker *cadence.Tracker, now time.Time) time.Time {
	gap := r.cfg.MinTouchGap
	if tracker != nil {
		if p := tracker.Policy(); p.SpacingEnabled && p.MinBusinessDays > 1 {
			gap = max(gap, time.Duration(p.MinBusinessDays-1)*24*time.Hour)
		}
	}
	if gap <= 0 {
		return time.Time{}
	}
	return now.Add(-gap)
}

func (r *Runner) release(ctx context.Context, userID string, kind ratelimit.Kind, logger *logging.Logger) {
	if err := r.limiter.Release(context.WithoutCancel(ctx), userID, kind, 1); err != nil {
		logger.Error("failed to release unused quota", "kind", kind, "error", err)
	}
}

func (r *Runner) skipReason(ctx context.Context, item *outreach.QueueItem, tracker *cadence.Tracker, now time.Time) string {
	if tracker != nil && !tracker.IsEligibleForNextTouch(item, now) {
		return "cadence"
	}
	if item.LastSentAt != nil && now.Sub(*item.LastSentAt) < r.cfg.MinTouchGap {
		return "recently touched"
	}
	// The ledger catches sends whose queue write was lost.
	if r.ledger != nil && r.cfg.MinTouchGap > 0 {
		n, err := r.ledger.SentSince(ctx, item.ContactID, string(item.Channel), now.Add(-r.cfg.MinTouchGap))
		switch {
		case err != nil:
			return "ledger unavailable"
		case n > 0:
			return "sent per ledger"
		}
	}
	return ""
}

func missingAddress(item *outreach.QueueItem) string {
	switch item.Channel {
	case outreach.ChannelSMS:
		if strings.TrimSpace(item.ContactPhone) == "" {
			return "no phone number"
		}
	case outreach.ChannelEmail:
		if strings.TrimSpace(item.ContactEmail) == "" {
			return "no email address"
		}
	}
	return ""
}

// touch sends one templated message and commits the item's transition.
// It reports whether a message went out; the returned error is non-nil only
// when the account slice must stop.
func (r *Runner) touch(ctx context.Context, item *outreach.QueueItem, tracker *cadence.Tracker, data outreach.TemplateData, now time.Time, logger *logging.Logger) (bool, error) {
	touchNumber := item.TouchCount + 1
	msg, err := outreach.RenderTouch(item, touchNumber, data)
	if err != nil {
		r.fail(ctx, item, touchNumber, err.Error(), logger)
		return false, nil
	}

	_, err = r.crm.SendMessage(ctx, crm.MessageRequest{
		ContactID: item.ContactID,
		Type:      crm.MessageType(item.Channel),
		Body:      msg.Body,
		Subject:   msg.Subject,
		EmailFrom: r.cfg.EmailFrom,
	})
	switch {
	case errors.Is(err, outreach.ErrTokenUnavailable):
		return false, err
	case outreach.IsPermanent(err):
		r.fail(ctx, item, touchNumber, err.Error(), logger)
		return false, nil
	case err != nil:
		logger.Warn("send failed, item stays pending", "item_id", item.ID, "error", err)
		r.record(ctx, item, touchNumber, compliance.TouchFailed, err.Error(), logger)
		r.metrics.ObserveTouch(string(item.Channel), "transient")
		return false, nil
	}

	r.record(ctx, item, touchNumber, compliance.TouchSent, "", logger)
	r.metrics.ObserveTouch(string(item.Channel), "sent")

	count := touchNumber
	if tracker != nil {
		if count, err = tracker.RecordTouch(ctx, item, now); err != nil {
			logger.Error("failed to record touch on contact", "item_id", item.ID, "error", err)
			count = touchNumber
		}
	}
	if err := r.queue.MarkSent(ctx, item.ID, count, now); err != nil {
		logger.Error("failed to mark item sent", "item_id", item.ID, "error", err)
	}
	logger.Info("outreach touch sent", "item_id", item.ID, "touch", count, "phone", logging.MaskPhone(item.ContactPhone))

	if tracker != nil && tracker.ReachedCeiling(count) {
		if _, err := tracker.OnMaxTouchesReached(ctx, item.ContactID); err != nil {
			logger.Error("failed to close out opportunities", "contact_id", item.ContactID, "error", err)
		}
		if err := r.queue.MarkStatus(ctx, item.ID, outreach.StatusCompleted); err != nil {
			logger.Error("failed to complete item", "item_id", item.ID, "error", err)
		}
	}
	return true, nil
}

func (r *Runner) fail(ctx context.Context, item *outreach.QueueItem, touchNumber int, reason string, logger *logging.Logger) {
	logger.Warn("permanent outreach failure", "item_id", item.ID, "reason", reason)
	if err := r.queue.MarkStatus(ctx, item.ID, outreach.StatusFailed); err != nil {
		logger.Error("failed to mark item failed", "item_id", item.ID, "error", err)
	}
	r.record(ctx, item, touchNumber, compliance.TouchFailed, reason, logger)
	r.metrics.ObserveTouch(string(item.Channel), "failed")
}

func (r *Runner) record(ctx context.Context, item *outreach.QueueItem, touchNumber int, result compliance.TouchResult, detail string, logger *logging.Logger) {
	if r.ledger == nil {
		return
	}
	err := r.ledger.RecordTouch(ctx, compliance.TouchRecord{
		ID:          uuid.NewString(),
		UserID:      item.UserID,
		ContactID:   item.ContactID,
		Channel:     string(item.Channel),
		TouchNumber: touchNumber,
		Result:      result,
		Detail:      detail,
		CreatedAt:   r.now(),
	})
	if err != nil {
		logger.Warn("failed to record touch in ledger", "item_id", item.ID, "error", err)
	}
}

func (r *Runner) delay(ch outreach.Channel) time.Duration {
	if ch == outreach.ChannelEmail {
		return r.cfg.EmailSendDelay
	}
	return r.cfg.SMSSendDelay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
