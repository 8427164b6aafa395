package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/propreach/internal/compliance"
	"github.com/wolfman30/propreach/internal/crm"
	"github.com/wolfman30/propreach/internal/integrations"
	"github.com/wolfman30/propreach/internal/notify"
	"github.com/wolfman30/propreach/internal/observability/metrics"
	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/internal/ratelimit"
	"github.com/wolfman30/propreach/internal/tenancy"
	"github.com/wolfman30/propreach/pkg/logging"
)

var tracer = otel.Tracer("propreach.internal.conversation")

type crmAPI interface {
	GetContact(ctx context.Context, contactID string) (*crm.Contact, error)
	UpdateCustomFields(ctx context.Context, contactID string, values map[string]string) error
	AddTags(ctx context.Context, contactID string, tags ...string) error
	SendMessage(ctx context.Context, req crm.MessageRequest) (*crm.MessageResult, error)
	Fields() crm.FieldMap
}

// deduper claims inbound keys. ttl <= 0 uses the deduper's default window.
type deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type quotaReserver interface {
	CheckAndReserve(ctx context.Context, accountID string, kind ratelimit.Kind) (ratelimit.Decision, error)
	Release(ctx context.Context, accountID string, kind ratelimit.Kind, n int) error
}

type historyStore interface {
	Load(ctx context.Context, contactID string) ([]ChatMessage, error)
	Save(ctx context.Context, contactID string, history []ChatMessage) error
}

type accountLookup interface {
	GetActive(ctx context.Context, userID string) (*integrations.Integration, error)
}

type queueStatusWriter interface {
	MarkStatus(ctx context.Context, itemID string, status outreach.Status) error
}

type handoffNotifier interface {
	NotifyHandoff(ctx context.Context, notice notify.HandoffNotice) error
}

// DispositionPublisher hands terminal outcomes to the sibling broadcaster.
type DispositionPublisher interface {
	Publish(ctx context.Context, evt outreach.DispositionEvent) error
}

// InboundMessage is a lead's reply as delivered by the CRM webhook.
type InboundMessage struct {
	ContactID      string
	ConversationID string
	LocationID     string
	MessageID      string
	Channel        outreach.Channel
	Body           string
}

// Result summarizes one inbound exchange.
type Result struct {
	Reply     string
	State     State
	Outcome   outreach.Outcome
	Skipped   bool
	Duplicate bool
	Reason    string
}

// Deps wires the engine's collaborators. Quota, Accounts, History, Queue,
// Notifier and Metrics are optional.
type Deps struct {
	CRM          crmAPI
	Generator    Generator
	Transitioner Transitioner
	Dedup        deduper
	Quota        quotaReserver
	Publisher    DispositionPublisher
	Detector     *compliance.Detector
	Eligibility  *Eligibility
	Tools        *ToolSet
	Accounts     accountLookup
	History      historyStore
	Queue        queueStatusWriter
	Notifier     handoffNotifier
	Metrics      *metrics.OutreachMetrics
	Logger       *logging.Logger
	Timezone     string
	EmailFrom    string
	MaxTokens    int32
	Now          func() time.Time
}

// Engine runs the inbound conversation flow.
type Engine struct {
	Deps
}

// NewEngine validates deps and fills defaults.
func NewEngine(deps Deps) (*Engine, error) {
	switch {
	case deps.CRM == nil:
		return nil, errors.New("conversation: crm client is required")
	case deps.Generator == nil:
		return nil, errors.New("conversation: generator is required")
	case deps.Dedup == nil:
		return nil, errors.New("conversation: deduper is required")
	case deps.Publisher == nil:
		return nil, errors.New("conversation: disposition publisher is required")
	}
	if deps.Transitioner == nil {
		deps.Transitioner = NewKeywordTransitioner()
	}
	if deps.Detector == nil {
		deps.Detector = compliance.NewDetector()
	}
	if deps.Eligibility == nil {
		deps.Eligibility = NewEligibility(nil)
	}
	if deps.Tools == nil {
		deps.Tools = &ToolSet{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.MaxTokens <= 0 {
		deps.MaxTokens = 400
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{Deps: deps}, nil
}

// derivedKeyTTL bounds how long a key built from the message body is held.
// Without a message id only near-simultaneous redeliveries are collapsed, so
// a lead repeating the same short answer later is still heard.
const derivedKeyTTL = 2 * time.Minute

// DedupKey identifies an inbound message for replay suppression.
func DedupKey(msg InboundMessage) string {
	if id := strings.TrimSpace(msg.MessageID); id != "" {
		return msg.ContactID + ":" + id
	}
	seed := strings.Join([]string{msg.ContactID, msg.ConversationID, strings.TrimSpace(msg.Body)}, "|")
	return msg.ContactID + ":" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
}

// HandleInbound processes one inbound message for the account in ctx.
func (e *Engine) HandleInbound(ctx context.Context, msg InboundMessage) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "conversation.handle_inbound")
	defer span.End()
	span.SetAttributes(attribute.String("crm.contact_id", msg.ContactID))

	userID, ok := tenancy.UserIDFromContext(ctx)
	if !ok {
		return Result{}, errors.New("conversation: account missing from context")
	}
	if msg.ContactID == "" || strings.TrimSpace(msg.Body) == "" {
		return Result{}, errors.New("conversation: contactId and body are required")
	}
	if msg.Channel == "" {
		msg.Channel = outreach.ChannelSMS
	}
	logger := e.Logger.ForAccount(userID, string(msg.Channel)).With("contact_id", msg.ContactID)

	defer func() {
		switch {
		case err != nil && errors.Is(err, outreach.ErrIneligibleContact):
			e.Metrics.ObserveInbound("ineligible")
		case err != nil && errors.Is(err, outreach.ErrQuotaExceeded):
			e.Metrics.ObserveInbound("quota")
		case err != nil:
			span.RecordError(err)
			e.Metrics.ObserveInbound("error")
		case res.Duplicate:
			e.Metrics.ObserveInbound("duplicate")
		case res.Outcome != "":
			e.Metrics.ObserveInbound("disposition")
		case res.Skipped:
			e.Metrics.ObserveInbound("skipped")
		default:
			e.Metrics.ObserveInbound("replied")
		}
	}()

	key := DedupKey(msg)
	var ttl time.Duration
	if strings.TrimSpace(msg.MessageID) == "" {
		ttl = derivedKeyTTL
	}
	claimed, err := e.Dedup.Claim(ctx, key, ttl)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		logger.Info("duplicate inbound message ignored")
		return Result{Skipped: true, Duplicate: true, Reason: "duplicate"}, nil
	}
	// Until the new state is persisted a failure frees the key for redelivery.
	persisted := false
	defer func() {
		if err != nil && !persisted {
			if relErr := e.Dedup.Release(context.WithoutCancel(ctx), key); relErr != nil {
				logger.Warn("failed to release inbound key", "error", relErr)
			}
		}
	}()

	if outcome, ok := e.Detector.Classify(msg.Body); ok {
		evt := outreach.DispositionEvent{
			UserID:     userID,
			ContactID:  msg.ContactID,
			Outcome:    outcome,
			Source:     "inbound_reply",
			OccurredAt: e.Now().UTC(),
		}
		if err := e.Publisher.Publish(ctx, evt); err != nil {
			return Result{}, fmt.Errorf("conversation: publish disposition: %w", err)
		}
		logger.Info("inbound reply recorded as disposition", "outcome", outcome)
		return Result{Skipped: true, Outcome: outcome, Reason: "disposition"}, nil
	}

	contact, err := e.CRM.GetContact(ctx, msg.ContactID)
	if err != nil {
		return Result{}, fmt.Errorf("conversation: load contact: %w", err)
	}
	fields := e.CRM.Fields()
	lead := buildLeadContext(contact, fields, msg.Channel)
	lead.UserID = userID
	lead.Timezone = e.Timezone
	e.applyAccount(ctx, lead, userID)
	span.SetAttributes(attribute.String("conversation.state", string(lead.State)))

	if lead.State.Terminal() {
		logger.Info("contact in terminal AI state, no reply", "state", lead.State)
		return Result{Skipped: true, State: lead.State, Reason: "terminal_state"}, nil
	}
	if err := e.Eligibility.Check(contact, lead.LeadType); err != nil {
		logger.Info("contact not eligible for AI reply", "reason", err.Error())
		return Result{Skipped: true, State: lead.State, Reason: "ineligible"}, err
	}

	kind := ratelimit.KindForChannel(msg.Channel)
	if err := e.reserveReply(ctx, userID, kind, logger); err != nil {
		return Result{Skipped: true, State: lead.State, Reason: "quota"}, err
	}
	replySent := false
	defer func() {
		if !replySent {
			e.releaseReply(ctx, userID, kind, logger)
		}
	}()

	next := e.Transitioner.Next(lead.State, Signals{
		Text:            msg.Body,
		HasKnownAddress: lead.HasKnownAddress(),
		DeclaredIntent:  lead.Intent,
	})
	if err := e.CRM.UpdateCustomFields(ctx, msg.ContactID, map[string]string{crm.FieldAIState: string(next)}); err != nil {
		return Result{}, fmt.Errorf("conversation: persist state: %w", err)
	}
	persisted = true
	logger.Info("conversation state advanced", "from", lead.State, "to", next)

	history := e.loadHistory(ctx, msg.ContactID, logger)
	reply, err := e.generate(ctx, lead, next, history, msg.Body)
	if err != nil {
		return Result{State: next}, err
	}

	if lead.Booked && next != StateQualified {
		next = StateQualified
		if err := e.CRM.UpdateCustomFields(ctx, msg.ContactID, map[string]string{crm.FieldAIState: string(next)}); err != nil {
			logger.Warn("failed to persist qualified state after booking", "error", err)
		}
	}

	req := crm.MessageRequest{
		ContactID: msg.ContactID,
		Type:      crm.MessageType(msg.Channel),
		Body:      reply,
	}
	if msg.Channel == outreach.ChannelEmail {
		req.Subject = "Re: your property"
		req.EmailFrom = e.EmailFrom
	}
	if _, err := e.CRM.SendMessage(ctx, req); err != nil {
		return Result{State: next}, fmt.Errorf("conversation: send reply: %w", err)
	}
	replySent = true

	e.saveHistory(ctx, msg.ContactID, append(history,
		ChatMessage{Role: RoleUser, Content: msg.Body},
		ChatMessage{Role: RoleAssistant, Content: reply},
	), logger)
	e.afterReply(ctx, lead, next, msg, logger)

	return Result{Reply: reply, State: next}, nil
}

// reserveReply takes one outbound message from the account's quota before
// any state is written. A denial leaves the exchange unclaimed.
func (e *Engine) reserveReply(ctx context.Context, userID string, kind ratelimit.Kind, logger *logging.Logger) error {
	if e.Quota == nil {
		return nil
	}
	dec, err := e.Quota.CheckAndReserve(ctx, userID, kind)
	if err != nil {
		return fmt.Errorf("conversation: reserve reply quota: %w", err)
	}
	if !dec.Allowed {
		e.Metrics.ObserveQuotaDenial(string(kind))
		logger.Warn("reply quota exhausted", "kind", kind, "retry_after", dec.RetryAfter.String())
		return fmt.Errorf("conversation: %s reply: %w", kind, outreach.ErrQuotaExceeded)
	}
	return nil
}

func (e *Engine) releaseReply(ctx context.Context, userID string, kind ratelimit.Kind, logger *logging.Logger) {
	if e.Quota == nil {
		return
	}
	if err := e.Quota.Release(context.WithoutCancel(ctx), userID, kind, 1); err != nil {
		logger.Warn("failed to release reply quota", "kind", kind, "error", err)
	}
}

func (e *Engine) applyAccount(ctx context.Context, lead *LeadContext, userID string) {
	if e.Accounts == nil {
		return
	}
	acct, err := e.Accounts.GetActive(ctx, userID)
	if err != nil {
		e.Logger.Warn("account profile unavailable", "user_id", userID, "error", err)
		return
	}
	lead.AgentName = acct.AgentName
	lead.CompanyName = acct.CompanyName
	lead.CalendarID = acct.CalendarID
}

// generate runs one generation round and at most one tool call.
func (e *Engine) generate(ctx context.Context, lead *LeadContext, next State, history []ChatMessage, body string) (string, error) {
	started := e.Now()
	defer func() { e.Metrics.ObserveGeneration(string(next), e.Now().Sub(started).Seconds()) }()

	messages := make([]ChatMessage, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, ChatMessage{Role: RoleUser, Content: body})
	req := GenerateRequest{
		System:    SystemPrompt(lead, next),
		Messages:  messages,
		Tools:     toolsForState(next),
		MaxTokens: e.MaxTokens,
	}

	gen, err := e.Generator.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("conversation: generate: %w", err)
	}
	if gen.ToolCall != nil {
		result, err := e.Tools.Execute(ctx, *gen.ToolCall, lead)
		if err != nil {
			return "", err
		}
		e.Logger.Info("tool executed", "contact_id", lead.ContactID, "tool", gen.ToolCall.Name)
		req.ToolResult = &ToolResult{Call: *gen.ToolCall, Content: result}
		req.System = SystemPrompt(lead, next)
		gen, err = e.Generator.Generate(ctx, req)
		if err != nil {
			return "", fmt.Errorf("conversation: generate after tool: %w", err)
		}
	}
	reply := strings.TrimSpace(gen.Text)
	if reply == "" {
		return "", errors.New("conversation: generator returned no reply text")
	}
	return reply, nil
}

func (e *Engine) afterReply(ctx context.Context, lead *LeadContext, next State, msg InboundMessage, logger *logging.Logger) {
	switch next {
	case StateHandoff:
		if err := e.CRM.AddTags(ctx, lead.ContactID, TagHandoff); err != nil {
			logger.Error("failed to tag handoff", "error", err)
		}
		e.notifyHandoff(ctx, lead, msg.Body, logger)
	case StateQualified:
		if err := e.CRM.AddTags(ctx, lead.ContactID, TagQualified); err != nil {
			logger.Error("failed to tag qualified", "error", err)
		}
	}

	if e.Queue == nil {
		return
	}
	for _, ch := range outreach.Channels {
		err := e.Queue.MarkStatus(ctx, outreach.ItemID(lead.ContactID, ch), outreach.StatusReplied)
		switch {
		case err == nil:
		case errors.Is(err, outreach.ErrItemNotFound), errors.Is(err, outreach.ErrStaleUpdate):
		default:
			logger.Warn("failed to mark queue item replied", "channel", ch, "error", err)
		}
	}
}

func (e *Engine) notifyHandoff(ctx context.Context, lead *LeadContext, body string, logger *logging.Logger) {
	if e.Notifier == nil {
		return
	}
	notice := notify.HandoffNotice{
		CompanyName: lead.CompanyName,
		ContactID:   lead.ContactID,
		ContactName: lead.Name,
		Phone:       lead.Phone,
		Email:       lead.Email,
		Property:    lead.RawAddress,
		LastMessage: body,
		Reason:      "Lead asked for a person",
		OccurredAt:  e.Now().UTC(),
	}
	if e.Accounts != nil {
		if acct, err := e.Accounts.GetActive(ctx, lead.UserID); err == nil {
			notice.OwnerEmail = acct.OwnerEmail
		}
	}
	if err := e.Notifier.NotifyHandoff(ctx, notice); err != nil {
		logger.Error("handoff notification failed", "error", err)
	}
}

func (e *Engine) loadHistory(ctx context.Context, contactID string, logger *logging.Logger) []ChatMessage {
	if e.History == nil {
		return nil
	}
	history, err := e.History.Load(ctx, contactID)
	if err != nil {
		logger.Warn("conversation history unavailable", "error", err)
		return nil
	}
	return history
}

func (e *Engine) saveHistory(ctx context.Context, contactID string, history []ChatMessage, logger *logging.Logger) {
	if e.History == nil {
		return
	}
	if err := e.History.Save(ctx, contactID, history); err != nil {
		logger.Warn("failed to save conversation history", "error", err)
	}
}
