package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/propreach/internal/conversation"
	"github.com/wolfman30/propreach/internal/disposition"
	"github.com/wolfman30/propreach/internal/integrations"
	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/internal/tenancy"
	"github.com/wolfman30/propreach/pkg/logging"
)

const maxBodyBytes = 1 << 20

type inboundEngine interface {
	HandleInbound(ctx context.Context, msg conversation.InboundMessage) (conversation.Result, error)
}

type dispositionHandler interface {
	Handle(ctx context.Context, evt outreach.DispositionEvent) (disposition.Result, error)
}

type enqueuer interface {
	Enqueue(ctx context.Context, item *outreach.QueueItem) (bool, error)
}

type locationResolver interface {
	FindByLocation(ctx context.Context, locationID string) (*integrations.Integration, error)
}

// WebhookHandler serves the CRM webhooks: inbound replies, call
// dispositions and outreach tagging.
type WebhookHandler struct {
	engine    inboundEngine
	disp      dispositionHandler
	queue     enqueuer
	locations locationResolver
	validate  *validator.Validate
	logger    *logging.Logger
}

func NewWebhookHandler(engine inboundEngine, disp dispositionHandler, queue enqueuer, locations locationResolver, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		engine:    engine,
		disp:      disp,
		queue:     queue,
		locations: locations,
		validate:  newValidator(),
		logger:    logger,
	}
}

type InboundRequest struct {
	ContactID      string `json:"contactId" validate:"required"`
	ConversationID string `json:"conversationId"`
	LocationID     string `json:"locationId"`
	MessageID      string `json:"messageId" validate:"required"`
	Channel        string `json:"channel" validate:"omitempty,oneof=SMS sms Email email EMAIL"`
	Body           string `json:"body" validate:"required"`
}

type InboundResponse struct {
	Reply     string `json:"reply"`
	Skipped   bool   `json:"skipped,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	State     string `json:"state,omitempty"`
}

type DispositionRequest struct {
	ContactID  string `json:"contactId" validate:"required"`
	Outcome    string `json:"outcome" validate:"required"`
	LocationID string `json:"locationId"`
}

type DispositionResponse struct {
	UpdatedContacts int    `json:"updatedContacts"`
	Failed          int    `json:"failed,omitempty"`
	Resolver        string `json:"resolver,omitempty"`
}

type ContactTaggedRequest struct {
	ContactID       string   `json:"contactId" validate:"required"`
	LocationID      string   `json:"locationId"`
	LeadID          string   `json:"leadId"`
	ContactName     string   `json:"contactName"`
	Phone           string   `json:"phone"`
	Email           string   `json:"email" validate:"omitempty,email"`
	PropertyAddress string   `json:"propertyAddress"`
	Channels        []string `json:"channels" validate:"omitempty,dive,oneof=SMS sms Email email EMAIL"`
}

// Inbound runs one reply through the conversation engine.
func (h *WebhookHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	var req InboundRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx, ok := h.account(w, r, req.LocationID)
	if !ok {
		return
	}
	ch := outreach.ChannelSMS
	if req.Channel != "" {
		ch, _ = outreach.ParseChannel(req.Channel)
	}
	res, err := h.engine.HandleInbound(ctx, conversation.InboundMessage{
		ContactID:      req.ContactID,
		ConversationID: req.ConversationID,
		LocationID:     req.LocationID,
		MessageID:      req.MessageID,
		Channel:        ch,
		Body:           req.Body,
	})
	switch {
	case errors.Is(err, outreach.ErrIneligibleContact):
		writeJSON(w, http.StatusOK, InboundResponse{Skipped: true})
		return
	case errors.Is(err, outreach.ErrTokenUnavailable):
		jsonError(w, "crm integration unavailable", http.StatusServiceUnavailable)
		return
	case errors.Is(err, outreach.ErrQuotaExceeded):
		jsonError(w, "message quota exhausted", http.StatusTooManyRequests)
		return
	case err != nil:
		h.logger.Error("inbound message failed", "contact_id", req.ContactID, "error", err)
		jsonError(w, "failed to process message", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, InboundResponse{
		Reply:     res.Reply,
		Skipped:   res.Skipped,
		Duplicate: res.Duplicate,
		State:     string(res.State),
	})
}

// Disposition applies a call outcome and fans it out to siblings.
func (h *WebhookHandler) Disposition(w http.ResponseWriter, r *http.Request) {
	var req DispositionRequest
	if !h.decode(w, r, &req) {
		return
	}
	outcome, err := outreach.ParseOutcome(req.Outcome)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, ok := h.account(w, r, req.LocationID)
	if !ok {
		return
	}
	userID, _ := tenancy.UserIDFromContext(ctx)
	res, err := h.disp.Handle(ctx, outreach.DispositionEvent{
		UserID:     userID,
		ContactID:  req.ContactID,
		Outcome:    outcome,
		Source:     disposition.SourceWebhook,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("disposition webhook failed", "contact_id", req.ContactID, "outcome", outcome, "error", err)
		jsonError(w, "failed to apply disposition", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, DispositionResponse{
		UpdatedContacts: res.UpdatedContacts,
		Failed:          res.Failed,
		Resolver:        res.Resolver,
	})
}

// ContactTagged queues a newly tagged contact on each requested channel.
// Channels default to those the contact has an address for.
func (h *WebhookHandler) ContactTagged(w http.ResponseWriter, r *http.Request) {
	var req ContactTaggedRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx, ok := h.account(w, r, req.LocationID)
	if !ok {
		return
	}
	userID, _ := tenancy.UserIDFromContext(ctx)

	channels := make([]outreach.Channel, 0, 2)
	for _, raw := range req.Channels {
		if ch, err := outreach.ParseChannel(raw); err == nil {
			channels = append(channels, ch)
		}
	}
	if len(req.Channels) == 0 {
		if strings.TrimSpace(req.Phone) != "" {
			channels = append(channels, outreach.ChannelSMS)
		}
		if strings.TrimSpace(req.Email) != "" {
			channels = append(channels, outreach.ChannelEmail)
		}
	}
	if len(channels) == 0 {
		jsonError(w, "contact has no phone or email", http.StatusUnprocessableEntity)
		return
	}

	created := 0
	for _, ch := range channels {
		ok, err := h.queue.Enqueue(ctx, &outreach.QueueItem{
			UserID:          userID,
			LocationID:      req.LocationID,
			ContactID:       req.ContactID,
			Channel:         ch,
			LeadID:          req.LeadID,
			PropertyAddress: req.PropertyAddress,
			ContactName:     req.ContactName,
			ContactPhone:    req.Phone,
			ContactEmail:    req.Email,
		})
		if err != nil {
			h.logger.Error("enqueue failed", "contact_id", req.ContactID, "channel", ch, "error", err)
			jsonError(w, "failed to queue contact", http.StatusInternalServerError)
			return
		}
		if ok {
			created++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"created": created})
}

// account puts the owning account in the request context. A verified
// webhook token wins; otherwise the CRM location id is looked up.
func (h *WebhookHandler) account(w http.ResponseWriter, r *http.Request, locationID string) (context.Context, bool) {
	ctx := r.Context()
	if _, ok := tenancy.UserIDFromContext(ctx); ok {
		return ctx, true
	}
	locationID = strings.TrimSpace(locationID)
	if locationID == "" || h.locations == nil {
		jsonError(w, "locationId required", http.StatusBadRequest)
		return nil, false
	}
	integ, err := h.locations.FindByLocation(ctx, locationID)
	if errors.Is(err, integrations.ErrNotFound) {
		jsonError(w, "unknown location", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.logger.Error("location lookup failed", "location_id", locationID, "error", err)
		jsonError(w, "failed to resolve account", http.StatusInternalServerError)
		return nil, false
	}
	ctx = tenancy.WithUserID(ctx, integ.UserID)
	return tenancy.WithLocationID(ctx, locationID), true
}

func (h *WebhookHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		jsonError(w, validationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
