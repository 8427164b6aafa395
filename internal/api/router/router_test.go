package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/propreach/internal/conversation"
	"github.com/wolfman30/propreach/internal/disposition"
	"github.com/wolfman30/propreach/internal/http/handlers"
	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/pkg/logging"
)

type noopEngine struct{}

func (noopEngine) HandleInbound(context.Context, conversation.InboundMessage) (conversation.Result, error) {
	return conversation.Result{Reply: "ok"}, nil
}

type noopDisposition struct{}

func (noopDisposition) Handle(context.Context, outreach.DispositionEvent) (disposition.Result, error) {
	return disposition.Result{}, nil
}

func newTestRouter(secret string) http.Handler {
	return newRouter(secret, secret == "")
}

func newRouter(secret string, open bool) http.Handler {
	wh := handlers.NewWebhookHandler(noopEngine{}, noopDisposition{}, outreach.NewMemoryQueue(), nil, logging.Default())
	return New(&Config{
		Logger:         logging.Default(),
		Webhooks:       wh,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
		WebhookSecret:  secret,
		OpenWebhooks:   open,
	})
}

func TestRouterHealthEndpoint(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter("").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestRouterMetricsEndpoint(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter("").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestWebhooksRequireTokenWhenConfigured(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", strings.NewReader(`{"contactId":"c","body":"hi"}`))
	rr := httptest.NewRecorder()
	newTestRouter("secret").ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestWebhooksRejectedWithoutSecret(t *testing.T) {
	for _, path := range []string{"/webhooks/inbound", "/webhooks/disposition", "/webhooks/contact-tagged"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"contactId":"c","outcome":"dnc","locationId":"loc-1"}`))
		rr := httptest.NewRecorder()
		newRouter("", false).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
}

func TestWebhookRouteWired(t *testing.T) {
	// Without a token or location the handler itself rejects the call.
	req := httptest.NewRequest(http.MethodPost, "/webhooks/disposition", strings.NewReader(`{"contactId":"c","outcome":"dnc"}`))
	rr := httptest.NewRecorder()
	newTestRouter("").ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
