package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wolfman30/propreach/internal/observability/metrics"
)

func TestSetupMetricsExposesOutreachCounters(t *testing.T) {
	registry, handler := setupMetrics()
	if registry == nil || handler == nil {
		t.Fatalf("expected non-nil registry and handler")
	}

	m := metrics.NewOutreachMetrics(registry)
	m.ObserveTouch("SMS", "sent")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go collector output")
	}
	if !strings.Contains(body, "propreach_outreach_touches_total") {
		t.Fatalf("expected touch counter to be exported")
	}
}
