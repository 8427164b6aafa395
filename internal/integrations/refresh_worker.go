package integrations

import (
	"context"
	"time"

	"github.com/wolfman30/propreach/pkg/logging"
)

type activeLister interface {
	ListActive(ctx context.Context) ([]Integration, error)
}

type refresher interface {
	Refresh(ctx context.Context, userID string) (*Token, error)
}

// RefreshWorker periodically refreshes CRM tokens before they expire so
// scheduled runs rarely pay for a refresh inline.
type RefreshWorker struct {
	lister        activeLister
	refresher     refresher
	logger        *logging.Logger
	interval      time.Duration
	refreshBefore time.Duration
	now           func() time.Time
}

// NewRefreshWorker creates a new token refresh worker.
func NewRefreshWorker(lister activeLister, r refresher, logger *logging.Logger) *RefreshWorker {
	if logger == nil {
		logger = logging.Default()
	}
	return &RefreshWorker{
		lister:        lister,
		refresher:     r,
		logger:        logger,
		interval:      15 * time.Minute,
		refreshBefore: time.Hour,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithInterval sets the check interval.
func (w *RefreshWorker) WithInterval(interval time.Duration) *RefreshWorker {
	w.interval = interval
	return w
}

// WithRefreshBefore sets how long before expiry to refresh.
func (w *RefreshWorker) WithRefreshBefore(d time.Duration) *RefreshWorker {
	w.refreshBefore = d
	return w
}

// Start runs the worker until ctx is cancelled.
func (w *RefreshWorker) Start(ctx context.Context) {
	w.logger.Info("starting crm token refresh worker",
		"interval", w.interval.String(),
		"refresh_before", w.refreshBefore.String(),
	)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("token refresh worker shutting down")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce refreshes every active token expiring within refreshBefore and
// returns how many were refreshed.
func (w *RefreshWorker) RunOnce(ctx context.Context) int {
	active, err := w.lister.ListActive(ctx)
	if err != nil {
		w.logger.Error("failed to list integrations", "error", err)
		return 0
	}
	cutoff := w.now().Add(w.refreshBefore)
	refreshed := 0
	for _, integ := range active {
		if integ.ExpiresAt.After(cutoff) {
			continue
		}
		if _, err := w.refresher.Refresh(ctx, integ.UserID); err != nil {
			w.logger.Error("failed to refresh token", "user_id", integ.UserID, "error", err)
			continue
		}
		refreshed++
	}
	if refreshed > 0 {
		w.logger.Info("refreshed expiring crm tokens", "count", refreshed)
	}
	return refreshed
}
