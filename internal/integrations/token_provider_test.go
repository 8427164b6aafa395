package integrations

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/pkg/logging"
)

type fakeTokenStore struct {
	mu    sync.Mutex
	integ *Integration
	saves int
}

func (f *fakeTokenStore) GetActive(ctx context.Context, userID string) (*Integration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.integ == nil || f.integ.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *f.integ
	return &cp, nil
}

func (f *fakeTokenStore) SaveToken(ctx context.Context, userID, access, refresh string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.integ.AccessToken = access
	f.integ.RefreshToken = refresh
	f.integ.ExpiresAt = expiresAt
	return nil
}

func newTokenServer(t *testing.T, calls *int32, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "client-1", r.Form.Get("client_id"))
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh-access","refresh_token":"fresh-refresh","token_type":"Bearer","expires_in":86399}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenProvider_ReturnsValidTokenWithoutRefresh(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls, http.StatusOK)
	store := &fakeTokenStore{integ: &Integration{
		UserID: "user-1", LocationID: "loc-1", IsActive: true,
		AccessToken: "current", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour),
	}}
	p := NewTokenProvider(store, NewOAuthConfig("client-1", "secret", srv.URL), logging.Default())

	tok, err := p.GetValidToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "current", tok.AccessToken)
	assert.Equal(t, "loc-1", tok.LocationID)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestTokenProvider_RefreshesExpiredTokenOnce(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls, http.StatusOK)
	store := &fakeTokenStore{integ: &Integration{
		UserID: "user-1", LocationID: "loc-1", IsActive: true,
		AccessToken: "stale", RefreshToken: "r", ExpiresAt: time.Now().Add(-time.Minute),
	}}
	p := NewTokenProvider(store, NewOAuthConfig("client-1", "secret", srv.URL), logging.Default())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := p.GetValidToken(context.Background(), "user-1")
			assert.NoError(t, err)
			if tok != nil {
				assert.Equal(t, "fresh-access", tok.AccessToken)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, "fresh-refresh", store.integ.RefreshToken)
}

func TestTokenProvider_NoIntegration(t *testing.T) {
	p := NewTokenProvider(&fakeTokenStore{}, NewOAuthConfig("client-1", "secret", "http://127.0.0.1:1"), logging.Default())
	_, err := p.GetValidToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, outreach.ErrTokenUnavailable)
}

func TestTokenProvider_RefreshRejected(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls, http.StatusBadRequest)
	store := &fakeTokenStore{integ: &Integration{
		UserID: "user-1", IsActive: true, RefreshToken: "revoked", ExpiresAt: time.Now().Add(-time.Hour),
	}}
	p := NewTokenProvider(store, NewOAuthConfig("client-1", "secret", srv.URL), logging.Default())

	_, err := p.GetValidToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, outreach.ErrTokenUnavailable)
	assert.Zero(t, store.saves)
}

func TestTokenProvider_MissingRefreshToken(t *testing.T) {
	store := &fakeTokenStore{integ: &Integration{UserID: "user-1", IsActive: true, ExpiresAt: time.Now().Add(-time.Hour)}}
	p := NewTokenProvider(store, NewOAuthConfig("client-1", "secret", "http://127.0.0.1:1"), logging.Default())
	_, err := p.GetValidToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, outreach.ErrTokenUnavailable)
}
