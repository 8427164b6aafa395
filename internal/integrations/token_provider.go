package integrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/pkg/logging"
)

type tokenStore interface {
	GetActive(ctx context.Context, userID string) (*Integration, error)
	SaveToken(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error
}

// TokenProvider hands out valid CRM access tokens, refreshing them through
// the OAuth token endpoint shortly before they expire.
type TokenProvider struct {
	store  tokenStore
	oauth  *oauth2.Config
	group  singleflight.Group
	skew   time.Duration
	now    func() time.Time
	logger *logging.Logger
}

// NewOAuthConfig builds the refresh-only OAuth client for the CRM.
func NewOAuthConfig(clientID, clientSecret, tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// NewTokenProvider creates a provider over the integration store.
func NewTokenProvider(store tokenStore, cfg *oauth2.Config, logger *logging.Logger) *TokenProvider {
	if store == nil {
		panic("integrations: token store required")
	}
	if cfg == nil {
		panic("integrations: oauth config required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TokenProvider{
		store:  store,
		oauth:  cfg,
		skew:   5 * time.Minute,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// WithSkew sets how long before expiry a token is treated as expired.
func (p *TokenProvider) WithSkew(d time.Duration) *TokenProvider {
	p.skew = d
	return p
}

// GetValidToken returns a usable token or an error wrapping
// outreach.ErrTokenUnavailable.
func (p *TokenProvider) GetValidToken(ctx context.Context, userID string) (*Token, error) {
	integ, err := p.store.GetActive(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("integrations: no active integration for %s: %w", userID, outreach.ErrTokenUnavailable)
		}
		return nil, fmt.Errorf("integrations: load integration: %w", err)
	}
	if integ.AccessToken != "" && p.now().Add(p.skew).Before(integ.ExpiresAt) {
		return &Token{AccessToken: integ.AccessToken, LocationID: integ.LocationID, ExpiresAt: integ.ExpiresAt}, nil
	}
	return p.refresh(ctx, userID, false)
}

// Refresh exchanges the stored refresh token for a new access token even
// when the current one is still valid.
func (p *TokenProvider) Refresh(ctx context.Context, userID string) (*Token, error) {
	return p.refresh(ctx, userID, true)
}

// refresh coalesces concurrent refreshes for one account into a single token request.
func (p *TokenProvider) refresh(ctx context.Context, userID string, force bool) (*Token, error) {
	v, err, _ := p.group.Do(userID, func() (any, error) {
		integ, err := p.store.GetActive(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, outreach.ErrTokenUnavailable
			}
			return nil, err
		}
		// Another caller may have refreshed while this one waited.
		if !force && integ.AccessToken != "" && p.now().Add(p.skew).Before(integ.ExpiresAt) {
			return &Token{AccessToken: integ.AccessToken, LocationID: integ.LocationID, ExpiresAt: integ.ExpiresAt}, nil
		}
		if integ.RefreshToken == "" {
			return nil, fmt.Errorf("missing refresh token: %w", outreach.ErrTokenUnavailable)
		}

		src := p.oauth.TokenSource(ctx, &oauth2.Token{
			AccessToken:  integ.AccessToken,
			RefreshToken: integ.RefreshToken,
			Expiry:       p.now().Add(-time.Minute),
		})
		fresh, err := src.Token()
		if err != nil {
			return nil, fmt.Errorf("refresh token: %v: %w", err, outreach.ErrTokenUnavailable)
		}
		refresh := fresh.RefreshToken
		if refresh == "" {
			refresh = integ.RefreshToken
		}
		if err := p.store.SaveToken(ctx, userID, fresh.AccessToken, refresh, fresh.Expiry); err != nil {
			return nil, err
		}
		p.logger.Info("refreshed crm token", "user_id", userID, "expires_at", fresh.Expiry.Format(time.RFC3339))
		return &Token{AccessToken: fresh.AccessToken, LocationID: integ.LocationID, ExpiresAt: fresh.Expiry}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("integrations: %w", err)
	}
	return v.(*Token), nil
}
