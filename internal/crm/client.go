// Package crm is the LeadConnector (GoHighLevel) gateway: contacts, custom
// fields, tags, conversations, opportunities and calendars.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/wolfman30/propreach/internal/integrations"
	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/internal/tenancy"
	"github.com/wolfman30/propreach/pkg/logging"
)

const (
	defaultBaseURL    = "https://services.leadconnectorhq.com"
	defaultAPIVersion = "2021-07-28"
	defaultUserAgent  = "propreach-outreach/1.0"
)

var tracer = otel.Tracer("propreach.internal.crm")

// TokenProvider supplies a valid bearer token for an account.
type TokenProvider interface {
	GetValidToken(ctx context.Context, userID string) (*integrations.Token, error)
}

// Config controls how the CRM client behaves.
type Config struct {
	BaseURL     string
	APIVersion  string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	HTTPClient  *http.Client
	Fields      FieldMap
	Logger      *logging.Logger
}

// Client calls the CRM on behalf of the account carried in the request context.
type Client struct {
	baseURL     string
	apiVersion  string
	httpClient  *http.Client
	tokens      TokenProvider
	fields      FieldMap
	maxAttempts int
	backoff     time.Duration
	logger      *logging.Logger
}

// New creates a configured Client with sane defaults.
func New(cfg Config, tokens TokenProvider) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("crm: token provider is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:     baseURL,
		apiVersion:  apiVersion,
		httpClient:  httpClient,
		tokens:      tokens,
		fields:      cfg.Fields,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logger,
	}, nil
}

// Fields returns the custom field mapping the client writes through.
func (c *Client) Fields() FieldMap {
	return c.fields
}

// call describes one CRM request. Retryable calls are reads, searches and
// writes that are safe to repeat.
type call struct {
	method    string
	path      string
	query     url.Values
	body      any
	retryable bool
	// locationQuery names a query parameter to fill with the token's location id.
	locationQuery string
	// locationBody sets "locationId" on a map body.
	locationBody bool
}

func (c *Client) invoke(ctx context.Context, op call, out any) error {
	userID, ok := tenancy.UserIDFromContext(ctx)
	if !ok {
		return errors.New("crm: account missing from context")
	}
	token, err := c.tokens.GetValidToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("crm: %w", err)
	}

	query := op.query
	if op.locationQuery != "" {
		query = url.Values{}
		for k, v := range op.query {
			query[k] = v
		}
		query.Set(op.locationQuery, token.LocationID)
	}
	if body, ok := op.body.(map[string]any); ok && op.locationBody {
		body["locationId"] = token.LocationID
	}

	var payload []byte
	if op.body != nil {
		payload, err = json.Marshal(op.body)
		if err != nil {
			return fmt.Errorf("crm: encode request: %w", err)
		}
	}

	attempts := 1
	if op.retryable {
		attempts = c.maxAttempts
	}
	fullURL := c.buildURL(op.path, query)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, attempt-1); err != nil {
				return err
			}
		}
		data, status, err := c.do(ctx, op.method, fullURL, token.AccessToken, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("crm: %s %s: %v: %w", op.method, op.path, err, outreach.ErrTransient)
			if shouldRetry(0, err) && attempt < attempts {
				c.logRetry(op, attempt, 0, err)
				continue
			}
			return lastErr
		}
		if status >= 200 && status < 300 {
			if out == nil || len(data) == 0 {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("crm: decode %s response: %w", op.path, err)
			}
			return nil
		}
		apiErr := decodeAPIError(op.method, op.path, status, data)
		lastErr = apiErr
		if shouldRetry(status, nil) && attempt < attempts {
			c.logRetry(op, attempt, status, apiErr)
			continue
		}
		return apiErr
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, fullURL, accessToken string, payload []byte) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Version", c.apiVersion)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return data, resp.StatusCode, nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// sleep waits attempt × backoff.
func (c *Client) sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff * time.Duration(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(op call, attempt, status int, err error) {
	c.logger.Warn("crm request retry",
		"method", op.method,
		"path", op.path,
		"attempt", attempt,
		"status", status,
		"error", err,
	)
}

// shouldRetry is true for timeouts, network failures and 5xx responses.
func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	return status >= 500 && status <= 599
}
