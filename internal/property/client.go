// Package property looks up postal addresses and automated valuations from
// a property-data HTTP API.
package property

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/propreach/internal/conversation"
	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/pkg/logging"
)

// Client implements conversation.AddressValidator and conversation.ValuationLookup.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

var (
	_ conversation.AddressValidator = (*Client)(nil)
	_ conversation.ValuationLookup  = (*Client)(nil)
)

// NewClient returns nil when baseURL is empty so callers can leave the tools unwired.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logging.Logger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type addressResponse struct {
	Street string  `json:"street"`
	City   string  `json:"city"`
	State  string  `json:"state"`
	Zip    string  `json:"zip"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

// Validate normalizes a free-text address. An unknown address is an error.
func (c *Client) Validate(ctx context.Context, address string) (*conversation.Address, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("property: address required")
	}
	var out addressResponse
	found, err := c.get(ctx, "/addresses/validate", url.Values{"q": {address}}, &out)
	if err != nil {
		return nil, err
	}
	if !found || out.Street == "" {
		return nil, fmt.Errorf("property: address %q not recognized: %w", address, outreach.ErrPermanent)
	}
	return &conversation.Address{
		Street: out.Street,
		City:   out.City,
		State:  out.State,
		Zip:    out.Zip,
		Lat:    out.Lat,
		Lng:    out.Lng,
	}, nil
}

type valuationResponse struct {
	Estimate  float64 `json:"estimate"`
	Sqft      int     `json:"sqft"`
	Beds      int     `json:"beds"`
	Baths     float64 `json:"baths"`
	YearBuilt int     `json:"yearBuilt"`
}

// GetValuation returns nil without error when the provider has no estimate.
func (c *Client) GetValuation(ctx context.Context, addr conversation.Address) (*conversation.Valuation, error) {
	q := url.Values{
		"street": {addr.Street},
		"city":   {addr.City},
		"state":  {addr.State},
		"zip":    {addr.Zip},
	}
	var out valuationResponse
	found, err := c.get(ctx, "/valuations", q, &out)
	if err != nil {
		return nil, err
	}
	if !found || out.Estimate <= 0 {
		return nil, nil
	}
	return &conversation.Valuation{
		EstimatedValue: out.Estimate,
		Sqft:           out.Sqft,
		Beds:           out.Beds,
		Baths:          out.Baths,
		YearBuilt:      out.YearBuilt,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, dst any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("property: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("property: %s: %v: %w", path, err, outreach.ErrTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("property: %s returned %d: %w", path, resp.StatusCode, outreach.ErrTransient)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("property: %s returned %d: %s: %w", path, resp.StatusCode, strings.TrimSpace(string(body)), outreach.ErrPermanent)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return false, fmt.Errorf("property: decode %s: %w", path, err)
	}
	return true, nil
}
