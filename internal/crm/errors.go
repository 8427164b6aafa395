package crm

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wolfman30/propreach/internal/outreach"
)

// APIError is a non-2xx CRM response.
type APIError struct {
	Method     string `json:"-"`
	Path       string `json:"-"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Unwrap classifies the response into the outreach error taxonomy: 5xx and
// 429 are transient, 401 means the token is unusable, other 4xx are permanent.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return outreach.ErrTokenUnavailable
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return outreach.ErrTransient
	default:
		return outreach.ErrPermanent
	}
}

func decodeAPIError(method, path string, status int, body []byte) error {
	apiErr := &APIError{Method: method, Path: path, StatusCode: status}
	var parsed struct {
		Message any `json:"message"`
		Error   any `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Message = messageText(parsed.Message)
		if apiErr.Message == "" {
			apiErr.Message = messageText(parsed.Error)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// messageText flattens the vendor's string-or-array message field.
func messageText(v any) string {
	switch m := v.(type) {
	case string:
		return m
	case []any:
		if len(m) > 0 {
			return fmt.Sprint(m[0])
		}
	}
	return ""
}
