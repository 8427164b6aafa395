package property

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/propreach/internal/conversation"
	"github.com/wolfman30/propreach/internal/outreach"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("X-Api-Key"))
		switch r.URL.Path {
		case "/addresses/validate":
			if r.URL.Query().Get("q") == "nowhere" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(`{"street":"12 Oak St","city":"Austin","state":"TX","zip":"78701"}`))
		case "/valuations":
			if r.URL.Query().Get("zip") == "00000" {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			if r.URL.Query().Get("zip") == "99999" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(`{"estimate":415000,"sqft":1800,"beds":3,"baths":2}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestValidate(t *testing.T) {
	c := NewClient(newServer(t).URL, "key-1", 0, nil)

	addr, err := c.Validate(context.Background(), "12 oak street austin")
	require.NoError(t, err)
	assert.Equal(t, "78701", addr.Zip)

	_, err = c.Validate(context.Background(), "nowhere")
	assert.ErrorIs(t, err, outreach.ErrPermanent)
}

func TestGetValuation(t *testing.T) {
	c := NewClient(newServer(t).URL, "key-1", 0, nil)

	v, err := c.GetValuation(context.Background(), conversation.Address{Street: "12 Oak St", Zip: "78701"})
	require.NoError(t, err)
	assert.Equal(t, 415000.0, v.EstimatedValue)
	assert.Equal(t, 3, v.Beds)

	v, err = c.GetValuation(context.Background(), conversation.Address{Zip: "99999"})
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = c.GetValuation(context.Background(), conversation.Address{Zip: "00000"})
	assert.ErrorIs(t, err, outreach.ErrTransient)
}

func TestNewClientWithoutURL(t *testing.T) {
	assert.Nil(t, NewClient("", "", 0, nil))
}
