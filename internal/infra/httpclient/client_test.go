package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

func TestDoDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/call", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"call-1"}`))
	}))
	defer srv.Close()

	c := New(Config{Name: "test", BaseURL: srv.URL + "/", APIKey: "secret"})
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, c.Do(context.Background(), http.MethodPost, "/call", map[string]string{"to": "+1"}, &out))
	assert.Equal(t, "call-1", out.ID)
}

func TestDoMapsStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{Name: "test", BaseURL: srv.URL})
	err := c.Do(context.Background(), http.MethodGet, "/call/x", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{Name: "test", BaseURL: srv.URL, BreakerFailures: 2, BreakerTimeout: time.Minute})
	for i := 0; i < 2; i++ {
		require.ErrorIs(t, c.Do(context.Background(), http.MethodGet, "/", nil, nil), apperrors.ErrUnavailable)
	}
	err := c.Do(context.Background(), http.MethodGet, "/", nil, nil)
	require.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, "open", c.State())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{Name: "test", BaseURL: srv.URL, BreakerFailures: 1})
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, c.Do(context.Background(), http.MethodGet, "/", nil, nil), apperrors.ErrValidation)
	}
	assert.Equal(t, "closed", c.State())
}
