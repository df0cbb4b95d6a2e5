package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

func TestClient_Get(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		assert.Equal(t, "Bearer t0k", r.Header.Get("Authorization"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<p>ok</p>"))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Retry: fastRetry})
	resp, err := c.Get(context.Background(), srv.URL, http.Header{"Authorization": {"Bearer t0k"}})
	require.NoError(t, err)
	assert.Equal(t, "<p>ok</p>", string(resp.Body))
	assert.Equal(t, "text/html; charset=utf-8", resp.ContentType)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestClient_Classification(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantAttempts int32
		check        func(t *testing.T, err error)
	}{
		{"not found is terminal", http.StatusNotFound, 1, func(t *testing.T, err error) {
			var te *domain.TerminalItemError
			require.ErrorAs(t, err, &te)
			assert.True(t, IsNotFound(err))
		}},
		{"unauthorized is terminal", http.StatusUnauthorized, 1, func(t *testing.T, err error) {
			assert.True(t, IsUnauthorized(err))
			assert.False(t, domain.IsTransient(err))
		}},
		{"bad request is terminal", http.StatusBadRequest, 1, func(t *testing.T, err error) {
			assert.False(t, domain.IsTransient(err))
			assert.True(t, domain.IsItemScoped(err))
		}},
		{"server error retried then transient", http.StatusBadGateway, 3, func(t *testing.T, err error) {
			assert.True(t, domain.IsTransient(err))
			assert.True(t, domain.IsItemScoped(err))
		}},
		{"rate limited retried", http.StatusTooManyRequests, 3, func(t *testing.T, err error) {
			assert.True(t, IsRateLimited(err))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewClient(ClientConfig{Retry: fastRetry}).Get(context.Background(), srv.URL, nil)
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, tt.wantAttempts, atomic.LoadInt32(&hits))
		})
	}
}

func TestClient_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(ClientConfig{Retry: fastRetry}).Get(context.Background(), url, nil)
	assert.True(t, domain.IsTransient(err))
}

func TestClient_MaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	_, err := NewClient(ClientConfig{MaxBytes: 16}).Get(context.Background(), srv.URL, nil)
	var te *domain.TerminalItemError
	assert.ErrorAs(t, err, &te)
}

func TestClient_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	c := NewClient(ClientConfig{RequestsPerSecond: 20})
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), srv.URL, nil)
		require.NoError(t, err)
	}
	// Burst of one: the 2nd and 3rd requests wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
