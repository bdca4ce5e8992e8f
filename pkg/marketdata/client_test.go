package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finscreen/internal/resilience"
)

func fastRetry() Option {
	return WithRetry(resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/info/AAPL", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"AAPL","marketCap":3019131060224.123456789,"fullTimeEmployees":161000}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithAPIKey("secret"), WithRateLimit(0))
	p, err := c.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", p["symbol"])
	assert.Equal(t, json.Number("3019131060224.123456789"), p["marketCap"])
	assert.Equal(t, json.Number("161000"), p["fullTimeEmployees"])
}

func TestFetch_UnknownSymbol(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRateLimit(0)).Fetch(context.Background(), "NOPE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownSymbol))
	assert.Contains(t, err.Error(), "NOPE")
}

func TestFetch_Malformed(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"array":   `[1,2,3]`,
		"garbage": `<html>oops</html>`,
		"null":    `null`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, WithRateLimit(0)).Fetch(context.Background(), "X")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestFetch_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"MSFT"}`))
	}))
	defer srv.Close()

	p, err := NewClient(srv.URL, WithRateLimit(0), fastRetry()).Fetch(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "MSFT", p["symbol"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad symbol"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRateLimit(0), fastRetry()).Fetch(context.Background(), "X")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL,
		WithRateLimit(0),
		WithRetry(resilience.RetryConfig{MaxAttempts: 1}),
		WithCircuitBreaker(2, time.Minute),
	)

	for i := 0; i < 2; i++ {
		_, err := c.Fetch(context.Background(), "X")
		require.Error(t, err)
		assert.True(t, resilience.IsTransient(err))
	}

	_, err := c.Fetch(context.Background(), "X")
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_NotFoundDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateLimit(0), WithCircuitBreaker(1, time.Minute))
	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), "X")
		assert.True(t, errors.Is(err, ErrUnknownSymbol))
	}
}

func TestRaw_EscapesPath(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/option_chain/BRK.B/2025-01-17", r.URL.Path)
		assert.Equal(t, "/option_chain/BRK.B/2025-01-17", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"calls":[]}`))
	}))
	defer srv.Close()

	body, err := NewClient(srv.URL+"/", WithRateLimit(0)).Raw(context.Background(), "option_chain", "BRK.B", "2025-01-17")
	require.NoError(t, err)
	assert.JSONEq(t, `{"calls":[]}`, string(body))
}

func TestRaw_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRateLimit(0)).Raw(context.Background(), "news", "X")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFetch_ContextTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL, WithRateLimit(0), fastRetry()).Fetch(ctx, "SLOW")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWithRateLimit(t *testing.T) {
	c := NewClient("http://x", WithRateLimit(0.5))
	require.NotNil(t, c.limiter)
	assert.Equal(t, 1, c.limiter.Burst())

	c = NewClient("http://x", WithRateLimit(0))
	assert.Nil(t, c.limiter)
}
