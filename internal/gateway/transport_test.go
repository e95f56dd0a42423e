package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foundry-cloud/flow/internal/auth"
	"github.com/foundry-cloud/flow/internal/flowerr"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func fastRetry() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	return cfg
}

func newTransport(url string) *Transport {
	return New(url, nil, auth.StaticToken("tok"), fastRetry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTransportDo(t *testing.T) {
	t.Run("sends bearer and decodes json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var in map[string]int
			json.NewDecoder(r.Body).Decode(&in)
			json.NewEncoder(w).Encode(map[string]int{"doubled": in["n"] * 2})
		}))
		defer srv.Close()

		var out struct {
			Doubled int `json:"doubled"`
		}
		err := newTransport(srv.URL).Do(context.Background(), http.MethodPost, "/x", map[string]int{"n": 21}, &out)
		assert.NoError(t, err)
		check.Equal(t, 42, out.Doubled)
	})

	t.Run("retries transient status then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"a":1}` {
				t.Errorf("attempt %d got body %q", calls.Load()+1, body)
			}
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		err := newTransport(srv.URL).Do(context.Background(), http.MethodPost, "/x", map[string]int{"a": 1}, nil)
		assert.NoError(t, err)
		check.Equal(t, int32(3), calls.Load())
	})

	t.Run("exhaustion returns api error with last status", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		err := newTransport(srv.URL).Do(context.Background(), http.MethodGet, "/x", nil, nil)
		var apiErr *flowerr.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		check.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
		check.Equal(t, int32(4), calls.Load())
	})

	t.Run("401 is not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		err := newTransport(srv.URL).Do(context.Background(), http.MethodGet, "/x", nil, nil)
		var authErr *flowerr.AuthenticationError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected AuthenticationError, got %v", err)
		}
		check.Equal(t, int32(1), calls.Load())
	})

	t.Run("404 maps to api error with message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"bid not found"}`))
		}))
		defer srv.Close()

		err := newTransport(srv.URL).Do(context.Background(), http.MethodDelete, "/x", nil, nil)
		check.True(t, flowerr.IsNotFound(err))
		var apiErr *flowerr.APIError
		assert.True(t, errors.As(err, &apiErr))
		check.Equal(t, "bid not found", apiErr.Message)
	})

	t.Run("connection failure wraps network error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		err := newTransport(url).Do(context.Background(), http.MethodGet, "/x", nil, nil)
		var apiErr *flowerr.APIError
		assert.True(t, errors.As(err, &apiErr))
		check.Equal(t, 0, apiErr.StatusCode)
		check.True(t, flowerr.IsRetryable(err))
	})

	t.Run("token failure stops before any request", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer srv.Close()

		tr := New(srv.URL, nil, auth.StaticToken(""), fastRetry(), nil)
		err := tr.Do(context.Background(), http.MethodGet, "/x", nil, nil)
		var authErr *flowerr.AuthenticationError
		check.True(t, errors.As(err, &authErr))
		check.Equal(t, int32(0), calls.Load())
	})

	t.Run("client timeout on every attempt", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			select {
			case <-r.Context().Done():
			case <-time.After(200 * time.Millisecond):
			}
		}))
		defer srv.Close()

		retry := fastRetry()
		retry.MaxRetries = 1
		client := &http.Client{Timeout: 20 * time.Millisecond}
		err := New(srv.URL, client, auth.StaticToken("tok"), retry, nil).Do(context.Background(), http.MethodGet, "/x", nil, nil)

		var apiErr *flowerr.APIError
		assert.True(t, errors.As(err, &apiErr))
		check.Equal(t, 0, apiErr.StatusCode)
		var toErr *flowerr.TimeoutError
		check.True(t, errors.As(err, &toErr))
		check.Equal(t, int32(2), calls.Load())
	})

	t.Run("cancel during backoff is not a timeout", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		retry := DefaultRetryConfig()
		retry.InitialBackoff = time.Second
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		time.AfterFunc(50*time.Millisecond, cancel)

		err := New(srv.URL, nil, auth.StaticToken("tok"), retry, nil).Do(ctx, http.MethodGet, "/x", nil, nil)
		check.True(t, errors.Is(err, context.Canceled))
		var netErr *flowerr.NetworkError
		check.True(t, errors.As(err, &netErr))
		var toErr *flowerr.TimeoutError
		check.False(t, errors.As(err, &toErr))
		check.Equal(t, int32(1), calls.Load())
	})

	t.Run("deadline during backoff is a timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		retry := DefaultRetryConfig()
		retry.InitialBackoff = time.Second
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := New(srv.URL, nil, auth.StaticToken("tok"), retry, nil).Do(ctx, http.MethodGet, "/x", nil, nil)
		var toErr *flowerr.TimeoutError
		assert.True(t, errors.As(err, &toErr))
		check.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestTransportReauthenticates(t *testing.T) {
	var logins, calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			n := logins.Add(1)
			json.NewEncoder(w).Encode(map[string]string{"access_token": fmt.Sprintf("tok-%d", n)})
			return
		}
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a, err := auth.NewAuthenticator(srv.URL, "dev@example.com", "pw", srv.Client(), nil)
	assert.NoError(t, err)
	tr := New(srv.URL, srv.Client(), a, fastRetry(), nil)

	t.Run("stale token is replaced once", func(t *testing.T) {
		assert.NoError(t, tr.Do(context.Background(), http.MethodGet, "/x", nil, nil))
		check.Equal(t, int32(2), logins.Load())
		check.Equal(t, int32(2), calls.Load())
	})

	t.Run("fresh token is reused", func(t *testing.T) {
		assert.NoError(t, tr.Do(context.Background(), http.MethodGet, "/x", nil, nil))
		check.Equal(t, int32(2), logins.Load())
		check.Equal(t, int32(3), calls.Load())
	})

	t.Run("second rejection is returned", func(t *testing.T) {
		logins.Store(5)
		a.Invalidate()
		err := tr.Do(context.Background(), http.MethodGet, "/x", nil, nil)
		check.True(t, errors.Is(err, ErrTokenRejected))
		var authErr *flowerr.AuthenticationError
		check.True(t, errors.As(err, &authErr))
		check.Equal(t, int32(7), logins.Load())
	})
}
