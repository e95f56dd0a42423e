package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/foundry-cloud/flow/internal/auth"
	"github.com/foundry-cloud/flow/internal/flowerr"
)

// Gateway performs one authenticated Foundry API call. body is JSON-encoded
// when non-nil; out receives the decoded response when non-nil.
type Gateway interface {
	Do(ctx context.Context, method, path string, body, out any) error
}

// RetryConfig defines retry behavior for transient failures.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RetryableStatuses []int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		RetryableStatuses: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// ErrTokenRejected marks an AuthenticationError caused by a 401 response.
var ErrTokenRejected = errors.New("token rejected")

// invalidator is implemented by token sources that cache, such as
// *auth.Authenticator.
type invalidator interface {
	Invalidate()
}

// Transport is the retrying Gateway implementation. Retries cover transport
// errors and RetryableStatuses only. A 401 is never retried, except that a
// caching token source is invalidated and the request is sent once more
// with a fresh token.
type Transport struct {
	baseURL string
	client  *http.Client
	tokens  auth.TokenSource
	retry   RetryConfig
	logger  *slog.Logger
}

func New(baseURL string, client *http.Client, tokens auth.TokenSource, retry RetryConfig, logger *slog.Logger) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		tokens:  tokens,
		retry:   retry,
		logger:  logger,
	}
}

func (t *Transport) Do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body for %s: %w", op, err)
		}
	}

	token, err := t.tokens.Token(ctx)
	if err != nil {
		return err
	}

	err = t.send(ctx, op, method, path, encoded, token, out)
	inv, ok := t.tokens.(invalidator)
	if !ok || !errors.Is(err, ErrTokenRejected) {
		return err
	}

	t.logger.InfoContext(ctx, "token rejected, logging in again", "op", op)
	inv.Invalidate()
	if token, err = t.tokens.Token(ctx); err != nil {
		return err
	}
	return t.send(ctx, op, method, path, encoded, token, out)
}

func (t *Transport) send(ctx context.Context, op, method, path string, encoded []byte, token string, out any) error {
	var lastErr error
	backoff := t.retry.InitialBackoff

	for attempt := 0; attempt <= t.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			t.logger.DebugContext(ctx, "retrying request",
				"op", op,
				"attempt", attempt,
				"backoff", backoff,
				"error", lastErr,
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return classify(op, ctx.Err())
			}

			backoff *= 2
			if backoff > t.retry.MaxBackoff {
				backoff = t.retry.MaxBackoff
			}
		}

		var bodyReader io.Reader
		if encoded != nil {
			bodyReader = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request for %s: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := t.client.Do(req)
		if err != nil {
			lastErr = classify(op, err)
			if ctx.Err() != nil {
				return lastErr
			}
			continue
		}

		if slices.Contains(t.retry.RetryableStatuses, resp.StatusCode) {
			lastErr = responseError(resp)
			resp.Body.Close()
			continue
		}

		return t.handle(ctx, op, resp, out)
	}

	exhausted := &flowerr.APIError{
		Message: fmt.Sprintf("%s failed after %d attempts", op, t.retry.MaxRetries+1),
		Err:     lastErr,
	}
	var apiErr *flowerr.APIError
	if errors.As(lastErr, &apiErr) {
		exhausted.StatusCode = apiErr.StatusCode
		exhausted.Body = apiErr.Body
		exhausted.Err = nil
	}
	t.logger.ErrorContext(ctx, "request failed", "op", op, "error", exhausted)
	return exhausted
}

func (t *Transport) handle(ctx context.Context, op string, resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &flowerr.AuthenticationError{Msg: op, Err: ErrTokenRejected}
	}
	if resp.StatusCode >= 400 {
		err := responseError(resp)
		t.logger.DebugContext(ctx, "request returned error", "op", op, "status", resp.StatusCode)
		return err
	}

	t.logger.DebugContext(ctx, "request succeeded", "op", op, "status", resp.StatusCode)
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &flowerr.APIError{StatusCode: resp.StatusCode, Message: "invalid response from " + op, Err: err}
	}
	return nil
}

// classify maps a transport failure to TimeoutError when a deadline ran out
// and to NetworkError otherwise, caller cancellation included.
func classify(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &flowerr.TimeoutError{Op: op, Err: err}
	}
	return &flowerr.NetworkError{Op: op, Err: err}
}

// responseError builds an APIError from a non-2xx response, pulling a message
// out of a JSON error body when there is one.
func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &flowerr.APIError{StatusCode: resp.StatusCode}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(raw, &parsed) == nil {
			for _, m := range []string{parsed.Message, parsed.Detail, parsed.Error} {
				if m != "" {
					apiErr.Message = m
					return apiErr
				}
			}
		}
	}
	apiErr.Body = strings.TrimSpace(string(raw))
	return apiErr
}
