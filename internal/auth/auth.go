package auth

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
	"strings"

	"github.com/foundry-cloud/flow/internal/flowerr"
)

// TokenSource yields the bearer token attached to every gateway request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a pre-issued token, e.g. from FOUNDRY_TOKEN.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", &flowerr.AuthenticationError{Msg: "empty token"}
	}
	return string(t), nil
}

// Authenticator exchanges email/password for an access token on first use and
// caches it for the life of the process. It is not safe for concurrent use.
type Authenticator struct {
	apiURL   string
	email    string
	password string
	client   *http.Client
	logger   *slog.Logger

	token string
}

func NewAuthenticator(apiURL, email, password string, client *http.Client, logger *slog.Logger) (*Authenticator, error) {
	if strings.TrimSpace(email) == "" {
		return nil, &flowerr.ConfigurationError{Msg: "email must not be empty"}
	}
	if password == "" {
		return nil, &flowerr.ConfigurationError{Msg: "password must not be empty"}
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		apiURL:   strings.TrimRight(apiURL, "/"),
		email:    email,
		password: password,
		client:   client,
		logger:   logger,
	}, nil
}

func (a *Authenticator) Token(ctx context.Context) (string, error) {
	if a.token != "" {
		return a.token, nil
	}
	token, err := a.login(ctx)
	if err != nil {
		return "", err
	}
	a.token = token
	return token, nil
}

// Invalidate drops the cached token so the next call logs in again.
func (a *Authenticator) Invalidate() {
	a.token = ""
}

func (a *Authenticator) login(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"email":    a.email,
		"password": a.password,
	})
	loginURL := a.apiURL + "/login"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, bytes.NewReader(body))
	if err != nil {
		return "", &flowerr.AuthenticationError{Msg: "building login request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	a.logger.Debug("authenticating", "url", loginURL)
	resp, err := a.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return "", &flowerr.TimeoutError{Op: "login", Err: err}
		}
		return "", &flowerr.NetworkError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", &flowerr.AuthenticationError{Msg: "invalid email or password"}
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &flowerr.AuthenticationError{Msg: fmt.Sprintf("login returned status %d", resp.StatusCode), Err: errors.New(strings.TrimSpace(string(b)))}
	}

	var res struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", &flowerr.AuthenticationError{Msg: "invalid login response", Err: err}
	}
	if res.AccessToken == "" {
		return "", &flowerr.AuthenticationError{Msg: "access token not found in response"}
	}

	a.logger.Info("authenticated", "email", a.email)
	return res.AccessToken, nil
}
