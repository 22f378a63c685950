// Package github provides a REST client for the scientists' hosting
// workspace: repository bootstrap, branches, commits, pull requests and
// reviews. Authentication is pluggable through TokenSource so a simple
// personal access token and a GitHub App installation can be used
// interchangeably.
package github

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenSource yields a token usable in an Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same personal access token forever.
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token(_ context.Context) (string, error) {
	if s == "" {
		return "", errors.New("empty access token")
	}
	return string(s), nil
}

const (
	// appJWTLifetime is the validity window for App JWTs. GitHub caps
	// this at 10 minutes; stay below it to absorb clock skew.
	appJWTLifetime = 9 * time.Minute

	// installationRefreshBuffer refreshes installation tokens this long
	// before their stated expiry.
	installationRefreshBuffer = 5 * time.Minute
)

// AppTokenSource mints installation access tokens for a GitHub App. It
// signs a short-lived JWT with the App's private key, exchanges it for an
// installation token and caches the result until close to expiry.
type AppTokenSource struct {
	appID          string
	installationID int64
	key            *rsa.PrivateKey

	httpClient *http.Client
	baseURL    string
	now        func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// AppTokenOption configures an AppTokenSource.
type AppTokenOption func(*AppTokenSource)

// WithAppHTTPClient sets the HTTP client used for the token exchange.
func WithAppHTTPClient(c *http.Client) AppTokenOption {
	return func(a *AppTokenSource) {
		a.httpClient = c
	}
}

// WithAppBaseURL overrides the API base URL, primarily for tests.
func WithAppBaseURL(u string) AppTokenOption {
	return func(a *AppTokenSource) {
		a.baseURL = u
	}
}

// WithAppNowFunc overrides the clock, primarily for tests.
func WithAppNowFunc(now func() time.Time) AppTokenOption {
	return func(a *AppTokenSource) {
		a.now = now
	}
}

// NewAppTokenSource parses the PEM-encoded RSA private key and returns a
// token source for the given App and installation.
func NewAppTokenSource(appID string, installationID int64, privateKeyPEM []byte, opts ...AppTokenOption) (*AppTokenSource, error) {
	if appID == "" {
		return nil, errors.New("app ID is required")
	}
	if installationID <= 0 {
		return nil, errors.New("installation ID is required")
	}
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing App private key: %w", err)
	}
	a := &AppTokenSource{
		appID:          appID,
		installationID: installationID,
		key:            key,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		baseURL:        "https://api.github.com",
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

// Token returns a cached installation token, exchanging a fresh JWT when
// the cached one is missing or within the refresh buffer of expiry.
func (a *AppTokenSource) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && a.now().Before(a.expires.Add(-installationRefreshBuffer)) {
		return a.token, nil
	}
	appJWT, err := a.signJWT()
	if err != nil {
		return "", fmt.Errorf("signing App JWT: %w", err)
	}
	token, expires, err := a.exchange(ctx, appJWT)
	if err != nil {
		return "", fmt.Errorf("exchanging installation token: %w", err)
	}
	a.token = token
	a.expires = expires
	return a.token, nil
}

func (a *AppTokenSource) signJWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
}

func (a *AppTokenSource) exchange(ctx context.Context, appJWT string) (string, time.Time, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", a.baseURL, a.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, apiError(resp.StatusCode, body)
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("decoding token response: %w", err)
	}
	if payload.Token == "" {
		return "", time.Time{}, errors.New("token response contained no token")
	}
	return payload.Token, payload.ExpiresAt, nil
}

func apiError(status int, body []byte) error {
	var ghErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &ghErr); err == nil && ghErr.Message != "" {
		return fmt.Errorf("GitHub API error (status %d): %s", status, ghErr.Message)
	}
	return fmt.Errorf("GitHub API error (status %d)", status)
}
