// Package token acquires and silently refreshes the bearer credential used
// to authenticate the streaming session socket.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/avocetlabs/voicewidget/internal/httpc"
)

// Refresh policy constants.
const (
	// refreshCap bounds how far out a refresh is scheduled.
	refreshCap = time.Hour

	// refreshMargin is how long before expiry the refresh fires.
	refreshMargin = 5 * time.Minute

	// shortValidity triggers a warning when a fetched credential is
	// about to expire.
	shortValidity = 10 * time.Minute

	// DefaultMaxWait bounds how long a concurrent caller waits on an
	// in-flight fetch.
	DefaultMaxWait = 15 * time.Second
)

// Sentinel errors.
var (
	ErrClosed       = errors.New("token: manager closed")
	ErrFetchTimeout = errors.New("token: timed out waiting for in-flight fetch")
)

// AuthError indicates the credential endpoint was unreachable or refused.
type AuthError struct {
	StatusCode int
	Cause      error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token: credential endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("token: credential fetch failed: %v", e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// Credential is a bearer token with its validity window.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// TTL returns the remaining validity.
func (c Credential) TTL() time.Duration {
	return time.Until(c.ExpiresAt)
}

// Valid reports whether the credential is present and unexpired.
func (c Credential) Valid() bool {
	return c.Token != "" && time.Now().Before(c.ExpiresAt)
}

// Manager owns the credential: it fetches on demand, deduplicates concurrent
// fetches, and schedules a silent background refresh before expiry.
type Manager struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	maxWait  time.Duration

	mu       sync.Mutex
	cred     Credential
	inflight *pending
	refresh  *time.Timer
	closed   bool
}

type pending struct {
	done chan struct{}
	cred Credential
	err  error
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMaxWait bounds how long concurrent callers wait on an in-flight fetch.
func WithMaxWait(d time.Duration) Option {
	return func(m *Manager) { m.maxWait = d }
}

// NewManager creates a Manager for the given credential endpoint.
func NewManager(endpoint string, opts ...Option) *Manager {
	m := &Manager{
		endpoint: endpoint,
		client:   httpc.Client,
		logger:   slog.Default().With("component", "token"),
		maxWait:  DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the cached credential, if one is held and unexpired.
func (m *Manager) Current() (Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred.Valid() {
		return m.cred, true
	}
	return Credential{}, false
}

// Fetch obtains a credential. At most one request is in flight at a time;
// concurrent callers await its result with a bounded wait. On success a
// background refresh is scheduled at min(1h, validity-5m).
func (m *Manager) Fetch(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Credential{}, ErrClosed
	}
	if p := m.inflight; p != nil {
		m.mu.Unlock()
		select {
		case <-p.done:
			return p.cred, p.err
		case <-time.After(m.maxWait):
			return Credential{}, ErrFetchTimeout
		case <-ctx.Done():
			return Credential{}, ctx.Err()
		}
	}
	p := &pending{done: make(chan struct{})}
	m.inflight = p
	m.mu.Unlock()

	cred, err := m.fetch(ctx)

	m.mu.Lock()
	m.inflight = nil
	if err == nil && !m.closed {
		m.cred = cred
		m.scheduleRefreshLocked(cred)
	}
	m.mu.Unlock()

	p.cred, p.err = cred, err
	close(p.done)
	return cred, err
}

// Close cancels any pending refresh and discards the cached credential.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.refresh != nil {
		m.refresh.Stop()
		m.refresh = nil
	}
	m.cred = Credential{}
}

// tokenResponse matches the credential endpoint payload. The endpoint may
// report validity as an absolute timestamp or a relative window.
type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // unix seconds
	ExpiresIn int64  `json:"expires_in,omitempty"` // seconds from now
}

func (m *Manager) fetch(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoint, nil)
	if err != nil {
		return Credential{}, &AuthError{Cause: err}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return Credential{}, &AuthError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, &AuthError{StatusCode: resp.StatusCode}
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Credential{}, &AuthError{Cause: err}
	}
	if body.Token == "" {
		return Credential{}, &AuthError{Cause: errors.New("empty token in response")}
	}

	cred := Credential{Token: body.Token}
	switch {
	case body.ExpiresAt > 0:
		cred.ExpiresAt = time.Unix(body.ExpiresAt, 0)
	case body.ExpiresIn > 0:
		cred.ExpiresAt = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	default:
		cred.ExpiresAt = time.Now().Add(refreshCap)
	}

	if ttl := cred.TTL(); ttl < shortValidity {
		m.logger.Warn("fetched credential expires soon", "ttl", ttl.Round(time.Second))
	}

	return cred, nil
}

func (m *Manager) scheduleRefreshLocked(cred Credential) {
	if m.refresh != nil {
		m.refresh.Stop()
	}
	delay := refreshDelay(cred.TTL())
	m.refresh = time.AfterFunc(delay, func() {
		m.logger.Debug("refreshing credential")
		if _, err := m.Fetch(context.Background()); err != nil {
			m.logger.Warn("background credential refresh failed", "error", err)
		}
	})
}

// refreshDelay computes when to refresh a credential with the given validity:
// five minutes before expiry, capped at one hour, never in the past.
func refreshDelay(ttl time.Duration) time.Duration {
	d := ttl - refreshMargin
	if d > refreshCap {
		d = refreshCap
	}
	if d < 0 {
		d = 0
	}
	return d
}
