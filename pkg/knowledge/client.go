// Package knowledge is the REST client for the chat backend's knowledge
// lookup, used to satisfy model-initiated search calls during a voice
// session.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/avocetlabs/voicewidget/internal/httpc"
)

// Sentinel errors.
var (
	ErrEmptyQuestion = errors.New("knowledge: question is empty")
	ErrNoSessionKey  = errors.New("knowledge: backend returned no session key")
)

// Link is a reference attached to an answer.
type Link struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Answer is a formatted lookup result.
type Answer struct {
	Text  string
	Links []Link
}

// lookupRequest is the POST body for a knowledge query.
type lookupRequest struct {
	SessionKey string `json:"sessionKey,omitempty"`
	Question   string `json:"question"`
}

// lookupResponse is the backend reply shape.
type lookupResponse struct {
	Result     string `json:"result"`
	SessionKey string `json:"session_key,omitempty"`
	Response   struct {
		Text  string `json:"text"`
		Links []Link `json:"links,omitempty"`
	} `json:"response"`
}

// sessionResponse is the session-bootstrap reply.
type sessionResponse struct {
	SessionKey string `json:"session_key"`
}

// Client queries the chat backend. It lazily bootstraps a session key on
// first use and reuses it for the rest of the conversation.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu         sync.Mutex
	sessionKey string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(k *Client) { k.httpClient = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Client) { k.logger = l }
}

// NewClient creates a knowledge client for the chat backend base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpc.Client,
		logger:     slog.Default().With("component", "knowledge"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup runs one knowledge query, bootstrapping a session key if needed,
// and returns the formatted answer.
func (c *Client) Lookup(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	key, err := c.sessionKeyFor(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(lookupRequest{SessionKey: key, Question: question})
	if err != nil {
		return nil, fmt.Errorf("knowledge: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("knowledge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge: lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("knowledge: lookup returned %d: %s", resp.StatusCode, snippet)
	}

	var decoded lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("knowledge: decode response: %w", err)
	}

	// The backend may rotate the session key mid-conversation.
	if decoded.SessionKey != "" && decoded.SessionKey != key {
		c.mu.Lock()
		c.sessionKey = decoded.SessionKey
		c.mu.Unlock()
	}

	return &Answer{
		Text:  CleanText(decoded.Response.Text),
		Links: dedupeLinks(decoded.Response.Links),
	}, nil
}

// sessionKeyFor returns the cached session key or bootstraps a new one.
func (c *Client) sessionKeyFor(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.sessionKey != "" {
		key := c.sessionKey
		c.mu.Unlock()
		return key, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/session", nil)
	if err != nil {
		return "", fmt.Errorf("knowledge: build session request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("knowledge: session bootstrap failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("knowledge: session bootstrap returned %d", resp.StatusCode)
	}

	var decoded sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("knowledge: decode session response: %w", err)
	}
	if decoded.SessionKey == "" {
		return "", ErrNoSessionKey
	}

	c.mu.Lock()
	c.sessionKey = decoded.SessionKey
	c.mu.Unlock()
	c.logger.Debug("session key bootstrapped")

	return decoded.SessionKey, nil
}

// SessionKey returns the cached session key, if any.
func (c *Client) SessionKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKey
}

// Format renders an answer for speech: the cleaned text followed by its
// reference links, if any.
func (a *Answer) Format() string {
	if len(a.Links) == 0 {
		return a.Text
	}
	var b strings.Builder
	b.WriteString(a.Text)
	b.WriteString("\n\nReferences:")
	for _, l := range a.Links {
		b.WriteString("\n- ")
		if l.Title != "" {
			b.WriteString(l.Title)
			b.WriteString(": ")
		}
		b.WriteString(l.URL)
	}
	return b.String()
}

// CleanText strips stray formatting artifacts the backend sometimes leaves
// in answers: citation brackets, doubled whitespace, dangling markdown
// emphasis markers.
func CleanText(s string) string {
	s = strings.TrimSpace(s)

	// Citation markers like 【4:2†source】.
	for {
		start := strings.Index(s, "【")
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], "】")
		if end < 0 {
			break
		}
		s = s[:start] + s[start+end+len("】"):]
	}

	// Dangling emphasis pairs around whole lines.
	s = strings.ReplaceAll(s, "**", "")

	// Collapse runs of spaces left behind by the removals.
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.TrimSpace(s)
}

func dedupeLinks(links []Link) []Link {
	if len(links) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(links))
	out := make([]Link, 0, len(links))
	for _, l := range links {
		url := strings.TrimRight(strings.TrimSpace(l.URL), "/")
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		l.URL = url
		out = append(out, l)
	}
	return out
}
