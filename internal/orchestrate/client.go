// Package orchestrate is an HTTP client for the agent-orchestration
// engine that executes the actual reasoning step: it starts a run for a
// user message and polls the run's event stream for the assistant reply.
package orchestrate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"concierge/internal/logging"
)

// tokenExpirySlack treats a token as expired slightly before its real
// deadline so in-flight requests do not race the expiry.
const tokenExpirySlack = 30 * time.Second

// Config holds the engine connection settings.
type Config struct {
	BaseURL    string        `mapstructure:"base_url"`
	InstanceID string        `mapstructure:"instance_id"`
	AgentID    string        `mapstructure:"agent_id"`
	APIToken   string        `mapstructure:"api_token"`
	Timeout    time.Duration `mapstructure:"timeout"`

	// MaxIterations caps the number of event polls per run, bounding a
	// run even when the caller's context has a generous deadline.
	MaxIterations int `mapstructure:"max_iterations"`
}

// Validate reports missing required settings.
func (c Config) Validate() error {
	for _, field := range []struct{ name, value string }{
		{"base_url", c.BaseURL},
		{"instance_id", c.InstanceID},
		{"agent_id", c.AgentID},
		{"api_token", c.APIToken},
	} {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("orchestrate config: missing %s", field.name)
		}
	}
	return nil
}

// Client talks to the orchestration engine. Thread continuity is kept per
// session so the engine sees the full conversation.
type Client struct {
	httpClient *http.Client
	cfg        Config
	runsURL    string
	logger     *logging.Logger

	mu      sync.Mutex
	threads map[string]string // session id -> engine thread id
}

// NewClient validates the config and constructs a client. Construction
// failure here aborts startup; there is no degraded mode without the
// reasoning engine.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		runsURL:    fmt.Sprintf("%s/instances/%s/v1/orchestrate/runs", base, cfg.InstanceID),
		logger:     logging.NewComponentLogger("OrchestrateClient"),
		threads:    make(map[string]string),
	}, nil
}

type runMessagePart struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

type runMessage struct {
	Role    string           `json:"role"`
	Content []runMessagePart `json:"content"`
}

type runRequest struct {
	AgentID  string     `json:"agent_id"`
	Message  runMessage `json:"message"`
	ThreadID string     `json:"thread_id,omitempty"`
}

type runInfo struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
}

type runEvent struct {
	Event string `json:"event"`
	Data  struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"data"`
}

// Invoke implements dialog.Reasoner: it runs the query on the engine
// within the session's thread and returns the assistant text.
func (c *Client) Invoke(ctx context.Context, query, sessionID string) (string, error) {
	return c.ask(ctx, query, sessionID)
}

// Ask runs a one-off question outside any session thread.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	return c.ask(ctx, question, "")
}

func (c *Client) ask(ctx context.Context, question, sessionID string) (string, error) {
	if c.tokenExpired(time.Now()) {
		return "", fmt.Errorf("api token expired; refresh credentials")
	}
	info, err := c.startRun(ctx, question, sessionID)
	if err != nil {
		return "", err
	}
	if sessionID != "" && info.ThreadID != "" {
		c.mu.Lock()
		c.threads[sessionID] = info.ThreadID
		c.mu.Unlock()
	}
	return c.pollEvents(ctx, info.RunID, sessionID)
}

func (c *Client) startRun(ctx context.Context, question, sessionID string) (runInfo, error) {
	payload := runRequest{
		AgentID: c.cfg.AgentID,
		Message: runMessage{
			Role:    "user",
			Content: []runMessagePart{{ResponseType: "text", Text: question}},
		},
		ThreadID: c.threadFor(sessionID),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return runInfo{}, fmt.Errorf("marshal run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.runsURL, bytes.NewReader(body))
	if err != nil {
		return runInfo{}, fmt.Errorf("create run request: %w", err)
	}
	c.setHeaders(req, sessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return runInfo{}, fmt.Errorf("start run: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close response body", "error", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return runInfo{}, fmt.Errorf("start run: HTTP %d: %s", resp.StatusCode, string(raw))
	}

	var info runInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return runInfo{}, fmt.Errorf("decode run info: %w", err)
	}
	if info.RunID == "" {
		return runInfo{}, fmt.Errorf("engine returned no run id")
	}
	return info, nil
}

// pollEvents fast-polls the run's event list until the assistant message
// appears, the configured poll budget runs out, or the context ends. The
// delay backs off from 100ms toward 500ms.
func (c *Client) pollEvents(ctx context.Context, runID, sessionID string) (string, error) {
	eventsURL := fmt.Sprintf("%s/%s/events", c.runsURL, runID)
	delay := 100 * time.Millisecond

	for attempt := 1; ; attempt++ {
		text, found, err := c.fetchAssistantText(ctx, eventsURL, sessionID)
		if err != nil {
			return "", err
		}
		if found {
			return text, nil
		}
		if attempt >= c.cfg.MaxIterations {
			return "", fmt.Errorf("run %s: no reply after %d polls", runID, attempt)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("run %s: %w", runID, ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * 1.2)
		if delay > 500*time.Millisecond {
			delay = 500 * time.Millisecond
		}
	}
}

func (c *Client) fetchAssistantText(ctx context.Context, eventsURL, sessionID string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, eventsURL, nil)
	if err != nil {
		return "", false, err
	}
	c.setHeaders(req, sessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("fetch events: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close response body", "error", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", false, fmt.Errorf("fetch events: HTTP %d: %s", resp.StatusCode, string(raw))
	}

	var events []runEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return "", false, fmt.Errorf("decode events: %w", err)
	}

	// Newest events arrive last; scan backwards for the reply.
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Event != "message.created" {
			continue
		}
		text, err := decodeContent(events[i].Data.Message.Content)
		if err != nil {
			return "", false, err
		}
		return text, true, nil
	}
	return "", false, nil
}

// decodeContent accepts either a bare string or a list of text parts.
func decodeContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("decode message content: %w", err)
	}
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		texts = append(texts, part.Text)
	}
	return strings.TrimSpace(strings.Join(texts, " ")), nil
}

func (c *Client) threadFor(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threads[sessionID]
}

// ForgetThread drops the engine thread for a session. Called on cleanup.
func (c *Client) ForgetThread(sessionID string) {
	c.mu.Lock()
	delete(c.threads, sessionID)
	c.mu.Unlock()
}

// tokenExpired applies TokenExpired to JWT-shaped tokens only; opaque
// API keys carry no expiry claim and never expire client-side.
func (c *Client) tokenExpired(now time.Time) bool {
	if strings.Count(c.cfg.APIToken, ".") != 2 {
		return false
	}
	return TokenExpired(c.cfg.APIToken, now)
}

func (c *Client) setHeaders(req *http.Request, sessionID string) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if thread := c.threadFor(sessionID); thread != "" {
		req.Header.Set("X-Thread-ID", thread)
	}
}

// TokenExpired reports whether a JWT bearer token is past (or within the
// slack window of) its exp claim. Unparseable tokens count as expired.
func TokenExpired(token string, now time.Time) bool {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return true
	}
	payload, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return true
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp == 0 {
		return true
	}
	return !now.Before(time.Unix(claims.Exp, 0).Add(-tokenExpirySlack))
}
