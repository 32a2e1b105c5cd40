// Package remote forwards messages to remote A2A agents over HTTP.
package remote

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
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"agentlink/internal/domain"
	"agentlink/internal/infra/config"
	"agentlink/internal/infra/tracer"
)

// WireStyle selects the request shape sent to remote agents.
type WireStyle string

const (
	// WireA2A posts {content:{text,type}, role, conversation_id} to the endpoint.
	WireA2A WireStyle = "a2a"
	// WireQuery posts {question, user_id} to the endpoint's /query sibling.
	WireQuery WireStyle = "query"
)

// maxReplyBody is the maximum reply size read from a remote agent.
const maxReplyBody = 4 * 1024 * 1024

// Default breaker settings, shared with the LLM provider breaker.
const (
	defaultCBMaxFailures uint32 = 5
	defaultCBTimeout            = 30 * time.Second
	defaultCBInterval           = 60 * time.Second
)

// Client implements domain.RemoteCaller. Every endpoint gets its own
// circuit breaker; an open breaker fails fast with a 503 RemoteError.
type Client struct {
	http      *http.Client
	style     WireStyle
	userID    string
	breakerOn bool
	cbCfg     config.CircuitBreakerConfig
	logger    *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[string]
}

// Option configures a Client.
type Option func(*Client)

// WithWireStyle selects the request shape.
func WithWireStyle(s WireStyle) Option {
	return func(c *Client) {
		if s != "" {
			c.style = s
		}
	}
}

// WithHTTPClient replaces the HTTP client. Timeouts come from the caller's context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCircuitBreaker configures per-endpoint breakers. A disabled config turns them off.
func WithCircuitBreaker(cfg config.CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breakerOn = cfg.Enabled
		c.cbCfg = cfg
	}
}

// WithUserID sets the user_id sent in the query wire style.
func WithUserID(id string) Option {
	return func(c *Client) { c.userID = id }
}

// NewClient creates a remote caller.
func NewClient(logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{},
		style:     WireA2A,
		userID:    "anonymous",
		breakerOn: true,
		logger:    logger,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[string]),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Call implements domain.RemoteCaller.
func (c *Client) Call(ctx context.Context, agent domain.AgentRecord, msg domain.Message) (string, error) {
	url, body, err := c.encode(agent.Endpoint, msg)
	if err != nil {
		return "", err
	}

	ctx, span := tracer.StartSpan(ctx, "remote.call", trace.WithAttributes(
		tracer.StringAttr("agent.id", agent.ID),
		tracer.StringAttr("remote.url", url),
		tracer.StringAttr("remote.wire_style", string(c.style)),
	))
	defer span.End()

	var reply string
	if c.breakerOn {
		reply, err = c.breaker(url).Execute(func() (string, error) {
			return c.post(ctx, url, body)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &domain.RemoteError{Endpoint: url, Status: http.StatusServiceUnavailable, Body: "circuit open"}
		}
	} else {
		reply, err = c.post(ctx, url, body)
	}
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	span.SetAttributes(tracer.IntAttr("remote.reply_length", len(reply)))
	tracer.SetOK(span)
	return reply, nil
}

type a2aContent struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type a2aBody struct {
	Content        a2aContent `json:"content"`
	Role           string     `json:"role"`
	ConversationID string     `json:"conversation_id"`
}

type queryBody struct {
	Question string `json:"question"`
	UserID   string `json:"user_id"`
}

func (c *Client) encode(endpoint string, msg domain.Message) (string, []byte, error) {
	var (
		url     = endpoint
		payload any
	)
	switch c.style {
	case WireQuery:
		url = QueryURL(endpoint)
		payload = queryBody{Question: msg.Text(), UserID: c.userID}
	default:
		payload = a2aBody{
			Content:        a2aContent{Text: msg.Text(), Type: string(domain.ContentText)},
			Role:           string(domain.RoleUser),
			ConversationID: msg.ConversationID,
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("marshal request: %w", err)
	}
	return url, body, nil
}

// QueryURL maps an A2A endpoint to its /query sibling.
func QueryURL(endpoint string) string {
	base := strings.TrimRight(endpoint, "/")
	base = strings.TrimSuffix(base, "/a2a")
	return base + "/query"
}

func (c *Client) post(ctx context.Context, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", domain.NewDomainError("remote.Call", domain.ErrTimeout, url)
		}
		return "", fmt.Errorf("%w: %s: %w", domain.ErrRemote, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBody))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", domain.NewDomainError("remote.Call", domain.ErrTimeout, url)
		}
		return "", fmt.Errorf("%w: read reply from %s: %w", domain.ErrRemote, url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &domain.RemoteError{Endpoint: url, Status: resp.StatusCode, Body: truncate(strings.TrimSpace(string(raw)), 512)}
	}
	return c.decode(raw), nil
}

// decode extracts the reply text. The order of preference depends on the
// wire style; a body that is not JSON is returned verbatim.
func (c *Client) decode(raw []byte) string {
	var parsed struct {
		Content *struct {
			Text string `json:"text"`
		} `json:"content"`
		Answer *string `json:"answer"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return strings.TrimSpace(string(raw))
	}
	contentText := ""
	if parsed.Content != nil {
		contentText = parsed.Content.Text
	}
	answer := ""
	if parsed.Answer != nil {
		answer = *parsed.Answer
	}
	first, second := contentText, answer
	if c.style == WireQuery {
		first, second = answer, contentText
	}
	switch {
	case first != "":
		return first
	case second != "":
		return second
	default:
		return strings.TrimSpace(string(raw))
	}
}

func (c *Client) breaker(url string) *gobreaker.CircuitBreaker[string] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[url]; ok {
		return cb
	}

	maxFailures := c.cbCfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := c.cbCfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := c.cbCfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "remote:" + url,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: countsAsHealthy,
	})
	c.breakers[url] = cb
	return cb
}

// countsAsHealthy keeps client-side problems (4xx replies, caller
// cancellation) from tripping the breaker.
func countsAsHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	status := domain.RemoteStatus(err)
	return status >= 400 && status < 500
}

// OpenBreakers lists endpoints whose breaker is not closed, keyed by
// endpoint with the state name ("open" or "half-open") as value.
func (c *Client) OpenBreakers() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string)
	for url, cb := range c.breakers {
		if st := cb.State(); st != gobreaker.StateClosed {
			out[url] = st.String()
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ domain.RemoteCaller = (*Client)(nil)
