// ABOUTME: HTTP client for an agent endpoint speaking JSON-RPC message/send
// ABOUTME: Retries transport errors and failed tasks with exponential backoff, never returns errors

package a2a

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
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrMissingEndpoint indicates the client was built without an agent URL.
var ErrMissingEndpoint = errors.New("agent endpoint is not configured")

// Defaults used when the corresponding Config field is zero.
const (
	DefaultMaxRetries      = 3
	DefaultBaseDelay       = time.Second
	DefaultFailedTaskDelay = 2 * time.Second
	DefaultTimeout         = 180 * time.Second
	DefaultConnectTimeout  = 30 * time.Second
	DefaultMaxReplyChars   = 4000
	DefaultHistoryLength   = 10

	// rpcTimeoutMillis is the blocking timeout requested from the agent.
	rpcTimeoutMillis = 120000
	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 8 << 20
	// invalidBodyPreview is how much of an undecodable body is echoed back.
	invalidBodyPreview = 200
	healthTimeout      = 10 * time.Second
)

// Outcome classifies a single attempt against the agent.
type Outcome int

const (
	// OutcomeSuccess carries reply text.
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable is a failed task; another attempt may succeed.
	OutcomeRetryable
	// OutcomeTerminal is never retried.
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Attempt is the classified result of one HTTP round trip.
type Attempt struct {
	Outcome Outcome
	// Text is the reply for a success, the raw result for a failed task,
	// or the user-facing message for a terminal failure.
	Text string
}

// Reply is what Send resolves to. It is never an error.
type Reply struct {
	Text      string
	Failed    bool
	Cancelled bool
	// CorrelationID is set on failures so users can quote it to support.
	CorrelationID string
	Attempts      int
}

// String returns the reply text.
func (r Reply) String() string {
	return r.Text
}

// Config holds the settings for a Client.
type Config struct {
	Endpoint        string
	MaxRetries      int
	BaseDelay       time.Duration
	FailedTaskDelay time.Duration
	Timeout         time.Duration
	ConnectTimeout  time.Duration
	MaxReplyChars   int
	HistoryLength   int
	Logger          *slog.Logger

	// HTTPClient overrides the client built from Timeout/ConnectTimeout.
	HTTPClient *http.Client
	// Sleep overrides the backoff wait. It must return ctx.Err() if ctx ends first.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client sends queries to one agent endpoint over a persistent HTTP client.
type Client struct {
	endpoint        string
	http            *http.Client
	ownsHTTP        bool
	maxRetries      int
	baseDelay       time.Duration
	failedTaskDelay time.Duration
	maxReplyChars   int
	historyLength   int
	sleep           func(ctx context.Context, d time.Duration) error
	logger          *slog.Logger

	requestID atomic.Uint64
	closed    atomic.Bool
}

// NewClient creates a Client for cfg.Endpoint. A trailing slash is added to
// the endpoint if missing.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrMissingEndpoint
	}
	endpoint := cfg.Endpoint
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing agent endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("agent endpoint must use http or https, got %q", u.Scheme)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		endpoint:        endpoint,
		maxRetries:      orDefault(cfg.MaxRetries, DefaultMaxRetries),
		baseDelay:       orDefault(cfg.BaseDelay, DefaultBaseDelay),
		failedTaskDelay: orDefault(cfg.FailedTaskDelay, DefaultFailedTaskDelay),
		maxReplyChars:   orDefault(cfg.MaxReplyChars, DefaultMaxReplyChars),
		historyLength:   orDefault(cfg.HistoryLength, DefaultHistoryLength),
		sleep:           cfg.Sleep,
		logger:          logger.With("component", "a2a", "endpoint", endpoint),
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}

	if cfg.HTTPClient != nil {
		c.http = cfg.HTTPClient
	} else {
		c.http = newHTTPClient(orDefault(cfg.Timeout, DefaultTimeout), orDefault(cfg.ConnectTimeout, DefaultConnectTimeout))
		c.ownsHTTP = true
	}

	return c, nil
}

func newHTTPClient(timeout, connectTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Endpoint returns the normalized agent URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Send delivers query with the client's default retry budget.
func (c *Client) Send(ctx context.Context, query string) Reply {
	return c.SendWithRetries(ctx, query, c.maxRetries)
}

// SendWithRetries delivers query, making at most maxRetries attempts.
// Transport errors and failed tasks are retried with exponential backoff;
// everything else resolves immediately. Cancelling ctx aborts the network
// wait or the backoff sleep and yields a Reply with Cancelled set.
func (c *Client) SendWithRetries(ctx context.Context, query string, maxRetries int) Reply {
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return c.cancelled(attempt - 1)
		}

		result, err := c.attempt(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return c.cancelled(attempt)
			}
			if attempt < maxRetries {
				delay := backoff(c.baseDelay, attempt)
				c.logger.Warn("agent request failed, retrying",
					"attempt", attempt,
					"max_retries", maxRetries,
					"delay", delay,
					"error", err,
				)
				if c.sleep(ctx, delay) != nil {
					return c.cancelled(attempt)
				}
				continue
			}
			correlationID := newCorrelationID()
			c.logger.Error("agent request failed on final attempt",
				"correlation_id", correlationID,
				"attempts", attempt,
				"error", err,
			)
			return c.finish(Reply{
				Text:          fmt.Sprintf("Request failed after %d attempts (ID: %s)\n• %v", maxRetries, correlationID, err),
				Failed:        true,
				CorrelationID: correlationID,
				Attempts:      attempt,
			})
		}

		switch result.Outcome {
		case OutcomeSuccess:
			return c.finish(Reply{Text: result.Text, Attempts: attempt})

		case OutcomeRetryable:
			if attempt < maxRetries {
				delay := backoff(c.failedTaskDelay, attempt)
				c.logger.Warn("agent task failed, retrying",
					"attempt", attempt,
					"max_retries", maxRetries,
					"delay", delay,
				)
				if c.sleep(ctx, delay) != nil {
					return c.cancelled(attempt)
				}
				continue
			}
			correlationID := newCorrelationID()
			c.logger.Error("agent task failed on final attempt",
				"correlation_id", correlationID,
				"attempts", attempt,
			)
			return c.finish(Reply{
				Text:          result.Text,
				Failed:        true,
				CorrelationID: correlationID,
				Attempts:      attempt,
			})

		default:
			correlationID := newCorrelationID()
			c.logger.Warn("agent returned terminal failure",
				"correlation_id", correlationID,
				"attempt", attempt,
			)
			return c.finish(Reply{
				Text:          withCorrelationID(result.Text, correlationID),
				Failed:        true,
				CorrelationID: correlationID,
				Attempts:      attempt,
			})
		}
	}

	// Unreachable with maxRetries >= 1.
	correlationID := newCorrelationID()
	return Reply{Text: withCorrelationID("Unknown error", correlationID), Failed: true, CorrelationID: correlationID}
}

// attempt performs one round trip. A non-nil error is a transport failure.
func (c *Client) attempt(ctx context.Context, query string) (Attempt, error) {
	envelope := newEnvelope(
		strconv.FormatUint(c.requestID.Add(1), 10),
		uuid.New().String(),
		query,
		Configuration{
			AcceptedOutputModes: []string{"text/plain", "application/json"},
			HistoryLength:       c.historyLength,
			Blocking:            true,
			Timeout:             rpcTimeoutMillis,
		},
	)

	body, err := json.Marshal(envelope)
	if err != nil {
		return Attempt{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Attempt{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Attempt{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Attempt{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Attempt{Outcome: OutcomeTerminal, Text: describeStatus(resp.StatusCode)}, nil
	}

	return classify(data), nil
}

// classify turns a 200 response body into an Attempt.
func classify(data []byte) Attempt {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Attempt{Outcome: OutcomeTerminal, Text: "Invalid JSON response: " + preview(data)}
	}

	if resp.Error != nil {
		msg := resp.Error.Message
		if msg == "" {
			msg = "unknown error"
		}
		return Attempt{Outcome: OutcomeTerminal, Text: "API error: " + msg}
	}

	raw := strings.TrimSpace(string(resp.Result))
	if raw == "" || raw == "null" {
		raw = "{}"
	}

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		// A result that is not an object (a bare string, a number) is shown as-is.
		return Attempt{Outcome: OutcomeSuccess, Text: raw}
	}

	if result.IsFailedTask() {
		return Attempt{Outcome: OutcomeRetryable, Text: raw}
	}

	if text, ok := ExtractText(&result); ok {
		return Attempt{Outcome: OutcomeSuccess, Text: text}
	}
	return Attempt{Outcome: OutcomeSuccess, Text: raw}
}

// describeStatus maps a non-200 status to a short user-facing message.
func describeStatus(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "Agent not found. Check the URL."
	case status == http.StatusUnauthorized:
		return "Authorization error."
	case status >= 500 && status < 600:
		return fmt.Sprintf("Server error (HTTP %d)", status)
	default:
		return fmt.Sprintf("HTTP error: %d", status)
	}
}

// HealthCheck reports whether the agent answers GET health with 200.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections. It is safe to call more than once.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.ownsHTTP {
		c.http.CloseIdleConnections()
	}
	c.logger.Debug("agent client closed")
}

func (c *Client) finish(r Reply) Reply {
	r.Text = Truncate(r.Text, c.maxReplyChars)
	return r
}

func (c *Client) cancelled(attempts int) Reply {
	c.logger.Debug("agent request cancelled", "attempts", attempts)
	return Reply{Cancelled: true, Attempts: attempts}
}

// backoff returns base * 2^(attempt-1).
func backoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(1<<(attempt-1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// newCorrelationID returns a short opaque id users can quote to support.
func newCorrelationID() string {
	return uuid.New().String()[:8]
}

func withCorrelationID(msg, correlationID string) string {
	return fmt.Sprintf("Error (ID: %s)\n• %s", correlationID, msg)
}

func preview(data []byte) string {
	runes := []rune(string(data))
	if len(runes) > invalidBodyPreview {
		runes = runes[:invalidBodyPreview]
	}
	return string(runes) + "..."
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
