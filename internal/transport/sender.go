// Package transport delivers persisted events to the remote collector in
// bounded batches with retry and backoff. It holds no persistent state of
// its own; the queue manager remains the sole owner of truth.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beaconkit/beacon-go/event"
)

// SendResult indicates the outcome of one delivery attempt.
type SendResult int

const (
	// SendOK indicates the whole batch was accepted (any 2xx).
	SendOK SendResult = iota
	// SendRetryable indicates a transient failure (no response, 429, 5xx).
	SendRetryable
	// SendFatal indicates a terminal failure for this batch (other 4xx);
	// it implies a bug in event construction or key configuration.
	SendFatal
)

// Payload is the wire body for POST {baseURL}/api/events.
type Payload struct {
	Events []event.Event `json:"events"`
	SentAt string        `json:"sentAt"`
}

// Sender abstracts one network delivery attempt, for testing.
// The returned duration is a server-provided retry hint (Retry-After),
// zero when none was given.
type Sender interface {
	Send(ctx context.Context, payload Payload) (SendResult, time.Duration)
}

// HTTPSender posts event batches to the collector endpoint.
type HTTPSender struct {
	baseURL string
	apiKey  Secret
	client  *http.Client
	logger  *slog.Logger
}

// SenderOption configures an HTTPSender.
type SenderOption func(*HTTPSender)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) SenderOption {
	return func(s *HTTPSender) { s.client = client }
}

// WithSenderLogger sets the logger.
func WithSenderLogger(logger *slog.Logger) SenderOption {
	return func(s *HTTPSender) { s.logger = logger }
}

// NewHTTPSender creates a sender for the given collector base URL and API
// key. The key is sent as the X-API-Key header and never logged.
func NewHTTPSender(baseURL string, apiKey Secret, opts ...SenderOption) *HTTPSender {
	s := &HTTPSender{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, payload Payload) (SendResult, time.Duration) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal batch payload", "error", err)
		return SendFatal, 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/events", bytes.NewReader(body))
	if err != nil {
		s.logger.Error("failed to create request", "error", err)
		return SendFatal, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.apiKey.Value())

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("collector request failed", "error", err, "events", len(payload.Events))
		return SendRetryable, 0
	}
	defer resp.Body.Close()

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.logger.Debug("batch accepted", "status", resp.StatusCode, "events", len(payload.Events))
		return SendOK, 0

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		s.logger.Warn("collector rate limited", "retry_after", retryAfter)
		return SendRetryable, retryAfter

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		s.logger.Error("collector rejected batch", "status", resp.StatusCode, "events", len(payload.Events))
		return SendFatal, 0

	default:
		s.logger.Warn("collector server error", "status", resp.StatusCode)
		return SendRetryable, 0
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}
