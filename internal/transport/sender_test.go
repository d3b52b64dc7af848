package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/beaconkit/beacon-go/event"
)

func testPayload() Payload {
	e, _ := event.New("Screen Viewed", nil, time.Now())
	return Payload{
		Events: []event.Event{e},
		SentAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func TestHTTPSender_Success(t *testing.T) {
	var gotPath, gotKey, gotContentType string
	var gotBody Payload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "key-123")
	result, retryAfter := s.Send(context.Background(), testPayload())

	if result != SendOK {
		t.Errorf("result = %v, want SendOK", result)
	}
	if retryAfter != 0 {
		t.Errorf("retryAfter = %v, want 0", retryAfter)
	}
	if gotPath != "/api/events" {
		t.Errorf("path = %q, want /api/events", gotPath)
	}
	if gotKey != "key-123" {
		t.Errorf("X-API-Key = %q, want key-123", gotKey)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if len(gotBody.Events) != 1 || gotBody.SentAt == "" {
		t.Errorf("body = %+v, want one event and a sentAt stamp", gotBody)
	}
}

func TestHTTPSender_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   SendResult
	}{
		{200, SendOK},
		{204, SendOK},
		{400, SendFatal},
		{401, SendFatal},
		{404, SendFatal},
		{500, SendRetryable},
		{503, SendRetryable},
		{300, SendRetryable}, // unexpected status, retryable
	}

	for _, tt := range tests {
		status := tt.status
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		s := NewHTTPSender(srv.URL, "key")
		result, _ := s.Send(context.Background(), testPayload())
		srv.Close()

		if result != tt.want {
			t.Errorf("status %d: result = %v, want %v", tt.status, result, tt.want)
		}
	}
}

func TestHTTPSender_RateLimitRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "key")
	result, retryAfter := s.Send(context.Background(), testPayload())

	if result != SendRetryable {
		t.Errorf("result = %v, want SendRetryable", result)
	}
	if retryAfter != 7*time.Second {
		t.Errorf("retryAfter = %v, want 7s", retryAfter)
	}
}

func TestHTTPSender_NetworkFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	s := NewHTTPSender(srv.URL, "key")
	result, _ := s.Send(context.Background(), testPayload())

	if result != SendRetryable {
		t.Errorf("result = %v, want SendRetryable", result)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"1.5", 1500 * time.Millisecond},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.header); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
