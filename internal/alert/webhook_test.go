package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestWebhookSink(configs []WebhookConfig) *WebhookSink {
	w := NewWebhookSink(configs, zerolog.Nop())
	if w != nil {
		w.retryIn = func(int) time.Duration { return time.Millisecond }
	}
	return w
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebhookMatchesKinds(t *testing.T) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := newTestWebhookSink([]WebhookConfig{
		{URL: srv.URL, Format: "generic", Events: []string{"alert"}},
	})

	w.Alert(SeverityDanger, "server probed 192.168.1.1")
	waitFor(t, func() bool { return called.Load() == 1 })

	if called.Load() != 1 {
		t.Errorf("expected 1 call, got %d", called.Load())
	}
}

func TestWebhookSkipsNonMatching(t *testing.T) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := newTestWebhookSink([]WebhookConfig{
		{URL: srv.URL, Format: "generic", Events: []string{"alert"}},
	})

	w.LogDetection("label:server", "[key.jump] 'Space' (unchanged)")
	w.Toast(SeverityInfo, "toast")
	time.Sleep(200 * time.Millisecond)

	if called.Load() != 0 {
		t.Errorf("expected 0 calls for non-matching kinds, got %d", called.Load())
	}
}

func TestWebhookMinSeverity(t *testing.T) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := newTestWebhookSink([]WebhookConfig{
		{URL: srv.URL, Format: "generic", Events: []string{"alert"}, MinSeverity: SeverityDanger},
	})

	w.Alert(SeverityWarning, "below threshold")
	w.Alert(SeverityDanger, "at threshold")
	waitFor(t, func() bool { return called.Load() == 1 })
	time.Sleep(100 * time.Millisecond)

	if called.Load() != 1 {
		t.Errorf("expected only the danger alert, got %d calls", called.Load())
	}
}

func TestWebhookMultipleEndpoints(t *testing.T) {
	var called atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	srv1 := httptest.NewServer(handler)
	defer srv1.Close()
	srv2 := httptest.NewServer(handler)
	defer srv2.Close()

	w := newTestWebhookSink([]WebhookConfig{
		{URL: srv1.URL, Format: "generic", Events: []string{"alert"}},
		{URL: srv2.URL, Format: "slack", Events: []string{"alert", "detection"}},
	})

	w.Alert(SeverityWarning, "labels probed")
	waitFor(t, func() bool { return called.Load() == 2 })

	if called.Load() != 2 {
		t.Errorf("expected 2 calls (both webhooks match), got %d", called.Load())
	}
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := newTestWebhookSink([]WebhookConfig{{URL: srv.URL, Format: "generic"}})
	err := w.Send(WebhookConfig{URL: srv.URL, Format: "generic"}, Event{Kind: "alert"})
	if err != nil {
		t.Errorf("expected success after retries, got: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	w := newTestWebhookSink([]WebhookConfig{{URL: srv.URL, Format: "generic"}})
	err := w.Send(WebhookConfig{URL: srv.URL, Format: "generic"}, Event{Kind: "alert"})
	if err == nil {
		t.Error("expected error on 400, got nil")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", attempts.Load())
	}
}

func TestFormatGenericJSON(t *testing.T) {
	event := Event{
		ID:        "e-123",
		Timestamp: "2025-01-15T14:00:00Z",
		Kind:      "alert",
		Severity:  SeverityDanger,
		Text:      "server probed 10.0.0.1",
	}

	data, err := FormatPayload("generic", event)
	if err != nil {
		t.Fatal(err)
	}

	var parsed Event
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("generic format is not valid JSON: %v", err)
	}
	if parsed.ID != "e-123" {
		t.Errorf("expected id e-123, got %s", parsed.ID)
	}
	if parsed.Severity != SeverityDanger {
		t.Errorf("expected severity danger, got %s", parsed.Severity)
	}
}

func TestFormatSlackBlockKit(t *testing.T) {
	data, err := FormatPayload("slack", Event{Kind: "detection", Category: "label:server", Text: "[key.jump] 'Space'"})
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("slack format is not valid JSON: %v", err)
	}

	blocks, ok := parsed["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in slack payload")
	}
	if len(blocks) < 2 {
		t.Fatalf("expected at least 2 blocks, got %d", len(blocks))
	}

	header, _ := blocks[0].(map[string]any)
	if header["type"] != "header" {
		t.Errorf("expected header block, got %s", header["type"])
	}
	section, _ := blocks[1].(map[string]any)
	fields, ok := section["fields"].([]any)
	if !ok || len(fields) != 2 {
		t.Errorf("expected 2 fields in section, got %v", fields)
	}
}

func TestFormatPagerDuty(t *testing.T) {
	data, err := FormatPayload("pagerduty", Event{Kind: "alert", Severity: SeverityDanger, Text: "probe"})
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("pagerduty format is not valid JSON: %v", err)
	}
	payload, ok := parsed["payload"].(map[string]any)
	if !ok {
		t.Fatal("expected payload object")
	}
	if payload["severity"] != "critical" {
		t.Errorf("expected severity critical for danger, got %v", payload["severity"])
	}
	if payload["source"] != "incognito" {
		t.Errorf("expected source incognito, got %v", payload["source"])
	}
}

func TestNewWebhookSinkNilOnEmpty(t *testing.T) {
	if w := NewWebhookSink(nil, zerolog.Nop()); w != nil {
		t.Error("expected nil sink for empty configs")
	}
	if w := NewWebhookSink([]WebhookConfig{}, zerolog.Nop()); w != nil {
		t.Error("expected nil sink for zero-length configs")
	}
}
