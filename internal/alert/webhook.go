package alert

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
)

// WebhookConfig defines a webhook destination.
type WebhookConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["alert", "toast", "detection"]
	Headers map[string]string `yaml:"headers" json:"headers"`
	// MinSeverity drops alerts and toasts below this level. Detections carry
	// no severity and are only filtered by Events.
	MinSeverity Severity `yaml:"min_severity" json:"min_severity"`
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	Kind      string   `json:"kind"`
	Severity  Severity `json:"severity,omitempty"`
	Category  string   `json:"category,omitempty"`
	Text      string   `json:"text"`
}

// WebhookSink delivers notices to HTTP endpoints. Delivery is async and
// never blocks the caller.
type WebhookSink struct {
	configs []WebhookConfig
	client  *http.Client
	logger  zerolog.Logger
	now     func() time.Time
	retryIn func(attempt int) time.Duration
}

// NewWebhookSink creates a sink from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewWebhookSink(configs []WebhookConfig, logger zerolog.Logger) *WebhookSink {
	if len(configs) == 0 {
		return nil
	}
	return &WebhookSink{
		configs: configs,
		client:  &http.Client{Timeout: requestTimeout},
		logger:  logger,
		now:     time.Now,
		retryIn: func(attempt int) time.Duration { return time.Duration(attempt) * time.Second },
	}
}

func (w *WebhookSink) Alert(sev Severity, text string) {
	w.dispatch(Event{Kind: "alert", Severity: sev, Text: text})
}

func (w *WebhookSink) Toast(sev Severity, text string) {
	w.dispatch(Event{Kind: "toast", Severity: sev, Text: text})
}

func (w *WebhookSink) LogDetection(category, detail string) {
	w.dispatch(Event{Kind: "detection", Category: category, Text: detail})
}

// dispatch sends the event to every webhook whose Events list matches.
// Fires goroutines and does not block the caller.
func (w *WebhookSink) dispatch(event Event) {
	event.ID = uuid.NewString()
	event.Timestamp = w.now().UTC().Format(time.RFC3339)
	for _, cfg := range w.configs {
		if !matches(cfg, event) {
			continue
		}
		go func(cfg WebhookConfig) {
			if err := w.Send(cfg, event); err != nil {
				w.logger.Warn().Err(err).Str("url", cfg.URL).Msg("webhook delivery failed")
			}
		}(cfg)
	}
}

func matches(cfg WebhookConfig, event Event) bool {
	if event.Severity != "" && cfg.MinSeverity != "" && event.Severity.Rank() < cfg.MinSeverity.Rank() {
		return false
	}
	for _, e := range cfg.Events {
		if e == event.Kind {
			return true
		}
	}
	return false
}

// Send posts an event to a webhook endpoint with retry on 5xx.
func (w *WebhookSink) Send(cfg WebhookConfig, event Event) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(w.retryIn(attempt))
		}

		req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
		}
		// 5xx, retry
		lastErr = fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", maxRetries, lastErr)
}
