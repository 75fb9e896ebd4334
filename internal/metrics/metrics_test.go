package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	m := New()
	m.ChannelBlocked("dispatch", "vanilla")
	m.ChannelBlocked("dispatch", "vanilla")
	m.LocalProbe(true)
	m.RedirectBlocked()
	m.JournalEntryDropped()

	if got := testutil.ToFloat64(m.ChannelsBlocked.WithLabelValues("dispatch", "vanilla")); got != 2 {
		t.Errorf("expected 2 blocked, got %v", got)
	}
	if got := testutil.ToFloat64(m.LocalProbes.WithLabelValues("true")); got != 1 {
		t.Errorf("expected 1 probe, got %v", got)
	}
	if got := testutil.ToFloat64(m.RedirectsBlocked); got != 1 {
		t.Errorf("expected 1 redirect, got %v", got)
	}
	if got := testutil.ToFloat64(m.JournalDropped); got != 1 {
		t.Errorf("expected 1 dropped journal entry, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ChannelBlocked("encode", "forge")
	m.AlertSuppressed("cooldown")
	m.JournalEntryDropped()
	if m.Registry() != nil {
		t.Error("expected nil registry")
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.MessageMalformed("encode")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `incognito_messages_malformed_total{layer="encode"} 1`) {
		t.Errorf("expected malformed counter in output, got:\n%s", body)
	}
}

func TestSeparateInstancesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.RedirectBlocked()
	if got := testutil.ToFloat64(b.RedirectsBlocked); got != 0 {
		t.Errorf("expected independent registries, got %v", got)
	}
}
