// Package metrics holds the guard counters. Everything is registered on a
// private registry so embedding hosts never see collisions on the default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every counter the guards update. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ChannelsBlocked        *prometheus.CounterVec
	RegistrationsRewritten *prometheus.CounterVec
	MessagesMalformed      *prometheus.CounterVec
	LabelDetections        *prometheus.CounterVec
	LocalProbes            *prometheus.CounterVec
	RedirectsBlocked       prometheus.Counter
	LookupFailures         *prometheus.CounterVec
	AlertsSuppressed       *prometheus.CounterVec
	JournalDropped         prometheus.Counter
}

// New creates and registers all counters on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ChannelsBlocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incognito_channels_blocked_total",
				Help: "Outbound channel messages dropped by the capability filter",
			},
			[]string{"layer", "mode"},
		),
		RegistrationsRewritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incognito_registrations_rewritten_total",
				Help: "Channel registration messages rebuilt with a filtered list",
			},
			[]string{"layer", "mode"},
		),
		MessagesMalformed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incognito_messages_malformed_total",
				Help: "Messages dropped because a rewrite could not be rebuilt",
			},
			[]string{"layer"},
		),
		LabelDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incognito_label_detections_total",
				Help: "Dynamic label resolutions observed",
			},
			[]string{"provenance", "source", "changed"},
		),
		LocalProbes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incognito_local_probes_total",
				Help: "Server resource pushes that targeted a local address",
			},
			[]string{"blocked"},
		),
		RedirectsBlocked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "incognito_redirects_blocked_total",
				Help: "Redirect hops refused because they pointed at a local address",
			},
		),
		LookupFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incognito_lookup_failures_total",
				Help: "Host lookups that failed or timed out, by error class",
			},
			[]string{"class"},
		),
		AlertsSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incognito_alerts_suppressed_total",
				Help: "User-visible notices dropped by cooldown or rate limit",
			},
			[]string{"reason"},
		),
		JournalDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "incognito_journal_dropped_total",
				Help: "Notice journal entries discarded because the writer fell behind",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.ChannelsBlocked,
		m.RegistrationsRewritten,
		m.MessagesMalformed,
		m.LabelDetections,
		m.LocalProbes,
		m.RedirectsBlocked,
		m.LookupFailures,
		m.AlertsSuppressed,
		m.JournalDropped,
	}
	for _, c := range collectors {
		m.registry.MustRegister(c)
	}
	return m
}

// Registry exposes the private registry for scraping or gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ChannelBlocked(layer, mode string) {
	if m != nil {
		m.ChannelsBlocked.WithLabelValues(layer, mode).Inc()
	}
}

func (m *Metrics) RegistrationRewritten(layer, mode string) {
	if m != nil {
		m.RegistrationsRewritten.WithLabelValues(layer, mode).Inc()
	}
}

func (m *Metrics) MessageMalformed(layer string) {
	if m != nil {
		m.MessagesMalformed.WithLabelValues(layer).Inc()
	}
}

func (m *Metrics) LabelDetected(provenance, source string, changed bool) {
	if m != nil {
		m.LabelDetections.WithLabelValues(provenance, source, boolLabel(changed)).Inc()
	}
}

func (m *Metrics) LocalProbe(blocked bool) {
	if m != nil {
		m.LocalProbes.WithLabelValues(boolLabel(blocked)).Inc()
	}
}

func (m *Metrics) RedirectBlocked() {
	if m != nil {
		m.RedirectsBlocked.Inc()
	}
}

func (m *Metrics) LookupFailed(class string) {
	if m != nil {
		m.LookupFailures.WithLabelValues(class).Inc()
	}
}

func (m *Metrics) AlertSuppressed(reason string) {
	if m != nil {
		m.AlertsSuppressed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) JournalEntryDropped() {
	if m != nil {
		m.JournalDropped.Inc()
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
