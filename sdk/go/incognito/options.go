package incognito

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ppiankov/incognito/internal/config"
	"github.com/ppiankov/incognito/internal/localorigin"
	"github.com/ppiankov/incognito/internal/metrics"
	"github.com/ppiankov/incognito/internal/sched"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type signature struct {
	prefix   string
	originID string
}

type clientConfig struct {
	configPath string
	provider   config.Provider
	sinks      []Sink
	logger     zerolog.Logger
	scheduler  sched.Scheduler
	httpClient *http.Client
	lookup     localorigin.LookupFunc
	metrics    *metrics.Metrics
	bindings   BindingSource
	rebuild    RebuildFunc
	signatures []signature
}

// WithConfigPath sets the YAML settings file. Defaults to ~/.incognito/config.yaml.
func WithConfigPath(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithProvider supplies settings from the host instead of a file. Watch is
// unavailable on such a client.
func WithProvider(p config.Provider) Option {
	return func(c *clientConfig) { c.provider = p }
}

// WithSink adds a destination for alerts, toasts and detection logs.
func WithSink(s Sink) Option {
	return func(c *clientConfig) {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithScheduler replaces the real clock, mainly for tests.
func WithScheduler(s sched.Scheduler) Option {
	return func(c *clientConfig) { c.scheduler = s }
}

// WithHTTPClient sets the client used by Fetch.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithLookupFunc overrides host resolution, taking precedence over the
// configured DNS server.
func WithLookupFunc(fn localorigin.LookupFunc) Option {
	return func(c *clientConfig) { c.lookup = fn }
}

// WithMetrics shares a metrics set between clients.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *clientConfig) { c.metrics = m }
}

// WithBindingSource attaches the host's live binding table for rescans.
func WithBindingSource(src BindingSource) Option {
	return func(c *clientConfig) { c.bindings = src }
}

// WithRebuild sets how rewritten registrations are rebuilt.
func WithRebuild(fn RebuildFunc) Option {
	return func(c *clientConfig) { c.rebuild = fn }
}

// WithPackSignature maps pack implementation types starting with prefix to
// an extension.
func WithPackSignature(prefix, originID string) Option {
	return func(c *clientConfig) {
		c.signatures = append(c.signatures, signature{prefix: prefix, originID: originID})
	}
}
