package incognito

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ppiankov/incognito/internal/alert"
	"github.com/ppiankov/incognito/internal/audit"
	"github.com/ppiankov/incognito/internal/capability"
	"github.com/ppiankov/incognito/internal/config"
	"github.com/ppiankov/incognito/internal/label"
	"github.com/ppiankov/incognito/internal/localorigin"
	"github.com/ppiankov/incognito/internal/metrics"
	"github.com/ppiankov/incognito/internal/origin"
	"github.com/ppiankov/incognito/internal/sched"
)

// Client owns one instance of every guard. Thread-safe.
type Client struct {
	cfg      clientConfig
	store    *config.Store
	provider config.Provider
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	sched    sched.Scheduler

	agg      *alert.Aggregator
	enforcer *capability.Enforcer
	tracker  *origin.Tracker
	labels   *label.Guard
	local    *localorigin.Guard
	journal  *audit.Log
	jsink    *audit.Sink

	mu     sync.Mutex
	closed bool
	stop   context.CancelFunc
}

// New creates a Client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{logger: zerolog.Nop()}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.scheduler == nil {
		cfg.scheduler = sched.Real{}
	}
	if cfg.metrics == nil {
		cfg.metrics = metrics.New()
	}

	c := &Client{
		cfg:     cfg,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		sched:   cfg.scheduler,
	}

	if cfg.provider != nil {
		c.provider = cfg.provider
	} else {
		settings, hash, err := config.LoadConfigWithHash(cfg.configPath)
		if err != nil {
			return nil, fmt.Errorf("incognito: failed to load config: %w", err)
		}
		c.store = &config.Store{}
		c.store.Set(settings, hash)
		c.provider = c.store
	}

	// Construction-time values; everything else is read per decision.
	initial, err := c.provider.Snapshot()
	if err != nil {
		initial = config.DefaultSettings()
	}

	dispatcher := alert.NewDispatcher(c.logger, alert.NewLogSink(c.logger))
	for _, s := range cfg.sinks {
		dispatcher.Add(s)
	}
	if ws := alert.NewWebhookSink(initial.Alerts.Webhooks, c.logger); ws != nil {
		dispatcher.Add(ws)
	}
	if initial.Alerts.Journal != "" {
		c.journal, err = audit.Open(initial.Alerts.Journal)
		if err != nil {
			return nil, fmt.Errorf("incognito: failed to open journal: %w", err)
		}
		c.jsink = audit.NewSink(c.journal, c.logger, c.configHash, c.metrics)
		dispatcher.Add(c.jsink)
	}
	c.agg = alert.NewAggregator(dispatcher, alert.Options{
		Cooldown:  initial.Alerts.Cooldown,
		PerMinute: initial.Alerts.PerMinute,
		Scheduler: c.sched,
		Gate:      c.toggles,
		Logger:    c.logger,
		Metrics:   c.metrics,
	})

	c.enforcer = capability.NewEnforcer(c.provider, cfg.rebuild, c.logger, c.metrics)

	c.tracker = origin.NewTracker(c.logger)
	for _, sig := range cfg.signatures {
		c.tracker.RegisterSignature(sig.prefix, sig.originID)
	}
	if cfg.bindings != nil {
		c.tracker.SetBindingSource(cfg.bindings, initial.Labels.RescanInterval)
	}

	c.labels = label.NewGuard(label.Options{
		Tracker:    c.tracker,
		Aggregator: c.agg,
		Provider:   c.provider,
		Scheduler:  c.sched,
		Logger:     c.logger,
		Metrics:    c.metrics,
	})

	lookup := cfg.lookup
	if lookup == nil && initial.LocalOrigin.DNSServer != "" {
		lookup, err = localorigin.DNSServerLookup(initial.LocalOrigin.DNSServer)
		if err != nil {
			c.closeJournal()
			return nil, fmt.Errorf("incognito: invalid local_origin.dns_server: %w", err)
		}
	}
	c.local = localorigin.NewGuard(localorigin.Options{
		Resolver:   localorigin.NewResolver(lookup, initial.LocalOrigin.LookupTimeout, c.logger, c.metrics),
		Aggregator: c.agg,
		Scheduler:  c.sched,
		Logger:     c.logger,
		Metrics:    c.metrics,
	})
	c.local.Session().OnEnd(c.endSession)

	return c, nil
}

func (c *Client) toggles() alert.Toggles {
	s, err := c.provider.Snapshot()
	if err != nil {
		return alert.Toggles{}
	}
	return s.Alerts.Toggles()
}

func (c *Client) configHash() string {
	if c.store == nil {
		return ""
	}
	return c.store.Hash()
}

func (c *Client) closeJournal() {
	if c.jsink != nil {
		c.jsink.Close()
	}
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("journal close failed")
		}
	}
}

func (c *Client) settings() (*config.Settings, bool) {
	s, err := c.provider.Snapshot()
	if err != nil {
		c.logger.Debug().Err(err).Msg("config unavailable, passing through")
		return nil, false
	}
	return s, true
}

// endSession drops everything scoped to one server session: cooldowns,
// pending batches, label dedup and the log-once keys.
func (c *Client) endSession() {
	c.agg.Reset()
	c.labels.Reset()
	c.enforcer.ResetSession()
	c.logger.Debug().Msg("session state cleared")
}

// Watch reloads the settings file whenever it changes. Blocks until ctx is
// cancelled or Close is called.
func (c *Client) Watch(ctx context.Context) error {
	if c.store == nil {
		return errors.New("incognito: settings come from a provider, nothing to watch")
	}
	r, err := config.NewReloader(c.store, c.cfg.configPath, c.logger)
	if err != nil {
		return fmt.Errorf("incognito: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("incognito: client closed")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	c.mu.Unlock()

	return r.Run(ctx)
}

// Status summarises the guards.
func (c *Client) Status() Status {
	return Status{
		Session:    c.local.Session().State(),
		Origins:    c.tracker.Stats(),
		Probes:     c.local.ProbeCount(),
		ConfigHash: c.configHash(),
	}
}

// MetricsHandler serves the client's Prometheus counters.
func (c *Client) MetricsHandler() http.Handler {
	return c.metrics.Handler()
}

// Close stops Watch and cancels pending batches. The client must not be
// used afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stop := c.stop
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.agg.Reset()
	c.closeJournal()
	return nil
}
