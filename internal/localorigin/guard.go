package localorigin

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ppiankov/incognito/internal/alert"
	"github.com/ppiankov/incognito/internal/metrics"
	"github.com/ppiankov/incognito/internal/model"
	"github.com/ppiankov/incognito/internal/sched"
)

// FailURL replaces blocked push URLs. The host's download fails on it
// naturally, so the server sees an ordinary failure.
const FailURL = "http://0.0.0.0:0/blocked"

// Options wires a Guard.
type Options struct {
	Resolver   *Resolver
	Aggregator *alert.Aggregator
	Scheduler  sched.Scheduler
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Guard classifies hosts and URLs and owns the session trust state.
type Guard struct {
	resolver *Resolver
	agg      *alert.Aggregator
	session  *Session
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	probes atomic.Int64
	// transports caches pinned clones keyed by the caller's *http.Transport
	transports sync.Map
}

// NewGuard creates a Guard. A nil resolver uses the system resolver.
func NewGuard(opts Options) *Guard {
	if opts.Scheduler == nil {
		opts.Scheduler = sched.Real{}
	}
	if opts.Resolver == nil {
		opts.Resolver = NewResolver(nil, DefaultLookupTimeout, opts.Logger, opts.Metrics)
	}
	g := &Guard{
		resolver: opts.Resolver,
		agg:      opts.Aggregator,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	g.session = newSession(g.IsLocalAddress, opts.Scheduler, opts.Logger)
	return g
}

// Session returns the session trust tracker.
func (g *Guard) Session() *Session { return g.session }

// IsLocalAddress reports whether host is, or resolves to, a local address.
func (g *Guard) IsLocalAddress(ctx context.Context, host string) bool {
	local, _ := g.classifyHost(ctx, host)
	return local
}

// IsLocalURL reports whether the URL's host is local. URLs without a host
// are not local.
func (g *Guard) IsLocalURL(ctx context.Context, rawURL string) bool {
	host, ok := hostOf(rawURL)
	if !ok {
		return false
	}
	return g.IsLocalAddress(ctx, host)
}

// BlockReason explains why rawURL counts as local, or returns "" if it does not.
func (g *Guard) BlockReason(ctx context.Context, rawURL string) string {
	host, ok := hostOf(rawURL)
	if !ok {
		return ""
	}
	_, reason := g.classifyHost(ctx, host)
	return reason
}

func (g *Guard) classifyHost(ctx context.Context, host string) (bool, string) {
	local, reason, _ := g.vetHost(ctx, host)
	return local, reason
}

// vetHost classifies host. Names that had to be resolved also return the
// addresses that were checked, so a dial can be pinned to them.
func (g *Guard) vetHost(ctx context.Context, host string) (bool, string, []netip.Addr) {
	v := classifyLiteral(host)
	if v.final {
		return v.local, v.reason, nil
	}
	return g.resolver.vet(ctx, normalizeHost(host))
}

// PushDecision is the outcome of checking one resource push.
type PushDecision struct {
	URL     string `json:"url"`
	Local   bool   `json:"local"`
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

// CheckPush inspects a server resource push. On an untrusted session a
// local URL is always logged and counted, alerted once per URL per
// cooldown, and replaced with FailURL when blocking is on.
func (g *Guard) CheckPush(ctx context.Context, msg model.ResourcePushMessage, blocking bool) PushDecision {
	d := PushDecision{URL: msg.URL}
	host, ok := hostOf(msg.URL)
	if !ok {
		return d
	}
	local, reason := g.classifyHost(ctx, host)
	if !local {
		return d
	}
	d.Local = true
	d.Reason = reason

	if g.session.Trusted() {
		g.logger.Debug().Str("url", msg.URL).Msg("allowing local push on LAN server")
		return d
	}

	n := g.probes.Add(1)
	g.metrics.LocalProbe(blocking)
	g.logger.Warn().
		Int64("probe", n).
		Str("url", msg.URL).
		Str("reason", reason).
		Bool("blocked", blocking).
		Msg("server pushed a local resource URL")

	if g.agg != nil {
		status := "detected"
		if blocking {
			status = "blocked"
		}
		g.agg.Detection("local-probe", fmt.Sprintf("%s (%s, %s)", msg.URL, reason, status))
		text := "Local port scan detected: " + msg.URL
		toast := "Local Port Scan Detected"
		if blocking {
			text = "Blocked local port scan: " + msg.URL
			toast = "Local Port Scan Blocked"
		}
		g.agg.Notify("push:"+msg.URL, alert.SeverityDanger, text, toast)
	}

	if blocking {
		d.URL = FailURL
		d.Blocked = true
	}
	return d
}

// ProbeCount returns how many local pushes were seen on untrusted sessions.
func (g *Guard) ProbeCount() int64 {
	return g.probes.Load()
}
