// Package label guards dynamic label resolution so a server cannot read
// back values that only exist because an extension is installed.
package label

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/incognito/internal/alert"
	"github.com/ppiankov/incognito/internal/config"
	"github.com/ppiankov/incognito/internal/metrics"
	"github.com/ppiankov/incognito/internal/model"
	"github.com/ppiankov/incognito/internal/origin"
	"github.com/ppiankov/incognito/internal/sched"
)

const batchCategory = "labels"

// Options wires a Guard.
type Options struct {
	Tracker    *origin.Tracker
	Aggregator *alert.Aggregator
	Provider   config.Provider
	Attributor *Attributor
	Scheduler  sched.Scheduler
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Guard rewrites resolved label values according to identifier provenance.
type Guard struct {
	tracker    *origin.Tracker
	agg        *alert.Aggregator
	provider   config.Provider
	attributor *Attributor
	sched      sched.Scheduler
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex
	logged map[string]time.Time
}

// NewGuard creates a Guard.
func NewGuard(opts Options) *Guard {
	if opts.Scheduler == nil {
		opts.Scheduler = sched.Real{}
	}
	if opts.Attributor == nil {
		opts.Attributor = NewAttributor(DefaultMarkerTTL)
	}
	return &Guard{
		tracker:    opts.Tracker,
		agg:        opts.Aggregator,
		provider:   opts.Provider,
		attributor: opts.Attributor,
		sched:      opts.Scheduler,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		logged:     make(map[string]time.Time),
	}
}

// Attributor returns the marker store used for untagged resolutions.
func (g *Guard) Attributor() *Attributor { return g.attributor }

// Resolve is called with the value a label has just resolved to and
// returns the value to display.
func (g *Guard) Resolve(ctx context.Context, id, resolved string) (out string) {
	out = resolved
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().Interface("panic", r).Str("id", id).Msg("label guard panicked, passing value through")
			out = resolved
		}
	}()

	cfg, err := g.provider.Snapshot()
	if err != nil {
		g.logger.Debug().Err(err).Msg("config unavailable, label passed through")
		return resolved
	}
	protection := cfg.Labels.ProtectionEnabled
	now := g.sched.Now()

	g.tracker.MaybeRescan(now)

	rec, known := g.tracker.OriginOf(id)
	var spoofed *string
	switch {
	case known && rec.Provenance.NativeLike():
		v, ok := g.tracker.CanonicalValue(id)
		if !ok {
			v = id
		}
		spoofed = &v
	case known:
		v := id
		spoofed = &v
	default:
		rec.Provenance = model.ProvenanceUnknown
	}

	if protection && spoofed != nil {
		out = *spoofed
	}

	src := g.attributor.Attribute(ctx, now)
	ev := model.NewDetectionEvent(id, resolved, spoofed, src, now)
	ev.Provenance = rec.Provenance
	g.metrics.LabelDetected(string(ev.Provenance), string(src), ev.Changed)

	entry := ev.Entry(protection)
	g.logOnce(cfg.Labels.LogDedupTTL, now, ev, entry, protection)

	if g.agg != nil {
		g.agg.Detection("label:"+string(src), entry)
		if src != model.SourceUser {
			g.agg.Batch(batchCategory, cfg.Labels.BatchWindow, ev, renderBatch)
		}
	}
	return out
}

// Reset forgets logged pairs and interaction markers. Called on session end.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.logged = make(map[string]time.Time)
	g.mu.Unlock()
	g.attributor.Clear()
}

func (g *Guard) logOnce(ttl time.Duration, now time.Time, ev model.DetectionEvent, entry string, protection bool) {
	key := ev.Identifier + "\x00" + ev.OriginalValue
	g.mu.Lock()
	if t, ok := g.logged[key]; ok && now.Sub(t) < ttl {
		g.mu.Unlock()
		return
	}
	if len(g.logged) >= 1024 {
		for k, t := range g.logged {
			if now.Sub(t) >= ttl {
				delete(g.logged, k)
			}
		}
	}
	g.logged[key] = now
	g.mu.Unlock()

	action := "detected"
	if protection && ev.Changed {
		action = "spoofed"
	}
	g.logger.Warn().
		Str("action", action).
		Str("source", string(ev.Source)).
		Str("provenance", string(ev.Provenance)).
		Str("event_id", ev.ID).
		Msg(entry)
}

func renderBatch(events []model.DetectionEvent) (alert.Severity, string, string) {
	changed := false
	src := model.SourceUnknown
	for _, ev := range events {
		if ev.Changed {
			changed = true
		}
		if ev.Source != model.SourceUnknown {
			src = ev.Source
		}
	}
	text := fmt.Sprintf("Label probe detected (%d lookups)!", len(events))
	if changed {
		text = fmt.Sprintf("Label probe detected via %s (%d lookups)!", src, len(events))
	}
	return alert.SeverityDanger, text, "Label Probe Detected"
}
