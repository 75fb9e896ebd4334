package alert

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ppiankov/incognito/internal/metrics"
	"github.com/ppiankov/incognito/internal/model"
	"github.com/ppiankov/incognito/internal/sched"
)

const (
	// DefaultCooldown is the minimum gap between two notices with the same key.
	DefaultCooldown = 5 * time.Second

	// pruneAt bounds the cooldown maps; stale keys are swept past this size.
	pruneAt = 1024
)

// Options configures an Aggregator.
type Options struct {
	Cooldown  time.Duration
	PerMinute int // global cap on user-visible notices, 0 means unlimited
	Scheduler sched.Scheduler
	Gate      func() Toggles
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Render turns a flushed batch into notice texts. Empty strings are skipped.
type Render func(events []model.DetectionEvent) (sev Severity, alert, toast string)

type batch struct {
	gen    uint64
	events []model.DetectionEvent
	timer  sched.Timer
	render Render
}

// Aggregator deduplicates, rate-limits, and batches notices before they
// reach the sink. It never holds its lock while calling the sink.
type Aggregator struct {
	sink     Sink
	sched    sched.Scheduler
	gate     func() Toggles
	cooldown time.Duration
	limiter  *rate.Limiter
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu         sync.Mutex
	gen        uint64
	lastNotify map[string]time.Time
	lastDetect map[string]time.Time
	batches    map[string]*batch
}

// NewAggregator wraps sink.
func NewAggregator(sink Sink, opts Options) *Aggregator {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Scheduler == nil {
		opts.Scheduler = sched.Real{}
	}
	if opts.Gate == nil {
		opts.Gate = AllOn
	}
	limit := rate.Inf
	burst := 1
	if opts.PerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.PerMinute))
		burst = opts.PerMinute
	}
	return &Aggregator{
		sink:       sink,
		sched:      opts.Scheduler,
		gate:       opts.Gate,
		cooldown:   opts.Cooldown,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		lastNotify: make(map[string]time.Time),
		lastDetect: make(map[string]time.Time),
		batches:    make(map[string]*batch),
	}
}

// Notify emits an alert and a toast for key unless the same key fired
// within the cooldown. It reports whether anything was emitted.
func (a *Aggregator) Notify(key string, sev Severity, alert, toast string) bool {
	toggles := a.gate()
	if !toggles.Alerts && !toggles.Toasts {
		return false
	}
	now := a.sched.Now()
	if !a.claim(a.lastNotify, key, now) {
		a.metrics.AlertSuppressed("cooldown")
		return false
	}
	return a.emit(toggles, now, sev, alert, toast)
}

// Detection writes one detection log line unless the same category and
// detail were logged within the cooldown.
func (a *Aggregator) Detection(category, detail string) bool {
	if !a.gate().LogDetections {
		return false
	}
	if !a.claim(a.lastDetect, category+"\x00"+detail, a.sched.Now()) {
		return false
	}
	safeCall(a.logger, "detection", func() { a.sink.LogDetection(category, detail) })
	return true
}

// Batch adds ev to the open batch for category. The first event of a batch
// starts a timer of window; when it fires render is called once with every
// event collected so far.
func (a *Aggregator) Batch(category string, window time.Duration, ev model.DetectionEvent, render Render) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if b, ok := a.batches[category]; ok {
		b.events = append(b.events, ev)
		return
	}
	gen := a.gen
	b := &batch{gen: gen, events: []model.DetectionEvent{ev}, render: render}
	b.timer = a.sched.AfterFunc(window, func() { a.flush(category, gen) })
	a.batches[category] = b
}

func (a *Aggregator) flush(category string, gen uint64) {
	a.mu.Lock()
	b, ok := a.batches[category]
	if !ok || b.gen != gen || a.gen != gen {
		a.mu.Unlock()
		return
	}
	delete(a.batches, category)
	a.mu.Unlock()

	sev, alert, toast := b.render(b.events)
	a.emit(a.gate(), a.sched.Now(), sev, alert, toast)
}

// Reset cancels pending batches and forgets every cooldown. Called when a
// session ends.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.gen++
	pending := a.batches
	a.batches = make(map[string]*batch)
	a.lastNotify = make(map[string]time.Time)
	a.lastDetect = make(map[string]time.Time)
	a.mu.Unlock()

	for _, b := range pending {
		b.timer.Stop()
	}
}

// PendingBatches reports how many batches are waiting to flush.
func (a *Aggregator) PendingBatches() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.batches)
}

func (a *Aggregator) claim(last map[string]time.Time, key string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if t, ok := last[key]; ok && now.Sub(t) < a.cooldown {
		return false
	}
	if len(last) >= pruneAt {
		for k, t := range last {
			if now.Sub(t) >= a.cooldown {
				delete(last, k)
			}
		}
	}
	last[key] = now
	return true
}

func (a *Aggregator) emit(toggles Toggles, now time.Time, sev Severity, alert, toast string) bool {
	sendAlert := toggles.Alerts && alert != ""
	sendToast := toggles.Toasts && toast != ""
	if !sendAlert && !sendToast {
		return false
	}
	if !a.limiter.AllowN(now, 1) {
		a.metrics.AlertSuppressed("rate_limit")
		a.logger.Debug().Str("alert", alert).Msg("notice dropped by rate limit")
		return false
	}
	if sendAlert {
		safeCall(a.logger, "alert", func() { a.sink.Alert(sev, alert) })
	}
	if sendToast {
		safeCall(a.logger, "toast", func() { a.sink.Toast(sev, toast) })
	}
	return true
}
