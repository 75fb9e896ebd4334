package label

import (
	"context"
	"sync"
	"time"

	"github.com/ppiankov/incognito/internal/model"
)

// DefaultMarkerTTL is how long an interaction marker attributes later
// resolutions to its source.
const DefaultMarkerTTL = 2 * time.Second

type sourceKey struct{}

// WithSource tags ctx with who triggered the work it carries.
func WithSource(ctx context.Context, src model.Source) context.Context {
	return context.WithValue(ctx, sourceKey{}, src)
}

// SourceFrom returns the tag set by WithSource.
func SourceFrom(ctx context.Context) (model.Source, bool) {
	if ctx == nil {
		return model.SourceUnknown, false
	}
	src, ok := ctx.Value(sourceKey{}).(model.Source)
	return src, ok
}

// Attributor remembers recent interaction markers for resolutions whose
// caller did not tag a source. The most recent unexpired marker wins.
type Attributor struct {
	ttl time.Duration

	mu     sync.Mutex
	source model.Source
	at     time.Time
}

// NewAttributor creates an Attributor. ttl <= 0 uses DefaultMarkerTTL.
func NewAttributor(ttl time.Duration) *Attributor {
	if ttl <= 0 {
		ttl = DefaultMarkerTTL
	}
	return &Attributor{ttl: ttl}
}

// MarkUserInteraction records that the user just opened or edited something
// that renders labels.
func (a *Attributor) MarkUserInteraction(now time.Time) {
	a.mark(model.SourceUser, now)
}

// MarkServerContent records that server-supplied content is being rendered.
func (a *Attributor) MarkServerContent(now time.Time) {
	a.mark(model.SourceServer, now)
}

func (a *Attributor) mark(src model.Source, now time.Time) {
	a.mu.Lock()
	a.source = src
	a.at = now
	a.mu.Unlock()
}

// Clear forgets any marker.
func (a *Attributor) Clear() {
	a.mu.Lock()
	a.source = ""
	a.at = time.Time{}
	a.mu.Unlock()
}

// Attribute picks the source for a resolution: the context tag, then a live
// marker, then unknown.
func (a *Attributor) Attribute(ctx context.Context, now time.Time) model.Source {
	if src, ok := SourceFrom(ctx); ok {
		return src
	}
	if a == nil {
		return model.SourceUnknown
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.source != "" && now.Sub(a.at) < a.ttl {
		return a.source
	}
	return model.SourceUnknown
}
