// Package origin tracks where every label identifier came from so the
// label guard can tell native values from extension-only ones.
package origin

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/incognito/internal/model"
)

// RuntimeOrigin marks identifiers only discovered by a rescan.
const RuntimeOrigin = "runtime"

// DefaultRescanInterval bounds how often the binding table is re-walked.
const DefaultRescanInterval = 5 * time.Second

type signature struct {
	prefix   string
	originID string
}

// Stats summarises the registry for diagnostics.
type Stats struct {
	Native       int  `json:"native"`
	Server       int  `json:"server"`
	Extension    int  `json:"extension"`
	Runtime      int  `json:"runtime"`
	Skipped      int  `json:"skipped"`
	UnknownPacks int  `json:"unknown_packs"`
	Ready        bool `json:"ready"`
}

// Tracker is the known-identifier registry. Content records live for one
// content load; runtime records persist until ClearRuntime.
type Tracker struct {
	logger         zerolog.Logger
	rescanInterval time.Duration

	mu               sync.RWMutex
	content          map[string]model.OriginRecord
	canonical        map[string]string
	runtime          map[string]model.OriginRecord
	runtimeCanonical map[string]string
	signatures       []signature
	source           BindingSource
	lastRescan       time.Time
	ready            bool
	skipped          int

	unknownPacks sync.Map
}

// NewTracker creates an empty registry.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		logger:           logger,
		rescanInterval:   DefaultRescanInterval,
		content:          make(map[string]model.OriginRecord),
		canonical:        make(map[string]string),
		runtime:          make(map[string]model.OriginRecord),
		runtimeCanonical: make(map[string]string),
	}
}

// SetBindingSource attaches the host's live binding table.
func (t *Tracker) SetBindingSource(src BindingSource, interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.source = src
	if interval > 0 {
		t.rescanInterval = interval
	}
}

// RegisterSignature maps implementation type names starting with prefix
// to originID. The longest matching prefix wins.
func (t *Tracker) RegisterSignature(prefix, originID string) {
	if prefix == "" || originID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.signatures {
		if s.prefix == prefix {
			t.signatures[i].originID = originID
			return
		}
	}
	t.signatures = append(t.signatures, signature{prefix: prefix, originID: originID})
	sort.SliceStable(t.signatures, func(i, j int) bool {
		return len(t.signatures[i].prefix) > len(t.signatures[j].prefix)
	})
}

// OnLoadStart drops everything recorded by the previous content load.
func (t *Tracker) OnLoadStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.content = make(map[string]model.OriginRecord)
	t.canonical = make(map[string]string)
	t.ready = false
	t.skipped = 0
}

// OnIdentifierObserved records one identifier/value pair from a pack.
func (t *Tracker) OnIdentifierObserved(id, value string, pack PackInfo) {
	if id == "" {
		return
	}

	var rec model.OriginRecord
	switch pack.Kind {
	case PackBuiltin:
		rec = model.OriginRecord{Provenance: model.ProvenanceNative}
	case PackServerDownload, PackServerComposite:
		rec = model.OriginRecord{Provenance: model.ProvenanceServer}
	case PackLocalPath:
		t.mu.Lock()
		t.skipped++
		t.mu.Unlock()
		return
	default:
		// Extension and unknown packs: stated origin, then type signature.
		if originID := t.resolveOrigin(pack); originID != "" {
			rec = model.OriginRecord{Provenance: model.ProvenanceExtension, OriginID: originID}
		} else {
			t.warnUnknownPack(pack)
			return
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	merge(t.content, id, rec)
	if rec.Provenance.NativeLike() {
		// Server packs override builtin text on a clean client too.
		if _, ok := t.canonical[id]; !ok || rec.Provenance == model.ProvenanceServer {
			t.canonical[id] = value
		}
	}
}

// OnLoadComplete marks the registry ready and logs aggregate counts.
func (t *Tracker) OnLoadComplete() {
	t.mu.Lock()
	t.ready = true
	t.mu.Unlock()

	s := t.Stats()
	t.logger.Info().
		Int("native", s.Native).
		Int("server", s.Server).
		Int("extension", s.Extension).
		Int("runtime", s.Runtime).
		Int("skipped", s.Skipped).
		Msg("content origins loaded")
}

// RecordRuntime records an identifier registered outside the content load.
// An empty originHint means a native registration.
func (t *Tracker) RecordRuntime(id, originHint string) {
	if id == "" {
		return
	}
	rec := model.OriginRecord{Provenance: model.ProvenanceNative}
	if originHint != "" {
		rec = model.OriginRecord{Provenance: model.ProvenanceExtension, OriginID: originHint}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	merge(t.runtime, id, rec)
}

// RecordNativeDefault records a native runtime identifier with the value a
// clean client would display for it.
func (t *Tracker) RecordNativeDefault(id, value string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	merge(t.runtime, id, model.OriginRecord{Provenance: model.ProvenanceNative})
	if value != "" {
		t.runtimeCanonical[id] = value
	}
}

// ClearRuntime drops every runtime record.
func (t *Tracker) ClearRuntime() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runtime = make(map[string]model.OriginRecord)
	t.runtimeCanonical = make(map[string]string)
	t.lastRescan = time.Time{}
}

// MaybeRescan walks the binding table if the rescan interval has elapsed.
// Bindings not seen before are recorded: native ones with their default,
// the rest as extension-owned, under RuntimeOrigin when the owner is
// unknown. It reports whether a walk happened.
func (t *Tracker) MaybeRescan(now time.Time) bool {
	t.mu.Lock()
	src := t.source
	if src == nil || (!t.lastRescan.IsZero() && now.Sub(t.lastRescan) < t.rescanInterval) {
		t.mu.Unlock()
		return false
	}
	t.lastRescan = now
	t.mu.Unlock()

	added := 0
	for _, b := range src.Bindings() {
		if b.Name == "" || t.IsKnown(b.Name) {
			continue
		}
		switch {
		case b.Native:
			t.RecordNativeDefault(b.Name, b.Default)
		case b.OriginID != "":
			t.RecordRuntime(b.Name, b.OriginID)
		default:
			t.RecordRuntime(b.Name, RuntimeOrigin)
		}
		added++
	}
	if added > 0 {
		t.logger.Debug().Int("added", added).Msg("binding rescan recorded new identifiers")
	}
	return true
}

// IsKnown reports whether id has any record.
func (t *Tracker) IsKnown(id string) bool {
	_, ok := t.OriginOf(id)
	return ok
}

// IsNative reports whether a clean client would also know id.
func (t *Tracker) IsNative(id string) bool {
	rec, ok := t.OriginOf(id)
	return ok && rec.Provenance.NativeLike()
}

// OriginOf returns the strongest record for id across content and runtime.
func (t *Tracker) OriginOf(id string) (model.OriginRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec := t.strongestLocked(id)
	return rec, rec.Provenance != ""
}

func (t *Tracker) strongestLocked(id string) model.OriginRecord {
	c, okc := t.content[id]
	r, okr := t.runtime[id]
	switch {
	case okc && okr:
		if model.ProvRank[r.Provenance] > model.ProvRank[c.Provenance] {
			return r
		}
		return c
	case okc:
		return c
	case okr:
		return r
	}
	return model.OriginRecord{}
}

// CanonicalValue returns the value a clean client would display for id.
func (t *Tracker) CanonicalValue(id string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if v, ok := t.canonical[id]; ok {
		return v, true
	}
	v, ok := t.runtimeCanonical[id]
	return v, ok
}

// Ready reports whether a content load has completed.
func (t *Tracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// IdentifiersFor lists identifiers owned by originID, sorted. An identifier
// also observed as native is never listed.
func (t *Tracker) IdentifiersFor(originID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for _, m := range []map[string]model.OriginRecord{t.content, t.runtime} {
		for id, rec := range m {
			if rec.Provenance != model.ProvenanceExtension || rec.OriginID != originID {
				continue
			}
			if t.strongestLocked(id) != rec {
				continue
			}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return dedupSorted(out)
}

// Stats counts records by provenance.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Stats{Ready: t.ready, Skipped: t.skipped, Runtime: len(t.runtime)}
	for _, rec := range t.content {
		switch rec.Provenance {
		case model.ProvenanceNative:
			s.Native++
		case model.ProvenanceServer:
			s.Server++
		case model.ProvenanceExtension:
			s.Extension++
		}
	}
	t.unknownPacks.Range(func(_, _ any) bool {
		s.UnknownPacks++
		return true
	})
	return s
}

func (t *Tracker) resolveOrigin(pack PackInfo) string {
	if pack.OriginID != "" {
		return pack.OriginID
	}
	if pack.ImplType == "" {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.signatures {
		if strings.HasPrefix(pack.ImplType, s.prefix) {
			return s.originID
		}
	}
	return ""
}

func (t *Tracker) warnUnknownPack(pack PackInfo) {
	key := pack.Name + "|" + pack.ImplType
	if _, loaded := t.unknownPacks.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	t.logger.Warn().
		Str("pack", pack.Name).
		Str("impl_type", pack.ImplType).
		Str("kind", string(pack.Kind)).
		Msg("pack origin unknown, identifiers left untracked")
}

// merge keeps the higher-ranked provenance; ties keep the first record.
func merge(m map[string]model.OriginRecord, id string, rec model.OriginRecord) {
	if cur, ok := m[id]; ok && model.ProvRank[cur.Provenance] >= model.ProvRank[rec.Provenance] {
		return
	}
	m[id] = rec
}

func dedupSorted(in []string) []string {
	out := in[:0]
	for i, s := range in {
		if i == 0 || s != in[i-1] {
			out = append(out, s)
		}
	}
	return out
}
