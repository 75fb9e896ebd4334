package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// IdentityMode selects which client identity is presented to the server.
type IdentityMode string

const (
	ModeNative   IdentityMode = "vanilla"
	ModeProfileA IdentityMode = "fabric"
	ModeProfileB IdentityMode = "forge"
	ModeCustom   IdentityMode = "custom"
)

// ParseIdentityMode maps a config string to an IdentityMode.
// Unknown values fall back to ModeNative.
func ParseIdentityMode(s string) IdentityMode {
	switch IdentityMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeProfileA:
		return ModeProfileA
	case ModeProfileB:
		return ModeProfileB
	case ModeCustom:
		return ModeCustom
	default:
		return ModeNative
	}
}

// SpoofProfile is the read-only spoofing snapshot taken per decision.
type SpoofProfile struct {
	Mode               IdentityMode `json:"mode"`
	ChannelEnforcement bool         `json:"channel_enforcement"`
	CustomIdentity     string       `json:"custom_identity,omitempty"`
}

// Enforcing reports whether channel traffic should be filtered at all.
// Custom identities do not imitate a known channel set, so nothing is filtered.
func (p SpoofProfile) Enforcing() bool {
	return p.ChannelEnforcement && p.Mode != ModeCustom
}

// Action is the outcome of classifying one outbound message.
type Action string

const (
	Allow   Action = "allow"
	Block   Action = "block"
	Rewrite Action = "rewrite"
)

// Verdict is a classification result. Channels is set only for Rewrite.
type Verdict struct {
	Action   Action    `json:"action"`
	Channels []Channel `json:"channels,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// Provenance tags where an identifier came from.
type Provenance string

const (
	ProvenanceNative    Provenance = "native"
	ProvenanceServer    Provenance = "server"
	ProvenanceExtension Provenance = "extension"
	ProvenanceUnknown   Provenance = "unknown"
)

// ProvRank orders provenances so that merging two observations is
// deterministic: the higher rank wins. Native beats server beats extension.
var ProvRank = map[Provenance]int{
	ProvenanceUnknown:   0,
	ProvenanceExtension: 1,
	ProvenanceServer:    2,
	ProvenanceNative:    3,
}

// NativeLike reports whether a clean client would resolve the identifier too.
func (p Provenance) NativeLike() bool {
	return p == ProvenanceNative || p == ProvenanceServer
}

// OriginRecord is the registry entry for one identifier.
type OriginRecord struct {
	Provenance Provenance `json:"provenance"`
	OriginID   string     `json:"origin_id,omitempty"`
}

// Source is who triggered a label resolution.
type Source string

const (
	SourceUser    Source = "user"
	SourceServer  Source = "server"
	SourceUnknown Source = "unknown"
)

// DetectionEvent records one observed label resolution. It is ephemeral and
// only feeds dedup and batching.
type DetectionEvent struct {
	ID            string     `json:"id"`
	Identifier    string     `json:"identifier"`
	Provenance    Provenance `json:"provenance"`
	OriginalValue string     `json:"original_value"`
	SpoofedValue  *string    `json:"spoofed_value,omitempty"`
	Changed       bool       `json:"changed"`
	Source        Source     `json:"source"`
	Timestamp     time.Time  `json:"timestamp"`
}

// NewDetectionEvent creates an event with a fresh ID.
func NewDetectionEvent(identifier, original string, spoofed *string, source Source, now time.Time) DetectionEvent {
	ev := DetectionEvent{
		ID:            uuid.NewString(),
		Identifier:    identifier,
		OriginalValue: original,
		SpoofedValue:  spoofed,
		Source:        source,
		Timestamp:     now.UTC(),
	}
	if spoofed != nil && *spoofed != original {
		ev.Changed = true
	}
	return ev
}

// Entry renders the event as a one-line detail string for logs and alerts.
func (e DetectionEvent) Entry(protection bool) string {
	switch {
	case e.SpoofedValue == nil:
		return "[" + e.Identifier + "] '" + e.OriginalValue + "' (unknown key)"
	case e.Changed && protection:
		return "[" + e.Identifier + "] '" + e.OriginalValue + "' -> '" + *e.SpoofedValue + "'"
	case e.Changed:
		return "[" + e.Identifier + "] '" + e.OriginalValue + "' (protection off)"
	default:
		return "[" + e.Identifier + "] '" + e.OriginalValue + "' (unchanged)"
	}
}
