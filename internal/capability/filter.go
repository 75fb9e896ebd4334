// Package capability decides which outbound extension channels a spoofed
// client may reveal, and rewrites channel registrations to match the
// presented identity.
package capability

import (
	"github.com/ppiankov/incognito/internal/model"
)

const (
	NamespaceCommon   = "c"
	NamespaceProfileA = "fabric"
	NamespaceProfileB = "forge"
)

var (
	// ChannelRealms is native but only sent by clients with the realms
	// extension loaded, so modded profiles never reveal it.
	ChannelRealms = model.NewChannel(model.NativeNamespace, "mco")

	ChannelProfileBLogin     = model.NewChannel(NamespaceProfileB, "login")
	ChannelProfileBHandshake = model.NewChannel(NamespaceProfileB, "handshake")
)

// profileBChannels is the exact registration list a profile-B client sends.
var profileBChannels = []model.Channel{ChannelProfileBLogin, ChannelProfileBHandshake}

func allow(reason string) model.Verdict { return model.Verdict{Action: model.Allow, Reason: reason} }
func block(reason string) model.Verdict { return model.Verdict{Action: model.Block, Reason: reason} }

// Classify decides a single non-registration channel.
func Classify(ch model.Channel, p model.SpoofProfile) model.Verdict {
	if !p.Enforcing() {
		return allow("enforcement off")
	}
	if ch == model.ChannelBrand {
		return allow("native housekeeping")
	}
	if model.IsRegistration(ch) {
		if p.Mode == model.ModeNative {
			return block("vanilla clients do not register channels")
		}
		return allow("registration envelope")
	}

	switch p.Mode {
	case model.ModeProfileA:
		switch {
		case ch == ChannelRealms:
			return block("realms channel")
		case ch.Namespace == model.NativeNamespace:
			return allow("native channel")
		case ch.Namespace == NamespaceCommon:
			return allow("common channel")
		case ch.InNamespace(NamespaceProfileA):
			return allow("profile channel")
		}
		return block("foreign namespace " + ch.Namespace)
	case model.ModeProfileB:
		switch {
		case ch == ChannelRealms:
			return block("realms channel")
		case ch.Namespace == model.NativeNamespace:
			return allow("native channel")
		case ch == ChannelProfileBLogin || ch == ChannelProfileBHandshake:
			return allow("profile channel")
		}
		return block("foreign channel " + ch.String())
	default:
		return block("vanilla clients send no extension channels")
	}
}

// Apply decides a whole message. Applying it to its own rewrite output
// always yields Allow.
func Apply(msg model.Message, p model.SpoofProfile) model.Verdict {
	if !p.Enforcing() {
		return allow("enforcement off")
	}
	switch m := msg.(type) {
	case model.IdentityMessage, *model.IdentityMessage:
		return allow("identity substituted at accessor")
	case model.RegistrationMessage:
		return applyRegistration(m, p)
	case *model.RegistrationMessage:
		if m == nil {
			return block("nil registration")
		}
		return applyRegistration(*m, p)
	}
	return Classify(msg.ChannelID(), p)
}

func applyRegistration(m model.RegistrationMessage, p model.SpoofProfile) model.Verdict {
	switch p.Mode {
	case model.ModeProfileA:
		kept := make([]model.Channel, 0, len(m.Channels))
		for _, ch := range m.Channels {
			if ch.InNamespace(NamespaceProfileA) {
				kept = append(kept, ch)
			}
		}
		if len(kept) == 0 {
			return block("no profile channels to register")
		}
		if model.EqualChannels(kept, m.Channels) {
			return allow("registration already filtered")
		}
		return model.Verdict{Action: model.Rewrite, Channels: kept, Reason: "filtered to profile namespace"}
	case model.ModeProfileB:
		if model.EqualChannels(m.Channels, profileBChannels) {
			return allow("registration already canonical")
		}
		out := make([]model.Channel, len(profileBChannels))
		copy(out, profileBChannels)
		return model.Verdict{Action: model.Rewrite, Channels: out, Reason: "replaced with profile channels"}
	default:
		return block("vanilla clients do not register channels")
	}
}

// FilterAdvertised narrows a locally advertised receiver or sendable set.
// changed reports whether anything was removed.
func FilterAdvertised(set []model.Channel, p model.SpoofProfile) ([]model.Channel, bool) {
	if !p.Enforcing() {
		return set, false
	}
	switch p.Mode {
	case model.ModeNative:
		return []model.Channel{}, len(set) > 0
	case model.ModeProfileA:
		out := make([]model.Channel, 0, len(set))
		for _, ch := range set {
			if ch.Namespace == model.NativeNamespace || ch.InNamespace(NamespaceProfileA) {
				out = append(out, ch)
			}
		}
		return out, len(out) != len(set)
	default:
		return set, false
	}
}

// Identity is the one place the presented client identity is computed.
// A nil profile means spoofing is off.
func Identity(p *model.SpoofProfile, native string) string {
	if p == nil {
		return native
	}
	switch p.Mode {
	case model.ModeProfileA:
		return string(model.ModeProfileA)
	case model.ModeProfileB:
		return string(model.ModeProfileB)
	case model.ModeCustom:
		if p.CustomIdentity != "" {
			return p.CustomIdentity
		}
		return string(model.ModeNative)
	default:
		return string(model.ModeNative)
	}
}
