package incognito

import (
	"github.com/ppiankov/incognito/internal/alert"
	"github.com/ppiankov/incognito/internal/capability"
	"github.com/ppiankov/incognito/internal/config"
	"github.com/ppiankov/incognito/internal/localorigin"
	"github.com/ppiankov/incognito/internal/model"
	"github.com/ppiankov/incognito/internal/metrics"
	"github.com/ppiankov/incognito/internal/origin"
	"github.com/ppiankov/incognito/internal/sched"
)

// Settings and their providers.
type (
	Settings  = config.Settings
	Provider  = config.Provider
	Store     = config.Store
	Scheduler = sched.Scheduler
	Metrics   = metrics.Metrics
)

// Message types the host hands to the guards.
type (
	Channel             = model.Channel
	Message             = model.Message
	RegistrationMessage = model.RegistrationMessage
	ExtensionMessage    = model.ExtensionMessage
	IdentityMessage     = model.IdentityMessage
	ResourcePushMessage = model.ResourcePushMessage
	Verdict             = model.Verdict
	Source              = model.Source
)

// Resolution sources.
const (
	SourceUser    = model.SourceUser
	SourceServer  = model.SourceServer
	SourceUnknown = model.SourceUnknown
)

// Send path hooks.
type (
	Scope       = capability.Scope
	SendFunc    = capability.SendFunc
	RebuildFunc = capability.RebuildFunc
)

// Content loading.
type (
	PackInfo      = origin.PackInfo
	PackKind      = origin.PackKind
	Binding       = origin.Binding
	BindingSource = origin.BindingSource
	BindingFunc   = origin.BindingFunc
	OriginStats   = origin.Stats
)

// Local-origin results.
type (
	SessionState       = localorigin.SessionState
	PushDecision       = localorigin.PushDecision
	LocalRedirectError = localorigin.LocalRedirectError
)

// Alert delivery.
type (
	Sink     = alert.Sink
	Severity = alert.Severity
	Recorder = alert.Recorder
)

// Errors returned by Fetch.
var (
	ErrRedirectLimit = localorigin.ErrRedirectLimit
	ErrLocalRedirect = localorigin.ErrLocalRedirect
)

// Status is a point-in-time summary of every guard.
type Status struct {
	Session    SessionState `json:"session"`
	Origins    OriginStats  `json:"origins"`
	Probes     int64        `json:"local_probes"`
	ConfigHash string       `json:"config_hash,omitempty"`
}

// ParseChannel parses "namespace:path"; a bare path is in the native namespace.
func ParseChannel(s string) (Channel, error) {
	return model.ParseChannel(s)
}
