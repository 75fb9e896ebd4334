package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ppiankov/incognito/internal/config"
	"github.com/ppiankov/incognito/internal/metrics"
	"github.com/ppiankov/incognito/internal/model"
)

// ErrMalformedMessage is logged when a rewritten registration cannot be
// rebuilt into a message of the same shape. The message is dropped.
var ErrMalformedMessage = errors.New("capability: malformed message")

// Layer names an interception point.
type Layer string

const (
	LayerDispatch Layer = "dispatch"
	LayerEncode   Layer = "encode"
)

// Scope travels with a message through the send path. The zero value is an
// ordinary send. Only the Enforcer creates re-emit scopes; hooks that see one
// pass the message through untouched.
type Scope struct {
	reemit bool
}

// Reemitting reports whether the message is a rewrite this layer already produced.
func (s Scope) Reemitting() bool { return s.reemit }

// SendFunc continues the host's send path.
type SendFunc func(ctx context.Context, scope Scope, msg model.Message) error

// RebuildFunc constructs the replacement for a rewritten registration.
type RebuildFunc func(orig model.RegistrationMessage, channels []model.Channel) (model.Message, error)

// DefaultRebuild copies the registration with the new channel list.
func DefaultRebuild(orig model.RegistrationMessage, channels []model.Channel) (model.Message, error) {
	return model.RegistrationMessage{ID: orig.ID, Channels: channels}, nil
}

// Enforcer runs the same classification at both interception layers so a
// message that bypasses one is still caught by the other.
type Enforcer struct {
	provider config.Provider
	rebuild  RebuildFunc
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	// seen holds layer|action|channel keys logged this session
	seen sync.Map
}

// NewEnforcer creates an Enforcer. A nil rebuild uses DefaultRebuild.
func NewEnforcer(provider config.Provider, rebuild RebuildFunc, logger zerolog.Logger, m *metrics.Metrics) *Enforcer {
	if rebuild == nil {
		rebuild = DefaultRebuild
	}
	return &Enforcer{
		provider: provider,
		rebuild:  rebuild,
		logger:   logger,
		metrics:  m,
	}
}

// Dispatch guards the API call site.
func (e *Enforcer) Dispatch(ctx context.Context, scope Scope, msg model.Message, send SendFunc) (model.Verdict, error) {
	return e.enforce(ctx, LayerDispatch, scope, msg, send)
}

// Encode guards the raw encode boundary.
func (e *Enforcer) Encode(ctx context.Context, scope Scope, msg model.Message, write SendFunc) (model.Verdict, error) {
	return e.enforce(ctx, LayerEncode, scope, msg, write)
}

// Profile returns the current spoof profile, or nil when spoofing is off
// or the configuration is not ready.
func (e *Enforcer) Profile() *model.SpoofProfile {
	cfg, err := e.provider.Snapshot()
	if err != nil {
		e.logger.Debug().Err(err).Msg("config unavailable, passing through")
		return nil
	}
	p, ok := cfg.Profile()
	if !ok {
		return nil
	}
	return &p
}

// Identity returns the identity string to present.
func (e *Enforcer) Identity(native string) string {
	return Identity(e.Profile(), native)
}

// Advertised filters a locally advertised channel set.
func (e *Enforcer) Advertised(set []model.Channel) []model.Channel {
	p := e.Profile()
	if p == nil {
		return set
	}
	out, changed := FilterAdvertised(set, *p)
	if changed {
		e.logger.Debug().Int("before", len(set)).Int("after", len(out)).Str("mode", string(p.Mode)).Msg("advertised channels filtered")
	}
	return out
}

// ResetSession forgets which decisions were already logged at info level.
func (e *Enforcer) ResetSession() {
	e.seen.Range(func(k, _ any) bool {
		e.seen.Delete(k)
		return true
	})
}

func (e *Enforcer) enforce(ctx context.Context, layer Layer, scope Scope, msg model.Message, send SendFunc) (model.Verdict, error) {
	if m, ok := msg.(*model.RegistrationMessage); msg == nil || (ok && m == nil) {
		return model.Verdict{Action: model.Block, Reason: "nil message"}, nil
	}
	if scope.Reemitting() {
		return model.Verdict{Action: model.Allow, Reason: "re-emitted rewrite"}, send(ctx, scope, msg)
	}

	p := e.Profile()
	if p == nil {
		return model.Verdict{Action: model.Allow, Reason: "spoofing off"}, send(ctx, scope, msg)
	}

	v := Apply(msg, *p)
	switch v.Action {
	case model.Block:
		e.metrics.ChannelBlocked(string(layer), string(p.Mode))
		e.logDecision(layer, v, msg, p.Mode)
		return v, nil

	case model.Rewrite:
		reg, ok := asRegistration(msg)
		if !ok {
			return e.malformed(layer, msg, fmt.Errorf("%w: rewrite of %T", ErrMalformedMessage, msg))
		}
		rebuilt, err := e.rebuildMessage(reg, v.Channels)
		if err != nil {
			return e.malformed(layer, msg, err)
		}
		e.metrics.RegistrationRewritten(string(layer), string(p.Mode))
		e.logDecision(layer, v, msg, p.Mode)
		return v, send(ctx, Scope{reemit: true}, rebuilt)

	default:
		return v, send(ctx, scope, msg)
	}
}

func (e *Enforcer) rebuildMessage(orig model.RegistrationMessage, channels []model.Channel) (msg model.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg = nil
			err = fmt.Errorf("%w: rebuild panicked: %v", ErrMalformedMessage, r)
		}
	}()
	msg, err = e.rebuild(orig, channels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg == nil || msg.ChannelID() != orig.ID {
		return nil, fmt.Errorf("%w: rebuilt message does not match %s", ErrMalformedMessage, orig.ID)
	}
	return msg, nil
}

func (e *Enforcer) malformed(layer Layer, msg model.Message, err error) (model.Verdict, error) {
	e.metrics.MessageMalformed(string(layer))
	e.logger.Error().Err(err).Str("layer", string(layer)).Str("channel", msg.ChannelID().String()).Msg("dropping message")
	return model.Verdict{Action: model.Block, Reason: "malformed"}, nil
}

func (e *Enforcer) logDecision(layer Layer, v model.Verdict, msg model.Message, mode model.IdentityMode) {
	ch := msg.ChannelID().String()
	key := string(layer) + "|" + string(v.Action) + "|" + ch
	ev := e.logger.Debug()
	if _, loaded := e.seen.LoadOrStore(key, struct{}{}); !loaded {
		ev = e.logger.Info()
	}
	ev.Str("layer", string(layer)).
		Str("action", string(v.Action)).
		Str("channel", ch).
		Str("mode", string(mode)).
		Str("reason", v.Reason).
		Msg("channel decision")
}

func asRegistration(msg model.Message) (model.RegistrationMessage, bool) {
	switch m := msg.(type) {
	case model.RegistrationMessage:
		return m, true
	case *model.RegistrationMessage:
		if m != nil {
			return *m, true
		}
	}
	return model.RegistrationMessage{}, false
}
