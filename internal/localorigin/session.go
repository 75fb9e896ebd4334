package localorigin

import (
	"context"
	"net"
	"net/netip"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ppiankov/incognito/internal/sched"
)

// SessionState is the trust snapshot of the current protocol session.
// The zero value means no active session, which is untrusted.
type SessionState struct {
	ID            string `json:"id,omitempty"`
	RemoteAddress string `json:"remote_address,omitempty"`
	Trusted       bool   `json:"trusted"`
	Active        bool   `json:"active"`
}

// Session tracks whether the connected server sits on the local network.
// Local URLs are legitimate on a LAN server and an attack everywhere else.
type Session struct {
	classify func(ctx context.Context, host string) bool
	sched    sched.Scheduler
	logger   zerolog.Logger
	onEnd    func()
	onClear  func()

	mu      sync.Mutex
	state   SessionState
	gen     uint64
	pending sched.Timer
}

func newSession(classify func(context.Context, string) bool, s sched.Scheduler, logger zerolog.Logger) *Session {
	return &Session{classify: classify, sched: s, logger: logger}
}

// OnEnd registers a callback run as soon as a session ends. Per-session
// alert and detection state belongs here so a quick reconnect starts clean.
func (s *Session) OnEnd(fn func()) {
	s.mu.Lock()
	s.onEnd = fn
	s.mu.Unlock()
}

// OnClear registers a callback run when a disconnected session is finally
// cleared. It is not run if a reconnect cancels the clear.
func (s *Session) OnClear(fn func()) {
	s.mu.Lock()
	s.onClear = fn
	s.mu.Unlock()
}

// OnConnect starts a session with remote ("host", "host:port" or
// "[v6]:port") and classifies it once.
func (s *Session) OnConnect(ctx context.Context, remote string) SessionState {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.state = SessionState{ID: uuid.NewString(), RemoteAddress: remote, Active: true}
	s.mu.Unlock()

	trusted := false
	if host := normalizeHost(remote); host != "" {
		trusted = s.classify(ctx, host)
	}

	s.mu.Lock()
	if s.gen == gen {
		s.state.Trusted = trusted
	}
	st := s.state
	s.mu.Unlock()

	s.logger.Debug().Str("session", st.ID).Str("remote", remote).Bool("trusted", st.Trusted).Msg("session connected")
	return st
}

// OnConnectAddr is OnConnect for a socket address. Addresses that are
// neither TCP nor UDP leave the session untrusted.
func (s *Session) OnConnectAddr(ctx context.Context, addr net.Addr) SessionState {
	ap, ok := addrToAddrPort(addr)
	if !ok {
		return s.OnConnect(ctx, "")
	}
	return s.OnConnect(ctx, ap.String())
}

// OnDisconnect marks the session inactive and untrusted and runs the OnEnd
// callback at once. The state itself is cleared one scheduler tick later.
func (s *Session) OnDisconnect() {
	s.mu.Lock()
	s.state.Active = false
	s.state.Trusted = false
	gen := s.gen
	if s.pending != nil {
		s.pending.Stop()
	}
	s.pending = s.sched.AfterFunc(sched.Tick, func() { s.clear(gen) })
	id := s.state.ID
	fn := s.onEnd
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
	s.logger.Debug().Str("session", id).Msg("session disconnected")
}

func (s *Session) clear(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = SessionState{}
	s.pending = nil
	fn := s.onClear
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// State returns a copy of the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Trusted reports whether an active session is connected to a local server.
func (s *Session) Trusted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Active && s.state.Trusted
}

func addrToAddrPort(addr net.Addr) (netip.AddrPort, bool) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		if a == nil {
			return netip.AddrPort{}, false
		}
		return a.AddrPort(), true
	case *net.UDPAddr:
		if a == nil {
			return netip.AddrPort{}, false
		}
		return a.AddrPort(), true
	}
	return netip.AddrPort{}, false
}
