package localorigin

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"time"
)

// pin carries the addresses a host was vetted against down to the dial, so
// the connection goes where the check looked and a second lookup cannot
// answer differently.
type pin struct {
	host  string
	addrs []netip.Addr
}

type pinKey struct{}

func withPin(ctx context.Context, host string, addrs []netip.Addr) context.Context {
	if len(addrs) == 0 {
		return ctx
	}
	return context.WithValue(ctx, pinKey{}, pin{host: normalizeHost(host), addrs: addrs})
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// pinnedTransport returns a clone of rt whose dials honour pins. Only
// *http.Transport (or nil, meaning the default transport) can be pinned;
// any other round tripper is returned unchanged. Clones are cached per
// base transport so connection pools are shared across fetches.
func (g *Guard) pinnedTransport(rt http.RoundTripper) http.RoundTripper {
	var base *http.Transport
	switch t := rt.(type) {
	case nil:
		base, _ = http.DefaultTransport.(*http.Transport)
	case *http.Transport:
		base = t
	}
	if base == nil {
		return rt
	}
	if v, ok := g.transports.Load(base); ok {
		return v.(*http.Transport)
	}

	tr := base.Clone()
	dial := tr.DialContext
	if dial == nil {
		d := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		dial = d.DialContext
	}
	tr.DialContext = pinnedDial(dial)

	v, _ := g.transports.LoadOrStore(base, tr)
	return v.(*http.Transport)
}

// pinnedDial dials the pinned addresses when addr names the pinned host.
// Other addresses, such as a proxy, are dialed as given.
func pinnedDial(dial dialFunc) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		p, ok := ctx.Value(pinKey{}).(pin)
		if !ok {
			return dial(ctx, network, addr)
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil || normalizeHost(host) != p.host {
			return dial(ctx, network, addr)
		}
		var lastErr error
		for _, a := range p.addrs {
			conn, err := dial(ctx, network, net.JoinHostPort(a.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}
