package localorigin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/dnscore"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/incognito/internal/metrics"
)

// DefaultLookupTimeout bounds every host lookup.
const DefaultLookupTimeout = 2 * time.Second

// ErrNoAddresses is returned when a lookup succeeds with an empty answer.
var ErrNoAddresses = errors.New("localorigin: no addresses")

// LookupFunc resolves host to its addresses.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// SystemLookup uses the operating system resolver.
func SystemLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// DNSServerLookup returns a LookupFunc that queries one pinned server for A
// and AAAA records. server is "udp://host:port", "host:port", or an
// "https://" DNS-over-HTTPS endpoint.
func DNSServerLookup(server string) (LookupFunc, error) {
	addr, err := parseServer(server)
	if err != nil {
		return nil, err
	}
	txp := &dnscore.Transport{}
	return func(ctx context.Context, host string) ([]netip.Addr, error) {
		var out []netip.Addr
		var lastErr error
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			query, err := dnscore.NewQuery(dns.Fqdn(host), qtype)
			if err != nil {
				return nil, fmt.Errorf("build query for %s: %w", host, err)
			}
			resp, err := txp.Query(ctx, addr, query)
			if err != nil {
				lastErr = err
				continue
			}
			if resp.Rcode != dns.RcodeSuccess {
				lastErr = fmt.Errorf("%s: %s", host, dns.RcodeToString[resp.Rcode])
				continue
			}
			out = append(out, answersToAddrs(resp.Answer)...)
		}
		if len(out) == 0 {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ErrNoAddresses
		}
		return out, nil
	}, nil
}

func parseServer(server string) (*dnscore.ServerAddr, error) {
	switch {
	case strings.HasPrefix(server, "https://"):
		return dnscore.NewServerAddr(dnscore.ProtocolDoH, server), nil
	case strings.HasPrefix(server, "udp://"):
		server = strings.TrimPrefix(server, "udp://")
	case strings.Contains(server, "://"):
		return nil, fmt.Errorf("unsupported dns server scheme in %q", server)
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return dnscore.NewServerAddr(dnscore.ProtocolUDP, server), nil
}

func answersToAddrs(rrs []dns.RR) []netip.Addr {
	var out []netip.Addr
	for _, rr := range rrs {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			out = append(out, addr.Unmap())
		}
	}
	return out
}

// Resolver wraps a LookupFunc with a hard timeout and collapses concurrent
// lookups of the same host into one.
type Resolver struct {
	lookup  LookupFunc
	timeout time.Duration
	group   singleflight.Group
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewResolver creates a Resolver. A nil lookup uses SystemLookup.
func NewResolver(lookup LookupFunc, timeout time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Resolver {
	if lookup == nil {
		lookup = SystemLookup
	}
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &Resolver{lookup: lookup, timeout: timeout, logger: logger, metrics: m}
}

// Resolve returns the addresses of host. It never waits longer than the
// resolver timeout, even if the underlying lookup ignores its context.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ch := r.group.DoChan(host, func() (any, error) {
		// Detached from the first caller so its cancellation does not
		// fail everyone sharing the flight.
		lctx, lcancel := context.WithTimeout(context.Background(), r.timeout)
		defer lcancel()
		return r.lookup(lctx, host)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		addrs, _ := res.Val.([]netip.Addr)
		return addrs, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("lookup %s: %w", host, ctx.Err())
	}
}

// IsLocal resolves host and reports whether any address is local. Lookup
// failures count as not local.
func (r *Resolver) IsLocal(ctx context.Context, host string) (bool, string) {
	local, reason, _ := r.vet(ctx, host)
	return local, reason
}

// vet is IsLocal that also hands back the addresses it checked.
func (r *Resolver) vet(ctx context.Context, host string) (bool, string, []netip.Addr) {
	addrs, err := r.Resolve(ctx, host)
	if err != nil {
		class := errclass.New(err)
		r.metrics.LookupFailed(class)
		r.logger.Debug().Err(err).Str("host", host).Str("errClass", class).Msg("lookup failed, treating host as not local")
		return false, "", nil
	}
	for _, a := range addrs {
		if local, reason := ClassifyAddr(a); local {
			return true, "resolves to " + reason, addrs
		}
	}
	return false, "", addrs
}
