// Package localorigin keeps server-supplied URLs from reaching the client's
// local network: resource pushes, redirect chains, and the session's own
// trust level.
package localorigin

import (
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

var reservedNames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"local":                 {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
}

type localRange struct {
	prefix netip.Prefix
	reason string
}

var localRanges = []localRange{
	{netip.MustParsePrefix("127.0.0.0/8"), "loopback address"},
	{netip.MustParsePrefix("::1/128"), "IPv6 loopback"},
	{netip.MustParsePrefix("10.0.0.0/8"), "private network (10.x.x.x)"},
	{netip.MustParsePrefix("172.16.0.0/12"), "private network (172.16-31.x.x)"},
	{netip.MustParsePrefix("192.168.0.0/16"), "private network (192.168.x.x)"},
	{netip.MustParsePrefix("100.64.0.0/10"), "shared address space (CGNAT)"},
	{netip.MustParsePrefix("169.254.0.0/16"), "link-local address"},
	{netip.MustParsePrefix("fe80::/10"), "IPv6 link-local"},
	{netip.MustParsePrefix("fc00::/7"), "IPv6 unique local"},
	{netip.MustParsePrefix("0.0.0.0/8"), "this-network address"},
}

// ClassifyAddr reports whether addr is local and names the matching range.
// IPv4-mapped IPv6 addresses are classified as their IPv4 form.
func ClassifyAddr(addr netip.Addr) (bool, string) {
	if !addr.IsValid() {
		return false, ""
	}
	addr = addr.Unmap().WithZone("")
	if addr.IsUnspecified() {
		return true, "unspecified address"
	}
	for _, r := range localRanges {
		if r.prefix.Contains(addr) {
			return true, r.reason
		}
	}
	return false, ""
}

// IsLocalIP reports whether addr belongs to a loopback, private, link-local,
// CGNAT, unique-local, or unspecified range.
func IsLocalIP(addr netip.Addr) bool {
	local, _ := ClassifyAddr(addr)
	return local
}

// literalVerdict is the outcome of classifying a host without DNS.
type literalVerdict struct {
	local  bool
	reason string
	// final is false when the host is a name that needs resolving.
	final bool
}

// normalizeHost strips brackets, ports, zones and a trailing dot, lowercases,
// and folds the name through UTS-46 so width and case variants collapse.
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimSuffix(host, ".")
	if strings.Contains(host, ":") {
		return strings.ToLower(host)
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

func classifyLiteral(raw string) literalVerdict {
	host := normalizeHost(raw)
	if host == "" {
		return literalVerdict{final: true}
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		local, reason := ClassifyAddr(addr)
		return literalVerdict{local: local, reason: reason, final: true}
	}
	if addr, ok := parseLegacyIPv4(host); ok {
		local, reason := ClassifyAddr(addr)
		if local {
			reason += " (numeric form)"
		}
		return literalVerdict{local: local, reason: reason, final: true}
	}
	if _, ok := reservedNames[host]; ok {
		return literalVerdict{local: true, reason: "localhost hostname", final: true}
	}
	if strings.HasSuffix(host, ".localhost") {
		return literalVerdict{local: true, reason: "localhost hostname", final: true}
	}
	return literalVerdict{}
}

// parseLegacyIPv4 accepts the inet_aton forms browsers and resolvers still
// honour: 1 to 4 dot-separated parts in decimal, octal (leading 0) or hex
// (0x), with the last part filling the remaining bytes.
func parseLegacyIPv4(host string) (netip.Addr, bool) {
	parts := strings.Split(host, ".")
	if len(parts) == 0 || len(parts) > 4 {
		return netip.Addr{}, false
	}
	vals := make([]uint64, len(parts))
	for i, p := range parts {
		v, ok := parseLegacyPart(p)
		if !ok {
			return netip.Addr{}, false
		}
		vals[i] = v
	}

	var out uint64
	for i := 0; i < len(vals)-1; i++ {
		if vals[i] > 0xff {
			return netip.Addr{}, false
		}
		out = out<<8 | vals[i]
	}
	remaining := uint(8 * (5 - len(vals)))
	last := vals[len(vals)-1]
	if last >= 1<<remaining {
		return netip.Addr{}, false
	}
	out = out<<remaining | last

	return netip.AddrFrom4([4]byte{byte(out >> 24), byte(out >> 16), byte(out >> 8), byte(out)}), true
}

func parseLegacyPart(p string) (uint64, bool) {
	if p == "" {
		return 0, false
	}
	base := 10
	digits := p
	switch {
	case strings.HasPrefix(p, "0x"):
		base, digits = 16, p[2:]
	case len(p) > 1 && p[0] == '0':
		base, digits = 8, p[1:]
	}
	if digits == "" {
		// bare "0x" is zero in inet_aton
		return 0, base == 16
	}
	v, err := strconv.ParseUint(digits, base, 32)
	if err != nil {
		return 0, false
	}
	return v, true
}

// hostOf extracts the host from a URL. ok is false when the URL has none.
func hostOf(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "", false
	}
	return u.Hostname(), true
}
