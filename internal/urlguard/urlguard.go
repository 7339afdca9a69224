// Package urlguard decides whether a user-supplied URL may be fetched by the
// server. It performs no network I/O: decisions are made from the URL text
// alone, so hostnames that resolve to private addresses are not caught here.
package urlguard

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrMalformed   = errors.New("urlguard: malformed url")
	ErrScheme      = errors.New("urlguard: scheme not allowed")
	ErrBlockedHost = errors.New("urlguard: host not allowed")
	ErrBlockedPort = errors.New("urlguard: port not allowed")
)

var blockedHostnames = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"::1":       {},
}

var blockedPorts = map[int]struct{}{
	22:    {},
	23:    {},
	25:    {},
	3306:  {},
	5432:  {},
	6379:  {},
	27017: {},
	9200:  {},
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("255.255.255.255/32"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("ff00::/8"),
}

// Hosts like "2130706433" or "0x7f.1" are accepted by many resolvers as IPv4
// addresses even though netip rejects them.
var numericHost = regexp.MustCompile(`^(0x[0-9a-f]*|[0-9]+)(\.(0x[0-9a-f]*|[0-9]+))*$`)

// IsAllowed reports whether raw may be fetched.
func IsAllowed(raw string) bool {
	return Check(raw) == nil
}

// Check returns nil when raw may be fetched, or an error wrapping one of the
// package sentinels describing why it may not.
func Check(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrMalformed
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: %q", ErrScheme, u.Scheme)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrMalformed)
	}

	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 0 || n > 65535 {
			return fmt.Errorf("%w: invalid port %q", ErrMalformed, port)
		}
		if _, blocked := blockedPorts[n]; blocked {
			return fmt.Errorf("%w: %d", ErrBlockedPort, n)
		}
	}

	if _, blocked := blockedHostnames[host]; blocked || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}

	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		if numericHost.MatchString(host) {
			return fmt.Errorf("%w: ambiguous numeric host %s", ErrBlockedHost, host)
		}
		return nil
	}
	if IsBlockedAddr(addr) {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}
	return nil
}

// IsBlockedAddr reports whether addr falls into a private, loopback,
// link-local, unspecified or multicast range. IPv4-mapped IPv6 addresses are
// judged by their IPv4 form.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.WithZone("")
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
