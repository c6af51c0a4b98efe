package util

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies is the allowlist of proxy addresses whose forwarded headers
// may be believed.
type TrustedProxies struct {
	nets []*net.IPNet
}

// NewTrustedProxies parses IP and CIDR entries. Empty input returns nil,
// meaning no proxy is trusted.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	var nets []*net.IPNet
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			// single address: widen to a host-sized CIDR
			if strings.Contains(entry, ":") {
				entry += "/128"
			} else {
				entry += "/32"
			}
		}
		_, cidr, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		nets = append(nets, cidr)
	}
	if len(nets) == 0 {
		return nil, nil
	}
	return &TrustedProxies{nets: nets}, nil
}

// Contains reports whether ip falls inside any trusted range.
func (t *TrustedProxies) Contains(ip net.IP) bool {
	if t == nil || ip == nil {
		return false
	}
	for _, n := range t.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP resolves the caller address for logging and rate limiting. The
// X-Forwarded-For chain is walked right to left and the first hop outside the
// trusted ranges wins; headers from untrusted peers are ignored entirely.
func ClientIP(r *http.Request, trusted *TrustedProxies) string {
	peer := hostIP(r.RemoteAddr)
	if peer == nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if !trusted.Contains(peer) {
		return peer.String()
	}

	var leftmost net.IP
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			continue
		}
		if !trusted.Contains(ip) {
			return ip.String()
		}
		leftmost = ip
	}
	if leftmost != nil {
		// every forwarded hop was a trusted proxy
		return leftmost.String()
	}

	if real := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); real != nil {
		return real.String()
	}
	return peer.String()
}

func hostIP(addr string) net.IP {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return net.ParseIP(addr)
}
