package util

import (
	"net"
	"net/http"
	"strings"
)

// TrustedProxies is the set of peers whose X-Forwarded-For header is honoured.
type TrustedProxies struct {
	nets []*net.IPNet
}

// NewTrustedProxies parses CIDRs and bare IPs. No entries means trust nobody (nil).
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	var nets []*net.IPNet
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, &net.ParseError{Type: "IP address", Text: entry}
			}
			if ip.To4() != nil {
				entry += "/32"
			} else {
				entry += "/128"
			}
		}
		_, cidr, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, err
		}
		nets = append(nets, cidr)
	}
	if len(nets) == 0 {
		return nil, nil
	}
	return &TrustedProxies{nets: nets}, nil
}

// Contains reports whether ip belongs to a trusted range.
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

// ClientIP returns the caller address. X-Forwarded-For is walked right to left
// only when the direct peer is trusted; the first untrusted hop wins.
// X-Real-IP is consulted when the forwarded chain is unusable.
func ClientIP(r *http.Request, trusted *TrustedProxies) string {
	remote := remoteIP(r.RemoteAddr)
	if remote == nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if !trusted.Contains(remote) {
		return remote.String()
	}
	var chain []net.IP
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
			chain = append(chain, ip)
		}
	}
	if len(chain) == 0 {
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
		return remote.String()
	}
	for i := len(chain) - 1; i >= 0; i-- {
		if !trusted.Contains(chain[i]) {
			return chain[i].String()
		}
	}
	return chain[0].String()
}

func remoteIP(addr string) net.IP {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return net.ParseIP(addr)
}
