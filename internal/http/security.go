package http

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ProxyList holds the networks trusted to set forwarding and identity
// headers.
type ProxyList []*net.IPNet

// DefaultTrustedProxies covers loopback and the private ranges.
func DefaultTrustedProxies() ProxyList {
	p, err := ParseProxies([]string{"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "::1/128"})
	if err != nil {
		panic(err)
	}
	return p
}

// ParseProxies parses a list of networks in CIDR notation.
func ParseProxies(cidrs []string) (ProxyList, error) {
	out := make(ProxyList, 0, len(cidrs))
	for _, c := range cidrs {
		_, network, err := net.ParseCIDR(strings.TrimSpace(c))
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", c, err)
		}
		out = append(out, network)
	}
	return out, nil
}

func (p ProxyList) trusts(ip net.IP) bool {
	for _, network := range p {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func peerIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// peerTrusted reports whether the direct peer is a trusted proxy.
func (p ProxyList) peerTrusted(r *http.Request) bool {
	ip := net.ParseIP(peerIP(r))
	return ip != nil && p.trusts(ip)
}

// clientIP returns the client address. Forwarding headers are only
// honoured when the direct peer is a trusted proxy.
func (p ProxyList) clientIP(r *http.Request) string {
	directIP := peerIP(r)
	if !p.peerTrusted(r) {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return directIP
}

// Identity headers set by the authenticating proxy in front of the API. They
// are ignored unless the request comes from a trusted proxy.
const (
	HeaderUserID = "X-Auth-User-Id"
	HeaderName   = "X-Auth-Name"
	HeaderEmail  = "X-Auth-Email"
	HeaderAvatar = "X-Auth-Avatar"
)
