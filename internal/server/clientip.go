package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

type ipSource string

const (
	ipSourceRemoteAddr    ipSource = "remote_addr"
	ipSourceXForwardedFor ipSource = "x_forwarded_for"
	ipSourceXRealIP       ipSource = "x_real_ip"
)

// clientIPResolver decides which address identifies the caller. Forwarded
// headers are spoofable, so they are honored only when the direct peer is a
// trusted proxy.
type clientIPResolver struct {
	trustAll bool
	trusted  []*net.IPNet
}

func newClientIPResolver(cfg RateLimitConfig) (*clientIPResolver, error) {
	resolver := &clientIPResolver{trustAll: cfg.TrustForwardedHeaders}
	for _, entry := range cfg.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("parse trusted proxy %q: invalid address", entry)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			resolver.trusted = append(resolver.trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", entry, err)
		}
		resolver.trusted = append(resolver.trusted, network)
	}
	return resolver, nil
}

func (c *clientIPResolver) ClientIPFromRequest(r *http.Request) (string, ipSource) {
	remote := hostOnly(r.RemoteAddr)
	if c == nil || !c.trustsPeer(remote) {
		return remote, ipSourceRemoteAddr
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip, ipSourceXForwardedFor
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip, ipSourceXRealIP
	}
	return remote, ipSourceRemoteAddr
}

func (c *clientIPResolver) trustsPeer(remote string) bool {
	if c.trustAll {
		return true
	}
	if len(c.trusted) == 0 {
		return false
	}
	ip := net.ParseIP(remote)
	if ip == nil {
		return false
	}
	for _, network := range c.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func hostOnly(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
