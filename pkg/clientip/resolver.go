package clientip

import (
	"net"
	"net/http"
	"strings"
)

// Resolver computes the resolved client IP of a request, honouring X-Forwarded-For only
// when the direct peer is a trusted proxy.
type Resolver struct {
	networks []*net.IPNet
}

// NewResolver creates a Resolver from CIDRs or bare IPs. Invalid entries are ignored.
func NewResolver(trusted []string) *Resolver {
	r := &Resolver{}
	for _, entry := range trusted {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, network, err := net.ParseCIDR(entry); err == nil {
			r.networks = append(r.networks, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 128
		if ip.To4() != nil {
			ip, bits = ip.To4(), 32
		}
		r.networks = append(r.networks, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return r
}

// IsTrusted reports whether ip falls in a trusted range.
func (r *Resolver) IsTrusted(ip net.IP) bool {
	if r == nil || ip == nil {
		return false
	}
	for _, network := range r.networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolve returns the client IP for req, or "" when the peer address cannot be parsed.
func (r *Resolver) Resolve(req *http.Request) string {
	peer := net.ParseIP(hostOnly(req.RemoteAddr))
	if peer == nil {
		return ""
	}
	if !r.IsTrusted(peer) {
		return peer.String()
	}
	for _, part := range strings.Split(forwardedFor(req), ",") {
		if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
			return ip.String()
		}
	}
	return peer.String()
}

// Middleware attaches the resolved client IP to each request (see ResolvedIP).
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if ip := r.Resolve(req); ip != "" {
			req = WithResolvedIP(req, ip)
		}
		next.ServeHTTP(w, req)
	})
}
