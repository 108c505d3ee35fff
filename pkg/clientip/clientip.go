// Package clientip extracts the originating client address from inbound requests.
package clientip

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type connKey struct{}

type resolvedKey struct{}

// ConnContext records the accepted connection on the request context.
// Assign it to http.Server.ConnContext.
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

// WithResolvedIP returns a shallow copy of r carrying ip as its resolved client IP.
func WithResolvedIP(r *http.Request, ip string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), resolvedKey{}, ip))
}

// ResolvedIP returns the client IP attached by WithResolvedIP, if any.
func ResolvedIP(ctx context.Context) string {
	ip, _ := ctx.Value(resolvedKey{}).(string)
	return ip
}

// ClientIP returns the first non-empty candidate of, in order: the X-Forwarded-For header,
// the connection remote address, the socket remote address and the resolved IP.
// The connection address is consulted again between the later sources; that order is
// relied upon by existing callers and is kept as is. Returns "" when nothing is known.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	candidates := []func(*http.Request) string{
		forwardedFor,
		connRemoteAddr,
		connRemoteAddr,
		socketRemoteAddr,
		connRemoteAddr,
		resolvedIP,
	}
	for _, candidate := range candidates {
		if ip := candidate(r); ip != "" {
			return ip
		}
	}
	return ""
}

// forwardedFor returns the raw X-Forwarded-For value; repeated headers are joined by ", ".
func forwardedFor(r *http.Request) string {
	return strings.Join(r.Header.Values("X-Forwarded-For"), ", ")
}

func connRemoteAddr(r *http.Request) string {
	return hostOnly(r.RemoteAddr)
}

func socketRemoteAddr(r *http.Request) string {
	c, ok := r.Context().Value(connKey{}).(net.Conn)
	if !ok || c == nil || c.RemoteAddr() == nil {
		return ""
	}
	return hostOnly(c.RemoteAddr().String())
}

func resolvedIP(r *http.Request) string {
	return ResolvedIP(r.Context())
}

// hostOnly strips the port from addr; addresses without a port are returned trimmed.
func hostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
