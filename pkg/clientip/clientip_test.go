package clientip

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeConn only answers RemoteAddr.
type fakeConn struct {
	net.Conn
	remote net.Addr
}

func (f fakeConn) RemoteAddr() net.Addr { return f.remote }

func TestClientIPPrefersForwardedForHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req = req.WithContext(ConnContext(req.Context(), fakeConn{remote: &net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 1}}))
	req = WithResolvedIP(req, "198.51.100.1")

	if got := ClientIP(req); got != "203.0.113.7, 10.0.0.1" {
		t.Fatalf("expected raw X-Forwarded-For, got %q", got)
	}
}

func TestClientIPJoinsRepeatedForwardedForHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Add("X-Forwarded-For", "203.0.113.7")
	req.Header.Add("X-Forwarded-For", "198.51.100.2")

	if got := ClientIP(req); got != "203.0.113.7, 198.51.100.2" {
		t.Fatalf("unexpected value %q", got)
	}
}

func TestClientIPFallsBackToConnectionAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	req = WithResolvedIP(req, "198.51.100.1")

	if got := ClientIP(req); got != "2001:db8::1" {
		t.Fatalf("expected connection address, got %q", got)
	}

	req.RemoteAddr = "192.0.2.10"
	if got := ClientIP(req); got != "192.0.2.10" {
		t.Fatalf("expected portless address, got %q", got)
	}
}

func TestClientIPUsesSocketThenResolvedIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ""
	withConn := req.WithContext(ConnContext(req.Context(), fakeConn{remote: &net.TCPAddr{IP: net.ParseIP("192.0.2.44"), Port: 9000}}))
	withConn = WithResolvedIP(withConn, "198.51.100.1")

	if got := ClientIP(withConn); got != "192.0.2.44" {
		t.Fatalf("expected socket address, got %q", got)
	}

	onlyResolved := WithResolvedIP(req, "198.51.100.1")
	if got := ClientIP(onlyResolved); got != "198.51.100.1" {
		t.Fatalf("expected resolved ip, got %q", got)
	}
}

func TestClientIPEmptyWhenNothingKnown(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ""
	if got := ClientIP(req); got != "" {
		t.Fatalf("expected empty ip, got %q", got)
	}
	if got := ClientIP(nil); got != "" {
		t.Fatalf("expected empty ip for nil request, got %q", got)
	}
	if got := ResolvedIP(context.Background()); got != "" {
		t.Fatalf("expected no resolved ip, got %q", got)
	}
}

func TestConnContextExposesSocketAddress(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, socketRemoteAddr(r))
	}))
	srv.Config.ConnContext = ConnContext
	srv.Start()
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "127.0.0.1" {
		t.Fatalf("expected loopback socket address, got %q", body)
	}
}
