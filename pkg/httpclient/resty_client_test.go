package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRestyClientDoSendsBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("X-Test"); got != "1" {
			t.Errorf("missing header, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("unexpected body %q", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewRestyClient(2 * time.Second)
	resp, err := client.Do(context.Background(), Call{
		Method:  http.MethodPost,
		URL:     srv.URL + "/items",
		Headers: map[string]string{"X-Test": "1"},
		Body:    []byte("payload"),
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode())
	}
	if string(resp.Body()) != `{"ok":true}` {
		t.Fatalf("unexpected body %q", resp.Body())
	}
}

func TestRestyClientDoLeavesRawBodyUntyped(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewRestyClient(2 * time.Second)
	calls := []Call{
		{Method: http.MethodPost, URL: srv.URL, Body: []byte("a=1&b=2")},
		{Method: http.MethodPost, URL: srv.URL, Body: []byte("<x/>"), Headers: map[string]string{"content-type": "application/xml"}},
	}
	for _, call := range calls {
		if _, err := client.Do(context.Background(), call); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(seen))
	}
	if seen[0] != "" {
		t.Fatalf("expected no content type for raw body, got %q", seen[0])
	}
	if seen[1] != "application/xml" {
		t.Fatalf("expected explicit content type kept, got %q", seen[1])
	}
}

func TestRestyClientDoRoutesThroughProxy(t *testing.T) {
	var proxiedURL string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxiedURL = r.URL.String()
		_, _ = w.Write([]byte(`{"via":"proxy"}`))
	}))
	defer proxy.Close()

	client := NewRestyClient(2 * time.Second)
	resp, err := client.Do(context.Background(), Call{
		Method: http.MethodGet,
		URL:    "http://upstream.example/data?x=1",
		Proxy:  proxy.URL,
	})
	if err != nil {
		t.Fatalf("Do via proxy: %v", err)
	}
	if proxiedURL != "http://upstream.example/data?x=1" {
		t.Fatalf("proxy saw %q", proxiedURL)
	}
	if string(resp.Body()) != `{"via":"proxy"}` {
		t.Fatalf("unexpected body %q", resp.Body())
	}
}

func TestRestyClientDoRejectsBadProxy(t *testing.T) {
	client := NewRestyClient(time.Second)
	_, err := client.Do(context.Background(), Call{
		Method: http.MethodGet,
		URL:    "http://upstream.example/",
		Proxy:  "ftp://proxy.example:21",
	})
	if err == nil {
		t.Fatalf("expected error for unsupported proxy scheme")
	}
}

func TestRestyClientDoHonoursCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewRestyClient(0).Do(ctx, Call{Method: http.MethodGet, URL: srv.URL}); err == nil {
		t.Fatalf("expected error on cancelled context")
	}
}

func TestParseProxyURL(t *testing.T) {
	cases := map[string]bool{
		"http://127.0.0.1:3128":     true,
		"https://proxy.example":     true,
		"socks5://127.0.0.1:1080":   true,
		"ftp://proxy.example":       false,
		"http://":                   false,
		"://missing-scheme.example": false,
	}
	for raw, ok := range cases {
		_, err := ParseProxyURL(raw)
		if ok && err != nil {
			t.Fatalf("ParseProxyURL(%q) unexpected error: %v", raw, err)
		}
		if !ok && err == nil {
			t.Fatalf("ParseProxyURL(%q) expected error", raw)
		}
	}
}
