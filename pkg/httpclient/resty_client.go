package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// RestyClient adapts resty.Client to the httpclient.Client interface.
type RestyClient struct {
	client  *resty.Client
	timeout time.Duration
	tls     *tls.Config
}

// NewRestyClient creates a plain-HTTP RestyClient. A zero timeout disables the client timeout.
func NewRestyClient(timeout time.Duration) *RestyClient {
	return &RestyClient{client: newRestyBaseClient(timeout, nil), timeout: timeout}
}

// NewTLSRestyClient creates a RestyClient whose connections require TLS 1.2 or newer.
func NewTLSRestyClient(timeout time.Duration) *RestyClient {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	return &RestyClient{client: newRestyBaseClient(timeout, cfg), timeout: timeout, tls: cfg}
}

// NewRestyHTTPClient exposes a configured resty.Client for callers needing custom verbs.
func NewRestyHTTPClient(timeout time.Duration) *resty.Client {
	return newRestyBaseClient(timeout, nil)
}

// newRestyBaseClient creates a new resty.Client with the specified timeout.
func newRestyBaseClient(timeout time.Duration, tlsCfg *tls.Config) *resty.Client {
	c := resty.New()
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	if tlsCfg != nil {
		c.SetTLSClientConfig(tlsCfg)
	}
	c.SetPreRequestHook(dropDetectedContentType)
	return c
}

// rawBodyKey marks requests whose body must go out without a Content-Type.
type rawBodyKey struct{}

// dropDetectedContentType removes the Content-Type resty infers for []byte bodies
// when the caller did not ask for one.
func dropDetectedContentType(_ *resty.Client, req *http.Request) error {
	if raw, _ := req.Context().Value(rawBodyKey{}).(bool); raw {
		req.Header.Del("Content-Type")
	}
	return nil
}

// Do performs a single request described by call.
func (r *RestyClient) Do(ctx context.Context, call Call) (Response, error) {
	client := r.client
	if call.Proxy != "" {
		proxyURL, err := ParseProxyURL(call.Proxy)
		if err != nil {
			return nil, err
		}
		// proxied calls get their own client so the proxy never leaks into later calls
		client = newRestyBaseClient(r.timeout, r.tls)
		client.SetProxy(proxyURL.String())
	}

	if len(call.Body) > 0 && !hasContentType(call.Headers) {
		ctx = context.WithValue(ctx, rawBodyKey{}, true)
	}
	req := client.R().SetContext(ctx)
	if len(call.Headers) > 0 {
		req.SetHeaders(call.Headers)
	}
	if len(call.Body) > 0 {
		req.SetBody(call.Body)
	}

	resp, err := req.Execute(call.Method, call.URL)
	if err != nil {
		return nil, err
	}
	return &restyResponseAdapter{resp: resp}, nil
}

func hasContentType(headers map[string]string) bool {
	for k := range headers {
		if strings.EqualFold(k, "Content-Type") {
			return true
		}
	}
	return false
}

// ParseProxyURL validates a proxy URL. Supported schemes are http, https and socks5.
func ParseProxyURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy url %q has no host", raw)
	}
	return u, nil
}

// restyResponseAdapter adapts resty.Response to the httpclient.Response interface.
type restyResponseAdapter struct {
	resp *resty.Response
}

func (r *restyResponseAdapter) Body() []byte    { return r.resp.Body() }
func (r *restyResponseAdapter) StatusCode() int { return r.resp.StatusCode() }
