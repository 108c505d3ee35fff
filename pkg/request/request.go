// Package request performs single JSON round trips over plain or TLS HTTP.
package request

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/samvad-hq/samvad-relay/pkg/httpclient"
)

// Client sends requests through a transport chosen by Protocol. It keeps no per-call state
// and is safe for concurrent use.
type Client struct {
	transports     map[Protocol]httpclient.Client
	forwardQueries bool
	log            Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the transport used for p.
func WithTransport(p Protocol, t httpclient.Client) Option {
	return func(c *Client) {
		if t != nil {
			c.transports[ParseProtocol(string(p))] = t
		}
	}
}

// WithForwardQueries controls whether Options.Queries reaches the request path.
// Callers have historically received requests without it, so it is off by default.
func WithForwardQueries(forward bool) Option {
	return func(c *Client) { c.forwardQueries = forward }
}

// WithLogger sets the logger used for per-request debug output.
func WithLogger(log Logger) Option {
	return func(c *Client) { c.log = ensureLogger(log) }
}

// New builds a Client with resty-backed plain and TLS transports.
func New(opts ...Option) *Client {
	c := &Client{
		transports: map[Protocol]httpclient.Client{
			ProtocolHTTP:  httpclient.NewRestyClient(0),
			ProtocolHTTPS: httpclient.NewTLSRestyClient(0),
		},
		log: noopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

var defaultClient = New()

// Do sends opts with the default client.
func Do(ctx context.Context, opts Options) (any, error) {
	return defaultClient.Do(ctx, opts)
}

// Go starts opts on the default client.
func Go(ctx context.Context, opts Options) *Future {
	return defaultClient.Go(ctx, opts)
}

// Go starts the request in the background and returns its Future.
func (c *Client) Go(ctx context.Context, opts Options) *Future {
	f := newFuture()
	go func() {
		f.resolve(c.Do(ctx, opts))
	}()
	return f
}

// Do performs exactly one round trip and returns the JSON-decoded response body.
// Transport and decode errors are returned as-is; the status code is not inspected.
func (c *Client) Do(ctx context.Context, opts Options) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	call, err := c.prepare(opts)
	if err != nil {
		return nil, err
	}

	if opts.Abort != nil {
		var release func()
		ctx, release = opts.Abort.bind(ctx)
		defer release()
	}

	c.log.DebugObj("outbound request", "request", map[string]any{
		"method":  call.Method,
		"url":     call.URL,
		"proxied": call.Proxy != "",
	})

	resp, err := c.transportFor(opts.Protocol).Do(ctx, call)
	if err != nil {
		c.log.WarnObj("outbound request failed", "request_error", map[string]any{
			"method": call.Method,
			"url":    call.URL,
			"error":  err.Error(),
		})
		return nil, err
	}

	var out any
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		c.log.WarnObj("outbound response is not json", "response_error", map[string]any{
			"url":    call.URL,
			"status": resp.StatusCode(),
			"error":  err.Error(),
		})
		return nil, err
	}
	return out, nil
}

// prepare turns opts into a transport call without performing any I/O.
func (c *Client) prepare(opts Options) (httpclient.Call, error) {
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		return httpclient.Call{}, errors.New("request method is required")
	}
	host := strings.TrimSpace(opts.Hostname)
	if host == "" {
		return httpclient.Call{}, errors.New("request hostname is required")
	}
	if opts.Proxy != "" {
		if _, err := httpclient.ParseProxyURL(opts.Proxy); err != nil {
			return httpclient.Call{}, err
		}
	}

	dataStr, err := encodeData(method, opts.Data)
	if err != nil {
		return httpclient.Call{}, err
	}
	queries := ""
	if c.forwardQueries {
		if queries, err = encodeQueries(opts.Queries); err != nil {
			return httpclient.Call{}, err
		}
	}

	call := httpclient.Call{
		Method:  method,
		URL:     opts.Protocol.Scheme() + "://" + hostPort(host, opts.Port) + buildPath(method, opts.Path, dataStr, queries),
		Headers: copyHeaders(opts.Headers),
		Proxy:   opts.Proxy,
	}
	if method == http.MethodPost && dataStr != "" {
		call.Body = []byte(dataStr)
		if isObject(opts.Data) && !hasHeader(call.Headers, "Content-Type") {
			if call.Headers == nil {
				call.Headers = make(map[string]string, 1)
			}
			call.Headers["Content-Type"] = "application/json"
		}
	}
	return call, nil
}

func (c *Client) transportFor(p Protocol) httpclient.Client {
	if t, ok := c.transports[ParseProtocol(string(p))]; ok {
		return t
	}
	return c.transports[ProtocolHTTPS]
}

func hostPort(host string, port int) string {
	if port > 0 {
		return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return "[" + host + "]"
	}
	return host
}

func copyHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
