package httpclient

import "context"

// Call describes a single outbound round trip.
type Call struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	// Proxy routes this call through the given proxy URL when non-empty.
	Proxy string
}

// Response is a minimal HTTP response contract.
type Response interface {
	Body() []byte
	StatusCode() int
}

// Client abstracts HTTP calls so callers can inject mocks or different transports.
type Client interface {
	Do(ctx context.Context, call Call) (Response, error)
}
