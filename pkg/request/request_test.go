package request

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-relay/pkg/httpclient"
)

type stubResponse struct {
	body   []byte
	status int
}

func (s stubResponse) Body() []byte    { return s.body }
func (s stubResponse) StatusCode() int { return s.status }

// recordingTransport captures calls and replies with a canned body.
type recordingTransport struct {
	mu      sync.Mutex
	calls   []httpclient.Call
	body    string
	err     error
	block   bool
	started chan struct{}
}

func (r *recordingTransport) Do(ctx context.Context, call httpclient.Call) (httpclient.Response, error) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	if r.started != nil {
		close(r.started)
	}
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	body := r.body
	if body == "" {
		body = "{}"
	}
	return stubResponse{body: []byte(body), status: http.StatusOK}, nil
}

func (r *recordingTransport) lastCall(t *testing.T) httpclient.Call {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		t.Fatalf("transport was not called")
	}
	return r.calls[len(r.calls)-1]
}

func newTestClient(tr *recordingTransport, opts ...Option) *Client {
	opts = append([]Option{WithTransport(ProtocolHTTP, tr), WithTransport(ProtocolHTTPS, tr)}, opts...)
	return New(opts...)
}

func TestEncodeMappingSkipsFalsyEntries(t *testing.T) {
	got, err := encodeMapping(Pairs{
		{Key: "a", Value: 1},
		{Key: "", Value: "no-key"},
		{Key: "b", Value: ""},
		{Key: "c", Value: 0},
		{Key: "d", Value: false},
		{Key: "e", Value: nil},
		{Key: "f", Value: "x"},
		{Key: "g", Value: true},
		{Key: "h", Value: []string{"1", "2"}},
	})
	if err != nil {
		t.Fatalf("encodeMapping: %v", err)
	}
	if got != "a=1&f=x&g=true&h=1,2" {
		t.Fatalf("unexpected encoding %q", got)
	}
}

func TestEncodeMappingSortsMapKeys(t *testing.T) {
	got, err := encodeMapping(map[string]any{"z": "1", "a": "2", "m": 0, "b": 1.5})
	if err != nil {
		t.Fatalf("encodeMapping: %v", err)
	}
	if got != "a=2&b=1.5&z=1" {
		t.Fatalf("unexpected encoding %q", got)
	}
}

func TestEncodeMappingDecodesStructs(t *testing.T) {
	type search struct {
		Page  int    `mapstructure:"page"`
		Tag   string `mapstructure:"tag"`
		Empty string `mapstructure:"empty"`
	}
	got, err := encodeMapping(&search{Page: 2, Tag: "go"})
	if err != nil {
		t.Fatalf("encodeMapping: %v", err)
	}
	if got != "page=2&tag=go" {
		t.Fatalf("unexpected encoding %q", got)
	}
}

func TestEncodeMappingIgnoresNonMappings(t *testing.T) {
	for _, v := range []any{42, true, []byte("a=1"), map[int]string{1: "a"}} {
		got, err := encodeMapping(v)
		if err != nil || got != "" {
			t.Fatalf("encodeMapping(%#v) = %q, %v", v, got, err)
		}
	}
}

func TestEncodeMappingKeysSlicesByIndex(t *testing.T) {
	got, err := encodeMapping([]any{"x", "", "y", []int{1, 2}})
	if err != nil {
		t.Fatalf("encodeMapping: %v", err)
	}
	if got != "0=x&2=y&3=1,2" {
		t.Fatalf("unexpected encoding %q", got)
	}
}

func TestEncodeURI(t *testing.T) {
	got := encodeURI("a b/ü?x=1&y=%#frag")
	if got != "a%20b/%C3%BC?x=1&y=%25%23frag" {
		t.Fatalf("unexpected encoding %q", got)
	}
}

func TestParseProtocolDefaultsToHTTPS(t *testing.T) {
	cases := map[string]Protocol{
		"http":  ProtocolHTTP,
		"HTTP:": ProtocolHTTP,
		"https": ProtocolHTTPS,
		"ftp":   ProtocolHTTPS,
		"":      ProtocolHTTPS,
	}
	for raw, want := range cases {
		if got := ParseProtocol(raw); got != want {
			t.Fatalf("ParseProtocol(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestOptionsTarget(t *testing.T) {
	cases := []struct {
		opts Options
		want string
	}{
		{Options{Hostname: "api.example"}, "https://api.example/"},
		{Options{Protocol: ProtocolHTTP, Hostname: "api.example", Port: 8080, Path: "/v1"}, "http://api.example:8080/v1"},
		{Options{Protocol: "ftp", Hostname: "::1", Path: "/x"}, "https://[::1]/x"},
	}
	for _, tc := range cases {
		if got := tc.opts.Target(); got != tc.want {
			t.Fatalf("Target() = %q, want %q", got, tc.want)
		}
	}
}

func TestDoSelectsTransportByProtocol(t *testing.T) {
	plain := &recordingTransport{}
	secure := &recordingTransport{}
	client := New(WithTransport(ProtocolHTTP, plain), WithTransport(ProtocolHTTPS, secure))

	if _, err := client.Do(context.Background(), Options{Protocol: ProtocolHTTP, Hostname: "api.example", Path: "/a", Method: "GET"}); err != nil {
		t.Fatalf("Do http: %v", err)
	}
	if _, err := client.Do(context.Background(), Options{Protocol: "gopher", Hostname: "api.example", Path: "/b", Method: "GET"}); err != nil {
		t.Fatalf("Do unknown protocol: %v", err)
	}

	if got := plain.lastCall(t).URL; got != "http://api.example/a?" {
		t.Fatalf("plain transport got %q", got)
	}
	if got := secure.lastCall(t).URL; got != "https://api.example/b?" {
		t.Fatalf("tls transport got %q", got)
	}
}

func TestDoGetAppendsStringDataVerbatim(t *testing.T) {
	tr := &recordingTransport{}
	_, err := newTestClient(tr).Do(context.Background(), Options{
		Hostname: "api.example",
		Port:     8443,
		Path:     "/search",
		Method:   "get",
		Data:     "q=hello world&lang=en",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	call := tr.lastCall(t)
	if call.Method != http.MethodGet {
		t.Fatalf("method = %s", call.Method)
	}
	if call.URL != "https://api.example:8443/search?q=hello%20world&lang=en" {
		t.Fatalf("unexpected url %q", call.URL)
	}
	if call.Body != nil {
		t.Fatalf("GET must not carry a body, got %q", call.Body)
	}
}

func TestDoPostSendsStringVerbatim(t *testing.T) {
	tr := &recordingTransport{}
	raw := `name=rahul&note={"raw":true}`
	_, err := newTestClient(tr).Do(context.Background(), Options{
		Hostname: "api.example",
		Path:     "/submit",
		Method:   "POST",
		Data:     raw,
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	call := tr.lastCall(t)
	if string(call.Body) != raw {
		t.Fatalf("body = %q, want %q", call.Body, raw)
	}
	if call.URL != "https://api.example/submit" {
		t.Fatalf("POST without queries must keep path, got %q", call.URL)
	}
	if _, ok := call.Headers["Content-Type"]; ok {
		t.Fatalf("string bodies must not get a json content type")
	}
}

func TestDoPostSerializesObjects(t *testing.T) {
	tr := &recordingTransport{}
	data := map[string]any{"title": "hello", "tags": []any{"a", "b"}, "count": 3.0}
	_, err := newTestClient(tr).Do(context.Background(), Options{
		Hostname: "api.example",
		Path:     "/articles",
		Method:   "post",
		Data:     data,
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	call := tr.lastCall(t)

	want, _ := json.Marshal(data)
	if string(call.Body) != string(want) {
		t.Fatalf("body = %s, want %s", call.Body, want)
	}
	var decoded map[string]any
	if err := json.Unmarshal(call.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !reflect.DeepEqual(decoded, data) {
		t.Fatalf("round trip mismatch: %#v vs %#v", decoded, data)
	}
	if call.Headers["Content-Type"] != "application/json" {
		t.Fatalf("expected json content type, got %#v", call.Headers)
	}
}

func TestDoPostKeepsPairsOrder(t *testing.T) {
	tr := &recordingTransport{}
	_, err := newTestClient(tr).Do(context.Background(), Options{
		Hostname: "api.example",
		Method:   "POST",
		Data:     Pairs{{Key: "z", Value: 1}, {Key: "a", Value: "x"}},
		Headers:  map[string]string{"content-type": "application/vnd.custom+json"},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	call := tr.lastCall(t)
	if string(call.Body) != `{"z":1,"a":"x"}` {
		t.Fatalf("unexpected body %s", call.Body)
	}
	if _, ok := call.Headers["Content-Type"]; ok {
		t.Fatalf("caller content type must not be overridden: %#v", call.Headers)
	}
}

func TestDoPostIgnoresScalarData(t *testing.T) {
	tr := &recordingTransport{}
	if _, err := newTestClient(tr).Do(context.Background(), Options{Hostname: "h", Method: "POST", Data: 42}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if body := tr.lastCall(t).Body; body != nil {
		t.Fatalf("expected empty body, got %q", body)
	}
}

func TestDoOtherMethodsDropData(t *testing.T) {
	tr := &recordingTransport{}
	_, err := newTestClient(tr).Do(context.Background(), Options{
		Hostname: "api.example",
		Path:     "/items/1",
		Method:   "PUT",
		Data:     map[string]any{"a": 1},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	call := tr.lastCall(t)
	if call.Body != nil || call.URL != "https://api.example/items/1" {
		t.Fatalf("PUT data must be dropped, got url=%q body=%q", call.URL, call.Body)
	}
}

func TestDoDiscardsQueriesByDefault(t *testing.T) {
	tr := &recordingTransport{}
	client := newTestClient(tr)

	if _, err := client.Do(context.Background(), Options{
		Hostname: "api.example",
		Path:     "/list",
		Method:   "GET",
		Data:     map[string]string{"page": "2"},
		Queries:  map[string]string{"sort": "asc"},
	}); err != nil {
		t.Fatalf("Do GET: %v", err)
	}
	if got := tr.lastCall(t).URL; got != "https://api.example/list?page=2" {
		t.Fatalf("queries leaked into GET url: %q", got)
	}

	if _, err := client.Do(context.Background(), Options{
		Hostname: "api.example",
		Path:     "/list",
		Method:   "DELETE",
		Queries:  map[string]string{"sort": "asc"},
	}); err != nil {
		t.Fatalf("Do DELETE: %v", err)
	}
	if got := tr.lastCall(t).URL; got != "https://api.example/list" {
		t.Fatalf("queries leaked into DELETE url: %q", got)
	}
}

func TestDoForwardsQueriesWhenEnabled(t *testing.T) {
	tr := &recordingTransport{}
	client := newTestClient(tr, WithForwardQueries(true))

	if _, err := client.Do(context.Background(), Options{
		Hostname: "api.example",
		Path:     "/list",
		Method:   "GET",
		Data:     map[string]string{"page": "2"},
		Queries:  Pairs{{Key: "sort", Value: "asc"}, {Key: "skip", Value: ""}},
	}); err != nil {
		t.Fatalf("Do GET: %v", err)
	}
	if got := tr.lastCall(t).URL; got != "https://api.example/list?page=2&sort=asc" {
		t.Fatalf("unexpected GET url %q", got)
	}

	if _, err := client.Do(context.Background(), Options{
		Hostname: "api.example",
		Path:     "/list",
		Method:   "DELETE",
		Queries:  map[string]any{"id": 7},
	}); err != nil {
		t.Fatalf("Do DELETE: %v", err)
	}
	if got := tr.lastCall(t).URL; got != "https://api.example/list?id=7" {
		t.Fatalf("unexpected DELETE url %q", got)
	}
}

func TestDoFormatsIPv6Hosts(t *testing.T) {
	tr := &recordingTransport{}
	client := newTestClient(tr)
	if _, err := client.Do(context.Background(), Options{Protocol: ProtocolHTTP, Hostname: "::1", Port: 8080, Path: "/", Method: "DELETE"}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := tr.lastCall(t).URL; got != "http://[::1]:8080/" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestDoDecodesJSONBody(t *testing.T) {
	tr := &recordingTransport{body: `{"a":1}`}
	got, err := newTestClient(tr).Do(context.Background(), Options{Hostname: "h", Method: "GET"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"a": 1.0}) {
		t.Fatalf("unexpected value %#v", got)
	}
}

func TestDoRejectsInvalidJSON(t *testing.T) {
	tr := &recordingTransport{body: "not-json"}
	_, err := newTestClient(tr).Do(context.Background(), Options{Hostname: "h", Method: "GET"})
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("expected json syntax error, got %v", err)
	}
}

func TestDoReturnsTransportErrorVerbatim(t *testing.T) {
	boom := errors.New("connection refused")
	tr := &recordingTransport{err: boom}
	_, err := newTestClient(tr).Do(context.Background(), Options{Hostname: "h", Method: "GET"})
	if err != boom {
		t.Fatalf("expected transport error verbatim, got %v", err)
	}
}

func TestDoValidatesOptions(t *testing.T) {
	client := newTestClient(&recordingTransport{})
	cases := []Options{
		{Hostname: "h"},
		{Method: "GET"},
		{Hostname: "h", Method: "GET", Proxy: "ftp://proxy.example"},
	}
	for _, opts := range cases {
		if _, err := client.Do(context.Background(), opts); err == nil {
			t.Fatalf("expected validation error for %#v", opts)
		}
	}
}

func TestDoPassesProxyAndHeaders(t *testing.T) {
	tr := &recordingTransport{}
	headers := map[string]string{"Authorization": "Bearer t"}
	_, err := newTestClient(tr).Do(context.Background(), Options{
		Hostname: "h",
		Method:   "GET",
		Proxy:    "http://127.0.0.1:3128",
		Headers:  headers,
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	call := tr.lastCall(t)
	if call.Proxy != "http://127.0.0.1:3128" || call.Headers["Authorization"] != "Bearer t" {
		t.Fatalf("unexpected call %#v", call)
	}
	call.Headers["Authorization"] = "changed"
	if headers["Authorization"] != "Bearer t" {
		t.Fatalf("caller headers must not be shared with the transport")
	}
}

func TestAbortCancelsInFlightRequestOnce(t *testing.T) {
	tr := &recordingTransport{block: true, started: make(chan struct{})}
	ctrl := NewAbortController()

	fut := newTestClient(tr).Go(context.Background(), Options{Hostname: "h", Method: "GET", Abort: ctrl.Signal()})
	<-tr.started

	if !ctrl.Abort() {
		t.Fatalf("first Abort should fire")
	}
	if ctrl.Abort() {
		t.Fatalf("second Abort must be a no-op")
	}

	_, err := fut.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation through transport error, got %v", err)
	}
	if !ctrl.Signal().Aborted() {
		t.Fatalf("signal should report aborted")
	}
}

func TestAbortBeforeStartStillRejects(t *testing.T) {
	tr := &recordingTransport{block: true}
	ctrl := NewAbortController()
	ctrl.Abort()

	_, err := newTestClient(tr).Do(context.Background(), Options{Hostname: "h", Method: "GET", Abort: ctrl.Signal()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestAbortGuardFiresOnce(t *testing.T) {
	calls := 0
	guard := &abortGuard{abort: func() { calls++ }}
	if !guard.fire() {
		t.Fatalf("first fire should abort")
	}
	if guard.fire() {
		t.Fatalf("second fire must not abort again")
	}
	if calls != 1 {
		t.Fatalf("abort invoked %d times", calls)
	}
}

func TestFutureAwaitHonoursContext(t *testing.T) {
	tr := &recordingTransport{block: true}
	ctrl := NewAbortController()
	fut := newTestClient(tr).Go(context.Background(), Options{Hostname: "h", Method: "GET", Abort: ctrl.Signal()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := fut.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	ctrl.Abort()
	select {
	case <-fut.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("future did not resolve after abort")
	}
}

func TestDoAgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/items" || r.URL.RawQuery != "a=1&b=two" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"a":1,"items":["x"]}`))
	}))
	defer srv.Close()

	host, port := splitServerAddr(t, srv.URL)
	got, err := New().Do(context.Background(), Options{
		Protocol: ProtocolHTTP,
		Hostname: host,
		Port:     port,
		Path:     "/v1/items",
		Method:   http.MethodGet,
		Data:     map[string]any{"b": "two", "a": 1, "skip": nil},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	want := map[string]any{"a": 1.0, "items": []any{"x"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestDoGetKeepsDataAfterHash(t *testing.T) {
	seen := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.URL.Query().Get("q") + "|" + r.URL.Query().Get("z")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	host, port := splitServerAddr(t, srv.URL)
	if _, err := New().Do(context.Background(), Options{
		Protocol: ProtocolHTTP,
		Hostname: host,
		Port:     port,
		Path:     "/p",
		Method:   http.MethodGet,
		Data:     "q=a#b&z=1",
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := <-seen; got != "a#b|1" {
		t.Fatalf("query was truncated, server saw %q", got)
	}
}

func TestDoGetEncodesSliceData(t *testing.T) {
	tr := &recordingTransport{}
	if _, err := newTestClient(tr).Do(context.Background(), Options{
		Hostname: "api.example",
		Path:     "/p",
		Method:   http.MethodGet,
		Data:     []string{"x", "y"},
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := tr.lastCall(t).URL; got != "https://api.example/p?0=x&1=y" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestAbortSignalDoneClosesOnAbort(t *testing.T) {
	ctrl := NewAbortController()
	select {
	case <-ctrl.Signal().Done():
		t.Fatalf("signal must not be done before Abort")
	default:
	}
	ctrl.Abort()
	select {
	case <-ctrl.Signal().Done():
	case <-time.After(time.Second):
		t.Fatalf("signal Done was not closed by Abort")
	}
}

func TestAbortAgainstHTTPServer(t *testing.T) {
	arrived := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	host, port := splitServerAddr(t, srv.URL)
	ctrl := NewAbortController()
	fut := Go(context.Background(), Options{
		Protocol: ProtocolHTTP,
		Hostname: host,
		Port:     port,
		Path:     "/slow",
		Method:   http.MethodGet,
		Abort:    ctrl.Signal(),
	})

	<-arrived
	ctrl.Abort()
	if _, err := fut.Wait(); err == nil {
		t.Fatalf("expected error after abort")
	}
}

func splitServerAddr(t *testing.T, raw string) (string, int) {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}
