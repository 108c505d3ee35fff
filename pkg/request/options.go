package request

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Options describes a single outbound request. It is consumed by one call and never retained.
type Options struct {
	Protocol Protocol
	Hostname string
	Path     string
	// Port is omitted from the URL when zero.
	Port   int
	Method string

	// Data is a string or a key/value mapping (map, Pairs or struct).
	Data any
	// Queries uses the same encoding as GET data. See WithForwardQueries.
	Queries any

	Proxy   string
	Headers map[string]string
	Abort   *AbortSignal
}

// Pair is a single key/value entry of an ordered mapping.
type Pair struct {
	Key   string
	Value any
}

// Pairs is a key/value mapping that keeps its declaration order when encoded.
type Pairs []Pair

// MarshalJSON encodes p as a JSON object preserving entry order.
func (p Pairs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, pair := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(pair.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(pair.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Target returns scheme://host[:port]path for o without the encoded query.
// It is meant for logs and history, not for dialing.
func (o Options) Target() string {
	path := o.Path
	if path == "" {
		path = "/"
	}
	return o.Protocol.Scheme() + "://" + hostPort(strings.TrimSpace(o.Hostname), o.Port) + path
}
