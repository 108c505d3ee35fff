package request

import "strings"

// Protocol selects the transport a request is sent over.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// ParseProtocol normalizes raw into a Protocol. Anything that is not "http" is treated as https.
func ParseProtocol(raw string) Protocol {
	switch Protocol(strings.ToLower(strings.TrimSuffix(strings.TrimSpace(raw), ":"))) {
	case ProtocolHTTP:
		return ProtocolHTTP
	default:
		return ProtocolHTTPS
	}
}

// Scheme returns the URL scheme for p.
func (p Protocol) Scheme() string {
	return string(ParseProtocol(string(p)))
}
