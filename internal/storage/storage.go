// Package storage keeps a short-lived history of relayed calls.
package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Call statuses recorded in history.
const (
	StatusPending = "pending"
	StatusOK      = "ok"
	StatusError   = "error"
	StatusAborted = "aborted"
)

// Record is the stored outcome of a single relayed call.
type Record struct {
	ID         string          `json:"id"`
	ProfileID  string          `json:"profile_id,omitempty"`
	ClientIP   string          `json:"client_ip,omitempty"`
	Method     string          `json:"method"`
	URL        string          `json:"url"`
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Store persists call records.
type Store interface {
	Close() error
	Put(rec Record) error
	Get(id string) (Record, bool, error)
}

// Options controls retention characteristics for concrete store implementations.
type Options struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

const (
	defaultTTL             = 24 * time.Hour
	defaultCleanupInterval = time.Hour
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "none", "disabled":
		return noopStore{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	return opts
}

type noopStore struct{}

func (noopStore) Close() error                     { return nil }
func (noopStore) Put(Record) error                 { return nil }
func (noopStore) Get(string) (Record, bool, error) { return Record{}, false, nil }
