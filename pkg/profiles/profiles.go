package profiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samvad-hq/samvad-relay/pkg/request"
	"gopkg.in/yaml.v3"
)

// Package profiles loads named request templates (YAML/JSON) the relay can run by id.

type Profile struct {
	ID       string            `json:"id" yaml:"id"`
	Name     string            `json:"name" yaml:"name"`
	Protocol string            `json:"protocol" yaml:"protocol"`
	Hostname string            `json:"hostname" yaml:"hostname"`
	Path     string            `json:"path" yaml:"path"`
	Port     int               `json:"port" yaml:"port"`
	Method   string            `json:"method" yaml:"method"`
	Headers  map[string]string `json:"headers" yaml:"headers"`
	Data     Payload           `json:"data" yaml:"data"`
	Queries  Payload           `json:"queries" yaml:"queries"`
	Proxy    string            `json:"proxy" yaml:"proxy"`
}

type profileFile struct {
	Profiles []Profile `json:"profiles" yaml:"profiles"`
}

// Registry indexes loaded profiles by id.
type Registry struct {
	mu       sync.RWMutex
	profiles []Profile
	idx      map[string]Profile
}

// LoadRegistry loads the profile registry from a YAML/JSON file.
func LoadRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("profiles file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profiles file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}

	parsed, err := parseProfiles(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(parsed.Profiles) == 0 {
		return nil, errors.New("profiles file contains no profiles entries")
	}
	return NewRegistry(parsed.Profiles)
}

// NewRegistry sanitizes and validates profiles and indexes them by id.
func NewRegistry(profiles []Profile) (*Registry, error) {
	reg := &Registry{
		profiles: make([]Profile, 0, len(profiles)),
		idx:      make(map[string]Profile, len(profiles)),
	}
	for i := range profiles {
		p := sanitizeProfile(profiles[i])
		if err := validateProfile(p); err != nil {
			return nil, fmt.Errorf("profiles[%d]: %w", i, err)
		}
		if _, exists := reg.idx[p.ID]; exists {
			return nil, fmt.Errorf("duplicate profile id %q", p.ID)
		}
		reg.profiles = append(reg.profiles, p)
		reg.idx[p.ID] = p
	}
	return reg, nil
}

type unmarshalFn func([]byte, any) error

func parseProfiles(data []byte, ext string) (profileFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	var lastErr error
	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var out profileFile
		if err := d.fn(data, &out); err != nil {
			lastErr = fmt.Errorf("decode %s profiles: %w", d.name, err)
			continue
		}
		return out, nil
	}
	if lastErr != nil {
		return profileFile{}, lastErr
	}
	return profileFile{}, errors.New("profiles file format not recognized (expected YAML or JSON)")
}

func sanitizeProfile(p Profile) Profile {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Hostname = strings.TrimSpace(p.Hostname)
	p.Path = strings.TrimSpace(p.Path)
	p.Proxy = strings.TrimSpace(p.Proxy)
	p.Protocol = string(request.ParseProtocol(p.Protocol))

	p.Method = strings.ToUpper(strings.TrimSpace(p.Method))
	if p.Method == "" {
		p.Method = http.MethodGet
	}
	if p.Path == "" {
		p.Path = "/"
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	return p
}

func validateProfile(p Profile) error {
	if p.ID == "" {
		return errors.New("id is required")
	}
	if p.Hostname == "" {
		return fmt.Errorf("hostname is required for profile %q", p.ID)
	}
	if p.Port < 0 || p.Port > 65535 {
		return fmt.Errorf("port %d out of range for profile %q", p.Port, p.ID)
	}
	if !strings.HasPrefix(p.Path, "/") {
		return fmt.Errorf("path must start with / for profile %q", p.ID)
	}
	return nil
}

// ByID returns the profile with the given id.
func (r *Registry) ByID(id string) (Profile, bool) {
	if r == nil {
		return Profile{}, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Profile{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.idx[id]
	return p, ok
}

// All returns all profiles in file order.
func (r *Registry) All() []Profile {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Profile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// Options converts the profile into request options.
func (p Profile) Options() request.Options {
	var headers map[string]string
	if len(p.Headers) > 0 {
		headers = make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			headers[k] = v
		}
	}
	return request.Options{
		Protocol: request.ParseProtocol(p.Protocol),
		Hostname: p.Hostname,
		Path:     p.Path,
		Port:     p.Port,
		Method:   p.Method,
		Data:     p.Data.Value,
		Queries:  p.Queries.Value,
		Proxy:    p.Proxy,
		Headers:  headers,
	}
}
