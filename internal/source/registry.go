package source

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
)

// Registry is the static table of configured sources. It is built once at
// startup and never mutated afterwards, so reads need no locking.
type Registry struct {
	byID    map[string]*Source
	ordered []*Source
}

// Load reads a registry from a JSON mapping of sourceID -> Source.
// Malformed JSON is rejected with the parse error; there is no tolerance
// for trailing commas or other near-JSON.
func Load(r io.Reader) (*Registry, error) {
	var raw map[string]*Source
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse sources config: %w", err)
	}

	reg := &Registry{
		byID: make(map[string]*Source, len(raw)),
	}
	for id, src := range raw {
		if src == nil {
			return nil, fmt.Errorf("source %q: empty definition", id)
		}
		if src.API == "" {
			return nil, fmt.Errorf("source %q: missing api endpoint", id)
		}
		if _, err := url.ParseRequestURI(src.API); err != nil {
			return nil, fmt.Errorf("source %q: invalid api endpoint: %w", id, err)
		}
		if src.Name == "" {
			src.Name = id
		}
		src.ID = id
		reg.byID[id] = src
		reg.ordered = append(reg.ordered, src)
	}

	sort.Slice(reg.ordered, func(i, j int) bool {
		a, b := reg.ordered[i], reg.ordered[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})

	return reg, nil
}

// LoadFile reads a registry from a JSON file on disk.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sources config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Get returns the source with the given ID, or nil if unknown.
func (r *Registry) Get(id string) *Source {
	return r.byID[id]
}

// GetByName returns the source with the given display name, or nil.
// Older clients address sources by name rather than ID.
func (r *Registry) GetByName(name string) *Source {
	for _, src := range r.ordered {
		if src.Name == name {
			return src
		}
	}
	return nil
}

// All returns every source ordered by priority, then ID.
func (r *Registry) All() []*Source {
	out := make([]*Source, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Count returns the number of configured sources.
func (r *Registry) Count() int {
	return len(r.byID)
}

// Hosts returns the set of hostnames appearing in configured API and
// detail endpoints. The streaming proxy derives its allow-list from this.
func (r *Registry) Hosts() []string {
	seen := make(map[string]struct{})
	var hosts []string
	add := func(raw string) {
		if raw == "" {
			return
		}
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return
		}
		if _, ok := seen[u.Hostname()]; ok {
			return
		}
		seen[u.Hostname()] = struct{}{}
		hosts = append(hosts, u.Hostname())
	}
	for _, src := range r.ordered {
		add(src.API)
		add(src.Detail)
	}
	sort.Strings(hosts)
	return hosts
}
