package maccms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/vodgate/vodgate/internal/provider/resilience"
	"github.com/vodgate/vodgate/internal/source"
)

// ClientSet holds one resilient client per configured source. It is built
// once at startup alongside the registry and shared by the selector,
// resolver, and handlers; the map is never mutated afterwards.
type ClientSet struct {
	clients   map[string]*Client
	resilient map[string]*resilience.Client
}

// NewClientSet builds a client for every source in the registry.
func NewClientSet(reg *source.Registry, cfg ClientConfig) *ClientSet {
	set := &ClientSet{
		clients:   make(map[string]*Client, reg.Count()),
		resilient: make(map[string]*resilience.Client, reg.Count()),
	}
	for _, src := range reg.All() {
		httpClient := cfg.HTTPClient
		if httpClient == nil {
			timeout := cfg.Timeout
			if timeout == 0 {
				timeout = 15 * time.Second
			}
			rc := resilience.NewClient(resilience.ClientConfig{
				Name:            src.ID,
				Timeout:         timeout,
				MaxRetries:      3,
				InitialInterval: 200 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			})
			set.resilient[src.ID] = rc
			httpClient = rc
		}
		set.clients[src.ID] = NewClient(src, ClientConfig{HTTPClient: httpClient})
	}
	return set
}

// For returns the client for the given source, or nil if unknown.
func (s *ClientSet) For(src *source.Source) *Client {
	if src == nil {
		return nil
	}
	return s.clients[src.ID]
}

// ForID returns the client for the given source ID, or nil.
func (s *ClientSet) ForID(id string) *Client {
	return s.clients[id]
}

// CircuitState reports the circuit breaker state of a source's client.
// Sources constructed with a caller-supplied HTTP client report closed.
func (s *ClientSet) CircuitState(id string) gobreaker.State {
	if rc, ok := s.resilient[id]; ok {
		return rc.CircuitBreakerState()
	}
	return gobreaker.StateClosed
}

// ErrUnknownSource is returned when a ClientSet call names a source the
// registry never configured.
var ErrUnknownSource = errors.New("unknown source")

// Search runs a title search against the given source.
func (s *ClientSet) Search(ctx context.Context, src *source.Source, query string) ([]*Video, error) {
	c := s.For(src)
	if c == nil {
		return nil, fmt.Errorf("search %q: %w", query, ErrUnknownSource)
	}
	return c.Search(ctx, query)
}

// SearchDetailed runs a search and enriches the hits with detail data.
func (s *ClientSet) SearchDetailed(ctx context.Context, src *source.Source, query string) ([]*Video, error) {
	c := s.For(src)
	if c == nil {
		return nil, fmt.Errorf("search %q: %w", query, ErrUnknownSource)
	}
	return c.SearchDetailed(ctx, query)
}

// Detail fetches detail entries for the given ids from the given source.
func (s *ClientSet) Detail(ctx context.Context, src *source.Source, ids []string) ([]*Video, error) {
	c := s.For(src)
	if c == nil {
		return nil, fmt.Errorf("detail: %w", ErrUnknownSource)
	}
	return c.Detail(ctx, ids)
}
