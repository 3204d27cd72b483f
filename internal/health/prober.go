// Package health tracks per-source reachability for the configured
// upstream VOD sources.
package health

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vodgate/vodgate/internal/source"
)

// State classifies a source's current reachability.
type State string

const (
	StateUnknown     State = "unknown"
	StateHealthy     State = "healthy"
	StateDegraded    State = "degraded"
	StateUnreachable State = "unreachable"
)

// Status is the last known health of one source. Mutated only by the
// Prober; consumers get copies via Snapshot.
type Status struct {
	SourceID            string        `json:"sourceId"`
	State               State         `json:"state"`
	LastCheckedAt       time.Time     `json:"lastCheckedAt"`
	LastLatency         time.Duration `json:"lastLatency"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastError           string        `json:"lastError,omitempty"`
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProberConfig holds configuration for the Prober.
type ProberConfig struct {
	// Registry is the source table to track.
	Registry *source.Registry

	// Logger for probe outcomes.
	Logger zerolog.Logger

	// ProbeTimeout bounds a single probe request (default: 3s).
	ProbeTimeout time.Duration

	// LatencyThreshold separates Healthy from Degraded on success
	// (default: 1500ms).
	LatencyThreshold time.Duration

	// FailureThreshold is how many consecutive failures mark a source
	// Unreachable (default: 3).
	FailureThreshold int

	// HTTPClient issues probe requests. Probes deliberately do not
	// retry; they are the measurement. If nil a plain client bounded
	// by ProbeTimeout is used.
	HTTPClient HTTPDoer
}

// Prober issues reachability checks against configured sources and owns
// the health table. Reads never block on an in-flight probe; probes for
// the same source are serialized by skipping, not queueing.
type Prober struct {
	registry         *source.Registry
	logger           zerolog.Logger
	probeTimeout     time.Duration
	latencyThreshold time.Duration
	failureThreshold int
	httpClient       HTTPDoer

	mu       sync.RWMutex
	statuses map[string]*Status

	inflightMu sync.Mutex
	inflight   map[string]bool
}

// NewProber creates a prober with every source starting Unknown.
func NewProber(cfg ProberConfig) *Prober {
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout == 0 {
		probeTimeout = 3 * time.Second
	}
	latencyThreshold := cfg.LatencyThreshold
	if latencyThreshold == 0 {
		latencyThreshold = 1500 * time.Millisecond
	}
	failureThreshold := cfg.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 3
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: probeTimeout}
	}

	p := &Prober{
		registry:         cfg.Registry,
		logger:           cfg.Logger,
		probeTimeout:     probeTimeout,
		latencyThreshold: latencyThreshold,
		failureThreshold: failureThreshold,
		httpClient:       httpClient,
		statuses:         make(map[string]*Status),
		inflight:         make(map[string]bool),
	}
	for _, src := range cfg.Registry.All() {
		p.statuses[src.ID] = &Status{SourceID: src.ID, State: StateUnknown}
	}
	return p
}

// Probe issues one reachability check against the source's search
// endpoint and records the outcome. If a probe for the same source is
// already in flight, the last known status is returned instead of
// piling a second request onto a slow upstream. Probe errors are
// captured into the status, never returned.
func (p *Prober) Probe(ctx context.Context, src *source.Source) Status {
	p.inflightMu.Lock()
	if p.inflight[src.ID] {
		p.inflightMu.Unlock()
		st, _ := p.Status(src.ID)
		return st
	}
	p.inflight[src.ID] = true
	p.inflightMu.Unlock()

	defer func() {
		p.inflightMu.Lock()
		delete(p.inflight, src.ID)
		p.inflightMu.Unlock()
	}()

	latency, err := p.check(ctx, src)
	return p.record(src.ID, latency, err)
}

// ProbeAll probes every configured source concurrently and returns the
// resulting snapshot.
func (p *Prober) ProbeAll(ctx context.Context) map[string]Status {
	var wg sync.WaitGroup
	for _, src := range p.registry.All() {
		wg.Add(1)
		go func(src *source.Source) {
			defer wg.Done()
			p.Probe(ctx, src)
		}(src)
	}
	wg.Wait()
	return p.Snapshot()
}

// Snapshot returns a copy of the last known state for every source.
// It never triggers a probe.
func (p *Prober) Snapshot() map[string]Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]Status, len(p.statuses))
	for id, st := range p.statuses {
		out[id] = *st
	}
	return out
}

// Status returns the last known status of one source.
func (p *Prober) Status(id string) (Status, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.statuses[id]
	if !ok {
		return Status{}, false
	}
	return *st, true
}

// check issues the lightweight search query used as the reachability
// probe. Any 2xx counts as reachable; the response body is discarded.
func (p *Prober) check(ctx context.Context, src *source.Source) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	u := fmt.Sprintf("%s?ac=list&wd=%s", src.API, url.QueryEscape("a"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return latency, fmt.Errorf("probe status %d", resp.StatusCode)
	}
	return latency, nil
}

// record applies one probe outcome to the table and returns the new
// status. A success resets the failure counter regardless of prior
// state; failures accumulate until the threshold flips the source to
// Unreachable.
func (p *Prober) record(id string, latency time.Duration, probeErr error) Status {
	p.mu.Lock()
	st, ok := p.statuses[id]
	if !ok {
		st = &Status{SourceID: id}
		p.statuses[id] = st
	}

	st.LastCheckedAt = time.Now()
	st.LastLatency = latency

	if probeErr != nil {
		st.ConsecutiveFailures++
		st.LastError = probeErr.Error()
		if st.ConsecutiveFailures >= p.failureThreshold {
			st.State = StateUnreachable
		} else {
			st.State = StateDegraded
		}
	} else {
		st.ConsecutiveFailures = 0
		st.LastError = ""
		if latency <= p.latencyThreshold {
			st.State = StateHealthy
		} else {
			st.State = StateDegraded
		}
	}
	result := *st
	p.mu.Unlock()

	if probeErr != nil {
		p.logger.Warn().
			Str("source_id", id).
			Str("state", string(result.State)).
			Int("consecutive_failures", result.ConsecutiveFailures).
			Dur("latency", latency).
			Err(probeErr).
			Msg("source probe failed")
	} else {
		p.logger.Debug().
			Str("source_id", id).
			Str("state", string(result.State)).
			Dur("latency", latency).
			Msg("source probe ok")
	}
	return result
}
