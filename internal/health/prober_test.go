package health_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodgate/vodgate/internal/health"
	"github.com/vodgate/vodgate/internal/source"
)

func testRegistry(t *testing.T, api string) *source.Registry {
	t.Helper()
	reg, err := source.Load(strings.NewReader(`{"s1": {"api": "` + api + `", "name": "Source One"}}`))
	require.NoError(t, err)
	return reg
}

func newProber(reg *source.Registry, client health.HTTPDoer) *health.Prober {
	return health.NewProber(health.ProberConfig{
		Registry:         reg,
		Logger:           zerolog.New(io.Discard),
		FailureThreshold: 3,
		HTTPClient:       client,
	})
}

func TestProber_StartsUnknown(t *testing.T) {
	reg := testRegistry(t, "http://unreached.example.com/api.php/provide/vod/")
	p := newProber(reg, http.DefaultClient)

	snap := p.Snapshot()
	require.Contains(t, snap, "s1")
	assert.Equal(t, health.StateUnknown, snap["s1"].State)
	assert.Zero(t, snap["s1"].ConsecutiveFailures)
}

func TestProber_HealthyOnFastSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":1,"list":[]}`))
	}))
	defer server.Close()

	reg := testRegistry(t, server.URL)
	p := newProber(reg, server.Client())

	st := p.Probe(context.Background(), reg.Get("s1"))
	assert.Equal(t, health.StateHealthy, st.State)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.False(t, st.LastCheckedAt.IsZero())
}

func TestProber_DegradedOnSlowSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte(`{"code":1,"list":[]}`))
	}))
	defer server.Close()

	reg := testRegistry(t, server.URL)
	p := health.NewProber(health.ProberConfig{
		Registry:         reg,
		Logger:           zerolog.New(io.Discard),
		LatencyThreshold: 10 * time.Millisecond,
		HTTPClient:       server.Client(),
	})

	st := p.Probe(context.Background(), reg.Get("s1"))
	assert.Equal(t, health.StateDegraded, st.State)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.GreaterOrEqual(t, st.LastLatency, 10*time.Millisecond)
}

func TestProber_UnreachableAfterThreshold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	reg := testRegistry(t, server.URL)
	p := newProber(reg, server.Client())
	src := reg.Get("s1")

	st := p.Probe(context.Background(), src)
	assert.Equal(t, health.StateDegraded, st.State)
	assert.Equal(t, 1, st.ConsecutiveFailures)

	st = p.Probe(context.Background(), src)
	assert.Equal(t, health.StateDegraded, st.State)
	assert.Equal(t, 2, st.ConsecutiveFailures)

	st = p.Probe(context.Background(), src)
	assert.Equal(t, health.StateUnreachable, st.State)
	assert.Equal(t, 3, st.ConsecutiveFailures)
}

func TestProber_SuccessResetsFailures(t *testing.T) {
	var fail bool
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		shouldFail := fail
		mu.Unlock()
		if shouldFail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"code":1,"list":[]}`))
	}))
	defer server.Close()

	reg := testRegistry(t, server.URL)
	p := newProber(reg, server.Client())
	src := reg.Get("s1")

	mu.Lock()
	fail = true
	mu.Unlock()
	p.Probe(context.Background(), src)
	p.Probe(context.Background(), src)

	mu.Lock()
	fail = false
	mu.Unlock()
	st := p.Probe(context.Background(), src)
	assert.Equal(t, health.StateHealthy, st.State)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Empty(t, st.LastError)
}

// slowDoer blocks until released, counting how many requests got through.
type slowDoer struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (d *slowDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	<-d.release
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"code":1}`)),
		Request:    req,
	}, nil
}

func TestProber_ConcurrentSameSourceProbesSkip(t *testing.T) {
	reg := testRegistry(t, "http://slow.example.com/api.php/provide/vod/")
	doer := &slowDoer{release: make(chan struct{})}
	p := newProber(reg, doer)
	src := reg.Get("s1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Probe(context.Background(), src)
	}()

	// Wait until the first probe is in flight.
	require.Eventually(t, func() bool {
		doer.mu.Lock()
		defer doer.mu.Unlock()
		return doer.calls >= 1
	}, time.Second, 5*time.Millisecond)

	// A second probe for the same source must not issue a request; it
	// returns the last known (Unknown) state immediately.
	st := p.Probe(context.Background(), src)
	assert.Equal(t, health.StateUnknown, st.State)

	doer.mu.Lock()
	assert.Equal(t, 1, doer.calls)
	doer.mu.Unlock()

	close(doer.release)
	wg.Wait()
}

func TestProber_SnapshotDoesNotProbe(t *testing.T) {
	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		_, _ = w.Write([]byte(`{"code":1}`))
	}))
	defer server.Close()

	reg := testRegistry(t, server.URL)
	p := newProber(reg, server.Client())

	_ = p.Snapshot()
	_ = p.Snapshot()

	mu.Lock()
	assert.Zero(t, calls)
	mu.Unlock()
}

func TestProber_ProbeAllCoversEverySource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":1}`))
	}))
	defer server.Close()

	reg, err := source.Load(strings.NewReader(`{
		"a": {"api": "` + server.URL + `", "name": "A"},
		"b": {"api": "` + server.URL + `", "name": "B"}
	}`))
	require.NoError(t, err)

	p := newProber(reg, server.Client())
	snap := p.ProbeAll(context.Background())

	require.Len(t, snap, 2)
	assert.Equal(t, health.StateHealthy, snap["a"].State)
	assert.Equal(t, health.StateHealthy, snap["b"].State)
}
