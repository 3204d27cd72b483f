package selector

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodgate/vodgate/internal/health"
	"github.com/vodgate/vodgate/internal/resolver"
	"github.com/vodgate/vodgate/internal/source"
	"github.com/vodgate/vodgate/internal/source/maccms"
)

type stubHealth struct {
	states map[string]health.State
}

func (s *stubHealth) Snapshot() map[string]health.Status {
	out := make(map[string]health.Status, len(s.states))
	for id, st := range s.states {
		out[id] = health.Status{SourceID: id, State: st}
	}
	return out
}

type stubSearcher struct {
	// hits maps sourceID to the videos its search returns.
	hits map[string][]*maccms.Video
	errs map[string]error
}

func (s *stubSearcher) Search(_ context.Context, src *source.Source, _ string) ([]*maccms.Video, error) {
	if err := s.errs[src.ID]; err != nil {
		return nil, err
	}
	return s.hits[src.ID], nil
}

func (s *stubSearcher) SearchDetailed(ctx context.Context, src *source.Source, query string) ([]*maccms.Video, error) {
	return s.Search(ctx, src, query)
}

type stubResolver struct {
	// fail lists sourceIDs whose resolution fails.
	fail  map[string]error
	calls []string
}

func (s *stubResolver) Resolve(_ context.Context, src *source.Source, externalID string) (*resolver.PlaybackBundle, error) {
	s.calls = append(s.calls, src.ID+":"+externalID)
	if err := s.fail[src.ID]; err != nil {
		return nil, err
	}
	return &resolver.PlaybackBundle{
		VideoID:    resolver.VideoID(externalID, src.Name),
		ExternalID: externalID,
		SourceID:   src.ID,
		MovieTitle: "Show",
		Episodes:   []resolver.Episode{{Index: 0, Title: "Episode 1", StreamURL: "https://cdn.example.com/1.m3u8"}},
		ResolvedAt: time.Now(),
	}, nil
}

// stalledSearcher blocks every search until its context expires.
type stalledSearcher struct{}

func (stalledSearcher) Search(ctx context.Context, _ *source.Source, _ string) ([]*maccms.Video, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s stalledSearcher) SearchDetailed(ctx context.Context, src *source.Source, query string) ([]*maccms.Video, error) {
	return s.Search(ctx, src, query)
}

func testRegistry(t *testing.T) *source.Registry {
	t.Helper()
	cfg := `{
		"alpha": {"name": "Alpha", "api": "https://alpha.example.com/api.php/provide/vod/", "priority": 1},
		"beta":  {"name": "Beta",  "api": "https://beta.example.com/api.php/provide/vod/",  "priority": 2},
		"gamma": {"name": "Gamma", "api": "https://gamma.example.com/api.php/provide/vod/", "priority": 3}
	}`
	reg, err := source.Load(strings.NewReader(cfg))
	require.NoError(t, err)
	return reg
}

func newTestSelector(t *testing.T, states map[string]health.State, searcher Searcher, res BundleResolver) *Selector {
	t.Helper()
	return New(Config{
		Registry: testRegistry(t),
		Health:   &stubHealth{states: states},
		Searcher: searcher,
		Resolver: res,
		Logger:   zerolog.New(io.Discard),
	})
}

func candidateIDs(srcs []*source.Source) []string {
	ids := make([]string, len(srcs))
	for i, s := range srcs {
		ids[i] = s.ID
	}
	return ids
}

func TestCandidates_HealthOrderBeatsPriority(t *testing.T) {
	s := newTestSelector(t, map[string]health.State{
		"alpha": health.StateDegraded,
		"beta":  health.StateHealthy,
		"gamma": health.StateHealthy,
	}, &stubSearcher{}, &stubResolver{})

	got := candidateIDs(s.Candidates(""))
	assert.Equal(t, []string{"beta", "gamma", "alpha"}, got)
}

func TestCandidates_PreferredFirst(t *testing.T) {
	s := newTestSelector(t, map[string]health.State{
		"alpha": health.StateHealthy,
		"beta":  health.StateDegraded,
	}, &stubSearcher{}, &stubResolver{})

	got := candidateIDs(s.Candidates("beta"))
	assert.Equal(t, []string{"beta", "alpha", "gamma"}, got)
}

func TestCandidates_UnreachableSkipped(t *testing.T) {
	s := newTestSelector(t, map[string]health.State{
		"alpha": health.StateUnreachable,
		"beta":  health.StateHealthy,
	}, &stubSearcher{}, &stubResolver{})

	got := candidateIDs(s.Candidates("alpha"))
	assert.NotContains(t, got, "alpha")
	assert.Equal(t, "beta", got[0])
}

func TestCandidates_UnprobedTreatedAsUnknown(t *testing.T) {
	s := newTestSelector(t, map[string]health.State{
		"gamma": health.StateHealthy,
	}, &stubSearcher{}, &stubResolver{})

	got := candidateIDs(s.Candidates(""))
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, got)
}

func TestSelectAndResolve_PreferredUsesExternalID(t *testing.T) {
	res := &stubResolver{}
	s := newTestSelector(t, map[string]health.State{
		"alpha": health.StateHealthy,
		"beta":  health.StateHealthy,
	}, &stubSearcher{}, res)

	b, err := s.SelectAndResolve(context.Background(), Request{
		ExternalID:        "42",
		Title:             "Show",
		PreferredSourceID: "beta",
	})
	require.NoError(t, err)
	assert.Equal(t, "beta", b.SourceID)
	assert.Equal(t, []string{"beta:42"}, res.calls)
}

func TestSelectAndResolve_FallbackSearchesByTitle(t *testing.T) {
	res := &stubResolver{fail: map[string]error{"beta": errors.New("timeout")}}
	searcher := &stubSearcher{hits: map[string][]*maccms.Video{
		"alpha": {{ID: "900", Title: "Show"}},
	}}
	s := newTestSelector(t, map[string]health.State{
		"alpha": health.StateHealthy,
		"beta":  health.StateHealthy,
		"gamma": health.StateUnreachable,
	}, searcher, res)

	b, err := s.SelectAndResolve(context.Background(), Request{
		ExternalID:        "42",
		Title:             "Show",
		PreferredSourceID: "beta",
	})
	require.NoError(t, err)
	assert.Equal(t, "alpha", b.SourceID)
	// Preferred tried with its own id, fallback with the searched one.
	assert.Equal(t, []string{"beta:42", "alpha:900"}, res.calls)
}

func TestSelectAndResolve_ExactTitleMatchWins(t *testing.T) {
	res := &stubResolver{}
	searcher := &stubSearcher{hits: map[string][]*maccms.Video{
		"alpha": {
			{ID: "1", Title: "Show Season 2"},
			{ID: "2", Title: "Show"},
		},
	}}
	s := newTestSelector(t, map[string]health.State{
		"alpha": health.StateHealthy,
	}, searcher, res)

	b, err := s.SelectAndResolve(context.Background(), Request{Title: "Show"})
	require.NoError(t, err)
	assert.Equal(t, "2", b.ExternalID)
}

func TestSelectAndResolve_AllFail(t *testing.T) {
	res := &stubResolver{fail: map[string]error{
		"alpha": errors.New("boom"),
		"beta":  errors.New("boom"),
		"gamma": errors.New("boom"),
	}}
	searcher := &stubSearcher{hits: map[string][]*maccms.Video{
		"alpha": {{ID: "1", Title: "Show"}},
		"beta":  {{ID: "2", Title: "Show"}},
		"gamma": {{ID: "3", Title: "Show"}},
	}}
	s := newTestSelector(t, map[string]health.State{}, searcher, res)

	_, err := s.SelectAndResolve(context.Background(), Request{Title: "Show"})
	require.Error(t, err)

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, NoSourceAvailable, resErr.Kind)
	assert.Len(t, resErr.TriedSources, 3)
	assert.Equal(t, "alpha", resErr.TriedSources[0].SourceID)
}

func TestSelectAndResolve_OverallDeadlineStopsChain(t *testing.T) {
	s := New(Config{
		Registry:         testRegistry(t),
		Health:           &stubHealth{states: map[string]health.State{}},
		Searcher:         stalledSearcher{},
		Resolver:         &stubResolver{},
		Logger:           zerolog.New(io.Discard),
		CandidateTimeout: time.Second,
		OverallTimeout:   100 * time.Millisecond,
	})

	start := time.Now()
	_, err := s.SelectAndResolve(context.Background(), Request{Title: "Show"})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 500*time.Millisecond)

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, NoSourceAvailable, resErr.Kind)

	// Only the attempted candidate appears; "beta" and "gamma" never
	// got a fetch and must not be listed.
	require.Len(t, resErr.TriedSources, 1)
	assert.Equal(t, "alpha", resErr.TriedSources[0].SourceID)
}

func TestSelectAndResolve_NoCandidates(t *testing.T) {
	s := newTestSelector(t, map[string]health.State{
		"alpha": health.StateUnreachable,
		"beta":  health.StateUnreachable,
		"gamma": health.StateUnreachable,
	}, &stubSearcher{}, &stubResolver{})

	_, err := s.SelectAndResolve(context.Background(), Request{Title: "Show"})
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Empty(t, resErr.TriedSources)
}

func TestSearch_MergesAcrossSources(t *testing.T) {
	searcher := &stubSearcher{
		hits: map[string][]*maccms.Video{
			"alpha": {{ID: "1", Title: "Show", Year: "2023"}},
			"beta":  {{ID: "7", Title: "Show Redux"}},
		},
		errs: map[string]error{"gamma": errors.New("bad gateway")},
	}
	s := newTestSelector(t, map[string]health.State{
		"alpha": health.StateHealthy,
		"beta":  health.StateHealthy,
		"gamma": health.StateHealthy,
	}, searcher, &stubResolver{})

	results, err := s.Search(context.Background(), "Show", "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].SourceID)
	assert.Equal(t, "Alpha", results[0].SourceName)
	assert.Equal(t, resolver.VideoID("1", "Alpha"), results[0].VideoID)
	assert.Equal(t, "beta", results[1].SourceID)
}

func TestSearch_SingleSource(t *testing.T) {
	searcher := &stubSearcher{hits: map[string][]*maccms.Video{
		"beta": {{ID: "7", Title: "Show"}},
	}}
	s := newTestSelector(t, map[string]health.State{}, searcher, &stubResolver{})

	results, err := s.Search(context.Background(), "Show", "beta")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "beta", results[0].SourceID)
}

func TestSearch_RemembersVideoIDs(t *testing.T) {
	searcher := &stubSearcher{hits: map[string][]*maccms.Video{
		"alpha": {{ID: "1", Title: "Show"}},
	}}
	s := newTestSelector(t, map[string]health.State{}, searcher, &stubResolver{})

	results, err := s.Search(context.Background(), "Show", "alpha")
	require.NoError(t, err)
	require.Len(t, results, 1)

	req, ok := s.Lookup(results[0].VideoID)
	require.True(t, ok)
	assert.Equal(t, "1", req.ExternalID)
	assert.Equal(t, "alpha", req.PreferredSourceID)
	assert.Equal(t, "Show", req.Title)

	_, ok = s.Lookup("ffffffffffff")
	assert.False(t, ok)
}

func TestSearch_UnknownSource(t *testing.T) {
	s := newTestSelector(t, map[string]health.State{}, &stubSearcher{}, &stubResolver{})

	_, err := s.Search(context.Background(), "Show", "nope")
	require.Error(t, err)
}

func TestSearch_AllSourcesFail(t *testing.T) {
	boom := errors.New("bad gateway")
	searcher := &stubSearcher{errs: map[string]error{
		"alpha": boom, "beta": boom, "gamma": boom,
	}}
	s := newTestSelector(t, map[string]health.State{}, searcher, &stubResolver{})

	_, err := s.Search(context.Background(), "Show", "")
	require.Error(t, err)
}
