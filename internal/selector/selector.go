// Package selector orders candidate sources by health and resolves a
// title against them, falling back until one yields a playable bundle.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vodgate/vodgate/internal/health"
	"github.com/vodgate/vodgate/internal/resolver"
	"github.com/vodgate/vodgate/internal/source"
	"github.com/vodgate/vodgate/internal/source/maccms"
)

// FailureKind classifies a resolution failure.
type FailureKind string

const (
	// NoSourceAvailable means every candidate source was tried (or
	// skipped as unreachable) without producing a bundle.
	NoSourceAvailable FailureKind = "no_source_available"
)

// TriedSource records one failed candidate attempt.
type TriedSource struct {
	SourceID string `json:"sourceId"`
	Reason   string `json:"reason"`
}

// ResolutionError is returned when no source could serve the title. It
// carries the full list of attempts so callers can report what failed.
type ResolutionError struct {
	Kind         FailureKind   `json:"kind"`
	TriedSources []TriedSource `json:"triedSources"`
}

func (e *ResolutionError) Error() string {
	ids := make([]string, len(e.TriedSources))
	for i, t := range e.TriedSources {
		ids[i] = t.SourceID
	}
	if len(ids) == 0 {
		return "no source available"
	}
	return fmt.Sprintf("no source available (tried %s)", strings.Join(ids, ", "))
}

// Request identifies the title to resolve. ExternalID is only
// meaningful on the preferred source; fallback candidates are searched
// by Title to find their own id for the same title.
type Request struct {
	ExternalID        string
	Title             string
	PreferredSourceID string
}

// SearchResult is one hit of a cross-source search.
type SearchResult struct {
	VideoID      string `json:"videoId"`
	ExternalID   string `json:"externalId"`
	Title        string `json:"title"`
	SourceID     string `json:"sourceId"`
	SourceName   string `json:"sourceName"`
	Category     string `json:"category,omitempty"`
	Year         string `json:"year,omitempty"`
	Area         string `json:"area,omitempty"`
	Language     string `json:"language,omitempty"`
	Actor        string `json:"actor,omitempty"`
	Director     string `json:"director,omitempty"`
	Description  string `json:"description,omitempty"`
	PosterURL    string `json:"posterUrl,omitempty"`
	Remarks      string `json:"remarks,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
	EpisodeCount int    `json:"episodeCount"`
}

// HealthView exposes the prober's last known source states.
type HealthView interface {
	Snapshot() map[string]health.Status
}

// Searcher runs queries against one source.
type Searcher interface {
	Search(ctx context.Context, src *source.Source, query string) ([]*maccms.Video, error)
	SearchDetailed(ctx context.Context, src *source.Source, query string) ([]*maccms.Video, error)
}

// BundleResolver turns a (source, externalID) pair into a bundle.
type BundleResolver interface {
	Resolve(ctx context.Context, src *source.Source, externalID string) (*resolver.PlaybackBundle, error)
}

// Config holds configuration for the Selector.
type Config struct {
	Registry *source.Registry
	Health   HealthView
	Searcher Searcher
	Resolver BundleResolver
	Logger   zerolog.Logger

	// CandidateTimeout bounds each individual source attempt
	// (default: 5 seconds).
	CandidateTimeout time.Duration

	// OverallTimeout bounds the whole fallback chain
	// (default: 10 seconds).
	OverallTimeout time.Duration
}

// maxSeenEntries bounds the videoId lookup index. The index is a
// convenience cache rebuilt by searches, so it is simply reset when
// full.
const maxSeenEntries = 8192

// seenTitle is the identity behind a videoId handed out in search
// results.
type seenTitle struct {
	ExternalID string
	SourceID   string
	Title      string
}

// Selector picks sources and drives resolution with fallback.
type Selector struct {
	registry *source.Registry
	healthv  HealthView
	searcher Searcher
	resolver BundleResolver
	logger   zerolog.Logger

	candidateTimeout time.Duration
	overallTimeout   time.Duration

	seenMu sync.RWMutex
	seen   map[string]seenTitle
}

// New creates a Selector.
func New(cfg Config) *Selector {
	candidateTimeout := cfg.CandidateTimeout
	if candidateTimeout == 0 {
		candidateTimeout = 5 * time.Second
	}
	overallTimeout := cfg.OverallTimeout
	if overallTimeout == 0 {
		overallTimeout = 10 * time.Second
	}
	return &Selector{
		registry:         cfg.Registry,
		healthv:          cfg.Health,
		searcher:         cfg.Searcher,
		resolver:         cfg.Resolver,
		logger:           cfg.Logger,
		candidateTimeout: candidateTimeout,
		overallTimeout:   overallTimeout,
		seen:             make(map[string]seenTitle),
	}
}

// Lookup resolves a videoId previously handed out in search results
// back to a resolution request targeting the source it came from.
func (s *Selector) Lookup(videoID string) (Request, bool) {
	s.seenMu.RLock()
	entry, ok := s.seen[videoID]
	s.seenMu.RUnlock()
	if !ok {
		return Request{}, false
	}
	return Request{
		ExternalID:        entry.ExternalID,
		Title:             entry.Title,
		PreferredSourceID: entry.SourceID,
	}, true
}

func (s *Selector) remember(videoID string, entry seenTitle) {
	s.seenMu.Lock()
	if len(s.seen) >= maxSeenEntries {
		s.seen = make(map[string]seenTitle)
	}
	s.seen[videoID] = entry
	s.seenMu.Unlock()
}

// stateRank orders health states for candidate sorting. Lower is better.
func stateRank(s health.State) int {
	switch s {
	case health.StateHealthy:
		return 0
	case health.StateDegraded:
		return 1
	case health.StateUnknown:
		return 2
	default:
		return 3
	}
}

// Candidates returns the sources to try, in order: the preferred source
// first (unless unreachable), then the rest sorted healthy before
// degraded before unknown, with priority and then ID breaking ties.
// Unreachable sources are skipped entirely.
func (s *Selector) Candidates(preferredID string) []*source.Source {
	snapshot := s.healthv.Snapshot()
	state := func(id string) health.State {
		if st, ok := snapshot[id]; ok {
			return st.State
		}
		return health.StateUnknown
	}

	var preferred *source.Source
	var rest []*source.Source
	for _, src := range s.registry.All() {
		if state(src.ID) == health.StateUnreachable {
			continue
		}
		if src.ID == preferredID {
			preferred = src
			continue
		}
		rest = append(rest, src)
	}

	sort.SliceStable(rest, func(i, j int) bool {
		ri, rj := stateRank(state(rest[i].ID)), stateRank(state(rest[j].ID))
		if ri != rj {
			return ri < rj
		}
		if rest[i].Priority != rest[j].Priority {
			return rest[i].Priority < rest[j].Priority
		}
		return rest[i].ID < rest[j].ID
	})

	if preferred != nil {
		return append([]*source.Source{preferred}, rest...)
	}
	return rest
}

// SelectAndResolve tries candidate sources in order until one yields a
// playable bundle. Each attempt gets its own timeout inside an overall
// deadline; every failure is recorded and returned in a
// ResolutionError when the chain is exhausted.
func (s *Selector) SelectAndResolve(ctx context.Context, req Request) (*resolver.PlaybackBundle, error) {
	ctx, cancel := context.WithTimeout(ctx, s.overallTimeout)
	defer cancel()

	candidates := s.Candidates(req.PreferredSourceID)
	tried := make([]TriedSource, 0, len(candidates))

	for _, src := range candidates {
		// Candidates that were never attempted stay out of the tried
		// list; it reports attempts, not the remaining queue.
		if ctx.Err() != nil {
			break
		}

		attemptCtx, attemptCancel := context.WithTimeout(ctx, s.candidateTimeout)
		b, err := s.resolveOn(attemptCtx, src, req)
		attemptCancel()
		if err == nil {
			s.logger.Info().
				Str("source_id", src.ID).
				Str("video_id", b.VideoID).
				Int("attempts", len(tried)+1).
				Msg("source selected")
			return b, nil
		}

		s.logger.Warn().
			Err(err).
			Str("source_id", src.ID).
			Str("title", req.Title).
			Msg("candidate source failed, falling back")
		tried = append(tried, TriedSource{SourceID: src.ID, Reason: err.Error()})
	}

	return nil, &ResolutionError{Kind: NoSourceAvailable, TriedSources: tried}
}

// resolveOn resolves the request against one candidate. The preferred
// source is addressed by the caller-supplied external id; any other
// candidate is searched by title first, since external ids do not carry
// across sources.
func (s *Selector) resolveOn(ctx context.Context, src *source.Source, req Request) (*resolver.PlaybackBundle, error) {
	externalID := ""
	if src.ID == req.PreferredSourceID && req.ExternalID != "" {
		externalID = req.ExternalID
	} else {
		id, err := s.findByTitle(ctx, src, req.Title)
		if err != nil {
			return nil, err
		}
		externalID = id
	}
	return s.resolver.Resolve(ctx, src, externalID)
}

// findByTitle searches the source for the title and returns the
// source-native id of the best match. An exact title match wins;
// otherwise the first hit does.
func (s *Selector) findByTitle(ctx context.Context, src *source.Source, title string) (string, error) {
	if title == "" {
		return "", errors.New("no title to search with")
	}

	videos, err := s.searcher.Search(ctx, src, title)
	if err != nil {
		return "", fmt.Errorf("search %q: %w", title, err)
	}
	if len(videos) == 0 {
		return "", fmt.Errorf("no match for %q: %w", title, resolver.ErrNotFound)
	}

	for _, v := range videos {
		if v.Title == title {
			return v.ID, nil
		}
	}
	return videos[0].ID, nil
}

// Search fans a query out across all reachable sources concurrently and
// merges the hits in candidate order. A non-empty sourceID restricts
// the search to that source. Individual source failures degrade the
// result set; an error is returned only when every source failed.
func (s *Selector) Search(ctx context.Context, query, sourceID string) ([]SearchResult, error) {
	var targets []*source.Source
	if sourceID != "" {
		src := s.registry.Get(sourceID)
		if src == nil {
			return nil, fmt.Errorf("search %q on %q: %w", query, sourceID, maccms.ErrUnknownSource)
		}
		targets = []*source.Source{src}
	} else {
		targets = s.Candidates("")
	}
	if len(targets) == 0 {
		return nil, &ResolutionError{Kind: NoSourceAvailable}
	}

	perSource := make([][]SearchResult, len(targets))
	errs := make([]error, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i, src := range targets {
		i, src := i, src
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, s.candidateTimeout)
			defer cancel()

			videos, err := s.searcher.SearchDetailed(sctx, src, query)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[i] = err
				s.logger.Warn().
					Err(err).
					Str("source_id", src.ID).
					Str("query", query).
					Msg("source search failed")
				return nil
			}
			perSource[i] = s.toResults(src, videos)
			return nil
		})
	}
	_ = g.Wait()

	var results []SearchResult
	failed := 0
	for i := range targets {
		if errs[i] != nil {
			failed++
			continue
		}
		results = append(results, perSource[i]...)
	}
	if failed == len(targets) {
		return nil, fmt.Errorf("search %q: all %d sources failed: %w", query, failed, errs[0])
	}
	return results, nil
}

func (s *Selector) toResults(src *source.Source, videos []*maccms.Video) []SearchResult {
	results := make([]SearchResult, 0, len(videos))
	for _, v := range videos {
		videoID := resolver.VideoID(v.ID, src.Name)
		s.remember(videoID, seenTitle{ExternalID: v.ID, SourceID: src.ID, Title: v.Title})
		results = append(results, SearchResult{
			VideoID:      videoID,
			ExternalID:   v.ID,
			Title:        v.Title,
			SourceID:     src.ID,
			SourceName:   src.Name,
			Category:     v.Category,
			Year:         v.Year,
			Area:         v.Area,
			Language:     v.Language,
			Actor:        v.Actor,
			Director:     v.Director,
			Description:  v.Description,
			PosterURL:    v.PosterURL,
			Remarks:      v.Remarks,
			UpdatedAt:    v.UpdatedAt,
			EpisodeCount: len(resolver.NormalizeEpisodes(v.Play, src.API)),
		})
	}
	return results
}
