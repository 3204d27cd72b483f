// Package resolver normalizes raw source play data into playback bundles
// and decides how episode data travels back to the client.
package resolver

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vodgate/vodgate/internal/source"
	"github.com/vodgate/vodgate/internal/source/maccms"
)

// Sentinel errors. Both mark a per-candidate failure the selector
// recovers from by advancing to the next source.
var (
	// ErrNotFound means the source returned no entry for the id.
	ErrNotFound = errors.New("video not found on source")

	// ErrNoEpisodes means the entry had no playable episodes.
	ErrNoEpisodes = errors.New("no playable episodes")
)

// Episode is one playable entry of a resolved title.
type Episode struct {
	Index     int    `json:"index"`
	Title     string `json:"title"`
	StreamURL string `json:"url"`
}

// PlaybackBundle is the normalized result of resolving one title against
// one source. Episodes preserve source-native order and are never empty.
type PlaybackBundle struct {
	VideoID    string
	ExternalID string
	SourceID   string
	MovieTitle string
	Episodes   []Episode
	ResolvedAt time.Time
}

// Catalog fetches detail entries from a source.
type Catalog interface {
	Detail(ctx context.Context, src *source.Source, ids []string) ([]*maccms.Video, error)
}

// Metrics records upstream fetch and cache outcomes. Satisfied by
// middleware.ProviderMetrics.
type Metrics interface {
	RecordRequest(provider, operation string, duration time.Duration, err error)
	RecordCacheHit(provider, operation string)
	RecordCacheMiss(provider, operation string)
}

// Config holds configuration for the Resolver.
type Config struct {
	// Catalog performs the upstream detail fetches.
	Catalog Catalog

	// Logger for resolution outcomes.
	Logger zerolog.Logger

	// CacheTTL bounds how long a resolved bundle is served from cache
	// (default: 1 hour, matching the client-side episode cache).
	CacheTTL time.Duration

	// CacheSize bounds the number of cached bundles (default: 256).
	CacheSize int

	// Metrics, when set, records detail fetch timings and cache
	// hit/miss counts.
	Metrics Metrics
}

// Resolver resolves (source, externalID) pairs into playback bundles,
// caching results and collapsing concurrent identical resolutions into
// one upstream fetch.
type Resolver struct {
	catalog   Catalog
	logger    zerolog.Logger
	cacheTTL  time.Duration
	cacheSize int
	metrics   Metrics

	mu    sync.RWMutex
	cache map[cacheKey]*cacheEntry
	group singleflight.Group
}

type cacheKey struct {
	videoID  string
	sourceID string
}

type cacheEntry struct {
	bundle    *PlaybackBundle
	expiresAt time.Time
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = time.Hour
	}
	cacheSize := cfg.CacheSize
	if cacheSize == 0 {
		cacheSize = 256
	}
	return &Resolver{
		catalog:   cfg.Catalog,
		logger:    cfg.Logger,
		cacheTTL:  cacheTTL,
		cacheSize: cacheSize,
		metrics:   cfg.Metrics,
		cache:     make(map[cacheKey]*cacheEntry),
	}
}

// VideoID derives the stable short id for a title on a source. The same
// (externalID, source) pair always yields the same id, which keys the
// bundle cache and the deferred-mode follow-up fetch.
func VideoID(externalID, sourceName string) string {
	sum := md5.Sum([]byte(externalID + "_" + sourceName))
	return hex.EncodeToString(sum[:])[:12]
}

// Resolve fetches and normalizes the title's play data from the given
// source. Concurrent identical requests share one upstream fetch.
func (r *Resolver) Resolve(ctx context.Context, src *source.Source, externalID string) (*PlaybackBundle, error) {
	videoID := VideoID(externalID, src.Name)
	key := cacheKey{videoID: videoID, sourceID: src.ID}

	if b, ok := r.cached(key); ok {
		if r.metrics != nil {
			r.metrics.RecordCacheHit(src.ID, "resolve")
		}
		return b, nil
	}
	if r.metrics != nil {
		r.metrics.RecordCacheMiss(src.ID, "resolve")
	}

	v, err, _ := r.group.Do(videoID+"\x00"+src.ID, func() (interface{}, error) {
		if b, ok := r.cached(key); ok {
			return b, nil
		}
		b, err := r.fetch(ctx, src, externalID, videoID)
		if err != nil {
			return nil, err
		}
		r.store(key, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PlaybackBundle), nil
}

// Cached returns the bundle for (videoID, sourceID) if one is fresh.
func (r *Resolver) Cached(videoID, sourceID string) (*PlaybackBundle, bool) {
	return r.cached(cacheKey{videoID: videoID, sourceID: sourceID})
}

func (r *Resolver) cached(key cacheKey) (*PlaybackBundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.bundle, true
}

func (r *Resolver) store(key cacheKey, b *PlaybackBundle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.cache) >= r.cacheSize {
		r.evictLocked()
	}
	r.cache[key] = &cacheEntry{
		bundle:    b,
		expiresAt: time.Now().Add(r.cacheTTL),
	}
}

// evictLocked drops expired entries, then the oldest remaining one if
// the cache is still full. Caller holds the write lock.
func (r *Resolver) evictLocked() {
	now := time.Now()
	for k, e := range r.cache {
		if now.After(e.expiresAt) {
			delete(r.cache, k)
		}
	}
	if len(r.cache) < r.cacheSize {
		return
	}
	var oldestKey cacheKey
	var oldest time.Time
	first := true
	for k, e := range r.cache {
		if first || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
			first = false
		}
	}
	if !first {
		delete(r.cache, oldestKey)
	}
}

func (r *Resolver) fetch(ctx context.Context, src *source.Source, externalID, videoID string) (*PlaybackBundle, error) {
	start := time.Now()
	videos, err := r.catalog.Detail(ctx, src, []string{externalID})
	if r.metrics != nil {
		r.metrics.RecordRequest(src.ID, "detail", time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s on %s: %w", externalID, src.ID, err)
	}
	if len(videos) == 0 {
		return nil, fmt.Errorf("resolve %s on %s: %w", externalID, src.ID, ErrNotFound)
	}

	v := videos[0]
	episodes := NormalizeEpisodes(v.Play, src.API)
	if len(episodes) == 0 {
		return nil, fmt.Errorf("resolve %s on %s: %w", externalID, src.ID, ErrNoEpisodes)
	}

	r.logger.Info().
		Str("source_id", src.ID).
		Str("external_id", externalID).
		Str("video_id", videoID).
		Int("episodes", len(episodes)).
		Msg("resolved playback bundle")

	return &PlaybackBundle{
		VideoID:    videoID,
		ExternalID: externalID,
		SourceID:   src.ID,
		MovieTitle: v.Title,
		Episodes:   episodes,
		ResolvedAt: time.Now(),
	}, nil
}
