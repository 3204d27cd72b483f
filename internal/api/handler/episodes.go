package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/vodgate/vodgate/internal/api/models"
	"github.com/vodgate/vodgate/internal/api/response"
	"github.com/vodgate/vodgate/internal/resolver"
	"github.com/vodgate/vodgate/internal/selector"
	"github.com/vodgate/vodgate/internal/source"
)

// bundleCache reads previously resolved bundles.
type bundleCache interface {
	Cached(videoID, sourceID string) (*resolver.PlaybackBundle, bool)
}

// EpisodesHandler serves the deferred-mode episode follow-up fetch.
type EpisodesHandler struct {
	registry *source.Registry
	cache    bundleCache
	selector playbackSelector
	logger   zerolog.Logger
}

// NewEpisodesHandler creates a new EpisodesHandler.
func NewEpisodesHandler(registry *source.Registry, cache bundleCache, sel playbackSelector, logger zerolog.Logger) *EpisodesHandler {
	return &EpisodesHandler{
		registry: registry,
		cache:    cache,
		selector: sel,
		logger:   logger,
	}
}

// GetEpisodes handles GET /api/episodes/{videoId}.
// The bundle cache is tried first; on a miss the title is re-resolved
// from the originalId or movie_title query parameters, so a player page
// opened after a service restart still hydrates.
func (h *EpisodesHandler) GetEpisodes(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoId")
	if videoID == "" {
		response.BadRequest(w, r, "videoId path parameter is required", nil)
		return
	}

	q := r.URL.Query()
	src := h.lookupSource(q.Get("source"))

	if src != nil {
		if bundle, ok := h.cache.Cached(videoID, src.ID); ok {
			h.writeBundle(w, r, src, bundle)
			return
		}
	}

	req, ok := h.resolutionRequest(videoID, src, q.Get("originalId"), q.Get("movie_title"))
	if !ok {
		response.NotFound(w, r, "no cached episodes for this videoId; pass originalId or movie_title to re-resolve")
		return
	}

	bundle, err := h.selector.SelectAndResolve(r.Context(), req)
	if err != nil {
		var resErr *selector.ResolutionError
		if errors.As(err, &resErr) {
			response.BadGateway(w, r, "no source available", triedSources(resErr))
			return
		}
		h.logger.Error().Err(err).Str("video_id", videoID).Msg("episode re-resolution failed")
		response.InternalError(w, r, "episode resolution failed")
		return
	}

	h.writeBundle(w, r, h.registry.Get(bundle.SourceID), bundle)
}

// lookupSource accepts a source by ID or, for older clients, by
// display name.
func (h *EpisodesHandler) lookupSource(param string) *source.Source {
	if param == "" {
		return nil
	}
	if src := h.registry.Get(param); src != nil {
		return src
	}
	return h.registry.GetByName(param)
}

func (h *EpisodesHandler) resolutionRequest(videoID string, src *source.Source, originalID, movieTitle string) (selector.Request, bool) {
	movieTitle = strings.TrimSpace(movieTitle)

	if originalID != "" && src != nil {
		return selector.Request{
			ExternalID:        originalID,
			Title:             movieTitle,
			PreferredSourceID: src.ID,
		}, true
	}
	if req, ok := h.selector.Lookup(videoID); ok {
		return req, true
	}
	if movieTitle != "" {
		req := selector.Request{Title: movieTitle}
		if src != nil {
			req.PreferredSourceID = src.ID
		}
		return req, true
	}
	return selector.Request{}, false
}

func (h *EpisodesHandler) writeBundle(w http.ResponseWriter, r *http.Request, src *source.Source, bundle *resolver.PlaybackBundle) {
	episodes := make([]models.EpisodeItem, len(bundle.Episodes))
	for i, ep := range bundle.Episodes {
		episodes[i] = models.EpisodeItem{Title: ep.Title, URL: ep.StreamURL}
	}

	sourceName := bundle.SourceID
	if src != nil {
		sourceName = src.Name
	}

	response.JSON(w, r, http.StatusOK, models.EpisodesResponse{
		Success:    true,
		VideoID:    bundle.VideoID,
		MovieTitle: bundle.MovieTitle,
		Source:     sourceName,
		Episodes:   episodes,
		TotalCount: len(episodes),
		Timestamp:  models.Timestamp(time.Now()),
	})
}
