package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vodgate/vodgate/internal/api/models"
	"github.com/vodgate/vodgate/internal/api/response"
	"github.com/vodgate/vodgate/internal/resolver"
	"github.com/vodgate/vodgate/internal/selector"
)

// playbackSelector drives source selection with fallback and maps
// videoIds handed out in search results back to resolution requests.
type playbackSelector interface {
	SelectAndResolve(ctx context.Context, req selector.Request) (*resolver.PlaybackBundle, error)
	Lookup(videoID string) (selector.Request, bool)
}

// PlaybackHandler handles playback info endpoints.
type PlaybackHandler struct {
	selector      playbackSelector
	playerBaseURL string
	urlLimit      int
	logger        zerolog.Logger
}

// PlaybackHandlerConfig holds configuration for the PlaybackHandler.
type PlaybackHandlerConfig struct {
	Selector      playbackSelector
	PlayerBaseURL string
	// URLLimit is the inline player URL ceiling. Zero means the
	// resolver default.
	URLLimit int
	Logger   zerolog.Logger
}

// NewPlaybackHandler creates a new PlaybackHandler.
func NewPlaybackHandler(cfg PlaybackHandlerConfig) *PlaybackHandler {
	return &PlaybackHandler{
		selector:      cfg.Selector,
		playerBaseURL: cfg.PlayerBaseURL,
		urlLimit:      cfg.URLLimit,
		logger:        cfg.Logger,
	}
}

// GetPlaybackInfo handles POST /tools/get_playback_info.
func (h *PlaybackHandler) GetPlaybackInfo(w http.ResponseWriter, r *http.Request) {
	var input models.PlaybackInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	req, ok := h.resolutionRequest(input)
	if !ok {
		response.BadRequest(w, r, "videoId (from a prior search), or movieTitle, or originalId with preferredSourceId is required", []models.FieldError{
			{Field: "videoId", Message: "unknown; search first or supply movieTitle"},
		})
		return
	}

	bundle, err := h.selector.SelectAndResolve(r.Context(), req)
	if err != nil {
		var resErr *selector.ResolutionError
		if errors.As(err, &resErr) {
			h.logger.Warn().
				Str("title", req.Title).
				Int("tried", len(resErr.TriedSources)).
				Msg("no source could serve playback")
			response.BadGateway(w, r, "no source available", triedSources(resErr))
			return
		}
		h.logger.Error().Err(err).Str("title", req.Title).Msg("playback resolution failed")
		response.InternalError(w, r, "playback resolution failed")
		return
	}

	tr := resolver.DecideTransport(bundle, h.playerBaseURL, h.urlLimit)

	response.JSON(w, r, http.StatusOK, models.PlaybackInfoResponse{
		Success:      true,
		Mode:         string(tr.Mode),
		WebPlayerURL: tr.WebPlayerURL,
		VideoID:      bundle.VideoID,
		SourceID:     bundle.SourceID,
		MovieTitle:   bundle.MovieTitle,
		EpisodeCount: len(bundle.Episodes),
		EpisodeURLs:  tr.EpisodeURLs,
	})
}

// resolutionRequest maps the request body onto a selector request. A
// known videoId wins; explicit originalId plus source, or a bare title,
// serve clients that did not search first.
func (h *PlaybackHandler) resolutionRequest(input models.PlaybackInfoRequest) (selector.Request, bool) {
	if input.VideoID != "" {
		if req, ok := h.selector.Lookup(input.VideoID); ok {
			if input.PreferredSourceID != "" && input.PreferredSourceID != req.PreferredSourceID {
				// The external id is only valid on the source it came
				// from; a different preferred source must search by
				// title.
				req.ExternalID = ""
				req.PreferredSourceID = input.PreferredSourceID
			}
			return req, true
		}
	}

	title := strings.TrimSpace(input.MovieTitle)
	if input.OriginalID != "" && input.PreferredSourceID != "" {
		return selector.Request{
			ExternalID:        input.OriginalID,
			Title:             title,
			PreferredSourceID: input.PreferredSourceID,
		}, true
	}
	if title != "" {
		return selector.Request{
			Title:             title,
			PreferredSourceID: input.PreferredSourceID,
		}, true
	}
	return selector.Request{}, false
}

func triedSources(resErr *selector.ResolutionError) []models.TriedSource {
	tried := make([]models.TriedSource, len(resErr.TriedSources))
	for i, t := range resErr.TriedSources {
		tried[i] = models.TriedSource{SourceID: t.SourceID, Reason: t.Reason}
	}
	return tried
}
