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
	"github.com/vodgate/vodgate/internal/selector"
	"github.com/vodgate/vodgate/internal/source/maccms"
)

// movieSearcher runs cross-source title searches.
type movieSearcher interface {
	Search(ctx context.Context, query, sourceID string) ([]selector.SearchResult, error)
}

// SearchHandler handles movie search endpoints.
type SearchHandler struct {
	searcher movieSearcher
	logger   zerolog.Logger
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(searcher movieSearcher, logger zerolog.Logger) *SearchHandler {
	return &SearchHandler{searcher: searcher, logger: logger}
}

// SearchMovie handles POST /tools/search_movie.
func (h *SearchHandler) SearchMovie(w http.ResponseWriter, r *http.Request) {
	var input models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	input.Query = strings.TrimSpace(input.Query)
	if input.Query == "" {
		response.BadRequest(w, r, "query must not be empty", []models.FieldError{
			{Field: "query", Message: "required"},
		})
		return
	}

	results, err := h.searcher.Search(r.Context(), input.Query, input.SourceID)
	if err != nil {
		if errors.Is(err, maccms.ErrUnknownSource) {
			response.BadRequest(w, r, err.Error(), []models.FieldError{
				{Field: "sourceId", Message: "unknown source"},
			})
			return
		}
		h.logger.Error().Err(err).Str("query", input.Query).Msg("search failed")
		response.BadGateway(w, r, "all sources failed to answer the search", nil)
		return
	}

	if results == nil {
		results = []selector.SearchResult{}
	}
	response.JSON(w, r, http.StatusOK, models.SearchResponse{
		Success: true,
		Query:   input.Query,
		Count:   len(results),
		Results: results,
	})
}
