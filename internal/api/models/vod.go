package models

import (
	"github.com/vodgate/vodgate/internal/health"
	"github.com/vodgate/vodgate/internal/selector"
)

// SearchRequest is the body of POST /tools/search_movie.
type SearchRequest struct {
	Query string `json:"query"`

	// SourceID restricts the search to one source when set.
	SourceID string `json:"sourceId,omitempty"`
}

// SearchResponse carries the merged cross-source search hits.
type SearchResponse struct {
	Success bool                    `json:"success"`
	Query   string                  `json:"query"`
	Count   int                     `json:"count"`
	Results []selector.SearchResult `json:"results"`
}

// PlaybackInfoRequest is the body of POST /tools/get_playback_info.
// VideoID normally comes from a prior search; MovieTitle and OriginalID
// let clients that bypassed search address a title directly.
type PlaybackInfoRequest struct {
	VideoID           string `json:"videoId"`
	PreferredSourceID string `json:"preferredSourceId,omitempty"`
	MovieTitle        string `json:"movieTitle,omitempty"`
	OriginalID        string `json:"originalId,omitempty"`
}

// PlaybackInfoResponse is the playback bundle handed to the client.
// Mode is "inline" when WebPlayerURL embeds the episode list and
// "deferred" when the client must fetch /api/episodes afterwards.
type PlaybackInfoResponse struct {
	Success      bool     `json:"success"`
	Mode         string   `json:"mode"`
	WebPlayerURL string   `json:"webPlayerUrl"`
	VideoID      string   `json:"videoId"`
	SourceID     string   `json:"sourceId"`
	MovieTitle   string   `json:"movieTitle"`
	EpisodeCount int      `json:"episodeCount"`
	EpisodeURLs  []string `json:"episodeUrls,omitempty"`
}

// EpisodeItem is one playable entry in an episodes response.
type EpisodeItem struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// EpisodesResponse is the deferred-mode follow-up payload.
type EpisodesResponse struct {
	Success    bool          `json:"success"`
	VideoID    string        `json:"videoId"`
	MovieTitle string        `json:"movieTitle"`
	Source     string        `json:"source"`
	Episodes   []EpisodeItem `json:"episodes"`
	TotalCount int           `json:"totalCount"`
	Timestamp  Timestamp     `json:"timestamp"`
}

// SourceDebug is one source's row in the debug snapshot.
type SourceDebug struct {
	SourceID     string        `json:"sourceId"`
	Name         string        `json:"name"`
	Priority     int           `json:"priority"`
	Health       health.Status `json:"health"`
	CircuitState string        `json:"circuitState"`
}

// DebugSourcesResponse is the GET /debug/source payload.
type DebugSourcesResponse struct {
	Total   int           `json:"total"`
	Working int           `json:"working"`
	Sources []SourceDebug `json:"sources"`
	Time    Timestamp     `json:"time"`
}
