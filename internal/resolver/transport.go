package resolver

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// DefaultURLLengthLimit is the ceiling for inline-mode player URLs.
// Browsers start misbehaving past roughly 2000 characters.
const DefaultURLLengthLimit = 2000

// Mode is the transport strategy for delivering episode data.
type Mode string

const (
	// ModeInline embeds the episode list in the player URL itself.
	ModeInline Mode = "inline"

	// ModeDeferred returns a short player URL; the client fetches the
	// episode list afterwards via /api/episodes.
	ModeDeferred Mode = "deferred"
)

// Transport is the chosen delivery strategy for one bundle.
type Transport struct {
	Mode         Mode
	WebPlayerURL string
	// EpisodeURLs carries the stream URLs in deferred mode only.
	EpisodeURLs []string
}

// inlineEpisode is the compact shape embedded in inline player URLs.
type inlineEpisode struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// DecideTransport picks inline mode when the fully assembled player URL
// stays within the length limit, deferred mode otherwise. A URL of
// exactly the limit is still inline.
func DecideTransport(b *PlaybackBundle, playerBaseURL string, limit int) Transport {
	if limit <= 0 {
		limit = DefaultURLLengthLimit
	}

	base := fmt.Sprintf("%s/static/player.html?videoId=%s&source=%s&movieTitle=%s&index=0&originalId=%s",
		playerBaseURL,
		url.QueryEscape(b.VideoID),
		url.QueryEscape(b.SourceID),
		url.QueryEscape(b.MovieTitle),
		url.QueryEscape(b.ExternalID),
	)

	compact := make([]inlineEpisode, len(b.Episodes))
	for i, ep := range b.Episodes {
		compact[i] = inlineEpisode{Title: ep.Title, URL: ep.StreamURL}
	}
	payload, err := json.Marshal(compact)
	if err == nil {
		inline := base + "&episodes=" + url.QueryEscape(string(payload))
		if len(inline) <= limit {
			return Transport{Mode: ModeInline, WebPlayerURL: inline}
		}
	}

	urls := make([]string, len(b.Episodes))
	for i, ep := range b.Episodes {
		urls[i] = ep.StreamURL
	}
	return Transport{Mode: ModeDeferred, WebPlayerURL: base, EpisodeURLs: urls}
}
