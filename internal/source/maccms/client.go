// Package maccms provides a client for maccms (Apple CMS) V10 VOD APIs.
package maccms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vodgate/vodgate/internal/provider/resilience"
	"github.com/vodgate/vodgate/internal/source"
)

// detailBatchLimit caps how many ids a single ?ac=detail call carries,
// to keep the upstream URL short.
const detailBatchLimit = 20

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for a maccms client.
type ClientConfig struct {
	// HTTPClient is the HTTP client to use. If nil, a resilient client
	// named after the source is created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 15s).
	Timeout time.Duration
}

// Client is a maccms V10 API client bound to one configured source.
type Client struct {
	src        *source.Source
	httpClient HTTPDoer
}

// NewClient creates a client for the given source.
func NewClient(src *source.Source, cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            src.ID,
			Timeout:         timeout,
			MaxRetries:      3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		})
	}

	return &Client{
		src:        src,
		httpClient: httpClient,
	}
}

// Source returns the source this client is bound to.
func (c *Client) Source() *source.Source {
	return c.src
}

// API response types (maccms V10 wire format).

type listResponse struct {
	Code json.Number `json:"code"`
	Msg  string      `json:"msg"`
	List []vodItem   `json:"list"`
}

type vodItem struct {
	VodID       json.Number `json:"vod_id"`
	VodName     string      `json:"vod_name"`
	TypeName    string      `json:"type_name"`
	VodTime     string      `json:"vod_time"`
	VodRemarks  string      `json:"vod_remarks"`
	VodPic      string      `json:"vod_pic"`
	VodArea     string      `json:"vod_area"`
	VodLang     string      `json:"vod_lang"`
	VodYear     string      `json:"vod_year"`
	VodActor    string      `json:"vod_actor"`
	VodDirector string      `json:"vod_director"`
	VodContent  string      `json:"vod_content"`
	VodPlayURL  string      `json:"vod_play_url"`
}

// Video is a normalized maccms catalog entry.
type Video struct {
	ID          string
	Title       string
	Category    string
	Year        string
	UpdatedAt   string
	Remarks     string
	PosterURL   string
	Area        string
	Language    string
	Actor       string
	Director    string
	Description string
	Play        PlayData
}

// Search queries ?ac=list&wd= and returns the matching catalog entries.
// List responses carry no play data; use Detail for that.
func (c *Client) Search(ctx context.Context, query string) ([]*Video, error) {
	u := fmt.Sprintf("%s?ac=list&wd=%s", c.src.API, url.QueryEscape(query))
	result, err := c.fetchList(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("search %q on %s: %w", query, c.src.ID, err)
	}
	return result, nil
}

// Detail queries ?ac=detail&ids= for up to detailBatchLimit ids and
// returns the full entries including play data.
func (c *Client) Detail(ctx context.Context, ids []string) ([]*Video, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > detailBatchLimit {
		ids = ids[:detailBatchLimit]
	}
	u := fmt.Sprintf("%s?ac=detail&ids=%s", c.src.API, url.QueryEscape(strings.Join(ids, ",")))
	result, err := c.fetchList(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("detail %v on %s: %w", ids, c.src.ID, err)
	}
	return result, nil
}

// SearchDetailed searches, then enriches the results with a single batched
// detail fetch (poster, area, year, credits, description). Detail failures
// degrade to the bare search results rather than failing the search.
func (c *Client) SearchDetailed(ctx context.Context, query string) ([]*Video, error) {
	videos, err := c.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return videos, nil
	}

	ids := make([]string, 0, len(videos))
	for _, v := range videos {
		ids = append(ids, v.ID)
	}

	details, err := c.Detail(ctx, ids)
	if err != nil {
		return videos, nil
	}

	byID := make(map[string]*Video, len(details))
	for _, d := range details {
		byID[d.ID] = d
	}
	for _, v := range videos {
		d, ok := byID[v.ID]
		if !ok {
			continue
		}
		v.PosterURL = d.PosterURL
		v.Area = d.Area
		v.Language = d.Language
		v.Year = d.Year
		v.Actor = d.Actor
		v.Director = d.Director
		v.Description = d.Description
		v.Play = d.Play
		if v.Remarks == "" {
			v.Remarks = d.Remarks
		}
	}
	return videos, nil
}

func (c *Client) fetchList(ctx context.Context, u string) ([]*Video, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result listResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	videos := make([]*Video, 0, len(result.List))
	for i := range result.List {
		if v := toVideo(&result.List[i]); v != nil {
			videos = append(videos, v)
		}
	}
	return videos, nil
}

// toVideo converts a wire item to the domain Video. Items without an id
// are dropped.
func toVideo(item *vodItem) *Video {
	id := item.VodID.String()
	if id == "" {
		return nil
	}
	return &Video{
		ID:          id,
		Title:       item.VodName,
		Category:    item.TypeName,
		Year:        item.VodYear,
		UpdatedAt:   item.VodTime,
		Remarks:     item.VodRemarks,
		PosterURL:   item.VodPic,
		Area:        item.VodArea,
		Language:    item.VodLang,
		Actor:       item.VodActor,
		Director:    item.VodDirector,
		Description: item.VodContent,
		Play:        ClassifyPlayURL(item.VodPlayURL),
	}
}
