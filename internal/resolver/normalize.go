package resolver

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/vodgate/vodgate/internal/source/maccms"
)

// NormalizeEpisodes converts tagged raw play data into the canonical
// episode sequence, preserving source-native order. URLs are made
// absolute against the source endpoint but otherwise left untouched.
func NormalizeEpisodes(play maccms.PlayData, sourceAPI string) []Episode {
	switch play.Kind {
	case maccms.PlayDataSingleStream:
		if u := absolutize(play.Single, sourceAPI); u != "" {
			return []Episode{{Index: 0, Title: "Episode 1", StreamURL: u}}
		}
		return nil

	case maccms.PlayDataDelimited:
		return normalizeDelimited(play.Delimited, sourceAPI)

	case maccms.PlayDataStructured:
		episodes := make([]Episode, 0, len(play.Entries))
		for _, e := range play.Entries {
			u := absolutize(e.URL, sourceAPI)
			if u == "" {
				continue
			}
			title := strings.TrimSpace(e.Name)
			if title == "" {
				title = fmt.Sprintf("Episode %d", len(episodes)+1)
			}
			episodes = append(episodes, Episode{
				Index:     len(episodes),
				Title:     title,
				StreamURL: u,
			})
		}
		return episodes

	default:
		return nil
	}
}

// normalizeDelimited parses the maccms play-url encoding: play groups
// separated by $$$, episodes within a group by #, and each episode as
// name$url. The group carrying .m3u8 streams wins; groups pointing at
// web pages or downloaders are skipped.
func normalizeDelimited(raw, sourceAPI string) []Episode {
	groups := strings.Split(raw, "$$$")
	group := ""
	for _, g := range groups {
		if strings.Contains(g, ".m3u8") {
			group = g
			break
		}
	}
	if group == "" {
		group = raw
	}

	var episodes []Episode
	for _, entry := range strings.Split(group, "#") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		title, rawURL := "", entry
		if idx := strings.Index(entry, "$"); idx >= 0 {
			title = strings.TrimSpace(entry[:idx])
			rawURL = strings.TrimSpace(entry[idx+1:])
		}

		u := absolutize(rawURL, sourceAPI)
		if u == "" {
			continue
		}
		if title == "" {
			title = fmt.Sprintf("Episode %d", len(episodes)+1)
		}
		episodes = append(episodes, Episode{
			Index:     len(episodes),
			Title:     title,
			StreamURL: u,
		})
	}
	return episodes
}

// absolutize returns the entry URL as an absolute http(s) URL, resolving
// relative references against the source endpoint. Anything that is not
// a URL (downloader links, placeholders) yields "".
func absolutize(raw, sourceAPI string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return ""
		}
		return raw
	}

	base, err := url.Parse(sourceAPI)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
