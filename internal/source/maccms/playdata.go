package maccms

import (
	"encoding/json"
	"strings"
)

// PlayDataKind tags the shape of a source's raw play information.
type PlayDataKind int

const (
	// PlayDataNone means the entry carried no play information.
	PlayDataNone PlayDataKind = iota

	// PlayDataSingleStream is a bare stream URL.
	PlayDataSingleStream

	// PlayDataDelimited is the maccms $$$/#/$ encoded episode list.
	PlayDataDelimited

	// PlayDataStructured is a JSON array of {name, url} entries, used by
	// a handful of deployments instead of the delimited string.
	PlayDataStructured
)

// PlayData is the tagged raw play information of one catalog entry.
// Exactly one of the payload fields is meaningful, per Kind.
type PlayData struct {
	Kind      PlayDataKind
	Single    string
	Delimited string
	Entries   []PlayEntry
}

// PlayEntry is one structured episode reference.
type PlayEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ClassifyPlayURL inspects a raw vod_play_url value and tags its shape.
// The resolver dispatches on the tag instead of sniffing fields later.
func ClassifyPlayURL(raw string) PlayData {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PlayData{Kind: PlayDataNone}
	}

	if strings.HasPrefix(raw, "[") {
		var entries []PlayEntry
		if err := json.Unmarshal([]byte(raw), &entries); err == nil && len(entries) > 0 {
			return PlayData{Kind: PlayDataStructured, Entries: entries}
		}
	}

	if strings.ContainsAny(raw, "$#") {
		return PlayData{Kind: PlayDataDelimited, Delimited: raw}
	}

	return PlayData{Kind: PlayDataSingleStream, Single: raw}
}
