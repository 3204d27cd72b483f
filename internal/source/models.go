// Package source defines the configured upstream VOD sources and the
// process-wide registry that holds them.
package source

// Source is a configured maccms V10 upstream API. Sources are immutable
// after registry load and are referenced by ID everywhere else.
type Source struct {
	// ID is the unique registry key for this source.
	ID string `json:"-"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// API is the search/detail endpoint base, e.g.
	// "https://example.com/api.php/provide/vod/". Search and detail
	// queries are appended as ?ac=list&wd= and ?ac=detail&ids=.
	API string `json:"api"`

	// Detail is the public detail-page base used for attribution.
	Detail string `json:"detail,omitempty"`

	// Priority is an optional static ordering hint. Lower values are
	// tried first among sources with equal health.
	Priority int `json:"priority,omitempty"`
}
