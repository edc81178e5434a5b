package domain

import "time"

// FetchOptions are passed through to the feed fetcher untouched
type FetchOptions struct {
	Headers   map[string]string `json:"headers,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	Timeout   time.Duration     `json:"timeout,omitempty"`
	Retries   int               `json:"retries,omitempty"`
}

// RegexOp describes one named regex transformation applied to a placeholder
type RegexOp struct {
	Name        string      `json:"name" yaml:"name"`
	Search      RegexSearch `json:"search" yaml:"search"`
	Replacement *string     `json:"replacement,omitempty" yaml:"replacement,omitempty"`
	Disabled    bool        `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// RegexSearch is the search part of a RegexOp. Match and Group select
// which match and which capture group are used, nil means "not set".
type RegexSearch struct {
	Regex string `json:"regex" yaml:"regex"`
	Flags string `json:"flags,omitempty" yaml:"flags,omitempty"`
	Match *int   `json:"match,omitempty" yaml:"match,omitempty"`
	Group *int   `json:"group,omitempty" yaml:"group,omitempty"`
}

// FeedOptions holds per-feed behaviour for novelty detection, fetching and article formatting
type FeedOptions struct {
	CheckTitles       bool     `json:"checkTitles,omitempty"`
	CheckDates        *bool    `json:"checkDates,omitempty"` // nil means enabled
	CustomComparisons []string `json:"customComparisons,omitempty"`

	Fetch FetchOptions `json:"fetch,omitempty"`

	Timezone            string               `json:"timezone,omitempty"`
	DateFormat          string               `json:"dateFormat,omitempty"`
	FormatTables        *bool                `json:"formatTables,omitempty"`
	ImageLinksExistence *bool                `json:"imageLinksExistence,omitempty"`
	RegexOps            map[string][]RegexOp `json:"regexOps,omitempty"`
	DisabledRegex       []string             `json:"disabledRegex,omitempty"`
}

// DateChecks reports whether entries older than a day are treated as seen
func (o FeedOptions) DateChecks() bool {
	return o.CheckDates == nil || *o.CheckDates
}

// FeedSnapshot is the serializable projection of a feed record handed to workers
type FeedSnapshot struct {
	ID          string      `json:"id"`
	SourceURI   string      `json:"sourceURI"`
	Options     FeedOptions `json:"options"`
	SeenEntries []Entry     `json:"seenEntries"`
}
