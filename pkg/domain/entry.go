package domain

import (
	"time"
)

// Entry is a single item of a feed as produced by the feed parser.
// ID is the identity resolved once at parse time and never recomputed.
type Entry struct {
	ID          string         `json:"id"`
	GUID        string         `json:"guid,omitempty"`
	Title       string         `json:"title,omitempty"`
	Link        string         `json:"link,omitempty"`
	Description string         `json:"description,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Content     string         `json:"content,omitempty"`
	Author      string         `json:"author,omitempty"`
	Categories  []string       `json:"categories,omitempty"`
	Images      []string       `json:"images,omitempty"`
	Published   *time.Time     `json:"published,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Field returns the value used by custom comparisons for the given field name.
// Well-known names map to the struct fields, everything else is looked up in Fields.
// The second value is false if the entry has no such field.
func (e Entry) Field(name string) (any, bool) {
	switch name {
	case "description":
		return e.Description, true
	case "summary":
		return e.Summary, true
	case "link":
		return e.Link, true
	case "author":
		return e.Author, true
	case "content":
		return e.Content, true
	}
	v, ok := e.Fields[name]
	return v, ok
}

// HasValidDate reports whether the entry carries a usable publication time
func (e Entry) HasValidDate() bool {
	return e.Published != nil && !e.Published.IsZero()
}
