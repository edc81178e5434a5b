package domain

import "time"

// Article is the display-ready form of an Entry
type Article struct {
	ID          string    `json:"id"`
	GUID        string    `json:"guid,omitempty"`
	Title       string    `json:"title"`
	Link        string    `json:"link,omitempty"`
	Author      string    `json:"author,omitempty"`
	Description string    `json:"description,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Date        string    `json:"date,omitempty"`
	RawDate     time.Time `json:"rawDate,omitzero"`
	Tags        string    `json:"tags,omitempty"`
	Images      []string  `json:"images,omitempty"`

	// Placeholders maps placeholder names (title, description:image1, image:2, ...) to values
	Placeholders map[string]string `json:"placeholders,omitempty"`
	// RegexPlaceholders maps a placeholder name to the named results of its regex ops
	RegexPlaceholders map[string]map[string]string `json:"regexPlaceholders,omitempty"`
}

// Placeholder returns the value of a named placeholder or an empty string
func (a Article) Placeholder(name string) string {
	return a.Placeholders[name]
}
