// Package article turns feed entries into display-ready articles: markup is converted to text,
// image and anchor links are pulled out into numbered placeholders, dates are formatted in the
// feed's timezone and optional regex operations produce custom placeholders.
package article

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // timezones for feeds must not depend on the host

	"github.com/go-pkgz/lgr"

	"github.com/synzen/feedtracker/pkg/domain"
)

// DefaultDateFormat is used when neither the feed nor the defaults define a format
const DefaultDateFormat = "Mon, 2 January 2006, 3:04 PM MST"

const (
	maxImages  = 9
	maxAnchors = 5
)

// basePlaceholders are always available for regex ops
var basePlaceholders = []string{"title", "author", "summary", "description", "guid", "date"}

// Defaults are used for options a feed leaves unset
type Defaults struct {
	Timezone            string
	DateFormat          string
	FormatTables        bool
	ImageLinksExistence bool
}

// Transformer converts entries to articles. It is safe for concurrent use.
type Transformer struct {
	defaults Defaults
	location *time.Location
}

// NewTransformer makes a transformer with the given defaults
func NewTransformer(defaults Defaults) *Transformer {
	if defaults.DateFormat == "" {
		defaults.DateFormat = DefaultDateFormat
	}
	loc, err := time.LoadLocation(defaults.Timezone)
	if err != nil {
		lgr.Printf("[WARN] unknown default timezone %q, using UTC", defaults.Timezone)
		loc = time.UTC
	}
	return &Transformer{defaults: defaults, location: loc}
}

// Transform builds the public article for an entry using the feed's formatting options
func (t *Transformer) Transform(e domain.Entry, opts domain.FeedOptions) domain.Article {
	cfg := cleanupConfig{
		formatTables: boolOr(opts.FormatTables, t.defaults.FormatTables),
		imageLinks:   boolOr(opts.ImageLinksExistence, t.defaults.ImageLinksExistence),
	}

	a := domain.Article{
		ID:           e.ID,
		GUID:         e.GUID,
		Link:         normalizeLink(e.Link),
		Placeholders: map[string]string{},
		Images:       e.Images,
	}
	regexNames := []string{}
	if opts.RegexOps != nil {
		regexNames = append(regexNames, basePlaceholders...)
	}

	a.Author, _, _ = cleanup(e.Author, cfg)

	var images, anchors []string
	a.Title, images, anchors = cleanup(e.Title, cfg)
	regexNames = append(regexNames, addNumbered(a.Placeholders, "title:image", images)...)
	regexNames = append(regexNames, addNumbered(a.Placeholders, "title:anchor", anchors)...)

	a.Description, images, anchors = cleanup(e.Description, cfg)
	regexNames = append(regexNames, addNumbered(a.Placeholders, "description:image", images)...)
	regexNames = append(regexNames, addNumbered(a.Placeholders, "description:anchor", anchors)...)

	a.Summary, images, anchors = cleanup(e.Summary, cfg)
	regexNames = append(regexNames, addNumbered(a.Placeholders, "summary:image", images)...)
	regexNames = append(regexNames, addNumbered(a.Placeholders, "summary:anchor", anchors)...)

	regexNames = append(regexNames, addNumbered(a.Placeholders, "image:", e.Images)...)

	if e.HasValidDate() {
		a.RawDate = *e.Published
		a.Date = t.formatDate(*e.Published, opts)
	}

	if len(e.Categories) > 0 {
		tags := make([]string, 0, len(e.Categories))
		for _, c := range e.Categories {
			tags = append(tags, strings.TrimSpace(c))
		}
		a.Tags = strings.Join(tags, "\n")
	}

	a.Placeholders["title"] = a.Title
	a.Placeholders["author"] = a.Author
	a.Placeholders["summary"] = a.Summary
	a.Placeholders["description"] = a.Description
	a.Placeholders["guid"] = a.GUID
	a.Placeholders["date"] = a.Date
	a.Placeholders["link"] = a.Link
	a.Placeholders["tags"] = a.Tags

	if opts.RegexOps != nil {
		a.RegexPlaceholders = evalRegexOps(opts, regexNames, a.Placeholders)
	}
	return a
}

func (t *Transformer) formatDate(ts time.Time, opts domain.FeedOptions) string {
	loc := t.location
	if opts.Timezone != "" {
		if l, err := time.LoadLocation(opts.Timezone); err == nil {
			loc = l
		} else {
			lgr.Printf("[DEBUG] unknown feed timezone %q, using default", opts.Timezone)
		}
	}
	layout := t.defaults.DateFormat
	if opts.DateFormat != "" {
		layout = opts.DateFormat
	}
	return ts.In(loc).Format(layout)
}

// addNumbered stores values as name1, name2... and returns the generated names
func addNumbered(dst map[string]string, prefix string, values []string) []string {
	names := make([]string, 0, len(values))
	for i, v := range values {
		name := fmt.Sprintf("%s%d", prefix, i+1)
		dst[name] = v
		names = append(names, name)
	}
	return names
}

// normalizeLink drops anything after the first space and expands reddit-relative links
func normalizeLink(link string) string {
	link = strings.TrimSpace(link)
	if idx := strings.IndexAny(link, " \t\n"); idx >= 0 {
		link = link[:idx]
	}
	if strings.HasPrefix(link, "/r/") {
		link = "https://www.reddit.com" + link
	}
	return link
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
