package feed

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/synzen/feedtracker/pkg/domain"
)

// Generator re-publishes emitted articles as RSS and exports subscriptions as OPML
type Generator struct {
	baseURL string
	now     func() time.Time
}

// NewGenerator creates a new feed generator
func NewGenerator(baseURL string) *Generator {
	return &Generator{
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// GenerateRSS creates an RSS 2.0 feed of the articles emitted by a schedule, in the given order
func (g *Generator) GenerateRSS(schedule string, articles []domain.Article) (string, error) {
	title := "feedtracker - all schedules"
	selfLink := g.baseURL + "/rss"
	if schedule != "" {
		title = "feedtracker - " + schedule
		selfLink = fmt.Sprintf("%s/rss/%s", g.baseURL, schedule)
	}

	rssItems := make([]*RSSItem, 0, len(articles))
	for _, a := range articles {
		rssItems = append(rssItems, g.convertToRSSItem(a))
	}

	feed := &RSS{
		Version: "2.0",
		Atom:    "http://www.w3.org/2005/Atom",
		Channel: &RSSChannel{
			Title:         title,
			Link:          g.baseURL + "/",
			Description:   "New entries detected by feedtracker",
			AtomLink:      &AtomLink{Href: selfLink, Rel: "self", Type: "application/rss+xml"},
			LastBuildDate: g.now().Format(time.RFC1123Z),
			Items:         rssItems,
		},
	}

	output, err := xml.MarshalIndent(feed, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal RSS: %w", err)
	}

	return xml.Header + string(output), nil
}

func (g *Generator) convertToRSSItem(a domain.Article) *RSSItem {
	desc := a.Description
	if desc == "" {
		desc = a.Summary
	}

	guid := a.GUID
	if guid == "" {
		guid = a.ID
	}

	item := &RSSItem{
		Title:       a.Title,
		Link:        a.Link,
		GUID:        guid,
		Description: desc,
		Author:      a.Author,
	}
	if !a.RawDate.IsZero() {
		item.PubDate = a.RawDate.Format(time.RFC1123Z)
	}
	if a.Tags != "" {
		item.Categories = strings.Split(a.Tags, "\n")
	}
	return item
}

// Subscription is a polled feed exported to OPML
type Subscription struct {
	Schedule  string
	SourceURI string
}

// GenerateOPML creates an OPML file with feed subscriptions grouped by schedule
func (g *Generator) GenerateOPML(subs []Subscription) (string, error) {
	type outline struct {
		XMLName  xml.Name  `xml:"outline"`
		Text     string    `xml:"text,attr"`
		Title    string    `xml:"title,attr,omitempty"`
		Type     string    `xml:"type,attr,omitempty"`
		XMLUrl   string    `xml:"xmlUrl,attr,omitempty"`
		Outlines []outline `xml:"outline"`
	}

	type body struct {
		XMLName  xml.Name  `xml:"body"`
		Outlines []outline `xml:"outline"`
	}

	type head struct {
		XMLName     xml.Name `xml:"head"`
		Title       string   `xml:"title"`
		DateCreated string   `xml:"dateCreated"`
	}

	type opml struct {
		XMLName xml.Name `xml:"opml"`
		Version string   `xml:"version,attr"`
		Head    head     `xml:"head"`
		Body    body     `xml:"body"`
	}

	// one folder outline per schedule, in order of first appearance
	groups := []outline{}
	index := map[string]int{}
	for _, s := range subs {
		idx, ok := index[s.Schedule]
		if !ok {
			idx = len(groups)
			index[s.Schedule] = idx
			groups = append(groups, outline{Text: s.Schedule, Title: s.Schedule})
		}
		groups[idx].Outlines = append(groups[idx].Outlines, outline{
			Text:   s.SourceURI,
			Type:   "rss",
			XMLUrl: s.SourceURI,
		})
	}

	doc := opml{
		Version: "2.0",
		Head: head{
			Title:       "feedtracker subscriptions",
			DateCreated: g.now().Format(time.RFC1123Z),
		},
		Body: body{Outlines: groups},
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal OPML: %w", err)
	}

	return xml.Header + string(output), nil
}
