package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synzen/feedtracker/pkg/domain"
)

func TestGenerator_GenerateRSS(t *testing.T) {
	generator := NewGenerator("https://example.com")

	pubTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	articles := []domain.Article{
		{
			ID:          "guid1",
			GUID:        "guid1",
			Title:       "Test Article 1",
			Link:        "https://example.com/article1",
			Description: "This is test article 1",
			Author:      "John Doe",
			RawDate:     pubTime,
			Tags:        "AI\nTechnology",
		},
		{
			ID:      "Test Article 2",
			Title:   "Test Article 2",
			Link:    "https://example.com/article2",
			Summary: "Summary of article 2",
			Author:  "Jane Smith",
		},
	}

	t.Run("all schedules", func(t *testing.T) {
		rss, err := generator.GenerateRSS("", articles)
		require.NoError(t, err)

		assert.Contains(t, rss, `<?xml version="1.0" encoding="UTF-8"?>`)
		assert.Contains(t, rss, `<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">`)
		assert.Contains(t, rss, `<title>feedtracker - all schedules</title>`)
		assert.Contains(t, rss, `<link>https://example.com/</link>`)
		assert.Contains(t, rss, `<link xmlns="http://www.w3.org/2005/Atom" href="https://example.com/rss" rel="self" type="application/rss+xml"></link>`)

		assert.Contains(t, rss, `<title>Test Article 1</title>`)
		assert.Contains(t, rss, `<link>https://example.com/article1</link>`)
		assert.Contains(t, rss, `<guid>guid1</guid>`)
		assert.Contains(t, rss, `<author>John Doe</author>`)
		assert.Contains(t, rss, `<pubDate>Mon, 01 Jan 2024 12:00:00 +0000</pubDate>`)
		assert.Contains(t, rss, `<category>AI</category>`)
		assert.Contains(t, rss, `<category>Technology</category>`)

		assert.Contains(t, rss, `<guid>Test Article 2</guid>`, "identity is used when there is no guid")
		assert.Contains(t, rss, `<description>Summary of article 2</description>`)
	})

	t.Run("single schedule", func(t *testing.T) {
		rss, err := generator.GenerateRSS("hourly", articles)
		require.NoError(t, err)

		assert.Contains(t, rss, `<title>feedtracker - hourly</title>`)
		assert.Contains(t, rss, `href="https://example.com/rss/hourly"`)
	})

	t.Run("empty", func(t *testing.T) {
		rss, err := generator.GenerateRSS("", nil)
		require.NoError(t, err)

		assert.Contains(t, rss, `<channel>`)
		assert.NotContains(t, rss, `<item>`)
	})

	t.Run("trailing slash in base URL", func(t *testing.T) {
		gen := NewGenerator("https://example.com/")
		rss, err := gen.GenerateRSS("", articles[:1])
		require.NoError(t, err)

		assert.Contains(t, rss, `<link>https://example.com/</link>`)
		assert.Contains(t, rss, `href="https://example.com/rss"`)
		assert.NotContains(t, rss, `https://example.com//`)
	})
}

func TestGenerator_convertToRSSItem(t *testing.T) {
	generator := NewGenerator("https://example.com")

	item := generator.convertToRSSItem(domain.Article{
		ID:          "id1",
		Title:       "Test Article",
		Link:        "https://example.com/article",
		Description: "Article description",
		Summary:     "ignored when description is set",
	})

	assert.Equal(t, "Test Article", item.Title)
	assert.Equal(t, "id1", item.GUID)
	assert.Equal(t, "Article description", item.Description)
	assert.Empty(t, item.PubDate)
	assert.Empty(t, item.Categories)
}

func TestGenerator_GenerateOPML(t *testing.T) {
	generator := NewGenerator("https://example.com")

	opml, err := generator.GenerateOPML([]Subscription{
		{Schedule: "default", SourceURI: "https://technews.com/feed.xml"},
		{Schedule: "hourly", SourceURI: "https://sciencedaily.com/rss"},
		{Schedule: "default", SourceURI: "https://golang.org/feed.atom"},
	})
	require.NoError(t, err)

	assert.Contains(t, opml, `<?xml version="1.0" encoding="UTF-8"?>`)
	assert.Contains(t, opml, `<opml version="2.0">`)
	assert.Contains(t, opml, `<title>feedtracker subscriptions</title>`)
	assert.Contains(t, opml, `text="default" title="default"`)
	assert.Contains(t, opml, `text="hourly" title="hourly"`)
	assert.Contains(t, opml, `xmlUrl="https://technews.com/feed.xml"`)
	assert.Contains(t, opml, `type="rss"`)
	assert.Regexp(t, `(?s)text="default".*technews.com.*golang.org.*text="hourly".*sciencedaily`, opml)
}

func TestRSSXMLStructure(t *testing.T) {
	generator := NewGenerator("https://example.com")

	rss, err := generator.GenerateRSS("", []domain.Article{{
		ID:          "guid1",
		Title:       "Test & Article <with> Special Characters",
		Link:        "https://example.com/article",
		Author:      "Author & Co.",
		Description: "text with <html> tags",
		Tags:        "Tech & Science",
	}})
	require.NoError(t, err)

	assert.Contains(t, rss, "Test &amp; Article &lt;with&gt; Special Characters")
	assert.Contains(t, rss, "Author &amp; Co.")
	assert.Contains(t, rss, "text with &lt;html&gt; tags")
	assert.Contains(t, rss, "Tech &amp; Science")
	assert.Regexp(t, `(?s)<rss[^>]*>.*<channel>.*</channel>.*</rss>`, rss)
}
