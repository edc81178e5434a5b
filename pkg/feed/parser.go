package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater/v2"
	"github.com/mmcdole/gofeed"

	"github.com/synzen/feedtracker/pkg/domain"
)

// errPermanent marks failures retrying can't fix, like a broken document or a 404
var errPermanent = errors.New("permanent fetch failure")

var imageLinkRe = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|bmp|webp)$`)

const maxImages = 9

// Parser fetches RSS/Atom feeds over HTTP and converts them into entries
type Parser struct {
	client     *http.Client
	timeout    time.Duration
	userAgent  string
	retries    int
	retryDelay time.Duration
}

// ParserParams defines defaults applied when a feed doesn't override them
type ParserParams struct {
	Timeout    time.Duration
	UserAgent  string
	Retries    int
	RetryDelay time.Duration
}

// NewParser creates a new feed parser
func NewParser(params ParserParams) *Parser {
	if params.Timeout == 0 {
		params.Timeout = 20 * time.Second
	}
	if params.UserAgent == "" {
		params.UserAgent = "Mozilla/5.0 (compatible; feedtracker/1.0)"
	}
	if params.RetryDelay == 0 {
		params.RetryDelay = 500 * time.Millisecond
	}
	return &Parser{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout:    params.Timeout,
		userAgent:  params.UserAgent,
		retries:    params.Retries,
		retryDelay: params.RetryDelay,
	}
}

// Fetch retrieves and parses the feed at sourceURI. Entries keep the document order,
// newest first for most feeds. Any failure is returned as *domain.FetchError.
func (p *Parser) Fetch(ctx context.Context, sourceURI string, opts domain.FetchOptions) ([]domain.Entry, error) {
	retries := p.retries
	if opts.Retries > 0 {
		retries = opts.Retries
	}

	var parsed *gofeed.Feed
	retrier := repeater.NewBackoff(retries+1, p.retryDelay, repeater.WithMaxDelay(5*time.Second))
	err := retrier.Do(ctx, func() error {
		f, err := p.fetchOnce(ctx, sourceURI, opts)
		if err != nil {
			lgr.Printf("[DEBUG] fetch attempt for %s failed: %v", sourceURI, err)
			return err
		}
		parsed = f
		return nil
	}, errPermanent)
	if err != nil {
		return nil, &domain.FetchError{SourceURI: sourceURI, Err: err}
	}

	entries := make([]domain.Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		entries = append(entries, convertItem(item))
	}
	return entries, nil
}

func (p *Parser) fetchOnce(ctx context.Context, sourceURI string, opts domain.FetchOptions) (*gofeed.Feed, error) {
	timeout := p.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := p.get(ctx, sourceURI, opts)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	parsed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed: %w", errPermanent, err)
	}
	return parsed, nil
}

// get retrieves raw feed content, the caller closes the body
func (p *Parser) get(ctx context.Context, sourceURI string, opts domain.FetchOptions) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURI, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", errPermanent, err)
	}

	req.Header.Set("User-Agent", p.userAgent)
	addBrowserHeaders(req)
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch URL: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: unexpected status code: %d", errPermanent, resp.StatusCode)
	}

	return resp.Body, nil
}

// convertItem maps a gofeed item to an entry and freezes its identity
func convertItem(item *gofeed.Item) domain.Entry {
	entry := domain.Entry{
		GUID:        item.GUID,
		Title:       item.Title,
		Link:        item.Link,
		Description: item.Description,
		Content:     item.Content,
		Categories:  item.Categories,
	}

	if item.Author != nil {
		entry.Author = item.Author.Name
	} else if len(item.Authors) > 0 && item.Authors[0] != nil {
		entry.Author = item.Authors[0].Name
	}

	if item.ITunesExt != nil {
		entry.Summary = item.ITunesExt.Summary
	}

	switch {
	case item.PublishedParsed != nil:
		t := *item.PublishedParsed
		entry.Published = &t
	case item.UpdatedParsed != nil:
		t := *item.UpdatedParsed
		entry.Published = &t
	}

	entry.Images = findImages(item)

	if len(item.Custom) > 0 {
		entry.Fields = make(map[string]any, len(item.Custom))
		for k, v := range item.Custom {
			entry.Fields[k] = v
		}
	}

	entry.ID = IdentityOf(entry)
	return entry
}

// findImages collects image links from the item image, enclosures and media extensions
func findImages(item *gofeed.Item) []string {
	var res []string
	add := func(link string) {
		if len(res) >= maxImages || !imageLinkRe.MatchString(link) {
			return
		}
		if len(link) > 2 && link[:2] == "//" {
			link = "http:" + link
		}
		for _, existing := range res {
			if existing == link {
				return
			}
		}
		res = append(res, link)
	}

	if item.Image != nil {
		add(item.Image.URL)
	}
	for _, enc := range item.Enclosures {
		if enc != nil {
			add(enc.URL)
		}
	}
	for _, exts := range item.Extensions["media"] {
		for _, ext := range exts {
			add(ext.Attrs["url"])
			for _, children := range ext.Children {
				for _, child := range children {
					add(child.Attrs["url"])
				}
			}
		}
	}
	return res
}
