package feed

import (
	"math/rand"
	"net/http"
	"strings"
)

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"en-US,en;q=0.9,de;q=0.8",
	"en-US,en;q=0.9,fr;q=0.8",
}

// addBrowserHeaders makes feed requests look like a regular reader.
// Some hosts (tumblr) only serve full feeds to crawlers, so they get a bot UA instead.
func addBrowserHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/rss+xml,application/atom+xml,application/xml;q=0.9,text/xml;q=0.8,*/*;q=0.5")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept-Language", acceptLanguages[rand.Intn(len(acceptLanguages))]) //nolint:gosec // not security sensitive

	if strings.HasSuffix(req.URL.Hostname(), ".tumblr.com") {
		req.Header.Set("User-Agent", "Mozilla/5.0 GoogleBot (Macintosh; Intel Mac OS X 10_8_5) AppleWebKit/537.36 (KHTML, like Gecko)")
	}
}
