package server

import (
	"net/http"

	"github.com/go-pkgz/lgr"

	"github.com/synzen/feedtracker/pkg/domain"
	"github.com/synzen/feedtracker/pkg/feed"
	"github.com/synzen/feedtracker/pkg/repository"
)

const defaultRSSLimit = 100

// rssHandler serves emitted articles as RSS.
// Supports both /rss/{schedule} and /rss?schedule=... patterns
func (s *Server) rssHandler(w http.ResponseWriter, r *http.Request) {
	if s.articles == nil {
		http.Error(w, errArticlesDisabled.Error(), http.StatusServiceUnavailable)
		return
	}

	name := r.PathValue("schedule")
	if name == "" {
		name = r.URL.Query().Get("schedule")
	}

	stored, err := s.articles.Recent(r.Context(), repository.ArticleFilter{Schedule: name, Limit: defaultRSSLimit})
	if err != nil {
		lgr.Printf("[ERROR] failed to get articles for RSS: %v", err)
		http.Error(w, "Failed to generate RSS feed", http.StatusInternalServerError)
		return
	}

	articles := make([]domain.Article, 0, len(stored))
	for _, a := range stored {
		articles = append(articles, a.Article)
	}

	rss, err := s.generator.GenerateRSS(name, articles)
	if err != nil {
		lgr.Printf("[ERROR] failed to generate RSS feed: %v", err)
		http.Error(w, "Failed to generate RSS feed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	if _, err := w.Write([]byte(rss)); err != nil {
		lgr.Printf("[ERROR] failed to write RSS response: %v", err)
	}
}

// opmlHandler exports every polled feed grouped by schedule
func (s *Server) opmlHandler(w http.ResponseWriter, _ *http.Request) {
	var subs []feed.Subscription
	for _, sched := range s.coordinator.Schedules() {
		for _, rec := range sched.Feeds() {
			subs = append(subs, feed.Subscription{Schedule: sched.Name(), SourceURI: rec.SourceURI()})
		}
	}

	opml, err := s.generator.GenerateOPML(subs)
	if err != nil {
		lgr.Printf("[ERROR] failed to generate OPML: %v", err)
		http.Error(w, "Failed to generate OPML", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/x-opml; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="feedtracker.opml"`)
	if _, err := w.Write([]byte(opml)); err != nil {
		lgr.Printf("[ERROR] failed to write OPML response: %v", err)
	}
}
