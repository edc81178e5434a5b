package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/synzen/feedtracker/pkg/domain"
	"github.com/synzen/feedtracker/pkg/repository"
)

const maxArticlesLimit = 500

var errArticlesDisabled = errors.New("article log is disabled")

// statusHandler returns server status with every schedule
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":    "ok",
		"version":   s.version,
		"time":      time.Now().UTC(),
		"schedules": s.coordinator.Status(),
	}
	renderJSON(w, r, http.StatusOK, status)
}

// articlesHandler lists recently emitted articles, newest first
func (s *Server) articlesHandler(w http.ResponseWriter, r *http.Request) {
	if s.articles == nil {
		renderError(w, r, errArticlesDisabled, http.StatusServiceUnavailable)
		return
	}

	filter, err := articleFilter(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	articles, err := s.articles.Recent(r.Context(), filter)
	if err != nil {
		lgr.Printf("[ERROR] failed to get articles: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	if articles == nil {
		articles = []repository.StoredArticle{}
	}
	renderJSON(w, r, http.StatusOK, articles)
}

// runScheduleHandler runs one cycle of a schedule and returns its stats
func (s *Server) runScheduleHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	// the cycle outlives a disconnected client, fetches and workers have their own deadlines
	stats, err := s.coordinator.RunNow(context.WithoutCancel(r.Context()), name)
	switch {
	case errors.Is(err, domain.ErrCycleInProgress):
		renderError(w, r, err, http.StatusConflict)
		return
	case errors.Is(err, domain.ErrConfiguration):
		renderError(w, r, err, http.StatusNotFound)
		return
	case err != nil:
		lgr.Printf("[WARN] manual run of %s failed: %v", name, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	lgr.Printf("[INFO] manual run of %s done, %d articles, %d failures", name, stats.Articles, stats.Failures)
	renderJSON(w, r, http.StatusOK, stats)
}

func articleFilter(r *http.Request) (repository.ArticleFilter, error) {
	q := r.URL.Query()
	filter := repository.ArticleFilter{
		Schedule:  q.Get("schedule"),
		SourceURI: q.Get("source"),
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("invalid limit %q", limitStr)
		}
		filter.Limit = min(limit, maxArticlesLimit)
	}
	return filter, nil
}

// renderJSON sends JSON response
func renderJSON(w http.ResponseWriter, _ *http.Request, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			lgr.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// renderError sends error response as JSON
func renderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	renderJSON(w, r, code, map[string]string{"error": errMsg})
}
