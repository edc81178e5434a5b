package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/synzen/feedtracker/pkg/feed"
	"github.com/synzen/feedtracker/pkg/fleet"
	"github.com/synzen/feedtracker/pkg/metrics"
	"github.com/synzen/feedtracker/pkg/repository"
	"github.com/synzen/feedtracker/pkg/schedule"
)

//go:generate moq -out mocks/config.go -pkg mocks -skip-ensure -fmt goimports . ConfigProvider
//go:generate moq -out mocks/coordinator.go -pkg mocks -skip-ensure -fmt goimports . Coordinator
//go:generate moq -out mocks/articles.go -pkg mocks -skip-ensure -fmt goimports . ArticleStore

// Server represents HTTP server instance
type Server struct {
	config      ConfigProvider
	coordinator Coordinator
	articles    ArticleStore
	generator   *feed.Generator
	version     string
	debug       bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// Coordinator exposes the schedules to the API
type Coordinator interface {
	Status() []fleet.ScheduleStatus
	Schedules() []*schedule.Schedule
	RunNow(ctx context.Context, name string) (schedule.CycleStats, error)
}

// ArticleStore reads the log of emitted articles
type ArticleStore interface {
	Recent(ctx context.Context, filter repository.ArticleFilter) ([]repository.StoredArticle, error)
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
}

// Params bundles server dependencies. Articles may be nil when the database is disabled.
type Params struct {
	Config      ConfigProvider
	Coordinator Coordinator
	Articles    ArticleStore
	BaseURL     string
	Version     string
	Debug       bool
}

// New initializes a new server instance
func New(p Params) *Server {
	s := &Server{
		config:      p.Config,
		coordinator: p.Coordinator,
		articles:    p.Articles,
		generator:   feed.NewGenerator(p.BaseURL),
		version:     p.Version,
		debug:       p.Debug,
		router:      routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	lgr.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:              listen,
		Handler:           s.router,
		ReadHeaderTimeout: timeout,
		ReadTimeout:       timeout,
		// manual cycles can outlast the read timeout
		WriteTimeout: 0,
	}
	srv := s.httpServer
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		lgr.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			lgr.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// Handler returns the root handler, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("feedtracker", "synzen", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(metrics.Middleware)
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /status", s.statusHandler)
		r.HandleFunc("GET /articles", s.articlesHandler)
		r.HandleFunc("POST /schedules/{name}/run", s.runScheduleHandler)
	})

	s.router.HandleFunc("GET /rss", s.rssHandler)
	s.router.HandleFunc("GET /rss/{schedule}", s.rssHandler)
	s.router.HandleFunc("GET /opml", s.opmlHandler)
	s.router.Handle("GET /metrics", metrics.Handler())
}
