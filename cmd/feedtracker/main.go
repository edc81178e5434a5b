package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"github.com/synzen/feedtracker/pkg/article"
	"github.com/synzen/feedtracker/pkg/config"
	"github.com/synzen/feedtracker/pkg/domain"
	"github.com/synzen/feedtracker/pkg/feed"
	"github.com/synzen/feedtracker/pkg/fleet"
	"github.com/synzen/feedtracker/pkg/metrics"
	"github.com/synzen/feedtracker/pkg/repository"
	"github.com/synzen/feedtracker/pkg/schedule"
	"github.com/synzen/feedtracker/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"feedtracker.yml" description:"configuration file"`
	Listen string `short:"l" long:"listen" env:"LISTEN" description:"listen address, overrides server.listen"`
	Worker bool   `long:"worker" hidden:"true" description:"run as a batch worker on stdin/stdout"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

// records are initialized with this many concurrent fetches at startup
const initConcurrency = 10

const pruneInterval = time.Hour

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	setupLog(opts.Debug, opts.NoColor || opts.Worker, opts.Worker)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		lgr.Print("[INFO] termination signal received")
		cancel()
	}()

	if opts.Worker {
		err := runWorker(ctx, opts, os.Stdin, os.Stdout)
		cancel()
		if err != nil {
			lgr.Printf("[ERROR] worker failed: %v", err)
			os.Exit(1)
		}
		return
	}

	lgr.Printf("[INFO] starting feedtracker version %s", revision)
	err := run(ctx, opts)
	cancel()

	if err != nil {
		lgr.Printf("[ERROR] feedtracker failed: %v", err)
		os.Exit(1)
	}

	lgr.Print("[INFO] shutdown complete")
}

// runWorker processes a single batch sent by the isolated strategy of the parent process
func runWorker(ctx context.Context, opts Opts, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return schedule.RunWorker(ctx, in, out, newParser(cfg), time.Now)
}

func run(ctx context.Context, opts Opts) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}

	var repos *repository.Repositories
	if !cfg.Database.Disabled {
		repos, err = repository.NewRepositories(ctx, repository.Config{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer repos.Close()
	}

	coord, err := buildCoordinator(ctx, cfg, opts, repos)
	if err != nil {
		return err
	}

	metrics.Init()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumeEvents(ctx, coord.Events(), repos)
	}()
	if repos != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneArticles(ctx, repos.Article, cfg.Database.ArticleRetention)
		}()
	}

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("failed to start schedules: %w", err)
	}
	lgr.Printf("[INFO] tracking %d feeds on %d schedules", len(cfg.Feeds), len(coord.Schedules()))

	if cfg.Server.Disabled {
		<-ctx.Done()
	} else {
		params := server.Params{
			Config:      cfg,
			Coordinator: coord,
			BaseURL:     cfg.Server.BaseURL,
			Version:     revision,
			Debug:       opts.Debug,
		}
		if repos != nil {
			params.Articles = repos.Article
		}
		if err := server.New(params).Run(ctx); err != nil {
			coord.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	coord.Stop()
	wg.Wait()
	return nil
}

// buildCoordinator makes the coordinator with every configured schedule and feed
func buildCoordinator(ctx context.Context, cfg *config.Config, opts Opts, repos *repository.Repositories) (*fleet.Coordinator, error) {
	parser := newParser(cfg)
	transformer := article.NewTransformer(article.Defaults{
		Timezone:            cfg.Article.Timezone,
		DateFormat:          cfg.Article.DateFormat,
		FormatTables:        cfg.Article.FormatTables,
		ImageLinksExistence: cfg.Article.ImageLinks(),
	})

	defStrategy, err := makeStrategy(cfg.DefaultSchedule, opts)
	if err != nil {
		return nil, err
	}
	fleetOpts := fleet.Options{
		DefaultInterval:  cfg.DefaultSchedule.Interval,
		DefaultStrategy:  defStrategy,
		DefaultBatchSize: cfg.DefaultSchedule.BatchSize,
		Fetcher:          parser,
		Transformer:      transformer,
		RunOnStart:       true,
	}
	if repos != nil {
		fleetOpts.Store = repos.Snapshot
	}
	coord, err := fleet.New(fleetOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to make coordinator: %w", err)
	}

	for _, sc := range cfg.Schedules {
		strategy, err := makeStrategy(sc, opts)
		if err != nil {
			return nil, err
		}
		s, err := coord.NewSchedule(sc.Name, sc.Interval, strategy, sc.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to make schedule %s: %w", sc.Name, err)
		}
		if err := coord.AddSchedule(s); err != nil {
			return nil, fmt.Errorf("failed to add schedule %s: %w", sc.Name, err)
		}
	}

	if repos != nil {
		if err := pruneSnapshots(ctx, repos.Snapshot, cfg.Feeds); err != nil {
			return nil, err
		}
	}
	recs, err := loadRecords(ctx, cfg.Feeds, parser, repos)
	if err != nil {
		return nil, err
	}
	for i, rec := range recs {
		if rec == nil {
			continue
		}
		if err := coord.AddFeeds(ctx, cfg.Feeds[i].ScheduleName(), rec); err != nil {
			return nil, fmt.Errorf("failed to add feed %s: %w", rec.SourceURI(), err)
		}
	}
	return coord, nil
}

// loadRecords makes a record per configured feed. Seen-sets are restored from the snapshot store
// when present, otherwise fetched. Feeds that can't be fetched are skipped with a warning
// and left as nil in the result.
func loadRecords(ctx context.Context, feeds []config.FeedConfig, fetcher schedule.Fetcher, repos *repository.Repositories) ([]*schedule.Record, error) {
	recs := make([]*schedule.Record, len(feeds))
	for i, fc := range feeds {
		rec, err := schedule.NewRecord(fc.URL, fc.Options())
		if err != nil {
			return nil, fmt.Errorf("feed %q: %w", fc.URL, err)
		}
		if repos != nil {
			entries, found, err := repos.Snapshot.LoadSnapshot(ctx, fc.ScheduleName(), fc.URL)
			if err != nil {
				return nil, fmt.Errorf("failed to load snapshot of %s: %w", fc.URL, err)
			}
			if found {
				rec.Restore(entries)
				lgr.Printf("[DEBUG] restored %d seen entries of %s", len(entries), fc.URL)
			}
		}
		recs[i] = rec
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(initConcurrency)
	for i, rec := range recs {
		if rec.Initialized() {
			continue
		}
		g.Go(func() error {
			if err := rec.Initialize(gctx, fetcher); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				lgr.Printf("[WARN] skipping feed %s: %v", rec.SourceURI(), err)
				recs[i] = nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to initialize feeds: %w", err)
	}
	return recs, nil
}

// snapshotPruner lists and removes persisted seen-sets
type snapshotPruner interface {
	ListSnapshots(ctx context.Context, schedule string) ([]repository.SnapshotInfo, error)
	DeleteSnapshot(ctx context.Context, schedule, sourceURI string) error
}

// pruneSnapshots deletes stored seen-sets of feeds which are not configured on their schedule anymore,
// so a feed added back later starts fresh
func pruneSnapshots(ctx context.Context, store snapshotPruner, feeds []config.FeedConfig) error {
	type key struct{ schedule, uri string }
	configured := make(map[key]bool, len(feeds))
	for _, fc := range feeds {
		configured[key{fc.ScheduleName(), fc.URL}] = true
	}

	stored, err := store.ListSnapshots(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}
	removed := 0
	for _, snap := range stored {
		if configured[key{snap.Schedule, snap.SourceURI}] {
			continue
		}
		if err := store.DeleteSnapshot(ctx, snap.Schedule, snap.SourceURI); err != nil {
			return fmt.Errorf("failed to delete stale snapshot: %w", err)
		}
		removed++
		lgr.Printf("[DEBUG] removed snapshot of %s/%s, feed is no longer configured", snap.Schedule, snap.SourceURI)
	}
	if removed > 0 {
		lgr.Printf("[INFO] removed %d stale snapshots", removed)
	}
	return nil
}

func makeStrategy(sc config.ScheduleConfig, opts Opts) (schedule.Strategy, error) {
	switch sc.Strategy {
	case config.StrategyIsolated:
		cfgPath, err := filepath.Abs(opts.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		args := []string{"--worker", "--config", cfgPath}
		if opts.Debug {
			args = append(args, "--dbg")
		}
		s, err := schedule.NewIsolated(sc.Concurrency, sc.PerFeedTimeout, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to make isolated strategy for %s: %w", sc.Name, err)
		}
		return s, nil
	default:
		return &schedule.Concurrent{MaxConcurrent: sc.MaxConcurrent}, nil
	}
}

func newParser(cfg *config.Config) *feed.Parser {
	return feed.NewParser(feed.ParserParams{
		Timeout:    cfg.Fetch.Timeout,
		UserAgent:  cfg.Fetch.UserAgent,
		Retries:    cfg.Fetch.Retries,
		RetryDelay: cfg.Fetch.RetryDelay,
	})
}

// articleSaver persists emitted articles
type articleSaver interface {
	SaveArticle(ctx context.Context, schedule, sourceURI string, a domain.Article) error
}

// consumeEvents drains the coordinator stream until it is closed or ctx is done
func consumeEvents(ctx context.Context, events <-chan schedule.Event, repos *repository.Repositories) {
	var saver articleSaver
	if repos != nil {
		saver = repos.Article
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			handleEvent(ctx, ev, saver)
		}
	}
}

func handleEvent(ctx context.Context, ev schedule.Event, saver articleSaver) {
	switch ev.Kind {
	case schedule.EventArticle:
		lgr.Printf("[INFO] new article %q from %s (%s)", ev.Article.Title, ev.SourceURI, ev.Schedule)
		if saver == nil {
			return
		}
		if err := saver.SaveArticle(ctx, ev.Schedule, ev.SourceURI, *ev.Article); err != nil {
			lgr.Printf("[WARN] failed to save article %s from %s: %v", ev.Article.ID, ev.SourceURI, err)
		}
	case schedule.EventError:
		lgr.Printf("[WARN] %s, feed %s: %v", ev.Schedule, ev.SourceURI, ev.Err)
	}
}

func pruneArticles(ctx context.Context, repo *repository.ArticleRepository, retention time.Duration) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := repo.Prune(ctx, retention)
			if err != nil {
				lgr.Printf("[WARN] failed to prune articles: %v", err)
				continue
			}
			if removed > 0 {
				lgr.Printf("[DEBUG] pruned %d articles older than %v", removed, retention)
			}
		}
	}
}

// setupLog configures lgr. Workers log to stderr since stdout carries the batch protocol.
func setupLog(dbg, noColor, worker bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}
	if worker {
		logOpts = append(logOpts, lgr.Out(os.Stderr), lgr.Err(os.Stderr))
	}

	if !noColor {
		colorizer := lgr.Mapper{
			ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
			CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
			TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
		}
		logOpts = append(logOpts, lgr.Map(colorizer))
	}
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
