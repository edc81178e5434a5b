// Package schedule runs polling cycles over a set of feeds.
//
// A Schedule owns its feed records. Each cycle snapshots them, splits the snapshots into
// batches and hands the batches to a Strategy, which fetches and classifies every feed and
// writes outcomes to a channel. The Schedule drains that channel in a single goroutine, so
// seen-set updates and event delivery are serialized no matter how the strategy runs.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/synzen/feedtracker/pkg/domain"
	"github.com/synzen/feedtracker/pkg/metrics"
)

//go:generate moq -out mocks/fetcher.go -pkg mocks -skip-ensure -fmt goimports . Fetcher
//go:generate moq -out mocks/store.go -pkg mocks -skip-ensure -fmt goimports . SnapshotStore

// DefaultBatchSize is the number of feeds per batch when not configured
const DefaultBatchSize = 300

// Fetcher retrieves and parses a feed
type Fetcher interface {
	Fetch(ctx context.Context, sourceURI string, opts domain.FetchOptions) ([]domain.Entry, error)
}

// Transformer turns a raw entry into its public form
type Transformer interface {
	Transform(e domain.Entry, opts domain.FeedOptions) domain.Article
}

// SnapshotStore persists seen-sets after successful cycles
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, schedule, sourceURI string, entries []domain.Entry) error
	DeleteSnapshot(ctx context.Context, schedule, sourceURI string) error
}

// State is the cycle phase of a Schedule
type State int32

// cycle phases
const (
	StateIdle State = iota
	StateBatching
	StateDispatching
	StateMerging
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBatching:
		return "batching"
	case StateDispatching:
		return "dispatching"
	case StateMerging:
		return "merging"
	default:
		return "unknown"
	}
}

// EventKind tells article events from error events
type EventKind int

// event kinds
const (
	EventArticle EventKind = iota
	EventError
)

// Event is published for every new article and every per-feed error
type Event struct {
	Kind      EventKind
	Schedule  string
	SourceURI string
	FeedID    string
	Article   *domain.Article // EventArticle only
	Err       error           // EventError only
}

// CycleStats summarizes a finished cycle
type CycleStats struct {
	Batches  int           `json:"batches"`
	Feeds    int           `json:"feeds"`
	Articles int           `json:"articles"`
	Failures int           `json:"failures"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Params configures a Schedule
type Params struct {
	Name        string
	Interval    time.Duration
	BatchSize   int
	Strategy    Strategy
	Fetcher     Fetcher
	Transformer Transformer
	Store       SnapshotStore    // optional
	Now         func() time.Time // optional, for tests
}

// Schedule polls its feeds every Interval. Cycles never overlap.
type Schedule struct {
	name        string
	interval    time.Duration
	batchSize   int
	strategy    Strategy
	fetcher     Fetcher
	transformer Transformer
	store       SnapshotStore
	now         func() time.Time

	mu    sync.RWMutex
	feeds map[string]*Record

	subMu       sync.RWMutex
	subscribers []func(Event)

	running   atomic.Bool
	state     atomic.Int32
	lastMu    sync.Mutex
	lastCycle CycleStats
}

// New makes a Schedule. Interval must be positive, Fetcher and Transformer are required.
func New(p Params) (*Schedule, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("%w: schedule name is required", domain.ErrConfiguration)
	}
	if p.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive, got %v", domain.ErrConfiguration, p.Interval)
	}
	if p.Fetcher == nil || p.Transformer == nil {
		return nil, fmt.Errorf("%w: schedule %s needs a fetcher and a transformer", domain.ErrConfiguration, p.Name)
	}
	if p.BatchSize < 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", domain.ErrConfiguration, p.BatchSize)
	}
	if p.BatchSize == 0 {
		p.BatchSize = DefaultBatchSize
	}
	if p.Strategy == nil {
		p.Strategy = &Concurrent{}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Schedule{
		name:        p.Name,
		interval:    p.Interval,
		batchSize:   p.BatchSize,
		strategy:    p.Strategy,
		fetcher:     p.Fetcher,
		transformer: p.Transformer,
		store:       p.Store,
		now:         p.Now,
		feeds:       map[string]*Record{},
	}, nil
}

// Name returns the schedule name
func (s *Schedule) Name() string { return s.name }

// Interval returns the polling interval
func (s *Schedule) Interval() time.Duration { return s.interval }

// BatchSize returns the number of feeds per batch
func (s *Schedule) BatchSize() int { return s.batchSize }

// StrategyName returns the name of the execution strategy
func (s *Schedule) StrategyName() string { return s.strategy.Name() }

// State returns the current cycle phase
func (s *Schedule) State() State { return State(s.state.Load()) }

// LastCycle returns stats of the most recent finished cycle
func (s *Schedule) LastCycle() CycleStats {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastCycle
}

// Subscribe registers fn for all events of this schedule. Events are delivered
// sequentially from the cycle goroutine, a slow subscriber slows the cycle down.
func (s *Schedule) Subscribe(fn func(Event)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// AddFeed initializes the record if needed and adds it
func (s *Schedule) AddFeed(ctx context.Context, rec *Record) error {
	return s.AddFeeds(ctx, rec)
}

// AddFeeds initializes all records that need it and adds them. If any record fails
// to initialize none of them are added.
func (s *Schedule) AddFeeds(ctx context.Context, recs ...*Record) error {
	for _, rec := range recs {
		if rec == nil {
			return fmt.Errorf("%w: nil feed record", domain.ErrConfiguration)
		}
		if err := rec.Initialize(ctx, s.fetcher); err != nil {
			return fmt.Errorf("initialize feed %s: %w", rec.SourceURI(), err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.feeds[rec.ID()] = rec
	}
	lgr.Printf("[DEBUG] schedule %s: added %d feeds, total %d", s.name, len(recs), len(s.feeds))
	return nil
}

// RemoveFeed drops a record and its persisted seen-set, returns false if it wasn't there.
// A failed snapshot delete is logged, the record is removed anyway.
func (s *Schedule) RemoveFeed(ctx context.Context, id string) bool {
	s.mu.Lock()
	rec, ok := s.feeds[id]
	delete(s.feeds, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	if s.store != nil {
		if err := s.store.DeleteSnapshot(ctx, s.name, rec.SourceURI()); err != nil {
			lgr.Printf("[WARN] schedule %s: failed to delete snapshot of %s: %v", s.name, rec.SourceURI(), err)
		}
	}
	return true
}

// Feeds returns all records ordered by source
func (s *Schedule) Feeds() []*Record {
	s.mu.RLock()
	res := make([]*Record, 0, len(s.feeds))
	for _, rec := range s.feeds {
		res = append(res, rec)
	}
	s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].SourceURI() < res[j].SourceURI() })
	return res
}

func (s *Schedule) feed(id string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeds[id]
}

// Run performs one cycle over all feeds and blocks until every feed reached a terminal outcome.
// It returns domain.ErrCycleInProgress if a cycle of this schedule is already running.
// Per-feed failures are published as events and never returned.
func (s *Schedule) Run(ctx context.Context) (CycleStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return CycleStats{}, domain.ErrCycleInProgress
	}
	defer s.running.Store(false)
	defer s.state.Store(int32(StateIdle))

	stats := CycleStats{Started: time.Now()}
	s.state.Store(int32(StateBatching))
	batches := s.batches()
	stats.Batches = len(batches)
	for _, b := range batches {
		stats.Feeds += len(b)
	}
	if len(batches) == 0 {
		lgr.Printf("[DEBUG] schedule %s: no feeds, nothing to do", s.name)
		return stats, nil
	}

	lgr.Printf("[INFO] schedule %s: cycle started, %d feeds in %d batches (%s)", s.name, stats.Feeds, stats.Batches, s.strategy.Name())
	s.state.Store(int32(StateDispatching))
	outcomes := make(chan domain.Outcome, s.batchSize)
	go func() {
		defer close(outcomes)
		s.strategy.Dispatch(ctx, Job{Batches: batches, Fetcher: s.fetcher, Now: s.now}, outcomes)
	}()

	// merging starts with the first outcome and overlaps the rest of dispatching
	for o := range outcomes {
		s.state.CompareAndSwap(int32(StateDispatching), int32(StateMerging))
		s.merge(ctx, o, &stats)
	}

	stats.Duration = time.Since(stats.Started)
	s.lastMu.Lock()
	s.lastCycle = stats
	s.lastMu.Unlock()
	metrics.ObserveCycle(s.name, stats.Failures, stats.Duration)
	lgr.Printf("[INFO] schedule %s: cycle completed in %v, %d new articles, %d failures",
		s.name, stats.Duration.Round(time.Millisecond), stats.Articles, stats.Failures)
	return stats, nil
}

// batches snapshots every record and chunks the snapshots by batch size
func (s *Schedule) batches() [][]domain.FeedSnapshot {
	feeds := s.Feeds()
	res := make([][]domain.FeedSnapshot, 0, (len(feeds)+s.batchSize-1)/s.batchSize)
	for start := 0; start < len(feeds); start += s.batchSize {
		end := min(start+s.batchSize, len(feeds))
		batch := make([]domain.FeedSnapshot, 0, end-start)
		for _, rec := range feeds[start:end] {
			batch = append(batch, rec.Snapshot())
		}
		res = append(res, batch)
	}
	return res
}

// merge applies a single outcome, it is only called from the Run goroutine
func (s *Schedule) merge(ctx context.Context, o domain.Outcome, stats *CycleStats) {
	switch o.Kind {
	case domain.OutcomeNewEntry:
		rec := s.feed(o.FeedID)
		if rec == nil || o.Entry == nil {
			return
		}
		art := s.transformer.Transform(*o.Entry, rec.Options())
		stats.Articles++
		metrics.ObserveArticle(s.name)
		s.publish(Event{Kind: EventArticle, Schedule: s.name, SourceURI: o.SourceURI, FeedID: o.FeedID, Article: &art})

	case domain.OutcomeSuccess:
		rec := s.feed(o.FeedID)
		if rec == nil {
			lgr.Printf("[DEBUG] schedule %s: feed %s removed during cycle, result dropped", s.name, o.SourceURI)
			return
		}
		if prev := rec.seenCount(); len(o.SeenEntries) < prev {
			stats.Failures++
			err := fmt.Errorf("%w: seen-set of %s shrank from %d to %d", domain.ErrInvariantViolation, o.SourceURI, prev, len(o.SeenEntries))
			s.publish(Event{Kind: EventError, Schedule: s.name, SourceURI: o.SourceURI, FeedID: o.FeedID, Err: err})
			return
		}
		rec.applySuccess(o.SeenEntries)
		if s.store == nil {
			return
		}
		if err := s.store.SaveSnapshot(ctx, s.name, o.SourceURI, o.SeenEntries); err != nil {
			lgr.Printf("[WARN] schedule %s: failed to save snapshot for %s: %v", s.name, o.SourceURI, err)
			s.publish(Event{Kind: EventError, Schedule: s.name, SourceURI: o.SourceURI, FeedID: o.FeedID,
				Err: fmt.Errorf("save snapshot: %w", err)})
		}

	case domain.OutcomeFailure:
		stats.Failures++
		metrics.ObserveFeedError(s.name)
		lgr.Printf("[WARN] schedule %s: feed %s failed: %v", s.name, o.SourceURI, o.Err)
		s.publish(Event{Kind: EventError, Schedule: s.name, SourceURI: o.SourceURI, FeedID: o.FeedID, Err: o.Err})
	}
}

func (s *Schedule) publish(ev Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subscribers {
		fn(ev)
	}
}
