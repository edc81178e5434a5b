// Package fleet runs a set of named schedules on their own timers and merges their events
// into a single stream.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/synzen/feedtracker/pkg/domain"
	"github.com/synzen/feedtracker/pkg/schedule"
)

// DefaultScheduleName is reserved for the coordinator's own schedule
const DefaultScheduleName = "default"

const defaultEventBuffer = 100

// Options configures a Coordinator. The default schedule is created only if DefaultInterval is set.
type Options struct {
	DefaultInterval  time.Duration
	DefaultStrategy  schedule.Strategy
	DefaultBatchSize int
	Fetcher          schedule.Fetcher
	Transformer      schedule.Transformer
	Store            schedule.SnapshotStore
	EventBuffer      int
	RunOnStart       bool // run every schedule once right after Start
}

// Coordinator owns schedules and drives them. Consumers must drain Events, delivery is
// blocking and a full stream holds back cycles until the coordinator is stopped.
type Coordinator struct {
	opts      Options
	mu        sync.RWMutex
	schedules map[string]*schedule.Schedule

	events   chan schedule.Event
	stopped  chan struct{}
	stopOnce sync.Once

	runMu   sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// ScheduleStatus is a point-in-time view of a schedule
type ScheduleStatus struct {
	Name      string              `json:"name"`
	Interval  string              `json:"interval"`
	Strategy  string              `json:"strategy"`
	BatchSize int                 `json:"batch_size"`
	Feeds     int                 `json:"feeds"`
	State     string              `json:"state"`
	LastCycle schedule.CycleStats `json:"last_cycle"`
}

// New makes a coordinator, with the default schedule if a default interval is configured
func New(opts Options) (*Coordinator, error) {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	c := &Coordinator{
		opts:      opts,
		schedules: map[string]*schedule.Schedule{},
		events:    make(chan schedule.Event, opts.EventBuffer),
		stopped:   make(chan struct{}),
	}
	if opts.DefaultInterval <= 0 {
		return c, nil
	}
	s, err := schedule.New(schedule.Params{
		Name:        DefaultScheduleName,
		Interval:    opts.DefaultInterval,
		BatchSize:   opts.DefaultBatchSize,
		Strategy:    opts.DefaultStrategy,
		Fetcher:     opts.Fetcher,
		Transformer: opts.Transformer,
		Store:       opts.Store,
	})
	if err != nil {
		return nil, fmt.Errorf("make default schedule: %w", err)
	}
	if err := c.addSchedule(s); err != nil {
		return nil, err
	}
	return c, nil
}

// NewSchedule makes a schedule sharing the coordinator's fetcher, transformer and store.
// The schedule still has to be added with AddSchedule.
func (c *Coordinator) NewSchedule(name string, interval time.Duration, strategy schedule.Strategy, batchSize int) (*schedule.Schedule, error) {
	return schedule.New(schedule.Params{
		Name:        name,
		Interval:    interval,
		BatchSize:   batchSize,
		Strategy:    strategy,
		Fetcher:     c.opts.Fetcher,
		Transformer: c.opts.Transformer,
		Store:       c.opts.Store,
	})
}

// AddSchedule registers a schedule. Names must be unique and "default" is reserved.
// If the coordinator is running the schedule's timer starts right away.
func (c *Coordinator) AddSchedule(s *schedule.Schedule) error {
	if s == nil {
		return fmt.Errorf("%w: nil schedule", domain.ErrConfiguration)
	}
	if s.Name() == DefaultScheduleName {
		return fmt.Errorf("%w: schedule name %q is reserved", domain.ErrConfiguration, DefaultScheduleName)
	}
	return c.addSchedule(s)
}

func (c *Coordinator) addSchedule(s *schedule.Schedule) error {
	c.mu.Lock()
	if _, ok := c.schedules[s.Name()]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: duplicate schedule %q", domain.ErrConfiguration, s.Name())
	}
	c.schedules[s.Name()] = s
	c.mu.Unlock()

	s.Subscribe(c.forward)
	lgr.Printf("[INFO] schedule %s added, interval %v, strategy %s", s.Name(), s.Interval(), s.StrategyName())

	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.started && c.ctx.Err() == nil { // a stopped coordinator keeps the schedule without a timer
		c.startLoop(s)
	}
	return nil
}

// Schedule returns a schedule by name, empty name means the default one
func (c *Coordinator) Schedule(name string) (*schedule.Schedule, bool) {
	if name == "" {
		name = DefaultScheduleName
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schedules[name]
	return s, ok
}

// Schedules returns all schedules ordered by name
func (c *Coordinator) Schedules() []*schedule.Schedule {
	c.mu.RLock()
	res := make([]*schedule.Schedule, 0, len(c.schedules))
	for _, s := range c.schedules {
		res = append(res, s)
	}
	c.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].Name() < res[j].Name() })
	return res
}

// AddFeeds adds records to the named schedule, empty name means the default one
func (c *Coordinator) AddFeeds(ctx context.Context, name string, recs ...*schedule.Record) error {
	s, ok := c.Schedule(name)
	if !ok {
		return fmt.Errorf("%w: unknown schedule %q", domain.ErrConfiguration, name)
	}
	return s.AddFeeds(ctx, recs...)
}

// Events returns the merged stream of article and error events of all schedules
func (c *Coordinator) Events() <-chan schedule.Event {
	return c.events
}

// Start runs a timer per schedule until Stop is called or ctx is canceled.
// A coordinator can be started only once.
func (c *Coordinator) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.started {
		return errors.New("coordinator already started")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true
	schedules := c.Schedules()
	for _, s := range schedules {
		c.startLoop(s)
	}
	lgr.Printf("[INFO] coordinator started with %d schedules", len(schedules))
	return nil
}

// Stop cancels all timers and in-flight cycles and waits for them to finish
func (c *Coordinator) Stop() {
	lgr.Printf("[INFO] stopping coordinator...")
	c.stopOnce.Do(func() { close(c.stopped) })
	c.runMu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.runMu.Unlock()
	c.wg.Wait()
	lgr.Printf("[INFO] coordinator stopped")
}

// RunNow runs a single cycle of the named schedule and waits for it
func (c *Coordinator) RunNow(ctx context.Context, name string) (schedule.CycleStats, error) {
	s, ok := c.Schedule(name)
	if !ok {
		return schedule.CycleStats{}, fmt.Errorf("%w: unknown schedule %q", domain.ErrConfiguration, name)
	}
	return s.Run(ctx)
}

// Status reports every schedule
func (c *Coordinator) Status() []ScheduleStatus {
	schedules := c.Schedules()
	res := make([]ScheduleStatus, 0, len(schedules))
	for _, s := range schedules {
		res = append(res, ScheduleStatus{
			Name:      s.Name(),
			Interval:  s.Interval().String(),
			Strategy:  s.StrategyName(),
			BatchSize: s.BatchSize(),
			Feeds:     len(s.Feeds()),
			State:     s.State().String(),
			LastCycle: s.LastCycle(),
		})
	}
	return res
}

// startLoop must be called with runMu held and the run context alive, Stop waits on wg
// only after canceling it under runMu
func (c *Coordinator) startLoop(s *schedule.Schedule) {
	c.wg.Add(1)
	go c.loop(c.ctx, s)
}

func (c *Coordinator) loop(ctx context.Context, s *schedule.Schedule) {
	defer c.wg.Done()

	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	if c.opts.RunOnStart {
		c.tick(ctx, s)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx, s)
		}
	}
}

// tick starts a cycle in the background so the timer keeps firing. A tick while a cycle
// is in flight is skipped.
func (c *Coordinator) tick(ctx context.Context, s *schedule.Schedule) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := s.Run(ctx); err != nil {
			if errors.Is(err, domain.ErrCycleInProgress) {
				lgr.Printf("[WARN] schedule %s: previous cycle still running, tick skipped", s.Name())
				return
			}
			lgr.Printf("[ERROR] schedule %s: cycle failed: %v", s.Name(), err)
		}
	}()
}

// forward delivers a schedule event to the merged stream, events after Stop are dropped
func (c *Coordinator) forward(ev schedule.Event) {
	select {
	case c.events <- ev:
	case <-c.stopped:
		lgr.Printf("[DEBUG] coordinator stopped, event from %s dropped", ev.Schedule)
	}
}
