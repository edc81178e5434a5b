package fleet

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synzen/feedtracker/pkg/domain"
	"github.com/synzen/feedtracker/pkg/schedule"
	"github.com/synzen/feedtracker/pkg/schedule/mocks"
)

type passTransformer struct{}

func (passTransformer) Transform(e domain.Entry, _ domain.FeedOptions) domain.Article {
	return domain.Article{ID: e.ID, Title: e.Title}
}

// growingFeeds returns one more entry for a source on every fetch
type growingFeeds struct {
	mu    sync.Mutex
	count map[string]int
}

func (g *growingFeeds) fetcher() *mocks.FetcherMock {
	return &mocks.FetcherMock{FetchFunc: func(_ context.Context, uri string, _ domain.FetchOptions) ([]domain.Entry, error) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.count == nil {
			g.count = map[string]int{}
		}
		g.count[uri]++
		n := g.count[uri]
		entries := make([]domain.Entry, 0, n)
		for i := n; i > 0; i-- {
			id := fmt.Sprintf("%s#%d", uri, i)
			entries = append(entries, domain.Entry{ID: id, GUID: id})
		}
		return entries, nil
	}}
}

func newCoordinator(t *testing.T, interval time.Duration) *Coordinator {
	t.Helper()
	g := &growingFeeds{}
	c, err := New(Options{DefaultInterval: interval, Fetcher: g.fetcher(), Transformer: passTransformer{}})
	require.NoError(t, err)
	return c
}

func record(t *testing.T, uri string) *schedule.Record {
	t.Helper()
	rec, err := schedule.NewRecord(uri, domain.FeedOptions{})
	require.NoError(t, err)
	return rec
}

func TestNew(t *testing.T) {
	t.Run("with default schedule", func(t *testing.T) {
		c := newCoordinator(t, time.Minute)
		s, ok := c.Schedule("")
		require.True(t, ok)
		assert.Equal(t, DefaultScheduleName, s.Name())
		assert.Equal(t, time.Minute, s.Interval())
	})

	t.Run("without default schedule", func(t *testing.T) {
		c := newCoordinator(t, 0)
		assert.Empty(t, c.Schedules())
		err := c.AddFeeds(context.Background(), "", record(t, "http://a"))
		require.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("default schedule needs collaborators", func(t *testing.T) {
		_, err := New(Options{DefaultInterval: time.Minute})
		require.ErrorIs(t, err, domain.ErrConfiguration)
	})
}

func TestCoordinator_AddSchedule(t *testing.T) {
	c := newCoordinator(t, time.Minute)

	s, err := c.NewSchedule("hourly", time.Hour, nil, 0)
	require.NoError(t, err)
	require.NoError(t, c.AddSchedule(s))

	dup, err := c.NewSchedule("hourly", time.Minute, nil, 0)
	require.NoError(t, err)
	require.ErrorIs(t, c.AddSchedule(dup), domain.ErrConfiguration)

	reserved, err := c.NewSchedule(DefaultScheduleName, time.Minute, nil, 0)
	require.NoError(t, err)
	require.ErrorIs(t, c.AddSchedule(reserved), domain.ErrConfiguration)

	require.ErrorIs(t, c.AddSchedule(nil), domain.ErrConfiguration)

	names := []string{}
	for _, s := range c.Schedules() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"default", "hourly"}, names)
}

func TestCoordinator_AddFeeds(t *testing.T) {
	c := newCoordinator(t, time.Minute)
	s, err := c.NewSchedule("hourly", time.Hour, nil, 0)
	require.NoError(t, err)
	require.NoError(t, c.AddSchedule(s))

	require.NoError(t, c.AddFeeds(context.Background(), "", record(t, "http://a")))
	require.NoError(t, c.AddFeeds(context.Background(), "hourly", record(t, "http://b"), record(t, "http://c")))

	def, _ := c.Schedule(DefaultScheduleName)
	assert.Len(t, def.Feeds(), 1)
	assert.Len(t, s.Feeds(), 2)

	err = c.AddFeeds(context.Background(), "nope", record(t, "http://d"))
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestCoordinator_RunNow(t *testing.T) {
	c := newCoordinator(t, time.Minute)
	require.NoError(t, c.AddFeeds(context.Background(), "", record(t, "http://a")))

	stats, err := c.RunNow(context.Background(), DefaultScheduleName)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Articles)

	select {
	case ev := <-c.Events():
		assert.Equal(t, schedule.EventArticle, ev.Kind)
		assert.Equal(t, DefaultScheduleName, ev.Schedule)
		assert.Equal(t, "http://a", ev.SourceURI)
		require.NotNil(t, ev.Article)
		assert.Equal(t, "http://a#2", ev.Article.ID)
	default:
		t.Fatal("no event in stream")
	}

	_, err = c.RunNow(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestCoordinator_StartStop(t *testing.T) {
	c := newCoordinator(t, 20*time.Millisecond)
	fast, err := c.NewSchedule("fast", 30*time.Millisecond, nil, 0)
	require.NoError(t, err)
	require.NoError(t, c.AddSchedule(fast))
	require.NoError(t, c.AddFeeds(context.Background(), "", record(t, "http://a")))
	require.NoError(t, c.AddFeeds(context.Background(), "fast", record(t, "http://b")))

	require.NoError(t, c.Start(context.Background()))
	require.Error(t, c.Start(context.Background()), "second start is rejected")

	seen := map[string]int{}
	timeout := time.After(5 * time.Second)
	for seen[DefaultScheduleName] < 2 || seen["fast"] < 2 {
		select {
		case ev := <-c.Events():
			require.Equal(t, schedule.EventArticle, ev.Kind, "unexpected error event: %v", ev.Err)
			seen[ev.Schedule]++
		case <-timeout:
			t.Fatalf("not enough events, got %v", seen)
		}
	}

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not finish")
	}
}

func TestCoordinator_AddScheduleWhileRunning(t *testing.T) {
	c := newCoordinator(t, 0)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	late, err := c.NewSchedule("late", 20*time.Millisecond, nil, 0)
	require.NoError(t, err)
	require.NoError(t, late.AddFeed(context.Background(), record(t, "http://late")))
	require.NoError(t, c.AddSchedule(late))

	select {
	case ev := <-c.Events():
		assert.Equal(t, "late", ev.Schedule)
	case <-time.After(5 * time.Second):
		t.Fatal("schedule added after start was never run")
	}
}

func TestCoordinator_AddScheduleAfterStop(t *testing.T) {
	c := newCoordinator(t, 0)
	require.NoError(t, c.Start(context.Background()))
	c.Stop()

	fetcher := (&growingFeeds{}).fetcher()
	late, err := schedule.New(schedule.Params{Name: "late", Interval: 10 * time.Millisecond,
		Fetcher: fetcher, Transformer: passTransformer{}})
	require.NoError(t, err)
	require.NoError(t, late.AddFeed(context.Background(), record(t, "http://late")))
	require.Len(t, fetcher.FetchCalls(), 1, "initial fetch")

	require.NoError(t, c.AddSchedule(late))
	_, ok := c.Schedule("late")
	assert.True(t, ok, "schedule is registered")

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, fetcher.FetchCalls(), 1, "no timer runs after stop")
	c.Stop() // stop again is safe
}

func TestCoordinator_Status(t *testing.T) {
	c := newCoordinator(t, time.Minute)
	require.NoError(t, c.AddFeeds(context.Background(), "", record(t, "http://a"), record(t, "http://b")))
	_, err := c.RunNow(context.Background(), "")
	require.NoError(t, err)

	st := c.Status()
	require.Len(t, st, 1)
	assert.Equal(t, DefaultScheduleName, st[0].Name)
	assert.Equal(t, "1m0s", st[0].Interval)
	assert.Equal(t, "concurrent", st[0].Strategy)
	assert.Equal(t, schedule.DefaultBatchSize, st[0].BatchSize)
	assert.Equal(t, 2, st[0].Feeds)
	assert.Equal(t, "idle", st[0].State)
	assert.Equal(t, 2, st[0].LastCycle.Feeds)
	assert.Equal(t, 2, st[0].LastCycle.Articles)
}
