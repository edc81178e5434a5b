package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synzen/feedtracker/pkg/config"
	"github.com/synzen/feedtracker/pkg/domain"
	"github.com/synzen/feedtracker/pkg/repository"
	"github.com/synzen/feedtracker/pkg/schedule"
)

// growingFeed serves one more item on every request after the first
func growingFeed(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(calls.Add(1))
		var items strings.Builder
		for i := n; i >= 1; i-- {
			fmt.Fprintf(&items, `<item><title>Post %d</title><link>http://example.com/%d</link><guid>post-%d</guid><pubDate>%s</pubDate></item>`,
				i, i, i, time.Now().Add(-time.Hour).Format(time.RFC1123Z))
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title><link>http://example.com</link>%s</channel></rss>`, items.String())
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feedtracker.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun_MissingConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := run(ctx, Opts{Config: "non-existent-config.yml"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to load config")
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := run(ctx, Opts{Config: writeConfig(t, "invalid: yaml: content: [")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to load config")

	err = run(ctx, Opts{Config: writeConfig(t, "feeds: [{url: http://a, schedule: missing}]")})
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown schedule "missing"`)
}

func TestRun_ServerStartStop(t *testing.T) {
	feedSrv, feedCalls := growingFeed(t)
	port := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	cfgPath := writeConfig(t, fmt.Sprintf(`
server:
  listen: "127.0.0.1:%d"
database:
  dsn: "file:%s?mode=rwc&_txlock=immediate"
fetch:
  timeout: 5s
default_schedule:
  interval: 1h
feeds:
  - url: %s
`, port, dbPath, feedSrv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run(ctx, Opts{Config: cfgPath}) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/ping")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	// startup fetch seeds the seen-set, the first cycle then finds one new post
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/articles")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), "Post 2")
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Post(base+"/api/v1/schedules/default/run", "application/json", http.NoBody)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, []int{http.StatusOK, http.StatusConflict}, resp.StatusCode)

	resp, err = http.Get(base + "/rss/default")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "<title>Post 2</title>")
	assert.NotContains(t, string(body), "<title>Post 1</title>", "seeded entries are never emitted")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown timeout")
	}
	assert.GreaterOrEqual(t, feedCalls.Load(), int32(2))

	// seen-set survives the restart
	repos, err := repository.NewRepositories(context.Background(), repository.Config{DSN: "file:" + dbPath})
	require.NoError(t, err)
	defer repos.Close()
	entries, found, err := repos.Snapshot.LoadSnapshot(context.Background(), "default", feedSrv.URL)
	require.NoError(t, err)
	require.True(t, found)
	assert.GreaterOrEqual(t, len(entries), 2)
}

func TestLoadRecords(t *testing.T) {
	feedSrv, feedCalls := growingFeed(t)
	repos, err := repository.NewRepositories(context.Background(), repository.Config{DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	defer repos.Close()

	restored := "http://restored.example.com/rss"
	require.NoError(t, repos.Snapshot.SaveSnapshot(context.Background(), "default", restored, []domain.Entry{{ID: "x"}}))

	feeds := []config.FeedConfig{
		{URL: feedSrv.URL},
		{URL: restored},
		{URL: "http://127.0.0.1:1/unreachable"},
	}
	parser := newParser(&config.Config{Fetch: config.FetchConfig{Timeout: time.Second, RetryDelay: time.Millisecond}})

	recs, err := loadRecords(context.Background(), feeds, parser, repos)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	require.NotNil(t, recs[0])
	assert.True(t, recs[0].Initialized())
	assert.Len(t, recs[0].SeenEntries(), 1)
	assert.Equal(t, int32(1), feedCalls.Load())

	require.NotNil(t, recs[1])
	assert.Equal(t, []domain.Entry{{ID: "x"}}, recs[1].SeenEntries(), "snapshot is used without fetching")

	assert.Nil(t, recs[2], "unreachable feed is skipped")
}

func TestPruneSnapshots(t *testing.T) {
	ctx := context.Background()
	repos, err := repository.NewRepositories(ctx, repository.Config{DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	defer repos.Close()

	for _, s := range []struct{ schedule, uri string }{
		{"default", "http://kept"},
		{"default", "http://dropped"},
		{"hourly", "http://kept"},
		{"hourly", "http://moved"},
		{"gone", "http://orphan"},
	} {
		require.NoError(t, repos.Snapshot.SaveSnapshot(ctx, s.schedule, s.uri, []domain.Entry{{ID: "x"}}))
	}

	feeds := []config.FeedConfig{
		{URL: "http://kept"},
		{URL: "http://kept", Schedule: "hourly"},
		{URL: "http://moved"}, // now on default
	}
	require.NoError(t, pruneSnapshots(ctx, repos.Snapshot, feeds))

	left, err := repos.Snapshot.ListSnapshots(ctx, "")
	require.NoError(t, err)
	var keys []string
	for _, snap := range left {
		keys = append(keys, snap.Schedule+" "+snap.SourceURI)
	}
	assert.Equal(t, []string{"default http://kept", "hourly http://kept"}, keys)

	// nothing configured, nothing stored
	require.NoError(t, pruneSnapshots(ctx, repos.Snapshot, nil))
	left, err = repos.Snapshot.ListSnapshots(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRunWorker(t *testing.T) {
	feedSrv, _ := growingFeed(t)
	cfgPath := writeConfig(t, "fetch: {timeout: 5s}\n")

	in := fmt.Sprintf(`{"batch":[{"id":"f1","sourceURI":%q,"options":{},"seenEntries":[]}]}`, feedSrv.URL)
	var out bytes.Buffer
	err := runWorker(context.Background(), Opts{Config: cfgPath}, strings.NewReader(in), &out)
	require.NoError(t, err)

	// recent post on an empty seen-set is new
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"status":"article"`)
	assert.Contains(t, lines[0], `"post-1"`)
	assert.Contains(t, lines[1], `"status":"success"`)
	assert.Contains(t, lines[1], `"feedId":"f1"`)
	assert.JSONEq(t, `{"status":"batch_connected"}`, lines[2])

	err = runWorker(context.Background(), Opts{Config: "/no/such/config.yml"}, strings.NewReader(in), &out)
	require.Error(t, err)
}

func TestMakeStrategy(t *testing.T) {
	s, err := makeStrategy(config.ScheduleConfig{Strategy: config.StrategyConcurrent, MaxConcurrent: 4}, Opts{})
	require.NoError(t, err)
	assert.Equal(t, "concurrent", s.Name())
	assert.Equal(t, 4, s.(*schedule.Concurrent).MaxConcurrent)

	s, err = makeStrategy(config.ScheduleConfig{Name: "slow", Strategy: config.StrategyIsolated, Concurrency: 3,
		PerFeedTimeout: time.Second}, Opts{Config: "feedtracker.yml", Debug: true})
	require.NoError(t, err)
	iso := s.(*schedule.Isolated)
	assert.Equal(t, "isolated", iso.Name())
	assert.Equal(t, 3, iso.Concurrency)
	assert.Equal(t, time.Second, iso.PerFeedTimeout)
	require.Len(t, iso.Args, 4)
	assert.Equal(t, "--worker", iso.Args[0])
	assert.True(t, filepath.IsAbs(iso.Args[2]), "config path is passed as absolute")
	assert.Equal(t, "--dbg", iso.Args[3])
}

type saverMock struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (m *saverMock) SaveArticle(_ context.Context, sched, sourceURI string, a domain.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, sched+"|"+sourceURI+"|"+a.ID)
	return m.err
}

func TestHandleEvent(t *testing.T) {
	saver := &saverMock{}
	ctx := context.Background()

	handleEvent(ctx, schedule.Event{Kind: schedule.EventArticle, Schedule: "default", SourceURI: "http://a",
		Article: &domain.Article{ID: "a1", Title: "t"}}, saver)
	handleEvent(ctx, schedule.Event{Kind: schedule.EventError, Schedule: "default", SourceURI: "http://b",
		Err: errors.New("boom")}, saver)
	handleEvent(ctx, schedule.Event{Kind: schedule.EventArticle, Schedule: "default", SourceURI: "http://a",
		Article: &domain.Article{ID: "a2"}}, nil)

	assert.Equal(t, []string{"default|http://a|a1"}, saver.saved)

	saver.err = errors.New("disk full")
	handleEvent(ctx, schedule.Event{Kind: schedule.EventArticle, Schedule: "s", SourceURI: "http://c",
		Article: &domain.Article{ID: "a3"}}, saver)
	assert.Len(t, saver.saved, 2)
}

func TestConsumeEvents(t *testing.T) {
	events := make(chan schedule.Event, 1)
	events <- schedule.Event{Kind: schedule.EventError, Err: errors.New("x")}
	close(events)

	done := make(chan struct{})
	go func() {
		consumeEvents(context.Background(), events, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not return on closed stream")
	}
}

func TestSetupLog(t *testing.T) {
	setupLog(true, false, false)
	setupLog(false, true, false)
	setupLog(false, true, true, "secret1")
	setupLog(false, false, false)
}
