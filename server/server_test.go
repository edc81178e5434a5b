package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synzen/feedtracker/pkg/fleet"
	"github.com/synzen/feedtracker/pkg/schedule"
	"github.com/synzen/feedtracker/server/mocks"
)

func testConfig() *mocks.ConfigProviderMock {
	return &mocks.ConfigProviderMock{
		GetServerConfigFunc: func() (string, time.Duration) {
			return ":8080", 30 * time.Second
		},
	}
}

func emptyCoordinator() *mocks.CoordinatorMock {
	return &mocks.CoordinatorMock{
		StatusFunc:    func() []fleet.ScheduleStatus { return nil },
		SchedulesFunc: func() []*schedule.Schedule { return nil },
		RunNowFunc: func(context.Context, string) (schedule.CycleStats, error) {
			return schedule.CycleStats{}, nil
		},
	}
}

// testServer creates a server instance using the actual New function
func testServer(coord Coordinator, articles ArticleStore) *Server {
	return New(Params{
		Config:      testConfig(),
		Coordinator: coord,
		Articles:    articles,
		BaseURL:     "http://localhost:8080",
		Version:     "test",
	})
}

func TestServer_New(t *testing.T) {
	srv := New(Params{Config: testConfig(), Coordinator: emptyCoordinator(), Version: "1.0.0"})
	assert.NotNil(t, srv)
	assert.Equal(t, "1.0.0", srv.version)
	assert.False(t, srv.debug)
	assert.Nil(t, srv.articles)
}

func TestServer_Run(t *testing.T) {
	// find free port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	cfg := &mocks.ConfigProviderMock{
		GetServerConfigFunc: func() (string, time.Duration) {
			return fmt.Sprintf("127.0.0.1:%d", port), 30 * time.Second
		},
	}
	srv := New(Params{Config: cfg, Coordinator: emptyCoordinator(), Version: "1.0.0", Debug: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", port))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))
	assert.Equal(t, "feedtracker", resp.Header.Get("App-Name"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Len(t, cfg.GetServerConfigCalls(), 1)
}

func TestServer_Metrics(t *testing.T) {
	srv := testServer(emptyCoordinator(), nil)

	// one request so the http collectors have a sample
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", http.NoBody)
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}
