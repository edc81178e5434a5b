package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synzen/feedtracker/pkg/domain"
	"github.com/synzen/feedtracker/pkg/fleet"
	"github.com/synzen/feedtracker/pkg/repository"
	"github.com/synzen/feedtracker/pkg/schedule"
	"github.com/synzen/feedtracker/server/mocks"
)

func TestServer_statusHandler(t *testing.T) {
	coord := emptyCoordinator()
	coord.StatusFunc = func() []fleet.ScheduleStatus {
		return []fleet.ScheduleStatus{
			{Name: "default", Interval: "10m0s", Strategy: "concurrent", BatchSize: 300, Feeds: 2, State: "idle"},
			{Name: "slow", Interval: "1h0m0s", Strategy: "isolated", BatchSize: 50, State: "dispatching"},
		}
	}
	srv := testServer(coord, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", http.NoBody)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var status struct {
		Status    string                 `json:"status"`
		Version   string                 `json:"version"`
		Time      time.Time              `json:"time"`
		Schedules []fleet.ScheduleStatus `json:"schedules"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "test", status.Version)
	assert.False(t, status.Time.IsZero())
	require.Len(t, status.Schedules, 2)
	assert.Equal(t, "slow", status.Schedules[1].Name)
	assert.Equal(t, "dispatching", status.Schedules[1].State)
}

func TestServer_articlesHandler(t *testing.T) {
	created := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	store := &mocks.ArticleStoreMock{
		RecentFunc: func(_ context.Context, f repository.ArticleFilter) ([]repository.StoredArticle, error) {
			if f.Schedule == "broken" {
				return nil, errors.New("db is gone")
			}
			if f.Schedule == "empty" {
				return nil, nil
			}
			return []repository.StoredArticle{
				{ID: 2, Schedule: "default", SourceURI: "http://a", Article: domain.Article{ID: "a2", Title: "second"}, CreatedAt: created},
				{ID: 1, Schedule: "default", SourceURI: "http://a", Article: domain.Article{ID: "a1", Title: "first"}, CreatedAt: created},
			}, nil
		},
	}
	srv := testServer(emptyCoordinator(), store)

	tests := []struct {
		name       string
		query      string
		wantCode   int
		wantLen    int
		wantFilter repository.ArticleFilter
	}{
		{name: "all", query: "", wantCode: http.StatusOK, wantLen: 2},
		{name: "filtered", query: "?schedule=default&source=http://a&limit=10", wantCode: http.StatusOK, wantLen: 2,
			wantFilter: repository.ArticleFilter{Schedule: "default", SourceURI: "http://a", Limit: 10}},
		{name: "limit is capped", query: "?limit=100000", wantCode: http.StatusOK, wantLen: 2,
			wantFilter: repository.ArticleFilter{Limit: maxArticlesLimit}},
		{name: "empty list", query: "?schedule=empty", wantCode: http.StatusOK, wantLen: 0,
			wantFilter: repository.ArticleFilter{Schedule: "empty"}},
		{name: "bad limit", query: "?limit=abc", wantCode: http.StatusBadRequest},
		{name: "zero limit", query: "?limit=0", wantCode: http.StatusBadRequest},
		{name: "store error", query: "?schedule=broken", wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(store.RecentCalls())
			req := httptest.NewRequest(http.MethodGet, "/api/v1/articles"+tt.query, http.NoBody)
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode != http.StatusOK {
				var resp map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp["error"])
				return
			}

			var articles []repository.StoredArticle
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &articles))
			assert.Len(t, articles, tt.wantLen)
			assert.NotNil(t, articles, "empty result is rendered as a list")

			calls := store.RecentCalls()
			require.Len(t, calls, before+1)
			assert.Equal(t, tt.wantFilter, calls[before].Filter)
		})
	}

	t.Run("disabled article log", func(t *testing.T) {
		srv := testServer(emptyCoordinator(), nil)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/articles", http.NoBody)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "article log is disabled")
	})
}

func TestServer_runScheduleHandler(t *testing.T) {
	coord := emptyCoordinator()
	coord.RunNowFunc = func(_ context.Context, name string) (schedule.CycleStats, error) {
		switch name {
		case "busy":
			return schedule.CycleStats{}, domain.ErrCycleInProgress
		case "missing":
			return schedule.CycleStats{}, fmt.Errorf("%w: unknown schedule %q", domain.ErrConfiguration, name)
		case "broken":
			return schedule.CycleStats{}, errors.New("boom")
		}
		return schedule.CycleStats{Batches: 1, Feeds: 3, Articles: 2, Failures: 1}, nil
	}
	srv := testServer(coord, nil)

	tests := []struct {
		name     string
		schedule string
		wantCode int
	}{
		{name: "ok", schedule: "default", wantCode: http.StatusOK},
		{name: "in progress", schedule: "busy", wantCode: http.StatusConflict},
		{name: "unknown schedule", schedule: "missing", wantCode: http.StatusNotFound},
		{name: "other error", schedule: "broken", wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/schedules/"+tt.schedule+"/run", http.NoBody)
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}

	calls := coord.RunNowCalls()
	require.Len(t, calls, 4)
	assert.Equal(t, "default", calls[0].Name)

	t.Run("stats are returned", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/schedules/default/run", http.NoBody)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var stats schedule.CycleStats
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
		assert.Equal(t, 2, stats.Articles)
		assert.Equal(t, 1, stats.Failures)
	})

	t.Run("client disconnect doesn't cancel the cycle", func(t *testing.T) {
		var cycleCtx context.Context
		coord := emptyCoordinator()
		coord.RunNowFunc = func(ctx context.Context, _ string) (schedule.CycleStats, error) {
			cycleCtx = ctx
			return schedule.CycleStats{}, nil
		}
		srv := testServer(coord, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/schedules/default/run", http.NoBody).WithContext(ctx)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, cycleCtx)
		assert.NoError(t, cycleCtx.Err())
	})

	t.Run("get is not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/schedules/default/run", http.NoBody)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestRenderJSON(t *testing.T) {
	w := httptest.NewRecorder()
	renderJSON(w, nil, http.StatusCreated, map[string]int{"n": 1})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"n":1}`, w.Body.String())

	w = httptest.NewRecorder()
	renderJSON(w, nil, http.StatusNoContent, nil)
	assert.Empty(t, w.Body.String())
}

func TestRenderError(t *testing.T) {
	w := httptest.NewRecorder()
	renderError(w, nil, errors.New("bad thing"), http.StatusBadRequest)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"bad thing"}`, w.Body.String())

	w = httptest.NewRecorder()
	renderError(w, nil, nil, http.StatusInternalServerError)
	assert.JSONEq(t, `{"error":"unknown error"}`, w.Body.String())
}
