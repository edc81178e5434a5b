package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, cyclesTotal)
	require.NotNil(t, articlesTotal)
	require.NotNil(t, activeWorkers)
}

func TestObserveCycle(t *testing.T) {
	ObserveCycle("cycle-test", 0, time.Second)
	ObserveCycle("cycle-test", 2, time.Second)
	ObserveCycle("cycle-test", 0, time.Second)

	assert.InDelta(t, 2, testutil.ToFloat64(cyclesTotal.WithLabelValues("cycle-test", "ok")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(cyclesTotal.WithLabelValues("cycle-test", "partial")), 0.001)
}

func TestObserveArticleAndErrors(t *testing.T) {
	ObserveArticle("counters-test")
	ObserveArticle("counters-test")
	ObserveFeedError("counters-test")

	assert.InDelta(t, 2, testutil.ToFloat64(articlesTotal.WithLabelValues("counters-test")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(feedErrorsTotal.WithLabelValues("counters-test")), 0.001)
}

func TestWorkers(t *testing.T) {
	before := testutil.ToFloat64(activeWorkers)
	WorkerStarted()
	WorkerStarted()
	WorkerStopped()
	assert.InDelta(t, before+1, testutil.ToFloat64(activeWorkers), 0.001)
	WorkerStopped()

	faults := testutil.ToFloat64(workerFaultsTotal)
	ObserveWorkerFault()
	assert.InDelta(t, faults+1, testutil.ToFloat64(workerFaultsTotal), 0.001)
}

func TestMiddleware(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /mw-ok", Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	mux.Handle("GET /mw-teapot", Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	ts := httptest.NewServer(mux)
	defer ts.Close()

	for _, path := range []string{"/mw-ok", "/mw-teapot"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	assert.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")), 0.001)
	assert.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestHandler(t *testing.T) {
	Init()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feedtracker_active_workers")
}
