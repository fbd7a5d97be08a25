package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-enrich/internal/metrics"
	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/store"
)

func newTestRouter(t *testing.T, st store.CheckpointStore) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(st, nil))
	return buildRouter(st, reg, []string{"*"})
}

func TestRouter_Health(t *testing.T) {
	testConfig(t)
	h := newTestRouter(t, seedStore(t))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_Metrics(t *testing.T) {
	testConfig(t)
	h := newTestRouter(t, seedStore(t, sampleCheckpoint("job-1", "/data/a.csv")))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `merchant_enrich_checkpoint_cost_usd{job_id="job-1"} 0.02`)
	assert.Contains(t, rr.Body.String(), `merchant_enrich_checkpoint_rows{job_id="job-1",status="completed"} 1`)
}

func TestRouter_Checkpoints(t *testing.T) {
	testConfig(t)
	h := newTestRouter(t, seedStore(t,
		sampleCheckpoint("job-1", "/data/a.csv"),
		sampleCheckpoint("job-2", "/data/b.csv"),
	))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/checkpoints", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var list []checkpointView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/checkpoints/job-2", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var view checkpointView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "job-2", view.JobID)
	assert.Equal(t, "b.csv", view.Input)
	assert.Equal(t, 2, view.LastRow)
	assert.Equal(t, 2, view.Completed)
	assert.Equal(t, 2, view.Remaining)
	assert.InDelta(t, 0.02, view.CumulativeCost, 0.0001)
}

func TestRouter_CheckpointNotFound(t *testing.T) {
	testConfig(t)
	h := newTestRouter(t, seedStore(t))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/checkpoints/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "job not found")
}

type failingStore struct{ store.CheckpointStore }

func (failingStore) List(context.Context) ([]*model.Checkpoint, error) {
	return nil, errors.New("disk gone")
}

func TestRouter_StoreError(t *testing.T) {
	testConfig(t)
	h := buildRouter(failingStore{}, prometheus.NewRegistry(), []string{"*"})

	for _, path := range []string{"/checkpoints", "/checkpoints/job-1"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusInternalServerError, rr.Code, path)
	}
}

func TestRouter_CORS(t *testing.T) {
	testConfig(t)
	h := newTestRouter(t, seedStore(t))

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
