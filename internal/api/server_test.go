package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simagg/adapters/sqlstore"
	"simagg/app"
	"simagg/internal/cache"
	"simagg/internal/config"
	"simagg/internal/testkit"
)

func writeRun(t *testing.T, dir string, size, seed float64, metric ...float64) {
	testkit.WriteRun(t, dir, "consensus", map[string]float64{"size": size}, seed, metric...)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	writeRun(t, dir, 1, 1, 0, 0, 1, 1, 1)
	writeRun(t, dir, 1, 2, 0, 0, 0, 0, 0)
	writeRun(t, dir, 2, 1, 0, 0, 0, 1, 1)

	cfg := config.Default()
	cfg.Data.Dir = dir
	cfg.Data.Experiments = []string{"consensus"}
	cfg.Grid.Samples = 3
	cfg.Workers = 1
	cfg.Convergence.GroupBy = []string{"size"}

	db, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blobs, err := cache.NewLocalBlobStore(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	queries := app.NewQueryService(cfg, sqlstore.NewConvergenceRepository(db))
	aggregates := app.NewAggregationService(cfg, cache.New(blobs, ""))
	srv := httptest.NewServer(NewServer("0", queries, aggregates).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, into interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestExactLookupAndFilter(t *testing.T) {
	srv := newTestServer(t)

	var exact struct {
		Runs []runSummary `json:"runs"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/experiments/consensus/runs?size=1", &exact))
	assert.Len(t, exact.Runs, 2)
	assert.Equal(t, 5, exact.Runs[0].Rows)

	var missing map[string]string
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/experiments/consensus/runs", &missing))
	assert.Equal(t, "MISSING_PARAMETER", missing["code"])
	assert.Contains(t, missing["error"], "size")

	var bad map[string]string
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/experiments/consensus/filter?size=abc", &bad))

	var filtered struct {
		Runs []runSummary `json:"runs"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/experiments/consensus/filter?size=2", &filtered))
	assert.Len(t, filtered.Runs, 1)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/experiments/nope/filter", nil))
}

func TestCombinedTableCSV(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/experiments/consensus/table.csv?size=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(readAll(t, resp)), "\n")
	assert.Equal(t, "time,state[mean],size,seed", lines[0])
	assert.Len(t, lines, 6)
}

func TestConvergenceEndpointsEncodeNaNAsNull(t *testing.T) {
	srv := newTestServer(t)

	var raw map[string]json.RawMessage
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/experiments/consensus/convergence", &raw))

	var records []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw["records"], &records))
	require.Len(t, records, 2)
	// seed 2 of size 1 never converges; seed 1 converges at t=2
	assert.Equal(t, 2.0, records[0]["mean"])
	assert.Equal(t, 3.0, records[1]["mean"])

	var none map[string]json.RawMessage
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/experiments/consensus/convergence?threshold=5", &none))
	var unconverged []map[string]interface{}
	require.NoError(t, json.Unmarshal(none["records"], &unconverged))
	assert.Nil(t, unconverged[0]["mean"])

	var latest map[string]json.RawMessage
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/experiments/consensus/convergence/latest", &latest))
	var stored []map[string]interface{}
	require.NoError(t, json.Unmarshal(latest["records"], &stored))
	assert.Nil(t, stored[0]["mean"])

	assert.Equal(t, http.StatusBadRequest,
		getJSON(t, srv.URL+"/api/experiments/consensus/convergence?threshold=x", nil))
}

func TestAggregateEndpoint(t *testing.T) {
	srv := newTestServer(t)

	var resp aggregateResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/experiments/consensus/aggregate/state[mean]?size=1", &resp))
	assert.Equal(t, []string{"time"}, resp.Axes)
	assert.Equal(t, []Float{0, 2, 4}, resp.Time)
	assert.Equal(t, []Float{0, 0.5, 0.5}, resp.Mean)
	assert.Equal(t, []Float{0, 0.5, 0.5}, resp.Std)

	assert.Equal(t, http.StatusNotFound,
		getJSON(t, srv.URL+"/api/experiments/consensus/aggregate/missing?size=1", nil))
	assert.Equal(t, http.StatusNotFound,
		getJSON(t, srv.URL+"/api/experiments/consensus/aggregate/state[mean]?size=7", nil))
	assert.Equal(t, http.StatusBadRequest,
		getJSON(t, srv.URL+"/api/experiments/consensus/aggregate/state[mean]?color=red", nil))
}

func TestFloatMarshalJSON(t *testing.T) {
	data, err := json.Marshal([]Float{1.5, Float(nan())})
	require.NoError(t, err)
	assert.Equal(t, "[1.5,null]", string(data))
}
