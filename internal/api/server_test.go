package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agencyscope/agencydir/internal/crawler"
	"github.com/agencyscope/agencydir/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemory()
	srv := httptest.NewServer(NewServer(st, nil, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	var body map[string]string
	status := getJSON(t, srv.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestStatusBeforeAnyRun(t *testing.T) {
	srv, _ := newTestServer(t)
	status := getJSON(t, srv.URL+"/api/v1/status", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStatusReportsLatestSession(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	id, err := st.StartSession(ctx, 0, 0)
	require.NoError(t, err)
	require.NoError(t, st.UpdateSessionCounters(ctx, id, crawler.SessionDelta{
		CategoriesTotal: 4, CategoriesScraped: 2, AgenciesScraped: 55,
	}))

	var body sessionResponse
	status := getJSON(t, srv.URL+"/api/v1/status", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body.ID)
	assert.Equal(t, "running", body.Status)
	assert.Equal(t, 2, body.CategoriesScraped)
	assert.Equal(t, 55, body.AgenciesScraped)
	assert.Nil(t, body.EndedAt)
}

func TestListCategoriesAndAgencies(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	catID, err := st.UpsertCategory(ctx, "디자인", "https://example.com/dir", 2)
	require.NoError(t, err)
	aID, err := st.UpsertAgency(ctx, crawler.Agency{
		CategoryID: catID, CategoryName: "디자인", Name: "acme",
	})
	require.NoError(t, err)
	_, err = st.UpsertAgency(ctx, crawler.Agency{
		CategoryID: catID, CategoryName: "디자인", Name: "bravo",
	})
	require.NoError(t, err)
	require.NoError(t, st.RecordAgencyDetail(ctx, aID, "done"))

	var cats struct {
		Categories []categoryResponse `json:"categories"`
	}
	status := getJSON(t, srv.URL+"/api/v1/categories", &cats)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, cats.Categories, 1)
	assert.Equal(t, "디자인", cats.Categories[0].Name)

	var agencies struct {
		Agencies []agencyResponse `json:"agencies"`
	}
	status = getJSON(t, srv.URL+"/api/v1/agencies", &agencies)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, agencies.Agencies, 2)

	agencies.Agencies = nil
	status = getJSON(t, srv.URL+"/api/v1/agencies?missing_detail=true", &agencies)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, agencies.Agencies, 1)
	assert.Equal(t, "bravo", agencies.Agencies[0].Name)

	agencies.Agencies = nil
	status = getJSON(t, srv.URL+"/api/v1/agencies?category=마케팅", &agencies)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, agencies.Agencies)
}

func TestMetricsEndpointServes(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
