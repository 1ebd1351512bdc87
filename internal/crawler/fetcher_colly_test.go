package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollyFetcherFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "agencydir-bot/0.1", r.UserAgent())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><div class="intro">static page</div></body></html>`))
	}))
	defer srv.Close()

	f, err := NewCollyFetcher(DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	page, err := f.Fetch(context.Background(), srv.URL+"/detail?idx=1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, string(page.Body), "static page")
	assert.False(t, page.UsedJS)
	assert.Equal(t, "text/html; charset=utf-8", page.Headers.Get("Content-Type"))
}

func TestCollyFetcherRevisitsSameURL(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f, err := NewCollyFetcher(DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestCollyFetcherConnectionError(t *testing.T) {
	f, err := NewCollyFetcher(DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "http://127.0.0.1:1/unreachable")
	assert.Error(t, err)
}
