package fetcher_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/recommender/internal/fetcher"
)

func newSite(t *testing.T, robotsHits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		if robotsHits != nil {
			atomic.AddInt32(robotsHits, 1)
		}
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/movie/19995", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title> Avatar
			(2009) </title><meta property="og:image" content="/img/avatar.jpg"/></head><body>x</body></html>`))
	})
	mux.HandleFunc("/data.csv", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TestAgent/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte("id,title\n1,A\n"))
	})
	mux.HandleFunc("/api/movie", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"poster_path":"/p.jpg"}`))
	})
	mux.HandleFunc("/private/data.csv", func(w http.ResponseWriter, r *http.Request) {
		t.Error("disallowed path was requested")
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newFetcher(robots bool) *fetcher.Fetcher {
	return fetcher.NewFetcher(fetcher.Options{
		Timeout:       5 * time.Second,
		UserAgent:     "TestAgent/1.0",
		RespectRobots: robots,
	}, nil)
}

func TestFetcher_FetchPage(t *testing.T) {
	ts := newSite(t, nil)
	f := newFetcher(true)

	page, err := f.FetchPage(context.Background(), ts.URL+"/movie/19995")
	require.NoError(t, err)
	assert.Equal(t, 200, page.StatusCode)
	assert.Equal(t, "Avatar (2009)", page.Title)
	assert.Equal(t, ts.URL+"/img/avatar.jpg", page.Image)
}

func TestFetcher_NotFound(t *testing.T) {
	ts := newSite(t, nil)
	f := newFetcher(false)

	_, err := f.FetchPage(context.Background(), ts.URL+"/missing")
	var se *fetcher.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestFetcher_GetJSON(t *testing.T) {
	ts := newSite(t, nil)
	f := newFetcher(false)

	var body struct {
		PosterPath string `json:"poster_path"`
	}
	require.NoError(t, f.GetJSON(context.Background(), ts.URL+"/api/movie", &body))
	assert.Equal(t, "/p.jpg", body.PosterPath)
}

func TestFetcher_Download(t *testing.T) {
	ts := newSite(t, nil)
	f := newFetcher(true)
	dst := filepath.Join(t.TempDir(), "data", "movies.csv")

	n, err := f.Download(context.Background(), ts.URL+"/data.csv", dst)
	require.NoError(t, err)
	assert.Equal(t, int64(len("id,title\n1,A\n")), n)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "id,title\n1,A\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFetcher_RespectsRobots(t *testing.T) {
	var hits int32
	ts := newSite(t, &hits)
	f := newFetcher(true)
	dst := filepath.Join(t.TempDir(), "blocked.csv")

	_, err := f.Download(context.Background(), ts.URL+"/private/data.csv", dst)
	assert.True(t, errors.Is(err, fetcher.ErrDisallowed))
	assert.NoFileExists(t, dst)

	_, err = f.Download(context.Background(), ts.URL+"/private/data.csv", dst)
	assert.True(t, errors.Is(err, fetcher.ErrDisallowed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "robots.txt should be cached")
}

func TestParsePage_TwitterImageFallback(t *testing.T) {
	page := &fetcher.Page{URL: "https://example.com/movie/1"}
	err := fetcher.ParsePage(strings.NewReader(
		`<html><head><meta name="twitter:image" content="https://cdn.example.com/a.jpg"></head></html>`), page)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.jpg", page.Image)
	assert.Empty(t, page.Title)
}
