package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/recommender/internal/api"
	"github.com/knowledge-engine/recommender/internal/catalog"
	"github.com/knowledge-engine/recommender/internal/engine"
	"github.com/knowledge-engine/recommender/internal/poster"
	"github.com/knowledge-engine/recommender/internal/storage"
)

// Mocks

type MockSource struct {
	mock.Mock
}

func (m *MockSource) Items(ctx context.Context) ([]catalog.Item, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]catalog.Item)
	return items, args.Error(1)
}

type MockPosterProvider struct {
	mock.Mock
}

func (m *MockPosterProvider) Poster(ctx context.Context, id int) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockPosterProvider) Name() string {
	return "mock"
}

func corpus() []catalog.Item {
	return []catalog.Item{
		{ID: 1, Title: "A", Groups: []catalog.AttributeGroup{catalog.FreeText("overview", "space war alien")}},
		{ID: 2, Title: "B", Groups: []catalog.AttributeGroup{catalog.FreeText("overview", "space war")}},
		{ID: 3, Title: "C", Groups: []catalog.AttributeGroup{catalog.FreeText("overview", "romance drama")}},
		{ID: 4, Title: "D"},
	}
}

func setupServer(t *testing.T, build bool, resolver *poster.Resolver) (*api.Server, *engine.Engine) {
	t.Helper()
	src := new(MockSource)
	src.On("Items", mock.Anything).Return(corpus(), nil)
	store, err := storage.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	logger := logrus.New().WithField("test", "api")
	eng, err := engine.New(engine.Options{Workers: 2, DefaultK: 2, MaxK: 10}, src, store, resolver, logger)
	require.NoError(t, err)
	if build {
		_, err := eng.Build(context.Background())
		require.NoError(t, err)
	}
	return api.NewServer(eng, logger), eng
}

func do(s *api.Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHandleRecommend(t *testing.T) {
	s, _ := setupServer(t, true, nil)

	w := do(s, http.MethodGet, "/api/v1/recommend?title=A")
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.RecommendResponse
	decode(t, w, &resp)
	assert.Equal(t, "A", resp.Query.Title)
	assert.Equal(t, 2, resp.K)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "B", resp.Items[0].Title)
	assert.Equal(t, 2, resp.Items[0].ID)
	assert.False(t, resp.Items[0].Padded)
	assert.Equal(t, "C", resp.Items[1].Title)
	assert.True(t, resp.Items[1].Padded)
	assert.Nil(t, resp.Items[0].Poster)
}

func TestHandleRecommend_ByIDWithK(t *testing.T) {
	s, _ := setupServer(t, true, nil)

	w := do(s, http.MethodGet, "/api/v1/recommend?id=4&k=3")
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.RecommendResponse
	decode(t, w, &resp)
	assert.Equal(t, "D", resp.Query.Title)
	require.Len(t, resp.Items, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{resp.Items[0].Title, resp.Items[1].Title, resp.Items[2].Title})
}

func TestHandleRecommend_WithPosters(t *testing.T) {
	p := new(MockPosterProvider)
	p.On("Poster", mock.Anything, 2).Return("https://img/2.jpg", nil)
	p.On("Poster", mock.Anything, 3).Return("", poster.ErrNoPoster)
	resolver, err := poster.NewResolver(p, poster.ResolverOptions{Placeholder: "https://img/none.jpg", CacheSize: 8}, nil)
	require.NoError(t, err)
	s, _ := setupServer(t, true, resolver)

	w := do(s, http.MethodGet, "/api/v1/recommend?title=A&posters=true")
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.RecommendResponse
	decode(t, w, &resp)
	require.Len(t, resp.Items, 2)
	require.NotNil(t, resp.Items[0].Poster)
	assert.Equal(t, poster.Found(2, "https://img/2.jpg"), *resp.Items[0].Poster)
	assert.Equal(t, poster.Unavailable(3, "https://img/none.jpg"), *resp.Items[1].Poster)
}

func TestHandleRecommend_NotFound(t *testing.T) {
	s, _ := setupServer(t, true, nil)

	w := do(s, http.MethodGet, "/api/v1/recommend?title=a")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp api.ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, `item not found: "a"`, resp.Error)
	require.Len(t, resp.Suggestions, 1)
	assert.Equal(t, "A", resp.Suggestions[0].Title)

	w = do(s, http.MethodGet, "/api/v1/recommend?id=99")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRecommend_BadRequests(t *testing.T) {
	s, _ := setupServer(t, true, nil)

	tests := []struct {
		name   string
		method string
		target string
		code   int
	}{
		{"missing query", http.MethodGet, "/api/v1/recommend", http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/v1/recommend?id=x", http.StatusBadRequest},
		{"bad k", http.MethodGet, "/api/v1/recommend?title=A&k=0", http.StatusBadRequest},
		{"k above max", http.MethodGet, "/api/v1/recommend?title=A&k=11", http.StatusBadRequest},
		{"wrong method", http.MethodPost, "/api/v1/recommend?title=A", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, do(s, tt.method, tt.target).Code)
		})
	}
}

func TestHandleRecommend_NotReady(t *testing.T) {
	s, _ := setupServer(t, false, nil)

	assert.Equal(t, http.StatusServiceUnavailable, do(s, http.MethodGet, "/api/v1/recommend?title=A").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(s, http.MethodGet, "/api/v1/items").Code)
}

func TestHandleItems(t *testing.T) {
	s, _ := setupServer(t, true, nil)

	w := do(s, http.MethodGet, "/api/v1/items?limit=3")
	require.Equal(t, http.StatusOK, w.Code)
	var resp api.ItemsResponse
	decode(t, w, &resp)
	require.Len(t, resp.Items, 3)
	assert.Equal(t, "A", resp.Items[0].Title)

	w = do(s, http.MethodGet, "/api/v1/items?prefix=c")
	decode(t, w, &resp)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 3, resp.Items[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/v1/items?limit=0").Code)
}

func TestHandlePosters_WithoutProvider(t *testing.T) {
	s, _ := setupServer(t, true, nil)

	w := do(s, http.MethodGet, "/api/v1/posters?id=1&id=2")
	require.Equal(t, http.StatusOK, w.Code)
	var resp api.PostersResponse
	decode(t, w, &resp)
	assert.Equal(t, []poster.Result{poster.Unavailable(1, ""), poster.Unavailable(2, "")}, resp.Posters)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/v1/posters").Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/v1/posters?id=x").Code)
}

func TestHandleStatusAndRebuild(t *testing.T) {
	s, eng := setupServer(t, true, nil)
	before := eng.Status().Version

	w := do(s, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code)
	var status api.StatusResponse
	decode(t, w, &status)
	assert.True(t, status.Ready)
	assert.Equal(t, 4, status.Items)
	assert.Equal(t, before, status.Version)

	assert.Equal(t, http.StatusMethodNotAllowed, do(s, http.MethodGet, "/api/v1/rebuild").Code)
	assert.Equal(t, http.StatusAccepted, do(s, http.MethodPost, "/api/v1/rebuild").Code)

	assert.Eventually(t, func() bool {
		st := eng.Status()
		return !st.Building && st.Version != before
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandleRebuild_Conflict(t *testing.T) {
	release := make(chan struct{})
	src := new(MockSource)
	src.On("Items", mock.Anything).Run(func(mock.Arguments) { <-release }).Return(corpus(), nil)
	store, err := storage.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	eng, err := engine.New(engine.Options{Workers: 2, DefaultK: 2, MaxK: 10}, src, store, nil, nil)
	require.NoError(t, err)
	s := api.NewServer(eng, nil)

	assert.Equal(t, http.StatusAccepted, do(s, http.MethodPost, "/api/v1/rebuild").Code)
	assert.Equal(t, http.StatusConflict, do(s, http.MethodPost, "/api/v1/rebuild").Code)

	close(release)
	assert.Eventually(t, func() bool {
		st := eng.Status()
		return st.Ready && !st.Building
	}, 5*time.Second, 10*time.Millisecond)
	src.AssertNumberOfCalls(t, "Items", 1)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := setupServer(t, true, nil)
	do(s, http.MethodGet, "/api/v1/recommend?title=A")

	w := do(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "recommender_recommendations_total"))
}
