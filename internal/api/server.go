package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/recommender/internal/catalog"
	"github.com/knowledge-engine/recommender/internal/engine"
	"github.com/knowledge-engine/recommender/internal/index"
	"github.com/knowledge-engine/recommender/internal/metrics"
	"github.com/knowledge-engine/recommender/internal/poster"
)

const (
	defaultItemsLimit = 50
	maxItemsLimit     = 1000
	maxPosterIDs      = 100
	suggestionLimit   = 5
)

type Server struct {
	Engine  *engine.Engine
	Logger  *logrus.Entry
	Router  *http.ServeMux
	started time.Time
}

func NewServer(eng *engine.Engine, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.WithField("component", "api")
	}
	s := &Server{
		Engine:  eng,
		Logger:  logger,
		Router:  http.NewServeMux(),
		started: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("/api/v1/recommend", s.handleRecommend)
	s.handle("/api/v1/items", s.handleItems)
	s.handle("/api/v1/posters", s.handlePosters)
	s.handle("/api/v1/status", s.handleStatus)
	s.handle("/api/v1/rebuild", s.handleRebuild)
	s.Router.Handle("/metrics", promhttp.Handler())
}

// handle registers fn and counts its responses by status code
func (s *Server) handle(route string, fn http.HandlerFunc) {
	s.Router.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		fn(rec, r)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.Router
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Infof("Starting API Server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Logger.Info("Shutting down API Server")
		return srv.Shutdown(shutdownCtx)
	}
}

// Responses
type ErrorResponse struct {
	Error       string     `json:"error"`
	Suggestions []ItemView `json:"suggestions,omitempty"`
}

type ItemView struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

type RecommendationView struct {
	Rank   int            `json:"rank"`
	ID     int            `json:"id"`
	Title  string         `json:"title"`
	Score  float64        `json:"score"`
	Padded bool           `json:"padded"`
	Poster *poster.Result `json:"poster,omitempty"`
}

type RecommendResponse struct {
	Query ItemView             `json:"query"`
	K     int                  `json:"k"`
	Items []RecommendationView `json:"items"`
}

type ItemsResponse struct {
	Prefix string     `json:"prefix"`
	Items  []ItemView `json:"items"`
}

type PostersResponse struct {
	Posters []poster.Result `json:"posters"`
}

type StatusResponse struct {
	engine.EngineStats
	Uptime string `json:"uptime"`
}

// Handlers

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params := r.URL.Query()
	var q index.Query
	switch {
	case params.Get("id") != "":
		id, err := strconv.Atoi(params.Get("id"))
		if err != nil {
			jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Parameter 'id' must be an integer"})
			return
		}
		q = index.ByID(id)
	case params.Get("title") != "":
		q = index.ByTitle(params.Get("title"))
	default:
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Parameter 'title' or 'id' is required"})
		return
	}

	k := 0
	if raw := params.Get("k"); raw != "" {
		var err error
		if k, err = strconv.Atoi(raw); err != nil || k < 1 {
			jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Parameter 'k' must be a positive integer"})
			return
		}
	}

	res, err := s.Engine.Recommend(r.Context(), q, k)
	if err != nil {
		s.recommendError(w, q, err)
		return
	}

	response := RecommendResponse{
		Query: ItemView{ID: res.Query.ID, Title: res.Query.Title},
		K:     len(res.Items),
		Items: make([]RecommendationView, len(res.Items)),
	}
	ids := make([]int, len(res.Items))
	for i, it := range res.Items {
		response.Items[i] = RecommendationView{
			Rank:   it.Rank,
			ID:     it.ID,
			Title:  it.Title,
			Score:  it.Score,
			Padded: it.Padded,
		}
		ids[i] = it.ID
	}

	if withPosters, _ := strconv.ParseBool(params.Get("posters")); withPosters {
		for i, p := range s.Engine.Posters(r.Context(), ids) {
			response.Items[i].Poster = &p
		}
	}

	jsonResponse(w, http.StatusOK, response)
}

func (s *Server) recommendError(w http.ResponseWriter, q index.Query, err error) {
	var nf *index.NotFoundError
	switch {
	case errors.As(err, &nf):
		resp := ErrorResponse{Error: err.Error()}
		if idx := s.Engine.Index(); idx != nil && !q.ByID {
			resp.Suggestions = itemViews(idx.Titles(q.Title, suggestionLimit))
		}
		jsonResponse(w, http.StatusNotFound, resp)
	case errors.As(err, new(*engine.KRangeError)):
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, engine.ErrNotReady):
		jsonResponse(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	default:
		s.Logger.WithError(err).WithField("query", q.String()).Error("Recommendation failed")
		jsonResponse(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idx := s.Engine.Index()
	if idx == nil {
		jsonResponse(w, http.StatusServiceUnavailable, ErrorResponse{Error: engine.ErrNotReady.Error()})
		return
	}

	limit := defaultItemsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxItemsLimit {
			jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Parameter 'limit' must be between 1 and 1000"})
			return
		}
		limit = n
	}

	prefix := r.URL.Query().Get("prefix")
	jsonResponse(w, http.StatusOK, ItemsResponse{
		Prefix: prefix,
		Items:  itemViews(idx.Titles(prefix, limit)),
	})
}

func (s *Server) handlePosters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := r.URL.Query()["id"]
	if len(raw) == 0 || len(raw) > maxPosterIDs {
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Between 1 and 100 'id' parameters are required"})
		return
	}
	ids := make([]int, len(raw))
	for i, v := range raw {
		id, err := strconv.Atoi(v)
		if err != nil {
			jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Parameter 'id' must be an integer"})
			return
		}
		ids[i] = id
	}

	jsonResponse(w, http.StatusOK, PostersResponse{Posters: s.Engine.Posters(r.Context(), ids)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, StatusResponse{
		EngineStats: s.Engine.Status(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	err := s.Engine.StartBuild(context.Background(), func(report *engine.BuildReport, err error) {
		if err != nil {
			s.Logger.WithError(err).Error("Rebuild failed")
			return
		}
		s.Logger.WithField("version", report.Version).Info("Rebuild finished")
	})
	if errors.Is(err, engine.ErrBuildRunning) {
		jsonResponse(w, http.StatusConflict, ErrorResponse{Error: "A rebuild is already running"})
		return
	}

	jsonResponse(w, http.StatusAccepted, map[string]string{"status": "rebuild_started"})
}

func itemViews(entries []catalog.Entry) []ItemView {
	out := make([]ItemView, len(entries))
	for i, e := range entries {
		out[i] = ItemView{ID: e.ID, Title: e.Title}
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func jsonResponse(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
