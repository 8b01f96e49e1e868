// Package engine orchestrates the offline build (raw items to similarity
// index) and serves recommendation queries from the built index.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/recommender/internal/catalog"
	"github.com/knowledge-engine/recommender/internal/config"
	"github.com/knowledge-engine/recommender/internal/index"
	"github.com/knowledge-engine/recommender/internal/ingest"
	"github.com/knowledge-engine/recommender/internal/metrics"
	"github.com/knowledge-engine/recommender/internal/poster"
	"github.com/knowledge-engine/recommender/internal/search"
	"github.com/knowledge-engine/recommender/internal/storage"
	"github.com/knowledge-engine/recommender/internal/textproc"
)

// ErrNotReady is returned by queries before an index has been built or loaded
var ErrNotReady = errors.New("index not ready")

// ErrBuildRunning is returned by StartBuild while another build is in progress
var ErrBuildRunning = errors.New("a build is already running")

// KRangeError is returned when a query asks for more results than MaxK
type KRangeError struct {
	K   int
	Max int
}

func (e *KRangeError) Error() string {
	return fmt.Sprintf("k=%d exceeds the maximum of %d", e.K, e.Max)
}

// Options holds the engine tunables
type Options struct {
	MaxFeatures    int
	RankedLimit    int
	MinTokenLength int
	Workers        int
	DefaultK       int
	MaxK           int
	MinScore       float64
}

// OptionsFromConfig maps the corpus and recommend sections onto Options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxFeatures:    cfg.Corpus.MaxFeatures,
		RankedLimit:    cfg.Corpus.CastLimit,
		MinTokenLength: cfg.Corpus.MinTokenLength,
		Workers:        cfg.Corpus.Workers,
		DefaultK:       cfg.Recommend.DefaultK,
		MaxK:           cfg.Recommend.MaxK,
		MinScore:       cfg.Recommend.MinScore,
	}
}

// Engine owns the serving index. Builds are serialized; queries read the
// current index without locking and never see a partially built one.
type Engine struct {
	opts       Options
	source     ingest.Source
	store      storage.ArtifactStore
	posters    *poster.Resolver
	normalizer *textproc.Normalizer
	stopWords  map[string]bool
	logger     *logrus.Entry

	index   atomic.Pointer[index.Index]
	buildMu sync.Mutex

	mu    sync.RWMutex
	stats EngineStats
}

// EngineStats describes the serving index and the last build
type EngineStats struct {
	Ready      bool      `json:"ready"`
	Building   bool      `json:"building"`
	Version    string    `json:"version,omitempty"`
	BuiltAt    time.Time `json:"built_at"`
	Items      int       `json:"items"`
	Vocabulary int       `json:"vocabulary"`
	Posters    string    `json:"poster_provider"`
	LastError  string    `json:"last_error,omitempty"`
}

// BuildReport summarizes one successful build
type BuildReport struct {
	Version     string                   `json:"version"`
	Items       int                      `json:"items"`
	Vocabulary  int                      `json:"vocabulary"`
	ZeroVectors int                      `json:"zero_vectors"`
	Duration    time.Duration            `json:"duration"`
	Phases      map[string]time.Duration `json:"phases"`
}

// New creates an engine. posters may be nil.
func New(opts Options, source ingest.Source, store storage.ArtifactStore, posters *poster.Resolver, logger *logrus.Entry) (*Engine, error) {
	if logger == nil {
		logger = logrus.WithField("component", "engine")
	}
	if opts.DefaultK <= 0 {
		opts.DefaultK = 5
	}
	if opts.MaxK < opts.DefaultK {
		opts.MaxK = opts.DefaultK
	}

	normalizer, err := textproc.NewNormalizer(textproc.Options{RankedLimit: opts.RankedLimit}, logger.WithField("component", "normalizer"))
	if err != nil {
		return nil, err
	}
	stopWords, err := textproc.EnglishStopWords()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:       opts,
		source:     source,
		store:      store,
		posters:    posters,
		normalizer: normalizer,
		stopWords:  stopWords,
		logger:     logger,
	}
	e.stats.Posters = "none"
	if posters != nil {
		e.stats.Posters = posters.Name()
	}
	return e, nil
}

// Build runs the whole pipeline and commits the result. On any error the
// previously committed snapshot and serving index stay in place.
func (e *Engine) Build(ctx context.Context) (*BuildReport, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	e.setBuilding(true)
	return e.finishBuild(ctx)
}

// StartBuild runs Build in the background, or returns ErrBuildRunning when
// another build holds the engine. done, if non-nil, receives the outcome.
func (e *Engine) StartBuild(ctx context.Context, done func(*BuildReport, error)) error {
	if !e.buildMu.TryLock() {
		return ErrBuildRunning
	}
	e.setBuilding(true)

	go func() {
		report, err := e.finishBuild(ctx)
		e.buildMu.Unlock()
		if done != nil {
			done(report, err)
		}
	}()
	return nil
}

// finishBuild runs the pipeline and records the outcome. buildMu must be held.
func (e *Engine) finishBuild(ctx context.Context) (*BuildReport, error) {
	report, err := e.build(ctx)
	e.mu.Lock()
	e.stats.Building = false
	if err != nil {
		e.stats.LastError = err.Error()
	} else {
		e.stats.LastError = ""
	}
	e.mu.Unlock()

	if err != nil {
		metrics.BuildsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.BuildsTotal.WithLabelValues("success").Inc()
	return report, nil
}

func (e *Engine) build(ctx context.Context) (*BuildReport, error) {
	start := time.Now()
	report := &BuildReport{Phases: make(map[string]time.Duration)}
	phase := func(name string, t time.Time) {
		d := time.Since(t)
		report.Phases[name] = d
		metrics.BuildDuration.WithLabelValues(name).Observe(d.Seconds())
		e.logger.WithFields(logrus.Fields{"phase": name, "elapsed": d}).Debug("Build phase done")
	}

	t := time.Now()
	items, err := e.source.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("source returned no items")
	}
	phase("ingest", t)

	t = time.Now()
	docs := make([]string, len(items))
	for i, bag := range e.normalizer.NormalizeAll(items, e.opts.Workers) {
		docs[i] = bag.String()
	}
	phase("normalize", t)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t = time.Now()
	vectorizer := search.NewCountVectorizer(search.Options{
		MaxFeatures:    e.opts.MaxFeatures,
		StopWords:      e.stopWords,
		MinTokenLength: e.opts.MinTokenLength,
	})
	vocab, err := vectorizer.Fit(docs)
	if err != nil {
		return nil, fmt.Errorf("failed to fit vocabulary: %w", err)
	}
	vectors := vectorizer.TransformAll(docs, e.opts.Workers)
	for _, v := range vectors {
		if v.IsZero() {
			report.ZeroVectors++
		}
	}
	phase("vectorize", t)

	t = time.Now()
	matrix, err := search.BuildSimilarity(vectors, vocab.Len(), e.opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to build similarity matrix: %w", err)
	}
	phase("similarity", t)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx, err := index.New(entries(items, docs), matrix)
	if err != nil {
		return nil, err
	}

	t = time.Now()
	snap := &storage.Snapshot{
		Items:      idx.Entries(),
		Vocabulary: vocab.Terms(),
		Matrix:     matrix,
	}
	if err := e.store.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	phase("save", t)

	e.swap(idx, snap)

	report.Version = snap.Version
	report.Items = len(items)
	report.Vocabulary = vocab.Len()
	report.Duration = time.Since(start)
	e.logger.WithFields(logrus.Fields{
		"version":      report.Version,
		"items":        report.Items,
		"vocabulary":   report.Vocabulary,
		"zero_vectors": report.ZeroVectors,
		"duration":     report.Duration,
	}).Info("Index built")
	return report, nil
}

// Load serves the committed snapshot, building one first if none exists.
func (e *Engine) Load(ctx context.Context) error {
	snap, err := e.store.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Info("No committed snapshot, building index")
		_, err = e.Build(ctx)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	idx, err := index.New(snap.Items, snap.Matrix)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", snap.Version, err)
	}
	e.swap(idx, snap)
	e.logger.WithFields(logrus.Fields{
		"version": snap.Version,
		"items":   idx.Len(),
	}).Info("Index loaded")
	return nil
}

// Recommend answers one query. k <= 0 uses the default; k above MaxK is a
// *KRangeError.
func (e *Engine) Recommend(ctx context.Context, q index.Query, k int) (*index.Result, error) {
	idx := e.index.Load()
	if idx == nil {
		return nil, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if k > e.opts.MaxK {
		metrics.Recommendations.WithLabelValues("invalid").Inc()
		return nil, &KRangeError{K: k, Max: e.opts.MaxK}
	}
	if k <= 0 {
		k = e.opts.DefaultK
	}

	res, err := idx.Recommend(q, index.Options{K: k, MinScore: e.opts.MinScore})
	if err != nil {
		var nf *index.NotFoundError
		if errors.As(err, &nf) {
			metrics.Recommendations.WithLabelValues("not_found").Inc()
		} else {
			metrics.Recommendations.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	metrics.Recommendations.WithLabelValues("ok").Inc()
	for _, it := range res.Items {
		if it.Padded {
			metrics.PaddedResults.Inc()
		}
	}
	return res, nil
}

// Posters resolves poster URLs for ids, in order. Without a resolver every
// result is Unavailable.
func (e *Engine) Posters(ctx context.Context, ids []int) []poster.Result {
	if e.posters == nil {
		out := make([]poster.Result, len(ids))
		for i, id := range ids {
			out[i] = poster.Unavailable(id, "")
		}
		return out
	}
	return e.posters.ResolveAll(ctx, ids)
}

// Index returns the serving index, or nil before the first build or load
func (e *Engine) Index() *index.Index {
	return e.index.Load()
}

// Status returns a copy of the engine statistics
func (e *Engine) Status() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// DefaultK returns the result count used when a query gives none
func (e *Engine) DefaultK() int {
	return e.opts.DefaultK
}

// MaxK returns the largest result count a query may ask for
func (e *Engine) MaxK() int {
	return e.opts.MaxK
}

func (e *Engine) swap(idx *index.Index, snap *storage.Snapshot) {
	e.index.Store(idx)

	e.mu.Lock()
	e.stats.Ready = true
	e.stats.Version = snap.Version
	e.stats.BuiltAt = snap.BuiltAt
	e.stats.Items = idx.Len()
	e.stats.Vocabulary = len(snap.Vocabulary)
	e.mu.Unlock()

	metrics.CorpusItems.Set(float64(idx.Len()))
	metrics.VocabularySize.Set(float64(len(snap.Vocabulary)))
}

func (e *Engine) setBuilding(b bool) {
	e.mu.Lock()
	e.stats.Building = b
	e.mu.Unlock()
}

func entries(items []catalog.Item, docs []string) []catalog.Entry {
	out := make([]catalog.Entry, len(items))
	for i, it := range items {
		out[i] = catalog.Entry{ID: it.ID, Title: it.Title, Tags: docs[i]}
	}
	return out
}
