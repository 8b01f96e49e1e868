package poster

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/knowledge-engine/recommender/internal/metrics"
	"github.com/knowledge-engine/recommender/internal/workpool"
)

// ResolverOptions configures a Resolver
type ResolverOptions struct {
	Placeholder      string
	Timeout          time.Duration // per lookup
	RatePerSecond    float64       // <= 0 disables limiting
	Burst            int
	CacheSize        int // <= 0 disables caching
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Workers          int
}

// Resolver wraps a Provider with a rate limit, a circuit breaker and a
// cache of definitive answers. It is safe for concurrent use.
type Resolver struct {
	provider Provider
	name     string
	opts     ResolverOptions
	limiter  *rate.Limiter
	cb       *gobreaker.CircuitBreaker[string]
	cache    *lru.Cache[int, Result]
	logger   *logrus.Entry
}

// NewResolver creates a resolver. A nil provider makes every lookup Unavailable.
func NewResolver(p Provider, opts ResolverOptions, logger *logrus.Entry) (*Resolver, error) {
	if logger == nil {
		logger = logrus.WithField("component", "poster_resolver")
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}

	r := &Resolver{provider: p, name: "none", opts: opts, logger: logger}
	if p != nil {
		r.name = p.Name()
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	r.limiter = rate.NewLimiter(limit, max(opts.Burst, 1))

	if opts.CacheSize > 0 {
		cache, err := lru.New[int, Result](opts.CacheSize)
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}

	metrics.PosterBreakerState.WithLabelValues(r.name).Set(0)
	r.cb = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "poster-" + r.name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		// a missing poster is an answer, not a provider failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoPoster)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("Poster circuit breaker state change")
			metrics.PosterBreakerState.WithLabelValues(r.name).Set(float64(to))
		},
	})
	return r, nil
}

// Name returns the provider name
func (r *Resolver) Name() string {
	return r.name
}

// Resolve looks up one id. Failures degrade to Unavailable.
func (r *Resolver) Resolve(ctx context.Context, id int) Result {
	if r.provider == nil {
		return r.unavailable(id, "disabled")
	}
	if r.cache != nil {
		if res, ok := r.cache.Get(id); ok {
			metrics.PosterLookups.WithLabelValues(r.name, "cached").Inc()
			return res
		}
	}

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return r.unavailable(id, "rate_limited")
	}

	url, err := r.cb.Execute(func() (string, error) {
		return r.provider.Poster(ctx, id)
	})
	switch {
	case err == nil:
		res := Found(id, url)
		r.remember(res)
		metrics.PosterLookups.WithLabelValues(r.name, "found").Inc()
		return res
	case errors.Is(err, ErrNoPoster):
		res := r.unavailable(id, "missing")
		r.remember(res)
		return res
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return r.unavailable(id, "rejected")
	default:
		r.logger.WithError(err).WithField("id", id).Debug("Poster lookup failed")
		return r.unavailable(id, "error")
	}
}

// ResolveAll looks up every id concurrently. Results keep the order of ids.
func (r *Resolver) ResolveAll(ctx context.Context, ids []int) []Result {
	results := make([]Result, len(ids))
	workpool.ForEach(len(ids), workpool.Workers(r.opts.Workers, len(ids)), func(i int) {
		results[i] = r.Resolve(ctx, ids[i])
	})
	return results
}

func (r *Resolver) unavailable(id int, outcome string) Result {
	metrics.PosterLookups.WithLabelValues(r.name, outcome).Inc()
	return Unavailable(id, r.opts.Placeholder)
}

func (r *Resolver) remember(res Result) {
	if r.cache != nil {
		r.cache.Add(res.ID, res)
	}
}
