// Package poster resolves item ids to poster image URLs. Lookups are best
// effort: a failed lookup yields an Unavailable result, never an error.
package poster

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/recommender/internal/config"
	"github.com/knowledge-engine/recommender/internal/fetcher"
)

// ErrNoPoster is returned by a provider that has no image for the id
var ErrNoPoster = errors.New("no poster")

// Provider defines the interface for a poster lookup service
type Provider interface {
	Poster(ctx context.Context, id int) (string, error)
	Name() string
}

type Status string

const (
	StatusFound       Status = "found"
	StatusUnavailable Status = "unavailable"
)

// Result is the outcome of one lookup. For Unavailable results URL holds the
// placeholder, if one is configured.
type Result struct {
	ID     int    `json:"id"`
	Status Status `json:"status"`
	URL    string `json:"url"`
}

func Found(id int, url string) Result {
	return Result{ID: id, Status: StatusFound, URL: url}
}

func Unavailable(id int, placeholder string) Result {
	return Result{ID: id, Status: StatusUnavailable, URL: placeholder}
}

// OK reports whether the poster was found
func (r Result) OK() bool {
	return r.Status == StatusFound
}

// NewProvider builds the provider named in cfg. "none" returns nil, which a
// Resolver treats as always unavailable.
func NewProvider(cfg config.PosterConfig, f *fetcher.Fetcher) (Provider, error) {
	switch cfg.Provider {
	case "tmdb":
		return NewTMDBProvider(cfg.BaseURL, cfg.APIKey, cfg.ImageBaseURL, f), nil
	case "page":
		return NewPageProvider(cfg.PageURLTemplate, f), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown poster provider %q", cfg.Provider)
	}
}

// NewResolverFromConfig wires a provider and resolver from configuration
func NewResolverFromConfig(cfg config.PosterConfig, f *fetcher.Fetcher, logger *logrus.Entry) (*Resolver, error) {
	p, err := NewProvider(cfg, f)
	if err != nil {
		return nil, err
	}
	return NewResolver(p, ResolverOptions{
		Placeholder:      cfg.Placeholder,
		Timeout:          cfg.Timeout,
		RatePerSecond:    cfg.RatePerSecond,
		Burst:            cfg.Burst,
		CacheSize:        cfg.CacheSize,
		FailureThreshold: uint32(max(cfg.FailureThreshold, 1)),
		OpenTimeout:      cfg.OpenTimeout,
	}, logger)
}
