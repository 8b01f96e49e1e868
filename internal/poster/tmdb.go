package poster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/knowledge-engine/recommender/internal/fetcher"
)

// JSONGetter fetches and decodes a JSON document
type JSONGetter interface {
	GetJSON(ctx context.Context, rawURL string, v any) error
}

// TMDBProvider looks posters up through the TMDB movie details API
type TMDBProvider struct {
	BaseURL      string
	APIKey       string
	ImageBaseURL string
	client       JSONGetter
}

func NewTMDBProvider(baseURL, apiKey, imageBaseURL string, client JSONGetter) *TMDBProvider {
	if baseURL == "" {
		baseURL = "https://api.themoviedb.org/3"
	}
	return &TMDBProvider{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		ImageBaseURL: strings.TrimRight(imageBaseURL, "/"),
		client:       client,
	}
}

func (p *TMDBProvider) Name() string {
	return "tmdb"
}

func (p *TMDBProvider) Poster(ctx context.Context, id int) (string, error) {
	q := url.Values{}
	q.Set("api_key", p.APIKey)
	q.Set("language", "en-US")
	endpoint := fmt.Sprintf("%s/movie/%d?%s", p.BaseURL, id, q.Encode())

	var result struct {
		PosterPath string `json:"poster_path"`
	}
	if err := p.client.GetJSON(ctx, endpoint, &result); err != nil {
		var se *fetcher.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("movie %d: %w", id, ErrNoPoster)
		}
		return "", err
	}
	if result.PosterPath == "" {
		return "", fmt.Errorf("movie %d: %w", id, ErrNoPoster)
	}
	return p.ImageBaseURL + "/" + strings.TrimLeft(result.PosterPath, "/"), nil
}
