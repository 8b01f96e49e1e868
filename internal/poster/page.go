package poster

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/knowledge-engine/recommender/internal/fetcher"
)

// PageFetcher downloads an HTML page's metadata
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string) (*fetcher.Page, error)
}

// PageProvider reads the og:image of a public item page. URLTemplate takes
// the id as its only verb, e.g. "https://www.themoviedb.org/movie/%d".
type PageProvider struct {
	URLTemplate string
	pages       PageFetcher
}

func NewPageProvider(urlTemplate string, pages PageFetcher) *PageProvider {
	return &PageProvider{URLTemplate: urlTemplate, pages: pages}
}

func (p *PageProvider) Name() string {
	return "page"
}

func (p *PageProvider) Poster(ctx context.Context, id int) (string, error) {
	page, err := p.pages.FetchPage(ctx, fmt.Sprintf(p.URLTemplate, id))
	if err != nil {
		var se *fetcher.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("page for %d: %w", id, ErrNoPoster)
		}
		if errors.Is(err, fetcher.ErrDisallowed) {
			return "", fmt.Errorf("page for %d: %w: %v", id, ErrNoPoster, err)
		}
		return "", err
	}
	if page.Image == "" {
		return "", fmt.Errorf("page for %d: %w", id, ErrNoPoster)
	}
	return page.Image, nil
}
