package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

// ErrDisallowed is returned when robots.txt forbids the request
var ErrDisallowed = errors.New("blocked by robots.txt")

// StatusError reports a non-200 response
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("received non-200 status code %d from %s", e.StatusCode, e.URL)
}

// Page contains the metadata extracted from an HTML page
type Page struct {
	URL        string
	Title      string
	Image      string // og:image, resolved against URL
	StatusCode int
}

type Options struct {
	Timeout       time.Duration
	UserAgent     string
	RespectRobots bool
}

type Fetcher struct {
	client    *http.Client
	userAgent string
	robots    *Robots
	logger    *logrus.Entry
}

func NewFetcher(opts Options, logger *logrus.Entry) *Fetcher {
	if logger == nil {
		logger = logrus.WithField("component", "fetcher")
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Recommender/1.0"
	}
	client := &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	f := &Fetcher{
		client:    client,
		userAgent: opts.UserAgent,
		logger:    logger,
	}
	if opts.RespectRobots {
		f.robots = NewRobots(client, opts.UserAgent, 24*time.Hour, logger)
	}
	return f
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// FetchPage downloads a page and extracts its title and og:image
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) (*Page, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	page := &Page{URL: rawURL, StatusCode: resp.StatusCode}
	if err := ParsePage(resp.Body, page); err != nil {
		return nil, fmt.Errorf("parsing error: %w", err)
	}
	return page, nil
}

// GetJSON fetches rawURL and decodes the body into v
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).DecodeContext(ctx, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Download writes the body of rawURL to dst. The file only appears once the
// body has been fully written.
func (f *Fetcher) Download(ctx context.Context, rawURL, dst string) (int64, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("failed to move download into place: %w", err)
	}

	f.logger.WithFields(logrus.Fields{"url": rawURL, "path": dst, "bytes": n}).Info("Downloaded file")
	return n, nil
}

// ParsePage fills page.Title and page.Image from an HTML document
func ParsePage(body io.Reader, page *Page) error {
	tokenizer := html.NewTokenizer(body)
	inTitle := false

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if tokenizer.Err() == io.EOF {
				return nil
			}
			return tokenizer.Err()

		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			switch token.Data {
			case "title":
				inTitle = true
			case "meta":
				if page.Image == "" {
					page.Image = metaImage(token.Attr, page.URL)
				}
			}

		case html.EndTagToken:
			if tokenizer.Token().Data == "title" {
				inTitle = false
			}

		case html.TextToken:
			if inTitle && page.Title == "" {
				page.Title = cleanText(tokenizer.Token().Data)
			}
		}
	}
}

func metaImage(attrs []html.Attribute, base string) string {
	var key, content string
	for _, attr := range attrs {
		switch attr.Key {
		case "property", "name":
			key = strings.ToLower(attr.Val)
		case "content":
			content = attr.Val
		}
	}
	if key != "og:image" && key != "twitter:image" {
		return ""
	}
	return resolveLink(content, base)
}

// cleanText removes excessive whitespace
func cleanText(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

// resolveLink handles relative URLs
func resolveLink(href, baseURL string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	if strings.HasPrefix(href, "http") {
		return href
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
