package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// Robots answers robots.txt checks and caches the parsed file per origin
type Robots struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	logger    *logrus.Entry
	cache     map[string]*robotsEntry
	mu        sync.RWMutex
}

type robotsEntry struct {
	robots    *robotstxt.RobotsData
	fetchTime time.Time
}

func NewRobots(client *http.Client, userAgent string, ttl time.Duration, logger *logrus.Entry) *Robots {
	if logger == nil {
		logger = logrus.WithField("component", "robots")
	}
	return &Robots{
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		logger:    logger,
		cache:     make(map[string]*robotsEntry),
	}
}

// Allowed reports whether rawURL may be fetched. Failing to fetch robots.txt
// allows the request.
func (r *Robots) Allowed(ctx context.Context, rawURL string) (bool, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("invalid URL: %w", err)
	}

	robotsData, err := r.get(ctx, parsedURL.Scheme, parsedURL.Host)
	if err != nil {
		r.logger.WithError(err).WithField("domain", parsedURL.Host).Warn("Failed to get robots.txt, allowing request")
		return true, nil
	}
	if robotsData == nil {
		return true, nil
	}

	group := robotsData.FindGroup(r.userAgent)
	if group == nil {
		return true, nil
	}
	return group.Test(parsedURL.Path), nil
}

func (r *Robots) get(ctx context.Context, scheme, host string) (*robotstxt.RobotsData, error) {
	origin := scheme + "://" + host

	r.mu.RLock()
	entry, exists := r.cache[origin]
	r.mu.RUnlock()
	if exists && time.Since(entry.fetchTime) < r.ttl {
		return entry.robots, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create robots.txt request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	var robotsData *robotstxt.RobotsData
	if resp.StatusCode == http.StatusOK {
		robotsData, err = robotstxt.FromResponse(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse robots.txt: %w", err)
		}
	}

	// cached even when nil (404)
	r.mu.Lock()
	r.cache[origin] = &robotsEntry{robots: robotsData, fetchTime: time.Now()}
	r.mu.Unlock()
	return robotsData, nil
}
