package scraper

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"clipnote/internal/metrics"
	"clipnote/internal/urlguard"
)

var ErrDisallowedByRobots = errors.New("scraper: disallowed by robots.txt")

// Page is what the generic fetcher returns to the clip pipeline.
type Page struct {
	URL          string
	Title        string
	Text         string
	Interstitial bool
	Engine       string
}

// Fetcher fetches arbitrary web pages as text. The primary engine is plain
// HTTP; when a browser engine is configured, pages that come back as
// JavaScript-required placeholders are rendered once more through it.
type Fetcher struct {
	primary   Scraper
	browser   Scraper
	robots    *RobotsChecker
	userAgent string
	timeoutMs int
	logger    *zap.Logger
}

type FetcherOption func(*Fetcher)

func WithBrowser(s Scraper) FetcherOption {
	return func(f *Fetcher) { f.browser = s }
}

func WithRobots(r *RobotsChecker) FetcherOption {
	return func(f *Fetcher) { f.robots = r }
}

func WithLogger(l *zap.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

func NewFetcher(primary Scraper, userAgent string, timeoutMs int, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		primary:   primary,
		userAgent: userAgent,
		timeoutMs: timeoutMs,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchText validates rawURL, fetches it and returns its text. Non-2xx
// responses, blocked redirects and robots.txt refusals are errors.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) (*Page, error) {
	if err := urlguard.Check(rawURL); err != nil {
		return nil, err
	}
	if f.robots != nil && !f.robots.Allowed(ctx, rawURL) {
		metrics.RecordFetch("html", "robots_disallowed")
		return nil, ErrDisallowedByRobots
	}

	req := BuildRequestFromOptions(RequestOptions{
		URL:       rawURL,
		TimeoutMs: f.timeoutMs,
		UserAgent: f.userAgent,
	})

	res, err := f.primary.Scrape(ctx, req)
	if err != nil {
		metrics.RecordFetch("html", "error")
		return nil, fmt.Errorf("fetch page: %w", err)
	}

	if res.Interstitial && f.browser != nil {
		f.logger.Info("re-rendering javascript interstitial",
			zap.String("url", rawURL))
		rendered, err := f.browser.Scrape(ctx, req)
		if err != nil {
			f.logger.Warn("browser render failed", zap.String("url", rawURL), zap.Error(err))
		} else {
			res = rendered
		}
	}

	outcome := "ok"
	if res.Interstitial {
		outcome = "interstitial"
	}
	metrics.RecordFetch("html", outcome)

	return &Page{
		URL:          rawURL,
		Title:        res.Title,
		Text:         res.Text,
		Interstitial: res.Interstitial,
		Engine:       res.Engine,
	}, nil
}
