package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"clipnote/internal/urlguard"
)

// Request represents a simplified fetch request used by the scraper package.
type Request struct {
	URL       string
	Headers   map[string]string
	Timeout   time.Duration
	UserAgent string
}

// Result is the text view of a fetched page. Text is already stripped of
// markup, whitespace-collapsed and truncated.
type Result struct {
	URL          string
	FinalURL     string
	HTML         string
	Title        string
	Text         string
	Interstitial bool
	Status       int
	Engine       string
}

// Scraper defines the interface for page fetch engines.
type Scraper interface {
	Scrape(ctx context.Context, req Request) (*Result, error)
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Code)
}

var ErrBlockedRedirect = errors.New("scraper: redirect target not allowed")

const maxRedirects = 5

// HTTPScraper is the default engine using net/http and goquery.
type HTTPScraper struct {
	client   *http.Client
	maxBody  int64
	maxChars int
}

func NewHTTPScraper(timeout time.Duration, maxBody int64, maxChars int) *HTTPScraper {
	return &HTTPScraper{
		client:   NewGuardedClient(timeout),
		maxBody:  maxBody,
		maxChars: maxChars,
	}
}

// NewGuardedClient returns an http.Client that refuses redirects to targets
// rejected by urlguard.
func NewGuardedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if err := urlguard.Check(req.URL.String()); err != nil {
				return fmt.Errorf("%w: %v", ErrBlockedRedirect, err)
			}
			return nil
		},
	}
}

func (s *HTTPScraper) Scrape(ctx context.Context, req Request) (*Result, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: u.String(), Code: resp.StatusCode}
	}

	body := io.Reader(resp.Body)
	if s.maxBody > 0 {
		body = io.LimitReader(resp.Body, s.maxBody)
	}
	bodyBytes, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	page, err := ExtractText(bytes.NewReader(bodyBytes), s.maxChars)
	if err != nil {
		return nil, err
	}

	return &Result{
		URL:          u.String(),
		FinalURL:     resp.Request.URL.String(),
		HTML:         string(bodyBytes),
		Title:        page.Title,
		Text:         page.Text,
		Interstitial: page.Interstitial,
		Status:       resp.StatusCode,
		Engine:       "http",
	}, nil
}
