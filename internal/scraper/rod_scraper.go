package scraper

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// RodScraper renders a page in a real browser before extracting text. It is
// used to get past JavaScript-required placeholders.
type RodScraper struct {
	BrowserURL string
	Timeout    time.Duration
	MaxChars   int
}

func NewRodScraper(browserURL string, timeout time.Duration, maxChars int) *RodScraper {
	return &RodScraper{BrowserURL: browserURL, Timeout: timeout, MaxChars: maxChars}
}

func (r *RodScraper) Scrape(ctx context.Context, req Request) (*Result, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}

	browser := rod.New().Context(ctx).Timeout(r.Timeout)
	if r.BrowserURL != "" {
		browser = browser.ControlURL(r.BrowserURL)
	}
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	defer func() { _ = browser.Close() }()

	page, err := browser.Page(proto.TargetCreateTarget{URL: u.String()})
	if err != nil {
		return nil, err
	}
	defer func() { _ = page.Close() }()

	if req.UserAgent != "" {
		_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      req.UserAgent,
			AcceptLanguage: req.Headers["Accept-Language"],
		})
	}

	if err := page.WaitLoad(); err != nil {
		return nil, err
	}

	htmlStr, err := page.HTML()
	if err != nil {
		return nil, err
	}

	text, err := ExtractText(strings.NewReader(htmlStr), r.MaxChars)
	if err != nil {
		return nil, err
	}

	finalURL := u.String()
	if info, err := page.Info(); err == nil && info != nil && info.URL != "" {
		finalURL = info.URL
	}

	return &Result{
		URL:          u.String(),
		FinalURL:     finalURL,
		HTML:         htmlStr,
		Title:        text.Title,
		Text:         text.Text,
		Interstitial: text.Interstitial,
		Status:       200,
		Engine:       "browser",
	}, nil
}
