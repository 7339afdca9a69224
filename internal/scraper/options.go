package scraper

import (
	"strings"
	"time"
)

// DefaultAccept and DefaultAcceptLanguage mimic a desktop browser so that
// recipe and blog sites serve their normal markup.
const (
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	DefaultAcceptLanguage = "ja,en-US;q=0.9,en;q=0.8"
)

// RequestOptions is a higher-level set of options used to construct a
// low-level scraper.Request in a consistent way across the fetchers.
type RequestOptions struct {
	URL       string
	Headers   map[string]string
	TimeoutMs int
	UserAgent string
	Languages []string
}

// BuildRequestFromOptions builds a Request with browser-like Accept and
// Accept-Language headers. Explicit Headers win over the defaults.
func BuildRequestFromOptions(opts RequestOptions) Request {
	headers := map[string]string{
		"Accept":          DefaultAccept,
		"Accept-Language": DefaultAcceptLanguage,
	}
	if len(opts.Languages) > 0 {
		headers["Accept-Language"] = strings.Join(opts.Languages, ",")
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	var timeout time.Duration
	if opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}

	return Request{
		URL:       opts.URL,
		Headers:   headers,
		Timeout:   timeout,
		UserAgent: opts.UserAgent,
	}
}
