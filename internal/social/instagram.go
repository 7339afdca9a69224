// Package social extracts an image and caption from Instagram post pages.
package social

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"clipnote/internal/metrics"
	"clipnote/internal/scraper"
	"clipnote/internal/urlguard"
)

// Post is the best-effort result for one post. Either field may be empty;
// both empty means nothing could be extracted.
type Post struct {
	ImageBase64 string
	ImageMIME   string
	ImageURL    string
	Caption     string
}

// Empty reports whether neither an image nor a caption was found.
func (p Post) Empty() bool {
	return p.ImageBase64 == "" && strings.TrimSpace(p.Caption) == ""
}

// Candidate is what a single strategy found.
type Candidate struct {
	ImageURL string
	Caption  string
}

// Strategy is one extraction tier.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, src *Source) (Candidate, bool)
}

// Source is the post being extracted. The page HTML is fetched at most once
// and shared by every strategy that needs it.
type Source struct {
	URL string

	once sync.Once
	html string
	err  error
	load func(ctx context.Context) (string, error)
}

// HTML returns the post page markup.
func (s *Source) HTML(ctx context.Context) (string, error) {
	s.once.Do(func() {
		if s.load == nil {
			s.err = fmt.Errorf("no page loader for %s", s.URL)
			return
		}
		s.html, s.err = s.load(ctx)
	})
	return s.html, s.err
}

// IsInstagramURL reports whether raw points at instagram.com.
func IsInstagramURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "instagram.com" || strings.HasSuffix(host, ".instagram.com") || host == "instagr.am"
}

// Options configures an InstagramFetcher.
type Options struct {
	OEmbedURL     string
	AccessToken   string
	UserAgent     string
	Timeout       time.Duration
	MaxImageBytes int64
}

// InstagramFetcher runs its strategies in order until both an image URL and
// a caption are known, then downloads the image.
type InstagramFetcher struct {
	strategies    []Strategy
	client        *http.Client
	userAgent     string
	maxImageBytes int64
	allow         func(string) error
	logger        *zap.Logger
}

func NewInstagramFetcher(opts Options, logger *zap.Logger) *InstagramFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := scraper.NewGuardedClient(opts.Timeout)
	maxImage := opts.MaxImageBytes
	if maxImage <= 0 {
		maxImage = 8 << 20
	}

	var strategies []Strategy
	if opts.OEmbedURL != "" {
		strategies = append(strategies, &OEmbedStrategy{
			Endpoint:    opts.OEmbedURL,
			AccessToken: opts.AccessToken,
			Client:      client,
			UserAgent:   opts.UserAgent,
		})
	}
	strategies = append(strategies, OpenGraphStrategy{}, EmbeddedDataStrategy{})

	return &InstagramFetcher{
		strategies:    strategies,
		client:        client,
		userAgent:     opts.UserAgent,
		maxImageBytes: maxImage,
		allow:         urlguard.Check,
		logger:        logger,
	}
}

// Fetch extracts what it can from the post at rawURL. Only an unsafe URL is
// an error; extraction failures yield an empty Post.
func (f *InstagramFetcher) Fetch(ctx context.Context, rawURL string) (Post, error) {
	if err := f.allow(rawURL); err != nil {
		return Post{}, err
	}

	src := &Source{URL: rawURL, load: func(ctx context.Context) (string, error) {
		return f.loadPage(ctx, rawURL)
	}}
	var found Candidate
	for _, s := range f.strategies {
		if found.ImageURL != "" && strings.TrimSpace(found.Caption) != "" {
			break
		}
		cand, ok := s.Attempt(ctx, src)
		if !ok {
			f.logger.Debug("instagram strategy found nothing",
				zap.String("strategy", s.Name()), zap.String("url", rawURL))
			continue
		}
		if found.ImageURL == "" && cand.ImageURL != "" {
			found.ImageURL = cand.ImageURL
			f.logger.Debug("instagram image resolved", zap.String("strategy", s.Name()))
		}
		if strings.TrimSpace(found.Caption) == "" && strings.TrimSpace(cand.Caption) != "" {
			found.Caption = strings.TrimSpace(cand.Caption)
			f.logger.Debug("instagram caption resolved", zap.String("strategy", s.Name()))
		}
	}

	post := Post{Caption: found.Caption, ImageURL: found.ImageURL}
	if found.ImageURL != "" {
		data, mime, err := f.downloadImage(ctx, found.ImageURL)
		if err != nil {
			f.logger.Warn("instagram image download failed",
				zap.String("url", rawURL), zap.Error(err))
		} else {
			post.ImageBase64 = base64.StdEncoding.EncodeToString(data)
			post.ImageMIME = mime
		}
	}

	outcome := "ok"
	switch {
	case post.Empty():
		outcome = "empty"
	case post.ImageBase64 == "":
		outcome = "caption_only"
	}
	metrics.RecordFetch("instagram", outcome)
	return post, nil
}

const maxPageBytes = 4 << 20

func (f *InstagramFetcher) loadPage(ctx context.Context, rawURL string) (string, error) {
	resp, err := f.get(ctx, rawURL, scraper.DefaultAccept)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (f *InstagramFetcher) get(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", scraper.DefaultAcceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &scraper.StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	return resp, nil
}

func (f *InstagramFetcher) downloadImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	if err := f.allow(imageURL); err != nil {
		return nil, "", err
	}
	resp, err := f.get(ctx, imageURL, "image/avif,image/webp,image/*,*/*;q=0.8")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxImageBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > f.maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", f.maxImageBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image body")
	}

	mime := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, "", fmt.Errorf("unexpected content type %q", mime)
	}
	return data, mime, nil
}
