// Package youtube turns a YouTube URL into labelled text (title, description
// and transcript) for the normalizer.
package youtube

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"clipnote/internal/metrics"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var hosts = map[string]struct{}{
	"youtube.com":       {},
	"www.youtube.com":   {},
	"m.youtube.com":     {},
	"music.youtube.com": {},
	"youtu.be":          {},
}

// IsYouTubeURL reports whether raw points at a YouTube host.
func IsYouTubeURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	_, ok := hosts[strings.ToLower(u.Hostname())]
	return ok
}

// ExtractVideoID returns the 11-character video ID of raw, or "" when raw is
// not a recognizable video URL.
func ExtractVideoID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if _, ok := hosts[host]; !ok {
		return ""
	}

	var candidate string
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case host == "youtu.be":
		candidate = segments[0]
	case u.Path == "/watch":
		candidate = u.Query().Get("v")
	case len(segments) >= 2:
		switch segments[0] {
		case "shorts", "embed", "live", "v":
			candidate = segments[1]
		}
	}

	if videoIDPattern.MatchString(candidate) {
		return candidate
	}
	return ""
}

// IsShorts reports whether raw is a Shorts URL. Shorts rarely carry a
// transcript, so the pipeline sends them to the model as video.
func IsShorts(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return IsYouTubeURL(raw) && strings.HasPrefix(u.Path, "/shorts/") && ExtractVideoID(raw) != ""
}

// WatchURL returns the canonical watch URL for id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// Metadata is what a MetadataClient can find out about a video. Any field
// may be empty.
type Metadata struct {
	Title       string
	Description string
	Transcript  string
}

// MetadataClient looks up video metadata by ID.
type MetadataClient interface {
	Metadata(ctx context.Context, videoID string) (Metadata, error)
}

// Fetcher builds the labelled text for a video.
type Fetcher struct {
	client MetadataClient
	logger *zap.Logger
}

func NewFetcher(client MetadataClient, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, logger: logger}
}

// Fetch returns the labelled concatenation of the parts that could be
// retrieved, or "" when no ID can be extracted or nothing is available.
// Lookup failures are logged, not returned.
func (f *Fetcher) Fetch(ctx context.Context, raw string) string {
	id := ExtractVideoID(raw)
	if id == "" {
		metrics.RecordFetch("youtube", "no_id")
		return ""
	}

	md, err := f.client.Metadata(ctx, id)
	if err != nil {
		f.logger.Warn("youtube metadata lookup failed",
			zap.String("video_id", id), zap.Error(err))
	}

	text := Compose(md)
	if text == "" {
		metrics.RecordFetch("youtube", "empty")
		return ""
	}
	metrics.RecordFetch("youtube", "ok")
	return text
}

// Compose joins the non-empty parts of md with their labels.
func Compose(md Metadata) string {
	var parts []string
	if s := strings.TrimSpace(md.Title); s != "" {
		parts = append(parts, "タイトル: "+s)
	}
	if s := strings.TrimSpace(md.Description); s != "" {
		parts = append(parts, "説明: "+s)
	}
	if s := strings.TrimSpace(md.Transcript); s != "" {
		parts = append(parts, "字幕: "+s)
	}
	return strings.Join(parts, "\n\n")
}
