package youtube

import (
	"context"
	"net/http"
	"strings"

	yt "github.com/kkdai/youtube/v2"
)

// Client implements MetadataClient on top of kkdai/youtube.
type Client struct {
	yt        *yt.Client
	languages []string
}

// NewClient returns a Client preferring caption tracks in languages, in
// order. When none match, the first available track is used.
func NewClient(httpClient *http.Client, languages []string) *Client {
	return &Client{
		yt:        &yt.Client{HTTPClient: httpClient},
		languages: languages,
	}
}

func (c *Client) Metadata(ctx context.Context, videoID string) (Metadata, error) {
	video, err := c.yt.GetVideoContext(ctx, videoID)
	if err != nil {
		return Metadata{}, err
	}

	md := Metadata{Title: video.Title, Description: video.Description}

	codes := make([]string, 0, len(video.CaptionTracks))
	for _, track := range video.CaptionTracks {
		codes = append(codes, track.LanguageCode)
	}
	lang := PickLanguage(codes, c.languages)
	if lang == "" {
		return md, nil
	}

	transcript, err := c.yt.GetTranscriptCtx(ctx, video, lang)
	if err != nil {
		// Title and description are still useful without captions.
		return md, nil
	}
	lines := make([]string, 0, len(transcript))
	for _, seg := range transcript {
		if s := strings.TrimSpace(seg.Text); s != "" {
			lines = append(lines, s)
		}
	}
	md.Transcript = strings.Join(lines, " ")
	return md, nil
}

// PickLanguage returns the first preferred language present in available,
// falling back to the first available code. Regional variants such as
// "en-US" match a preference of "en".
func PickLanguage(available, preferred []string) string {
	if len(available) == 0 {
		return ""
	}
	for _, want := range preferred {
		for _, have := range available {
			if strings.EqualFold(have, want) || strings.HasPrefix(strings.ToLower(have), strings.ToLower(want)+"-") {
				return have
			}
		}
	}
	return available[0]
}
