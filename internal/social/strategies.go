package social

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// OEmbedStrategy asks the oEmbed endpoint for the post thumbnail and title.
type OEmbedStrategy struct {
	Endpoint    string
	AccessToken string
	Client      *http.Client
	UserAgent   string
}

type oembedResponse struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
	AuthorName   string `json:"author_name"`
}

func (s *OEmbedStrategy) Name() string { return "oembed" }

func (s *OEmbedStrategy) Attempt(ctx context.Context, src *Source) (Candidate, bool) {
	endpoint, err := url.Parse(s.Endpoint)
	if err != nil {
		return Candidate{}, false
	}
	q := endpoint.Query()
	q.Set("url", src.URL)
	if s.AccessToken != "" {
		q.Set("access_token", s.AccessToken)
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Candidate{}, false
	}
	req.Header.Set("Accept", "application/json")
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return Candidate{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Candidate{}, false
	}

	var body oembedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Candidate{}, false
	}
	cand := Candidate{ImageURL: strings.TrimSpace(body.ThumbnailURL), Caption: strings.TrimSpace(body.Title)}
	return cand, cand.ImageURL != "" || cand.Caption != ""
}

// OpenGraphStrategy reads og:image, og:description and og:title.
type OpenGraphStrategy struct{}

func (OpenGraphStrategy) Name() string { return "open_graph" }

func (OpenGraphStrategy) Attempt(ctx context.Context, src *Source) (Candidate, bool) {
	doc, ok := sourceDocument(ctx, src)
	if !ok {
		return Candidate{}, false
	}

	meta := func(prop string) string {
		sel := doc.Find(`meta[property="` + prop + `"]`)
		if sel.Length() == 0 {
			sel = doc.Find(`meta[name="` + prop + `"]`)
		}
		return strings.TrimSpace(sel.First().AttrOr("content", ""))
	}

	cand := Candidate{ImageURL: resolve(src.URL, meta("og:image"))}
	cand.Caption = meta("og:description")
	if cand.Caption == "" {
		cand.Caption = meta("og:title")
	}
	return cand, cand.ImageURL != "" || cand.Caption != ""
}

// EmbeddedDataStrategy scans JSON blobs embedded in the page for the
// display image and caption, then falls back to the first content image and
// heading.
type EmbeddedDataStrategy struct{}

const jsonString = `"((?:[^"\\]|\\.)*)"`

var (
	displayURLPattern    = regexp.MustCompile(`"display_url"\s*:\s*` + jsonString)
	captionTextPattern   = regexp.MustCompile(`"caption"\s*:\s*\{[^{}]*?"text"\s*:\s*` + jsonString)
	edgeCaptionPattern   = regexp.MustCompile(`"edge_media_to_caption"\s*:\s*\{\s*"edges"\s*:\s*\[\s*\{\s*"node"\s*:\s*\{\s*"text"\s*:\s*` + jsonString)
	accessibilityPattern = regexp.MustCompile(`"accessibility_caption"\s*:\s*` + jsonString)
)

func (EmbeddedDataStrategy) Name() string { return "embedded_data" }

func (EmbeddedDataStrategy) Attempt(ctx context.Context, src *Source) (Candidate, bool) {
	html, err := src.HTML(ctx)
	if err != nil || html == "" {
		return Candidate{}, false
	}

	var cand Candidate
	if s := firstJSONString(displayURLPattern, html); s != "" {
		cand.ImageURL = resolve(src.URL, s)
	}
	for _, p := range []*regexp.Regexp{captionTextPattern, edgeCaptionPattern, accessibilityPattern} {
		if s := firstJSONString(p, html); strings.TrimSpace(s) != "" {
			cand.Caption = s
			break
		}
	}

	if cand.ImageURL == "" || cand.Caption == "" {
		if doc, ok := sourceDocument(ctx, src); ok {
			if cand.ImageURL == "" {
				doc.Find("img[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
					u := resolve(src.URL, sel.AttrOr("src", ""))
					if strings.HasPrefix(u, "http") {
						cand.ImageURL = u
						return false
					}
					return true
				})
			}
			if cand.Caption == "" {
				cand.Caption = strings.Join(strings.Fields(doc.Find("h1").First().Text()), " ")
			}
		}
	}
	return cand, cand.ImageURL != "" || cand.Caption != ""
}

func sourceDocument(ctx context.Context, src *Source) (*goquery.Document, bool) {
	html, err := src.HTML(ctx)
	if err != nil || html == "" {
		return nil, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false
	}
	return doc, true
}

// firstJSONString returns the decoded first capture of p in s.
func firstJSONString(p *regexp.Regexp, s string) string {
	m := p.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	var out string
	if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &out); err != nil {
		return m[1]
	}
	return out
}

func resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if r.IsAbs() {
		return r.String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}
