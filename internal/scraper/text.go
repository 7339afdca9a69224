package scraper

import (
	"io"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// TextPage is the plain-text view of an HTML document.
type TextPage struct {
	Title        string
	Text         string
	Interstitial bool
}

// interstitialMaxChars bounds the body length below which a page is checked
// for "please enable JavaScript" style placeholders.
const interstitialMaxChars = 500

var interstitialMarkers = []string{
	"enable javascript",
	"javascript is disabled",
	"supported browser",
	"javascriptを有効",
}

// ExtractText parses HTML from r, drops script, style and noscript elements,
// and returns the collapsed body text truncated to maxChars runes (0 means
// unlimited). Interstitial detection runs on the untruncated text.
func ExtractText(r io.Reader, maxChars int) (TextPage, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return TextPage{}, err
	}

	title := CollapseWhitespace(doc.Find("title").First().Text())

	doc.Find("script, style, noscript, template").Remove()
	body := doc.Find("body")
	raw := body.Text()
	if body.Length() == 0 {
		raw = doc.Text()
	}
	text := CollapseWhitespace(raw)

	return TextPage{
		Title:        title,
		Text:         TruncateRunes(text, maxChars),
		Interstitial: IsInterstitial(text),
	}, nil
}

// CollapseWhitespace replaces every run of whitespace with a single space
// and trims the ends.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateRunes cuts s to at most n runes without splitting a character.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// IsInterstitial reports whether text looks like a JavaScript-required
// placeholder rather than real content.
func IsInterstitial(text string) bool {
	if len([]rune(text)) >= interstitialMaxChars {
		return false
	}
	lower := strings.ToLower(text)
	for _, m := range interstitialMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// LooksLikeHTML reports whether pasted text is an HTML fragment.
func LooksLikeHTML(s string) bool {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "<") {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, tag := range []string{"<html", "<body", "<div", "<p", "<article", "<h1", "<h2", "<ul", "<ol", "<table", "<span", "<!doctype"} {
		if strings.Contains(lower, tag) {
			return true
		}
	}
	return false
}

// HTMLToMarkdown converts an HTML fragment to CommonMark, resolving relative
// links against domain when it is non-empty.
func HTMLToMarkdown(html, domain string) (string, error) {
	converter := htmlmd.NewConverter(domain, true, nil)
	converter.Remove("script", "style", "noscript")
	md, err := converter.ConvertString(html)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}
