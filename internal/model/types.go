package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SourceKind names what the user submitted.
type SourceKind string

const (
	SourceURL   SourceKind = "url"
	SourceImage SourceKind = "image"
	SourceVideo SourceKind = "video"
	SourceText  SourceKind = "text"
)

// SourceRequest is one clip submission. Data carries uploaded bytes for
// image and video kinds; FileName is only used to label degraded memos.
type SourceRequest struct {
	Kind     SourceKind
	URL      string
	Text     string
	Data     []byte
	MIMEType string
	FileName string
	SkipAI   bool
}

// SourceLabel returns the identifier written into a memo when the pipeline
// degrades: the URL, the pasted text, the file name, or a generic label.
func (r SourceRequest) SourceLabel() string {
	switch r.Kind {
	case SourceURL:
		return r.URL
	case SourceText:
		return r.Text
	case SourceImage:
		if r.FileName != "" {
			return r.FileName
		}
		return "画像"
	case SourceVideo:
		if r.FileName != "" {
			return r.FileName
		}
		return "動画"
	}
	return r.URL
}

// ExtractedContent is what a fetcher hands to the normalizer.
type ExtractedContent struct {
	Text       string
	ImageBytes []byte
	ImageMIME  string
	Caption    string
	VideoURI   string
}

// ResultType is the discriminant of a normalized note.
type ResultType string

const (
	ResultRecipe  ResultType = "recipe"
	ResultSummary ResultType = "summary"
)

type Recipe struct {
	Name         string `json:"name"`
	Ingredients  string `json:"ingredients"`
	Instructions string `json:"instructions"`
}

type Summary struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Result is the normalized note produced by the pipeline. Exactly one of
// Recipe, Summary or Memo is set. A memo is a summary whose data is a bare
// markdown string rather than an object.
type Result struct {
	Type    ResultType
	Recipe  *Recipe
	Summary *Summary
	Memo    string
}

const memoHeading = "# メモ\n\n"

// MemoResult builds the degraded result for source.
func MemoResult(source string) Result {
	return Result{Type: ResultSummary, Memo: memoHeading + source}
}

func RecipeResult(r Recipe) Result {
	return Result{Type: ResultRecipe, Recipe: &r}
}

func SummaryResult(s Summary) Result {
	return Result{Type: ResultSummary, Summary: &s}
}

// IsMemo reports whether r is a degraded memo.
func (r Result) IsMemo() bool {
	return r.Type == ResultSummary && r.Summary == nil && r.Memo != ""
}

// Title returns a display title for the note.
func (r Result) Title() string {
	switch {
	case r.Recipe != nil:
		return r.Recipe.Name
	case r.Summary != nil:
		return r.Summary.Title
	}
	return "メモ"
}

// Markdown renders r as the markdown body stored with a note.
func (r Result) Markdown() string {
	switch {
	case r.Recipe != nil:
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", r.Recipe.Name)
		if r.Recipe.Ingredients != "" {
			fmt.Fprintf(&b, "## 材料\n\n%s\n\n", strings.TrimSpace(r.Recipe.Ingredients))
		}
		if r.Recipe.Instructions != "" {
			fmt.Fprintf(&b, "## 作り方\n\n%s\n", strings.TrimSpace(r.Recipe.Instructions))
		}
		return strings.TrimRight(b.String(), "\n") + "\n"
	case r.Summary != nil:
		if r.Summary.Title == "" {
			return r.Summary.Content
		}
		return "# " + r.Summary.Title + "\n\n" + r.Summary.Content
	}
	return r.Memo
}

type resultEnvelope struct {
	Type ResultType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	var data any
	switch {
	case r.Recipe != nil:
		data = r.Recipe
	case r.Summary != nil:
		data = r.Summary
	default:
		data = r.Memo
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resultEnvelope{Type: r.Type, Data: raw})
}

func (r *Result) UnmarshalJSON(b []byte) error {
	var env resultEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 {
		return errors.New("result: missing data")
	}

	switch env.Type {
	case ResultRecipe:
		var rec Recipe
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("result: recipe data: %w", err)
		}
		*r = RecipeResult(rec)
	case ResultSummary:
		if data[0] == '"' {
			var memo string
			if err := json.Unmarshal(data, &memo); err != nil {
				return err
			}
			*r = Result{Type: ResultSummary, Memo: memo}
			return nil
		}
		var sum Summary
		if err := json.Unmarshal(data, &sum); err != nil {
			return fmt.Errorf("result: summary data: %w", err)
		}
		*r = SummaryResult(sum)
	default:
		return fmt.Errorf("result: unknown type %q", env.Type)
	}
	return nil
}
