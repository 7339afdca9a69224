package http

import (
	"encoding/json"
	"time"

	"clipnote/internal/config"
	"clipnote/internal/store"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// ClipURLRequest is the body of POST /v1/clip/url.
type ClipURLRequest struct {
	URL    string `json:"url"`
	SkipAI bool   `json:"skipAI,omitempty"`
}

// ClipTextRequest is the body of POST /v1/clip/text.
type ClipTextRequest struct {
	Text   string `json:"text"`
	SkipAI bool   `json:"skipAI,omitempty"`
}

type BulkClipRequest struct {
	URLs       []string `json:"urls"`
	SkipAI     bool     `json:"skipAI,omitempty"`
	CategoryID string   `json:"categoryId,omitempty"`
}

type BulkClipResponse struct {
	Success bool            `json:"success"`
	ID      string          `json:"id,omitempty"`
	URL     string          `json:"url,omitempty"`
	Status  string          `json:"status,omitempty"`
	Items   json.RawMessage `json:"items,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type NoteResponse struct {
	ID         string          `json:"id"`
	CategoryID *string         `json:"categoryId"`
	Type       string          `json:"type"`
	Title      string          `json:"title"`
	Content    string          `json:"content"`
	Data       json.RawMessage `json:"data,omitempty"`
	SourceURL  string          `json:"sourceUrl,omitempty"`
	ImageKey   string          `json:"imageKey,omitempty"`
	ImageURL   string          `json:"imageUrl,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func noteResponse(n store.Note) NoteResponse {
	resp := NoteResponse{
		ID:        n.ID.String(),
		Type:      n.Type,
		Title:     n.Title,
		Content:   n.Content,
		SourceURL: n.SourceURL,
		ImageKey:  n.ImageKey,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
	if n.CategoryID.Valid {
		id := n.CategoryID.UUID.String()
		resp.CategoryID = &id
	}
	if n.Data.Valid {
		resp.Data = n.Data.RawMessage
	}
	return resp
}

// CreateNoteRequest saves a clip result. Result is the NormalizedResult
// returned by a clip endpoint; Title and Content override the values
// derived from it.
type CreateNoteRequest struct {
	Result     json.RawMessage `json:"result"`
	Title      *string         `json:"title,omitempty"`
	Content    *string         `json:"content,omitempty"`
	CategoryID string          `json:"categoryId,omitempty"`
	SourceURL  string          `json:"sourceUrl,omitempty"`
	ImageKey   string          `json:"imageKey,omitempty"`
}

// UpdateNoteRequest is a partial update. An empty CategoryID string clears
// the category.
type UpdateNoteRequest struct {
	Title      *string `json:"title,omitempty"`
	Content    *string `json:"content,omitempty"`
	CategoryID *string `json:"categoryId,omitempty"`
}

type CategoryResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
}

func categoryResponse(c store.Category) CategoryResponse {
	return CategoryResponse{ID: c.ID.String(), Name: c.Name, Position: c.Position, CreatedAt: c.CreatedAt}
}

type CategoryRequest struct {
	Name     *string `json:"name,omitempty"`
	Position *int    `json:"position,omitempty"`
}

type PageResponse struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Published bool      `json:"published"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func pageResponse(p store.Page) PageResponse {
	return PageResponse{
		ID: p.ID.String(), Slug: p.Slug, Title: p.Title, Content: p.Content,
		Published: p.Published, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

type PageRequest struct {
	Slug      *string `json:"slug,omitempty"`
	Title     *string `json:"title,omitempty"`
	Content   *string `json:"content,omitempty"`
	Published *bool   `json:"published,omitempty"`
}

type SettingsResponse struct {
	GeminiAPIKey     string `json:"geminiApiKey"`
	HasGeminiAPIKey  bool   `json:"hasGeminiApiKey"`
	AISummaryEnabled bool   `json:"aiSummaryEnabled"`
	CustomPrompt     string `json:"customPrompt"`
	SummaryLength    string `json:"summaryLength"`
	DisplayName      string `json:"displayName"`
}

func settingsResponse(s store.Settings) SettingsResponse {
	return SettingsResponse{
		GeminiAPIKey:     config.MaskSecret(s.GeminiAPIKey),
		HasGeminiAPIKey:  s.GeminiAPIKey != "",
		AISummaryEnabled: s.AISummaryEnabled,
		CustomPrompt:     s.CustomPrompt,
		SummaryLength:    s.SummaryLength,
		DisplayName:      s.DisplayName,
	}
}

type SettingsRequest struct {
	GeminiAPIKey     *string `json:"geminiApiKey,omitempty"`
	AISummaryEnabled *bool   `json:"aiSummaryEnabled,omitempty"`
	CustomPrompt     *string `json:"customPrompt,omitempty"`
	SummaryLength    *string `json:"summaryLength,omitempty"`
	DisplayName      *string `json:"displayName,omitempty"`
}

type PasskeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

func passkeyResponse(p store.Passkey) PasskeyResponse {
	resp := PasskeyResponse{ID: p.ID.String(), Name: p.Name, CreatedAt: p.CreatedAt}
	if p.LastUsedAt.Valid {
		t := p.LastUsedAt.Time
		resp.LastUsedAt = &t
	}
	return resp
}
