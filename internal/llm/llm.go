package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"clipnote/internal/config"
)

// Provider represents a logical LLM provider.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Part is one piece of user content. Exactly one of Text, Data or URI is
// meaningful; MIMEType describes Data and URI.
type Part struct {
	Text     string
	Data     []byte
	URI      string
	MIMEType string
}

func TextPart(s string) Part { return Part{Text: s} }

func BytesPart(data []byte, mime string) Part { return Part{Data: data, MIMEType: mime} }

func URIPart(uri, mime string) Part { return Part{URI: uri, MIMEType: mime} }

// IsMedia reports whether p carries image or video content.
func (p Part) IsMedia() bool {
	return len(p.Data) > 0 || p.URI != ""
}

// Request is a single-turn generation call.
type Request struct {
	Model           string
	APIKey          string
	System          string
	Parts           []Part
	MaxOutputTokens int
}

// Client generates text from a Request.
type Client interface {
	Provider() Provider
	Generate(ctx context.Context, req Request) (string, error)
}

var (
	ErrUnsupportedModality = errors.New("llm: provider does not accept media input")
	ErrEmptyResponse       = errors.New("llm: empty response")
	ErrMissingAPIKey       = errors.New("llm: api key is empty")
)

// StatusError carries the upstream HTTP status of a failed call.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: upstream status %d: %s", e.Code, e.Message)
}

// IsOverloaded reports whether err means the model is temporarily at
// capacity: an HTTP 503, Anthropic's 529, or any message mentioning
// "overloaded".
func IsOverloaded(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) && (se.Code == http.StatusServiceUnavailable || se.Code == 529) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "overloaded")
}

// NewClient builds the Client for the configured provider.
func NewClient(cfg config.LLMConfig) (Client, error) {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	switch Provider(cfg.Provider) {
	case ProviderGemini, "":
		return NewGeminiClient(cfg.BaseURL, &http.Client{Timeout: timeout}), nil
	case ProviderOpenAI, ProviderAnthropic:
		return NewJetifyClient(Provider(cfg.Provider), cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
