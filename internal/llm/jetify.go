package llm

import (
	"context"
	"errors"
	"net/url"
	"strings"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"
	jetanthropic "go.jetify.com/ai/provider/anthropic"
	jetopenai "go.jetify.com/ai/provider/openai"
)

// jetifyClient serves the OpenAI and Anthropic providers through the jetify
// ai abstraction. Only text parts are supported.
type jetifyClient struct {
	provider Provider
	baseURL  string
}

func NewJetifyClient(provider Provider, baseURL string) Client {
	return &jetifyClient{provider: provider, baseURL: strings.TrimSpace(baseURL)}
}

func (c *jetifyClient) Provider() Provider { return c.provider }

func (c *jetifyClient) Generate(ctx context.Context, req Request) (string, error) {
	var prompt strings.Builder
	for _, p := range req.Parts {
		if p.IsMedia() {
			return "", ErrUnsupportedModality
		}
		if prompt.Len() > 0 {
			prompt.WriteString("\n\n")
		}
		prompt.WriteString(p.Text)
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return "", ErrMissingAPIKey
	}

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	resp, err := jetai.GenerateText(
		ctx,
		buildMessages(req.System, prompt.String()),
		jetai.WithModel(c.languageModel(req)),
		jetai.WithMaxOutputTokens(maxTokens),
	)
	if err != nil {
		return "", mapSDKError(err)
	}
	return extractText(resp)
}

func (c *jetifyClient) languageModel(req Request) jetapi.LanguageModel {
	if c.provider == ProviderAnthropic {
		opts := []anthropicoption.RequestOption{
			anthropicoption.WithAPIKey(req.APIKey),
			anthropicoption.WithMaxRetries(0),
		}
		if c.baseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(c.baseURL, "/")))
		}
		client := anthropicclient.NewClient(opts...)
		return jetanthropic.NewLanguageModel(req.Model, jetanthropic.WithClient(client))
	}

	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(req.APIKey),
		openaioption.WithMaxRetries(0),
	}
	if base := normalizeOpenAIBaseURL(c.baseURL); base != "" {
		opts = append(opts, openaioption.WithBaseURL(base))
	}
	client := openaiclient.NewClient(opts...)
	return jetopenai.NewLanguageModel(req.Model, jetopenai.WithClient(client))
}

func buildMessages(system, prompt string) []jetapi.Message {
	messages := make([]jetapi.Message, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, &jetapi.SystemMessage{Content: system})
	}
	messages = append(messages, &jetapi.UserMessage{Content: jetapi.ContentFromText(prompt)})
	return messages
}

func extractText(resp *jetapi.Response) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	var full strings.Builder
	for _, block := range resp.Content {
		textBlock, ok := block.(*jetapi.TextBlock)
		if !ok || textBlock.Text == "" {
			continue
		}
		full.WriteString(textBlock.Text)
	}
	if strings.TrimSpace(full.String()) == "" {
		return "", ErrEmptyResponse
	}
	return full.String(), nil
}

func mapSDKError(err error) error {
	var oe *openaiclient.Error
	if errors.As(err, &oe) {
		return &StatusError{Code: oe.StatusCode, Message: err.Error()}
	}
	var ae *anthropicclient.Error
	if errors.As(err, &ae) {
		return &StatusError{Code: ae.StatusCode, Message: err.Error()}
	}
	return err
}

// normalizeOpenAIBaseURL makes sure a custom base URL ends in /v1.
func normalizeOpenAIBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(base, "/")
	}
	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		path += "/v1"
	}
	parsed.Path = path
	return parsed.String()
}
