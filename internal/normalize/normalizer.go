// Package normalize turns extracted content into a structured note by asking
// a generative model for a recipe or summary envelope.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clipnote/internal/llm"
	"clipnote/internal/metrics"
	"clipnote/internal/model"
)

var (
	ErrAllModelsOverloaded = errors.New("normalize: all models overloaded")
	ErrNoModels            = errors.New("normalize: no models configured")
	ErrNoContent           = errors.New("normalize: input has no content")
)

// Input is one normalization request.
type Input struct {
	Modality     Modality
	Text         string
	ImageBytes   []byte
	ImageMIME    string
	VideoURI     string
	VideoBytes   []byte
	VideoMIME    string
	APIKey       string
	CustomPrompt string
	Length       string
}

func (in Input) parts() []llm.Part {
	var parts []llm.Part
	switch in.Modality {
	case ModalityImage:
		if len(in.ImageBytes) > 0 {
			parts = append(parts, llm.BytesPart(in.ImageBytes, in.ImageMIME))
		}
	case ModalityVideo:
		switch {
		case in.VideoURI != "":
			mime := in.VideoMIME
			if mime == "" {
				mime = "video/mp4"
			}
			parts = append(parts, llm.URIPart(in.VideoURI, mime))
		case len(in.VideoBytes) > 0:
			parts = append(parts, llm.BytesPart(in.VideoBytes, in.VideoMIME))
		}
	}
	if in.Text != "" {
		parts = append(parts, llm.TextPart(in.Text))
	}
	return parts
}

// Normalizer calls the configured models in order and parses the reply.
type Normalizer struct {
	client          llm.Client
	models          []string
	timeout         time.Duration
	maxOutputTokens int
	logger          *zap.Logger
}

type Option func(*Normalizer)

func WithTimeout(d time.Duration) Option {
	return func(n *Normalizer) { n.timeout = d }
}

func WithMaxOutputTokens(tokens int) Option {
	return func(n *Normalizer) { n.maxOutputTokens = tokens }
}

func WithLogger(l *zap.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

func New(client llm.Client, models []string, opts ...Option) *Normalizer {
	n := &Normalizer{
		client:  client,
		models:  append([]string(nil), models...),
		timeout: 60 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize produces a recipe or summary for in. Overloaded models are
// skipped in favour of the next one; any other model error stops the loop.
func (n *Normalizer) Normalize(ctx context.Context, in Input) (model.Result, error) {
	if len(n.models) == 0 {
		return model.Result{}, ErrNoModels
	}
	parts := in.parts()
	if len(parts) == 0 {
		return model.Result{}, ErrNoContent
	}

	req := llm.Request{
		APIKey:          in.APIKey,
		System:          BuildSystemPrompt(in.Modality, in.CustomPrompt, in.Length),
		Parts:           parts,
		MaxOutputTokens: n.maxOutputTokens,
	}

	raw, usedModel, err := n.generate(ctx, req)
	if err != nil {
		return model.Result{}, err
	}

	res, err := Parse(raw)
	if err != nil {
		n.logger.Warn("model response rejected",
			zap.String("model", usedModel),
			zap.String("modality", string(in.Modality)),
			zap.Error(err))
		return model.Result{}, err
	}

	n.logger.Info("content normalized",
		zap.String("model", usedModel),
		zap.String("modality", string(in.Modality)),
		zap.String("type", string(res.Type)))
	return res, nil
}

func (n *Normalizer) generate(ctx context.Context, req llm.Request) (string, string, error) {
	provider := string(n.client.Provider())
	for _, m := range n.models {
		req.Model = m

		callCtx, cancel := context.WithTimeout(ctx, n.timeout)
		raw, err := n.client.Generate(callCtx, req)
		cancel()

		if err == nil {
			metrics.RecordAICall(provider, m, "success")
			return raw, m, nil
		}
		if llm.IsOverloaded(err) {
			metrics.RecordAICall(provider, m, "overloaded")
			n.logger.Warn("model overloaded, trying next", zap.String("model", m), zap.Error(err))
			continue
		}
		metrics.RecordAICall(provider, m, "error")
		return "", m, fmt.Errorf("model %s: %w", m, err)
	}
	return "", "", ErrAllModelsOverloaded
}
