package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"clipnote/internal/llm"
	"clipnote/internal/metrics"
	"clipnote/internal/model"
	"clipnote/internal/normalize"
	"clipnote/internal/scraper"
	"clipnote/internal/social"
	"clipnote/internal/store"
	"clipnote/internal/urlguard"
	"clipnote/internal/usage"
	"clipnote/internal/youtube"
)

var (
	// ErrInvalidInput wraps every validation failure of a clip request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrQuotaExceeded matches *QuotaError.
	ErrQuotaExceeded = errors.New("daily quota exceeded")
	// ErrGeneration wraps model and parse failures of the normalizer.
	ErrGeneration = errors.New("note generation failed")
)

// QuotaError carries the user-facing denial reason from the usage gate.
type QuotaError struct {
	Reason string
}

func (e *QuotaError) Error() string          { return e.Reason }
func (e *QuotaError) Is(target error) bool { return target == ErrQuotaExceeded }

// Degradation reasons, also used as metric labels.
const (
	ReasonSkipAI         = "skip_ai"
	ReasonAIDisabled     = "ai_disabled"
	ReasonFetchFailed    = "fetch_failed"
	ReasonEmptyContent   = "empty_content"
	ReasonInterstitial   = "interstitial"
	ReasonUnsupportedAI  = "unsupported_modality"
	ReasonNoContentForAI = "no_content"
)

// Consumer-side views of the pipeline stages.
type (
	PageFetcher interface {
		FetchText(ctx context.Context, rawURL string) (*scraper.Page, error)
	}
	VideoFetcher interface {
		Fetch(ctx context.Context, rawURL string) string
	}
	PostFetcher interface {
		Fetch(ctx context.Context, rawURL string) (social.Post, error)
	}
	Gatekeeper interface {
		CheckAndReserve(ctx context.Context, userID string) (usage.Decision, error)
	}
	ContentNormalizer interface {
		Normalize(ctx context.Context, in normalize.Input) (model.Result, error)
	}
	SettingsReader interface {
		GetSettings(ctx context.Context, userID string) (store.Settings, error)
	}
)

// SourceClass is the fetcher a URL is routed to.
type SourceClass string

const (
	ClassGeneric   SourceClass = "generic"
	ClassYouTube   SourceClass = "youtube"
	ClassInstagram SourceClass = "instagram"
)

func classify(rawURL string) SourceClass {
	switch {
	case youtube.IsYouTubeURL(rawURL):
		return ClassYouTube
	case social.IsInstagramURL(rawURL):
		return ClassInstagram
	default:
		return ClassGeneric
	}
}

// Outcome is the result of one clip together with how it was produced.
type Outcome struct {
	Result        model.Result
	Degraded      bool
	DegradeReason string
	FreeTier      bool
	Remaining     int
}

type ClipDeps struct {
	Pages      PageFetcher
	Videos     VideoFetcher
	Posts      PostFetcher
	Gate       Gatekeeper
	Normalizer ContentNormalizer
	Settings   SettingsReader
	Logger     *zap.Logger
}

// ClipService runs the clip pipeline: validate, gate, fetch, normalize,
// degrade.
type ClipService struct {
	deps   ClipDeps
	logger *zap.Logger
}

func NewClipService(deps ClipDeps) *ClipService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClipService{deps: deps, logger: logger}
}

func validate(req model.SourceRequest) error {
	switch req.Kind {
	case model.SourceURL:
		if strings.TrimSpace(req.URL) == "" {
			return fmt.Errorf("%w: url is required", ErrInvalidInput)
		}
		if err := urlguard.Check(req.URL); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	case model.SourceText:
		if strings.TrimSpace(req.Text) == "" {
			return fmt.Errorf("%w: text is required", ErrInvalidInput)
		}
	case model.SourceImage, model.SourceVideo:
		if len(req.Data) == 0 {
			return fmt.Errorf("%w: file is required", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown source kind %q", ErrInvalidInput, req.Kind)
	}
	return nil
}

// Clip turns one source into a note. Recoverable failures degrade to a
// memo; validation, quota, configuration and model errors are returned.
func (s *ClipService) Clip(ctx context.Context, userID string, req model.SourceRequest) (Outcome, error) {
	if req.Kind == model.SourceURL {
		req.URL = strings.TrimSpace(req.URL)
	}
	if err := validate(req); err != nil {
		return Outcome{}, err
	}

	if req.SkipAI {
		return s.degrade(req, ReasonSkipAI), nil
	}
	settings, err := s.deps.Settings.GetSettings(ctx, userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load settings: %w", err)
	}
	if !settings.AISummaryEnabled {
		return s.degrade(req, ReasonAIDisabled), nil
	}

	decision, err := s.deps.Gate.CheckAndReserve(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	if !decision.Allowed {
		return Outcome{}, &QuotaError{Reason: decision.DenialReason}
	}

	in, reason := s.extract(ctx, req)
	if reason != "" {
		out := s.degrade(req, reason)
		out.FreeTier, out.Remaining = decision.IsFreeTier, decision.Remaining
		return out, nil
	}
	in.APIKey = decision.APIKey
	in.CustomPrompt = settings.CustomPrompt
	in.Length = settings.SummaryLength

	res, err := s.deps.Normalizer.Normalize(ctx, in)
	switch {
	case errors.Is(err, llm.ErrUnsupportedModality):
		out := s.degrade(req, ReasonUnsupportedAI)
		out.FreeTier, out.Remaining = decision.IsFreeTier, decision.Remaining
		return out, nil
	case errors.Is(err, normalize.ErrNoContent):
		out := s.degrade(req, ReasonNoContentForAI)
		out.FreeTier, out.Remaining = decision.IsFreeTier, decision.Remaining
		return out, nil
	case err != nil:
		return Outcome{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	return Outcome{Result: res, FreeTier: decision.IsFreeTier, Remaining: decision.Remaining}, nil
}

// extract builds the normalizer input for req. A non-empty reason means the
// pipeline must degrade instead.
func (s *ClipService) extract(ctx context.Context, req model.SourceRequest) (normalize.Input, string) {
	switch req.Kind {
	case model.SourceText:
		text := req.Text
		if scraper.LooksLikeHTML(text) {
			if md, err := scraper.HTMLToMarkdown(text, ""); err == nil && strings.TrimSpace(md) != "" {
				text = md
			}
		}
		return normalize.Input{Modality: normalize.ModalityText, Text: text}, ""
	case model.SourceImage:
		return normalize.Input{Modality: normalize.ModalityImage, ImageBytes: req.Data, ImageMIME: req.MIMEType}, ""
	case model.SourceVideo:
		return normalize.Input{Modality: normalize.ModalityVideo, VideoBytes: req.Data, VideoMIME: req.MIMEType}, ""
	}

	switch classify(req.URL) {
	case ClassYouTube:
		return s.extractYouTube(ctx, req.URL)
	case ClassInstagram:
		return s.extractInstagram(ctx, req.URL)
	default:
		return s.extractPage(ctx, req.URL)
	}
}

func (s *ClipService) extractYouTube(ctx context.Context, rawURL string) (normalize.Input, string) {
	id := youtube.ExtractVideoID(rawURL)
	videoInput := func() normalize.Input {
		uri := rawURL
		if id != "" {
			uri = youtube.WatchURL(id)
		}
		return normalize.Input{Modality: normalize.ModalityVideo, VideoURI: uri}
	}

	if youtube.IsShorts(rawURL) {
		return videoInput(), ""
	}
	if s.deps.Videos != nil {
		if text := s.deps.Videos.Fetch(ctx, rawURL); text != "" {
			return normalize.Input{Modality: normalize.ModalityText, Text: text}, ""
		}
	}
	if id == "" {
		return normalize.Input{}, ReasonEmptyContent
	}
	s.logger.Info("youtube text unavailable, sending video uri", zap.String("video_id", id))
	return videoInput(), ""
}

func (s *ClipService) extractInstagram(ctx context.Context, rawURL string) (normalize.Input, string) {
	if s.deps.Posts == nil {
		return normalize.Input{}, ReasonFetchFailed
	}
	post, err := s.deps.Posts.Fetch(ctx, rawURL)
	if err != nil {
		s.logger.Warn("instagram fetch failed", zap.String("url", rawURL), zap.Error(err))
		return normalize.Input{}, ReasonFetchFailed
	}
	if post.Empty() {
		return normalize.Input{}, ReasonEmptyContent
	}

	caption := strings.TrimSpace(post.Caption)
	if post.ImageBase64 != "" {
		img, err := base64.StdEncoding.DecodeString(post.ImageBase64)
		if err == nil {
			in := normalize.Input{Modality: normalize.ModalityImage, ImageBytes: img, ImageMIME: post.ImageMIME}
			if caption != "" {
				in.Text = "キャプション: " + caption
			}
			return in, ""
		}
		s.logger.Warn("instagram image decode failed", zap.Error(err))
	}
	if caption == "" {
		return normalize.Input{}, ReasonEmptyContent
	}
	return normalize.Input{Modality: normalize.ModalityText, Text: caption}, ""
}

func (s *ClipService) extractPage(ctx context.Context, rawURL string) (normalize.Input, string) {
	if s.deps.Pages == nil {
		return normalize.Input{}, ReasonFetchFailed
	}
	page, err := s.deps.Pages.FetchText(ctx, rawURL)
	if err != nil {
		s.logger.Warn("page fetch failed", zap.String("url", rawURL), zap.Error(err))
		return normalize.Input{}, ReasonFetchFailed
	}
	if page.Interstitial {
		return normalize.Input{}, ReasonInterstitial
	}
	if strings.TrimSpace(page.Text) == "" {
		return normalize.Input{}, ReasonEmptyContent
	}

	var b strings.Builder
	if page.Title != "" {
		b.WriteString("タイトル: " + page.Title + "\n\n")
	}
	b.WriteString("URL: " + rawURL + "\n\n")
	b.WriteString(page.Text)
	return normalize.Input{Modality: normalize.ModalityText, Text: b.String()}, ""
}

func (s *ClipService) degrade(req model.SourceRequest, reason string) Outcome {
	metrics.RecordDegradation(reason)
	s.logger.Info("clip degraded to memo",
		zap.String("reason", reason),
		zap.String("kind", string(req.Kind)),
		zap.String("source", logSource(req)))
	return Outcome{
		Result:        model.MemoResult(req.SourceLabel()),
		Degraded:      true,
		DegradeReason: reason,
		Remaining:     usage.Unlimited,
	}
}

// logSource keeps pasted text out of the logs.
func logSource(req model.SourceRequest) string {
	if req.Kind == model.SourceText {
		return fmt.Sprintf("text(%d chars)", len([]rune(req.Text)))
	}
	if req.Kind == model.SourceURL {
		if u, err := url.Parse(req.URL); err == nil {
			return u.Host + u.Path
		}
	}
	return req.SourceLabel()
}

// PublicMessage returns the message shown to users for err. Internal
// details are never included.
func PublicMessage(err error) string {
	var qe *QuotaError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &qe):
		return qe.Reason
	case errors.Is(err, ErrInvalidInput):
		return "入力が正しくありません"
	case errors.Is(err, usage.ErrNotConfigured):
		return "AI の設定が完了していません。管理者に連絡するか、API キーを設定してください"
	case errors.Is(err, ErrGeneration):
		return "ノートの生成に失敗しました"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "処理が中断されました"
	default:
		return "予期しないエラーが発生しました"
	}
}
