package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clipnote/internal/model"
	"clipnote/internal/store"
)

// BulkInput is the payload of a queued bulk clip job.
type BulkInput struct {
	URLs       []string   `json:"urls"`
	SkipAI     bool       `json:"skipAI,omitempty"`
	CategoryID *uuid.UUID `json:"categoryId,omitempty"`
}

// BulkItem is the outcome for one URL of a bulk request.
type BulkItem struct {
	URL      string        `json:"url"`
	OK       bool          `json:"ok"`
	Result   *model.Result `json:"result,omitempty"`
	Degraded bool          `json:"degraded,omitempty"`
	NoteID   string        `json:"noteId,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Bulk clips urls one after another with delay between items. Each item
// gets a result or a sanitized error. When ctx is cancelled the remaining
// items are marked as interrupted and ctx.Err() is returned.
func (s *ClipService) Bulk(ctx context.Context, userID string, urls []string, skipAI bool, delay time.Duration) ([]BulkItem, error) {
	items := make([]BulkItem, len(urls))
	for i, raw := range urls {
		items[i].URL = raw
	}

	for i := range items {
		if i > 0 && delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return interrupt(items, i, ctx.Err())
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return interrupt(items, i, err)
		}

		out, err := s.Clip(ctx, userID, model.SourceRequest{Kind: model.SourceURL, URL: items[i].URL, SkipAI: skipAI})
		if err != nil {
			s.logger.Warn("bulk item failed", zap.String("url", items[i].URL), zap.Error(err))
			items[i].Error = PublicMessage(err)
			continue
		}
		res := out.Result
		items[i].OK = true
		items[i].Result = &res
		items[i].Degraded = out.Degraded
	}
	return items, nil
}

func interrupt(items []BulkItem, from int, err error) ([]BulkItem, error) {
	msg := PublicMessage(err)
	for i := from; i < len(items); i++ {
		items[i].Error = msg
	}
	return items, err
}

// NoteFromResult converts a pipeline result into a note row.
func NoteFromResult(userID string, categoryID *uuid.UUID, sourceURL, imageKey string, res model.Result) (store.NewNote, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return store.NewNote{}, err
	}
	return store.NewNote{
		UserID:     userID,
		CategoryID: categoryID,
		Type:       string(res.Type),
		Title:      res.Title(),
		Content:    res.Markdown(),
		Data:       data,
		SourceURL:  sourceURL,
		ImageKey:   imageKey,
	}, nil
}

// JobStore is the persistence used to queue bulk jobs.
type JobStore interface {
	CreateClipJob(ctx context.Context, id uuid.UUID, userID string, input any) (store.ClipJob, error)
}

// BulkEnqueueRequest is one bulk submission from the HTTP layer.
type BulkEnqueueRequest struct {
	ID     uuid.UUID
	UserID string
	Input  BulkInput
}

// BulkClipService hides the details of inserting bulk clip jobs so HTTP
// handlers do not talk to the store directly.
type BulkClipService interface {
	Enqueue(ctx context.Context, req *BulkEnqueueRequest) error
}

type bulkClipService struct {
	st      JobStore
	maxURLs int
}

func NewBulkClipService(st JobStore, maxURLs int) BulkClipService {
	if maxURLs <= 0 {
		maxURLs = 50
	}
	return &bulkClipService{st: st, maxURLs: maxURLs}
}

func (s *bulkClipService) Enqueue(ctx context.Context, req *BulkEnqueueRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", ErrInvalidInput)
	}
	urls := make([]string, 0, len(req.Input.URLs))
	for _, u := range req.Input.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return fmt.Errorf("%w: urls is required", ErrInvalidInput)
	}
	if len(urls) > s.maxURLs {
		return fmt.Errorf("%w: at most %d urls per request", ErrInvalidInput, s.maxURLs)
	}
	req.Input.URLs = urls

	_, err := s.st.CreateClipJob(ctx, req.ID, req.UserID, req.Input)
	return err
}
