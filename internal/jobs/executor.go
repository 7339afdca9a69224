package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clipnote/internal/metrics"
	"clipnote/internal/services"
	"clipnote/internal/store"
)

// Clipper processes the URLs of one bulk job.
type Clipper interface {
	Bulk(ctx context.Context, userID string, urls []string, skipAI bool, delay time.Duration) ([]services.BulkItem, error)
}

type NoteCreator interface {
	CreateNote(ctx context.Context, in store.NewNote) (store.Note, error)
}

// noteSaveTimeout bounds saving the notes of a job that is being
// interrupted.
const noteSaveTimeout = 10 * time.Second

type jobFinisher interface {
	FinishClipJob(ctx context.Context, id uuid.UUID, status string, results any, errMsg *string) error
}

// BulkExecutor runs bulk clip jobs and saves every successful item as a
// note.
type BulkExecutor struct {
	clipper Clipper
	notes   NoteCreator
	jobs    jobFinisher
	delay   time.Duration
	logger  *zap.Logger
}

func NewBulkExecutor(c Clipper, notes NoteCreator, jobs jobFinisher, delay time.Duration, logger *zap.Logger) *BulkExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BulkExecutor{clipper: c, notes: notes, jobs: jobs, delay: delay, logger: logger}
}

func (e *BulkExecutor) Execute(ctx context.Context, job store.ClipJob) {
	log := e.logger.With(zap.String("job_id", job.ID.String()), zap.String("user_id", job.UserID))

	var in services.BulkInput
	if err := json.Unmarshal(job.Input, &in); err != nil {
		e.finish(job.ID, StatusFailed, nil, "INVALID_INPUT: "+err.Error(), log)
		return
	}

	items, err := e.clipper.Bulk(ctx, job.UserID, in.URLs, in.SkipAI, e.delay)

	// Items that finished before cancellation are still saved.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noteSaveTimeout)
	defer cancel()
	for i := range items {
		it := &items[i]
		if !it.OK || it.Result == nil {
			continue
		}
		note, convErr := services.NoteFromResult(job.UserID, in.CategoryID, it.URL, "", *it.Result)
		if convErr == nil {
			var saved store.Note
			saved, convErr = e.notes.CreateNote(saveCtx, note)
			if convErr == nil {
				it.NoteID = saved.ID.String()
				continue
			}
		}
		log.Warn("save bulk note failed", zap.String("url", it.URL), zap.Error(convErr))
		it.OK = false
		it.Error = "ノートの保存に失敗しました"
	}

	if err != nil {
		e.finish(job.ID, StatusFailed, items, services.PublicMessage(err), log)
		return
	}
	e.finish(job.ID, StatusCompleted, items, "", log)
}

func (e *BulkExecutor) finish(id uuid.UUID, status Status, items []services.BulkItem, msg string, log *zap.Logger) {
	var errMsg *string
	if msg != "" {
		errMsg = &msg
	}
	var results any
	if items != nil {
		results = items
	}
	if err := e.jobs.FinishClipJob(context.Background(), id, string(status), results, errMsg); err != nil {
		log.Error("finish clip job failed", zap.Error(err))
	}
	metrics.RecordBulkJob(string(status))
	log.Info("bulk job finished", zap.String("status", string(status)), zap.Int("items", len(items)))
}
