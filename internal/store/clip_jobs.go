package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// ClipJob is a queued bulk clip request.
type ClipJob struct {
	ID        uuid.UUID
	UserID    string
	Status    string
	Input     json.RawMessage
	Results   pqtype.NullRawMessage
	Error     sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}

const clipJobColumns = `id, user_id, status, input, results, error, created_at, updated_at`

func scanClipJob(row interface{ Scan(...any) error }) (ClipJob, error) {
	var j ClipJob
	err := row.Scan(&j.ID, &j.UserID, &j.Status, &j.Input, &j.Results, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

// CreateClipJob inserts a pending job with input serialized as JSON.
func (s *Store) CreateClipJob(ctx context.Context, id uuid.UUID, userID string, input any) (ClipJob, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return ClipJob{}, err
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO clip_jobs (id, user_id, status, input)
VALUES ($1, $2, 'pending', $3)
RETURNING `+clipJobColumns, id, userID, payload)
	j, err := scanClipJob(row)
	if err != nil {
		return ClipJob{}, fmt.Errorf("insert clip job: %w", err)
	}
	return j, nil
}

// ClaimPendingClipJobs marks up to limit pending jobs as running and
// returns them. Rows locked by another worker are skipped.
func (s *Store) ClaimPendingClipJobs(ctx context.Context, limit int32) ([]ClipJob, error) {
	rows, err := s.DB.QueryContext(ctx, `
UPDATE clip_jobs SET status = 'running', updated_at = NOW()
WHERE id IN (
    SELECT id FROM clip_jobs
    WHERE status = 'pending'
    ORDER BY created_at
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
RETURNING `+clipJobColumns, limit)
	if err != nil {
		return nil, fmt.Errorf("claim clip jobs: %w", err)
	}
	defer rows.Close()

	var out []ClipJob
	for rows.Next() {
		j, err := scanClipJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan clip job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// FinishClipJob records the final status, results and optional error.
func (s *Store) FinishClipJob(ctx context.Context, id uuid.UUID, status string, results any, errMsg *string) error {
	var res pqtype.NullRawMessage
	if results != nil {
		payload, err := json.Marshal(results)
		if err != nil {
			return err
		}
		res = pqtype.NullRawMessage{RawMessage: payload, Valid: true}
	}
	var e sql.NullString
	if errMsg != nil {
		e = sql.NullString{String: *errMsg, Valid: true}
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE clip_jobs SET status = $2, results = $3, error = $4, updated_at = NOW() WHERE id = $1`,
		id, status, res, e)
	if err != nil {
		return fmt.Errorf("finish clip job: %w", err)
	}
	return nil
}

// GetClipJob returns one of the user's jobs.
func (s *Store) GetClipJob(ctx context.Context, userID string, id uuid.UUID) (ClipJob, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+clipJobColumns+` FROM clip_jobs WHERE id = $1 AND user_id = $2`, id, userID)
	j, err := scanClipJob(row)
	if err != nil {
		return ClipJob{}, translate(err)
	}
	return j, nil
}

// DeleteExpiredClipJobs removes finished jobs older than cutoff.
func (s *Store) DeleteExpiredClipJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM clip_jobs WHERE status IN ('completed', 'failed') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired clip jobs: %w", err)
	}
	return res.RowsAffected()
}

// TouchClipJob refreshes the lease of a running job.
func (s *Store) TouchClipJob(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE clip_jobs SET updated_at = NOW() WHERE id = $1 AND status = 'running'`, id)
	if err != nil {
		return fmt.Errorf("touch clip job: %w", err)
	}
	return nil
}

// RequeueStaleClipJobs moves running jobs whose lease expired before cutoff
// back to pending.
func (s *Store) RequeueStaleClipJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE clip_jobs SET status = 'pending', updated_at = NOW() WHERE status = 'running' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stale clip jobs: %w", err)
	}
	return res.RowsAffected()
}
