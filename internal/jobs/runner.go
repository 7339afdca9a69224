package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clipnote/internal/config"
	"clipnote/internal/store"
)

// Queue is the job storage the runner polls.
type Queue interface {
	ClaimPendingClipJobs(ctx context.Context, limit int32) ([]store.ClipJob, error)
	FinishClipJob(ctx context.Context, id uuid.UUID, status string, results any, errMsg *string) error
	DeleteExpiredClipJobs(ctx context.Context, cutoff time.Time) (int64, error)
	TouchClipJob(ctx context.Context, id uuid.UUID) error
	RequeueStaleClipJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Executor runs one claimed job to completion, including recording its
// final status.
type Executor interface {
	Execute(ctx context.Context, job store.ClipJob)
}

// Runner polls clip_jobs and dispatches work to the executor. It owns the
// concurrency limit, the polling interval, job leases and periodic
// retention cleanup.
type Runner struct {
	cfg      *config.Config
	queue    Queue
	executor Executor
	logger   *zap.Logger

	lease     time.Duration
	heartbeat time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

func NewRunner(cfg *config.Config, q Queue, exec Executor, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	lease := time.Duration(cfg.Worker.LeaseMinutes) * time.Minute
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	return &Runner{
		cfg:       cfg,
		queue:     q,
		executor:  exec,
		logger:    logger,
		lease:     lease,
		heartbeat: lease / 3,
		now:       time.Now,
	}
}

// Start runs the worker loop in the current goroutine until ctx is done.
// It returns only after every dispatched job has finished.
func (r *Runner) Start(ctx context.Context) {
	pollInterval := time.Duration(r.cfg.Worker.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	maxJobs := r.cfg.Worker.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 2
	}

	sem := make(chan struct{}, maxJobs)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastCleanup, lastRequeue time.Time
	cleanupInterval := time.Duration(r.cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}

	r.logger.Info("job runner started", zap.Int("max_jobs", maxJobs), zap.Duration("poll_interval", pollInterval))
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.logger.Info("job runner stopped")
			return
		case <-ticker.C:
		}

		if now := r.now().UTC(); lastRequeue.IsZero() || now.Sub(lastRequeue) >= r.lease/2 {
			r.requeueStale(ctx)
			lastRequeue = now
		}

		if r.cfg.Retention.Enabled {
			now := time.Now().UTC()
			if lastCleanup.IsZero() || now.Sub(lastCleanup) >= cleanupInterval {
				stats := CleanupExpiredData(ctx, r.cfg, r.queue)
				if stats.JobsDeleted > 0 {
					r.logger.Info("retention cleanup", zap.Int64("jobs_deleted", stats.JobsDeleted))
				}
				lastCleanup = now
			}
		}

		r.poll(ctx, sem)
	}
}

// poll claims as many jobs as there are free slots and starts them.
func (r *Runner) poll(ctx context.Context, sem chan struct{}) int {
	capacity := cap(sem) - len(sem)
	if capacity <= 0 {
		return 0
	}

	jobs, err := r.queue.ClaimPendingClipJobs(ctx, int32(capacity))
	if err != nil {
		r.logger.Warn("claim clip jobs failed", zap.Error(err))
		return 0
	}

	for _, job := range jobs {
		job := job
		sem <- struct{}{}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer func() { <-sem }()
			r.dispatchJob(ctx, job)
		}()
	}
	return len(jobs)
}

func (r *Runner) dispatchJob(ctx context.Context, job store.ClipJob) {
	if r.executor != nil {
		stop := r.keepAlive(ctx, job.ID)
		defer stop()
		r.executor.Execute(ctx, job)
		return
	}
	msg := "NO_EXECUTOR"
	_ = r.queue.FinishClipJob(context.Background(), job.ID, string(StatusFailed), nil, &msg)
}

// keepAlive refreshes the job's lease until the returned stop is called.
func (r *Runner) keepAlive(ctx context.Context, id uuid.UUID) (stop func()) {
	if r.heartbeat <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t := time.NewTicker(r.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := r.queue.TouchClipJob(ctx, id); err != nil {
					r.logger.Warn("refresh clip job lease failed", zap.String("job_id", id.String()), zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

// requeueStale returns running jobs whose lease expired to pending. These
// are jobs whose worker died before finishing them.
func (r *Runner) requeueStale(ctx context.Context) {
	cutoff := r.now().UTC().Add(-r.lease)
	n, err := r.queue.RequeueStaleClipJobs(ctx, cutoff)
	if err != nil {
		r.logger.Warn("requeue stale clip jobs failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Warn("requeued stale clip jobs", zap.Int64("jobs", n))
	}
}
