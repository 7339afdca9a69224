package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"clipnote/internal/config"
	"clipnote/internal/model"
	"clipnote/internal/services"
	"clipnote/internal/store"
)

type finished struct {
	status  string
	results any
	errMsg  *string
}

type fakeQueue struct {
	mu       sync.Mutex
	pending  []store.ClipJob
	finished map[uuid.UUID]finished
	cutoff   time.Time
	deleted  int64
	touched  map[uuid.UUID]int
	requeued []time.Time
}

func newFakeQueue(jobs ...store.ClipJob) *fakeQueue {
	return &fakeQueue{pending: jobs, finished: map[uuid.UUID]finished{}, touched: map[uuid.UUID]int{}}
}

func (q *fakeQueue) ClaimPendingClipJobs(ctx context.Context, limit int32) ([]store.ClipJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := int(limit)
	if n > len(q.pending) {
		n = len(q.pending)
	}
	out := q.pending[:n]
	q.pending = q.pending[n:]
	return out, nil
}

func (q *fakeQueue) FinishClipJob(ctx context.Context, id uuid.UUID, status string, results any, errMsg *string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finished[id] = finished{status: status, results: results, errMsg: errMsg}
	return nil
}

func (q *fakeQueue) DeleteExpiredClipJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	q.cutoff = cutoff
	return q.deleted, nil
}

func (q *fakeQueue) TouchClipJob(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.touched[id]++
	return nil
}

func (q *fakeQueue) RequeueStaleClipJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeued = append(q.requeued, cutoff)
	return 1, nil
}

func (q *fakeQueue) touches(id uuid.UUID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.touched[id]
}

func (q *fakeQueue) get(id uuid.UUID) (finished, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	f, ok := q.finished[id]
	return f, ok
}

type fakeClipper struct {
	items []services.BulkItem
	err   error
	urls  []string
}

func (f *fakeClipper) Bulk(ctx context.Context, userID string, urls []string, skipAI bool, delay time.Duration) ([]services.BulkItem, error) {
	f.urls = urls
	return f.items, f.err
}

type fakeNotes struct {
	created []store.NewNote
	fail    bool
}

func (f *fakeNotes) CreateNote(ctx context.Context, in store.NewNote) (store.Note, error) {
	if f.fail {
		return store.Note{}, errors.New("db down")
	}
	f.created = append(f.created, in)
	return store.Note{ID: uuid.New(), UserID: in.UserID, Type: in.Type}, nil
}

func newJob(t *testing.T, in services.BulkInput) store.ClipJob {
	t.Helper()
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	return store.ClipJob{ID: uuid.New(), UserID: "u1", Status: string(StatusRunning), Input: raw}
}

func TestBulkExecutor_SavesNotes(t *testing.T) {
	memo := model.MemoResult("https://example.com/b")
	recipe := model.RecipeResult(model.Recipe{Name: "鶏肉焼き"})
	clipper := &fakeClipper{items: []services.BulkItem{
		{URL: "https://example.com/a", OK: true, Result: &recipe},
		{URL: "https://example.com/b", OK: true, Result: &memo, Degraded: true},
		{URL: "http://127.0.0.1/", Error: "入力が正しくありません"},
	}}
	notes := &fakeNotes{}
	q := newFakeQueue()
	cat := uuid.New()
	job := newJob(t, services.BulkInput{URLs: []string{"https://example.com/a", "https://example.com/b", "http://127.0.0.1/"}, CategoryID: &cat})

	NewBulkExecutor(clipper, notes, q, 0, nil).Execute(context.Background(), job)

	f, ok := q.get(job.ID)
	if !ok || f.status != string(StatusCompleted) || f.errMsg != nil {
		t.Fatalf("expected completed job, got %+v", f)
	}
	if len(notes.created) != 2 {
		t.Fatalf("expected two notes, got %d", len(notes.created))
	}
	if notes.created[0].Title != "鶏肉焼き" || notes.created[0].CategoryID == nil || *notes.created[0].CategoryID != cat {
		t.Fatalf("unexpected first note %+v", notes.created[0])
	}
	items := f.results.([]services.BulkItem)
	if items[0].NoteID == "" || items[2].NoteID != "" {
		t.Fatalf("unexpected note ids %+v", items)
	}
	if len(clipper.urls) != 3 {
		t.Fatalf("expected urls forwarded, got %v", clipper.urls)
	}
}

func TestBulkExecutor_SaveFailureMarksItem(t *testing.T) {
	res := model.MemoResult("https://example.com/a")
	clipper := &fakeClipper{items: []services.BulkItem{{URL: "https://example.com/a", OK: true, Result: &res}}}
	q := newFakeQueue()
	job := newJob(t, services.BulkInput{URLs: []string{"https://example.com/a"}})

	NewBulkExecutor(clipper, &fakeNotes{fail: true}, q, 0, nil).Execute(context.Background(), job)

	f, _ := q.get(job.ID)
	items := f.results.([]services.BulkItem)
	if items[0].OK || items[0].Error == "" {
		t.Fatalf("expected failed item, got %+v", items[0])
	}
}

func TestBulkExecutor_Failures(t *testing.T) {
	q := newFakeQueue()
	bad := store.ClipJob{ID: uuid.New(), UserID: "u1", Input: json.RawMessage(`{"urls":`)}
	NewBulkExecutor(&fakeClipper{}, &fakeNotes{}, q, 0, nil).Execute(context.Background(), bad)
	if f, _ := q.get(bad.ID); f.status != string(StatusFailed) || f.errMsg == nil {
		t.Fatalf("expected failed job for invalid input, got %+v", f)
	}

	cancelled := newJob(t, services.BulkInput{URLs: []string{"https://example.com/a"}})
	clipper := &fakeClipper{err: context.Canceled, items: []services.BulkItem{{URL: "https://example.com/a", Error: "処理が中断されました"}}}
	NewBulkExecutor(clipper, &fakeNotes{}, q, 0, nil).Execute(context.Background(), cancelled)
	if f, _ := q.get(cancelled.ID); f.status != string(StatusFailed) || f.errMsg == nil || *f.errMsg != "処理が中断されました" {
		t.Fatalf("expected failed job after cancellation, got %+v", f)
	}
}

// ctxNotes fails like a database driver once ctx is done.
type ctxNotes struct {
	fakeNotes
}

func (f *ctxNotes) CreateNote(ctx context.Context, in store.NewNote) (store.Note, error) {
	if err := ctx.Err(); err != nil {
		return store.Note{}, err
	}
	return f.fakeNotes.CreateNote(ctx, in)
}

func TestBulkExecutor_SavesFinishedItemsAfterCancel(t *testing.T) {
	recipe := model.RecipeResult(model.Recipe{Name: "鶏肉焼き"})
	clipper := &fakeClipper{err: context.Canceled, items: []services.BulkItem{
		{URL: "https://example.com/a", OK: true, Result: &recipe},
		{URL: "https://example.com/b", Error: "処理が中断されました"},
	}}
	notes := &ctxNotes{}
	q := newFakeQueue()
	job := newJob(t, services.BulkInput{URLs: []string{"https://example.com/a", "https://example.com/b"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewBulkExecutor(clipper, notes, q, 0, nil).Execute(ctx, job)

	if len(notes.created) != 1 {
		t.Fatalf("expected the finished item to be saved, got %d notes", len(notes.created))
	}
	f, ok := q.get(job.ID)
	if !ok || f.status != string(StatusFailed) {
		t.Fatalf("expected failed job after cancellation, got %+v", f)
	}
	items := f.results.([]services.BulkItem)
	if !items[0].OK || items[0].NoteID == "" || items[0].Error != "" {
		t.Fatalf("expected saved first item, got %+v", items[0])
	}
	if items[1].OK {
		t.Fatalf("expected interrupted second item, got %+v", items[1])
	}
}

type recordingExecutor struct {
	mu   sync.Mutex
	seen []uuid.UUID
	done chan struct{}
}

func (r *recordingExecutor) Execute(ctx context.Context, job store.ClipJob) {
	r.mu.Lock()
	r.seen = append(r.seen, job.ID)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func TestRunner_PollRespectsCapacity(t *testing.T) {
	jobs := []store.ClipJob{{ID: uuid.New()}, {ID: uuid.New()}, {ID: uuid.New()}}
	q := newFakeQueue(jobs...)
	exec := &recordingExecutor{done: make(chan struct{}, len(jobs))}
	r := NewRunner(&config.Config{}, q, exec, nil)

	sem := make(chan struct{}, 2)
	if n := r.poll(context.Background(), sem); n != 2 {
		t.Fatalf("expected 2 jobs claimed, got %d", n)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-exec.done:
		case <-time.After(time.Second):
			t.Fatalf("executor was not called")
		}
	}
	if len(q.pending) != 1 {
		t.Fatalf("expected one job left pending, got %d", len(q.pending))
	}
}

// slowExecutor keeps running for a moment after ctx is cancelled before it
// records the job's final status.
type slowExecutor struct {
	q       *fakeQueue
	started chan struct{}
}

func (e *slowExecutor) Execute(ctx context.Context, job store.ClipJob) {
	close(e.started)
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	_ = e.q.FinishClipJob(context.Background(), job.ID, string(StatusFailed), nil, nil)
}

func TestRunner_StartWaitsForRunningJobs(t *testing.T) {
	job := store.ClipJob{ID: uuid.New()}
	q := newFakeQueue(job)
	exec := &slowExecutor{q: q, started: make(chan struct{})}
	cfg := &config.Config{Worker: config.WorkerConfig{PollIntervalMs: 5, MaxConcurrentJobs: 1}}
	r := NewRunner(cfg, q, exec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	select {
	case <-exec.started:
	case <-time.After(time.Second):
		t.Fatalf("job was not dispatched")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Start did not return after cancel")
	}
	if _, ok := q.get(job.ID); !ok {
		t.Fatalf("Start returned before the running job finished")
	}
}

func TestRunner_RequeuesExpiredLeases(t *testing.T) {
	q := newFakeQueue()
	cfg := &config.Config{Worker: config.WorkerConfig{LeaseMinutes: 10}}
	r := NewRunner(cfg, q, nil, nil)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.requeueStale(context.Background())

	if len(q.requeued) != 1 {
		t.Fatalf("expected one requeue, got %d", len(q.requeued))
	}
	if want := now.Add(-10 * time.Minute); !q.requeued[0].Equal(want) {
		t.Fatalf("expected cutoff %v, got %v", want, q.requeued[0])
	}
}

// blockingExecutor runs until release is closed.
type blockingExecutor struct {
	release chan struct{}
}

func (e *blockingExecutor) Execute(ctx context.Context, job store.ClipJob) {
	<-e.release
}

func TestRunner_RefreshesLeaseWhileJobRuns(t *testing.T) {
	q := newFakeQueue()
	exec := &blockingExecutor{release: make(chan struct{})}
	r := NewRunner(&config.Config{}, q, exec, nil)
	r.heartbeat = 5 * time.Millisecond

	job := store.ClipJob{ID: uuid.New()}
	done := make(chan struct{})
	go func() {
		r.dispatchJob(context.Background(), job)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for q.touches(job.ID) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected lease refreshes, got %d", q.touches(job.ID))
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(exec.release)
	<-done

	after := q.touches(job.ID)
	time.Sleep(30 * time.Millisecond)
	if got := q.touches(job.ID); got != after {
		t.Fatalf("lease refreshed after the job finished: %d -> %d", after, got)
	}
}

func TestRunner_NoExecutorFailsJob(t *testing.T) {
	q := newFakeQueue()
	r := NewRunner(&config.Config{}, q, nil, nil)
	id := uuid.New()
	r.dispatchJob(context.Background(), store.ClipJob{ID: id})
	if f, ok := q.get(id); !ok || f.status != string(StatusFailed) {
		t.Fatalf("expected failed job, got %+v", f)
	}
}

func TestCleanupExpiredData(t *testing.T) {
	q := newFakeQueue()
	q.deleted = 3
	cfg := &config.Config{Retention: config.RetentionConfig{Enabled: true, JobDays: 7}}

	stats := CleanupExpiredData(context.Background(), cfg, q)
	if stats.JobsDeleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", stats.JobsDeleted)
	}
	want := time.Now().UTC().AddDate(0, 0, -7)
	if d := want.Sub(q.cutoff); d < 0 || d > time.Minute {
		t.Fatalf("unexpected cutoff %v", q.cutoff)
	}

	cfg.Retention.JobDays = 0
	if stats := CleanupExpiredData(context.Background(), cfg, q); stats.JobsDeleted != 0 {
		t.Fatalf("expected no cleanup without ttl")
	}
}
