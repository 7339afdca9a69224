package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
	"go.uber.org/zap"

	"clipnote/internal/config"
	"clipnote/internal/model"
	"clipnote/internal/services"
	"clipnote/internal/store"
	"clipnote/internal/usage"
)

func nopLogger() *zap.Logger { return zap.NewNop() }

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

// fakeStore implements the parts of DataStore the handler tests touch.
// Calling anything else panics on the nil embedded interface.
type fakeStore struct {
	DataStore

	mu         sync.Mutex
	notes      map[uuid.UUID]store.Note
	categories map[uuid.UUID]store.Category
	pages      map[string]store.Page
	settings   store.Settings
	jobs       map[uuid.UUID]store.ClipJob
	lastFilter store.NoteFilter

	passkeys       []store.Passkey
	passkeyLists   []string
	passkeyTouches int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		notes:      map[uuid.UUID]store.Note{},
		categories: map[uuid.UUID]store.Category{},
		pages:      map[string]store.Page{},
		jobs:       map[uuid.UUID]store.ClipJob{},
		settings:   store.Settings{AISummaryEnabled: true},
	}
}

func (f *fakeStore) CreateNote(ctx context.Context, in store.NewNote) (store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := store.Note{
		ID: uuid.New(), UserID: in.UserID, Type: in.Type, Title: in.Title, Content: in.Content,
		Data: pqtype.NullRawMessage{RawMessage: in.Data, Valid: len(in.Data) > 0},
		SourceURL: in.SourceURL, ImageKey: in.ImageKey,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if in.CategoryID != nil {
		n.CategoryID = uuid.NullUUID{UUID: *in.CategoryID, Valid: true}
	}
	f.notes[n.ID] = n
	return n, nil
}

func (f *fakeStore) GetNote(ctx context.Context, userID string, id uuid.UUID) (store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[id]
	if !ok || n.UserID != userID {
		return store.Note{}, store.ErrNotFound
	}
	return n, nil
}

func (f *fakeStore) ListNotes(ctx context.Context, userID string, flt store.NoteFilter) ([]store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = flt
	var out []store.Note
	for _, n := range f.notes {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteNote(ctx context.Context, userID string, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[id]
	if !ok || n.UserID != userID {
		return store.ErrNotFound
	}
	delete(f.notes, id)
	return nil
}

func (f *fakeStore) GetCategory(ctx context.Context, userID string, id uuid.UUID) (store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.categories[id]
	if !ok || c.UserID != userID {
		return store.Category{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) CreateCategory(ctx context.Context, userID, name string) (store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.categories {
		if c.UserID == userID && c.Name == name {
			return store.Category{}, store.ErrConflict
		}
	}
	c := store.Category{ID: uuid.New(), UserID: userID, Name: name, Position: len(f.categories), CreatedAt: time.Now()}
	f.categories[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetPublishedPage(ctx context.Context, slug string) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[slug]
	if !ok || !p.Published {
		return store.Page{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetSettings(ctx context.Context, userID string) (store.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.settings
	s.UserID = userID
	return s, nil
}

func (f *fakeStore) UpdateSettings(ctx context.Context, userID string, upd store.SettingsUpdate) (store.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if upd.GeminiAPIKey != nil {
		f.settings.GeminiAPIKey = *upd.GeminiAPIKey
	}
	if upd.SummaryLength != nil {
		f.settings.SummaryLength = *upd.SummaryLength
	}
	if upd.AISummaryEnabled != nil {
		f.settings.AISummaryEnabled = *upd.AISummaryEnabled
	}
	s := f.settings
	s.UserID = userID
	return s, nil
}

func (f *fakeStore) GetClipJob(ctx context.Context, userID string, id uuid.UUID) (store.ClipJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.UserID != userID {
		return store.ClipJob{}, store.ErrNotFound
	}
	return j, nil
}

type fakeClipper struct {
	mu   sync.Mutex
	out  services.Outcome
	err  error
	reqs []model.SourceRequest
}

func (f *fakeClipper) Clip(ctx context.Context, userID string, req model.SourceRequest) (services.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.out, f.err
}

func (f *fakeClipper) last() model.SourceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type fakeBulk struct {
	got *services.BulkEnqueueRequest
	err error
}

func (f *fakeBulk) Enqueue(ctx context.Context, req *services.BulkEnqueueRequest) error {
	f.got = req
	return f.err
}

type fakeUsage struct{ snap usage.Snapshot }

func (f *fakeUsage) Status(ctx context.Context, userID string) (usage.Snapshot, error) {
	return f.snap, nil
}

type fakeImages struct {
	puts map[string][]byte
}

func (f *fakeImages) Put(ctx context.Context, userID, mimeType string, data []byte) (string, error) {
	key := fmt.Sprintf("%s/test.%s", userID, strings.TrimPrefix(mimeType, "image/"))
	f.puts[key] = data
	return key, nil
}

func (f *fakeImages) URL(ctx context.Context, key string) (string, error) {
	return "https://cdn.example.com/" + key + "?sig=1", nil
}

func (f *fakeImages) Delete(ctx context.Context, key string) error {
	delete(f.puts, key)
	return nil
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(ctx context.Context) error { return p.err }

type testEnv struct {
	cfg     *config.Config
	store   *fakeStore
	clipper *fakeClipper
	bulk    *fakeBulk
	images  *fakeImages
	server  *Server
}

func newTestEnv(t *testing.T, opts ...func(*config.Config, *Dependencies)) *testEnv {
	t.Helper()
	cfg := authConfig()
	cfg.Server.BodyLimitMB = 25
	cfg.RateLimit.ClipPerMinute = 0

	env := &testEnv{
		cfg:     cfg,
		store:   newFakeStore(),
		clipper: &fakeClipper{out: services.Outcome{Result: model.SummaryResult(model.Summary{Title: "t", Content: "c"})}},
		bulk:    &fakeBulk{},
		images:  &fakeImages{puts: map[string][]byte{}},
	}
	deps := Dependencies{
		Store:   env.store,
		DB:      fakePinger{},
		Clipper: env.clipper,
		Bulk:    env.bulk,
		Usage:   &fakeUsage{snap: usage.Snapshot{Used: 3, Limit: 10, Remaining: 7}},
		Images:  env.images,
		Logger:  nopLogger(),
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}
	env.server = NewServer(cfg, deps)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+signBearer(t, e.cfg.Auth.JWTSecret, validClaims("user-1"), jwt.SigningMethodHS256))
	resp, err := e.server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test(%s %s) error: %v", method, path, err)
	}
	return resp
}

func (e *testEnv) doJSON(t *testing.T, method, path string, payload any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return e.do(t, method, path, bytes.NewReader(raw), "application/json")
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.server.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	env.server.deps.DB = fakePinger{err: errors.New("down")}
	resp, err = env.server.App().Test(httptest.NewRequest(http.MethodGet, "/healthz?deep=true", nil), -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with failing db, got %d", resp.StatusCode)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["db"] != "error" || body["redis"] != "disabled" || body["storage"] != "enabled" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestClipURL_ReturnsNormalizedResult(t *testing.T) {
	env := newTestEnv(t)
	env.clipper.out = services.Outcome{
		Result:    model.RecipeResult(model.Recipe{Name: "鶏肉焼き", Ingredients: "- 鶏肉", Instructions: "1. 焼く"}),
		FreeTier:  true,
		Remaining: 4,
	}

	resp := env.doJSON(t, http.MethodPost, "/v1/clip/url", ClipURLRequest{URL: "https://example.com/r"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Usage-Remaining"); got != "4" {
		t.Fatalf("expected remaining header 4, got %q", got)
	}
	var res model.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Type != model.ResultRecipe || res.Recipe == nil || res.Recipe.Name != "鶏肉焼き" {
		t.Fatalf("unexpected result %+v", res)
	}
	if req := env.clipper.last(); req.Kind != model.SourceURL || req.URL != "https://example.com/r" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestClipURL_DegradedHeader(t *testing.T) {
	env := newTestEnv(t)
	env.clipper.out = services.Outcome{
		Result:        model.MemoResult("https://example.com"),
		Degraded:      true,
		DegradeReason: services.ReasonFetchFailed,
	}
	resp := env.doJSON(t, http.MethodPost, "/v1/clip/url", ClipURLRequest{URL: "https://example.com"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Clip-Degraded"); got != services.ReasonFetchFailed {
		t.Fatalf("expected degraded header, got %q", got)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !containsAll(string(raw), `"type":"summary"`, `"data":"# メモ`) {
		t.Fatalf("expected memo body, got %s", raw)
	}
}

func TestClip_ErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		code     string
		contains string
	}{
		{"invalid", fmt.Errorf("%w: url is required", services.ErrInvalidInput), 400, "BAD_REQUEST", "入力が正しくありません"},
		{"quota", &services.QuotaError{Reason: "本日の無料利用枠（10回）を使い切りました"}, 429, "QUOTA_EXCEEDED", "10回"},
		{"not configured", usage.ErrNotConfigured, 503, "AI_NOT_CONFIGURED", "AI の設定"},
		{"generation", fmt.Errorf("%w: model gemini: 400 api key invalid", services.ErrGeneration), 502, "GENERATION_FAILED", "ノートの生成に失敗しました"},
		{"unexpected", errors.New("pq: connection refused"), 500, "INTERNAL_ERROR", "予期しないエラー"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.clipper.err = tc.err
			resp := env.doJSON(t, http.MethodPost, "/v1/clip/text", ClipTextRequest{Text: "hello"})
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
			body := decodeError(t, resp)
			if body.Success || body.Code != tc.code || !strings.Contains(body.Error, tc.contains) {
				t.Fatalf("unexpected body %+v", body)
			}
			if strings.Contains(body.Error, "api key invalid") || strings.Contains(body.Error, "connection refused") {
				t.Fatalf("internal detail leaked: %q", body.Error)
			}
		})
	}
}

func TestClip_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/clip/url", strings.NewReader(`{"url":"https://example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func multipartFile(t *testing.T, contentType string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="dish.jpg"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	_, _ = part.Write(data)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func TestClipImage_StoresAndClips(t *testing.T) {
	env := newTestEnv(t)
	img := []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3}
	body, ct := multipartFile(t, "image/jpeg", img, map[string]string{"skipAI": "true"})

	resp := env.do(t, http.MethodPost, "/v1/clip/image", body, ct)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Image-Key"); got != "user-1/test.jpeg" {
		t.Fatalf("unexpected image key %q", got)
	}
	req := env.clipper.last()
	if req.Kind != model.SourceImage || req.MIMEType != "image/jpeg" || !req.SkipAI || req.FileName != "dish.jpg" {
		t.Fatalf("unexpected request %+v", req)
	}
	if !bytes.Equal(req.Data, img) {
		t.Fatalf("image bytes not forwarded")
	}
}

func TestClipImage_NotStoredWhenClipFails(t *testing.T) {
	env := newTestEnv(t)
	env.clipper.err = services.ErrQuotaExceeded
	body, ct := multipartFile(t, "image/jpeg", []byte{0xff, 0xd8, 0xff}, nil)

	resp := env.do(t, http.MethodPost, "/v1/clip/image", body, ct)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Image-Key") != "" || len(env.images.puts) != 0 {
		t.Fatalf("expected no stored image, got %v", env.images.puts)
	}
}

func TestClipImage_RejectsType(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartFile(t, "application/pdf", []byte("%PDF"), nil)
	resp := env.do(t, http.MethodPost, "/v1/clip/image", body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if len(env.clipper.reqs) != 0 {
		t.Fatalf("clipper must not run for rejected uploads")
	}
}

func TestClipVideo_RejectsOversize(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartFile(t, "video/mp4", make([]byte, maxVideoBytes+1), nil)
	resp := env.do(t, http.MethodPost, "/v1/clip/video", body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body := decodeError(t, resp); !strings.Contains(body.Error, "too large") {
		t.Fatalf("unexpected error %+v", body)
	}
}

func TestBulkClip_EnqueueAndStatus(t *testing.T) {
	env := newTestEnv(t)
	resp := env.doJSON(t, http.MethodPost, "/v1/clip/bulk", BulkClipRequest{URLs: []string{"https://a.example", "https://b.example"}, SkipAI: true})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var accepted BulkClipResponse
	_ = json.NewDecoder(resp.Body).Decode(&accepted)
	if accepted.ID == "" || env.bulk.got == nil || env.bulk.got.ID.String() != accepted.ID {
		t.Fatalf("unexpected enqueue %+v / %+v", accepted, env.bulk.got)
	}
	if env.bulk.got.UserID != "user-1" || !env.bulk.got.Input.SkipAI {
		t.Fatalf("unexpected enqueue input %+v", env.bulk.got)
	}

	id := env.bulk.got.ID
	env.store.jobs[id] = store.ClipJob{
		ID: id, UserID: "user-1", Status: "completed",
		Results: pqtype.NullRawMessage{RawMessage: json.RawMessage(`[{"url":"https://a.example","ok":true}]`), Valid: true},
	}
	resp = env.do(t, http.MethodGet, "/v1/clip/bulk/"+id.String(), nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status BulkClipResponse
	_ = json.NewDecoder(resp.Body).Decode(&status)
	if status.Status != "completed" || !strings.Contains(string(status.Items), "a.example") {
		t.Fatalf("unexpected status %+v", status)
	}

	resp = env.do(t, http.MethodGet, "/v1/clip/bulk/"+uuid.NewString(), nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", resp.StatusCode)
	}
}

func TestBulkClip_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	env.bulk.err = fmt.Errorf("%w: urls is required", services.ErrInvalidInput)
	resp := env.doJSON(t, http.MethodPost, "/v1/clip/bulk", BulkClipRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	resp = env.doJSON(t, http.MethodPost, "/v1/clip/bulk", BulkClipRequest{URLs: []string{"https://a.example"}, CategoryID: uuid.NewString()})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown category, got %d", resp.StatusCode)
	}
}

func TestNotes_CreateGetListDelete(t *testing.T) {
	env := newTestEnv(t)
	cat, _ := env.store.CreateCategory(context.Background(), "user-1", "料理")

	result := json.RawMessage(`{"type":"recipe","data":{"name":"鶏肉焼き","ingredients":"- 鶏肉","instructions":"1. 焼く"}}`)
	resp := env.doJSON(t, http.MethodPost, "/v1/notes", CreateNoteRequest{
		Result:     result,
		CategoryID: cat.ID.String(),
		SourceURL:  "https://example.com/r",
		ImageKey:   "user-1/test.jpeg",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		Note NoteResponse `json:"note"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&created)
	if created.Note.Title != "鶏肉焼き" || created.Note.Type != "recipe" {
		t.Fatalf("unexpected note %+v", created.Note)
	}
	if created.Note.CategoryID == nil || *created.Note.CategoryID != cat.ID.String() {
		t.Fatalf("expected category %s, got %v", cat.ID, created.Note.CategoryID)
	}
	if !strings.Contains(created.Note.Content, "## 材料") {
		t.Fatalf("expected rendered recipe markdown, got %q", created.Note.Content)
	}

	resp = env.do(t, http.MethodGet, "/v1/notes/"+created.Note.ID, nil, "")
	var got struct {
		Note NoteResponse `json:"note"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&got)
	if got.Note.ImageURL == "" {
		t.Fatalf("expected presigned image url")
	}

	resp = env.do(t, http.MethodGet, "/v1/notes?type=recipe&q=%E9%B6%8F&limit=5&category="+cat.ID.String(), nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	f := env.store.lastFilter
	if f.Type != "recipe" || f.Query != "鶏" || f.Limit != 5 || f.CategoryID == nil || *f.CategoryID != cat.ID {
		t.Fatalf("unexpected filter %+v", f)
	}

	resp = env.do(t, http.MethodGet, "/v1/notes/"+created.Note.ID+"/html", nil, "")
	raw, _ := io.ReadAll(resp.Body)
	if !containsAll(string(raw), "<h2>材料</h2>", "<title>鶏肉焼き</title>") {
		t.Fatalf("unexpected html %s", raw)
	}

	env.images.puts["user-1/test.jpeg"] = []byte{1}
	resp = env.do(t, http.MethodDelete, "/v1/notes/"+created.Note.ID, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if _, ok := env.images.puts["user-1/test.jpeg"]; ok {
		t.Fatalf("expected note image to be deleted")
	}
	resp = env.do(t, http.MethodGet, "/v1/notes/"+created.Note.ID, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestNotes_ForeignImageKey(t *testing.T) {
	env := newTestEnv(t)
	victim := "user-2/2025/01/victim.jpg"
	env.images.puts[victim] = []byte{1}

	resp := env.doJSON(t, http.MethodPost, "/v1/notes", CreateNoteRequest{
		Result:   json.RawMessage(`{"type":"summary","data":{"title":"t","content":"c"}}`),
		ImageKey: victim,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for another user's image key, got %d", resp.StatusCode)
	}
	resp = env.doJSON(t, http.MethodPost, "/v1/notes", CreateNoteRequest{
		Result:   json.RawMessage(`{"type":"summary","data":{"title":"t","content":"c"}}`),
		ImageKey: "user-1/../user-2/2025/01/victim.jpg",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for traversal key, got %d", resp.StatusCode)
	}

	// A row that already carries a foreign key is neither presigned nor
	// allowed to remove the object.
	id := uuid.New()
	env.store.mu.Lock()
	env.store.notes[id] = store.Note{ID: id, UserID: "user-1", Type: "summary", Title: "t", ImageKey: victim}
	env.store.mu.Unlock()

	resp = env.do(t, http.MethodGet, "/v1/notes/"+id.String(), nil, "")
	var got struct {
		Note NoteResponse `json:"note"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&got)
	if got.Note.ImageURL != "" {
		t.Fatalf("presigned a foreign image: %q", got.Note.ImageURL)
	}

	resp = env.do(t, http.MethodDelete, "/v1/notes/"+id.String(), nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if _, ok := env.images.puts[victim]; !ok {
		t.Fatalf("deleting the note removed another user's object")
	}
}

func TestNotes_ValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad id", http.MethodGet, "/v1/notes/not-a-uuid", nil, 400},
		{"bad type filter", http.MethodGet, "/v1/notes?type=memo", nil, 400},
		{"missing result", http.MethodPost, "/v1/notes", CreateNoteRequest{}, 400},
		{"bad result", http.MethodPost, "/v1/notes", CreateNoteRequest{Result: json.RawMessage(`{"type":"error","data":"x"}`)}, 400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp *http.Response
			if tc.body != nil {
				resp = env.doJSON(t, tc.method, tc.path, tc.body)
			} else {
				resp = env.do(t, tc.method, tc.path, nil, "")
			}
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestCategories_Conflict(t *testing.T) {
	env := newTestEnv(t)
	name := "料理"
	if resp := env.doJSON(t, http.MethodPost, "/v1/categories", CategoryRequest{Name: &name}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp := env.doJSON(t, http.MethodPost, "/v1/categories", CategoryRequest{Name: &name})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestSettings_MasksKeyAndValidatesLength(t *testing.T) {
	env := newTestEnv(t)
	key := "AIzaSyExampleKey1234"
	resp := env.doJSON(t, http.MethodPut, "/v1/settings", SettingsRequest{GeminiAPIKey: &key})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Settings SettingsResponse `json:"settings"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Settings.GeminiAPIKey != "AIza...1234" || !body.Settings.HasGeminiAPIKey {
		t.Fatalf("expected masked key, got %+v", body.Settings)
	}

	bad := "huge"
	resp = env.doJSON(t, http.MethodPut, "/v1/settings", SettingsRequest{SummaryLength: &bad})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUsage(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/v1/usage", nil, "")
	var body struct {
		Usage usage.Snapshot `json:"usage"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Usage.Remaining != 7 || body.Usage.Limit != 10 {
		t.Fatalf("unexpected usage %+v", body.Usage)
	}
}

func TestPublicPage(t *testing.T) {
	env := newTestEnv(t)
	env.store.pages["draft"] = store.Page{Slug: "draft", Title: "Draft", Content: "x"}
	env.store.pages["menu"] = store.Page{Slug: "menu", Title: "献立", Content: "# 今週\n\n- カレー", Published: true}

	resp, _ := env.server.App().Test(httptest.NewRequest(http.MethodGet, "/p/draft", nil), -1)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unpublished page, got %d", resp.StatusCode)
	}

	resp, _ = env.server.App().Test(httptest.NewRequest(http.MethodGet, "/p/menu", nil), -1)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !containsAll(string(raw), "<h1>今週</h1>", "<li>カレー</li>") {
		t.Fatalf("unexpected html %s", raw)
	}
}

func TestPasskeys_DisabledWithoutWebAuthn(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.server.App().Test(httptest.NewRequest(http.MethodPost, "/auth/passkey/login/begin", nil), -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}
