package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestBuildListNotesQuery_Defaults(t *testing.T) {
	query, args, err := buildListNotesQuery("u1", NoteFilter{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(query, "FROM notes WHERE user_id = $1") {
		t.Fatalf("unexpected query: %s", query)
	}
	if !strings.Contains(query, "ORDER BY created_at DESC, id LIMIT 50 OFFSET 0") {
		t.Fatalf("expected default paging, got: %s", query)
	}
	if len(args) != 1 || args[0] != "u1" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestBuildListNotesQuery_Filters(t *testing.T) {
	cat := uuid.MustParse("6f1d2a4e-8c1b-4b8e-9a55-0c6c1f1e2d3a")
	query, args, err := buildListNotesQuery("u1", NoteFilter{
		CategoryID: &cat,
		Type:       "recipe",
		Query:      "50%_off",
		Limit:      1000,
		Offset:     20,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{
		"category_id = $2",
		"type = $3",
		"(title ILIKE $4 OR content ILIKE $5)",
		"LIMIT 200 OFFSET 20",
	} {
		if !strings.Contains(query, want) {
			t.Fatalf("expected %q in query: %s", want, query)
		}
	}
	if len(args) != 5 {
		t.Fatalf("expected 5 args, got %v", args)
	}
	if args[3] != `%50\%\_off%` {
		t.Fatalf("expected escaped pattern, got %v", args[3])
	}
}

func TestBuildUpdateNoteQuery(t *testing.T) {
	id := uuid.New()
	title := "新しいタイトル"
	query, args, err := buildUpdateNoteQuery("u1", id, NotePatch{Title: &title, ClearCategory: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.HasPrefix(query, "UPDATE notes SET updated_at = NOW(), category_id = $1, title = $2 WHERE") {
		t.Fatalf("unexpected query: %s", query)
	}
	if !strings.Contains(query, "RETURNING id, user_id") {
		t.Fatalf("expected RETURNING clause: %s", query)
	}
	if args[0] != nil || args[1] != title {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestTranslate(t *testing.T) {
	if !errors.Is(translate(sql.ErrNoRows), ErrNotFound) {
		t.Fatalf("expected ErrNoRows to map to ErrNotFound")
	}
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !errors.Is(translate(dup), ErrConflict) {
		t.Fatalf("expected unique violation to map to ErrConflict")
	}
	other := errors.New("boom")
	if translate(other) != other {
		t.Fatalf("expected other errors to pass through")
	}
	if translate(nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
}

func TestReserveUsageSQL(t *testing.T) {
	for _, want := range []string{
		"ON CONFLICT (user_id) DO UPDATE",
		"IS DISTINCT FROM EXCLUDED.last_usage_date",
		"daily_usage_count < $3",
		"RETURNING daily_usage_count",
	} {
		if !strings.Contains(reserveUsageSQL, want) {
			t.Fatalf("expected %q in reserve statement", want)
		}
	}
}

func TestSameDay(t *testing.T) {
	stored := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if !sameDay(stored, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected same day")
	}
	if sameDay(stored, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected different day")
	}
}
