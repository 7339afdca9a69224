package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Note is a saved clip.
type Note struct {
	ID         uuid.UUID
	UserID     string
	CategoryID uuid.NullUUID
	Type       string
	Title      string
	Content    string
	Data       pqtype.NullRawMessage
	SourceURL  string
	ImageKey   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewNote holds the values for CreateNote.
type NewNote struct {
	UserID     string
	CategoryID *uuid.UUID
	Type       string
	Title      string
	Content    string
	Data       json.RawMessage
	SourceURL  string
	ImageKey   string
}

// NoteFilter narrows ListNotes. Zero values mean "no filter".
type NoteFilter struct {
	CategoryID *uuid.UUID
	Type       string
	Query      string
	Limit      int
	Offset     int
}

// NotePatch holds a partial note update. Nil fields are left as-is;
// ClearCategory removes the category.
type NotePatch struct {
	CategoryID    *uuid.UUID
	ClearCategory bool
	Title         *string
	Content       *string
	Data          json.RawMessage
}

const (
	defaultNoteLimit = 50
	maxNoteLimit     = 200
)

var noteColumns = []string{
	"id", "user_id", "category_id", "type", "title", "content", "data",
	"source_url", "image_key", "created_at", "updated_at",
}

func scanNote(row interface{ Scan(...any) error }) (Note, error) {
	var n Note
	err := row.Scan(&n.ID, &n.UserID, &n.CategoryID, &n.Type, &n.Title, &n.Content, &n.Data,
		&n.SourceURL, &n.ImageKey, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

func nullJSON(raw json.RawMessage) pqtype.NullRawMessage {
	if len(raw) == 0 {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}
}

// CreateNote inserts a note and returns the stored row.
func (s *Store) CreateNote(ctx context.Context, in NewNote) (Note, error) {
	var cat uuid.NullUUID
	if in.CategoryID != nil {
		cat = uuid.NullUUID{UUID: *in.CategoryID, Valid: true}
	}
	query, args, err := psql.Insert("notes").
		Columns("id", "user_id", "category_id", "type", "title", "content", "data", "source_url", "image_key").
		Values(uuid.New(), in.UserID, cat, in.Type, in.Title, in.Content, nullJSON(in.Data), in.SourceURL, in.ImageKey).
		Suffix("RETURNING " + strings.Join(noteColumns, ", ")).
		ToSql()
	if err != nil {
		return Note{}, err
	}
	n, err := scanNote(s.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", translate(err))
	}
	return n, nil
}

// GetNote returns one of the user's notes.
func (s *Store) GetNote(ctx context.Context, userID string, id uuid.UUID) (Note, error) {
	query, args, err := psql.Select(noteColumns...).From("notes").
		Where(sq.Eq{"id": id, "user_id": userID}).
		ToSql()
	if err != nil {
		return Note{}, err
	}
	n, err := scanNote(s.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Note{}, translate(err)
	}
	return n, nil
}

func buildListNotesQuery(userID string, f NoteFilter) (string, []any, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultNoteLimit
	}
	if limit > maxNoteLimit {
		limit = maxNoteLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	b := psql.Select(noteColumns...).From("notes").Where(sq.Eq{"user_id": userID})
	if f.CategoryID != nil {
		b = b.Where(sq.Eq{"category_id": *f.CategoryID})
	}
	if f.Type != "" {
		b = b.Where(sq.Eq{"type": f.Type})
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		b = b.Where(sq.Or{sq.ILike{"title": pattern}, sq.ILike{"content": pattern}})
	}
	return b.OrderBy("created_at DESC", "id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ListNotes returns the user's notes, newest first.
func (s *Store) ListNotes(ctx context.Context, userID string, f NoteFilter) ([]Note, error) {
	query, args, err := buildListNotesQuery(userID, f)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	out := make([]Note, 0)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func buildUpdateNoteQuery(userID string, id uuid.UUID, p NotePatch) (string, []any, error) {
	b := psql.Update("notes").Set("updated_at", sq.Expr("NOW()"))
	switch {
	case p.ClearCategory:
		b = b.Set("category_id", nil)
	case p.CategoryID != nil:
		b = b.Set("category_id", *p.CategoryID)
	}
	if p.Title != nil {
		b = b.Set("title", *p.Title)
	}
	if p.Content != nil {
		b = b.Set("content", *p.Content)
	}
	if len(p.Data) > 0 {
		b = b.Set("data", nullJSON(p.Data))
	}
	return b.Where(sq.Eq{"id": id, "user_id": userID}).
		Suffix("RETURNING " + strings.Join(noteColumns, ", ")).
		ToSql()
}

// UpdateNote applies p and returns the updated row.
func (s *Store) UpdateNote(ctx context.Context, userID string, id uuid.UUID, p NotePatch) (Note, error) {
	query, args, err := buildUpdateNoteQuery(userID, id, p)
	if err != nil {
		return Note{}, err
	}
	n, err := scanNote(s.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Note{}, translate(err)
	}
	return n, nil
}

// DeleteNote removes one of the user's notes.
func (s *Store) DeleteNote(ctx context.Context, userID string, id uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM notes WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return affectedOrNotFound(res)
}
