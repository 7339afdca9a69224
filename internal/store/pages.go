package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// Page is a user-authored markdown page, optionally published at /p/:slug.
type Page struct {
	ID        uuid.UUID
	UserID    string
	Slug      string
	Title     string
	Content   string
	Published bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PagePatch struct {
	Slug      *string
	Title     *string
	Content   *string
	Published *bool
}

const pageColumns = `id, user_id, slug, title, content, published, created_at, updated_at`

func scanPage(row interface{ Scan(...any) error }) (Page, error) {
	var p Page
	err := row.Scan(&p.ID, &p.UserID, &p.Slug, &p.Title, &p.Content, &p.Published, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) ListPages(ctx context.Context, userID string) ([]Page, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	out := make([]Page, 0)
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePage inserts a page. A taken slug yields ErrConflict.
func (s *Store) CreatePage(ctx context.Context, p Page) (Page, error) {
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO pages (id, user_id, slug, title, content, published)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+pageColumns, uuid.New(), p.UserID, p.Slug, p.Title, p.Content, p.Published)
	out, err := scanPage(row)
	if err != nil {
		return Page{}, translate(err)
	}
	return out, nil
}

func (s *Store) GetPage(ctx context.Context, userID string, id uuid.UUID) (Page, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE id = $1 AND user_id = $2`, id, userID)
	p, err := scanPage(row)
	if err != nil {
		return Page{}, translate(err)
	}
	return p, nil
}

// GetPublishedPage looks a page up by slug; unpublished pages are not found.
func (s *Store) GetPublishedPage(ctx context.Context, slug string) (Page, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE slug = $1 AND published`, slug)
	p, err := scanPage(row)
	if err != nil {
		return Page{}, translate(err)
	}
	return p, nil
}

func (s *Store) UpdatePage(ctx context.Context, userID string, id uuid.UUID, p PagePatch) (Page, error) {
	b := psql.Update("pages").Set("updated_at", sq.Expr("NOW()"))
	if p.Slug != nil {
		b = b.Set("slug", *p.Slug)
	}
	if p.Title != nil {
		b = b.Set("title", *p.Title)
	}
	if p.Content != nil {
		b = b.Set("content", *p.Content)
	}
	if p.Published != nil {
		b = b.Set("published", *p.Published)
	}
	query, args, err := b.Where(sq.Eq{"id": id, "user_id": userID}).
		Suffix("RETURNING " + pageColumns).
		ToSql()
	if err != nil {
		return Page{}, err
	}
	out, err := scanPage(s.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Page{}, translate(err)
	}
	return out, nil
}

func (s *Store) DeletePage(ctx context.Context, userID string, id uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM pages WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	return affectedOrNotFound(res)
}
