package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

type Category struct {
	ID        uuid.UUID
	UserID    string
	Name      string
	Position  int
	CreatedAt time.Time
}

// CategoryPatch renames and/or moves a category.
type CategoryPatch struct {
	Name     *string
	Position *int
}

const categoryColumns = `id, user_id, name, position, created_at`

func scanCategory(row interface{ Scan(...any) error }) (Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Position, &c.CreatedAt)
	return c, err
}

// ListCategories returns the user's categories in display order.
func (s *Store) ListCategories(ctx context.Context, userID string) ([]Category, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE user_id = $1 ORDER BY position, name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	out := make([]Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCategory appends a category after the user's last one. A duplicate
// name yields ErrConflict.
func (s *Store) CreateCategory(ctx context.Context, userID, name string) (Category, error) {
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO categories (id, user_id, name, position)
VALUES ($1, $2, $3, (SELECT COALESCE(MAX(position) + 1, 0) FROM categories WHERE user_id = $2))
RETURNING `+categoryColumns, uuid.New(), userID, name)
	c, err := scanCategory(row)
	if err != nil {
		return Category{}, translate(err)
	}
	return c, nil
}

// GetCategory returns one of the user's categories.
func (s *Store) GetCategory(ctx context.Context, userID string, id uuid.UUID) (Category, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = $1 AND user_id = $2`, id, userID)
	c, err := scanCategory(row)
	if err != nil {
		return Category{}, translate(err)
	}
	return c, nil
}

// UpdateCategory applies p. With an empty patch the current row is returned.
func (s *Store) UpdateCategory(ctx context.Context, userID string, id uuid.UUID, p CategoryPatch) (Category, error) {
	if p.Name == nil && p.Position == nil {
		return s.GetCategory(ctx, userID, id)
	}
	b := psql.Update("categories")
	if p.Name != nil {
		b = b.Set("name", *p.Name)
	}
	if p.Position != nil {
		b = b.Set("position", *p.Position)
	}
	query, args, err := b.Where(sq.Eq{"id": id, "user_id": userID}).
		Suffix("RETURNING " + categoryColumns).
		ToSql()
	if err != nil {
		return Category{}, err
	}
	c, err := scanCategory(s.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Category{}, translate(err)
	}
	return c, nil
}

// DeleteCategory removes a category. Its notes are kept with the category
// cleared.
func (s *Store) DeleteCategory(ctx context.Context, userID string, id uuid.UUID) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE notes SET category_id = NULL, updated_at = NOW() WHERE category_id = $1 AND user_id = $2`,
		id, userID); err != nil {
		return fmt.Errorf("clear note categories: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if err := affectedOrNotFound(res); err != nil {
		return err
	}
	return tx.Commit()
}
