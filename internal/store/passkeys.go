package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Passkey is a stored WebAuthn credential. Credential holds the JSON form
// of the library's credential struct.
type Passkey struct {
	ID           uuid.UUID
	UserID       string
	CredentialID []byte
	Credential   json.RawMessage
	Name         string
	CreatedAt    time.Time
	LastUsedAt   sql.NullTime
}

const passkeyColumns = `id, user_id, credential_id, credential, name, created_at, last_used_at`

func scanPasskey(row interface{ Scan(...any) error }) (Passkey, error) {
	var p Passkey
	err := row.Scan(&p.ID, &p.UserID, &p.CredentialID, &p.Credential, &p.Name, &p.CreatedAt, &p.LastUsedAt)
	return p, err
}

func (s *Store) ListPasskeys(ctx context.Context, userID string) ([]Passkey, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+passkeyColumns+` FROM passkeys WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	defer rows.Close()

	out := make([]Passkey, 0)
	for rows.Next() {
		p, err := scanPasskey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan passkey: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreatePasskey(ctx context.Context, userID, name string, credentialID []byte, credential json.RawMessage) (Passkey, error) {
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO passkeys (id, user_id, credential_id, credential, name)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+passkeyColumns, uuid.New(), userID, credentialID, credential, name)
	p, err := scanPasskey(row)
	if err != nil {
		return Passkey{}, translate(err)
	}
	return p, nil
}

// GetPasskeyByCredentialID finds the credential used in a login ceremony.
func (s *Store) GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (Passkey, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+passkeyColumns+` FROM passkeys WHERE credential_id = $1`, credentialID)
	p, err := scanPasskey(row)
	if err != nil {
		return Passkey{}, translate(err)
	}
	return p, nil
}

// TouchPasskey stores the credential's updated state after a login.
func (s *Store) TouchPasskey(ctx context.Context, id uuid.UUID, credential json.RawMessage) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE passkeys SET credential = $2, last_used_at = NOW() WHERE id = $1`, id, credential)
	if err != nil {
		return fmt.Errorf("touch passkey: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *Store) DeletePasskey(ctx context.Context, userID string, id uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM passkeys WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete passkey: %w", err)
	}
	return affectedOrNotFound(res)
}
