package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Settings is a user's row in user_settings.
type Settings struct {
	UserID           string
	GeminiAPIKey     string
	AISummaryEnabled bool
	CustomPrompt     string
	SummaryLength    string
	DailyUsageCount  int
	LastUsageDate    sql.NullTime
	DisplayName      string
	UpdatedAt        time.Time
}

// SettingsUpdate holds the user-editable fields. Nil fields are left as-is.
type SettingsUpdate struct {
	GeminiAPIKey     *string
	AISummaryEnabled *bool
	CustomPrompt     *string
	SummaryLength    *string
	DisplayName      *string
}

const settingsColumns = `user_id, gemini_api_key, ai_summary_enabled, custom_prompt, summary_length,
	daily_usage_count, last_usage_date, display_name, updated_at`

func scanSettings(row interface{ Scan(...any) error }) (Settings, error) {
	var s Settings
	err := row.Scan(&s.UserID, &s.GeminiAPIKey, &s.AISummaryEnabled, &s.CustomPrompt, &s.SummaryLength,
		&s.DailyUsageCount, &s.LastUsageDate, &s.DisplayName, &s.UpdatedAt)
	return s, err
}

// GetSettings returns the user's settings, or defaults when no row exists.
func (s *Store) GetSettings(ctx context.Context, userID string) (Settings, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+settingsColumns+` FROM user_settings WHERE user_id = $1`, userID)
	out, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{UserID: userID, AISummaryEnabled: true}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return out, nil
}

// UpdateSettings applies upd, creating the row when needed.
func (s *Store) UpdateSettings(ctx context.Context, userID string, upd SettingsUpdate) (Settings, error) {
	cur, err := s.GetSettings(ctx, userID)
	if err != nil {
		return Settings{}, err
	}
	if upd.GeminiAPIKey != nil {
		cur.GeminiAPIKey = *upd.GeminiAPIKey
	}
	if upd.AISummaryEnabled != nil {
		cur.AISummaryEnabled = *upd.AISummaryEnabled
	}
	if upd.CustomPrompt != nil {
		cur.CustomPrompt = *upd.CustomPrompt
	}
	if upd.SummaryLength != nil {
		cur.SummaryLength = *upd.SummaryLength
	}
	if upd.DisplayName != nil {
		cur.DisplayName = *upd.DisplayName
	}

	row := s.DB.QueryRowContext(ctx, `
INSERT INTO user_settings (user_id, gemini_api_key, ai_summary_enabled, custom_prompt, summary_length, display_name)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id) DO UPDATE
SET gemini_api_key = EXCLUDED.gemini_api_key,
    ai_summary_enabled = EXCLUDED.ai_summary_enabled,
    custom_prompt = EXCLUDED.custom_prompt,
    summary_length = EXCLUDED.summary_length,
    display_name = EXCLUDED.display_name,
    updated_at = NOW()
RETURNING `+settingsColumns,
		userID, cur.GeminiAPIKey, cur.AISummaryEnabled, cur.CustomPrompt, cur.SummaryLength, cur.DisplayName)
	out, err := scanSettings(row)
	if err != nil {
		return Settings{}, fmt.Errorf("upsert settings: %w", err)
	}
	return out, nil
}

// PersonalAPIKey returns the user's own Gemini key, or "" when unset.
func (s *Store) PersonalAPIKey(ctx context.Context, userID string) (string, error) {
	var key string
	err := s.DB.QueryRowContext(ctx,
		`SELECT gemini_api_key FROM user_settings WHERE user_id = $1`, userID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

// reserveUsageSQL increments the counter in one statement. A stale
// last_usage_date restarts the count at 1; otherwise the row is only
// updated while the count is below the limit, so no row is returned once
// the quota is spent.
const reserveUsageSQL = `
INSERT INTO user_settings (user_id, daily_usage_count, last_usage_date)
VALUES ($1, 1, $2)
ON CONFLICT (user_id) DO UPDATE
SET daily_usage_count = CASE
        WHEN user_settings.last_usage_date = EXCLUDED.last_usage_date
        THEN user_settings.daily_usage_count + 1
        ELSE 1
    END,
    last_usage_date = EXCLUDED.last_usage_date,
    updated_at = NOW()
WHERE user_settings.last_usage_date IS DISTINCT FROM EXCLUDED.last_usage_date
   OR user_settings.daily_usage_count < $3
RETURNING daily_usage_count`

// ReserveDailyUsage atomically reserves one unit of the day's quota.
func (s *Store) ReserveDailyUsage(ctx context.Context, userID string, day time.Time, limit int) (int, bool, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, reserveUsageSQL, userID, day, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		used, err := s.DailyUsage(ctx, userID, day)
		return used, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("reserve usage: %w", err)
	}
	return count, true, nil
}

// DailyUsage returns the count for day, treating any other date as zero.
func (s *Store) DailyUsage(ctx context.Context, userID string, day time.Time) (int, error) {
	var count int
	var last sql.NullTime
	err := s.DB.QueryRowContext(ctx,
		`SELECT daily_usage_count, last_usage_date FROM user_settings WHERE user_id = $1`, userID).
		Scan(&count, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}
	if !last.Valid || !sameDay(last.Time, day) {
		return 0, nil
	}
	return count, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
