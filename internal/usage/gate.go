// Package usage decides whether a user may spend an AI call and which API key
// pays for it.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clipnote/internal/metrics"
)

// Unlimited is reported as Remaining for users with their own API key.
const Unlimited = -1

// ErrNotConfigured means the user has no personal key and no shared key is
// configured on the server.
var ErrNotConfigured = errors.New("usage: no api key configured")

// Store is the persistence the gate needs. ReserveDailyUsage must increment
// the user's counter for day only while it is below limit, and report the
// resulting count and whether the reservation happened, in one atomic step.
type Store interface {
	PersonalAPIKey(ctx context.Context, userID string) (string, error)
	ReserveDailyUsage(ctx context.Context, userID string, day time.Time, limit int) (int, bool, error)
	DailyUsage(ctx context.Context, userID string, day time.Time) (int, error)
}

// Decision is the outcome of CheckAndReserve.
type Decision struct {
	Allowed      bool
	APIKey       string
	IsFreeTier   bool
	Remaining    int
	DenialReason string
}

// Snapshot is today's usage as reported by Status.
type Snapshot struct {
	HasOwnKey bool      `json:"hasOwnKey"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resetsAt"`
}

type Gate struct {
	store     Store
	sharedKey string
	limit     int
	now       func() time.Time
}

type Option func(*Gate)

// WithClock overrides the time source used for the day boundary.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGate(st Store, sharedKey string, dailyLimit int, opts ...Option) *Gate {
	if dailyLimit <= 0 {
		dailyLimit = 10
	}
	g := &Gate{
		store:     st,
		sharedKey: strings.TrimSpace(sharedKey),
		limit:     dailyLimit,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Today truncates t to the start of its UTC calendar day.
func Today(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CheckAndReserve authorizes one AI call for userID. A personal key always
// wins and never touches the counter; otherwise one unit of the shared daily
// quota is reserved.
func (g *Gate) CheckAndReserve(ctx context.Context, userID string) (Decision, error) {
	key, err := g.store.PersonalAPIKey(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("load personal key: %w", err)
	}
	if key = strings.TrimSpace(key); key != "" {
		metrics.RecordQuota("own_key")
		return Decision{Allowed: true, APIKey: key, Remaining: Unlimited}, nil
	}

	if g.sharedKey == "" {
		metrics.RecordQuota("not_configured")
		return Decision{}, ErrNotConfigured
	}

	count, ok, err := g.store.ReserveDailyUsage(ctx, userID, Today(g.now()), g.limit)
	if err != nil {
		return Decision{}, fmt.Errorf("reserve usage: %w", err)
	}
	if !ok {
		metrics.RecordQuota("exhausted")
		return Decision{
			Allowed:    false,
			IsFreeTier: true,
			Remaining:  0,
			DenialReason: fmt.Sprintf(
				"本日の無料枠（%d回）を使い切りました。設定画面で自分の Gemini API キーを登録すると引き続き利用できます。", g.limit),
		}, nil
	}

	metrics.RecordQuota("reserved")
	remaining := g.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, APIKey: g.sharedKey, IsFreeTier: true, Remaining: remaining}, nil
}

// Status reports today's usage without reserving anything.
func (g *Gate) Status(ctx context.Context, userID string) (Snapshot, error) {
	now := g.now()
	snap := Snapshot{Limit: g.limit, ResetsAt: Today(now).AddDate(0, 0, 1)}

	key, err := g.store.PersonalAPIKey(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load personal key: %w", err)
	}
	if strings.TrimSpace(key) != "" {
		snap.HasOwnKey = true
		snap.Remaining = Unlimited
		return snap, nil
	}

	used, err := g.store.DailyUsage(ctx, userID, Today(now))
	if err != nil {
		return Snapshot{}, fmt.Errorf("load usage: %w", err)
	}
	snap.Used = used
	snap.Remaining = g.limit - used
	if snap.Remaining < 0 {
		snap.Remaining = 0
	}
	return snap, nil
}
