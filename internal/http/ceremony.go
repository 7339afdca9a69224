package http

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

const ceremonyTTL = 5 * time.Minute

var errCeremonyNotFound = errors.New("passkey ceremony not found or expired")

// ceremonyStore keeps WebAuthn session data between the begin and finish
// calls of a ceremony. Take removes the entry so a challenge is used once.
type ceremonyStore interface {
	Save(ctx context.Context, id string, data *webauthn.SessionData) error
	Take(ctx context.Context, id string) (*webauthn.SessionData, error)
}

type redisCeremonyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func newRedisCeremonyStore(rdb *redis.Client) *redisCeremonyStore {
	return &redisCeremonyStore{rdb: rdb, ttl: ceremonyTTL}
}

func ceremonyKey(id string) string { return "clipnote:webauthn:" + id }

func (s *redisCeremonyStore) Save(ctx context.Context, id string, data *webauthn.SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, ceremonyKey(id), raw, s.ttl).Err()
}

func (s *redisCeremonyStore) Take(ctx context.Context, id string) (*webauthn.SessionData, error) {
	raw, err := s.rdb.GetDel(ctx, ceremonyKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errCeremonyNotFound
	}
	if err != nil {
		return nil, err
	}
	var data webauthn.SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// memoryCeremonyStore is used when Redis is not configured. It only works
// for a single API instance.
type memoryCeremonyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryCeremony
}

type memoryCeremony struct {
	data      webauthn.SessionData
	expiresAt time.Time
}

func newMemoryCeremonyStore() *memoryCeremonyStore {
	return &memoryCeremonyStore{ttl: ceremonyTTL, now: time.Now, entries: make(map[string]memoryCeremony)}
}

func (s *memoryCeremonyStore) Save(_ context.Context, id string, data *webauthn.SessionData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[id] = memoryCeremony{data: *data, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *memoryCeremonyStore) Take(_ context.Context, id string) (*webauthn.SessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, errCeremonyNotFound
	}
	delete(s.entries, id)
	if s.now().After(e.expiresAt) {
		return nil, errCeremonyNotFound
	}
	return &e.data, nil
}
