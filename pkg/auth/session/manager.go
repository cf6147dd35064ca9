package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// AccessSessionChecker is the surface the auth middleware needs.
type AccessSessionChecker interface {
	HasSession(ctx context.Context, sessionID string) (bool, error)
}

type sessionStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	SessionKey(sessionID string) string
}

// Manager tracks live bearer sessions in Redis keyed by jti. Tokens minted by
// the identity collaborator only grant access while their session row exists.
type Manager struct {
	store sessionStore
	ttl   time.Duration
}

// NewManager builds a session manager with the given TTL.
func NewManager(store sessionStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Grant records a session for the given id.
func (m *Manager) Grant(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	return m.store.Set(ctx, m.store.SessionKey(sessionID), "1", m.ttl)
}

// HasSession reports whether the session id is still live.
func (m *Manager) HasSession(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	_, err := m.store.Get(ctx, m.store.SessionKey(sessionID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Revoke removes the session row.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	return m.store.Del(ctx, m.store.SessionKey(sessionID))
}
