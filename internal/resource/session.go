package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionCookie names the session cookie.
const SessionCookie = "playground.sid"

const sessionKeyPrefix = "playground:session:"

// Grant is what the guard remembers about an authorized session.
type Grant struct {
	AccessToken string    `json:"access_token"`
	Subject     string    `json:"sub"`
	Username    string    `json:"username"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SessionStore keeps grants by session id. A missing or expired grant reads as nil.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Grant, error)
	Put(ctx context.Context, id string, g Grant, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	grant     Grant
	expiresAt time.Time
}

// MemorySessionStore is the in-process store.
type MemorySessionStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
	swept   time.Time
}

const sweepInterval = 30 * time.Second

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (*Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, id)
		return nil, nil
	}
	g := e.grant
	return &g, nil
}

func (m *MemorySessionStore) Put(_ context.Context, id string, g Grant, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sweep(now)
	e := memoryEntry{grant: g}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	m.entries[id] = e
	return nil
}

// sweep drops expired entries. Callers hold mu.
func (m *MemorySessionStore) sweep(now time.Time) {
	if now.Sub(m.swept) < sweepInterval {
		return
	}
	m.swept = now
	for id, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, id)
		}
	}
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RedisSessionStore keeps grants in Redis so several backends can share them.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore wraps a client.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

// DialRedisSessionStore connects to addr and checks the connection.
func DialRedisSessionStore(ctx context.Context, addr string) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return NewRedisSessionStore(client), nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Grant, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var g Grant
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &g, nil
}

func (s *RedisSessionStore) Put(ctx context.Context, id string, g Grant, ttl time.Duration) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, sessionKeyPrefix+id, data, ttl).Err()
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionKeyPrefix+id).Err()
}

// Close closes the client.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

type sessionKey struct{}

// SessionIDFromContext returns the id set by Sessions.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok
}

// Sessions binds every request to a session, issuing the cookie when absent.
func Sessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
			id = c.Value
		} else {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, id)))
	})
}
