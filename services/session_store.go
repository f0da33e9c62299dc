package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/myrightwindow/rightwindow/models"
)

const sessionKeyPrefix = "session:"

// SessionStore persists sessions by their opaque id. Load returns ErrNoSession for
// unknown or expired ids.
type SessionStore interface {
	Save(ctx context.Context, sess *models.Session, ttl time.Duration) error
	Load(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
}

// NewSessionStore keeps sessions in redis when rc is set and in process memory otherwise.
func NewSessionStore(rc *redis.Client) SessionStore {
	if rc != nil {
		return &redisSessionStore{rc: rc}
	}
	return NewMemorySessionStore()
}

type redisSessionStore struct {
	rc *redis.Client
}

func (s *redisSessionStore) Save(ctx context.Context, sess *models.Session, ttl time.Duration) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.rc.Set(ctx, sessionKeyPrefix+sess.ID, b, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *redisSessionStore) Load(ctx context.Context, id string) (*models.Session, error) {
	b, err := s.rc.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *redisSessionStore) Delete(ctx context.Context, id string) error {
	return s.rc.Del(ctx, sessionKeyPrefix+id).Err()
}

type memoryEntry struct {
	sess      models.Session
	expiresAt time.Time
}

// MemorySessionStore is a process-local SessionStore.
type MemorySessionStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{entries: map[string]memoryEntry{}}
}

func (s *MemorySessionStore) Save(_ context.Context, sess *models.Session, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[sess.ID] = memoryEntry{sess: *sess, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Load(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNoSession
	}
	if !time.Now().Before(e.expiresAt) {
		delete(s.entries, id)
		return nil, ErrNoSession
	}
	sess := e.sess
	return &sess, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Sweep drops expired entries and reports how many were removed.
func (s *MemorySessionStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}
