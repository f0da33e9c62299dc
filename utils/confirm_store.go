package utils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const confirmPrefix = "delete:confirm:"

type confirmEntry struct {
	subject   string
	expiresAt time.Time
}

var (
	confirmStore   = map[string]confirmEntry{}
	confirmStoreMu sync.Mutex
)

// SaveConfirmation records a single-use confirmation token bound to subject (a post id).
func SaveConfirmation(token, subject string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rc.Set(ctx, confirmPrefix+token, subject, ttl).Err(); err == nil {
			return
		}
	}
	confirmStoreMu.Lock()
	confirmStore[token] = confirmEntry{subject: subject, expiresAt: time.Now().Add(ttl)}
	confirmStoreMu.Unlock()
}

// ConsumeConfirmation validates and removes a token, returning the subject it was issued for.
func ConsumeConfirmation(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if v, err := consumeFromRedis(ctx, rc, confirmPrefix+token); err == nil && v != "" {
			return v, true
		}
	}
	confirmStoreMu.Lock()
	entry, ok := confirmStore[token]
	if ok {
		delete(confirmStore, token)
	}
	confirmStoreMu.Unlock()
	if !ok || !time.Now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.subject, true
}

// getDeleter is the part of the redis client consumeFromRedis needs.
type getDeleter interface {
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

const getDelScript = `local v=redis.call('GET', KEYS[1]); if v then redis.call('DEL', KEYS[1]); end; return v`

// consumeFromRedis reads and deletes key atomically. A missing key yields "" and no error.
func consumeFromRedis(ctx context.Context, rc getDeleter, key string) (string, error) {
	v, err := rc.GetDel(ctx, key).Result()
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, redis.Nil):
		return "", nil
	}
	// servers older than 6.2 lack GETDEL
	res, err := rc.Eval(ctx, getDelScript, []string{key}).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	s, _ := res.(string)
	return s, nil
}

// DiscardConfirmation drops a token without acting on it.
func DiscardConfirmation(token string) {
	_, _ = ConsumeConfirmation(token)
}

func sweepConfirmations(now time.Time) int {
	confirmStoreMu.Lock()
	defer confirmStoreMu.Unlock()
	n := 0
	for token, e := range confirmStore {
		if !now.Before(e.expiresAt) {
			delete(confirmStore, token)
			n++
		}
	}
	return n
}
