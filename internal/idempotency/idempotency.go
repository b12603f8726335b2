// Package idempotency maps client-supplied Idempotency-Key values to the
// reservation created for them, so a retried create after a lost response
// returns the original reservation instead of a conflict.
package idempotency

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInProgress is returned by Claim while another request holds the key.
var ErrInProgress = errors.New("request with this idempotency key is in progress")

const pendingValue = "pending"

// Store claims keys and records their outcome.
type Store interface {
	// Claim reserves key for the caller. When key already completed it
	// returns the recorded id and claimed=false.
	Claim(ctx context.Context, key string) (id int64, claimed bool, err error)
	// Complete records id as the outcome of a claimed key.
	Complete(ctx context.Context, key string, id int64) error
	// Release frees a claimed key whose request failed.
	Release(ctx context.Context, key string) error
}

type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: "gaia:idem:"}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Claim(ctx context.Context, key string) (int64, bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.key(key), pendingValue, s.ttl).Result()
	if err != nil {
		return 0, false, err
	}
	if ok {
		return 0, true, nil
	}

	val, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = s.rdb.SetNX(ctx, s.key(key), pendingValue, s.ttl).Result()
		if err != nil {
			return 0, false, err
		}
		if ok {
			return 0, true, nil
		}
		return 0, false, ErrInProgress
	}
	if err != nil {
		return 0, false, err
	}
	return parseValue(val)
}

func (s *RedisStore) Complete(ctx context.Context, key string, id int64) error {
	return s.rdb.Set(ctx, s.key(key), strconv.FormatInt(id, 10), s.ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func parseValue(val string) (int64, bool, error) {
	if val == pendingValue {
		return 0, false, ErrInProgress
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, false, nil
}

type memEntry struct {
	value   string
	expires time.Time
}

// sweepInterval bounds how often Claim scans the map for expired keys.
const sweepInterval = time.Minute

// MemoryStore is the single-process Store used when Redis is not configured.
// Expired keys are evicted by Claim at most once per sweepInterval.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]memEntry
	ttl       time.Duration
	now       func() time.Time
	nextSweep time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{entries: make(map[string]memEntry), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) Claim(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !now.Before(s.nextSweep) {
		s.evictExpired(now)
		s.nextSweep = now.Add(sweepInterval)
	}
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		return parseValue(e.value)
	}
	s.entries[key] = memEntry{value: pendingValue, expires: now.Add(s.ttl)}
	return 0, true, nil
}

func (s *MemoryStore) evictExpired(now time.Time) {
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
}

// Len reports the number of keys held, expired ones included until the
// next sweep.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Complete(_ context.Context, key string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{value: strconv.FormatInt(id, 10), expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
