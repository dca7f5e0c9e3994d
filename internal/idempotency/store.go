// Package idempotency provides the atomic test-and-set fence that prevents a
// duplicate external event (trigger tick, webhook retry) from being processed
// twice. Two backends are provided: Redis (SETNX, preferred when a shared
// cache is configured) and a database table (unique-insert), both behind the
// same Store interface. The FailClosed wrapper defines the failure mode for
// an unreachable store: report the event as a duplicate, because a skipped
// reminder is recoverable and a double-sent medical reminder is not.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/repo"
)

// Store is the deduplication fence. Seen records key atomically and reports
// whether it was already present within its TTL: the first caller for a key
// gets false, every concurrent or later caller gets true.
type Store interface {
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Key hashes the identity parts of an external event into an opaque fence
// key. Hashing keeps provider-controlled strings out of storage keys.
func Key(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RedisStore implements Store on a shared Redis connection using SETNX,
// which is a single atomic test-and-set on the server.
type RedisStore struct {
	Client *redis.Client
	Prefix string // key namespace, e.g. "prima:idem:"
}

// NewRedisStore constructs a RedisStore with the default key prefix.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client, Prefix: "prima:idem:"}
}

// Seen implements Store. SETNX returning false means the key already existed.
func (s *RedisStore) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.Client.SetNX(ctx, s.Prefix+key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// DBStore implements Store on the idempotency table. The unique-keyed insert
// is the test-and-set; there is no separate existence check to race with.
type DBStore struct {
	DB *gorm.DB
}

// NewDBStore constructs a DBStore.
func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{DB: db}
}

// Seen implements Store. A unique violation against a live row reports a
// duplicate; a violation against an expired row releases the row and retries
// once, so an old key becomes observable again after its TTL.
func (s *DBStore) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	_, err := repo.CreateIdempotency(ctx, s.DB, key, ttl)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, repo.ErrDuplicate) {
		return false, err
	}

	now := time.Now().UTC()
	if _, getErr := repo.GetIdempotency(ctx, s.DB, key, now); getErr == nil {
		return true, nil
	} else if !errors.Is(getErr, repo.ErrNotFound) {
		return false, getErr
	}

	// Row exists but expired: release it and claim the key again.
	if relErr := repo.ReleaseExpiredIdempotency(ctx, s.DB, key, now); relErr != nil {
		return false, relErr
	}
	if _, err := repo.CreateIdempotency(ctx, s.DB, key, ttl); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// FailClosed wraps a Store so that store errors surface as "duplicate".
// When the fence cannot be consulted, the event is dropped rather than
// risking a double send.
type FailClosed struct {
	Store
}

// Seen implements Store.
func (f FailClosed) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	dup, err := f.Store.Seen(ctx, key, ttl)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("idempotency store unavailable; treating event as duplicate")
		return true, nil
	}
	return dup, nil
}
