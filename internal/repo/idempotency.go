// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used as the deduplication fence for external events.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/domain"
)

// ErrDuplicate indicates that a non-expired idempotency record already
// exists for the given key.
var ErrDuplicate = errors.New("duplicate")

// CreateIdempotency inserts a fence record for key and returns ErrDuplicate
// on a unique violation. The insert itself is the test-and-set: there is no
// separate check that could race with a concurrent writer.
func CreateIdempotency(ctx context.Context, db *gorm.DB, key string, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		Key:       key,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// GetIdempotency returns a non-expired fence record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.Idempotency, error) {
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// ReleaseExpiredIdempotency deletes an expired fence row for key so the key
// can be reinserted after its TTL. A live row is left untouched.
func ReleaseExpiredIdempotency(ctx context.Context, db *gorm.DB, key string, now time.Time) error {
	return db.WithContext(ctx).
		Where("key = ? AND expires_at <= ?", key, now).
		Delete(&domain.Idempotency{}).Error
}

// PurgeExpiredIdempotency deletes fence rows whose TTL elapsed, so a key can
// be observed again after its window. Returns the number of purged rows.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
