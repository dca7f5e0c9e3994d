// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the durable
// delivery-job queue: deduplicated enqueue, atomic claiming, retry
// bookkeeping, and the dead-letter holding area.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/domain"
)

// ErrDuplicateJob indicates a job with the same deterministic identity is
// already enqueued; the caller's submission was deduplicated, not lost.
var ErrDuplicateJob = errors.New("job already enqueued")

// EnqueueJob inserts a delivery job keyed by its deterministic id. A unique
// violation means the same (patient, occurrence) was already enqueued by a
// previous trigger tick and maps to ErrDuplicateJob.
func EnqueueJob(ctx context.Context, db *gorm.DB, job *domain.DeliveryJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = now
	}
	if job.Status == "" {
		job.Status = domain.JobQueued
	}
	if err := db.WithContext(ctx).Create(job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return ErrDuplicateJob
		}
		return err
	}
	return nil
}

// ClaimDueJobs atomically flips up to limit QUEUED jobs whose next attempt is
// due into RUNNING and returns them. The conditional update is what keeps
// overlapping trigger invocations from executing the same job twice: each
// row can only be claimed by the invocation that wins the UPDATE.
func ClaimDueJobs(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.DeliveryJob, error) {
	var claimed []domain.DeliveryJob
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []domain.DeliveryJob
		if err := tx.
			Where("status = ? AND next_attempt_at <= ?", domain.JobQueued, now).
			Order("next_attempt_at ASC").
			Limit(limit).
			Find(&due).Error; err != nil {
			return err
		}
		for _, j := range due {
			res := tx.Model(&domain.DeliveryJob{}).
				Where("id = ? AND status = ?", j.ID, domain.JobQueued).
				Updates(map[string]any{"status": domain.JobRunning, "attempts": gorm.Expr("attempts + 1")})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				j.Status = domain.JobRunning
				j.Attempts++
				claimed = append(claimed, j)
			}
		}
		return nil
	})
	return claimed, err
}

// CompleteJob marks a RUNNING job SUCCEEDED or SKIPPED.
func CompleteJob(ctx context.Context, db *gorm.DB, id string, status domain.JobStatus) error {
	res := db.WithContext(ctx).Model(&domain.DeliveryJob{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. Below the attempt ceiling the job goes
// back to QUEUED with the supplied backoff delay; at the ceiling it moves to
// the DEAD holding area with the final error retained for inspection.
func FailJob(ctx context.Context, db *gorm.DB, job *domain.DeliveryJob, sendErr error, maxAttempts int, backoff time.Duration) error {
	updates := map[string]any{"last_error": sendErr.Error()}
	if job.Attempts >= maxAttempts {
		updates["status"] = domain.JobDead
	} else {
		updates["status"] = domain.JobQueued
		updates["next_attempt_at"] = time.Now().UTC().Add(backoff)
	}
	res := db.WithContext(ctx).Model(&domain.DeliveryJob{}).
		Where("id = ?", job.ID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueStaleJobs recovers RUNNING jobs whose worker never reported back,
// which happens when the process dies between claim and completion. Rows
// stalled past the cutoff go back to QUEUED for another claim; a row whose
// stranding claim was already the final attempt moves to DEAD instead.
// Returns the number of rows touched.
func RequeueStaleJobs(ctx context.Context, db *gorm.DB, cutoff time.Time, maxAttempts int) (int64, error) {
	dead := db.WithContext(ctx).Model(&domain.DeliveryJob{}).
		Where("status = ? AND updated_at < ? AND attempts >= ?", domain.JobRunning, cutoff, maxAttempts).
		Updates(map[string]any{
			"status":     domain.JobDead,
			"last_error": "worker lost before completion",
		})
	if dead.Error != nil {
		return 0, dead.Error
	}
	requeued := db.WithContext(ctx).Model(&domain.DeliveryJob{}).
		Where("status = ? AND updated_at < ?", domain.JobRunning, cutoff).
		Updates(map[string]any{
			"status":          domain.JobQueued,
			"next_attempt_at": time.Now().UTC(),
		})
	if requeued.Error != nil {
		return dead.RowsAffected, requeued.Error
	}
	return dead.RowsAffected + requeued.RowsAffected, nil
}

// CountDeadJobs returns the total number of dead-letter rows.
func CountDeadJobs(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.DeliveryJob{}).
		Where("status = ?", domain.JobDead).
		Count(&n).Error
	return n, err
}

// ListDeadJobs returns a page of dead-letter jobs, newest first.
func ListDeadJobs(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.DeliveryJob, error) {
	var out []domain.DeliveryJob
	err := db.WithContext(ctx).
		Where("status = ?", domain.JobDead).
		Order("updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// PurgeDeadJobs deletes dead-letter rows older than the cutoff. Returns the
// number of purged rows.
func PurgeDeadJobs(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.JobDead, cutoff).
		Delete(&domain.DeliveryJob{})
	return res.RowsAffected, res.Error
}

// isUniqueViolation detects unique-constraint violations across drivers that
// may not map to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
