// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Patient
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a patient is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetPatient fetches a patient by primary key.
func GetPatient(ctx context.Context, db *gorm.DB, id string) (*domain.Patient, error) {
	var p domain.Patient
	if err := db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPatientByPhone fetches a patient by canonical phone digits. Inbound
// webhook senders are resolved through this lookup.
func GetPatientByPhone(ctx context.Context, db *gorm.DB, phoneE164 string) (*domain.Patient, error) {
	var p domain.Patient
	if err := db.WithContext(ctx).First(&p, "phone_e164 = ?", phoneE164).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// SetVerificationStatus updates the consent state of a patient, stamping the
// response time and toggling IsActive for unsubscribe transitions.
func SetVerificationStatus(ctx context.Context, db *gorm.DB, id string, status domain.VerificationStatus, active bool, respondedAt time.Time) error {
	res := db.WithContext(ctx).Model(&domain.Patient{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"verification_status":      status,
			"is_active":                active,
			"verification_response_at": respondedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkVerificationSent stamps VerificationSentAt and bumps the attempt
// counter after a consent request message goes out.
func MarkVerificationSent(ctx context.Context, db *gorm.DB, id string, sentAt time.Time) error {
	res := db.WithContext(ctx).Model(&domain.Patient{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"verification_sent_at":  sentAt,
			"verification_attempts": gorm.Expr("verification_attempts + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReactivatePatient resets a patient to PENDING_VERIFICATION and clears all
// verification bookkeeping. This is the only exit from DECLINED, EXPIRED,
// and unsubscribed states, and it is always staff-initiated.
func ReactivatePatient(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Model(&domain.Patient{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"verification_status":      domain.VerificationPending,
			"is_active":                true,
			"verification_sent_at":     nil,
			"verification_response_at": nil,
			"verification_attempts":    0,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireStaleVerifications moves patients still PENDING_VERIFICATION whose
// consent request went out before the cutoff into EXPIRED. Patients that
// were never sent a request are left alone. Returns the number of rows
// transitioned.
func ExpireStaleVerifications(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.Patient{}).
		Where("verification_status = ? AND verification_sent_at IS NOT NULL AND verification_sent_at < ?",
			domain.VerificationPending, cutoff).
		Update("verification_status", domain.VerificationExpired)
	return res.RowsAffected, res.Error
}
