// Package confirmation – manual entry
//
// This file implements the staff-facing manual confirmation path. Manual and
// automated confirmations are mutually exclusive: both fight for the same
// conditional claim on the reminder row, so whichever arrives first wins and
// the loser receives an explicit conflict, never a silent overwrite.
package confirmation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/cache"
	"github.com/risetaid/prima-sub012/internal/domain"
	"github.com/risetaid/prima-sub012/internal/repo"
)

// Manual-confirmation errors.
var (
	// ErrReminderNotFound indicates the referenced reminder does not exist.
	ErrReminderNotFound = errors.New("reminder not found")

	// ErrConfirmationConflict indicates the reminder's confirmation status
	// already left PENDING (automated reply or earlier manual entry won).
	ErrConfirmationConflict = errors.New("confirmation already recorded for this reminder")

	// ErrNotSent indicates the reminder has not been dispatched yet, so
	// there is nothing for the patient to have completed.
	ErrNotSent = errors.New("reminder has not been sent")
)

// ManualService records staff-entered confirmations.
type ManualService struct {
	DB         *gorm.DB
	Compliance *cache.Compliance
}

// NewManualService constructs a ManualService.
func NewManualService(db *gorm.DB, compliance *cache.Compliance) *ManualService {
	return &ManualService{DB: db, Compliance: compliance}
}

// Record creates a ManualConfirmation for reminderID on behalf of recordedBy.
//
// Semantics:
//   - the reminder must exist (ErrReminderNotFound) and have been sent
//     (ErrNotSent)
//   - the conditional claim on (status, confirmation_status) must succeed;
//     a reminder already confirmed or missed yields ErrConfirmationConflict
//   - a second manual row for the same reminder trips the unique index and
//     also yields ErrConfirmationConflict
//
// The claim and the insert run in one transaction so a claim without a
// manual row (or vice versa) cannot be observed.
func (s *ManualService) Record(ctx context.Context, reminderID, recordedBy, note string) (*domain.ManualConfirmation, error) {
	recordedBy = strings.TrimSpace(recordedBy)
	if recordedBy == "" {
		recordedBy = "staff"
	}

	var (
		mc        *domain.ManualConfirmation
		patientID string
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rem, err := repo.GetReminder(ctx, tx, reminderID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrReminderNotFound
			}
			return err
		}
		if rem.SentAt == nil {
			return ErrNotSent
		}
		patientID = rem.PatientID

		now := time.Now().UTC()
		if err := repo.ClaimConfirmation(ctx, tx, rem.ID, domain.ReminderDelivered, domain.ConfirmationConfirmed, now); err != nil {
			if errors.Is(err, repo.ErrConfirmationClaimed) {
				return ErrConfirmationConflict
			}
			return err
		}

		mc = &domain.ManualConfirmation{
			ID:         uuid.NewString(),
			ReminderID: rem.ID,
			RecordedBy: recordedBy,
			Note:       strings.TrimSpace(note),
			CreatedAt:  now,
		}
		if err := tx.Create(mc).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) || isDuplicate(err) {
				return ErrConfirmationConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Compliance.Invalidate(ctx, patientID)
	return mc, nil
}

// isDuplicate attempts to detect unique-constraint violations across drivers
// that may not map to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
