// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Reminder
// model, including the conditional confirmation claim that keeps manual and
// automated confirmations mutually exclusive.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/domain"
)

// ErrConfirmationClaimed indicates the reminder's confirmation status already
// left PENDING, i.e. another writer (automated reply or staff entry) won the
// claim first.
var ErrConfirmationClaimed = errors.New("confirmation already recorded")

// ListActiveReminders returns reminders still awaiting a send, joined with
// their owning patient so eligibility and scheduling can be evaluated
// without further queries.
func ListActiveReminders(ctx context.Context, db *gorm.DB) ([]domain.Reminder, error) {
	var out []domain.Reminder
	err := db.WithContext(ctx).
		Preload("Patient").
		Where("status = ?", domain.ReminderPending).
		Find(&out).Error
	return out, err
}

// GetReminder fetches a reminder by primary key.
func GetReminder(ctx context.Context, db *gorm.DB, id string) (*domain.Reminder, error) {
	var r domain.Reminder
	if err := db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReminderByProviderMessageID resolves a delivery-status callback to the
// reminder it belongs to. Callbacks carry only the gateway's opaque message
// identifier, recorded at send time.
func GetReminderByProviderMessageID(ctx context.Context, db *gorm.DB, messageID string) (*domain.Reminder, error) {
	var r domain.Reminder
	if err := db.WithContext(ctx).First(&r, "provider_message_id = ?", messageID).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// MarkReminderSent records a successful dispatch: status SENT, the send
// timestamp, and the gateway correlation key.
func MarkReminderSent(ctx context.Context, db *gorm.DB, id, providerMessageID, providerName string, sentAt time.Time) error {
	res := db.WithContext(ctx).Model(&domain.Reminder{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":              domain.ReminderSent,
			"sent_at":             sentAt,
			"provider_message_id": providerMessageID,
			"provider_name":       providerName,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkReminderFailed records a definitive delivery failure (retries
// exhausted, or the patient became ineligible between scheduling and send).
func MarkReminderFailed(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Model(&domain.Reminder{}).
		Where("id = ?", id).
		Update("status", domain.ReminderFailed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReminderStatus applies a delivery-status transition reported by the
// gateway. Callbacks arrive unordered, so DELIVERED is terminal: neither a
// late SENT nor a late FAILED callback regresses a DELIVERED row.
func SetReminderStatus(ctx context.Context, db *gorm.DB, id string, status domain.ReminderStatus) error {
	q := db.WithContext(ctx).Model(&domain.Reminder{}).Where("id = ?", id)
	if status != domain.ReminderDelivered {
		q = q.Where("status <> ?", domain.ReminderDelivered)
	}
	res := q.Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	return nil
}

// LatestPendingReminder returns the single most recent reminder for the
// patient with confirmation still PENDING, sent at or after the lookback
// cutoff. Both SENT and DELIVERED qualify: the gateway's delivery receipt
// routinely lands before the patient replies, and that must not hide the
// reminder from the confirmation path. ErrNotFound when nothing qualifies.
func LatestPendingReminder(ctx context.Context, db *gorm.DB, patientID string, cutoff time.Time) (*domain.Reminder, error) {
	var r domain.Reminder
	err := db.WithContext(ctx).
		Where("patient_id = ? AND status IN ? AND confirmation_status = ? AND sent_at >= ?",
			patientID, []domain.ReminderStatus{domain.ReminderSent, domain.ReminderDelivered},
			domain.ConfirmationPending, cutoff).
		Order("sent_at DESC").
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetManualConfirmation returns the staff-recorded confirmation for a
// reminder, if any. Used to serve idempotent replays of the manual
// confirmation endpoint.
func GetManualConfirmation(ctx context.Context, db *gorm.DB, reminderID string) (*domain.ManualConfirmation, error) {
	var mc domain.ManualConfirmation
	if err := db.WithContext(ctx).First(&mc, "reminder_id = ?", reminderID).Error; err != nil {
		return nil, err
	}
	return &mc, nil
}

// ClaimConfirmation transitions the reminder's (status, confirmation_status)
// pair out of PENDING exactly once. The WHERE clause on the still-PENDING
// confirmation is the mutual-exclusion mechanism between the automated reply
// path and staff manual entry: the first writer wins and every later claim
// gets ErrConfirmationClaimed, never a silent overwrite.
func ClaimConfirmation(ctx context.Context, db *gorm.DB, id string, status domain.ReminderStatus, confirmation domain.ConfirmationStatus, respondedAt time.Time) error {
	res := db.WithContext(ctx).Model(&domain.Reminder{}).
		Where("id = ? AND confirmation_status = ?", id, domain.ConfirmationPending).
		Updates(map[string]any{
			"status":                   status,
			"confirmation_status":      confirmation,
			"confirmation_response_at": respondedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConfirmationClaimed
	}
	return nil
}
