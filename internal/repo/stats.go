// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for the per-patient compliance view that staff surfaces read. The cached
// form of this view is invalidated whenever a consent transition, delivery
// callback, or confirmation touches the patient.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/domain"
)

// ComplianceStats is the aggregate confirmation picture for one patient.
type ComplianceStats struct {
	PatientID string `json:"patient_id"`
	Sent      int64  `json:"sent"`
	Confirmed int64  `json:"confirmed"`
	Missed    int64  `json:"missed"`
}

// PatientComplianceStats counts dispatched, confirmed, and missed reminders
// for a patient. Three lightweight counts; no joins.
func PatientComplianceStats(ctx context.Context, db *gorm.DB, patientID string) (*ComplianceStats, error) {
	stats := &ComplianceStats{PatientID: patientID}
	base := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.Reminder{}).Where("patient_id = ?", patientID)
	}

	if err := base().
		Where("status IN ?", []domain.ReminderStatus{domain.ReminderSent, domain.ReminderDelivered}).
		Count(&stats.Sent).Error; err != nil {
		return nil, err
	}
	if err := base().
		Where("confirmation_status = ?", domain.ConfirmationConfirmed).
		Count(&stats.Confirmed).Error; err != nil {
		return nil, err
	}
	if err := base().
		Where("confirmation_status = ?", domain.ConfirmationMissed).
		Count(&stats.Missed).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
