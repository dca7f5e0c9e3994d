// Package domain defines the persistence models for patients, reminders,
// and manual confirmations. These types are mapped with GORM and form the
// core data layer of the reminder engine.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// VerificationStatus is the patient consent lifecycle state. A reminder may
// only be dispatched while the patient is VERIFIED and still active.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "PENDING_VERIFICATION"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationDeclined VerificationStatus = "DECLINED"
	VerificationExpired  VerificationStatus = "EXPIRED"
)

// ReminderStatus tracks the delivery lifecycle of a reminder message.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "PENDING"
	ReminderSent      ReminderStatus = "SENT"
	ReminderDelivered ReminderStatus = "DELIVERED"
	ReminderFailed    ReminderStatus = "FAILED"
)

// ConfirmationStatus tracks whether the patient acknowledged completing the
// prompted action. It leaves PENDING exactly once per reminder.
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "PENDING"
	ConfirmationConfirmed ConfirmationStatus = "CONFIRMED"
	ConfirmationMissed    ConfirmationStatus = "MISSED"
)

// Patient represents a monitored patient and the consent state gating all
// outbound messaging to them.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: display name used when rendering message bodies.
//   - Phone: phone number as entered by staff.
//   - PhoneE164: canonical international digit string used by the gateway;
//     unique so inbound replies resolve to exactly one patient.
//   - VerificationStatus / IsActive: consent gate; IsActive=false marks an
//     unsubscribed patient.
//   - VerificationSentAt / VerificationResponseAt / VerificationAttempts:
//     bookkeeping for the consent request flow.
//   - DeletedAt: soft deletion marker (patients are never hard-deleted).
type Patient struct {
	ID                     string             `json:"id"         gorm:"type:char(36);primaryKey"`
	Name                   string             `json:"name"       gorm:"type:varchar(255);not null"`
	Phone                  string             `json:"phone"      gorm:"type:varchar(32);not null"`
	PhoneE164              string             `json:"phone_e164" gorm:"type:varchar(20);not null;uniqueIndex:ux_patient_phone"`
	VerificationStatus     VerificationStatus `json:"verification_status" gorm:"type:varchar(24);not null;default:'PENDING_VERIFICATION';index"`
	IsActive               bool               `json:"is_active"  gorm:"not null;default:true"`
	VerificationSentAt     *time.Time         `json:"verification_sent_at,omitempty"`
	VerificationResponseAt *time.Time         `json:"verification_response_at,omitempty"`
	VerificationAttempts   int                `json:"verification_attempts" gorm:"not null;default:0"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
	DeletedAt              gorm.DeletedAt     `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Patient.
func (Patient) TableName() string { return "patients" }

// Eligible reports whether a reminder may be dispatched to the patient.
func (p *Patient) Eligible() bool {
	return p.VerificationStatus == VerificationVerified && p.IsActive
}

// Unsubscribed reports whether the patient has opted out of all messaging.
func (p *Patient) Unsubscribed() bool {
	return p.VerificationStatus == VerificationDeclined && !p.IsActive
}

// Reminder represents one scheduled medication/appointment prompt for a
// patient. The provider message identifier recorded on send is the join key
// for asynchronous delivery-status callbacks, which arrive keyed by that
// identifier rather than by reminder id.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - PatientID: foreign key to the owning patient (indexed).
//   - MedicationName / Dosage: structured fields for body rendering.
//   - ScheduledTime: civil time of day "HH:MM" in the fixed WIB calendar.
//   - StartDate: first calendar day the reminder is eligible to fire.
//   - MessageTemplate: optional override for the rendered body.
//   - Status / ConfirmationStatus: delivery and acknowledgment lifecycle.
//   - SentAt / ConfirmationResponseAt: transition timestamps.
//   - ProviderMessageID / ProviderName: gateway correlation key.
type Reminder struct {
	ID                     string             `json:"id"         gorm:"type:char(36);primaryKey"`
	PatientID              string             `json:"patient_id" gorm:"type:char(36);not null;index:idx_patient_reminders"`
	MedicationName         string             `json:"medication_name" gorm:"type:varchar(255);not null"`
	Dosage                 string             `json:"dosage"     gorm:"type:varchar(128)"`
	ScheduledTime          string             `json:"scheduled_time" gorm:"type:varchar(5);not null"`
	StartDate              time.Time          `json:"start_date" gorm:"not null"`
	MessageTemplate        string             `json:"message_template" gorm:"type:text"`
	Status                 ReminderStatus     `json:"status"     gorm:"type:varchar(16);not null;default:'PENDING';index"`
	ConfirmationStatus     ConfirmationStatus `json:"confirmation_status" gorm:"type:varchar(16);not null;default:'PENDING'"`
	SentAt                 *time.Time         `json:"sent_at,omitempty" gorm:"index"`
	ConfirmationResponseAt *time.Time         `json:"confirmation_response_at,omitempty"`
	ProviderMessageID      string             `json:"provider_message_id,omitempty" gorm:"type:varchar(128);index:idx_provider_msg"`
	ProviderName           string             `json:"provider_name,omitempty" gorm:"type:varchar(32)"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
	DeletedAt              gorm.DeletedAt     `json:"-"          gorm:"index"`

	// Patient is the owning patient. Reminders are cascade-deleted if the
	// patient row is removed.
	Patient Patient `json:"-" gorm:"foreignKey:PatientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Reminder.
func (Reminder) TableName() string { return "reminders" }

// ManualConfirmation records a staff-entered confirmation made outside the
// automated reply path. At most one exists per reminder, and creation fails
// if the reminder's confirmation status already left PENDING.
type ManualConfirmation struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	ReminderID string         `json:"reminder_id" gorm:"type:char(36);not null;uniqueIndex:ux_manual_reminder"`
	RecordedBy string         `json:"recorded_by" gorm:"type:varchar(64);not null"`
	Note       string         `json:"note"        gorm:"type:text"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"           gorm:"index"`

	// Reminder is the confirmed reminder.
	Reminder Reminder `json:"-" gorm:"foreignKey:ReminderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ManualConfirmation.
func (ManualConfirmation) TableName() string { return "manual_confirmations" }
