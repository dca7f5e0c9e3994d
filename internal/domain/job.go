// Package domain defines the core persistence models for the application.
package domain

import "time"

// JobStatus is the lifecycle state of a delivery job.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobSkipped   JobStatus = "SKIPPED"
	JobDead      JobStatus = "DEAD"
)

// DeliveryJob is one durable unit of outbound work in the dispatch queue.
//
// The primary key is deterministic: a hash over (patient id, scheduled
// occurrence), so re-submitting the same due reminder lands on the same row
// instead of creating a second send. The unique key is the at-most-once
// mechanism; there is no side lookup.
//
// Jobs that exhaust their retry budget move to DEAD and are retained for
// manual inspection until the retention sweep purges them.
type DeliveryJob struct {
	ID            string    `json:"id"          gorm:"type:char(64);primaryKey"`
	ReminderID    string    `json:"reminder_id" gorm:"type:char(36);not null;index"`
	PatientID     string    `json:"patient_id"  gorm:"type:char(36);not null;index"`
	ScheduledAt   time.Time `json:"scheduled_at" gorm:"not null"`
	Status        JobStatus `json:"status"      gorm:"type:varchar(12);not null;default:'QUEUED';index:idx_job_status_next,priority:1"`
	Attempts      int       `json:"attempts"    gorm:"not null;default:0"`
	NextAttemptAt time.Time `json:"next_attempt_at" gorm:"not null;index:idx_job_status_next,priority:2"`
	LastError     string    `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (DeliveryJob) TableName() string { return "delivery_jobs" }
