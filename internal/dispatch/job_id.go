// Package dispatch converts due reminders into at-most-once outbound sends
// through a durable, deduplicated, retrying job queue.
package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// JobID derives the deterministic identity of a delivery job from the
// patient and the scheduled occurrence. The same (patientID, scheduledAt)
// always yields the same id, so a duplicate trigger tick or a crashed scan
// re-enqueues into the same logical job instead of creating a second send.
// The queue's unique key on this id is the at-most-once mechanism; there is
// no side lookup.
func JobID(patientID string, scheduledAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(patientID))
	h.Write([]byte{'|'})
	h.Write([]byte(scheduledAt.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))
}
