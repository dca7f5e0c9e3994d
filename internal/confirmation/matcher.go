// Package confirmation classifies a patient's free-text reply about a
// completed (or missed) reminder and records the outcome exactly once per
// reminder. It is distinct from verification: verification is one-time
// consent, confirmation is per-reminder acknowledgment.
package confirmation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/cache"
	"github.com/risetaid/prima-sub012/internal/delivery"
	"github.com/risetaid/prima-sub012/internal/domain"
	"github.com/risetaid/prima-sub012/internal/repo"
)

// Reply is the classification of an inbound confirmation reply.
type Reply int

const (
	ReplyUnknown Reply = iota
	ReplyConfirmed
	ReplyMissed
)

// Keyword vocabularies for confirmation replies. Anything outside them is
// ignored, not guessed.
var (
	confirmedKeywords = []string{"sudah", "selesai", "done"}
	missedKeywords    = []string{"belum"}
)

// ClassifyReply maps free text onto a confirmation reply (case-insensitive
// substring match). "belum" wins over "sudah" so "belum sudah" style noise
// reads as missed rather than taken.
func ClassifyReply(text string) Reply {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return ReplyUnknown
	}
	for _, k := range missedKeywords {
		if strings.Contains(t, k) {
			return ReplyMissed
		}
	}
	for _, k := range confirmedKeywords {
		if strings.Contains(t, k) {
			return ReplyConfirmed
		}
	}
	return ReplyUnknown
}

// Acknowledgment bodies sent after a recorded confirmation.
const (
	ackConfirmed = "Terima kasih, sudah kami catat. Semoga lekas sehat!"
	ackMissed    = "Baik, sudah kami catat. Jangan lupa minum obatnya ya."
)

// Outcome describes what HandleReply did, for webhook response shaping.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeMissed    Outcome = "missed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeNoMatch   Outcome = "no_pending_reminder"
)

// Matcher applies confirmation replies to the single most recent pending
// reminder within the lookback window.
type Matcher struct {
	DB         *gorm.DB
	Sender     delivery.Provider
	Compliance *cache.Compliance
	Lookback   time.Duration

	locks *patientLocks
}

// NewMatcher constructs a Matcher.
func NewMatcher(db *gorm.DB, sender delivery.Provider, compliance *cache.Compliance, lookback time.Duration) *Matcher {
	return &Matcher{
		DB:         db,
		Sender:     sender,
		Compliance: compliance,
		Lookback:   lookback,
		locks:      newPatientLocks(),
	}
}

// HandleReply processes one inbound confirmation reply for a patient.
//
// Behavior:
//   - unrecognized text is ignored (logged no-op, no acknowledgment)
//   - a recognized keyword selects the most recent reminder with status SENT
//     or DELIVERED and confirmation PENDING sent within the lookback window;
//     if none exists the reply is a logged no-op
//   - on a match, the (status, confirmation status) pair is claimed with a
//     conditional update and a canned acknowledgment goes back to the patient
//
// Processing is serialized per patient so two near-simultaneous replies
// cannot both select the same "most recent" reminder.
func (m *Matcher) HandleReply(ctx context.Context, patient *domain.Patient, text string) (Outcome, error) {
	reply := ClassifyReply(text)
	if reply == ReplyUnknown {
		log.Debug().Str("patient_id", patient.ID).Msg("unrecognized confirmation reply ignored")
		return OutcomeIgnored, nil
	}

	release := m.locks.acquire(patient.ID)
	defer release()

	now := time.Now().UTC()
	cutoff := now.Add(-m.Lookback)
	rem, err := repo.LatestPendingReminder(ctx, m.DB, patient.ID, cutoff)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Info().Str("patient_id", patient.ID).Msg("confirmation reply with no eligible reminder")
			return OutcomeNoMatch, nil
		}
		return OutcomeIgnored, err
	}

	status, confirmation := domain.ReminderDelivered, domain.ConfirmationConfirmed
	ackBody, outcome := ackConfirmed, OutcomeConfirmed
	if reply == ReplyMissed {
		// A missed dose leaves delivery state alone: the gateway may have
		// already reported DELIVERED and that must not regress to SENT.
		status, confirmation = rem.Status, domain.ConfirmationMissed
		ackBody, outcome = ackMissed, OutcomeMissed
	}

	if err := repo.ClaimConfirmation(ctx, m.DB, rem.ID, status, confirmation, now); err != nil {
		if errors.Is(err, repo.ErrConfirmationClaimed) {
			// Lost to a concurrent manual entry; nothing to record.
			log.Info().Str("reminder_id", rem.ID).Msg("confirmation already claimed")
			return OutcomeNoMatch, nil
		}
		return OutcomeIgnored, err
	}

	m.Compliance.Invalidate(ctx, patient.ID)
	log.Info().
		Str("patient_id", patient.ID).
		Str("reminder_id", rem.ID).
		Str("confirmation", string(confirmation)).
		Msg("confirmation recorded")

	if _, err := m.Sender.SendText(ctx, patient.PhoneE164, ackBody); err != nil {
		log.Warn().Err(err).Str("patient_id", patient.ID).Msg("acknowledgment send failed")
	}
	return outcome, nil
}
