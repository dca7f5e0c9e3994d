// Package verification – consent state machine
//
// This file implements the StateMachine, which owns every patient consent
// transition: PENDING_VERIFICATION to VERIFIED or DECLINED on a classified
// reply, unsubscribe from any state, time-based expiry of unanswered
// verification requests, and the staff-initiated reactivation that is the
// only way out of the terminal states. Every transition is logged and
// invalidates the patient's cached compliance view. The patient always
// receives a short acknowledgment for any reply the machine acts on; an
// unrecognized reply re-sends a clarification prompt instead of guessing.
package verification

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/cache"
	"github.com/risetaid/prima-sub012/internal/delivery"
	"github.com/risetaid/prima-sub012/internal/domain"
	"github.com/risetaid/prima-sub012/internal/repo"
)

// Acknowledgment bodies sent back to the patient after each classified reply.
const (
	ackVerified = "Terima kasih! Nomor Anda terverifikasi dan pengingat obat akan mulai dikirim."
	ackDeclined = "Baik, kami tidak akan mengirimkan pengingat. Hubungi petugas jika berubah pikiran."
	ackStopped  = "Anda telah berhenti berlangganan. Tidak ada pesan lagi yang akan dikirim."
	askClarify  = "Maaf, kami tidak mengenali balasan Anda. Balas YA untuk menerima pengingat obat, atau TIDAK untuk menolak."

	verificationRequest = "Halo {{name}}, ini layanan pengingat obat PRIMA. Balas YA untuk menerima pengingat, TIDAK untuk menolak, atau BERHENTI untuk berhenti berlangganan."
)

// ErrPatientNotFound mirrors the repo sentinel for handler mapping.
var ErrPatientNotFound = errors.New("patient not found")

// Outcome describes what HandleReply did, for webhook response shaping.
type Outcome string

const (
	OutcomeVerified    Outcome = "verified"
	OutcomeDeclined    Outcome = "declined"
	OutcomeUnsubscribe Outcome = "unsubscribed"
	OutcomeClarified   Outcome = "clarification_sent"
	OutcomeNoop        Outcome = "noop"
)

// StateMachine drives patient consent transitions.
type StateMachine struct {
	DB         *gorm.DB
	Sender     delivery.Provider
	Compliance *cache.Compliance
}

// NewStateMachine constructs a StateMachine.
func NewStateMachine(db *gorm.DB, sender delivery.Provider, compliance *cache.Compliance) *StateMachine {
	return &StateMachine{DB: db, Sender: sender, Compliance: compliance}
}

// SendVerification dispatches the consent request message to a patient and
// stamps the send time and attempt counter. It refuses to message an
// unsubscribed patient.
func (m *StateMachine) SendVerification(ctx context.Context, patientID string) error {
	p, err := repo.GetPatient(ctx, m.DB, patientID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrPatientNotFound
		}
		return err
	}
	if p.Unsubscribed() {
		return errors.New("patient has unsubscribed")
	}

	body := delivery.RenderBody(verificationRequest, delivery.ReminderFields{PatientName: p.Name})
	if _, err := m.Sender.SendText(ctx, p.PhoneE164, body); err != nil {
		return err
	}
	return repo.MarkVerificationSent(ctx, m.DB, p.ID, time.Now().UTC())
}

// HandleReply classifies an inbound consent reply and applies the matching
// transition:
//
//   - accept from PENDING_VERIFICATION -> VERIFIED
//   - decline -> DECLINED; a decline from VERIFIED revokes consent and
//     deactivates, which is the unsubscribed state
//   - unsubscribe from any state -> DECLINED + inactive
//   - unrecognized text -> state unchanged, clarification prompt re-sent
//
// The acknowledgment send is best effort: the state transition is the
// correctness obligation, the courtesy message is not allowed to undo it.
func (m *StateMachine) HandleReply(ctx context.Context, patient *domain.Patient, text string) (Outcome, error) {
	now := time.Now().UTC()
	lg := log.With().Str("patient_id", patient.ID).Str("state", string(patient.VerificationStatus)).Logger()

	switch ClassifyReply(text) {
	case ReplyUnsubscribe:
		if err := repo.SetVerificationStatus(ctx, m.DB, patient.ID, domain.VerificationDeclined, false, now); err != nil {
			return OutcomeNoop, err
		}
		m.Compliance.Invalidate(ctx, patient.ID)
		lg.Info().Str("transition", "unsubscribed").Msg("consent transition")
		m.ack(ctx, patient, ackStopped)
		return OutcomeUnsubscribe, nil

	case ReplyDecline:
		// Declining after having been verified is a revocation and counts
		// as unsubscribing; declining the initial request leaves the
		// patient active so staff can retry verification later.
		active := patient.VerificationStatus != domain.VerificationVerified && patient.IsActive
		if err := repo.SetVerificationStatus(ctx, m.DB, patient.ID, domain.VerificationDeclined, active, now); err != nil {
			return OutcomeNoop, err
		}
		m.Compliance.Invalidate(ctx, patient.ID)
		lg.Info().Str("transition", "declined").Bool("active", active).Msg("consent transition")
		if active {
			m.ack(ctx, patient, ackDeclined)
			return OutcomeDeclined, nil
		}
		m.ack(ctx, patient, ackStopped)
		return OutcomeUnsubscribe, nil

	case ReplyAccept:
		if patient.VerificationStatus != domain.VerificationPending {
			// Accept only moves the machine out of PENDING_VERIFICATION;
			// a stray "ya" from a verified or declined patient changes nothing.
			lg.Debug().Msg("accept reply outside pending state ignored")
			return OutcomeNoop, nil
		}
		if err := repo.SetVerificationStatus(ctx, m.DB, patient.ID, domain.VerificationVerified, true, now); err != nil {
			return OutcomeNoop, err
		}
		m.Compliance.Invalidate(ctx, patient.ID)
		lg.Info().Str("transition", "verified").Msg("consent transition")
		m.ack(ctx, patient, ackVerified)
		return OutcomeVerified, nil

	default:
		lg.Info().Msg("unrecognized consent reply; sending clarification")
		m.ack(ctx, patient, askClarify)
		return OutcomeClarified, nil
	}
}

// Eligible re-checks dispatch eligibility against current state. Dispatch
// workers call this immediately before a send because consent may have
// changed between scheduling and execution.
func (m *StateMachine) Eligible(ctx context.Context, patientID string) (bool, error) {
	p, err := repo.GetPatient(ctx, m.DB, patientID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.Eligible(), nil
}

// ExpireStale sweeps patients whose verification request went unanswered for
// longer than horizon into EXPIRED. Invoked from the periodic trigger.
func (m *StateMachine) ExpireStale(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-horizon)
	n, err := repo.ExpireStaleVerifications(ctx, m.DB, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("expired", n).Msg("verification requests expired")
	}
	return n, nil
}

// Reactivate is the explicit staff action resetting a patient to
// PENDING_VERIFICATION with all verification fields cleared.
func (m *StateMachine) Reactivate(ctx context.Context, patientID string) error {
	if err := repo.ReactivatePatient(ctx, m.DB, patientID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrPatientNotFound
		}
		return err
	}
	m.Compliance.Invalidate(ctx, patientID)
	log.Info().Str("patient_id", patientID).Str("transition", "reactivated").Msg("consent transition")
	return nil
}

// ack sends a short acknowledgment; failures are logged, not propagated.
func (m *StateMachine) ack(ctx context.Context, p *domain.Patient, body string) {
	if _, err := m.Sender.SendText(ctx, p.PhoneE164, body); err != nil {
		log.Warn().Err(err).Str("patient_id", p.ID).Msg("acknowledgment send failed")
	}
}
