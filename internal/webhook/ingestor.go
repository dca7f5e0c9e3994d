// Package webhook – Ingestor
//
// This file implements the Ingestor, the business half of webhook handling:
// idempotency fencing, delivery-status application, and routing of inbound
// patient replies to the consent machine or the confirmation matcher.
// Transport concerns (auth token, content-type normalization) stay in the
// HTTP layer and in payload.go.
package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/cache"
	"github.com/risetaid/prima-sub012/internal/confirmation"
	"github.com/risetaid/prima-sub012/internal/delivery"
	"github.com/risetaid/prima-sub012/internal/domain"
	"github.com/risetaid/prima-sub012/internal/idempotency"
	"github.com/risetaid/prima-sub012/internal/repo"
	"github.com/risetaid/prima-sub012/internal/verification"
)

// Result is the disposition of one callback, echoed in the HTTP response so
// the gateway (and its retry logic) can see what happened.
type Result string

const (
	ResultProcessed Result = "processed"
	ResultIgnored   Result = "ignored"
	ResultDuplicate Result = "duplicate"
)

// Ingestor applies normalized callbacks to engine state.
type Ingestor struct {
	DB         *gorm.DB
	Fence      idempotency.Store
	FenceTTL   time.Duration
	Consent    *verification.StateMachine
	Confirm    *confirmation.Matcher
	Compliance *cache.Compliance
}

// HandleStatus applies one delivery-status event.
//
// Order matters: the idempotency fence is consulted before any database
// mutation, so a replayed callback short-circuits to a duplicate no-op and
// the gateway stops retrying. Unknown status vocabulary and unmatched
// message ids are ignored successes, not errors.
func (in *Ingestor) HandleStatus(ctx context.Context, provider string, ev *StatusEvent) (Result, error) {
	key := idempotency.Key("status", provider, ev.MessageID, ev.Timestamp)
	dup, err := in.Fence.Seen(ctx, key, in.FenceTTL)
	if err != nil {
		return ResultIgnored, err
	}
	if dup {
		return ResultDuplicate, nil
	}

	mapped, known := MapStatus(ev.Status)
	if !known {
		log.Info().Str("provider", provider).Str("status", ev.Status).Msg("unmapped gateway status ignored")
		return ResultIgnored, nil
	}

	rem, err := repo.GetReminderByProviderMessageID(ctx, in.DB, ev.MessageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Info().Str("provider", provider).Str("message_id", ev.MessageID).Msg("status callback for unknown message")
			return ResultIgnored, nil
		}
		return ResultIgnored, err
	}

	if err := repo.SetReminderStatus(ctx, in.DB, rem.ID, mapped); err != nil {
		return ResultIgnored, err
	}
	in.Compliance.Invalidate(ctx, rem.PatientID)
	log.Info().
		Str("reminder_id", rem.ID).
		Str("status", string(mapped)).
		Msg("delivery status applied")
	return ResultProcessed, nil
}

// HandleInbound routes one patient reply.
//
// Routing:
//   - a patient still in PENDING_VERIFICATION is in the consent flow
//   - an unsubscribe or decline keyword reaches the consent machine from
//     any state (revocation must always work)
//   - everything else goes to the confirmation matcher, which ignores
//     unrecognized text
//
// A sender with no matching patient is a logged, success-shaped no-op so the
// gateway does not retry indefinitely.
func (in *Ingestor) HandleInbound(ctx context.Context, provider string, msg *InboundMessage) (Result, error) {
	key := idempotency.Key("inbound", provider, msg.MessageID, msg.From, msg.Timestamp)
	dup, err := in.Fence.Seen(ctx, key, in.FenceTTL)
	if err != nil {
		return ResultIgnored, err
	}
	if dup {
		return ResultDuplicate, nil
	}

	phone, err := delivery.NormalizePhone(msg.From)
	if err != nil {
		log.Info().Str("provider", provider).Msg("inbound message with unusable sender number")
		return ResultIgnored, nil
	}

	patient, err := repo.GetPatientByPhone(ctx, in.DB, phone)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Info().Str("provider", provider).Msg("inbound message from unknown sender")
			return ResultIgnored, nil
		}
		return ResultIgnored, err
	}

	consentReply := verification.ClassifyReply(msg.Text)
	inConsentFlow := patient.VerificationStatus == domain.VerificationPending ||
		consentReply == verification.ReplyUnsubscribe ||
		consentReply == verification.ReplyDecline

	if inConsentFlow {
		if _, err := in.Consent.HandleReply(ctx, patient, msg.Text); err != nil {
			return ResultIgnored, err
		}
		return ResultProcessed, nil
	}

	outcome, err := in.Confirm.HandleReply(ctx, patient, msg.Text)
	if err != nil {
		return ResultIgnored, err
	}
	if outcome == confirmation.OutcomeIgnored || outcome == confirmation.OutcomeNoMatch {
		return ResultIgnored, nil
	}
	return ResultProcessed, nil
}
