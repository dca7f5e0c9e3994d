// Handler wiring for the reminder engine API.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Business rules (consent state
// transitions, confirmation claims, job retry policy) live in the service
// packages; the only logic here is input shaping and error mapping.
package handlers

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/cache"
	"github.com/risetaid/prima-sub012/internal/dispatch"
	"github.com/risetaid/prima-sub012/internal/domain"
	"github.com/risetaid/prima-sub012/internal/webhook"
)

//
// Service contracts (context-aware)
//

// DispatchService runs one full scheduling pass: scan due reminders, enqueue
// deduplicated jobs, and execute whatever is claimable right now.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type DispatchService interface {
	Run(ctx context.Context, now time.Time) (dispatch.Stats, error)
}

// ConsentService drives the patient verification lifecycle consumed by the
// staff API and the periodic trigger.
type ConsentService interface {
	// SendVerification delivers the opt-in request to a pending patient.
	SendVerification(ctx context.Context, patientID string) error
	// ExpireStale marks verifications older than horizon as EXPIRED.
	ExpireStale(ctx context.Context, horizon time.Duration) (int64, error)
	// Reactivate returns a deactivated patient to the pending state.
	Reactivate(ctx context.Context, patientID string) error
}

// ManualConfirmationService records staff-attested confirmations.
type ManualConfirmationService interface {
	Record(ctx context.Context, reminderID, recordedBy, note string) (*domain.ManualConfirmation, error)
}

// WebhookService applies normalized gateway callbacks to engine state.
type WebhookService interface {
	HandleStatus(ctx context.Context, provider string, ev *webhook.StatusEvent) (webhook.Result, error)
	HandleInbound(ctx context.Context, provider string, msg *webhook.InboundMessage) (webhook.Result, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for the periodic trigger, provider
// webhooks, and the staff API. It depends on abstract service interfaces to
// keep transport concerns separate from business logic; the *gorm.DB handle
// covers the few read-only listings that have no service of their own.
type Handlers struct {
	db         *gorm.DB
	dispatch   DispatchService
	consent    ConsentService
	manual     ManualConfirmationService
	ingest     WebhookService
	compliance *cache.Compliance

	verifyExpiry  time.Duration // horizon for the stale-verification sweep
	deadRetention time.Duration // dead-letter rows older than this are purged
	idemTTL       time.Duration // replay window for Idempotency-Key submissions

	jobStaleAfter  time.Duration // RUNNING jobs older than this are recovered
	jobMaxAttempts int           // retry ceiling applied when recovering them
}

// New constructs a Handlers instance bound to the given services.
func New(
	db *gorm.DB,
	dispatchSvc DispatchService,
	consentSvc ConsentService,
	manualSvc ManualConfirmationService,
	ingestSvc WebhookService,
	compliance *cache.Compliance,
	verifyExpiry, deadRetention, idemTTL, jobStaleAfter time.Duration,
	jobMaxAttempts int,
) *Handlers {
	return &Handlers{
		db:             db,
		dispatch:       dispatchSvc,
		consent:        consentSvc,
		manual:         manualSvc,
		ingest:         ingestSvc,
		compliance:     compliance,
		verifyExpiry:   verifyExpiry,
		deadRetention:  deadRetention,
		idemTTL:        idemTTL,
		jobStaleAfter:  jobStaleAfter,
		jobMaxAttempts: jobMaxAttempts,
	}
}
