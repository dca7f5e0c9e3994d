// Manual confirmation endpoint.
//
// POST /api/v1/reminders/:id/confirmation lets staff attest that a patient
// took their medication when no text reply arrived (phone call, home visit).
// The claim races against webhook-driven confirmation of the same reminder;
// whichever lands first wins and the loser gets 409.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/risetaid/prima-sub012/internal/confirmation"
	"github.com/risetaid/prima-sub012/internal/http/middleware"
	"github.com/risetaid/prima-sub012/internal/idempotency"
	"github.com/risetaid/prima-sub012/internal/repo"
)

// RecordConfirmationRequest is the JSON payload for a manual confirmation.
type RecordConfirmationRequest struct {
	// RecordedBy identifies the staff member attesting the confirmation.
	RecordedBy string `json:"recorded_by" binding:"required,min=1,max=255" example:"volunteer-rina"`
	// Note optionally records how the confirmation was obtained.
	Note string `json:"note" binding:"max=1000" example:"confirmed by phone call"`
}

// RecordConfirmation records a staff-attested confirmation for a reminder.
func (h *Handlers) RecordConfirmation(c *gin.Context) {
	reminderID := c.Param("id")
	if _, err := uuid.Parse(reminderID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "reminder id must be a UUID")
		return
	}

	// A retried submission with the same Idempotency-Key returns the record
	// created by the first attempt instead of a 409.
	if middleware.IsReplay(c) {
		if mc, err := repo.GetManualConfirmation(c.Request.Context(), h.db, reminderID); err == nil {
			ok(c, http.StatusOK, mc)
			return
		}
		// Fence hit but no record (claim lost to the webhook path); fall
		// through so the client sees the regular conflict answer.
	}

	var req RecordConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RecordedBy) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "recorded_by required (1-255 chars)")
		return
	}

	mc, err := h.manual.Record(c.Request.Context(), reminderID, strings.TrimSpace(req.RecordedBy), strings.TrimSpace(req.Note))
	switch {
	case errors.Is(err, confirmation.ErrReminderNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "reminder not found")
		return
	case errors.Is(err, confirmation.ErrNotSent):
		fail(c, http.StatusConflict, ErrCodeNotSent, "reminder has not been sent yet")
		return
	case errors.Is(err, confirmation.ErrConfirmationConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, "confirmation already recorded for this reminder")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	// Remember the key so a client retry replays instead of conflicting.
	if key, present := middleware.GetIdempotencyKey(c); present {
		if _, err := repo.CreateIdempotency(c.Request.Context(), h.db, idempotency.Key("api", reminderID, key), h.idemTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record failed")
		}
	}

	ok(c, http.StatusCreated, mc)
}
