// Patient staff endpoints.
//
//   - POST /api/v1/patients/:id/verification  (send the opt-in request)
//   - POST /api/v1/patients/:id/reactivate    (re-enter the consent flow)
//   - GET  /api/v1/patients/:id/compliance    (confirmation statistics)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/risetaid/prima-sub012/internal/repo"
	"github.com/risetaid/prima-sub012/internal/verification"
)

// SendVerification sends the WhatsApp opt-in request to a patient.
func (h *Handlers) SendVerification(c *gin.Context) {
	patientID := c.Param("id")
	if _, err := uuid.Parse(patientID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "patient id must be a UUID")
		return
	}

	err := h.consent.SendVerification(c.Request.Context(), patientID)
	switch {
	case errors.Is(err, verification.ErrPatientNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "patient not found")
		return
	case err != nil:
		fail(c, http.StatusBadGateway, ErrCodeSendFailed, err.Error())
		return
	}

	c.Status(http.StatusAccepted)
}

// ReactivatePatient resets a declined or unsubscribed patient back to the
// pending state so the consent flow can run again. The next verification
// message still requires an explicit staff action.
func (h *Handlers) ReactivatePatient(c *gin.Context) {
	patientID := c.Param("id")
	if _, err := uuid.Parse(patientID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "patient id must be a UUID")
		return
	}

	err := h.consent.Reactivate(c.Request.Context(), patientID)
	switch {
	case errors.Is(err, verification.ErrPatientNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "patient not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	noContent(c)
}

// ComplianceStats returns per-patient confirmation counts, served from the
// cache when warm. Every write path touching the patient's reminders
// invalidates the cached entry, so staleness is bounded by the cache TTL.
func (h *Handlers) ComplianceStats(c *gin.Context) {
	patientID := c.Param("id")
	if _, err := uuid.Parse(patientID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "patient id must be a UUID")
		return
	}
	ctx := c.Request.Context()

	var cached repo.ComplianceStats
	if h.compliance.Get(ctx, patientID, &cached) {
		ok(c, http.StatusOK, cached)
		return
	}

	stats, err := repo.PatientComplianceStats(ctx, h.db, patientID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	h.compliance.Set(ctx, patientID, stats)

	ok(c, http.StatusOK, stats)
}
