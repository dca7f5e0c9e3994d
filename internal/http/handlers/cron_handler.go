// Periodic trigger endpoint.
//
// POST /cron drives every time-based behavior of the engine: recovery of
// jobs stranded by a crashed worker, the due scan, job execution, the
// stale-verification sweep, dead-letter retention, and pruning of expired
// idempotency rows. The engine has no internal timer;
// an external scheduler (Vercel cron, systemd timer, curl in a loop) hits
// this endpoint and the interval it chooses bounds delivery latency.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/risetaid/prima-sub012/internal/http/middleware"
	"github.com/risetaid/prima-sub012/internal/repo"
)

// CronResponse reports what one trigger tick did. Maintenance counters are
// best-effort: a failed sweep is logged and zeroed, never fatal to the tick.
type CronResponse struct {
	Success bool      `json:"success"`
	Stats   CronStats `json:"stats"`
}

// CronStats aggregates the dispatch pass and the maintenance sweeps.
type CronStats struct {
	Scanned          int   `json:"scanned"`
	Enqueued         int   `json:"enqueued"`
	Sent             int   `json:"sent"`
	Skipped          int   `json:"skipped"`
	Errors           int   `json:"errors"`
	ExpiredConsents  int64 `json:"expired_consents"`
	RequeuedJobs     int64 `json:"requeued_jobs"`
	PurgedDeadJobs   int64 `json:"purged_dead_jobs"`
	PurgedIdempotent int64 `json:"purged_idempotency"`
}

// RunCron executes one trigger tick.
//
// The dispatch pass is the headline work; the maintenance sweeps run after it
// so a slow sweep never delays message delivery. Partial maintenance failure
// still answers 200 because the scheduler treats non-2xx as "retry soon" and
// a retry would re-run the (idempotent) dispatch pass for nothing.
func (h *Handlers) RunCron(c *gin.Context) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)
	now := time.Now()

	// Recover jobs stranded in RUNNING by a crashed worker before the
	// dispatch pass so they can be claimed again on this very tick.
	requeued, err := repo.RequeueStaleJobs(ctx, h.db, now.Add(-h.jobStaleAfter), h.jobMaxAttempts)
	if err != nil {
		lg.Warn().Err(err).Msg("stale job recovery failed")
		requeued = 0
	}

	stats, err := h.dispatch.Run(ctx, now)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "dispatch pass failed: "+err.Error())
		return
	}

	resp := CronResponse{
		Success: true,
		Stats: CronStats{
			Scanned:      stats.Scanned,
			Enqueued:     stats.Enqueued,
			Sent:         stats.Sent,
			Skipped:      stats.Skipped,
			Errors:       stats.Errors,
			RequeuedJobs: requeued,
		},
	}

	if n, err := h.consent.ExpireStale(ctx, h.verifyExpiry); err != nil {
		lg.Warn().Err(err).Msg("stale verification sweep failed")
	} else {
		resp.Stats.ExpiredConsents = n
	}

	if n, err := repo.PurgeDeadJobs(ctx, h.db, now.Add(-h.deadRetention)); err != nil {
		lg.Warn().Err(err).Msg("dead letter purge failed")
	} else {
		resp.Stats.PurgedDeadJobs = n
	}

	if n, err := repo.PurgeExpiredIdempotency(ctx, h.db, now); err != nil {
		lg.Warn().Err(err).Msg("idempotency purge failed")
	} else {
		resp.Stats.PurgedIdempotent = n
	}

	lg.Info().
		Int("scanned", resp.Stats.Scanned).
		Int("enqueued", resp.Stats.Enqueued).
		Int("sent", resp.Stats.Sent).
		Int("skipped", resp.Stats.Skipped).
		Int("errors", resp.Stats.Errors).
		Msg("cron tick complete")

	ok(c, http.StatusOK, resp)
}
