// Package dispatch – Dispatcher
//
// This file implements the Dispatcher, which turns "due reminder" events
// into outbound sends with at-most-once semantics. The periodic external
// trigger is at-least-once and may fire overlapping or duplicate
// invocations; deterministic job identity plus the conditional job claim in
// the repo make that safe. Worker parallelism is bounded by the database
// connection budget so reminder processing cannot starve interactive
// traffic, and every outbound call carries its own timeout so a slow
// gateway cannot block the pool.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/cache"
	"github.com/risetaid/prima-sub012/internal/delivery"
	"github.com/risetaid/prima-sub012/internal/domain"
	"github.com/risetaid/prima-sub012/internal/repo"
	"github.com/risetaid/prima-sub012/internal/schedule"
	"github.com/risetaid/prima-sub012/internal/verification"
)

var (
	// jobsProcessed counts terminal job outcomes by result.
	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_processed_total",
			Help: "Delivery jobs reaching a terminal outcome, by result.",
		},
		[]string{"result"}, // sent|skipped|retry|dead
	)

	// jobsClaimed counts jobs claimed for execution across invocations.
	jobsClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_claimed_total",
			Help: "Delivery jobs claimed for execution.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsProcessed, jobsClaimed)
}

// Stats summarizes one trigger invocation for the /cron response.
type Stats struct {
	Scanned  int `json:"scanned"`
	Enqueued int `json:"enqueued"`
	Sent     int `json:"sent"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Dispatcher owns the scan-enqueue-execute pipeline.
type Dispatcher struct {
	DB         *gorm.DB
	Matcher    schedule.Matcher
	Consent    *verification.StateMachine
	Sender     *delivery.FallbackProvider
	Compliance *cache.Compliance

	Workers     int           // bounded worker parallelism
	MaxAttempts int           // retry ceiling before dead-letter
	BackoffBase time.Duration // first retry delay, doubled per attempt
	SendTimeout time.Duration // per outbound gateway call
	ClaimLimit  int           // max jobs claimed per invocation
}

// ScanAndEnqueue walks pending reminders, evaluates the due window, and
// enqueues one deduplicated job per due reminder. Duplicate submissions
// (second trigger tick, overlapping invocation) collapse onto the existing
// job row.
func (d *Dispatcher) ScanAndEnqueue(ctx context.Context, now time.Time) (scanned, enqueued int, err error) {
	reminders, err := repo.ListActiveReminders(ctx, d.DB)
	if err != nil {
		return 0, 0, err
	}
	scanned = len(reminders)

	for i := range reminders {
		rem := &reminders[i]
		if !d.Matcher.DueNow(rem.ScheduledTime, rem.StartDate, now) {
			continue
		}
		occurrence, terr := d.Matcher.At(rem.ScheduledTime, now)
		if terr != nil {
			log.Warn().Err(terr).Str("reminder_id", rem.ID).Msg("unparsable scheduled time; skipping")
			continue
		}

		job := &domain.DeliveryJob{
			ID:          JobID(rem.PatientID, occurrence),
			ReminderID:  rem.ID,
			PatientID:   rem.PatientID,
			ScheduledAt: occurrence.UTC(),
		}
		if eerr := repo.EnqueueJob(ctx, d.DB, job); eerr != nil {
			if errors.Is(eerr, repo.ErrDuplicateJob) {
				continue
			}
			return scanned, enqueued, eerr
		}
		enqueued++
	}
	return scanned, enqueued, nil
}

// ProcessDue claims due jobs and executes them on the bounded worker pool.
// Jobs are short-lived units of work; each send carries its own timeout.
func (d *Dispatcher) ProcessDue(ctx context.Context, now time.Time) (sent, skipped, failures int, err error) {
	limit := d.ClaimLimit
	if limit <= 0 {
		limit = 100
	}
	jobs, err := repo.ClaimDueJobs(ctx, d.DB, now, limit)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(jobs) == 0 {
		return 0, 0, 0, nil
	}
	jobsClaimed.Add(float64(len(jobs)))

	workers := d.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	sem := make(chan struct{}, workers)
	for i := range jobs {
		job := jobs[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := d.runJob(ctx, &job)
			mu.Lock()
			switch outcome {
			case domain.JobSucceeded:
				sent++
			case domain.JobSkipped:
				skipped++
			default:
				failures++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return sent, skipped, failures, nil
}

// Run performs one full trigger invocation: scan, enqueue, execute.
func (d *Dispatcher) Run(ctx context.Context, now time.Time) (Stats, error) {
	var s Stats
	var err error
	s.Scanned, s.Enqueued, err = d.ScanAndEnqueue(ctx, now)
	if err != nil {
		return s, err
	}
	s.Sent, s.Skipped, s.Errors, err = d.ProcessDue(ctx, now)
	return s, err
}

// runJob executes one claimed job and records its terminal (or retry)
// state. Returns the job status reached in this attempt.
func (d *Dispatcher) runJob(ctx context.Context, job *domain.DeliveryJob) domain.JobStatus {
	lg := log.With().
		Str("job_id", job.ID).
		Str("reminder_id", job.ReminderID).
		Int("attempt", job.Attempts).
		Logger()

	// Consent may have changed between scheduling and execution; re-check
	// before touching the gateway. Ineligibility marks the reminder (not
	// the job) as skipped work, and the job completes without retrying.
	eligible, err := d.Consent.Eligible(ctx, job.PatientID)
	if err != nil {
		return d.fail(ctx, job, err)
	}
	if !eligible {
		lg.Info().Msg("patient no longer eligible; skipping send")
		if err := repo.MarkReminderFailed(ctx, d.DB, job.ReminderID); err != nil && !errors.Is(err, repo.ErrNotFound) {
			lg.Warn().Err(err).Msg("could not mark skipped reminder")
		}
		if err := repo.CompleteJob(ctx, d.DB, job.ID, domain.JobSkipped); err != nil {
			lg.Warn().Err(err).Msg("could not complete skipped job")
		}
		jobsProcessed.WithLabelValues("skipped").Inc()
		return domain.JobSkipped
	}

	rem, err := repo.GetReminder(ctx, d.DB, job.ReminderID)
	if err != nil {
		return d.fail(ctx, job, err)
	}
	if rem.Status != domain.ReminderPending {
		// Already sent by an earlier attempt that crashed after the gateway
		// call; treat as done rather than sending twice.
		lg.Info().Str("status", string(rem.Status)).Msg("reminder already dispatched")
		_ = repo.CompleteJob(ctx, d.DB, job.ID, domain.JobSucceeded)
		jobsProcessed.WithLabelValues("sent").Inc()
		return domain.JobSucceeded
	}

	patient, err := repo.GetPatient(ctx, d.DB, rem.PatientID)
	if err != nil {
		return d.fail(ctx, job, err)
	}

	body := delivery.RenderBody(rem.MessageTemplate, delivery.ReminderFields{
		PatientName: patient.Name,
		Medication:  rem.MedicationName,
		Dosage:      rem.Dosage,
		Time:        rem.ScheduledTime,
	})

	sendCtx, cancel := context.WithTimeout(ctx, d.SendTimeout)
	defer cancel()
	msgID, providerName, err := d.Sender.SendTextVia(sendCtx, patient.PhoneE164, body)
	if err != nil {
		return d.fail(ctx, job, err)
	}

	if err := repo.MarkReminderSent(ctx, d.DB, rem.ID, msgID, providerName, time.Now().UTC()); err != nil {
		// The message left the building; keep the job from retrying a send
		// whose bookkeeping failed.
		lg.Error().Err(err).Str("provider_message_id", msgID).Msg("sent but could not persist message id")
	}
	if err := repo.CompleteJob(ctx, d.DB, job.ID, domain.JobSucceeded); err != nil {
		lg.Warn().Err(err).Msg("could not complete job")
	}
	d.Compliance.Invalidate(ctx, patient.ID)
	jobsProcessed.WithLabelValues("sent").Inc()
	lg.Info().Str("provider", providerName).Str("provider_message_id", msgID).Msg("reminder sent")
	return domain.JobSucceeded
}

// fail records a failed attempt with exponential backoff, moving the job to
// the dead-letter area once the ceiling is reached.
func (d *Dispatcher) fail(ctx context.Context, job *domain.DeliveryJob, cause error) domain.JobStatus {
	backoff := d.BackoffBase << (job.Attempts - 1) // 1st retry base, then doubled
	if err := repo.FailJob(ctx, d.DB, job, cause, d.MaxAttempts, backoff); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("could not record job failure")
	}

	if job.Attempts >= d.MaxAttempts {
		log.Error().Err(cause).Str("job_id", job.ID).Int("attempts", job.Attempts).Msg("job dead-lettered")
		if err := repo.MarkReminderFailed(ctx, d.DB, job.ReminderID); err != nil && !errors.Is(err, repo.ErrNotFound) {
			log.Warn().Err(err).Str("reminder_id", job.ReminderID).Msg("could not mark failed reminder")
		}
		jobsProcessed.WithLabelValues("dead").Inc()
		return domain.JobDead
	}

	log.Warn().Err(cause).Str("job_id", job.ID).Int("attempt", job.Attempts).Msg("job attempt failed; will retry")
	jobsProcessed.WithLabelValues("retry").Inc()
	return domain.JobQueued
}
