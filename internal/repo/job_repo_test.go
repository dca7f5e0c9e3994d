package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/domain"
)

func newJobDB(t *testing.T) *gorm.DB {
	return newRepoDB(t, &domain.DeliveryJob{})
}

func createJob(t *testing.T, db *gorm.DB, status domain.JobStatus, nextAt time.Time) *domain.DeliveryJob {
	t.Helper()
	j := &domain.DeliveryJob{
		ID:            uuid.NewString(),
		ReminderID:    uuid.NewString(),
		PatientID:     uuid.NewString(),
		ScheduledAt:   nextAt,
		Status:        status,
		NextAttemptAt: nextAt,
	}
	if err := db.Create(j).Error; err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

func TestEnqueueJob_Deduplicates(t *testing.T) {
	db := newJobDB(t)
	ctx := context.Background()

	job := &domain.DeliveryJob{
		ID:          "a1b2c3",
		ReminderID:  uuid.NewString(),
		PatientID:   uuid.NewString(),
		ScheduledAt: time.Now().UTC(),
	}
	if err := EnqueueJob(ctx, db, job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if job.Status != domain.JobQueued {
		t.Fatalf("status defaulted to %s, want QUEUED", job.Status)
	}
	if job.NextAttemptAt.IsZero() {
		t.Fatal("next attempt not defaulted")
	}

	dup := &domain.DeliveryJob{
		ID:          "a1b2c3",
		ReminderID:  job.ReminderID,
		PatientID:   job.PatientID,
		ScheduledAt: job.ScheduledAt,
	}
	if err := EnqueueJob(ctx, db, dup); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}

	var n int64
	if err := db.Model(&domain.DeliveryJob{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("found %d rows, want 1", n)
	}
}

func TestClaimDueJobs(t *testing.T) {
	db := newJobDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := createJob(t, db, domain.JobQueued, now.Add(-time.Minute))
	createJob(t, db, domain.JobQueued, now.Add(time.Hour))     // not yet due
	createJob(t, db, domain.JobRunning, now.Add(-time.Minute)) // already claimed
	createJob(t, db, domain.JobDead, now.Add(-time.Minute))    // terminal

	claimed, err := ClaimDueJobs(ctx, db, now, 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != due.ID {
		t.Fatalf("claimed = %+v", claimed)
	}
	if claimed[0].Status != domain.JobRunning || claimed[0].Attempts != 1 {
		t.Fatalf("claimed job not flipped: %+v", claimed[0])
	}

	// A second overlapping invocation finds nothing left to claim.
	again, err := ClaimDueJobs(ctx, db, now, 10)
	if err != nil {
		t.Fatalf("second ClaimDueJobs: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("overlapping invocation claimed %d jobs, want 0", len(again))
	}
}

func TestClaimDueJobs_HonorsLimit(t *testing.T) {
	db := newJobDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		createJob(t, db, domain.JobQueued, now.Add(-time.Duration(i+1)*time.Minute))
	}

	claimed, err := ClaimDueJobs(ctx, db, now, 3)
	if err != nil {
		t.Fatalf("ClaimDueJobs: %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("claimed %d jobs, want 3", len(claimed))
	}
}

func TestFailJob_RequeuesWithBackoff(t *testing.T) {
	db := newJobDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := createJob(t, db, domain.JobRunning, now)
	job.Attempts = 1

	if err := FailJob(ctx, db, job, errors.New("gateway timeout"), 3, 30*time.Second); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var got domain.DeliveryJob
	if err := db.First(&got, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.JobQueued {
		t.Fatalf("status = %s, want QUEUED", got.Status)
	}
	if got.LastError != "gateway timeout" {
		t.Fatalf("last error = %q", got.LastError)
	}
	if !got.NextAttemptAt.After(now.Add(20 * time.Second)) {
		t.Fatalf("next attempt %v not pushed back", got.NextAttemptAt)
	}
}

func TestFailJob_DeadLettersAtCeiling(t *testing.T) {
	db := newJobDB(t)
	ctx := context.Background()

	job := createJob(t, db, domain.JobRunning, time.Now().UTC())
	job.Attempts = 3

	if err := FailJob(ctx, db, job, errors.New("rejected"), 3, 30*time.Second); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var got domain.DeliveryJob
	if err := db.First(&got, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.JobDead {
		t.Fatalf("status = %s, want DEAD", got.Status)
	}
	if got.LastError != "rejected" {
		t.Fatalf("last error = %q", got.LastError)
	}
}

func TestCompleteJob(t *testing.T) {
	db := newJobDB(t)
	ctx := context.Background()

	job := createJob(t, db, domain.JobRunning, time.Now().UTC())
	if err := CompleteJob(ctx, db, job.ID, domain.JobSucceeded); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	var got domain.DeliveryJob
	if err := db.First(&got, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.JobSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", got.Status)
	}

	if err := CompleteJob(ctx, db, "missing", domain.JobSucceeded); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRequeueStaleJobs(t *testing.T) {
	db := newJobDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := createJob(t, db, domain.JobRunning, now.Add(-time.Hour))
	spent := createJob(t, db, domain.JobRunning, now.Add(-time.Hour))
	fresh := createJob(t, db, domain.JobRunning, now)
	queued := createJob(t, db, domain.JobQueued, now)

	// UpdateColumns skips the automatic updated_at bump.
	old := now.Add(-time.Hour)
	if err := db.Model(&domain.DeliveryJob{}).Where("id = ?", stale.ID).
		UpdateColumns(map[string]any{"updated_at": old, "attempts": 1}).Error; err != nil {
		t.Fatalf("age stale job: %v", err)
	}
	if err := db.Model(&domain.DeliveryJob{}).Where("id = ?", spent.ID).
		UpdateColumns(map[string]any{"updated_at": old, "attempts": 3}).Error; err != nil {
		t.Fatalf("age spent job: %v", err)
	}

	n, err := RequeueStaleJobs(ctx, db, now.Add(-15*time.Minute), 3)
	if err != nil {
		t.Fatalf("RequeueStaleJobs: %v", err)
	}
	if n != 2 {
		t.Fatalf("touched = %d, want 2", n)
	}

	reload := func(id string) *domain.DeliveryJob {
		var j domain.DeliveryJob
		if err := db.First(&j, "id = ?", id).Error; err != nil {
			t.Fatalf("reload %s: %v", id, err)
		}
		return &j
	}
	if got := reload(stale.ID); got.Status != domain.JobQueued {
		t.Fatalf("stale job = %s, want QUEUED for another claim", got.Status)
	}
	if got := reload(spent.ID); got.Status != domain.JobDead || got.LastError == "" {
		t.Fatalf("spent job = %s (%q), want DEAD with error retained", got.Status, got.LastError)
	}
	if got := reload(fresh.ID); got.Status != domain.JobRunning {
		t.Fatalf("fresh running job = %s, want RUNNING untouched", got.Status)
	}
	if got := reload(queued.ID); got.Status != domain.JobQueued {
		t.Fatalf("queued job = %s, want QUEUED untouched", got.Status)
	}

	// The recovered job is immediately claimable again.
	claimed, err := ClaimDueJobs(ctx, db, time.Now().UTC().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs: %v", err)
	}
	found := false
	for _, j := range claimed {
		if j.ID == stale.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("recovered job was not claimable")
	}
}

func TestDeadLetterListingAndPurge(t *testing.T) {
	db := newJobDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		createJob(t, db, domain.JobDead, now.Add(-time.Duration(i)*time.Minute))
	}
	createJob(t, db, domain.JobQueued, now)

	n, err := CountDeadJobs(ctx, db)
	if err != nil {
		t.Fatalf("CountDeadJobs: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}

	page, err := ListDeadJobs(ctx, db, 0, 2)
	if err != nil {
		t.Fatalf("ListDeadJobs: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}

	rest, err := ListDeadJobs(ctx, db, 2, 2)
	if err != nil {
		t.Fatalf("ListDeadJobs offset: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("second page size = %d, want 1", len(rest))
	}

	// Nothing is old enough to purge yet.
	purged, err := PurgeDeadJobs(ctx, db, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PurgeDeadJobs: %v", err)
	}
	if purged != 0 {
		t.Fatalf("purged %d rows, want 0", purged)
	}

	purged, err = PurgeDeadJobs(ctx, db, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeDeadJobs: %v", err)
	}
	if purged != 3 {
		t.Fatalf("purged %d rows, want 3", purged)
	}
	if n, _ := CountDeadJobs(ctx, db); n != 0 {
		t.Fatalf("dead rows remaining: %d", n)
	}
}
