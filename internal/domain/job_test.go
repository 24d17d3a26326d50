package domain

import (
	"testing"
	"time"
)

func TestJobStatus_Terminal(t *testing.T) {
	terminal := map[JobStatus]bool{
		StatusPending:     false,
		StatusDownloading: false,
		StatusUploading:   false,
		StatusPublished:   true,
		StatusFailed:      true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestPlatform_Valid(t *testing.T) {
	for _, p := range Platforms {
		if !p.Valid() {
			t.Errorf("%s.Valid() = false, want true", p)
		}
	}
	if Platform("myspace").Valid() {
		t.Error(`Platform("myspace").Valid() = true, want false`)
	}
}

func TestPublishJob_Due(t *testing.T) {
	now := time.Now()
	job := &PublishJob{Status: StatusPending, ScheduledAt: now.Add(-5 * time.Minute)}
	if !job.Due(now) {
		t.Error("Due() = false for pending job scheduled in the past")
	}

	job.ScheduledAt = now.Add(time.Minute)
	if job.Due(now) {
		t.Error("Due() = true for job scheduled in the future")
	}

	job.ScheduledAt = now.Add(-time.Minute)
	job.Status = StatusFailed
	if job.Due(now) {
		t.Error("Due() = true for terminal job")
	}
}

func TestPublishJob_CanRetry(t *testing.T) {
	job := &PublishJob{Status: StatusUploading, Attempts: 0}
	if !job.CanRetry(3) {
		t.Error("CanRetry(3) = false at 0 attempts")
	}

	// The next attempt would be the third and last; no requeue after it.
	job.Attempts = 2
	if job.CanRetry(3) {
		t.Error("CanRetry(3) = true at 2 attempts, want false")
	}

	job.Attempts = 0
	job.Status = StatusPublished
	if job.CanRetry(3) {
		t.Error("CanRetry(3) = true for terminal job")
	}
}
