package domain

import "time"

// JobStatus represents the publishing state of a job.
type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusDownloading JobStatus = "downloading"
	StatusUploading   JobStatus = "uploading"
	StatusPublished   JobStatus = "published"
	StatusFailed      JobStatus = "failed"
)

// Terminal reports whether no further automatic transition occurs.
func (s JobStatus) Terminal() bool {
	return s == StatusPublished || s == StatusFailed
}

// Platform identifies a target platform with a native upload API.
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
)

// Platforms lists all supported target platforms.
var Platforms = []Platform{PlatformTikTok, PlatformFacebook, PlatformInstagram}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// PublishJob is one unit of "publish this source video to this platform".
// Rows are created by the scheduling UI and mutated only by the worker;
// terminal rows are retained for read-back, never deleted here.
type PublishJob struct {
	ID            string
	SourceVideoID string
	Platform      Platform
	Caption       string
	ScheduledAt   time.Time
	Status        JobStatus
	Attempts      int
	PostID        string
	Error         string
	LocalPath     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Due reports whether the job is ready for processing at the given time.
func (j *PublishJob) Due(now time.Time) bool {
	return j.Status == StatusPending && !j.ScheduledAt.After(now)
}

// CanRetry reports whether another attempt is allowed before the ceiling.
func (j *PublishJob) CanRetry(maxAttempts int) bool {
	return j.Attempts+1 < maxAttempts && !j.Status.Terminal()
}
