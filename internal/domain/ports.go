package domain

import (
	"context"
	"time"
)

// NewJob carries the fields the scheduling UI supplies when inserting a job.
type NewJob struct {
	SourceVideoID string
	Platform      Platform
	Caption       string
	ScheduledAt   time.Time
}

// JobRepository is the driven port for publish-job persistence.
//
// Transition methods are guarded by the expected previous status and return
// ErrConflict when another cycle already moved the row; that optimistic check
// is what keeps two overlapping cycles from double-publishing a job.
type JobRepository interface {
	Create(ctx context.Context, n NewJob) (*PublishJob, error)
	Get(ctx context.Context, id string) (*PublishJob, error)
	// FetchDue returns pending jobs with scheduled_at <= now, oldest first.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]PublishJob, error)
	MarkDownloading(ctx context.Context, id string) error
	MarkUploading(ctx context.Context, id string) error
	MarkPublished(ctx context.Context, id, postID string) error
	MarkFailed(ctx context.Context, id, detail string) error
	// Requeue sends an in-flight job back to pending and counts the attempt.
	Requeue(ctx context.Context, id, detail string) error
	// SetLocalPath records the shared local copy on every job of the video.
	SetLocalPath(ctx context.Context, sourceVideoID, path string) error
	ClearLocalPath(ctx context.Context, sourceVideoID string) error
	// CountActive returns how many jobs of the video are not yet terminal.
	CountActive(ctx context.Context, sourceVideoID string) (int64, error)
	// RecoverStale resets in-flight jobs back to pending (crash recovery).
	RecoverStale(ctx context.Context) (int64, error)
}

// MediaFetcher retrieves a playable local file for a source video, capped at
// maxHeight. The caller owns cleanup of the returned file.
type MediaFetcher interface {
	Fetch(ctx context.Context, sourceVideoID string, maxHeight int) (string, error)
}

// Credentials is the opaque token material the credential-management
// collaborator supplies per platform. The worker passes it through untouched.
type Credentials struct {
	AccessToken string
	AccountID   string // page or user identifier where the platform needs one
}

// Uploader publishes a local video file natively to one platform and returns
// the platform's identifier for the created post.
type Uploader interface {
	Platform() Platform
	Upload(ctx context.Context, localPath, caption string, creds Credentials) (string, error)
}
