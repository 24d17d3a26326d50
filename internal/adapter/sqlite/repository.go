package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"clipcast/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS publish_jobs (
    id              TEXT PRIMARY KEY,
    source_video_id TEXT NOT NULL,
    platform        TEXT NOT NULL,
    caption         TEXT NOT NULL DEFAULT '',
    scheduled_at    DATETIME NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    attempts        INTEGER NOT NULL DEFAULT 0,
    post_id         TEXT,
    error           TEXT,
    local_path      TEXT,
    created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_publish_jobs_due ON publish_jobs(status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_publish_jobs_video ON publish_jobs(source_video_id);
`

const columns = `id, source_video_id, platform, caption, scheduled_at, status,
	attempts, COALESCE(post_id, ''), COALESCE(error, ''), COALESCE(local_path, ''),
	created_at, updated_at`

var activeStatuses = []domain.JobStatus{
	domain.StatusPending, domain.StatusDownloading, domain.StatusUploading,
}

// Repository implements domain.JobRepository using SQLite.
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository, initializing the schema if needed.
func New(dbPath string) (*Repository, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new pending job. In production the scheduling UI writes
// these rows; the worker only reads and transitions them.
func (r *Repository) Create(ctx context.Context, n domain.NewJob) (*domain.PublishJob, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO publish_jobs (id, source_video_id, platform, caption, scheduled_at, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, n.SourceVideoID, n.Platform, n.Caption, n.ScheduledAt.UTC(), domain.StatusPending, now, now,
	)
	if err != nil {
		return nil, err
	}

	return &domain.PublishJob{
		ID:            id,
		SourceVideoID: n.SourceVideoID,
		Platform:      n.Platform,
		Caption:       n.Caption,
		ScheduledAt:   n.ScheduledAt.UTC(),
		Status:        domain.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Get retrieves a job by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.PublishJob, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM publish_jobs WHERE id = ?`, id,
	)
	return scanJob(row)
}

// FetchDue returns pending jobs whose schedule has passed, oldest first.
func (r *Repository) FetchDue(ctx context.Context, now time.Time, limit int) ([]domain.PublishJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+columns+` FROM publish_jobs
		 WHERE status = ? AND scheduled_at <= ?
		 ORDER BY scheduled_at ASC LIMIT ?`,
		domain.StatusPending, now.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.PublishJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkDownloading claims a pending job for the download phase.
func (r *Repository) MarkDownloading(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusDownloading,
		`UPDATE publish_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.StatusPending)
}

// MarkUploading advances a downloaded job into the upload phase.
func (r *Repository) MarkUploading(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusUploading,
		`UPDATE publish_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.StatusDownloading)
}

// MarkPublished records a successful publish with the platform's post ID.
func (r *Repository) MarkPublished(ctx context.Context, id, postID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE publish_jobs SET status = ?, post_id = ?, error = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusPublished, postID, time.Now().UTC(), id, domain.StatusUploading,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// MarkFailed terminates a job with a diagnostic. Guarded against terminal
// states so a racing cycle cannot flip an already published job to failed.
func (r *Repository) MarkFailed(ctx context.Context, id, detail string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE publish_jobs SET status = ?, error = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?, ?)`,
		domain.StatusFailed, detail, time.Now().UTC(), id,
		activeStatuses[0], activeStatuses[1], activeStatuses[2],
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// Requeue sends an in-flight job back to pending and counts the attempt.
func (r *Repository) Requeue(ctx context.Context, id, detail string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE publish_jobs SET status = ?, attempts = attempts + 1, error = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.StatusPending, detail, time.Now().UTC(), id,
		domain.StatusDownloading, domain.StatusUploading,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// SetLocalPath records the shared local media copy on every job of the video.
func (r *Repository) SetLocalPath(ctx context.Context, sourceVideoID, path string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE publish_jobs SET local_path = ?, updated_at = ? WHERE source_video_id = ?`,
		path, time.Now().UTC(), sourceVideoID,
	)
	return err
}

// ClearLocalPath clears the local media reference after cleanup.
func (r *Repository) ClearLocalPath(ctx context.Context, sourceVideoID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE publish_jobs SET local_path = NULL, updated_at = ? WHERE source_video_id = ?`,
		time.Now().UTC(), sourceVideoID,
	)
	return err
}

// CountActive returns how many jobs of the video are not yet terminal.
func (r *Repository) CountActive(ctx context.Context, sourceVideoID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM publish_jobs
		 WHERE source_video_id = ? AND status IN (?, ?, ?)`,
		sourceVideoID, activeStatuses[0], activeStatuses[1], activeStatuses[2],
	).Scan(&count)
	return count, err
}

// RecoverStale resets in-flight jobs back to pending (crash recovery).
func (r *Repository) RecoverStale(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE publish_jobs SET status = ?, error = 'recovered after crash', updated_at = ?
		 WHERE status IN (?, ?)`,
		domain.StatusPending, time.Now().UTC(),
		domain.StatusDownloading, domain.StatusUploading,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *Repository) transition(ctx context.Context, id string, to domain.JobStatus, query string, from domain.JobStatus) error {
	result, err := r.db.ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrConflict
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.PublishJob, error) {
	var job domain.PublishJob
	var status, platform string
	err := row.Scan(
		&job.ID, &job.SourceVideoID, &platform, &job.Caption, &job.ScheduledAt,
		&status, &job.Attempts, &job.PostID, &job.Error, &job.LocalPath,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.Platform = domain.Platform(platform)
	return &job, nil
}
