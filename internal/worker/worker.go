package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"clipcast/internal/adapter/platform"
	"clipcast/internal/domain"
	"clipcast/internal/observability"
)

// Settings bounds one publish cycle.
type Settings struct {
	PollInterval time.Duration
	MaxAttempts  int
	FetchLimit   int
	MaxHeight    int
}

// Worker polls for due publish jobs and drives them to a terminal state. It
// is the only component that mutates job status.
type Worker struct {
	repo     domain.JobRepository
	fetcher  domain.MediaFetcher
	registry *platform.Registry
	creds    map[domain.Platform]domain.Credentials
	limits   map[domain.Platform]chan struct{}
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a worker. concurrency caps simultaneous uploads per platform;
// platforms absent from the map default to one upload at a time.
func New(
	repo domain.JobRepository,
	fetcher domain.MediaFetcher,
	registry *platform.Registry,
	creds map[domain.Platform]domain.Credentials,
	concurrency map[domain.Platform]int,
	settings Settings,
	logger *slog.Logger,
) *Worker {
	limits := make(map[domain.Platform]chan struct{})
	for _, p := range domain.Platforms {
		n := concurrency[p]
		if n <= 0 {
			n = 1
		}
		limits[p] = make(chan struct{}, n)
	}
	return &Worker{
		repo:     repo,
		fetcher:  fetcher,
		registry: registry,
		creds:    creds,
		limits:   limits,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// Run starts the publish loop until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "poll_interval", w.settings.PollInterval.String())
	ticker := time.NewTicker(w.settings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down")
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

// videoGroup bundles the due jobs sharing one source video so the download
// happens once per video per cycle.
type videoGroup struct {
	videoID string
	jobs    []domain.PublishJob
}

func (w *Worker) runCycle(ctx context.Context) {
	jobs, err := w.repo.FetchDue(ctx, w.now(), w.settings.FetchLimit)
	if err != nil {
		w.logger.Error("fetch due jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, group := range groupByVideo(jobs) {
		wg.Add(1)
		go func(g *videoGroup) {
			defer wg.Done()
			w.processGroup(ctx, g)
		}(group)
	}
	wg.Wait()
}

// groupByVideo preserves the scheduled_at order FetchDue returned.
func groupByVideo(jobs []domain.PublishJob) []*videoGroup {
	index := make(map[string]*videoGroup)
	var groups []*videoGroup
	for _, job := range jobs {
		g, ok := index[job.SourceVideoID]
		if !ok {
			g = &videoGroup{videoID: job.SourceVideoID}
			index[job.SourceVideoID] = g
			groups = append(groups, g)
		}
		g.jobs = append(g.jobs, job)
	}
	return groups
}

func (w *Worker) processGroup(ctx context.Context, g *videoGroup) {
	// Claim every job of the group before the shared download. A claim the
	// repository rejects belongs to an overlapping cycle and is skipped.
	var claimed []domain.PublishJob
	for _, job := range g.jobs {
		if err := w.repo.MarkDownloading(ctx, job.ID); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				w.logger.Debug("job claimed elsewhere", "job", job.ID)
			} else {
				w.logger.Error("claim job", "job", job.ID, "error", err)
			}
			continue
		}
		claimed = append(claimed, job)
	}
	if len(claimed) == 0 {
		return
	}

	path := liveLocalCopy(claimed)
	if path == "" {
		var err error
		path, err = w.fetcher.Fetch(ctx, g.videoID, w.settings.MaxHeight)
		if err != nil {
			observability.Downloads.WithLabelValues("failure").Inc()
			w.logger.Warn("download failed", "video", g.videoID, "error", err)
			w.settleDownloadFailure(ctx, claimed, err)
			return
		}
		observability.Downloads.WithLabelValues("success").Inc()
		if err := w.repo.SetLocalPath(ctx, g.videoID, path); err != nil {
			w.logger.Error("record local path", "video", g.videoID, "error", err)
		}
	} else {
		observability.Downloads.WithLabelValues("cached").Inc()
	}

	var wg sync.WaitGroup
	for _, job := range claimed {
		wg.Add(1)
		go func(job domain.PublishJob) {
			defer wg.Done()
			w.uploadJob(ctx, job, path)
		}(job)
	}
	wg.Wait()

	w.cleanup(ctx, g.videoID, path)
}

// liveLocalCopy returns a previously downloaded file still present on disk.
func liveLocalCopy(jobs []domain.PublishJob) string {
	for _, job := range jobs {
		if job.LocalPath == "" {
			continue
		}
		if info, err := os.Stat(job.LocalPath); err == nil && info.Size() > 0 {
			return job.LocalPath
		}
	}
	return ""
}

// settleDownloadFailure applies the retry policy to every claimed job of a
// group whose shared download failed.
func (w *Worker) settleDownloadFailure(ctx context.Context, jobs []domain.PublishJob, err error) {
	kind := domain.KindOf(err)
	detail := err.Error()
	for _, job := range jobs {
		if domain.Retryable(err) && job.CanRetry(w.settings.MaxAttempts) {
			if rqErr := w.repo.Requeue(ctx, job.ID, detail); rqErr != nil {
				w.logger.Error("requeue job", "job", job.ID, "error", rqErr)
				continue
			}
			observability.JobsRequeued.WithLabelValues(string(job.Platform)).Inc()
		} else {
			if failErr := w.repo.MarkFailed(ctx, job.ID, detail); failErr != nil {
				w.logger.Error("fail job", "job", job.ID, "error", failErr)
				continue
			}
			observability.JobsFailed.WithLabelValues(string(job.Platform), string(kind)).Inc()
		}
	}
}

func (w *Worker) uploadJob(ctx context.Context, job domain.PublishJob, path string) {
	if limit := w.limits[job.Platform]; limit != nil {
		limit <- struct{}{}
		defer func() { <-limit }()
	}

	up := w.registry.Lookup(job.Platform)
	if up == nil {
		w.logger.Error("no uploader for platform", "job", job.ID, "platform", job.Platform)
		if err := w.repo.MarkFailed(ctx, job.ID, "no uploader for platform "+string(job.Platform)); err != nil {
			w.logger.Error("fail job", "job", job.ID, "error", err)
		}
		return
	}

	if err := w.repo.MarkUploading(ctx, job.ID); err != nil {
		w.logger.Error("mark uploading", "job", job.ID, "error", err)
		return
	}

	start := w.now()
	postID, err := up.Upload(ctx, path, job.Caption, w.creds[job.Platform])
	if err != nil {
		kind := domain.KindOf(err)
		if domain.Retryable(err) && job.CanRetry(w.settings.MaxAttempts) {
			w.logger.Warn("upload failed, will retry",
				"job", job.ID, "platform", job.Platform, "kind", kind, "error", err)
			if rqErr := w.repo.Requeue(ctx, job.ID, err.Error()); rqErr != nil {
				w.logger.Error("requeue job", "job", job.ID, "error", rqErr)
				return
			}
			observability.JobsRequeued.WithLabelValues(string(job.Platform)).Inc()
			return
		}
		w.logger.Error("upload failed",
			"job", job.ID, "platform", job.Platform, "kind", kind, "error", err)
		if failErr := w.repo.MarkFailed(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("fail job", "job", job.ID, "error", failErr)
			return
		}
		observability.JobsFailed.WithLabelValues(string(job.Platform), string(kind)).Inc()
		return
	}

	if err := w.repo.MarkPublished(ctx, job.ID, postID); err != nil {
		// Lost the race against an overlapping cycle; its result stands.
		w.logger.Error("mark published", "job", job.ID, "error", err)
		return
	}
	observability.JobsPublished.WithLabelValues(string(job.Platform)).Inc()
	observability.PublishDuration.WithLabelValues(string(job.Platform)).Observe(w.now().Sub(start).Seconds())
	w.logger.Info("published", "job", job.ID, "platform", job.Platform, "post", postID)
}

// cleanup deletes the shared local file once no job of the video is live.
func (w *Worker) cleanup(ctx context.Context, videoID, path string) {
	count, err := w.repo.CountActive(ctx, videoID)
	if err != nil {
		w.logger.Error("count active jobs", "video", videoID, "error", err)
		return
	}
	if count > 0 {
		return
	}
	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("remove local media", "path", path, "error", err)
		}
	}
	if err := w.repo.ClearLocalPath(ctx, videoID); err != nil {
		w.logger.Error("clear local path", "video", videoID, "error", err)
	}
}
