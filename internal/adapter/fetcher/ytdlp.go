package fetcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"clipcast/internal/domain"
)

const watchURL = "https://www.youtube.com/watch?v="

// yt-dlp output lines that mean the video will never become fetchable.
var permanentMarkers = []string{
	"Video unavailable",
	"Private video",
	"This video has been removed",
	"account associated with this video has been terminated",
	"who has blocked it in your country",
	"Sign in to confirm your age",
	"Unsupported URL",
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// YtDlp fetches source videos with the yt-dlp binary, writing one file per
// source video into the scratch directory so sibling jobs share the copy.
type YtDlp struct {
	binary     string
	scratchDir string
	attempts   int
	baseDelay  time.Duration

	run   runFunc
	sleep func(time.Duration)
}

// New creates a fetcher writing into scratchDir.
func New(scratchDir string) *YtDlp {
	return &YtDlp{
		binary:     "yt-dlp",
		scratchDir: scratchDir,
		attempts:   3,
		baseDelay:  5 * time.Second,
		run:        runCommand,
		sleep:      time.Sleep,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Fetch downloads the best encoding not exceeding maxHeight and returns the
// local file path. Transient failures are retried with exponential backoff;
// permanent ones (removed, private, geo-blocked) are returned immediately.
func (f *YtDlp) Fetch(ctx context.Context, sourceVideoID string, maxHeight int) (string, error) {
	if strings.ContainsAny(sourceVideoID, `/\`) {
		return "", domain.Errf(domain.KindPermanent, "fetch", "invalid source video id %q", sourceVideoID)
	}
	if path, ok := f.existing(sourceVideoID); ok {
		return path, nil
	}
	if err := os.MkdirAll(f.scratchDir, 0755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	format := fmt.Sprintf("bv*[height<=%d]+ba/b[height<=%d]", maxHeight, maxHeight)
	outputTemplate := filepath.Join(f.scratchDir, sourceVideoID+".%(ext)s")

	var lastErr error
	delay := f.baseDelay
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			f.sleep(delay)
			delay *= 2
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		output, err := f.run(ctx, f.binary,
			"-f", format,
			"--no-warnings", "--no-playlist",
			"-o", outputTemplate,
			watchURL+sourceVideoID,
		)
		if err == nil {
			path, ok := f.existing(sourceVideoID)
			if !ok {
				return "", domain.Errf(domain.KindPermanent, "fetch",
					"yt-dlp produced no file for %s", sourceVideoID)
			}
			return path, nil
		}

		if marker := permanentFailure(output); marker != "" {
			return "", domain.Errf(domain.KindPermanent, "fetch", "%s: %s", sourceVideoID, marker)
		}
		lastErr = fmt.Errorf("yt-dlp: %w: %s", err, firstLine(output))
	}

	return "", &domain.PublishError{
		Kind: domain.KindTransient,
		Op:   "fetch",
		Err:  fmt.Errorf("giving up after %d attempts: %w", f.attempts, lastErr),
	}
}

// existing returns the already-downloaded file for the video, if any. The
// file is named by source video ID exactly so that sibling jobs and retry
// cycles can find it without re-downloading.
func (f *YtDlp) existing(sourceVideoID string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(f.scratchDir, sourceVideoID+".*"))
	if err != nil {
		return "", false
	}
	for _, match := range matches {
		if strings.HasSuffix(match, ".part") || strings.HasSuffix(match, ".ytdl") {
			continue
		}
		if info, err := os.Stat(match); err == nil && info.Size() > 0 {
			return match, true
		}
	}
	return "", false
}

func permanentFailure(output []byte) string {
	text := string(output)
	for _, marker := range permanentMarkers {
		if strings.Contains(text, marker) {
			return marker
		}
	}
	return ""
}

func firstLine(output []byte) string {
	text := strings.TrimSpace(string(output))
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}
