package fetcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clipcast/internal/domain"
)

func newTestFetcher(t *testing.T, run runFunc) (*YtDlp, *[]time.Duration) {
	t.Helper()
	var sleeps []time.Duration
	f := New(t.TempDir())
	f.run = run
	f.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return f, &sleeps
}

func writeScratchFile(t *testing.T, f *YtDlp, name string) string {
	t.Helper()
	path := filepath.Join(f.scratchDir, name)
	if err := os.WriteFile(path, []byte("video bytes"), 0644); err != nil {
		t.Fatalf("write scratch file: %v", err)
	}
	return path
}

func TestYtDlp_Fetch_Success(t *testing.T) {
	var calls int
	var f *YtDlp
	f, _ = newTestFetcher(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		writeScratchFile(t, f, "dQw4w9WgXcQ.mp4")
		return nil, nil
	})

	path, err := f.Fetch(context.Background(), "dQw4w9WgXcQ", 1080)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.HasSuffix(path, "dQw4w9WgXcQ.mp4") {
		t.Errorf("Fetch() path = %q, want file named by video ID", path)
	}
	if calls != 1 {
		t.Errorf("yt-dlp invoked %d times, want 1", calls)
	}
}

func TestYtDlp_Fetch_ReusesExistingFile(t *testing.T) {
	var calls int
	f, _ := newTestFetcher(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		return nil, nil
	})
	want := writeScratchFile(t, f, "abc123.webm")

	path, err := f.Fetch(context.Background(), "abc123", 1080)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if path != want {
		t.Errorf("Fetch() path = %q, want existing %q", path, want)
	}
	if calls != 0 {
		t.Errorf("yt-dlp invoked %d times for cached video, want 0", calls)
	}
}

func TestYtDlp_Fetch_IgnoresPartialFiles(t *testing.T) {
	var f *YtDlp
	f, _ = newTestFetcher(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		writeScratchFile(t, f, "abc123.mp4")
		return nil, nil
	})
	writeScratchFile(t, f, "abc123.mp4.part")

	path, err := f.Fetch(context.Background(), "abc123", 720)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if strings.HasSuffix(path, ".part") {
		t.Errorf("Fetch() returned partial file %q", path)
	}
}

func TestYtDlp_Fetch_TransientRetriesWithBackoff(t *testing.T) {
	var calls int
	f, sleeps := newTestFetcher(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		return []byte("ERROR: HTTP Error 503: Service Unavailable"), errors.New("exit status 1")
	})

	_, err := f.Fetch(context.Background(), "abc123", 1080)
	if err == nil {
		t.Fatal("Fetch() error = nil, want transient error")
	}
	if kind := domain.KindOf(err); kind != domain.KindTransient {
		t.Errorf("KindOf() = %q, want %q", kind, domain.KindTransient)
	}
	if calls != 3 {
		t.Errorf("yt-dlp invoked %d times, want 3", calls)
	}
	// Backoff starts at the base delay and doubles.
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("slept %d times, want %d", len(*sleeps), len(want))
	}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Errorf("sleep %d = %s, want %s", i, (*sleeps)[i], d)
		}
	}
}

func TestYtDlp_Fetch_PermanentNotRetried(t *testing.T) {
	var calls int
	f, sleeps := newTestFetcher(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		return []byte("ERROR: [youtube] abc123: Video unavailable"), errors.New("exit status 1")
	})

	_, err := f.Fetch(context.Background(), "abc123", 1080)
	if err == nil {
		t.Fatal("Fetch() error = nil, want permanent error")
	}
	if kind := domain.KindOf(err); kind != domain.KindPermanent {
		t.Errorf("KindOf() = %q, want %q", kind, domain.KindPermanent)
	}
	if calls != 1 {
		t.Errorf("yt-dlp invoked %d times, want 1", calls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("slept %d times, want 0", len(*sleeps))
	}
}

func TestYtDlp_Fetch_RejectsPathTraversal(t *testing.T) {
	f, _ := newTestFetcher(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		t.Fatal("yt-dlp must not run for an invalid ID")
		return nil, nil
	})

	_, err := f.Fetch(context.Background(), "../etc/passwd", 1080)
	if kind := domain.KindOf(err); kind != domain.KindPermanent {
		t.Errorf("KindOf() = %q, want %q", kind, domain.KindPermanent)
	}
}

func TestYtDlp_Fetch_HeightCapInFormat(t *testing.T) {
	var gotArgs []string
	var f *YtDlp
	f, _ = newTestFetcher(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		writeScratchFile(t, f, "abc123.mp4")
		return nil, nil
	})

	if _, err := f.Fetch(context.Background(), "abc123", 720); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	joined := strings.Join(gotArgs, " ")
	if !strings.Contains(joined, "height<=720") {
		t.Errorf("yt-dlp args %q do not cap height at 720", joined)
	}
}
