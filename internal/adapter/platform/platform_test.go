package platform

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clipcast/internal/domain"
)

func writeTestVideo(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video.mp4")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write test video: %v", err)
	}
	return path
}

func TestClassifyStatus(t *testing.T) {
	cases := map[int]domain.ErrorKind{
		http.StatusUnauthorized:        domain.KindAuth,
		http.StatusForbidden:           domain.KindAuth,
		http.StatusTooManyRequests:     domain.KindRateLimit,
		http.StatusInternalServerError: domain.KindTransient,
		http.StatusBadGateway:          domain.KindTransient,
		http.StatusBadRequest:          domain.KindPermanent,
		http.StatusNotFound:            domain.KindPermanent,
	}
	for status, want := range cases {
		if got := classifyStatus(status); got != want {
			t.Errorf("classifyStatus(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestStatusError_RetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "slow down")
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	perr := statusError("test", resp)
	if perr.Kind != domain.KindRateLimit {
		t.Errorf("Kind = %q, want %q", perr.Kind, domain.KindRateLimit)
	}
	if perr.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %s, want 30s", perr.RetryAfter)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	tiktok := NewTikTok()
	r.Register(tiktok)

	if got := r.Lookup(domain.PlatformTikTok); got != tiktok {
		t.Error("Lookup(tiktok) did not return the registered uploader")
	}
	if got := r.Lookup(domain.PlatformInstagram); got != nil {
		t.Errorf("Lookup(instagram) = %v, want nil", got)
	}
}
