// Package platform holds the native upload adapters, one per target platform.
// Each adapter is an independent state machine behind domain.Uploader; the
// only thing they share is credential handling and HTTP error classification.
package platform

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"clipcast/internal/domain"
)

// Registry maps a platform to its uploader.
type Registry struct {
	uploaders map[domain.Platform]domain.Uploader
}

// NewRegistry creates an empty uploader registry.
func NewRegistry() *Registry {
	return &Registry{uploaders: make(map[domain.Platform]domain.Uploader)}
}

// Register adds an uploader, replacing any previous one for its platform.
func (r *Registry) Register(u domain.Uploader) {
	r.uploaders[u.Platform()] = u
}

// Lookup returns the uploader for the platform, or nil.
func (r *Registry) Lookup(p domain.Platform) domain.Uploader {
	return r.uploaders[p]
}

// classifyStatus maps an HTTP response status to an error kind.
func classifyStatus(status int) domain.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.KindAuth
	case status == http.StatusTooManyRequests:
		return domain.KindRateLimit
	case status >= 500:
		return domain.KindTransient
	default:
		return domain.KindPermanent
	}
}

// statusError turns a non-2xx response into a classified error, keeping a
// snippet of the body as the diagnostic and honoring Retry-After on 429.
func statusError(op string, resp *http.Response) *domain.PublishError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := domain.Errf(classifyStatus(resp.StatusCode), op,
		"status %d: %s", resp.StatusCode, snippet)
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			err.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return err
}

// transportError wraps a failed round trip; network failures are transient.
func transportError(op string, err error) *domain.PublishError {
	return &domain.PublishError{Kind: domain.KindTransient, Op: op, Err: err}
}
