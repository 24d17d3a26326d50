package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConflict is returned by guarded repository transitions when the row
	// is no longer in the expected previous status.
	ErrConflict = errors.New("job status conflict")

	ErrJobNotFound = errors.New("job not found")
)

// ErrorKind classifies a publish failure for retry policy.
type ErrorKind string

const (
	// KindTransient covers timeouts, 5xx responses and transport failures.
	KindTransient ErrorKind = "transient"
	// KindAuth covers expired or revoked credentials; never retried
	// automatically, the operator has to re-authenticate.
	KindAuth ErrorKind = "auth"
	// KindRateLimit covers platform throttling; retried after backoff.
	KindRateLimit ErrorKind = "rate_limit"
	// KindPermanent covers unavailable sources and rejected content.
	KindPermanent ErrorKind = "permanent"
	// KindProcessingTimeout covers async container processing that never
	// reported ready within the poll bound.
	KindProcessingTimeout ErrorKind = "processing_timeout"
)

// PublishError is the classified failure adapters and the fetcher hand to the
// worker. Classification happens at the adapter boundary; the worker never
// inspects platform-specific payloads.
type PublishError struct {
	Kind       ErrorKind
	Op         string
	Err        error
	RetryAfter time.Duration // rate-limit hint, zero when the platform gave none
}

func (e *PublishError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Errf builds a classified error from a format string.
func Errf(kind ErrorKind, op, format string, args ...any) *PublishError {
	return &PublishError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification from err. Unclassified errors count as
// transient so an adapter bug degrades into bounded retries, not a silent fail.
func KindOf(err error) ErrorKind {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// Retryable reports whether the job may be retried on a later cycle.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimit:
		return true
	}
	return false
}
