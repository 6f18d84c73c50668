package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the service layer. Handlers translate these
// into HTTP status codes; nothing below the API layer knows about HTTP.

// ErrLinkNotFound is returned when a short code doesn't exist in the store.
var ErrLinkNotFound = errors.New("link not found")

// ErrInvalidDestination is returned when a destination URL fails validation
// (not parseable, relative, or a scheme other than http/https).
var ErrInvalidDestination = errors.New("invalid destination URL")

// ErrForbidden is returned when an owner-scoped operation is attempted by
// someone other than the link's owner.
var ErrForbidden = errors.New("operation not permitted for this owner")

// ErrCodeGenerationExhausted is returned when we can't produce a unique short
// code within the bounded number of attempts.
var ErrCodeGenerationExhausted = errors.New("failed to generate unique short code")

// ErrInvalidCode is returned when a code fails the format check before any
// store lookup happens.
var ErrInvalidCode = errors.New("invalid short code format")

// ErrStoreUnavailable wraps storage-layer failures (I/O, connection loss).
// Callers degrade to "resolution fails" rather than guessing at state.
var ErrStoreUnavailable = errors.New("link store unavailable")

// ErrVisitRecordingFailed is returned when a visit could not be persisted.
type ErrVisitRecordingFailed struct {
	Code   string
	Reason string
}

func (e ErrVisitRecordingFailed) Error() string {
	return fmt.Sprintf("failed to record visit for %s: %s", e.Code, e.Reason)
}

// ErrEnrichmentFailed is returned when the geolocation lookup for a visit
// fails or times out. Never fatal; the visit simply stays unenriched.
type ErrEnrichmentFailed struct {
	IP     string
	Reason string
}

func (e ErrEnrichmentFailed) Error() string {
	return fmt.Sprintf("failed to enrich visit from %s: %s", e.IP, e.Reason)
}
