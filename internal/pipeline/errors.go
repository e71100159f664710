package pipeline

import (
	"context"
	"errors"
	"net/url"
)

var (
	// ErrReductionOverflow marks a feature whose area reduction exceeded the
	// pixel cap.
	ErrReductionOverflow = errors.New("reduction overflow")

	// ErrExternalService marks a feature whose raster fetch failed after all
	// retries.
	ErrExternalService = errors.New("external service failure")

	// ErrPartitionExport marks a partition whose table could not be written.
	ErrPartitionExport = errors.New("partition export failed")

	// ErrInvalidPlan is returned for partition parameters that cannot be planned.
	ErrInvalidPlan = errors.New("invalid partition plan")
)

type temporary interface {
	Temporary() bool
}

// IsRetryable reports whether a failed fetch may succeed when repeated.
// Transport failures and per-attempt timeouts are retryable; service errors
// decide for themselves through a Temporary method. Anything else, such as a
// grid mismatch or an undecodable response, is permanent.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}

// isServiceError reports whether err came from talking to an external
// service rather than from processing its answer.
func isServiceError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ue *url.Error
	var t temporary
	return errors.As(err, &ue) || errors.As(err, &t)
}
