package stylize

import (
	"errors"
	"fmt"

	"github.com/dunamismax/printstudio/internal/retry"
)

var (
	ErrSubmissionFailed  = errors.New("stylization submission failed")
	ErrStyleIncompatible = errors.New("style does not support image-to-image")
	ErrNoResultProduced  = errors.New("stylization finished without a usable result")
)

type JobFailedError struct {
	Reason string
}

func (e *JobFailedError) Error() string {
	return "stylization job failed: " + e.Reason
}

type TimeoutError struct {
	ElapsedSeconds int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stylization did not finish within %ds", e.ElapsedSeconds)
}

// Error kinds as stored on job records and returned by the API.
const (
	KindSubmissionFailed  = "submission_failed"
	KindStyleIncompatible = "style_incompatible"
	KindNoResult          = "no_result"
	KindJobFailed         = "job_failed"
	KindTimeout           = "timeout"
	KindNetwork           = "network_error"
	KindMalformed         = "malformed_response"
	KindUnknown           = "unknown"
)

func Kind(err error) string {
	var (
		failed  *JobFailedError
		timeout *TimeoutError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStyleIncompatible):
		return KindStyleIncompatible
	case errors.Is(err, ErrNoResultProduced):
		return KindNoResult
	case errors.As(err, &failed):
		return KindJobFailed
	case errors.As(err, &timeout):
		return KindTimeout
	case errors.Is(err, ErrSubmissionFailed):
		return KindSubmissionFailed
	case errors.Is(err, retry.ErrNetwork):
		return KindNetwork
	case errors.Is(err, retry.ErrMalformedResponse):
		return KindMalformed
	default:
		return KindUnknown
	}
}

// UserMessage is the text shown to a shopper for a failed stylization.
func UserMessage(err error) string {
	switch Kind(err) {
	case "":
		return ""
	case KindStyleIncompatible:
		return "This style can't transform photos. Please pick another style."
	case KindNoResult:
		return "The style finished but produced no image. Please try again."
	case KindJobFailed:
		var failed *JobFailedError
		errors.As(err, &failed)
		return "The style could not be applied: " + failed.Reason
	case KindTimeout:
		return "The style is taking longer than expected. Please try again."
	case KindNetwork:
		return "We couldn't reach the styling service. Check your connection and try again."
	case KindMalformed:
		return "The styling service sent an unexpected response. Please try again."
	default:
		return "Something went wrong while styling your photo."
	}
}
