// Package errs holds the failure taxonomy shared by the poller, the remote
// client and the orchestrators.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrUploadRejected marks a local file that is too large or of the wrong
	// type. It is raised before any network activity.
	ErrUploadRejected = errors.New("upload rejected")
	// ErrNetworkFailure marks a transport level failure or a non-2xx response.
	ErrNetworkFailure = errors.New("network failure")
	// ErrJobFailed marks a job the server reported as failed.
	ErrJobFailed = errors.New("job failed")
	// ErrPollTimeout marks a job that stayed non-terminal past the poll timeout.
	ErrPollTimeout = errors.New("job poll timeout")
	// ErrMissingJobID marks a creation response without a usable job identity.
	ErrMissingJobID = errors.New("missing job id")
)

// JobFailedError carries the server's error text for a failed job.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s failed on server", e.JobID)
	}
	return fmt.Sprintf("job %s failed on server: %s", e.JobID, e.Message)
}

// Is lets errors.Is(err, ErrJobFailed) match.
func (e *JobFailedError) Is(target error) bool {
	return target == ErrJobFailed
}

// RequestError describes a failed request against the job service.
type RequestError struct {
	Op     string
	Status int // 0 when the request never got a response
	Body   string
	Err    error
}

func (e *RequestError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: http %d: %s", e.Op, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": request failed"
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNetworkFailure) match.
func (e *RequestError) Is(target error) bool {
	return target == ErrNetworkFailure
}

// Rejected wraps ErrUploadRejected with a reason.
func Rejected(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUploadRejected, fmt.Sprintf(format, args...))
}
