// Package poller drives a remote job to a terminal state by fetching its
// status at a fixed interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scribeflow/internal/errs"
	"scribeflow/internal/models"
)

const (
	DefaultInterval = 1500 * time.Millisecond
	DefaultTimeout  = 5 * time.Minute
)

// ErrEmptyJobID is returned before any request when no job id is given.
var ErrEmptyJobID = errors.New("poll: empty job id")

// StatusFetcher returns the current state of a job.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (*models.Job, error)
}

// Options tunes a single poll loop. Zero values fall back to the defaults.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	// OnProgress sees every non-terminal payload.
	OnProgress func(*models.Job)
}

// Poller polls jobs. It never touches the entity store.
type Poller struct {
	fetcher StatusFetcher
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
}

// New creates a poller over fetcher.
func New(fetcher StatusFetcher) *Poller {
	return &Poller{fetcher: fetcher, now: time.Now, after: time.After}
}

// Poll fetches the job status until the job is ready, failed, the timeout
// elapses or ctx is done. A ready job is returned as reported by the service.
// Failed jobs yield *errs.JobFailedError, an expired timeout errs.ErrPollTimeout.
// Fetch errors end the loop unchanged.
func (p *Poller) Poll(ctx context.Context, jobID string, opts Options) (*models.Job, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	start := p.now()
	for {
		job, err := p.fetcher.JobStatus(ctx, jobID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("poll job %s: %w", jobID, err)
		}
		switch job.Status {
		case models.JobReady:
			return job, nil
		case models.JobFailed:
			return nil, &errs.JobFailedError{JobID: jobID, Message: job.Error}
		}
		if opts.OnProgress != nil {
			opts.OnProgress(job)
		}
		if p.now().Sub(start) > opts.Timeout {
			return nil, fmt.Errorf("poll job %s after %s: %w", jobID, opts.Timeout, errs.ErrPollTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.after(opts.Interval):
		}
	}
}
