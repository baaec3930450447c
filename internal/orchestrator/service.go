// Package orchestrator runs the create, poll and fetch workflows against the
// job service and reconciles their results into the store. Its Service is
// the whole upward surface of the core.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"scribeflow/internal/models"
	"scribeflow/internal/poller"
	"scribeflow/internal/remote"
	"scribeflow/internal/store"
	"scribeflow/internal/worker"
)

// Remote is the job service as seen by the orchestrators.
type Remote interface {
	Upload(ctx context.Context, file models.AudioFile, settings models.Settings, onProgress remote.ProgressFunc) (*remote.Creation, error)
	JobStatus(ctx context.Context, jobID string) (*models.Job, error)
	Transcription(ctx context.Context, jobID string) (*models.Transcription, error)
	CreateSummary(ctx context.Context, jobID string, style models.SummaryStyle) (*remote.Creation, error)
	CreateQA(ctx context.Context, jobID string, q remote.QARequest) (*remote.Creation, error)
	Download(ctx context.Context, jobID, format string) (string, error)
	DownloadURL(jobID, format string) string
}

// Options tunes the service. Zero values use the poller defaults.
type Options struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	// Deliverer receives export URLs. Nil leaves delivery to the caller.
	Deliverer Deliverer
}

// Service coordinates the store, the job service and the poll loops.
type Service struct {
	store  *store.Store
	remote Remote
	poller *poller.Poller
	tasks  *worker.Manager
	opts   Options
}

// New wires a service. The store must not be shared with another service.
func New(st *store.Store, rc Remote, opts Options) *Service {
	return &Service{
		store:  st,
		remote: rc,
		poller: poller.New(rc),
		tasks:  worker.NewManager(),
		opts:   opts,
	}
}

// Store exposes the store for read access.
func (s *Service) Store() *store.Store {
	return s.store
}

// poll runs one registered poll loop for jobID on behalf of parentID.
func (s *Service) poll(ctx context.Context, parentID, jobID string, onProgress func(*models.Job)) (*models.Job, error) {
	var ready *models.Job
	err := s.tasks.Run(ctx, parentID, jobID, func(ctx context.Context) error {
		job, err := s.poller.Poll(ctx, jobID, poller.Options{
			Interval:   s.opts.PollInterval,
			Timeout:    s.opts.PollTimeout,
			OnProgress: onProgress,
		})
		ready = job
		return err
	})
	return ready, err
}

// ToggleSelection toggles a segment in the selection set.
func (s *Service) ToggleSelection(segmentID string) bool {
	return s.store.ToggleSegmentSelection(segmentID)
}

// EditSegmentText replaces a segment's text in the current transcription.
func (s *Service) EditSegmentText(segmentID, text string) bool {
	return s.store.EditSegmentText(segmentID, text)
}

// DeleteJob cancels every poll loop started for the job and removes it.
func (s *Service) DeleteJob(jobID string) bool {
	if n := s.tasks.CancelParent(jobID); n > 0 {
		debugLog("orchestrator: delete %s cancelled %d poll loop(s)", jobID, n)
	}
	return s.store.DeleteJob(jobID)
}

// ViewJob makes a job current. For a ready job the transcription is fetched
// again, since derived state is dropped when the current job changes.
func (s *Service) ViewJob(ctx context.Context, jobID string) (bool, error) {
	if !s.store.ViewJob(jobID) {
		return false, nil
	}
	job, ok := s.store.Job(jobID)
	if !ok || job.Status != models.JobReady || s.store.Transcription() != nil {
		return true, nil
	}
	t, err := s.remote.Transcription(ctx, jobID)
	if err != nil {
		return true, fmt.Errorf("restore transcription of %s: %w", jobID, err)
	}
	s.store.SetTranscription(jobID, t)
	return true, nil
}

// CreateProject adds a project and makes it current.
func (s *Service) CreateProject(name string) models.Project {
	return s.store.CreateProject(name)
}

// SwitchProject makes an existing project current.
func (s *Service) SwitchProject(projectID string) bool {
	return s.store.SwitchProject(projectID)
}

// UpdateSettings replaces the settings forwarded with later uploads.
func (s *Service) UpdateSettings(settings models.Settings) {
	s.store.UpdateSettings(settings)
}

// Close cancels all in-flight poll loops. Later workflows fail with
// worker.ErrStopped.
func (s *Service) Close() {
	s.tasks.Stop()
}
