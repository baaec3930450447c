package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"scribeflow/internal/audio"
	"scribeflow/internal/models"
	"scribeflow/internal/worker"
)

// UploadHooks observes a running upload. Either field may be nil.
type UploadHooks struct {
	// Progress sees 0 first and then strictly increasing values up to 100.
	Progress func(int)
	// Job sees the stored state of the uploaded job each time it changes.
	Job func(models.Job)
}

// Upload validates file, sends it for transcription, waits for the job and
// stores its transcription. See UploadWithHooks.
func (s *Service) Upload(ctx context.Context, file models.AudioFile, onProgress func(int)) (*models.Job, error) {
	return s.UploadWithHooks(ctx, file, UploadHooks{Progress: onProgress})
}

// UploadWithHooks is Upload reporting to hooks. A poll or transcription
// failure marks the job failed in the store and is returned. When ctx ends
// or the job is deleted the job is left as last seen.
func (s *Service) UploadWithHooks(ctx context.Context, file models.AudioFile, hooks UploadHooks) (*models.Job, error) {
	if err := audio.Validate(file); err != nil {
		return nil, err
	}

	s.store.ResetDerived()
	progress := monotonic(hooks.Progress)
	progress(0)
	observe := func(j models.Job, ok bool) {
		if ok && hooks.Job != nil {
			hooks.Job(j)
		}
	}

	created, err := s.remote.Upload(ctx, file, s.store.Settings(), progress)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", file.Name, err)
	}
	payload := *created.Job
	if payload.AudioFile.ID == "" && payload.AudioFile.Name == "" {
		payload.AudioFile = file
	}
	job := s.store.UpsertJob(payload)
	observe(job, true)
	debugLog("orchestrator: uploaded %s as job %s", file.Name, job.ID)

	ready, err := s.poll(ctx, job.ID, job.ID, func(p *models.Job) {
		observe(s.store.RefreshJob(*p))
	})
	if err != nil {
		if abandoned(ctx, err) {
			return nil, err
		}
		observe(s.failJob(job, err))
		return nil, err
	}
	observe(s.store.RefreshJob(*ready))

	t, err := s.remote.Transcription(ctx, job.ID)
	if err != nil {
		if abandoned(ctx, err) {
			return nil, err
		}
		observe(s.failJob(job, err))
		return nil, err
	}
	s.store.SetTranscription(job.ID, t)

	out, ok := s.store.Job(job.ID)
	if !ok {
		// deleted while the transcription was in flight
		return &job, nil
	}
	return &out, nil
}

// failJob records err on the job if it is still known.
func (s *Service) failJob(job models.Job, err error) (models.Job, bool) {
	log.Printf("transcription job %s failed: %v", job.ID, err)
	job.Status = models.JobFailed
	job.Error = err.Error()
	job.Progress = nil
	job.CompletedAt = nil
	return s.store.RefreshJob(job)
}

// abandoned reports whether err came from the caller or a delete ending the
// wait rather than from the job itself.
func abandoned(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, worker.ErrStopped)
}

// monotonic filters fn so it only sees increasing values within [0, 100].
func monotonic(fn func(int)) func(int) {
	if fn == nil {
		return func(int) {}
	}
	var (
		mu   sync.Mutex
		last = -1
	)
	return func(p int) {
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		mu.Lock()
		if p <= last {
			mu.Unlock()
			return
		}
		last = p
		mu.Unlock()
		fn(p)
	}
}
