package store

import (
	"github.com/google/uuid"

	"scribeflow/internal/models"
)

// UpsertJob merges a server-shaped job into the history and makes it the
// current job. Existing entries are replaced in place, new ones are
// prepended. Moving the current pointer to another job clears the derived
// state in the same step. Applying the same payload twice is a no-op.
func (s *Store) UpsertJob(payload models.Job) models.Job {
	job := payload.Clone()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	s.mu.Lock()
	idx := s.indexLocked(job.ID)
	var prev *models.Job
	if idx >= 0 {
		prev = &s.jobs[idx]
	}
	s.mergeLocked(&job, prev)
	if idx >= 0 {
		s.jobs[idx] = job
	} else {
		s.jobs = append([]models.Job{job}, s.jobs...)
	}
	switched := s.current != job.ID
	if switched {
		s.clearDerivedLocked()
		s.current = job.ID
	}
	out := job.Clone()
	s.mu.Unlock()

	changes := []Change{{Kind: ChangeJobs, JobID: out.ID}}
	if switched {
		changes = append(changes, Change{Kind: ChangeCurrentJob, JobID: out.ID})
	}
	s.notify(changes...)
	return out
}

// RefreshJob merges payload into an existing entry without moving the
// current pointer. It reports false for unknown jobs.
func (s *Store) RefreshJob(payload models.Job) (models.Job, bool) {
	job := payload.Clone()
	s.mu.Lock()
	idx := s.indexLocked(job.ID)
	if idx < 0 {
		s.mu.Unlock()
		return models.Job{}, false
	}
	s.mergeLocked(&job, &s.jobs[idx])
	s.jobs[idx] = job
	out := job.Clone()
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeJobs, JobID: out.ID})
	return out, true
}

// mergeLocked fills the fields a status payload does not carry from the
// previous entry and enforces the status/field pairing.
func (s *Store) mergeLocked(job *models.Job, prev *models.Job) {
	if prev != nil {
		if job.AudioFile.ID == "" && job.AudioFile.Name == "" {
			job.AudioFile = prev.AudioFile
		}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = prev.CreatedAt
		}
		if job.CompletedAt == nil && prev.CompletedAt != nil && prev.Status == job.Status {
			t := *prev.CompletedAt
			job.CompletedAt = &t
		}
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.Normalize()
	if job.Status.IsTerminal() && job.CompletedAt == nil {
		now := s.now()
		job.CompletedAt = &now
	}
}

// DeleteJob removes a job. Deleting the current job clears the current
// pointer, transcription, summary, chat thread and selection together.
func (s *Store) DeleteJob(id string) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.jobs = append(s.jobs[:idx], s.jobs[idx+1:]...)
	wasCurrent := s.current == id
	if wasCurrent {
		s.current = ""
		s.clearDerivedLocked()
	}
	s.mu.Unlock()

	changes := []Change{{Kind: ChangeJobs, JobID: id}}
	if wasCurrent {
		changes = append(changes, Change{Kind: ChangeCurrentJob})
	}
	s.notify(changes...)
	return true
}

// ViewJob makes an existing job current. Switching to a different job clears
// the derived state of the previous one; viewing the current job is a no-op.
func (s *Store) ViewJob(id string) bool {
	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return false
	}
	if s.current == id {
		s.mu.Unlock()
		return true
	}
	s.current = id
	s.clearDerivedLocked()
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeCurrentJob, JobID: id})
	return true
}

// Jobs returns the job history, newest first.
func (s *Store) Jobs() []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobsLocked()
}

// Job returns a copy of the job with id.
func (s *Store) Job(id string) (models.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return models.Job{}, false
	}
	return s.jobs[idx].Clone(), true
}

// CurrentJob returns a copy of the current job, or nil.
func (s *Store) CurrentJob() *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentJobLocked()
}

// SetTranscription stores t if jobID is still the current job. Late results
// for a job the user moved away from are dropped.
func (s *Store) SetTranscription(jobID string, t *models.Transcription) bool {
	if t == nil {
		return false
	}
	s.mu.Lock()
	if s.current != jobID {
		s.mu.Unlock()
		return false
	}
	s.transcription = t.Clone()
	s.transcription.Rebuild()
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeTranscription, JobID: jobID})
	return true
}

// SetSummary stores sum if jobID is still the current job.
func (s *Store) SetSummary(jobID string, sum *models.Summary) bool {
	if sum == nil {
		return false
	}
	s.mu.Lock()
	if s.current != jobID {
		s.mu.Unlock()
		return false
	}
	s.summary = sum.Clone()
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeSummary, JobID: jobID})
	return true
}

// AppendMessage appends m to the chat thread if jobID is still the current
// job. Missing ids and timestamps are filled in.
func (s *Store) AppendMessage(jobID string, m models.ChatMessage) (models.ChatMessage, bool) {
	m = m.Clone()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	s.mu.Lock()
	if s.current != jobID {
		s.mu.Unlock()
		return m, false
	}
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, JobID: jobID})
	return m.Clone(), true
}

func (s *Store) indexLocked(id string) int {
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) jobsLocked() []models.Job {
	out := make([]models.Job, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = j.Clone()
	}
	return out
}

func (s *Store) currentJobLocked() *models.Job {
	idx := s.indexLocked(s.current)
	if idx < 0 {
		return nil
	}
	j := s.jobs[idx].Clone()
	return &j
}
