package models

import "time"

// JobStatus is the server-side lifecycle state of a job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobReady      JobStatus = "ready"
	JobFailed     JobStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobProcessing, JobReady, JobFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether polling stops at s.
func (s JobStatus) IsTerminal() bool {
	return s == JobReady || s == JobFailed
}

// Job is a unit of asynchronous server-side work.
type Job struct {
	ID          string     `json:"id"`
	AudioFile   AudioFile  `json:"audio_file"`
	Status      JobStatus  `json:"status"`
	Progress    *int       `json:"progress,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Normalize drops fields that do not belong to the job's status: progress only
// while processing, error only when failed, completion time only when terminal.
func (j *Job) Normalize() {
	if j.Status == JobProcessing && j.Progress != nil {
		p := *j.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		j.Progress = &p
	} else {
		j.Progress = nil
	}
	if j.Status != JobFailed {
		j.Error = ""
	}
	if !j.Status.IsTerminal() {
		j.CompletedAt = nil
	}
}

// Clone returns a copy that shares no pointers with j.
func (j Job) Clone() Job {
	if j.Progress != nil {
		p := *j.Progress
		j.Progress = &p
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		j.CompletedAt = &t
	}
	return j
}
