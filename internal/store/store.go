// Package store is the single owner of the local view: projects, the job
// history, the current job and everything derived from it.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"scribeflow/internal/models"
)

// ChangeKind names the part of the store a mutation touched.
type ChangeKind string

const (
	ChangeJobs          ChangeKind = "jobs"
	ChangeCurrentJob    ChangeKind = "current_job"
	ChangeDerived       ChangeKind = "derived"
	ChangeTranscription ChangeKind = "transcription"
	ChangeSummary       ChangeKind = "summary"
	ChangeMessages      ChangeKind = "messages"
	ChangeSelection     ChangeKind = "selection"
	ChangeProjects      ChangeKind = "projects"
	ChangeSettings      ChangeKind = "settings"
)

// Change is delivered to observers after a mutation has been applied.
type Change struct {
	Kind  ChangeKind `json:"kind"`
	JobID string     `json:"job_id,omitempty"`
}

// Snapshot is a deep copy of the whole store.
type Snapshot struct {
	Projects       []models.Project      `json:"projects"`
	CurrentProject models.Project        `json:"current_project"`
	Jobs           []models.Job          `json:"jobs"`
	CurrentJob     *models.Job           `json:"current_job"`
	Transcription  *models.Transcription `json:"transcription"`
	Summary        *models.Summary       `json:"summary"`
	Messages       []models.ChatMessage  `json:"messages"`
	Selection      []string              `json:"selection"`
	Settings       models.Settings       `json:"settings"`
}

// Store holds the entity collections. Every method is safe for concurrent
// use; readers get copies and never alias internal state.
type Store struct {
	mu sync.Mutex

	projects       []models.Project
	currentProject string

	jobs          []models.Job
	current       string
	transcription *models.Transcription
	summary       *models.Summary
	messages      []models.ChatMessage
	selection     []string

	settings models.Settings

	observers []func(Change)
	now       func() time.Time
}

// New creates a store with one default project.
func New(settings models.Settings) *Store {
	s := &Store{settings: settings, now: time.Now}
	first := s.newProject("My First Project")
	s.projects = []models.Project{first}
	s.currentProject = first.ID
	return s
}

// OnChange registers an observer. Observers run on the mutating goroutine,
// after the store lock has been released.
func (s *Store) OnChange(fn func(Change)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Store) notify(changes ...Change) {
	s.mu.Lock()
	observers := append([]func(Change){}, s.observers...)
	s.mu.Unlock()
	for _, c := range changes {
		for _, fn := range observers {
			fn(c)
		}
	}
}

// clearDerivedLocked drops everything that belongs to the current job.
func (s *Store) clearDerivedLocked() {
	s.transcription = nil
	s.summary = nil
	s.messages = nil
	s.selection = nil
}

// ResetDerived clears transcription, summary, chat thread and selection
// without touching the job collection.
func (s *Store) ResetDerived() {
	s.mu.Lock()
	s.clearDerivedLocked()
	jobID := s.current
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeDerived, JobID: jobID})
}

// Snapshot returns a deep copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Projects:      append([]models.Project{}, s.projects...),
		Jobs:          s.jobsLocked(),
		CurrentJob:    s.currentJobLocked(),
		Transcription: s.transcription.Clone(),
		Summary:       s.summary.Clone(),
		Messages:      s.messagesLocked(),
		Selection:     append([]string{}, s.selection...),
		Settings:      s.settings,
	}
	if p, ok := s.projectLocked(s.currentProject); ok {
		snap.CurrentProject = p
	}
	return snap
}

// Transcription returns a copy of the current transcription, or nil.
func (s *Store) Transcription() *models.Transcription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcription.Clone()
}

// Summary returns a copy of the current summary, or nil.
func (s *Store) Summary() *models.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary.Clone()
}

// Messages returns the chat thread in append order.
func (s *Store) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesLocked()
}

func (s *Store) messagesLocked() []models.ChatMessage {
	out := make([]models.ChatMessage, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Settings returns the active transcription settings.
func (s *Store) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings replaces the transcription settings used by later uploads.
func (s *Store) UpdateSettings(settings models.Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeSettings})
}

// Projects returns all projects in creation order.
func (s *Store) Projects() []models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Project{}, s.projects...)
}

// CurrentProject returns the active project.
func (s *Store) CurrentProject() models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, _ := s.projectLocked(s.currentProject)
	return p
}

// CreateProject appends a project and makes it current. An empty name becomes
// "Project N".
func (s *Store) CreateProject(name string) models.Project {
	s.mu.Lock()
	if name == "" {
		name = fmt.Sprintf("Project %d", len(s.projects)+1)
	}
	p := s.newProject(name)
	s.projects = append(s.projects, p)
	s.currentProject = p.ID
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeProjects})
	return p
}

// SwitchProject makes an existing project current. Jobs are not scoped to
// projects, so nothing else changes.
func (s *Store) SwitchProject(id string) bool {
	s.mu.Lock()
	if _, ok := s.projectLocked(id); !ok {
		s.mu.Unlock()
		return false
	}
	s.currentProject = id
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeProjects})
	return true
}

func (s *Store) newProject(name string) models.Project {
	now := s.now()
	return models.Project{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
}

func (s *Store) projectLocked(id string) (models.Project, bool) {
	for _, p := range s.projects {
		if p.ID == id {
			return p, true
		}
	}
	return models.Project{}, false
}
