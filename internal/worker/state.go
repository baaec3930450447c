package worker

import (
	"context"
	"sync"
)

type pollTask struct {
	jobID  string
	cancel context.CancelFunc
}

// parentState tracks the poll loops started on behalf of one parent job.
type parentState struct {
	mu    sync.RWMutex
	tasks map[string]*pollTask
}

func newParentState() *parentState {
	return &parentState{tasks: make(map[string]*pollTask)}
}

func (s *parentState) add(task *pollTask) {
	if task == nil {
		return
	}
	s.mu.Lock()
	s.tasks[task.jobID] = task
	s.mu.Unlock()
}

func (s *parentState) remove(jobID string) {
	s.mu.Lock()
	delete(s.tasks, jobID)
	s.mu.Unlock()
}

func (s *parentState) get(jobID string) *pollTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[jobID]
}

func (s *parentState) jobIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}

func (s *parentState) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// cancelAll cancels every task and empties the state.
func (s *parentState) cancelAll() int {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[string]*pollTask)
	s.mu.Unlock()
	for _, t := range tasks {
		t.cancel()
	}
	return len(tasks)
}
