// Package worker keeps track of in-flight poll loops so they can be cancelled
// when the job they serve goes away.
package worker

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
)

// ErrStopped is returned by Run once the manager has been stopped.
var ErrStopped = errors.New("worker manager stopped")

// Manager registers poll loops by job id, grouped under the parent job that
// caused them (a transcription job for its summary and Q&A jobs).
type Manager struct {
	mu      sync.Mutex
	parents map[string]*parentState
	stopped bool
}

func NewManager() *Manager {
	return &Manager{parents: make(map[string]*parentState)}
}

// Run executes fn with a context that is cancelled when ctx is done, when the
// parent or the job is cancelled, or when the manager stops. The task is
// registered for the duration of fn.
func (m *Manager) Run(ctx context.Context, parentID, jobID string, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	state, err := m.register(parentID, &pollTask{jobID: jobID, cancel: cancel})
	if err != nil {
		return err
	}
	debugLog("worker: start poll %s (parent %s)", jobID, parentID)
	defer func() {
		m.release(parentID, state, jobID)
		debugLog("worker: finish poll %s (parent %s)", jobID, parentID)
	}()
	return fn(taskCtx)
}

// Cancel stops the poll loop of jobID under parentID.
func (m *Manager) Cancel(parentID, jobID string) bool {
	state := m.getParent(parentID)
	if state == nil {
		return false
	}
	task := state.get(jobID)
	if task == nil {
		return false
	}
	task.cancel()
	return true
}

// CancelParent stops every poll loop started for parentID and reports how
// many were running.
func (m *Manager) CancelParent(parentID string) int {
	m.mu.Lock()
	state, ok := m.parents[parentID]
	delete(m.parents, parentID)
	m.mu.Unlock()
	if !ok {
		return 0
	}
	n := state.cancelAll()
	if n > 0 {
		log.Printf("worker: cancelled %d poll loop(s) for job %s", n, parentID)
	}
	return n
}

// Active returns the job ids currently polled for parentID, sorted.
func (m *Manager) Active(parentID string) []string {
	state := m.getParent(parentID)
	if state == nil {
		return nil
	}
	ids := state.jobIDs()
	sort.Strings(ids)
	return ids
}

// Len returns the number of running poll loops.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.parents {
		n += s.size()
	}
	return n
}

// Stop cancels everything and rejects new work.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	parents := m.parents
	m.parents = make(map[string]*parentState)
	m.mu.Unlock()
	for _, state := range parents {
		state.cancelAll()
	}
}

func (m *Manager) register(parentID string, task *pollTask) (*parentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, ErrStopped
	}
	state, ok := m.parents[parentID]
	if !ok {
		state = newParentState()
		m.parents[parentID] = state
	}
	state.add(task)
	return state, nil
}

func (m *Manager) getParent(parentID string) *parentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.parents[parentID]
}

// release unregisters a finished task and forgets its parent once idle.
func (m *Manager) release(parentID string, state *parentState, jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state.remove(jobID)
	if cur, ok := m.parents[parentID]; ok && cur == state && state.size() == 0 {
		delete(m.parents, parentID)
	}
}
