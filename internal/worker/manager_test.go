package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestParentStateOperations(t *testing.T) {
	state := newParentState()
	cancelled := 0
	state.add(&pollTask{jobID: "a", cancel: func() { cancelled++ }})
	state.add(&pollTask{jobID: "b", cancel: func() { cancelled++ }})
	if state.get("a") == nil || state.size() != 2 {
		t.Fatalf("tasks not registered")
	}

	state.remove("a")
	if state.get("a") != nil {
		t.Fatalf("remove did not drop task")
	}

	if n := state.cancelAll(); n != 1 || cancelled != 1 {
		t.Fatalf("cancelAll = %d (cancelled %d), want 1", n, cancelled)
	}
	if state.size() != 0 {
		t.Fatalf("cancelAll did not clear tasks")
	}
}

// blockingRun starts a task that waits for cancellation and reports its error.
func blockingRun(m *Manager, parentID, jobID string) (started <-chan struct{}, done <-chan error) {
	startCh := make(chan struct{})
	doneCh := make(chan error, 1)
	go func() {
		doneCh <- m.Run(context.Background(), parentID, jobID, func(ctx context.Context) error {
			close(startCh)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	return startCh, doneCh
}

func waitStarted(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not start")
	}
}

func waitDone(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not stop")
		return nil
	}
}

func TestRunRegistersTaskWhileRunning(t *testing.T) {
	m := NewManager()
	var seen []string
	err := m.Run(context.Background(), "job-1", "sum-1", func(ctx context.Context) error {
		seen = m.Active("job-1")
		return nil
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(seen) != 1 || seen[0] != "sum-1" {
		t.Fatalf("expected sum-1 registered during run, got %v", seen)
	}
	if m.Len() != 0 || m.Active("job-1") != nil {
		t.Fatalf("task still registered after run")
	}
}

func TestRunReturnsTaskError(t *testing.T) {
	m := NewManager()
	want := errors.New("boom")
	if err := m.Run(context.Background(), "p", "j", func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected task error, got %v", err)
	}
}

func TestCancelParentStopsAllChildren(t *testing.T) {
	m := NewManager()
	startedA, doneA := blockingRun(m, "job-1", "sum-1")
	startedB, doneB := blockingRun(m, "job-1", "qa-1")
	startedC, doneC := blockingRun(m, "job-2", "qa-2")
	waitStarted(t, startedA)
	waitStarted(t, startedB)
	waitStarted(t, startedC)

	if n := m.CancelParent("job-1"); n != 2 {
		t.Fatalf("CancelParent = %d, want 2", n)
	}
	for _, done := range []<-chan error{doneA, doneB} {
		if err := waitDone(t, done); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	}
	if got := m.Active("job-2"); len(got) != 1 || got[0] != "qa-2" {
		t.Fatalf("unrelated parent affected: %v", got)
	}

	if !m.Cancel("job-2", "qa-2") {
		t.Fatalf("expected Cancel to find qa-2")
	}
	if err := waitDone(t, doneC); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.Cancel("job-2", "qa-2") {
		t.Fatalf("expected Cancel of finished task to report false")
	}
}

func TestStopCancelsEverythingAndRejectsNewWork(t *testing.T) {
	m := NewManager()
	var starts []<-chan struct{}
	var dones []<-chan error
	for _, id := range []string{"a", "b", "c"} {
		s, d := blockingRun(m, "p-"+id, id)
		starts = append(starts, s)
		dones = append(dones, d)
	}
	for _, s := range starts {
		waitStarted(t, s)
	}

	m.Stop()
	for _, d := range dones {
		if err := waitDone(t, d); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	}
	err := m.Run(context.Background(), "p", "j", func(context.Context) error { return nil })
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestConcurrentRuns(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Run(context.Background(), "parent", string(rune('a'+i)), func(ctx context.Context) error {
				time.Sleep(time.Millisecond)
				return nil
			})
		}(i)
	}
	wg.Wait()
	if m.Len() != 0 {
		t.Fatalf("expected no running tasks, got %d", m.Len())
	}
}
