package api

import (
	"fmt"
	"sync"

	"github.com/VladislavFirsov/longrun/contracts"
)

// tracker guards in-flight body executions so a run never has two
// concurrent entries from this server. Durable state lives in the effect
// store; the tracker only serializes access to it per run.
type tracker struct {
	mu     sync.Mutex
	active map[contracts.RunID]*execution
	wg     sync.WaitGroup
}

// execution is one in-flight Start or Resume.
type execution struct {
	done chan struct{}
	err  error
}

func newTracker() *tracker {
	return &tracker{active: make(map[contracts.RunID]*execution)}
}

// launch runs fn in a goroutine if the run is idle. Returns an error when
// an execution for the run is already in flight.
func (t *tracker) launch(runID contracts.RunID, fn func() error) error {
	t.mu.Lock()
	if _, busy := t.active[runID]; busy {
		t.mu.Unlock()
		return fmt.Errorf("run %s is already executing: %w", runID, contracts.ErrRunExists)
	}
	exec := &execution{done: make(chan struct{})}
	t.active[runID] = exec
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		exec.err = fn()
		close(exec.done)

		t.mu.Lock()
		delete(t.active, runID)
		t.mu.Unlock()
	}()
	return nil
}

// wait blocks until the run's in-flight execution (if any) finishes and
// returns its error.
func (t *tracker) wait(runID contracts.RunID) error {
	t.mu.Lock()
	exec, busy := t.active[runID]
	t.mu.Unlock()
	if !busy {
		return nil
	}
	<-exec.done
	return exec.err
}

// drain blocks until every in-flight execution finishes.
func (t *tracker) drain() {
	t.wg.Wait()
}
