package task

import (
	"context"
	"sync"
)

// execution is the in-memory handle of one background run.
type execution struct {
	token  string
	cancel context.CancelFunc
	done   chan struct{}
}

func newExecution(token string, cancel context.CancelFunc) *execution {
	return &execution{token: token, cancel: cancel, done: make(chan struct{})}
}

// finished reports whether the execution goroutine has returned.
func (e *execution) finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// registry is the task table: token -> running execution.
type registry struct {
	mu     sync.Mutex
	tasks  map[string]*execution
	closed bool
}

func newRegistry() *registry {
	return &registry{tasks: make(map[string]*execution)}
}

// add registers exec under its token. It returns false once the registry is
// closed. A previous handle for the same token is detached and returned so
// the caller can cancel it.
func (r *registry) add(exec *execution) (prev *execution, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	prev = r.tasks[exec.token]
	r.tasks[exec.token] = exec
	return prev, true
}

// take removes and returns the handle for token, or nil.
func (r *registry) take(token string) *execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec := r.tasks[token]
	delete(r.tasks, token)
	return exec
}

// release removes exec only if the table still maps its token to it.
func (r *registry) release(exec *execution) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks[exec.token] != exec {
		return false
	}
	delete(r.tasks, exec.token)
	return true
}

// reap removes every handle whose execution has finished.
func (r *registry) reap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for token, exec := range r.tasks {
		if exec.finished() {
			delete(r.tasks, token)
			n++
		}
	}
	return n
}

// close marks the registry closed and returns every handle it held.
func (r *registry) close() []*execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	out := make([]*execution, 0, len(r.tasks))
	for _, exec := range r.tasks {
		out = append(out, exec)
	}
	clear(r.tasks)
	return out
}

func (r *registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
