// Package registry holds the in-memory source of truth for runtime
// task state: at most one live entry per task id, with per-id
// serialization so a Stop racing a concurrent Start can't leak a
// zombie entry.
package registry

import (
	"sync"
	"time"

	"github.com/taskyard/overseer/internal/launcher"
	"github.com/taskyard/overseer/internal/logbuf"
)

// Status is the derived runtime status of a live entry.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// LiveEntry is the in-memory record for a task currently or recently
// spawned: child handle, command actually used, timestamps, last exit
// info, and its log buffers.
type LiveEntry struct {
	TaskID           string
	Handle           *launcher.Handle
	Command          string
	WorkingDirectory string
	Environment      map[string]string
	StartedAt        time.Time
	Buffers          *logbuf.Buffers

	mu         sync.Mutex
	status     Status
	exitCode   int
	exitSignal string
}

func newLiveEntry(taskID, command, workingDirectory string, env map[string]string, h *launcher.Handle, buf *logbuf.Buffers) *LiveEntry {
	return &LiveEntry{
		TaskID:           taskID,
		Handle:           h,
		Command:          command,
		WorkingDirectory: workingDirectory,
		Environment:      env,
		StartedAt:        h.StartedAt,
		Buffers:          buf,
		status:           StatusRunning,
	}
}

// MarkStopped records the entry's terminal state. Idempotent.
func (e *LiveEntry) MarkStopped(exitCode int, exitSignal string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = StatusStopped
	e.exitCode = exitCode
	e.exitSignal = exitSignal
}

// Snapshot returns the entry's current status, exit code and signal.
func (e *LiveEntry) Snapshot() (status Status, exitCode int, exitSignal string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.exitCode, e.exitSignal
}

// IsRunning reports whether the entry is still believed running and,
// if so, the child's pid.
func (e *LiveEntry) IsRunning() (bool, int) {
	e.mu.Lock()
	status := e.status
	e.mu.Unlock()
	if status != StatusRunning {
		return false, 0
	}
	return true, e.Handle.PID
}

// Registry is a thread-safe map from task id to its live entry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*LiveEntry
	idLocks sync.Map // map[string]*sync.Mutex, per-task start/stop/restart guard
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*LiveEntry)}
}

// Lock acquires the per-id serialization mutex for id, returning an
// unlock function. Every Start/Stop/Restart call for a given id must
// hold this lock for its full duration.
func (r *Registry) Lock(id string) func() {
	v, _ := r.idLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Get returns the live entry for id, if any.
func (r *Registry) Get(id string) (*LiveEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Put installs a new live entry for id, replacing any previous one.
// Callers are responsible for having already terminated the previous
// entry's child before calling Put; replacement is atomic under the id
// lock, so at most one entry per id is ever visible.
func (r *Registry) Put(id, command, workingDirectory string, env map[string]string, h *launcher.Handle, buf *logbuf.Buffers) *LiveEntry {
	e := newLiveEntry(id, command, workingDirectory, env, h, buf)
	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()
	return e
}

// Delete removes id's live entry entirely.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// IsRunning reports whether id currently has a running live entry.
func (r *Registry) IsRunning(id string) (bool, int) {
	e, ok := r.Get(id)
	if !ok {
		return false, 0
	}
	return e.IsRunning()
}

// All returns a snapshot slice of every tracked live entry, used by
// shutdown to tree-terminate everything still running.
func (r *Registry) All() []*LiveEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*LiveEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
