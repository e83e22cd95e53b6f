package orchestrator

import (
	"context"
	"sync"
)

// inflightRegistry tracks jobs currently running, keyed by the canonical
// (kind, input ref) dedup key. Reserve is an atomic check-and-insert: exactly
// one caller wins the key. The winner publishes the job ID only after the job
// is persisted, so coalescers never observe an ID that does not exist in
// storage.
type inflightRegistry struct {
	mu      sync.Mutex
	entries map[string]*inflightEntry
}

type inflightEntry struct {
	jobID string
	err   error
	ready chan struct{} // closed when the winner publishes an ID or an error
	done  chan struct{} // closed when the key is released
}

func newInflightRegistry() *inflightRegistry {
	return &inflightRegistry{
		entries: make(map[string]*inflightEntry),
	}
}

// reserve claims the key. If another caller already holds it, the existing
// entry is returned with inserted=false; await it for the winner's outcome.
func (r *inflightRegistry) reserve(key string) (entry *inflightEntry, inserted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[key]; ok {
		return existing, false
	}

	entry = &inflightEntry{
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	r.entries[key] = entry
	return entry, true
}

// release removes the key and signals waiters that the job reached a
// terminal state.
func (r *inflightRegistry) release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[key]; ok {
		close(entry.done)
		delete(r.entries, key)
	}
}

// size returns the number of in-flight keys
func (r *inflightRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// publish makes the persisted job ID visible to waiters
func (e *inflightEntry) publish(jobID string) {
	e.jobID = jobID
	close(e.ready)
}

// fail tells waiters the winner aborted before a job existed; they contend
// for the key again.
func (e *inflightEntry) fail(err error) {
	e.err = err
	close(e.ready)
}

// await blocks until the winner publishes. Returns the published job ID, the
// winner's error, or the context error.
func (e *inflightEntry) await(ctx context.Context) (string, error) {
	select {
	case <-e.ready:
		return e.jobID, e.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
