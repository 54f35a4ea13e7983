package orchestrator

import (
	"sync"

	"github.com/calebsch/vqhub/pkg/models"
)

// Registry is the process-local table of active jobs. It is authoritative
// until the process restarts; afterwards jobs are rehydrated from persisted
// metadata. All methods are safe for concurrent use, and every mutation of an
// entry goes through Update so read-modify-write cycles are atomic with
// respect to the poll loops and the request path.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*models.Job)}
}

// Get returns a copy of the job, so callers never hold a reference into the
// shared table.
func (r *Registry) Get(id string) (models.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return *job, true
}

// Put inserts or replaces the entry for the job's ID.
func (r *Registry) Put(job models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = &job
}

// Update applies fn to the entry under the lock and returns the resulting
// copy. Returns false when the job is not registered (e.g. deleted while its
// poll loop was sleeping).
func (r *Registry) Update(id string, fn func(*models.Job)) (models.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	fn(job)
	return *job, true
}

// Remove deletes the entry. Removing an unknown ID is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
