package run

import (
	"sort"
	"sync"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// Registry is the in-memory run_hash → record mapping plus the per-run
// event buffers. Buffers share the record's lifetime; a process restart
// resets them.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	buffers map[string]*EventBuffer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: map[string]*Record{},
		buffers: map[string]*EventBuffer{},
	}
}

// Get returns the record for a run hash.
func (r *Registry) Get(runHash string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[runHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// Has reports whether a record exists.
func (r *Registry) Has(runHash string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[runHash]
	return ok
}

// Set stores a record.
func (r *Registry) Set(rec *Record) {
	r.mu.Lock()
	r.records[rec.RunHash] = rec
	r.mu.Unlock()
}

// Delete removes a record and its event buffer.
func (r *Registry) Delete(runHash string) {
	r.mu.Lock()
	delete(r.records, runHash)
	delete(r.buffers, runHash)
	r.mu.Unlock()
}

// List returns all records ordered newest first.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].RunHash < out[j].RunHash
	})
	return out
}

// Buffer returns the run's event buffer, creating it on first use.
func (r *Registry) Buffer(runHash string) *EventBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[runHash]
	if !ok {
		buf = NewEventBuffer(DefaultEventCapacity)
		r.buffers[runHash] = buf
	}
	return buf
}
