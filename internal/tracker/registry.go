package tracker

import (
	"sort"
	"sync"

	"github.com/rezonia/facturx-gateway/internal/model"
)

// Registry hands out one Tracker per invoice id. Transitions on the same id
// serialize on that tracker's lock; different ids never contend.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
	opts     []TrackerOption
}

// NewRegistry creates an empty registry. Options apply to every tracker it creates.
func NewRegistry(opts ...TrackerOption) *Registry {
	return &Registry{
		trackers: make(map[string]*Tracker),
		opts:     opts,
	}
}

// Get returns the tracker for id
func (r *Registry) Get(id string) (*Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trackers[id]
	return t, ok
}

// GetOrCreate returns the tracker for id, creating a draft one if needed.
// The boolean is true when the tracker was created by this call.
func (r *Registry) GetOrCreate(id string) (*Tracker, bool) {
	if t, ok := r.Get(id); ok {
		return t, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trackers[id]; ok {
		return t, false
	}
	t := New(id, r.opts...)
	r.trackers[id] = t
	return t, true
}

// Restore registers a tracker rebuilt from a persisted record, replacing any existing one
func (r *Registry) Restore(data model.InvoiceTrackingData) *Tracker {
	t := Restore(data, r.opts...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers[data.ID] = t
	return t
}

// IDs returns the registered invoice ids in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.trackers))
	for id := range r.trackers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered trackers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trackers)
}
