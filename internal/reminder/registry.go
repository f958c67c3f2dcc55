package reminder

import (
	"sync"
	"time"
)

type armed struct {
	timer *time.Timer
	gen   uint64
	owner int64
	due   time.Time
}

// Registry maps reminder ids to live timers. Each arm gets a fresh
// generation; a firing whose generation no longer matches is stale.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]armed
	gen     uint64
}

func NewRegistry() *Registry {
	return &Registry{entries: map[int64]armed{}}
}

// arm replaces any timer for id. fire runs on the timer goroutine with the
// new generation; it must not call back into the registry synchronously.
func (r *Registry) arm(id, owner int64, due time.Time, delay time.Duration, fire func(gen uint64)) (gen uint64, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[id]; ok {
		old.timer.Stop()
		replaced = true
	}
	r.gen++
	gen = r.gen
	r.entries[id] = armed{
		timer: time.AfterFunc(delay, func() { fire(gen) }),
		gen:   gen,
		owner: owner,
		due:   due,
	}
	return gen, replaced
}

// remove stops and forgets the timer for id.
func (r *Registry) remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(r.entries, id)
	return true
}

// claim removes the entry for id if it is still at generation gen.
func (r *Registry) claim(id int64, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.gen != gen {
		return false
	}
	delete(r.entries, id)
	return true
}

func (r *Registry) stopAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	for id, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, id)
	}
	return n
}

func (r *Registry) Has(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Next returns the earliest armed due time, or false when nothing is armed.
func (r *Registry) Next() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var next time.Time
	for _, e := range r.entries {
		if next.IsZero() || e.due.Before(next) {
			next = e.due
		}
	}
	return next, !next.IsZero()
}
