package presence

import (
	"sync"
	"time"
)

// Entry is one player's current known position and liveness timestamp.
type Entry struct {
	Username   string
	PosX       int
	PosY       int
	LastUpdate time.Time
}

// Registry is the authoritative roster of who is online and where. All
// methods are safe for concurrent use; a single mutex guards the container
// so snapshots never observe a partially written entry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string // usernames in insertion order

	// TTL evicts entries whose LastUpdate is older than this, checked
	// lazily on Snapshot and by the sweeper. Zero keeps entries until an
	// explicit Remove, the legacy behavior.
	ttl time.Duration

	now func() time.Time // test hook
}

// NewRegistry creates an empty roster. A ttl of zero disables liveness
// eviction.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Upsert records a player's position, inserting the entry on first sight and
// overwriting it in place afterwards. Find-or-insert is atomic: concurrent
// upserts for the same username serialize, last writer wins.
func (r *Registry) Upsert(username string, x, y int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[username]; ok {
		e.PosX = x
		e.PosY = y
		e.LastUpdate = r.now()
		return
	}
	r.entries[username] = &Entry{
		Username:   username,
		PosX:       x,
		PosY:       y,
		LastUpdate: r.now(),
	}
	r.order = append(r.order, username)
}

// Remove drops a player from the roster. Removing an absent username is a
// no-op. An Upsert racing a Remove may re-insert the entry; without a
// per-session sequence token the last write simply wins.
func (r *Registry) Remove(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(username)
}

func (r *Registry) removeLocked(username string) {
	if _, ok := r.entries[username]; !ok {
		return
	}
	delete(r.entries, username)
	for i, u := range r.order {
		if u == username {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns a point-in-time copy of the roster in insertion order,
// evicting expired entries first when a TTL is set.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	out := make([]Entry, 0, len(r.order))
	for _, u := range r.order {
		if e, ok := r.entries[u]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Count returns the current roster size without copying it.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	return len(r.entries)
}

// Sweep evicts expired entries immediately and returns how many were
// removed. No-op when TTL is zero.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictLocked()
}

func (r *Registry) evictLocked() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)
	var expired []string
	for u, e := range r.entries {
		if e.LastUpdate.Before(cutoff) {
			expired = append(expired, u)
		}
	}
	for _, u := range expired {
		r.removeLocked(u)
	}
	return len(expired)
}

// StartSweeper runs Sweep on a fixed interval until the returned stop
// function is called. Eviction is also lazy on Snapshot, so the sweeper is
// only needed to bound memory while nobody is polling the roster.
func (r *Registry) StartSweeper(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
