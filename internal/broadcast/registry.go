package broadcast

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Run is the live state of one full dispatch. Only the dispatch loop mutates it.
type Run struct {
	mu        sync.RWMutex
	id        string
	operator  int64
	status    Status
	stats     Stats
	startedAt time.Time
	doneAt    time.Time
}

// RunSnapshot is a point-in-time copy of a Run.
type RunSnapshot struct {
	ID        string    `json:"id"`
	Operator  int64     `json:"operator"`
	Status    Status    `json:"status"`
	Stats     Stats     `json:"stats"`
	StartedAt time.Time `json:"started_at"`
	DoneAt    time.Time `json:"done_at,omitempty"`
}

func (r *Run) ID() string { return r.id }

func (r *Run) update(fn func(s *Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func (r *Run) snapshot() RunSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RunSnapshot{
		ID:        r.id,
		Operator:  r.operator,
		Status:    r.status,
		Stats:     r.stats.clone(),
		StartedAt: r.startedAt,
		DoneAt:    r.doneAt,
	}
}

// Registry maps run ids to runs. Completed runs are pruned by age and count;
// running ones are never evicted.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Run
	max  int
	ttl  time.Duration
	now  func() time.Time
}

func NewRegistry(max int, ttl time.Duration) *Registry {
	if max <= 0 {
		max = defaultRegistryMax
	}
	if ttl <= 0 {
		ttl = defaultRegistryTTL
	}
	return &Registry{runs: map[string]*Run{}, max: max, ttl: ttl, now: time.Now}
}

// SetLimits changes the eviction bounds; zero values keep the current ones.
func (r *Registry) SetLimits(max int, ttl time.Duration) {
	r.mu.Lock()
	if max > 0 {
		r.max = max
	}
	if ttl > 0 {
		r.ttl = ttl
	}
	r.mu.Unlock()
}

// Register creates a Running entry with zeroed stats. The id is
// "<operator>_<unix seconds>", suffixed "-N" if that id is taken.
func (r *Registry) Register(operator int64, total int) *Run {
	now := r.now()
	r.Prune()

	r.mu.Lock()
	defer r.mu.Unlock()
	base := fmt.Sprintf("%d_%d", operator, now.Unix())
	id := base
	for n := 2; r.runs[id] != nil; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	run := &Run{
		id:        id,
		operator:  operator,
		status:    StatusRunning,
		stats:     Stats{Total: total},
		startedAt: now,
	}
	r.runs[id] = run
	return run
}

// Complete marks the run finished. Calling it again is a no-op.
func (r *Registry) Complete(id string) {
	r.mu.RLock()
	run := r.runs[id]
	r.mu.RUnlock()
	if run == nil {
		return
	}
	run.mu.Lock()
	if run.status != StatusCompleted {
		run.status = StatusCompleted
		run.doneAt = r.now()
	}
	run.mu.Unlock()
}

// Get returns a copy of the run. Unknown ids report false.
func (r *Registry) Get(id string) (RunSnapshot, bool) {
	r.mu.RLock()
	run := r.runs[id]
	r.mu.RUnlock()
	if run == nil {
		return RunSnapshot{}, false
	}
	return run.snapshot(), true
}

// List returns all runs, newest first.
func (r *Registry) List() []RunSnapshot {
	r.mu.RLock()
	out := make([]RunSnapshot, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run.snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

// Prune drops completed runs older than the TTL, then the oldest completed
// runs until the registry fits its max size. It returns how many were removed.
func (r *Registry) Prune() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	type kv struct {
		id string
		t  time.Time
	}
	removed := 0
	done := make([]kv, 0, len(r.runs))
	for id, run := range r.runs {
		run.mu.RLock()
		status, doneAt := run.status, run.doneAt
		run.mu.RUnlock()
		if status != StatusCompleted {
			continue
		}
		if now.Sub(doneAt) > r.ttl {
			delete(r.runs, id)
			removed++
			continue
		}
		done = append(done, kv{id: id, t: doneAt})
	}

	excess := len(r.runs) - r.max
	if excess <= 0 {
		return removed
	}
	sort.Slice(done, func(i, j int) bool { return done[i].t.Before(done[j].t) })
	for i := 0; i < excess && i < len(done); i++ {
		delete(r.runs, done[i].id)
		removed++
	}
	return removed
}
