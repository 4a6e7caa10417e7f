package broadcast

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClockedRegistry(max int, ttl time.Duration) (*Registry, *manualClock) {
	clk := &manualClock{now: time.Unix(1_700_000_000, 0)}
	r := NewRegistry(max, ttl)
	r.now = clk.Now
	return r, clk
}

func TestRegistry_RegisterIDs(t *testing.T) {
	t.Parallel()

	r, _ := newClockedRegistry(10, time.Hour)
	a := r.Register(42, 3)
	b := r.Register(42, 3)
	c := r.Register(42, 3)

	assert.Equal(t, "42_1700000000", a.ID())
	assert.Equal(t, "42_1700000000-2", b.ID())
	assert.Equal(t, "42_1700000000-3", c.ID())

	snap, ok := r.Get(a.ID())
	require.True(t, ok)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, Stats{Total: 3}, snap.Stats)
	assert.Equal(t, int64(42), snap.Operator)
}

func TestRegistry_CompleteIsIdempotent(t *testing.T) {
	t.Parallel()

	r, clk := newClockedRegistry(10, time.Hour)
	run := r.Register(1, 0)
	r.Complete(run.ID())
	first, _ := r.Get(run.ID())

	clk.Advance(time.Minute)
	r.Complete(run.ID())
	second, _ := r.Get(run.ID())

	assert.Equal(t, StatusCompleted, second.Status)
	assert.Equal(t, first.DoneAt, second.DoneAt)

	r.Complete("unknown")
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	r, _ := newClockedRegistry(10, time.Hour)
	run := r.Register(1, 1)
	run.update(func(s *Stats) { s.addError("User 1: x", 10) })

	snap, _ := r.Get(run.ID())
	snap.Stats.Errors[0] = "mutated"

	again, _ := r.Get(run.ID())
	assert.Equal(t, "User 1: x", again.Stats.Errors[0])
}

func TestRegistry_PruneByTTL(t *testing.T) {
	t.Parallel()

	r, clk := newClockedRegistry(10, time.Hour)
	done := r.Register(1, 0)
	r.Complete(done.ID())
	running := r.Register(2, 0)

	clk.Advance(2 * time.Hour)
	assert.Equal(t, 1, r.Prune())

	_, ok := r.Get(done.ID())
	assert.False(t, ok)
	_, ok = r.Get(running.ID())
	assert.True(t, ok, "running runs are never evicted")
}

func TestRegistry_PruneByMax(t *testing.T) {
	t.Parallel()

	r, clk := newClockedRegistry(3, 24*time.Hour)
	var ids []string
	for i := 0; i < 4; i++ {
		run := r.Register(int64(i), 0)
		clk.Advance(time.Second)
		r.Complete(run.ID())
		ids = append(ids, run.ID())
	}
	live := r.Register(99, 0)
	// Register pruned before inserting: 4 completed against max 3.
	assert.Equal(t, 4, r.Len())

	r.Prune()
	assert.Equal(t, 3, r.Len())
	for _, id := range ids[:2] {
		_, ok := r.Get(id)
		assert.False(t, ok, fmt.Sprintf("%s should be evicted", id))
	}
	_, ok := r.Get(live.ID())
	assert.True(t, ok)
}

func TestRegistry_RunningOverMax(t *testing.T) {
	t.Parallel()

	r, _ := newClockedRegistry(1, time.Hour)
	a := r.Register(1, 0)
	b := r.Register(2, 0)
	r.Prune()
	assert.Equal(t, 2, r.Len())
	_, okA := r.Get(a.ID())
	_, okB := r.Get(b.ID())
	assert.True(t, okA && okB)
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	t.Parallel()

	r, clk := newClockedRegistry(10, time.Hour)
	a := r.Register(1, 0)
	clk.Advance(time.Second)
	b := r.Register(1, 0)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, b.ID(), list[0].ID)
	assert.Equal(t, a.ID(), list[1].ID)
}
