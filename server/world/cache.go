package world

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/region"
	"golang.org/x/sync/singleflight"
)

// entry is a chunk resident in the cache together with everything else the
// World keeps for it in memory.
type entry struct {
	pos chunk.Pos

	// mu guards c and entities.
	mu       sync.RWMutex
	c        *chunk.Chunk
	entities []Entity

	// pending holds the updates and fluid ticks loaded with the chunk until
	// it is inserted into the cache.
	pendingTicks []chunk.ScheduledUpdate
	pendingFluid []chunk.ScheduledUpdate

	// The fields below are guarded by cache.mu.
	refs     int
	pins     int
	elem     *list.Element
	evicting bool
	dead     bool
}

// cache owns all resident chunks of a World. Chunks with references are
// never evicted. Chunks without references are kept in an LRU list, most
// recently released at the front, and evicted from the back once the
// amount of resident chunks exceeds the budget.
type cache struct {
	w      *World
	budget int

	mu      sync.Mutex
	entries map[chunk.Pos]*entry
	lru     *list.List

	group singleflight.Group

	loads, generations, collisions, evictions atomic.Uint64
}

func newCache(w *World, budget int) *cache {
	return &cache{w: w, budget: budget, entries: make(map[chunk.Pos]*entry), lru: list.New()}
}

// ref adds a reference to an entry. The entry is taken out of the LRU list
// so that it cannot be picked for eviction. If it is being evicted right
// now, the eviction is abandoned when it finishes.
func (c *cache) ref(e *entry) {
	e.refs++
	if e.elem != nil {
		c.lru.Remove(e.elem)
		e.elem = nil
	}
}

// acquire returns the resident entry at pos with a reference added, loading
// or generating it first if needed. Concurrent acquires of a chunk that is
// not resident share a single load.
func (c *cache) acquire(ctx context.Context, pos chunk.Pos) (*entry, error) {
	for {
		c.mu.Lock()
		if e, ok := c.entries[pos]; ok {
			c.ref(e)
			c.mu.Unlock()
			return e, nil
		}
		c.mu.Unlock()

		// Shared is also set for the caller that ran the load.
		leader := false
		ch := c.group.DoChan(strconv.Itoa(int(pos[0]))+","+strconv.Itoa(int(pos[1])), func() (any, error) {
			leader = true
			return c.load(pos)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			if res.Shared && !leader {
				c.collisions.Add(1)
			}
			if e, ok := c.adopt(res.Val.(*entry)); ok {
				return e, nil
			}
			// The entry was loaded, inserted and evicted again before this
			// caller got to it. Try again.
		}
	}
}

// adopt adds a reference to an entry returned by a load. It reports false
// if the entry was evicted again before the caller got to it.
func (c *cache) adopt(e *entry) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.dead {
		return nil, false
	}
	if cur, ok := c.entries[e.pos]; ok && cur != e {
		e = cur
	}
	c.ref(e)
	return e, true
}

// load reads the chunk at pos from the store, falling back to the generator,
// and inserts it into the cache without references. Only one load runs for
// a position at a time. Load failures are returned without recording
// anything, so that a later acquire tries again.
func (c *cache) load(pos chunk.Pos) (*entry, error) {
	c.mu.Lock()
	if e, ok := c.entries[pos]; ok {
		c.mu.Unlock()
		return e, nil
	}
	full := len(c.entries) >= c.budget
	c.mu.Unlock()

	col, err := c.w.store.Load(pos)
	generated := false
	switch {
	case err == nil:
		c.loads.Add(1)
	case errors.Is(err, region.ErrNotFound):
		generated = true
	case errors.Is(err, region.ErrCorrupt) && c.w.conf.CorruptPolicy == CorruptRegenerate:
		c.w.conf.Log.Warn("Regenerating corrupt chunk: "+err.Error(), "X", pos[0], "Z", pos[1])
		generated = true
	default:
		return nil, fmt.Errorf("load chunk %v: %w", pos, err)
	}
	if generated {
		c.generations.Add(1)
		col = &chunk.Column{Chunk: c.w.generate(pos)}
	}
	e := c.w.newEntry(col)

	if full {
		if err := c.shrink(c.budget - 1); err != nil {
			c.w.conf.Log.Warn("Chunk cache over budget: "+err.Error(), "resident", c.resident())
		}
	}
	c.mu.Lock()
	if cur, ok := c.entries[pos]; ok {
		c.mu.Unlock()
		return cur, nil
	}
	c.entries[pos] = e
	e.elem = c.lru.PushFront(e)
	c.w.registerEntry(e)
	c.mu.Unlock()

	c.w.Handler().HandleChunkLoad(pos, generated)
	return e, nil
}

// release drops a reference from an entry. Once no references are left it
// becomes eligible for eviction, and chunks are evicted until the cache is
// back within its budget.
func (c *cache) release(e *entry) error {
	c.mu.Lock()
	e.refs--
	if e.refs < 0 {
		c.mu.Unlock()
		panic("world: chunk released more often than acquired")
	}
	if e.refs == 0 && !e.dead {
		e.elem = c.lru.PushFront(e)
	}
	over := len(c.entries) > c.budget
	c.mu.Unlock()

	if !over || c.w.closed.Load() {
		return nil
	}
	return c.shrink(c.budget)
}

// shrink evicts chunks from the back of the LRU list until at most target
// chunks are resident or no chunk can be evicted. The first flush error is
// returned.
func (c *cache) shrink(target int) error {
	c.mu.Lock()
	attempts := c.lru.Len()
	c.mu.Unlock()

	for ; attempts > 0; attempts-- {
		c.mu.Lock()
		done := len(c.entries) <= target
		c.mu.Unlock()
		if done {
			return nil
		}
		progress, err := c.evictOne()
		if err != nil {
			return err
		}
		if !progress {
			return nil
		}
	}
	return nil
}

// evictOne evicts the least recently released chunk that is not in use by a
// tick. A dirty chunk is written to the store first, without holding the
// cache lock. The chunk is only removed if the write succeeded and nobody
// acquired or changed it in the meantime. evictOne reports false if there
// was no candidate.
func (c *cache) evictOne() (bool, error) {
	c.mu.Lock()
	var e *entry
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		if cand := el.Value.(*entry); cand.pins == 0 && !cand.evicting {
			e = cand
			break
		}
	}
	if e == nil {
		c.mu.Unlock()
		return false, nil
	}
	c.lru.Remove(e.elem)
	e.elem = nil
	e.evicting = true
	c.mu.Unlock()

	err := c.w.flushEntry(e)

	c.mu.Lock()
	e.evicting = false
	if err != nil {
		if e.refs == 0 && e.elem == nil {
			e.elem = c.lru.PushFront(e)
		}
		c.mu.Unlock()
		return true, fmt.Errorf("evict chunk %v: %w", e.pos, err)
	}
	e.mu.RLock()
	dirty := e.c.Dirty()
	e.mu.RUnlock()
	if e.refs > 0 || e.pins > 0 || dirty {
		// Acquired or changed while it was being written: keep it.
		if e.refs == 0 && e.elem == nil {
			e.elem = c.lru.PushFront(e)
		}
		c.mu.Unlock()
		return true, nil
	}
	if e.elem != nil {
		c.lru.Remove(e.elem)
		e.elem = nil
	}
	delete(c.entries, e.pos)
	e.dead = true
	c.evictions.Add(1)
	c.w.unregisterEntry(e)
	c.mu.Unlock()

	c.w.Handler().HandleChunkEvict(e.pos)
	return true, nil
}

// pinAll pins every resident chunk that is not being evicted, so that none
// of them is evicted during a tick.
func (c *cache) pinAll() []*entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	pinned := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.evicting {
			continue
		}
		e.pins++
		pinned = append(pinned, e)
	}
	return pinned
}

func (c *cache) unpin(entries []*entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		e.pins--
	}
}

// lookup returns the resident entries at the positions passed. Positions
// that are not resident are skipped.
func (c *cache) lookup(positions []chunk.Pos) []*entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*entry, 0, len(positions))
	for _, pos := range positions {
		if e, ok := c.entries[pos]; ok {
			out = append(out, e)
		}
	}
	return out
}

// keepResident removes the block positions in chunks that are not resident
// from positions. Chunks being evicted still count as resident.
func (c *cache) keepResident(positions []cube.Pos) []cube.Pos {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.DeleteFunc(positions, func(p cube.Pos) bool {
		_, ok := c.entries[chunk.PosFromBlock(p)]
		return !ok
	})
}

func (c *cache) resident() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *cache) referenced() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.refs > 0 {
			n++
		}
	}
	return n
}
