package world

import (
	"slices"
	"sync/atomic"

	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/biome"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
)

// Handle is a counted reference to a resident chunk, obtained through
// World.Acquire. The chunk stays in memory for as long as the Handle is not
// released. All methods are safe for concurrent use and take the lock of
// the chunk. Using a Handle after calling Release panics.
type Handle struct {
	w        *World
	e        *entry
	released atomic.Bool
}

func (h *Handle) check() {
	if h.released.Load() {
		panic("world: use of released chunk handle")
	}
}

// Pos returns the position of the chunk.
func (h *Handle) Pos() chunk.Pos {
	return h.e.pos
}

// Chunk returns the chunk the Handle refers to. Handles acquired for the
// same position at the same time return the same *chunk.Chunk. The chunk
// must only be read and changed through View and Modify.
func (h *Handle) Chunk() *chunk.Chunk {
	h.check()
	return h.e.c
}

func (h *Handle) local(pos cube.Pos) (uint8, uint8, bool) {
	if chunk.PosFromBlock(pos) != h.e.pos || pos.OutOfBounds(h.w.ra) {
		return 0, 0, false
	}
	x, z := chunk.Local(pos)
	return x, z, true
}

// Block returns the block at a world position inside the chunk. Air is
// returned for positions outside of it.
func (h *Handle) Block(pos cube.Pos) block.State {
	h.check()
	x, z, ok := h.local(pos)
	if !ok {
		return block.AirState
	}
	h.e.mu.RLock()
	defer h.e.mu.RUnlock()
	return h.e.c.Block(x, pos[1], z)
}

// SetBlock sets the block at a world position inside the chunk. The change
// is visible to the next tick and to every later Acquire. Fluids, redstone
// and gravity blocks around the position react to it in the next tick.
// SetBlock returns false if the position is outside the chunk or the block
// was already set.
func (h *Handle) SetBlock(pos cube.Pos, s block.State) bool {
	h.check()
	x, z, ok := h.local(pos)
	if !ok {
		return false
	}
	e := h.e
	e.mu.Lock()
	old := e.c.Block(x, pos[1], z)
	if !e.c.SetBlock(x, pos[1], z, s) {
		e.mu.Unlock()
		return false
	}
	h.w.react(pos, old, s, h.w.CurrentTick(), func(p cube.Pos) (block.State, bool) {
		if px, pz, ok := h.local(p); ok {
			return e.c.Block(px, p[1], pz), true
		}
		return block.AirState, false
	})
	e.mu.Unlock()
	h.w.dirty.add(e.pos)
	return true
}

// Biome returns the biome at a world position inside the chunk.
func (h *Handle) Biome(pos cube.Pos) biome.Biome {
	h.check()
	x, z, ok := h.local(pos)
	if !ok {
		return biome.Plains
	}
	h.e.mu.RLock()
	defer h.e.mu.RUnlock()
	return h.e.c.Biome(x, pos[1], z)
}

// SetBiome sets the biome at a world position inside the chunk.
func (h *Handle) SetBiome(pos cube.Pos, b biome.Biome) bool {
	h.check()
	x, z, ok := h.local(pos)
	if !ok {
		return false
	}
	h.e.mu.Lock()
	changed := h.e.c.SetBiome(x, pos[1], z, b)
	h.e.mu.Unlock()
	if changed {
		h.w.dirty.add(h.e.pos)
	}
	return changed
}

// ScheduleUpdate schedules an update of the block at pos, a position inside
// the chunk, after delay ticks with a minimum of one. The update only runs
// if the block is still of the same kind by then. ScheduleUpdate returns
// the tick the update runs in, or -1 if pos is outside the chunk.
func (h *Handle) ScheduleUpdate(pos cube.Pos, delay int64) int64 {
	h.check()
	x, z, ok := h.local(pos)
	if !ok {
		return -1
	}
	e := h.e
	e.mu.Lock()
	name, _ := e.c.Block(x, pos[1], z).Encode()
	t := h.w.CurrentTick() + max(delay, 1)
	h.w.sched.schedule(pos, name, t)
	e.c.MarkDirty()
	e.mu.Unlock()
	h.w.dirty.add(e.pos)
	return t
}

// SpawnEntity adds an Entity to the chunk. The Entity is ticked from the
// next tick onwards. SpawnEntity returns false if the Entity is not
// positioned inside the chunk.
func (h *Handle) SpawnEntity(ent Entity) bool {
	h.check()
	pos := ent.Position()
	if chunk.PosFromVec(pos[0], pos[2]) != h.e.pos {
		return false
	}
	e := h.e
	e.mu.Lock()
	e.entities = append(e.entities, ent)
	e.c.MarkDirty()
	e.mu.Unlock()
	h.w.dirty.add(e.pos)
	return true
}

// Entities returns the entities currently in the chunk.
func (h *Handle) Entities() []Entity {
	h.check()
	h.e.mu.RLock()
	defer h.e.mu.RUnlock()
	return slices.Clone(h.e.entities)
}

// View calls f with the chunk while holding its read lock. f must not keep
// the chunk after returning.
func (h *Handle) View(f func(c *chunk.Chunk)) {
	h.check()
	h.e.mu.RLock()
	defer h.e.mu.RUnlock()
	f(h.e.c)
}

// Modify calls f with the chunk while holding its lock. If f changed the
// chunk it is saved in the next save cycle. Changes made through Modify do
// not cause fluids or redstone to react.
func (h *Handle) Modify(f func(c *chunk.Chunk)) {
	h.check()
	e := h.e
	e.mu.Lock()
	mod := e.c.ModCount()
	f(e.c)
	changed := e.c.ModCount() != mod
	e.mu.Unlock()
	if changed {
		h.w.dirty.add(e.pos)
	}
}

// Release releases the Handle. Once no Handle refers to the chunk it may be
// evicted. If this pushes the cache over its budget, chunks are evicted
// before Release returns and an error is returned if saving one of them
// failed. The chunk then stays in memory until a later eviction or save
// succeeds.
func (h *Handle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		panic("world: chunk handle released twice")
	}
	return h.w.cache.release(h.e)
}
