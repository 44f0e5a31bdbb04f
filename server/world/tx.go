package world

import (
	"cmp"
	"slices"

	"github.com/google/uuid"
	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/redstone"
)

// Tx is a transaction on a World for the duration of a single tick. It
// holds a reference on every chunk that was resident when the tick started,
// and only those chunks can be read or changed through it. A Tx must not be
// used after the tick that created it ended.
type Tx struct {
	w    *World
	tick int64

	entries map[chunk.Pos]*entry
	ordered []*entry
	// locked is the entry whose lock is held by the entity loop. Accesses to
	// it do not take the lock again.
	locked *entry

	touched map[chunk.Pos]struct{}
	added   []Entity
	removed map[uuid.UUID]struct{}
}

func newTx(w *World, tick int64, entries []*entry) *Tx {
	tx := &Tx{
		w:       w,
		tick:    tick,
		entries: make(map[chunk.Pos]*entry, len(entries)),
		ordered: entries,
		touched: make(map[chunk.Pos]struct{}),
		removed: make(map[uuid.UUID]struct{}),
	}
	slices.SortFunc(tx.ordered, func(a, b *entry) int {
		return compareChunks(a.pos, b.pos)
	})
	for _, e := range entries {
		tx.entries[e.pos] = e
	}
	return tx
}

// World returns the World the Tx is on.
func (tx *Tx) World() *World {
	return tx.w
}

// Tick returns the tick the Tx is performed in.
func (tx *Tx) Tick() int64 {
	return tx.tick
}

// Range returns the height range of the World.
func (tx *Tx) Range() cube.Range {
	return tx.w.ra
}

// Loaded checks if the chunk at the position passed takes part in the tick.
func (tx *Tx) Loaded(pos chunk.Pos) bool {
	_, ok := tx.entries[pos]
	return ok
}

// Chunks returns the positions of all chunks in the Tx in Morton order.
func (tx *Tx) Chunks() []chunk.Pos {
	out := make([]chunk.Pos, len(tx.ordered))
	for i, e := range tx.ordered {
		out[i] = e.pos
	}
	return out
}

func (tx *Tx) entryOf(pos cube.Pos) (*entry, bool) {
	if pos.OutOfBounds(tx.w.ra) {
		return nil, false
	}
	e, ok := tx.entries[chunk.PosFromBlock(pos)]
	return e, ok
}

func (tx *Tx) read(e *entry, f func()) {
	if tx.locked == e {
		f()
		return
	}
	e.mu.RLock()
	f()
	e.mu.RUnlock()
}

func (tx *Tx) write(e *entry, f func()) {
	if tx.locked == e {
		f()
		return
	}
	e.mu.Lock()
	f()
	e.mu.Unlock()
}

// Block reads the block at the position passed. If the position is outside
// the World or its chunk is not part of the Tx, air is returned and the
// bool is false.
func (tx *Tx) Block(pos cube.Pos) (block.State, bool) {
	e, ok := tx.entryOf(pos)
	if !ok {
		return block.AirState, false
	}
	x, z := chunk.Local(pos)
	var s block.State
	tx.read(e, func() { s = e.c.Block(x, pos[1], z) })
	return s, true
}

// SetBlock sets the block at the position passed and queues the reactions
// of its neighbours, such as falling blocks and fluids flowing into the
// space. It returns false if the chunk is not part of the Tx or the block
// did not change.
func (tx *Tx) SetBlock(pos cube.Pos, s block.State) bool {
	old, ok := tx.setBlock(pos, s)
	if !ok {
		return false
	}
	tx.w.react(pos, old, s, tx.tick, tx.Block)
	return true
}

// setBlock sets a block without reactions. It returns the previous block.
func (tx *Tx) setBlock(pos cube.Pos, s block.State) (block.State, bool) {
	e, ok := tx.entryOf(pos)
	if !ok {
		return 0, false
	}
	x, z := chunk.Local(pos)
	var (
		old     block.State
		changed bool
	)
	tx.write(e, func() {
		old = e.c.Block(x, pos[1], z)
		changed = e.c.SetBlock(x, pos[1], z, s)
	})
	if changed {
		tx.touch(e.pos)
	}
	return old, changed
}

// HighestBlock returns the Y of the highest non-air block in the column at
// x and z, or the lowest Y minus one if the column is empty or not part of
// the Tx.
func (tx *Tx) HighestBlock(x, z int) int {
	e, ok := tx.entryOf(cube.Pos{x, tx.w.ra[0], z})
	if !ok {
		return tx.w.ra[0] - 1
	}
	lx, lz := chunk.Local(cube.Pos{x, 0, z})
	y := tx.w.ra[0] - 1
	tx.read(e, func() { y = e.c.HighestBlock(lx, lz) })
	return y
}

// ScheduleUpdate schedules an update of the block at pos after delay ticks,
// with a minimum of one. The update only runs if the block is still the
// same kind by then. The tick the update runs in is returned, or -1 if the
// chunk is not part of the Tx.
func (tx *Tx) ScheduleUpdate(pos cube.Pos, delay int64) int64 {
	s, ok := tx.Block(pos)
	if !ok {
		return -1
	}
	name, _ := s.Encode()
	t := tx.tick + max(delay, 1)
	tx.w.sched.schedule(pos, name, t)
	tx.touch(chunk.PosFromBlock(pos))
	return t
}

// ModifyChunk calls f with the chunk at pos while holding its lock. It
// returns false if the chunk is not part of the Tx.
func (tx *Tx) ModifyChunk(pos chunk.Pos, f func(c *chunk.Chunk)) bool {
	e, ok := tx.entries[pos]
	if !ok {
		return false
	}
	tx.write(e, func() { f(e.c) })
	tx.touch(pos)
	return true
}

// AddEntity adds an Entity to the chunk it is positioned in at the end of
// the entity step of the tick. The Entity is dropped if that chunk is not
// part of the Tx.
func (tx *Tx) AddEntity(e Entity) {
	tx.added = append(tx.added, e)
}

// RemoveEntity removes an Entity from the World at the end of the entity
// step of the tick.
func (tx *Tx) RemoveEntity(e Entity) {
	tx.removed[e.ID()] = struct{}{}
}

func (tx *Tx) applyEntityChanges() {
	if len(tx.removed) > 0 {
		for _, e := range tx.ordered {
			e.mu.Lock()
			n := len(e.entities)
			e.entities = slices.DeleteFunc(e.entities, func(ent Entity) bool {
				_, ok := tx.removed[ent.ID()]
				return ok
			})
			if len(e.entities) != n {
				tx.touch(e.pos)
			}
			e.mu.Unlock()
		}
		clear(tx.removed)
	}
	for _, ent := range tx.added {
		pos := ent.Position()
		e, ok := tx.entries[chunk.PosFromVec(pos[0], pos[2])]
		if !ok {
			tx.w.conf.Log.Debug("Dropped entity added outside resident chunks.", "id", ent.ID())
			continue
		}
		e.mu.Lock()
		e.entities = append(e.entities, ent)
		e.mu.Unlock()
		tx.touch(e.pos)
	}
	tx.added = tx.added[:0]
}

func (tx *Tx) touch(pos chunk.Pos) {
	tx.touched[pos] = struct{}{}
}

// markTouched marks every chunk changed during the tick dirty.
func (tx *Tx) markTouched() {
	for pos := range tx.touched {
		e := tx.entries[pos]
		if e == nil {
			continue
		}
		e.mu.Lock()
		e.c.MarkDirty()
		e.mu.Unlock()
		tx.w.dirty.add(pos)
	}
}

// compareChunks orders chunk positions by their Morton code.
func compareChunks(a, b chunk.Pos) int {
	return cmp.Compare(redstone.ChunkID{X: a[0], Z: a[1]}.Morton(), redstone.ChunkID{X: b[0], Z: b[1]}.Morton())
}
