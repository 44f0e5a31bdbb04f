package world

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/region"
)

// dirtySet holds the positions of resident chunks that changed since they
// were last written to the store.
type dirtySet struct {
	mu  sync.Mutex
	set map[chunk.Pos]struct{}
}

func newDirtySet() *dirtySet {
	return &dirtySet{set: make(map[chunk.Pos]struct{})}
}

func (d *dirtySet) add(positions ...chunk.Pos) {
	d.mu.Lock()
	for _, pos := range positions {
		d.set[pos] = struct{}{}
	}
	d.mu.Unlock()
}

func (d *dirtySet) remove(pos chunk.Pos) {
	d.mu.Lock()
	delete(d.set, pos)
	d.mu.Unlock()
}

// take empties the set and returns its positions in Morton order.
func (d *dirtySet) take() []chunk.Pos {
	d.mu.Lock()
	set := d.set
	d.set = make(map[chunk.Pos]struct{}, len(set))
	d.mu.Unlock()
	return slices.SortedFunc(maps.Keys(set), compareChunks)
}

func (d *dirtySet) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.set)
}

// snapshot copies an entry into a column that may be encoded without
// holding any lock. The caller must hold at least the read lock of the
// entry. The modification counter of the chunk at the time of the copy is
// returned with it. Snapshots are versioned in the order they are taken, so
// that the store drops a snapshot that is older than one already written.
func (w *World) snapshot(e *entry) (region.Entry, uint64) {
	current := w.CurrentTick()
	col := &chunk.Column{
		Chunk:      e.c.Clone(),
		BlockTicks: w.sched.fromChunk(e.pos, current),
		FluidTicks: w.fluids.fromChunk(e.c),
		LastUpdate: current,
	}
	for _, ent := range e.entities {
		data, err := encodeEntity(ent)
		if err != nil {
			w.conf.Log.Error("encode entity: "+err.Error(), "X", e.pos[0], "Z", e.pos[1])
			continue
		}
		col.Entities = append(col.Entities, data)
	}
	return region.Entry{Pos: e.pos, Column: col, Version: w.saveSeq.Add(1)}, e.c.ModCount()
}

// flushEntry writes a single chunk to the store if it is dirty and clears
// its dirty flag if it was not changed during the write.
func (w *World) flushEntry(e *entry) error {
	e.mu.RLock()
	if !e.c.Dirty() {
		e.mu.RUnlock()
		return nil
	}
	ent, mod := w.snapshot(e)
	e.mu.RUnlock()

	if err := w.store.Save([]region.Entry{ent}); err != nil {
		return err
	}
	e.mu.Lock()
	e.c.ClearDirty(mod)
	e.mu.Unlock()
	return nil
}

// Save writes all chunks that changed since the last save to the store in a
// single batch. Chunks of regions that failed to be written stay dirty and
// are retried in the next save. Save never runs concurrently with another
// save of the same World.
func (w *World) Save() error {
	if w.storeClosed.Load() {
		return ErrClosed
	}
	return w.save()
}

func (w *World) save() error {
	w.saveMu.Lock()
	defer w.saveMu.Unlock()

	positions := w.dirty.take()
	if len(positions) == 0 {
		return nil
	}
	start := time.Now()
	entries := w.cache.lookup(positions)
	batch := make([]region.Entry, 0, len(entries))
	saved := make([]*entry, 0, len(entries))
	mods := make([]uint64, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		if !e.c.Dirty() {
			e.mu.RUnlock()
			continue
		}
		ent, mod := w.snapshot(e)
		e.mu.RUnlock()
		batch = append(batch, ent)
		saved = append(saved, e)
		mods = append(mods, mod)
	}
	if len(batch) == 0 {
		return nil
	}

	err := w.store.Save(batch)
	var saveErr *region.SaveError
	partial := errors.As(err, &saveErr)

	written := 0
	for i, e := range saved {
		if err != nil && (!partial || saveErr.Failed(e.pos) != nil) {
			w.dirty.add(e.pos)
			continue
		}
		written++
		e.mu.Lock()
		cleared := e.c.ClearDirty(mods[i])
		e.mu.Unlock()
		if !cleared {
			w.dirty.add(e.pos)
		}
	}
	if err != nil {
		w.conf.Log.Error("save chunks: "+err.Error(), "saved", written, "failed", len(saved)-written)
		err = fmt.Errorf("save world %v: %w", w.conf.Name, err)
	} else {
		w.conf.Log.Debug("Saved chunks.", "count", written, "duration", time.Since(start))
	}
	w.Handler().HandleSave(written, err)
	return err
}

// saveLoop saves the World every SaveInterval and evicts chunks if the
// cache grew over its budget while chunks were in use by ticks.
func (w *World) saveLoop() {
	defer w.running.Done()
	tc := time.NewTicker(w.conf.SaveInterval)
	defer tc.Stop()
	for {
		select {
		case <-tc.C:
			_ = w.save()
			if err := w.cache.shrink(w.conf.CacheSize); err != nil {
				w.conf.Log.Error("shrink chunk cache: " + err.Error())
			}
		case <-w.closing:
			return
		}
	}
}
