package world

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/redstone"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/region"
)

// ErrClosed is returned by operations on a World that was closed.
var ErrClosed = errors.New("world closed")

// World manages the chunks of a single dimension. It owns every resident
// chunk: others only get access to one through a Handle obtained with
// Acquire. The World ticks its resident chunks at a fixed rate and saves
// changed chunks on its own cadence, independent of the tick rate. World is
// safe for concurrent use.
type World struct {
	conf  Config
	ra    cube.Range
	store region.Store
	level Level
	lock  *dirLock

	cache    *cache
	dirty    *dirtySet
	sched    *scheduledQueue
	fluids   *fluidSet
	redstone *redstone.System

	handler atomic.Pointer[Handler]

	tick   atomic.Int64
	tps    atomic.Uint64
	tickMu sync.Mutex
	saveMu sync.Mutex
	// saveSeq versions the snapshots passed to the store.
	saveSeq atomic.Uint64

	closing     chan struct{}
	running     sync.WaitGroup
	closed      atomic.Bool
	storeClosed atomic.Bool
	closeOnce   sync.Once
	closeErr    error
}

// New creates a World using the Config passed. If the Config has a Dir, it
// is locked for as long as the World is open and the level.dat in it is
// read, or written if the directory holds no World yet. New returns an error
// wrapping ErrLocked if another World holds the directory.
// Ticking and periodic saving start right away, unless disabled in the
// Config.
func (conf Config) New() (*World, error) {
	conf = conf.withDefaults()
	w := &World{
		conf:    conf,
		ra:      conf.Dim.Range(),
		dirty:   newDirtySet(),
		sched:   newScheduledQueue(),
		fluids:  newFluidSet(),
		closing: make(chan struct{}),
	}
	w.redstone = conf.Redstone.NewSystem(conf.Log)
	w.cache = newCache(w, conf.CacheSize)
	w.handler.Store(ptr[Handler](NopHandler{}))

	if conf.Dir != "" {
		l, err := lockDir(conf.Dir)
		if err != nil {
			return nil, err
		}
		w.lock = l
	}
	if err := w.openLevel(); err != nil {
		return nil, errors.Join(err, w.lock.release())
	}
	w.store = conf.Store
	if w.store == nil {
		if conf.Dir == "" {
			w.store = region.NopStore{}
		} else {
			p, err := region.Config{
				Log:         conf.Log,
				Dir:         filepath.Join(conf.Dir, "region"),
				Format:      conf.Format,
				Compression: conf.Compression,
				Size:        conf.RegionSize,
				Range:       w.ra,
			}.Open()
			if err != nil {
				return nil, errors.Join(fmt.Errorf("open region store: %w", err), w.lock.release())
			}
			w.store = p
		}
	}

	if conf.TickInterval > 0 {
		w.running.Add(1)
		go ticker{interval: conf.TickInterval}.tickLoop(w)
	}
	if conf.SaveInterval > 0 {
		w.running.Add(1)
		go w.saveLoop()
	}
	conf.Log.Debug("Opened world.", "name", conf.Name, "dimension", conf.Dim, "format", conf.Format, "tick", w.tick.Load())
	return w, nil
}

// openLevel reads level.dat from the world directory, or writes a new one
// if the directory holds no world yet. A world stored in another format or
// region size than configured is refused.
func (w *World) openLevel() error {
	w.level = Level{
		LevelName:   w.conf.Name,
		RandomSeed:  w.conf.Seed,
		ChunkFormat: w.conf.Format.String(),
		RegionSize:  int32(w.conf.RegionSize),
		MinY:        int32(w.ra[0]),
		MaxY:        int32(w.ra[1]),
	}
	if w.conf.Dir == "" {
		return nil
	}
	l, ok, err := LoadLevel(w.conf.Dir)
	if err != nil {
		return err
	}
	if !ok {
		return w.level.Write(w.conf.Dir)
	}
	if l.ChunkFormat != w.conf.Format.String() {
		return fmt.Errorf("world in %v uses chunk format %v, but %v was configured", w.conf.Dir, l.ChunkFormat, w.conf.Format)
	}
	if l.RegionSize != int32(w.conf.RegionSize) {
		return fmt.Errorf("world in %v uses region size %v, but %v was configured", w.conf.Dir, l.RegionSize, w.conf.RegionSize)
	}
	if l.RandomSeed != w.conf.Seed {
		w.conf.Log.Info("Using seed stored in level.dat.", "seed", l.RandomSeed)
		w.conf.Seed = l.RandomSeed
	}
	w.level = l
	w.tick.Store(l.Time)
	return nil
}

func ptr[T any](v T) *T {
	return &v
}

// Name returns the display name of the World.
func (w *World) Name() string {
	return w.conf.Name
}

// Dimension returns the Dimension of the World.
func (w *World) Dimension() Dimension {
	return w.conf.Dim
}

// Range returns the range in blocks of the World (min and max).
func (w *World) Range() cube.Range {
	return w.ra
}

// Seed returns the seed of the World. If the World was loaded from a
// directory, this is the seed stored in its level.dat.
func (w *World) Seed() int64 {
	return w.conf.Seed
}

// CurrentTick returns the current tick counter of the world. The counter
// only increases.
func (w *World) CurrentTick() int64 {
	if w == nil {
		return 0
	}
	return w.tick.Load()
}

// TPS returns the current average ticks per second of the world. The value is
// averaged over the last tpsSampleSize ticks and may be zero if no samples have
// been recorded yet.
func (w *World) TPS() float64 {
	return math.Float64frombits(w.tps.Load())
}

// Handle changes the current Handler of the world. As a result, events
// called by the world will call handlers of the Handler passed. Handle sets
// the world's Handler to NopHandler if nil is passed.
func (w *World) Handle(h Handler) {
	if h == nil {
		h = NopHandler{}
	}
	w.handler.Store(&h)
}

// Handler returns the Handler of the world.
func (w *World) Handler() Handler {
	return *w.handler.Load()
}

// Log returns the Logger of the World.
func (w *World) Log() *slog.Logger {
	return w.conf.Log
}

// Acquire returns a Handle to the chunk at pos, loading it from the store or
// generating it if it is not resident. Concurrent calls for the same chunk
// share a single load and return handles to the same chunk. If ctx is
// cancelled, Acquire returns without waiting for the load, which continues
// for other callers. Failed loads are not remembered: a later Acquire tries
// again.
func (w *World) Acquire(ctx context.Context, pos chunk.Pos) (*Handle, error) {
	if w.closed.Load() {
		return nil, ErrClosed
	}
	e, err := w.cache.acquire(ctx, pos)
	if err != nil {
		return nil, err
	}
	e.c.Touch()
	return &Handle{w: w, e: e}, nil
}

// RequestChunk returns the chunk at pos encoded in the same way it is
// stored, for sending it to a client. The chunk is acquired for the
// duration of the call.
func (w *World) RequestChunk(ctx context.Context, pos chunk.Pos) ([]byte, error) {
	h, err := w.Acquire(ctx, pos)
	if err != nil {
		return nil, err
	}
	h.e.mu.RLock()
	ent, _ := w.snapshot(h.e)
	h.e.mu.RUnlock()

	data, err := chunk.Encode(ent.Column)
	if relErr := h.Release(); relErr != nil {
		w.conf.Log.Error("release chunk: "+relErr.Error(), "X", pos[0], "Z", pos[1])
	}
	if err != nil {
		return nil, fmt.Errorf("encode chunk %v: %w", pos, err)
	}
	return data, nil
}

// Stats holds counters describing the state of a World.
type Stats struct {
	// Resident is the amount of chunks in memory.
	Resident int
	// Referenced is the amount of resident chunks with at least one Handle.
	Referenced int
	// Dirty is the amount of chunks waiting to be saved.
	Dirty int
	// Loads and Generations count chunks read from the store and chunks
	// produced by the Generator.
	Loads, Generations uint64
	// LoadCollisions counts Acquire calls that shared a load with another
	// call.
	LoadCollisions uint64
	// Evictions counts chunks removed from memory.
	Evictions uint64
	// ScheduledUpdates and ActiveFluids count the pending work for the next
	// ticks.
	ScheduledUpdates, ActiveFluids int
	Tick                           int64
	TPS                            float64
}

// Stats returns the current Stats of the World.
func (w *World) Stats() Stats {
	return Stats{
		Resident:         w.cache.resident(),
		Referenced:       w.cache.referenced(),
		Dirty:            w.dirty.len(),
		Loads:            w.cache.loads.Load(),
		Generations:      w.cache.generations.Load(),
		LoadCollisions:   w.cache.collisions.Load(),
		Evictions:        w.cache.evictions.Load(),
		ScheduledUpdates: w.sched.len(),
		ActiveFluids:     w.fluids.len(),
		Tick:             w.CurrentTick(),
		TPS:              w.TPS(),
	}
}

// generate produces a new chunk at pos using the Generator of the World.
func (w *World) generate(pos chunk.Pos) *chunk.Chunk {
	c := chunk.New(pos, w.ra)
	w.conf.Generator.GenerateChunk(pos, c)
	c.SetStatus(chunk.StatusGenerated)
	c.MarkDirty()
	return c
}

// newEntry creates a cache entry from a loaded or generated column.
func (w *World) newEntry(col *chunk.Column) *entry {
	e := &entry{
		pos:          col.Pos(),
		c:            col.Chunk,
		pendingTicks: col.BlockTicks,
		pendingFluid: col.FluidTicks,
	}
	for _, data := range col.Entities {
		e.entities = append(e.entities, w.conf.Entities.decodeEntity(data))
	}
	return e
}

// registerEntry hands the updates loaded with an entry to the tick
// scheduler once it is inserted in the cache. The cache lock is held.
func (w *World) registerEntry(e *entry) {
	w.sched.add(e.pendingTicks, w.CurrentTick())
	for _, t := range e.pendingFluid {
		w.fluids.activate(t.Pos)
	}
	e.pendingTicks, e.pendingFluid = nil, nil

	e.mu.RLock()
	dirty := e.c.Dirty()
	e.mu.RUnlock()
	if dirty {
		w.dirty.add(e.pos)
	}
}

// unregisterEntry drops everything the World keeps for an evicted entry.
// The cache lock is held.
func (w *World) unregisterEntry(e *entry) {
	w.dirty.remove(e.pos)
	w.sched.removeChunk(e.pos)
	w.fluids.removeChunk(e.pos)
	w.redstone.Forget(redstone.ChunkID{X: e.pos[0], Z: e.pos[1]})
}

// Close stops the World from ticking, saves all changed chunks, writes
// level.dat and closes the store. Handles still held remain usable for
// reading, but nothing is saved after Close returns.
func (w *World) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.close()
	})
	return w.closeErr
}

func (w *World) close() error {
	w.closed.Store(true)
	close(w.closing)
	w.running.Wait()

	var errs []error
	w.conf.Log.Debug("Saving chunks in memory to disk...")
	if err := w.save(); err != nil {
		errs = append(errs, err)
	}
	if w.conf.Dir != "" {
		w.conf.Log.Debug("Updating level.dat values...")
		l := w.level
		l.Time = w.CurrentTick()
		if err := l.Write(w.conf.Dir); err != nil {
			errs = append(errs, err)
		}
	}
	w.conf.Log.Debug("Closing store...")
	w.storeClosed.Store(true)
	if err := w.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := w.lock.release(); err != nil {
		errs = append(errs, fmt.Errorf("release session.lock: %w", err))
	}
	return errors.Join(errs...)
}
