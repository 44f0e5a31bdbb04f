package world

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/biome"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/region"
)

// stripeGenerator fills every chunk with a floor of stone and a pattern of
// blocks, biomes and light derived from the chunk position.
type stripeGenerator struct {
	calls atomic.Int32
	delay time.Duration
	gate  chan struct{}
}

func (g *stripeGenerator) GenerateChunk(pos chunk.Pos, c *chunk.Chunk) {
	g.calls.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	time.Sleep(g.delay)
	for x := uint8(0); x < 16; x++ {
		for z := uint8(0); z < 16; z++ {
			c.SetBlock(x, 0, z, block.New(block.Stone, 0))
			if (int(x)+int(z)+int(pos[0]))%3 == 0 {
				c.SetBlock(x, 1, z, block.New(block.Dirt, 0))
			}
			c.SetSkyLight(x, 2, z, 15)
			c.SetBlockLight(x, 1, z, x)
		}
	}
	c.SetBiome(0, 0, 0, biome.Desert)
}

type scheduledRecord struct {
	pos  cube.Pos
	tick int64
}

type recordingHandler struct {
	NopHandler

	mu        sync.Mutex
	scheduled []scheduledRecord
	loads     []chunk.Pos
	evicts    []chunk.Pos
	saves     []error
}

func (h *recordingHandler) HandleScheduledUpdate(_ *Tx, pos cube.Pos, _ block.State, tick int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scheduled = append(h.scheduled, scheduledRecord{pos: pos, tick: tick})
}

func (h *recordingHandler) HandleChunkLoad(pos chunk.Pos, _ bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loads = append(h.loads, pos)
}

func (h *recordingHandler) HandleChunkEvict(pos chunk.Pos) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evicts = append(h.evicts, pos)
}

func (h *recordingHandler) HandleSave(_ int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saves = append(h.saves, err)
}

func (h *recordingHandler) records() []scheduledRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]scheduledRecord(nil), h.scheduled...)
}

func mustAcquire(t *testing.T, w *World, pos chunk.Pos) *Handle {
	t.Helper()
	h, err := w.Acquire(context.Background(), pos)
	if err != nil {
		t.Fatalf("expected chunk %v to be acquired, got %v", pos, err)
	}
	return h
}

func mustRelease(t *testing.T, h *Handle) {
	t.Helper()
	if err := h.Release(); err != nil {
		t.Fatalf("expected release to succeed, got %v", err)
	}
}

func TestAcquireReturnsSameChunk(t *testing.T) {
	w, _ := newTestWorld(t, Config{Generator: &stripeGenerator{}})
	a := mustAcquire(t, w, chunk.Pos{3, -2})
	b := mustAcquire(t, w, chunk.Pos{3, -2})
	defer mustRelease(t, a)
	defer mustRelease(t, b)

	if a.Chunk() != b.Chunk() {
		t.Fatalf("expected both handles to refer to the same chunk")
	}
	if got := w.Stats().Referenced; got != 1 {
		t.Fatalf("expected 1 referenced chunk, got %d", got)
	}
}

func TestConcurrentAcquireLoadsOnce(t *testing.T) {
	gen := &stripeGenerator{delay: 20 * time.Millisecond}
	w, store := newTestWorld(t, Config{Generator: gen})

	const n = 32
	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := w.Acquire(context.Background(), chunk.Pos{7, 7})
			if err != nil {
				t.Errorf("expected acquire to succeed, got %v", err)
				return
			}
			handles[i] = h
		}()
	}
	wg.Wait()

	if got := gen.calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 generation, got %d", got)
	}
	if loads := store.loadCount(); loads != 1 {
		t.Fatalf("expected exactly 1 store load, got %d", loads)
	}
	for _, h := range handles {
		if h == nil {
			t.FailNow()
		}
	}
	first := handles[0].Chunk()
	for _, h := range handles {
		if h.Chunk() != first {
			t.Fatalf("expected all handles to refer to the same chunk")
		}
	}
	if got := w.Stats().LoadCollisions; got >= n {
		t.Fatalf("expected at most %d shared loads, got %d", n-1, got)
	}
	for _, h := range handles {
		mustRelease(t, h)
	}
}

func TestAcquireCancelledDoesNotAbortLoad(t *testing.T) {
	gen := &stripeGenerator{gate: make(chan struct{})}
	w, _ := newTestWorld(t, Config{Generator: gen})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := w.Acquire(ctx, chunk.Pos{1, 1})
		errs <- err
	}()
	for gen.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(gen.gate)

	h := mustAcquire(t, w, chunk.Pos{1, 1})
	defer mustRelease(t, h)
	if got := gen.calls.Load(); got != 1 {
		t.Fatalf("expected the cancelled load to be reused, got %d generations", got)
	}
}

func TestLoadCollisionsCountWaitersOnly(t *testing.T) {
	gen := &stripeGenerator{gate: make(chan struct{})}
	w, _ := newTestWorld(t, Config{Generator: gen})

	done := make(chan *Handle, 2)
	acquire := func() {
		h, err := w.Acquire(context.Background(), chunk.Pos{4, 4})
		if err != nil {
			t.Errorf("expected acquire to succeed, got %v", err)
		}
		done <- h
	}
	go acquire()
	for gen.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	go acquire()
	time.Sleep(50 * time.Millisecond)
	close(gen.gate)

	for range 2 {
		if h := <-done; h != nil {
			mustRelease(t, h)
		}
	}
	if got := w.Stats().LoadCollisions; got != 1 {
		t.Fatalf("expected 1 shared load, got %d", got)
	}
}

func TestLoadErrorIsNotCached(t *testing.T) {
	store := newMemStore(Overworld.Range())
	var fail atomic.Bool
	fail.Store(true)
	store.loadErr = func(chunk.Pos) error {
		if fail.Load() {
			return region.ErrIO
		}
		return nil
	}
	w, _ := newTestWorld(t, Config{Store: store, Generator: &stripeGenerator{}})

	if _, err := w.Acquire(context.Background(), chunk.Pos{0, 0}); !errors.Is(err, region.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if w.resident(chunk.Pos{0, 0}) {
		t.Fatalf("expected failed chunk not to be resident")
	}
	fail.Store(false)
	h := mustAcquire(t, w, chunk.Pos{0, 0})
	mustRelease(t, h)
}

func TestCorruptPolicy(t *testing.T) {
	corrupt := func(chunk.Pos) error { return region.ErrCorrupt }

	store := newMemStore(Overworld.Range())
	store.loadErr = corrupt
	w, _ := newTestWorld(t, Config{Store: store})
	if _, err := w.Acquire(context.Background(), chunk.Pos{0, 0}); !errors.Is(err, region.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt under the fail policy, got %v", err)
	}

	store = newMemStore(Overworld.Range())
	store.loadErr = corrupt
	gen := &stripeGenerator{}
	w, _ = newTestWorld(t, Config{Store: store, Generator: gen, CorruptPolicy: CorruptRegenerate})
	h := mustAcquire(t, w, chunk.Pos{0, 0})
	defer mustRelease(t, h)
	if gen.calls.Load() != 1 {
		t.Fatalf("expected corrupt chunk to be regenerated")
	}
	if !h.Chunk().Dirty() {
		t.Fatalf("expected regenerated chunk to be dirty so it overwrites the corrupt data")
	}
}

func TestLRUEviction(t *testing.T) {
	w, store := newTestWorld(t, Config{CacheSize: 100, Generator: &stripeGenerator{}})

	for i := range 150 {
		h := mustAcquire(t, w, chunk.Pos{int32(i), 0})
		if got := w.Stats().Resident; got > 100 {
			t.Fatalf("expected at most 100 resident chunks, got %d", got)
		}
		mustRelease(t, h)
		if got := w.Stats().Resident; got > 100 {
			t.Fatalf("expected at most 100 resident chunks, got %d", got)
		}
	}
	for i := range 150 {
		pos := chunk.Pos{int32(i), 0}
		if evicted := !w.resident(pos); evicted != (i < 50) {
			t.Fatalf("expected chunk %v evicted=%v, got %v", pos, i < 50, evicted)
		}
		if _, ok := store.stored(pos); ok != (i < 50) {
			t.Fatalf("expected chunk %v stored=%v, got %v", pos, i < 50, ok)
		}
	}
	if got := w.Stats().Evictions; got != 50 {
		t.Fatalf("expected 50 evictions, got %d", got)
	}
}

func TestEvictionKeepsChunkWhenFlushFails(t *testing.T) {
	w, store := newTestWorld(t, Config{CacheSize: 1})
	store.setSaveErr(func(chunk.Pos) error { return region.ErrIO })

	pos := cube.Pos{1, 64, 1}
	a := mustAcquire(t, w, chunk.Pos{0, 0})
	a.SetBlock(pos, block.New(block.Glass, 0))
	mustRelease(t, a)

	b := mustAcquire(t, w, chunk.Pos{5, 5})
	if err := b.Release(); !errors.Is(err, region.ErrIO) {
		t.Fatalf("expected release to report the failed flush, got %v", err)
	}
	if !w.resident(chunk.Pos{0, 0}) {
		t.Fatalf("expected chunk with a failed flush to stay resident")
	}
	if _, ok := store.stored(chunk.Pos{0, 0}); ok {
		t.Fatalf("expected nothing stored while saves fail")
	}

	store.setSaveErr(nil)
	if err := w.cache.shrink(0); err != nil {
		t.Fatalf("expected eviction to succeed once the store recovered, got %v", err)
	}
	if w.resident(chunk.Pos{0, 0}) {
		t.Fatalf("expected chunk to be evicted after a successful flush")
	}
	col, ok := store.stored(chunk.Pos{0, 0})
	if !ok {
		t.Fatalf("expected evicted chunk to be stored")
	}
	if got := col.Block(1, 64, 1); got != block.New(block.Glass, 0) {
		t.Fatalf("expected stored glass, got %v", got)
	}
}

func TestRoundTripThroughEviction(t *testing.T) {
	w, _ := newTestWorld(t, Config{CacheSize: 1, Generator: &stripeGenerator{}})

	h := mustAcquire(t, w, chunk.Pos{-4, 9})
	h.SetBlock(cube.Pos{-60, 100, 150}, block.New(block.Obsidian, 0))
	var before *chunk.Chunk
	h.View(func(c *chunk.Chunk) { before = c.Clone() })
	mustRelease(t, h)

	other := mustAcquire(t, w, chunk.Pos{0, 0})
	mustRelease(t, other)
	if w.resident(chunk.Pos{-4, 9}) {
		t.Fatalf("expected chunk to be evicted")
	}

	h = mustAcquire(t, w, chunk.Pos{-4, 9})
	defer mustRelease(t, h)
	if !h.Chunk().Equal(before) {
		t.Fatalf("expected reloaded chunk to equal the chunk before eviction")
	}
	if got := w.Stats().Loads; got != 1 {
		t.Fatalf("expected 1 load from the store, got %d", got)
	}
}

func TestScheduledUpdateRunsAtTargetTick(t *testing.T) {
	rec := &recordingHandler{}
	w, _ := newTestWorld(t, Config{})
	w.Handle(rec)

	h := mustAcquire(t, w, chunk.Pos{0, 0})
	defer mustRelease(t, h)
	pos := cube.Pos{0, 64, 0}
	h.Modify(func(c *chunk.Chunk) { c.SetBlock(0, 64, 0, block.New(block.Stone, 0)) })

	start := w.CurrentTick()
	if target := h.ScheduleUpdate(pos, 2); target != start+2 {
		t.Fatalf("expected target tick %d, got %d", start+2, target)
	}
	w.step()
	if got := rec.records(); len(got) != 0 {
		t.Fatalf("expected no update at tick %d, got %v", start+1, got)
	}
	w.step()
	got := rec.records()
	if len(got) != 1 || got[0].pos != pos || got[0].tick != start+2 {
		t.Fatalf("expected one update at %v on tick %d, got %v", pos, start+2, got)
	}
	w.step()
	if len(rec.records()) != 1 {
		t.Fatalf("expected update to run once")
	}
}

func TestScheduledUpdatesSameTickRunInSubmissionOrder(t *testing.T) {
	rec := &recordingHandler{}
	w, _ := newTestWorld(t, Config{})
	w.Handle(rec)

	h := mustAcquire(t, w, chunk.Pos{0, 0})
	defer mustRelease(t, h)
	order := []cube.Pos{{5, 64, 5}, {1, 64, 1}, {9, 70, 2}, {0, 64, 15}}
	for _, pos := range order {
		h.ScheduleUpdate(pos, 3)
	}
	for range 3 {
		w.step()
	}
	got := rec.records()
	if len(got) != len(order) {
		t.Fatalf("expected %d updates, got %d", len(order), len(got))
	}
	for i, pos := range order {
		if got[i].pos != pos {
			t.Fatalf("expected update %d at %v, got %v", i, pos, got[i].pos)
		}
	}
}

func TestScheduledUpdateSkippedWhenBlockChanged(t *testing.T) {
	rec := &recordingHandler{}
	w, _ := newTestWorld(t, Config{})
	w.Handle(rec)

	h := mustAcquire(t, w, chunk.Pos{0, 0})
	defer mustRelease(t, h)
	pos := cube.Pos{3, 64, 3}
	h.SetBlock(pos, block.New(block.Stone, 0))
	h.ScheduleUpdate(pos, 1)
	h.SetBlock(pos, block.New(block.Dirt, 0))
	w.step()
	if got := rec.records(); len(got) != 0 {
		t.Fatalf("expected update for a replaced block to be dropped, got %v", got)
	}
}

func TestSandFalls(t *testing.T) {
	w, _ := newTestWorld(t, Config{})
	h := mustAcquire(t, w, chunk.Pos{0, 0})
	defer mustRelease(t, h)

	h.SetBlock(cube.Pos{1, 60, 1}, block.New(block.Stone, 0))
	h.SetBlock(cube.Pos{1, 63, 1}, block.New(block.Sand, 0))
	for range 10 {
		w.step()
	}
	if got := h.Block(cube.Pos{1, 61, 1}); got.Kind() != block.Sand {
		t.Fatalf("expected sand to land on the stone, got %v", got)
	}
	for _, y := range []int{62, 63} {
		if got := h.Block(cube.Pos{1, y, 1}); got != block.AirState {
			t.Fatalf("expected air at y=%d, got %v", y, got)
		}
	}
}

func TestWaterSpreadsAndDries(t *testing.T) {
	w, _ := newTestWorld(t, Config{})
	h := mustAcquire(t, w, chunk.Pos{0, 0})
	defer mustRelease(t, h)

	h.Modify(func(c *chunk.Chunk) {
		for x := uint8(0); x < 16; x++ {
			for z := uint8(0); z < 16; z++ {
				c.SetBlock(x, 63, z, block.New(block.Stone, 0))
			}
		}
	})
	source := cube.Pos{8, 64, 8}
	h.SetBlock(source, block.WaterState(0))
	for range 10 {
		w.step()
	}
	for d := 1; d <= block.WaterSpread; d++ {
		s := h.Block(cube.Pos{8 + d, 64, 8})
		if _, level, ok := s.Fluid(); !ok || int(level) != d {
			t.Fatalf("expected water level %d at distance %d, got %v", d, d, s)
		}
	}
	if got := h.Block(cube.Pos{8, 64, 0}); got != block.AirState {
		t.Fatalf("expected water to stop after %d blocks, got %v", block.WaterSpread, got)
	}
	if got := h.Block(cube.Pos{9, 64, 9}); got != block.WaterState(2) {
		t.Fatalf("expected diagonal neighbour at level 2, got %v", got)
	}

	h.SetBlock(source, block.AirState)
	for range 20 {
		w.step()
	}
	h.View(func(c *chunk.Chunk) {
		for x := uint8(0); x < 16; x++ {
			for z := uint8(0); z < 16; z++ {
				if _, _, ok := c.Block(x, 64, z).Fluid(); ok {
					t.Fatalf("expected water at %v,%v to dry up after the source was removed", x, z)
				}
			}
		}
	})
}

func TestFluidActivationsOutsideResidentChunksAreDropped(t *testing.T) {
	w, _ := newTestWorld(t, Config{})
	h := mustAcquire(t, w, chunk.Pos{0, 0})
	defer mustRelease(t, h)

	h.SetBlock(cube.Pos{15, 100, 15}, block.New(block.Stone, 0))
	for range 5 {
		w.step()
	}
	if got := w.Stats().ActiveFluids; got != 0 {
		t.Fatalf("expected no active fluids, got %d", got)
	}
}

func TestWaterFallsFirst(t *testing.T) {
	w, _ := newTestWorld(t, Config{})
	h := mustAcquire(t, w, chunk.Pos{0, 0})
	defer mustRelease(t, h)

	h.SetBlock(cube.Pos{4, 60, 4}, block.New(block.Stone, 0))
	h.SetBlock(cube.Pos{4, 64, 4}, block.WaterState(0))
	w.step()
	if got := h.Block(cube.Pos{4, 63, 4}); got != block.WaterState(block.FluidFalling) {
		t.Fatalf("expected falling water below the source, got %v", got)
	}
	if got := h.Block(cube.Pos{5, 64, 4}); got != block.AirState {
		t.Fatalf("expected no horizontal spread over air, got %v", got)
	}
	for range 3 {
		w.step()
	}
	if got := h.Block(cube.Pos{5, 61, 4}); got != block.WaterState(1) {
		t.Fatalf("expected falling water to spread on landing, got %v", got)
	}
}

func TestRedstoneThroughWorld(t *testing.T) {
	w, _ := newTestWorld(t, Config{})
	h := mustAcquire(t, w, chunk.Pos{0, 0})
	defer mustRelease(t, h)

	lever := cube.Pos{0, 64, 0}
	lamp := cube.Pos{4, 64, 0}
	h.SetBlock(lever, block.LeverState(true))
	for x := 1; x <= 3; x++ {
		h.SetBlock(cube.Pos{x, 64, 0}, block.RedstoneWireState(0))
	}
	h.SetBlock(lamp, block.RedstoneLampState(false))
	w.step()

	if got := block.Power(h.Block(cube.Pos{3, 64, 0})); got != 13 {
		t.Fatalf("expected third wire to carry 13, got %d", got)
	}
	if !block.Lit(h.Block(lamp)) {
		t.Fatalf("expected lamp to be lit")
	}

	h.SetBlock(lever, block.LeverState(false))
	w.step()
	if block.Lit(h.Block(lamp)) {
		t.Fatalf("expected lamp to go out after the lever was switched off")
	}
	if got := block.Power(h.Block(cube.Pos{1, 64, 0})); got != 0 {
		t.Fatalf("expected wire to lose power, got %d", got)
	}
}

func TestNonResidentChunkIsNotTicked(t *testing.T) {
	rec := &recordingHandler{}
	w, store := newTestWorld(t, Config{CacheSize: 1})
	w.Handle(rec)

	pos := cube.Pos{2, 64, 2}
	a := mustAcquire(t, w, chunk.Pos{0, 0})
	a.SetBlock(pos, block.New(block.Stone, 0))
	a.ScheduleUpdate(pos, 5)
	mustRelease(t, a)

	b := mustAcquire(t, w, chunk.Pos{10, 10})
	defer mustRelease(t, b)
	if w.resident(chunk.Pos{0, 0}) {
		t.Fatalf("expected chunk to be evicted")
	}
	col, ok := store.stored(chunk.Pos{0, 0})
	if !ok || len(col.BlockTicks) != 1 || col.BlockTicks[0].Delay != 5 {
		t.Fatalf("expected the pending update to be stored with the chunk, got %+v", col)
	}
	for range 10 {
		w.step()
	}
	if got := rec.records(); len(got) != 0 {
		t.Fatalf("expected no updates for an evicted chunk, got %v", got)
	}
	if got := w.Stats().ScheduledUpdates; got != 0 {
		t.Fatalf("expected no queued updates, got %d", got)
	}
}

func TestPendingUpdatesRestoredOnLoad(t *testing.T) {
	rec := &recordingHandler{}
	w, _ := newTestWorld(t, Config{CacheSize: 1})
	w.Handle(rec)

	pos := cube.Pos{2, 64, 2}
	a := mustAcquire(t, w, chunk.Pos{0, 0})
	a.SetBlock(pos, block.New(block.Stone, 0))
	a.ScheduleUpdate(pos, 5)
	mustRelease(t, a)
	b := mustAcquire(t, w, chunk.Pos{10, 10})
	mustRelease(t, b)
	for range 10 {
		w.step()
	}

	a = mustAcquire(t, w, chunk.Pos{0, 0})
	defer mustRelease(t, a)
	reloaded := w.CurrentTick()
	for range 5 {
		w.step()
	}
	got := rec.records()
	if len(got) != 1 || got[0].tick != reloaded+5 {
		t.Fatalf("expected the restored update at tick %d, got %v", reloaded+5, got)
	}
}

func TestSavePartialFailureKeepsChunksDirty(t *testing.T) {
	rec := &recordingHandler{}
	w, store := newTestWorld(t, Config{})
	w.Handle(rec)
	failing := region.PosOf(chunk.Pos{32, 0}, region.DefaultSize)
	store.setSaveErr(func(pos chunk.Pos) error {
		if region.PosOf(pos, region.DefaultSize) == failing {
			return region.ErrIO
		}
		return nil
	})

	for _, pos := range []chunk.Pos{{0, 0}, {32, 0}} {
		h := mustAcquire(t, w, pos)
		h.SetBlock(pos.BlockOrigin().Add(cube.Pos{0, 64, 0}), block.New(block.Stone, 0))
		mustRelease(t, h)
	}

	err := w.Save()
	var saveErr *region.SaveError
	if !errors.As(err, &saveErr) {
		t.Fatalf("expected a SaveError, got %v", err)
	}
	if _, ok := store.stored(chunk.Pos{0, 0}); !ok {
		t.Fatalf("expected chunk in the healthy region to be stored")
	}
	if _, ok := store.stored(chunk.Pos{32, 0}); ok {
		t.Fatalf("expected chunk in the failed region not to be stored")
	}
	if got := w.Stats().Dirty; got != 1 {
		t.Fatalf("expected 1 dirty chunk left, got %d", got)
	}

	store.setSaveErr(nil)
	if err := w.Save(); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if _, ok := store.stored(chunk.Pos{32, 0}); !ok {
		t.Fatalf("expected retried chunk to be stored")
	}
	if got := w.Stats().Dirty; got != 0 {
		t.Fatalf("expected no dirty chunks, got %d", got)
	}
	if len(rec.saves) != 2 || rec.saves[0] == nil || rec.saves[1] != nil {
		t.Fatalf("expected a failed and a successful save to be reported, got %v", rec.saves)
	}
}

func TestSaveUnchangedIsNoop(t *testing.T) {
	w, store := newTestWorld(t, Config{})
	h := mustAcquire(t, w, chunk.Pos{0, 0})
	defer mustRelease(t, h)
	if err := w.Save(); err != nil {
		t.Fatalf("expected save to succeed, got %v", err)
	}
	saves := store.saveCount()
	if err := w.Save(); err != nil {
		t.Fatalf("expected save to succeed, got %v", err)
	}
	if store.saveCount() != saves {
		t.Fatalf("expected no store write for unchanged chunks")
	}
}

func TestEvictionNotBlockedBySave(t *testing.T) {
	w, store := newTestWorld(t, Config{})
	for _, pos := range []chunk.Pos{{0, 0}, {1, 0}} {
		h := mustAcquire(t, w, pos)
		h.SetBlock(pos.BlockOrigin().Add(cube.Pos{0, 64, 0}), block.New(block.Stone, 0))
		mustRelease(t, h)
	}

	entered, unblock := make(chan struct{}), make(chan struct{})
	var once sync.Once
	store.setGate(func(entries []region.Entry) {
		if len(entries) > 1 {
			once.Do(func() { close(entered) })
			<-unblock
		}
	})
	saved := make(chan error, 1)
	go func() { saved <- w.Save() }()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatalf("expected save to reach the store")
	}

	h := mustAcquire(t, w, chunk.Pos{0, 0})
	h.SetBlock(cube.Pos{0, 64, 0}, block.New(block.Glass, 0))
	mustRelease(t, h)

	evicted := make(chan error, 1)
	go func() { evicted <- w.cache.shrink(0) }()
	select {
	case err := <-evicted:
		if err != nil {
			t.Fatalf("expected eviction to succeed, got %v", err)
		}
	case <-time.After(time.Second):
		close(unblock)
		t.Fatalf("expected eviction not to wait for the running save")
	}
	close(unblock)
	if err := <-saved; err != nil {
		t.Fatalf("expected save to succeed, got %v", err)
	}

	col, ok := store.stored(chunk.Pos{0, 0})
	if !ok {
		t.Fatalf("expected evicted chunk to be stored")
	}
	if got := col.Block(0, 64, 0); got != block.New(block.Glass, 0) {
		t.Fatalf("expected the older batch not to overwrite the evicted chunk, got %v", got)
	}
	if _, ok := store.stored(chunk.Pos{1, 0}); !ok {
		t.Fatalf("expected second chunk to be stored")
	}
}

func TestCloseFlushesAndRefusesAcquire(t *testing.T) {
	w, store := newTestWorld(t, Config{})
	h := mustAcquire(t, w, chunk.Pos{2, 2})
	h.SetBlock(cube.Pos{33, 70, 33}, block.New(block.Log, 0))
	mustRelease(t, h)

	if err := w.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	col, ok := store.stored(chunk.Pos{2, 2})
	if !ok || col.Block(1, 70, 1) != block.New(block.Log, 0) {
		t.Fatalf("expected close to flush the changed chunk")
	}
	if !store.closed {
		t.Fatalf("expected close to close the store")
	}
	if _, err := w.Acquire(context.Background(), chunk.Pos{0, 0}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := w.Save(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Save, got %v", err)
	}
}

func TestRequestChunk(t *testing.T) {
	w, _ := newTestWorld(t, Config{Generator: &stripeGenerator{}})
	data, err := w.RequestChunk(context.Background(), chunk.Pos{1, 2})
	if err != nil {
		t.Fatalf("expected chunk snapshot, got %v", err)
	}
	col, err := chunk.Decode(data, chunk.Pos{1, 2}, w.Range())
	if err != nil {
		t.Fatalf("expected snapshot to decode, got %v", err)
	}
	if col.Block(0, 0, 0) != block.New(block.Stone, 0) {
		t.Fatalf("expected generated stone in the snapshot")
	}
	if got := w.Stats().Referenced; got != 0 {
		t.Fatalf("expected the chunk to be released, got %d references", got)
	}
}

func TestHandleUseAfterReleasePanics(t *testing.T) {
	w, _ := newTestWorld(t, Config{})
	h := mustAcquire(t, w, chunk.Pos{0, 0})
	mustRelease(t, h)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected use after release to panic")
		}
	}()
	h.Block(cube.Pos{0, 0, 0})
}

type recordingPopulator struct {
	mu    sync.Mutex
	calls []chunk.Pos
}

func (p *recordingPopulator) Populate(tx *Tx, pos chunk.Pos) {
	p.mu.Lock()
	p.calls = append(p.calls, pos)
	p.mu.Unlock()
	// Write into the neighbour to the east.
	origin := pos.BlockOrigin()
	tx.SetBlock(cube.Pos{origin[0] + 16, 100, origin[2]}, block.New(block.Leaves, 0))
}

func TestPopulationWaitsForNeighbours(t *testing.T) {
	pop := &recordingPopulator{}
	w, _ := newTestWorld(t, Config{Populator: pop, Generator: &stripeGenerator{}})

	var handles []*Handle
	for x := int32(-1); x <= 1; x++ {
		for z := int32(-1); z <= 1; z++ {
			handles = append(handles, mustAcquire(t, w, chunk.Pos{x, z}))
		}
	}
	defer func() {
		for _, h := range handles {
			mustRelease(t, h)
		}
	}()
	w.step()

	if len(pop.calls) != 1 || pop.calls[0] != (chunk.Pos{0, 0}) {
		t.Fatalf("expected only the centre chunk to be populated, got %v", pop.calls)
	}
	centre := handles[4]
	if got := centre.Chunk().Status(); got != chunk.StatusPopulated {
		t.Fatalf("expected centre to be populated, got %v", got)
	}
	east := handles[7]
	if got := east.Block(cube.Pos{16, 100, 0}); got.Kind() != block.Leaves {
		t.Fatalf("expected populator to write into the neighbour, got %v", got)
	}
	w.step()
	if len(pop.calls) != 1 {
		t.Fatalf("expected population to run once, got %d calls", len(pop.calls))
	}
}

// walker is a test entity that moves one block east every tick.
type walker struct {
	id  uuid.UUID
	pos mgl64.Vec3
}

type walkerType struct{}

func (walkerType) EncodeEntity() string { return "test:walker" }
func (walkerType) DecodeNBT(id uuid.UUID, m map[string]any) (Entity, error) {
	x, _ := m["X"].(float64)
	return &walker{id: id, pos: mgl64.Vec3{x, 64, 0.5}}, nil
}
func (walkerType) EncodeNBT(e Entity) map[string]any {
	return map[string]any{"X": e.(*walker).pos[0]}
}

func (w *walker) ID() uuid.UUID        { return w.id }
func (w *walker) Type() EntityType     { return walkerType{} }
func (w *walker) Position() mgl64.Vec3 { return w.pos }
func (w *walker) Tick(*Tx, int64)      { w.pos[0]++ }

func TestEntityMovesIntoResidentChunk(t *testing.T) {
	w, _ := newTestWorld(t, Config{Entities: NewEntityRegistry(walkerType{})})
	a := mustAcquire(t, w, chunk.Pos{0, 0})
	defer mustRelease(t, a)
	b := mustAcquire(t, w, chunk.Pos{1, 0})
	defer mustRelease(t, b)

	e := &walker{id: uuid.New(), pos: mgl64.Vec3{14.5, 64, 0.5}}
	if !a.SpawnEntity(e) {
		t.Fatalf("expected entity to be spawned")
	}
	w.step()
	w.step()
	if len(a.Entities()) != 0 || len(b.Entities()) != 1 {
		t.Fatalf("expected entity to move into the next chunk, got %d and %d", len(a.Entities()), len(b.Entities()))
	}
}

func TestEntityStaysWhenTargetNotResident(t *testing.T) {
	w, store := newTestWorld(t, Config{Entities: NewEntityRegistry(walkerType{})})
	a := mustAcquire(t, w, chunk.Pos{0, 0})

	e := &walker{id: uuid.New(), pos: mgl64.Vec3{15.5, 64, 0.5}}
	a.SpawnEntity(e)
	w.step()
	if len(a.Entities()) != 1 {
		t.Fatalf("expected entity to stay in its chunk, got %d", len(a.Entities()))
	}
	mustRelease(t, a)
	if err := w.Save(); err != nil {
		t.Fatalf("expected save to succeed, got %v", err)
	}
	col, ok := store.stored(chunk.Pos{0, 0})
	if !ok || len(col.Entities) != 1 || col.Entities[0].Type != "test:walker" {
		t.Fatalf("expected the entity to be stored with the chunk, got %+v", col)
	}
}
