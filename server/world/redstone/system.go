package redstone

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/brentp/intintmap"
	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
)

// Access is the view of the world a Step reads and writes blocks through.
// Block returns false for positions in chunks that are not resident, which
// are treated as empty.
type Access interface {
	Block(pos cube.Pos) (block.State, bool)
	SetBlock(pos cube.Pos, s block.State) bool
}

// Result holds the changes applied by a single Step.
type Result struct {
	Events []Event
	// Visited is the amount of blocks inspected.
	Visited int
	// Deferred is the amount of queued positions left for the next Step.
	Deferred int
}

// System propagates redstone power through connected networks of wire.
// Changed positions are queued from any goroutine; Step must only be called
// from the tick goroutine.
type System struct {
	conf    Config
	log     *slog.Logger
	metrics *Metrics

	mu    sync.Mutex
	queue map[cube.Pos]struct{}
}

// Enabled reports whether the system is active.
func (s *System) Enabled() bool {
	return s != nil && !s.conf.Disabled
}

// Queue marks a position as changed. The position and its neighbours are
// re-evaluated during the next Step.
func (s *System) Queue(pos cube.Pos) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	s.queue[pos] = struct{}{}
	s.mu.Unlock()
}

// Pending returns the amount of positions waiting for a Step.
func (s *System) Pending() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Forget drops queued positions and metrics of a chunk that is no longer
// resident.
func (s *System) Forget(id ChunkID) {
	if s == nil {
		return
	}
	s.mu.Lock()
	maps.DeleteFunc(s.queue, func(pos cube.Pos, _ struct{}) bool {
		return ChunkOf(pos) == id
	})
	s.mu.Unlock()
	s.metrics.Forget(id)
}

// Metrics returns the metrics registry of the system.
func (s *System) Metrics() *Metrics {
	if s == nil {
		return nil
	}
	return s.metrics
}

// Step processes the queued positions in deterministic order. Every wire
// network touching a queued position is recomputed as a whole, so the
// resulting power levels do not depend on the order changes were queued in.
func (s *System) Step(a Access, tick int64) Result {
	if !s.Enabled() {
		return Result{}
	}
	s.mu.Lock()
	seeds := slices.Collect(maps.Keys(s.queue))
	clear(s.queue)
	s.mu.Unlock()
	SortPositions(seeds)

	f := &flood{a: a, tick: tick, max: s.conf.MaxComponent, seen: make(map[cube.Pos]struct{})}
	budget := s.conf.BudgetPerTick
	for i, seed := range seeds {
		if f.visited >= budget {
			s.mu.Lock()
			for _, rest := range seeds[i:] {
				s.queue[rest] = struct{}{}
				s.metrics.IncDeferred(ChunkOf(rest))
			}
			s.mu.Unlock()
			f.res.Deferred = len(seeds) - i
			s.log.Debug("Redstone budget exhausted.", "tick", tick, "deferred", f.res.Deferred)
			break
		}
		before := f.visited
		f.seed(seed)
		s.metrics.AddOps(ChunkOf(seed), uint64(f.visited-before))
	}
	for _, ev := range f.res.Events {
		s.metrics.IncChanges(ChunkOf(ev.Pos))
	}
	sortEventsDeterministic(f.res.Events)
	f.res.Visited = f.visited
	return f.res
}

// flood holds the state of the networks processed during one Step.
type flood struct {
	a    Access
	tick int64
	max  int

	seen    map[cube.Pos]struct{}
	visited int
	res     Result
}

func (f *flood) block(pos cube.Pos) block.State {
	f.visited++
	s, ok := f.a.Block(pos)
	if !ok {
		return block.AirState
	}
	return s
}

func (f *flood) seed(pos cube.Pos) {
	var lamps []cube.Pos
	for _, p := range append([]cube.Pos{pos}, neighbours(pos)...) {
		switch f.block(p).Kind() {
		case block.RedstoneWire:
			if _, ok := f.seen[p]; !ok {
				f.network(p)
			}
		case block.RedstoneLamp:
			lamps = append(lamps, p)
		}
	}
	for _, l := range lamps {
		f.lamp(l)
	}
}

// network collects the wires connected to start, recomputes their power
// and updates the lamps next to them.
func (f *flood) network(start cube.Pos) {
	wires := []cube.Pos{start}
	member := map[cube.Pos]struct{}{start: {}}
	f.seen[start] = struct{}{}
	var sources []cube.Pos
	lamps := make(map[cube.Pos]struct{})
	for i := 0; i < len(wires); i++ {
		powered := false
		for _, n := range neighbours(wires[i]) {
			if _, ok := f.seen[n]; ok {
				continue
			}
			s := f.block(n)
			switch {
			case s.Kind() == block.RedstoneWire:
				if len(wires) >= f.max {
					continue
				}
				f.seen[n] = struct{}{}
				member[n] = struct{}{}
				wires = append(wires, n)
			case s.Kind() == block.RedstoneLamp:
				lamps[n] = struct{}{}
			case block.PowerSource(s) && block.Power(s) > 0:
				powered = true
			}
		}
		if powered {
			sources = append(sources, wires[i])
		}
	}

	power := intintmap.New(len(wires), 0.6)
	frontier := make([]cube.Pos, 0, len(sources))
	for _, src := range sources {
		power.Put(key(src), 15)
		frontier = append(frontier, src)
	}
	for i := 0; i < len(frontier); i++ {
		p := frontier[i]
		level, _ := power.Get(key(p))
		if level <= 1 {
			continue
		}
		for _, n := range neighbours(p) {
			if _, ok := member[n]; !ok {
				continue
			}
			if cur, ok := power.Get(key(n)); ok && cur >= level-1 {
				continue
			}
			power.Put(key(n), level-1)
			frontier = append(frontier, n)
		}
	}

	SortPositions(wires)
	for _, w := range wires {
		level, _ := power.Get(key(w))
		s, ok := f.a.Block(w)
		if !ok || s.Kind() != block.RedstoneWire || block.Power(s) == uint8(level) {
			continue
		}
		if f.a.SetBlock(w, block.RedstoneWireState(uint8(level))) {
			f.res.Events = append(f.res.Events, Event{Pos: w, Kind: EventPowerChange, Power: uint8(level), Tick: f.tick})
		}
	}
	for _, l := range slices.SortedFunc(maps.Keys(lamps), comparePos) {
		f.lamp(l)
	}
}

// lamp lights the lamp at pos if any neighbour carries power and turns it
// off otherwise.
func (f *flood) lamp(pos cube.Pos) {
	s, ok := f.a.Block(pos)
	if !ok || s.Kind() != block.RedstoneLamp {
		return
	}
	lit := false
	for _, n := range neighbours(pos) {
		if block.Power(f.block(n)) > 0 {
			lit = true
			break
		}
	}
	if block.Lit(s) == lit {
		return
	}
	if f.a.SetBlock(pos, block.RedstoneLampState(lit)) {
		var p uint8
		if lit {
			p = 15
		}
		f.res.Events = append(f.res.Events, Event{Pos: pos, Kind: EventOutput, Power: p, Tick: f.tick})
	}
}

func neighbours(pos cube.Pos) []cube.Pos {
	out := make([]cube.Pos, 0, 6)
	for _, face := range cube.Faces() {
		out = append(out, pos.Side(face))
	}
	return out
}

// key packs a block position into a single int64 for use in an intintmap.
func key(pos cube.Pos) int64 {
	return int64(pos[0]&0x3ffffff)<<38 | int64(pos[2]&0x3ffffff)<<12 | int64(pos[1]&0xfff)
}
