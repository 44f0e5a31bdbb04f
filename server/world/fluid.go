package world

import (
	"maps"
	"slices"
	"sync"

	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/redstone"
)

// fluidSet holds the positions of fluids that may spread in the next tick.
// Positions activated during a tick are collected in a new set, so a fluid
// only moves one block per tick.
type fluidSet struct {
	mu     sync.Mutex
	active map[cube.Pos]struct{}
}

func newFluidSet() *fluidSet {
	return &fluidSet{active: make(map[cube.Pos]struct{})}
}

func (f *fluidSet) activate(positions ...cube.Pos) {
	f.mu.Lock()
	for _, pos := range positions {
		f.active[pos] = struct{}{}
	}
	f.mu.Unlock()
}

// take swaps out the active set and returns its positions in a
// deterministic order.
func (f *fluidSet) take() []cube.Pos {
	f.mu.Lock()
	active := f.active
	f.active = make(map[cube.Pos]struct{}, len(active))
	f.mu.Unlock()

	positions := slices.Collect(maps.Keys(active))
	redstone.SortPositions(positions)
	return positions
}

// fromChunk returns the active positions within a chunk as fluid ticks. The
// caller must hold the lock of the chunk.
func (f *fluidSet) fromChunk(c *chunk.Chunk) []chunk.ScheduledUpdate {
	f.mu.Lock()
	var positions []cube.Pos
	for p := range f.active {
		if chunk.PosFromBlock(p) == c.Pos() {
			positions = append(positions, p)
		}
	}
	f.mu.Unlock()

	redstone.SortPositions(positions)
	out := make([]chunk.ScheduledUpdate, len(positions))
	for i, p := range positions {
		x, z := chunk.Local(p)
		name, _ := c.Block(x, p[1], z).Encode()
		out[i] = chunk.ScheduledUpdate{Pos: p, Block: name, Delay: 1}
	}
	return out
}

func (f *fluidSet) removeChunk(pos chunk.Pos) {
	f.mu.Lock()
	maps.DeleteFunc(f.active, func(p cube.Pos, _ struct{}) bool {
		return chunk.PosFromBlock(p) == pos
	})
	f.mu.Unlock()
}

func (f *fluidSet) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

func isFluid(s block.State) bool {
	_, _, ok := s.Fluid()
	return ok
}

// fluidRank orders the fluid states planned for the same position. Lower
// ranks win: sources first, then falling fluid, then flowing fluid by level
// and finally drying up.
func fluidRank(s block.State) int {
	_, level, ok := s.Fluid()
	switch {
	case !ok:
		return 100
	case level == 0:
		return 0
	case level&block.FluidFalling != 0:
		return 1
	}
	return int(level) + 1
}

// tickFluids spreads every active fluid by one block. All changes are
// planned from the state at the start of the step and applied afterwards in
// position order, so the result does not depend on iteration order.
func (w *World) tickFluids(tx *Tx) {
	active := w.fluids.take()
	if len(active) == 0 {
		return
	}
	plan := make(map[cube.Pos]block.State)
	propose := func(pos cube.Pos, s block.State) {
		if cur, ok := plan[pos]; ok && fluidRank(cur) <= fluidRank(s) {
			return
		}
		plan[pos] = s
	}
	var deferred []cube.Pos
	for _, pos := range active {
		if !tx.Loaded(chunk.PosFromBlock(pos)) {
			if !pos.OutOfBounds(tx.Range()) {
				deferred = append(deferred, pos)
			}
			continue
		}
		s, _ := tx.Block(pos)
		k, level, ok := s.Fluid()
		if !ok {
			continue
		}
		if level != 0 && !w.fluidSupported(tx, pos, k, level) {
			propose(pos, block.AirState)
			continue
		}
		below := pos.Side(cube.FaceDown)
		bs, loaded := tx.Block(below)
		if loaded && bs.Replaceable() {
			propose(below, block.New(k, block.FluidFalling))
			continue
		}
		if bk, _, fluid := bs.Fluid(); fluid && bk == k || !loaded && !below.OutOfBounds(tx.Range()) {
			// Fluid below, or the chunk below is not resident: nothing to
			// spread onto yet.
			continue
		}
		next := level + 1
		if level == 0 || level&block.FluidFalling != 0 {
			next = 1
		}
		if next > block.FluidSpread(k) {
			continue
		}
		for _, face := range cube.HorizontalFaces() {
			side := pos.Side(face)
			ss, ok := tx.Block(side)
			if !ok {
				continue
			}
			if ss.Replaceable() {
				propose(side, block.New(k, next))
			} else if sk, sl, fluid := ss.Fluid(); fluid && sk == k && sl != 0 && sl&block.FluidFalling == 0 && sl > next {
				propose(side, block.New(k, next))
			}
		}
	}
	if len(deferred) > 0 {
		w.fluids.activate(w.cache.keepResident(deferred)...)
	}

	positions := slices.Collect(maps.Keys(plan))
	redstone.SortPositions(positions)
	for _, pos := range positions {
		if _, changed := tx.setBlock(pos, plan[pos]); !changed {
			continue
		}
		w.fluids.activate(pos)
		for _, face := range cube.Faces() {
			w.fluids.activate(pos.Side(face))
		}
	}
}

// fluidSupported checks if a flowing fluid at pos is still fed by fluid of
// the same kind above it or by a stronger neighbour.
func (w *World) fluidSupported(tx *Tx, pos cube.Pos, k block.Kind, level uint8) bool {
	if above, _ := tx.Block(pos.Side(cube.FaceUp)); sameFluid(above, k) {
		return true
	}
	if level&block.FluidFalling != 0 {
		return false
	}
	for _, face := range cube.HorizontalFaces() {
		ns, _ := tx.Block(pos.Side(face))
		if !sameFluid(ns, k) {
			continue
		}
		_, nl, _ := ns.Fluid()
		if nl == 0 || nl&block.FluidFalling != 0 || nl < level {
			return true
		}
	}
	return false
}

func sameFluid(s block.State, k block.Kind) bool {
	sk, _, ok := s.Fluid()
	return ok && sk == k
}
