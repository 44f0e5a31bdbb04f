package world

import (
	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
)

// fallDelay is the amount of ticks between a change under a gravity block
// and the block starting to fall.
const fallDelay = 2

func isRedstone(s block.State) bool {
	switch s.Kind() {
	case block.RedstoneWire, block.RedstoneBlock, block.Lever, block.RedstoneLamp:
		return true
	}
	return false
}

// redstoneAccess gives the redstone system access to the chunks of a Tx.
// Changes it makes do not queue new reactions.
type redstoneAccess struct {
	tx *Tx
}

func (a redstoneAccess) Block(pos cube.Pos) (block.State, bool) {
	return a.tx.Block(pos)
}

func (a redstoneAccess) SetBlock(pos cube.Pos, s block.State) bool {
	_, changed := a.tx.setBlock(pos, s)
	return changed
}

// tickRedstone recomputes the redstone networks touched since the last
// tick.
func (w *World) tickRedstone(tx *Tx) {
	if !w.redstone.Enabled() || w.redstone.Pending() == 0 {
		return
	}
	res := w.redstone.Step(redstoneAccess{tx: tx}, tx.tick)
	if res.Deferred > 0 {
		w.conf.Log.Debug("Deferred redstone updates.", "tick", tx.tick, "deferred", res.Deferred, "visited", res.Visited)
	}
}

// react queues the work caused by the block at pos changing from old to s:
// fluids around it may flow, redstone through it is recomputed and gravity
// blocks on or above it are scheduled to fall. blockAt is used to read the
// block above pos.
func (w *World) react(pos cube.Pos, old, s block.State, now int64, blockAt func(cube.Pos) (block.State, bool)) {
	active := make([]cube.Pos, 0, 7)
	active = append(active, pos)
	for _, face := range cube.Faces() {
		active = append(active, pos.Side(face))
	}
	w.fluids.activate(active...)

	if isRedstone(old) || isRedstone(s) {
		w.redstone.Queue(pos)
	}
	if s.Gravity() {
		name, _ := s.Encode()
		w.sched.schedule(pos, name, now+fallDelay)
	}
	above := pos.Side(cube.FaceUp)
	if as, ok := blockAt(above); ok && as.Gravity() {
		name, _ := as.Encode()
		w.sched.schedule(above, name, now+fallDelay)
	}
}
