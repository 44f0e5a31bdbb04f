package world

import (
	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
)

// Handler handles events that are called by a World. Implementations of
// Handler may be used to listen to specific events such as the completion of
// a tick or the eviction of a chunk.
type Handler interface {
	// HandleTick handles the end of a tick, after the scheduled updates,
	// fluids, redstone and entities of the tick were processed. Changes made
	// through the Tx count as part of the tick.
	HandleTick(tx *Tx, tick int64)
	// HandleScheduledUpdate handles a scheduled update that was applied to
	// the block at pos.
	HandleScheduledUpdate(tx *Tx, pos cube.Pos, s block.State, tick int64)
	// HandleChunkLoad handles a chunk becoming resident. generated is true
	// if the chunk was not in the store and was produced by the Generator.
	HandleChunkLoad(pos chunk.Pos, generated bool)
	// HandleChunkEvict handles a chunk being removed from memory after it
	// was saved.
	HandleChunkEvict(pos chunk.Pos)
	// HandleSave handles the end of a save cycle. saved is the amount of
	// chunks written. err is non-nil if one or more regions failed, in which
	// case their chunks are retried in the next cycle.
	HandleSave(saved int, err error)
}

// Compile time check to make sure NopHandler implements Handler.
var _ Handler = (*NopHandler)(nil)

// NopHandler implements the Handler interface but does not execute any code
// when an event is called. The default handler of worlds is NopHandler.
// Users may embed NopHandler to avoid having to implement each method.
type NopHandler struct{}

func (NopHandler) HandleTick(*Tx, int64)                                   {}
func (NopHandler) HandleScheduledUpdate(*Tx, cube.Pos, block.State, int64) {}
func (NopHandler) HandleChunkLoad(chunk.Pos, bool)                         {}
func (NopHandler) HandleChunkEvict(chunk.Pos)                              {}
func (NopHandler) HandleSave(int, error)                                   {}
