package chunk

import (
	"github.com/google/uuid"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
)

// Column is the unit persisted for a single chunk position: the Chunk itself
// together with the entities inside it and the updates scheduled for it.
type Column struct {
	*Chunk

	// Entities holds the encoded entities positioned in the chunk.
	Entities []EntityData
	// BlockTicks holds the scheduled block updates of the chunk in the order
	// they were submitted.
	BlockTicks []ScheduledUpdate
	// FluidTicks holds fluid positions that were still spreading when the
	// chunk was saved.
	FluidTicks []ScheduledUpdate
	// LastUpdate is the world tick at which the column was saved.
	LastUpdate int64
}

// EntityData is an entity in its persisted form.
type EntityData struct {
	// ID is the unique ID of the entity.
	ID uuid.UUID
	// Type is the namespaced type name of the entity, such as minecraft:item.
	Type string
	// Data holds the NBT of the entity, excluding its ID and type.
	Data map[string]any
}

// ScheduledUpdate is a block update scheduled for a position in a chunk.
type ScheduledUpdate struct {
	// Pos is the world position of the update.
	Pos cube.Pos
	// Block is the vanilla name of the block the update was scheduled for.
	Block string
	// Delay is the amount of ticks left until the update runs.
	Delay int64
	// Priority is the vanilla tick priority. Lower values run first in
	// vanilla, here they are kept for compatibility only.
	Priority int32
}
