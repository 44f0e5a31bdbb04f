package entity

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/wHoIsDReAmer/Pumpkin/server/world"
)

// despawnAge is the age in ticks at which an Item is removed.
const despawnAge = 6000

// Item is an item stack dropped in the world. It falls until it lands on a
// solid block and despawns after five minutes.
type Item struct {
	id    uuid.UUID
	name  string
	count uint8

	pos, vel mgl64.Vec3
	age      int16
	mc       *MovementComputer
}

// NewItem creates an Item entity holding count items of the block or item
// named, such as minecraft:stone.
func NewItem(name string, count uint8, pos, vel mgl64.Vec3) *Item {
	return newItem(uuid.New(), name, count, pos, vel, 0)
}

func newItem(id uuid.UUID, name string, count uint8, pos, vel mgl64.Vec3, age int16) *Item {
	return &Item{
		id: id, name: name, count: count, pos: pos, vel: vel, age: age,
		mc: &MovementComputer{Gravity: 0.04, Drag: 0.02, DragBeforeGravity: true},
	}
}

// ID ...
func (it *Item) ID() uuid.UUID { return it.id }

// Type returns ItemType.
func (it *Item) Type() world.EntityType { return ItemType }

// Position ...
func (it *Item) Position() mgl64.Vec3 { return it.pos }

// Velocity returns the current velocity of the Item.
func (it *Item) Velocity() mgl64.Vec3 { return it.vel }

// Stack returns the name and count of the items held.
func (it *Item) Stack() (string, uint8) { return it.name, it.count }

// Age returns the amount of ticks the Item has existed for.
func (it *Item) Age() int { return int(it.age) }

// OnGround checks if the Item rests on a block.
func (it *Item) OnGround() bool { return it.mc.OnGround() }

var itemBox = Box(-0.125, 0, -0.125, 0.125, 0.25, 0.125)

// Tick ticks the Item, moving it and removing it once it is too old or fell
// out of the world.
func (it *Item) Tick(tx *world.Tx, _ int64) {
	it.age++
	if it.age >= despawnAge || it.pos[1] < float64(tx.Range().Min()-64) {
		tx.RemoveEntity(it)
		return
	}
	m := it.mc.TickMovement(itemBox, it.pos, it.vel, tx)
	it.pos, it.vel = m.Position(), m.Velocity()
}

// ItemType is a world.EntityType implementation for Item.
var ItemType itemType

type itemType struct{}

func (itemType) EncodeEntity() string { return "minecraft:item" }

func (itemType) DecodeNBT(id uuid.UUID, m map[string]any) (world.Entity, error) {
	stack, ok := m["Item"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode item %v: missing Item compound", id)
	}
	name, _ := stack["id"].(string)
	count, _ := stack["Count"].(uint8)
	age, _ := m["Age"].(int16)
	return newItem(id, name, count, vec(m["Pos"]), vec(m["Motion"]), age), nil
}

func (itemType) EncodeNBT(e world.Entity) map[string]any {
	it := e.(*Item)
	return map[string]any{
		"Pos":    []float64{it.pos[0], it.pos[1], it.pos[2]},
		"Motion": []float64{it.vel[0], it.vel[1], it.vel[2]},
		"Age":    it.age,
		"Item":   map[string]any{"id": it.name, "Count": it.count},
	}
}

// vec reads a list of three doubles as stored in entity NBT.
func vec(v any) mgl64.Vec3 {
	var out mgl64.Vec3
	switch list := v.(type) {
	case []any:
		for i := 0; i < len(list) && i < 3; i++ {
			out[i], _ = list[i].(float64)
		}
	case []float64:
		copy(out[:], list)
	}
	return out
}
