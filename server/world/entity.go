package world

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
)

// Entity represents an entity in the world, typically an object that may be
// moved around and can be interacted with by other entities. An Entity is
// owned by the chunk it is positioned in and is only ever ticked on the tick
// goroutine.
type Entity interface {
	// ID returns the unique ID of the Entity.
	ID() uuid.UUID
	// Type returns the EntityType of the Entity.
	Type() EntityType
	// Position returns the current position of the Entity.
	Position() mgl64.Vec3
}

// TickerEntity represents an Entity that has a Tick method which should be
// called every time the World is ticked.
type TickerEntity interface {
	Entity
	// Tick ticks the Entity with the current tick passed.
	Tick(tx *Tx, current int64)
}

// EntityType is the type of Entity. It specifies the name and the encoding
// of the Entity.
type EntityType interface {
	// EncodeEntity converts the EntityType to its string representation, for
	// example minecraft:item.
	EncodeEntity() string
	// DecodeNBT reads the fields of an Entity with the ID passed from the
	// NBT map.
	DecodeNBT(id uuid.UUID, m map[string]any) (Entity, error)
	// EncodeNBT writes the fields of the Entity to a new NBT map. The ID and
	// type are stored by the World.
	EncodeNBT(e Entity) map[string]any
}

// EntityRegistry is a mapping that EntityTypes may be registered to. It is
// used for loading entities from chunks.
type EntityRegistry struct {
	types map[string]EntityType
}

// NewEntityRegistry returns an EntityRegistry holding the types passed.
func NewEntityRegistry(types ...EntityType) EntityRegistry {
	r := EntityRegistry{types: make(map[string]EntityType, len(types))}
	for _, t := range types {
		name := t.EncodeEntity()
		if _, ok := r.types[name]; ok {
			panic("cannot register the same entity (" + name + ") twice")
		}
		r.types[name] = t
	}
	return r
}

// Lookup looks up an EntityType by its name. If found, the EntityType is
// returned and the bool is true. The bool is false otherwise.
func (r EntityRegistry) Lookup(name string) (EntityType, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Types returns all EntityTypes passed upon construction of the
// EntityRegistry.
func (r EntityRegistry) Types() []EntityType {
	types := make([]EntityType, 0, len(r.types))
	for _, t := range r.types {
		types = append(types, t)
	}
	slices.SortFunc(types, func(a, b EntityType) int {
		return cmp.Compare(a.EncodeEntity(), b.EncodeEntity())
	})
	return types
}

// decodeEntity decodes stored entity data using the registry. Entities of an
// unknown type are returned as they were stored so that they survive a save.
func (r EntityRegistry) decodeEntity(data chunk.EntityData) Entity {
	t, ok := r.Lookup(data.Type)
	if !ok {
		return rawEntity{data: data}
	}
	e, err := t.DecodeNBT(data.ID, data.Data)
	if err != nil {
		return rawEntity{data: data}
	}
	return e
}

// encodeEntity converts an Entity back to its stored form.
func encodeEntity(e Entity) (chunk.EntityData, error) {
	if raw, ok := e.(rawEntity); ok {
		return raw.data, nil
	}
	t := e.Type()
	if t == nil {
		return chunk.EntityData{}, fmt.Errorf("entity %v has no type", e.ID())
	}
	return chunk.EntityData{ID: e.ID(), Type: t.EncodeEntity(), Data: t.EncodeNBT(e)}, nil
}

// rawEntity is an entity of a type the World does not know. It is never
// ticked and is stored back as it was loaded.
type rawEntity struct {
	data chunk.EntityData
}

func (r rawEntity) ID() uuid.UUID    { return r.data.ID }
func (r rawEntity) Type() EntityType { return rawType(r.data.Type) }

func (r rawEntity) Position() mgl64.Vec3 {
	list, ok := r.data.Data["Pos"].([]any)
	if !ok || len(list) != 3 {
		return mgl64.Vec3{}
	}
	var v mgl64.Vec3
	for i, c := range list {
		switch c := c.(type) {
		case float64:
			v[i] = c
		case float32:
			v[i] = float64(c)
		}
	}
	return v
}

type rawType string

func (t rawType) EncodeEntity() string { return string(t) }
func (t rawType) DecodeNBT(id uuid.UUID, m map[string]any) (Entity, error) {
	return rawEntity{data: chunk.EntityData{ID: id, Type: string(t), Data: m}}, nil
}
func (t rawType) EncodeNBT(e Entity) map[string]any {
	if raw, ok := e.(rawEntity); ok {
		return raw.data.Data
	}
	return nil
}

func compareEntities(a, b Entity) int {
	ida, idb := a.ID(), b.ID()
	return bytes.Compare(ida[:], idb[:])
}

type entityMove struct {
	e        Entity
	from, to chunk.Pos
}

// tickEntities ticks every TickerEntity in the chunks of the Tx. Chunks are
// visited in Morton order and the entities of a chunk in order of their
// UUID. An entity that moved into another resident chunk is transferred to
// it after all entities were ticked.
func (w *World) tickEntities(tx *Tx) {
	var moves []entityMove
	for _, e := range tx.ordered {
		e.mu.Lock()
		if len(e.entities) == 0 {
			e.mu.Unlock()
			continue
		}
		tx.locked = e
		list := slices.Clone(e.entities)
		slices.SortFunc(list, compareEntities)
		for _, ent := range list {
			if t, ok := ent.(TickerEntity); ok {
				t.Tick(tx, tx.tick)
				tx.touch(e.pos)
			}
		}
		for _, ent := range e.entities {
			pos := ent.Position()
			if to := chunk.PosFromVec(pos[0], pos[2]); to != e.pos && tx.Loaded(to) {
				moves = append(moves, entityMove{e: ent, from: e.pos, to: to})
			}
		}
		tx.locked = nil
		e.mu.Unlock()
	}
	for _, m := range moves {
		if _, removed := tx.removed[m.e.ID()]; removed {
			continue
		}
		from, to := tx.entries[m.from], tx.entries[m.to]
		from.mu.Lock()
		from.entities = slices.DeleteFunc(from.entities, func(o Entity) bool { return o.ID() == m.e.ID() })
		from.mu.Unlock()
		to.mu.Lock()
		to.entities = append(to.entities, m.e)
		to.mu.Unlock()
		tx.touch(m.from)
		tx.touch(m.to)
	}
	tx.applyEntityChanges()
}
