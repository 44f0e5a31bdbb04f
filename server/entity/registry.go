package entity

import "github.com/wHoIsDReAmer/Pumpkin/server/world"

// DefaultRegistry is a world.EntityRegistry that registers all entities
// implemented.
var DefaultRegistry = world.NewEntityRegistry(ItemType)
