package world

import (
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
)

// Dimension is a dimension of a World. It influences the height range and
// the directory of the World.
type Dimension interface {
	// Range returns the lowest and highest valid Y coordinates of a block.
	Range() cube.Range
	// Dir returns the subdirectory of the save the Dimension is stored in,
	// relative to the directory of the overworld.
	Dir() string
	String() string
}

var (
	// Overworld is the Dimension players spawn in.
	Overworld overworld
	// Nether is a Dimension filled with netherrack and lava.
	Nether nether
	// End is the Dimension of end stone islands.
	End end
)

type (
	overworld struct{}
	nether    struct{}
	end       struct{}
)

func (overworld) Range() cube.Range { return cube.Range{-64, 319} }
func (overworld) Dir() string       { return "" }
func (overworld) String() string    { return "Overworld" }

func (nether) Range() cube.Range { return cube.Range{0, 255} }
func (nether) Dir() string       { return "DIM-1" }
func (nether) String() string    { return "Nether" }

func (end) Range() cube.Range { return cube.Range{0, 255} }
func (end) Dir() string       { return "DIM1" }
func (end) String() string    { return "End" }

// DimensionByName looks up a Dimension by its lowercase name: overworld,
// nether or end.
func DimensionByName(name string) (Dimension, bool) {
	switch name {
	case "overworld":
		return Overworld, true
	case "nether", "the_nether":
		return Nether, true
	case "end", "the_end":
		return End, true
	}
	return nil, false
}
