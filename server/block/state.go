package block

import "fmt"

// Kind is the type of block a State holds, independent of any per-block data
// such as a fluid level or redstone power.
type Kind uint16

const (
	Air Kind = iota
	Stone
	Dirt
	Grass
	Bedrock
	Sand
	Gravel
	Water
	Lava
	Log
	Leaves
	Glass
	Netherrack
	EndStone
	Obsidian
	Snow
	RedstoneWire
	RedstoneBlock
	Lever
	RedstoneLamp

	kindCount
)

// State is a single block state as stored in a chunk. The upper bits hold the
// Kind and the lowest four bits hold data specific to that Kind.
type State uint32

// AirState is the State of an empty block. It is the zero value of State.
const AirState State = 0

// New returns the State for a Kind with the data passed. Only the lowest four
// bits of data are kept.
func New(k Kind, data uint8) State {
	return State(uint32(k)<<4 | uint32(data&0xf))
}

// Kind returns the Kind of the State.
func (s State) Kind() Kind {
	return Kind(s >> 4)
}

// Data returns the four bits of data attached to the State.
func (s State) Data() uint8 {
	return uint8(s & 0xf)
}

// Valid checks if the State refers to a known Kind.
func (s State) Valid() bool {
	return s.Kind() < kindCount
}

// String returns the vanilla name of the State followed by its data.
func (s State) String() string {
	name, props := s.Encode()
	if len(props) == 0 {
		return name
	}
	return fmt.Sprintf("%v%v", name, props)
}
