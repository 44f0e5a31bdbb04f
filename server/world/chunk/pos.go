package chunk

import (
	"fmt"
	"math"

	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
)

// Pos holds the position of a chunk. The type is provided as a utility struct
// for keeping track of a chunk's position. Chunks do not themselves keep track
// of that. ChunkPos is the floor division of a block X and Z position by 16.
type Pos [2]int32

// PosFromBlock returns the Pos of the chunk the block position passed is in.
func PosFromBlock(p cube.Pos) Pos {
	return Pos{int32(p[0] >> 4), int32(p[2] >> 4)}
}

// PosFromVec returns the Pos of the chunk containing the horizontal
// coordinates passed.
func PosFromVec(x, z float64) Pos {
	return Pos{int32(math.Floor(x)) >> 4, int32(math.Floor(z)) >> 4}
}

// X returns the X coordinate of the chunk position.
func (p Pos) X() int32 {
	return p[0]
}

// Z returns the Z coordinate of the chunk position.
func (p Pos) Z() int32 {
	return p[1]
}

// String implements fmt.Stringer and returns (x, z).
func (p Pos) String() string {
	return fmt.Sprintf("(%v, %v)", p[0], p[1])
}

// BlockOrigin returns the block position of the chunk's lowest X and Z corner,
// at Y 0.
func (p Pos) BlockOrigin() cube.Pos {
	return cube.Pos{int(p[0]) << 4, 0, int(p[1]) << 4}
}

// Contains checks if the block position passed lies within the chunk.
func (p Pos) Contains(pos cube.Pos) bool {
	return PosFromBlock(pos) == p
}

// Local returns the local X and Z coordinates, 0-15, of the block position
// inside its chunk.
func Local(pos cube.Pos) (x, z uint8) {
	return uint8(pos[0] & 0xf), uint8(pos[2] & 0xf)
}
