package redstone

import (
	"cmp"
	"slices"

	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
)

// EventKind enumerates the kind of change a Step applied.
type EventKind uint8

const (
	EventUnknown EventKind = iota
	// EventPowerChange is emitted when the power of a wire changed.
	EventPowerChange
	// EventOutput is emitted when a consumer, such as a lamp, toggled.
	EventOutput
)

// Event is a single change applied by a Step.
type Event struct {
	Pos   cube.Pos
	Kind  EventKind
	Power uint8
	Tick  int64
}

// ChunkID identifies a chunk in Morton space without tying the package to chunk.Pos.
type ChunkID struct {
	X, Z int32
}

// ChunkOf returns the ChunkID of the chunk holding the block position.
func ChunkOf(pos cube.Pos) ChunkID {
	return ChunkID{X: int32(pos[0] >> 4), Z: int32(pos[2] >> 4)}
}

// Morton returns the deterministic order value for the chunk.
func (id ChunkID) Morton() uint64 {
	return morton2(toUnsigned(id.X), toUnsigned(id.Z))
}

func toUnsigned(v int32) uint32 {
	return uint32(v) ^ (1 << 31)
}

func splitBy1(x uint32) uint64 {
	x64 := uint64(x)
	x64 = (x64 | x64<<16) & 0x0000FFFF0000FFFF
	x64 = (x64 | x64<<8) & 0x00FF00FF00FF00FF
	x64 = (x64 | x64<<4) & 0x0F0F0F0F0F0F0F0F
	x64 = (x64 | x64<<2) & 0x3333333333333333
	x64 = (x64 | x64<<1) & 0x5555555555555555
	return x64
}

func morton2(x, z uint32) uint64 {
	return splitBy1(x) | splitBy1(z)<<1
}

// comparePos orders block positions by the Morton order of their chunk,
// then by y, z and x.
func comparePos(a, b cube.Pos) int {
	if c := cmp.Compare(ChunkOf(a).Morton(), ChunkOf(b).Morton()); c != 0 {
		return c
	}
	if c := cmp.Compare(a[1], b[1]); c != 0 {
		return c
	}
	if c := cmp.Compare(a[2], b[2]); c != 0 {
		return c
	}
	return cmp.Compare(a[0], b[0])
}

// SortPositions sorts positions in place in the order propagation visits
// them.
func SortPositions(positions []cube.Pos) {
	slices.SortFunc(positions, comparePos)
}

// sortEventsDeterministic sorts in place using the deterministic position order.
func sortEventsDeterministic(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		return comparePos(a.Pos, b.Pos)
	})
}
