package chunk

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/biome"
)

// SectionSize is the height of a single chunk section in blocks.
const SectionSize = 16

// Chunk is a 16 block wide column of block states covering the full height
// of a world, together with its biomes and light. A Chunk is not safe for
// concurrent use. The world guards every Chunk with its own lock.
type Chunk struct {
	pos Pos
	r   cube.Range

	blocks     []uint32
	biomes     []biome.Biome
	blockLight []uint8
	skyLight   []uint8
	status     Status

	dirty      bool
	modCount   uint64
	lastAccess atomic.Int64
}

// New creates an empty Chunk at a position for the height range passed. The
// height of the range must be a multiple of SectionSize.
func New(pos Pos, r cube.Range) *Chunk {
	h := r.Height()
	if h <= 0 || h%SectionSize != 0 {
		panic("chunk: range height must be a positive multiple of 16")
	}
	sections := h / SectionSize
	c := &Chunk{
		pos:        pos,
		r:          r,
		blocks:     make([]uint32, h*256),
		biomes:     make([]biome.Biome, sections*64),
		blockLight: make([]uint8, h*128),
		skyLight:   make([]uint8, h*128),
	}
	c.Touch()
	return c
}

// Pos returns the position of the Chunk.
func (c *Chunk) Pos() Pos {
	return c.pos
}

// Range returns the height range of the Chunk.
func (c *Chunk) Range() cube.Range {
	return c.r
}

// Sections returns the amount of 16 block tall sections in the Chunk.
func (c *Chunk) Sections() int {
	return c.r.Height() / SectionSize
}

// index returns the index of a block in the blocks slice. ok is false if the
// position lies outside the Chunk.
func (c *Chunk) index(x uint8, y int, z uint8) (int, bool) {
	if x > 15 || z > 15 || y < c.r[0] || y > c.r[1] {
		return 0, false
	}
	return (y-c.r[0])<<8 | int(z)<<4 | int(x), true
}

// Block returns the block state at a local x and z position (0-15) and world
// y. Positions outside the Chunk return air.
func (c *Chunk) Block(x uint8, y int, z uint8) block.State {
	i, ok := c.index(x, y, z)
	if !ok {
		return block.AirState
	}
	return block.State(c.blocks[i])
}

// SetBlock sets the block state at a local position. It returns false if the
// position lies outside the Chunk. The Chunk is only marked dirty if the
// state changed.
func (c *Chunk) SetBlock(x uint8, y int, z uint8, s block.State) bool {
	i, ok := c.index(x, y, z)
	if !ok {
		return false
	}
	if c.blocks[i] != uint32(s) {
		c.blocks[i] = uint32(s)
		c.MarkDirty()
	}
	return true
}

// HighestBlock returns the y of the highest non-air block at a local x and z.
// If the column is empty, the minimum y of the range minus one is returned.
func (c *Chunk) HighestBlock(x, z uint8) int {
	for y := c.r[1]; y >= c.r[0]; y-- {
		if c.Block(x, y, z) != block.AirState {
			return y
		}
	}
	return c.r[0] - 1
}

func (c *Chunk) biomeIndex(x uint8, y int, z uint8) (int, bool) {
	if x > 15 || z > 15 || y < c.r[0] || y > c.r[1] {
		return 0, false
	}
	ry := y - c.r[0]
	return (ry>>4)*64 | ((ry>>2)&3)<<4 | int(z>>2)<<2 | int(x>>2), true
}

// Biome returns the biome at a local position. Biomes are stored per 4x4x4
// cell.
func (c *Chunk) Biome(x uint8, y int, z uint8) biome.Biome {
	i, ok := c.biomeIndex(x, y, z)
	if !ok {
		return biome.Plains
	}
	return c.biomes[i]
}

// SetBiome sets the biome of the 4x4x4 cell holding the local position.
func (c *Chunk) SetBiome(x uint8, y int, z uint8, b biome.Biome) bool {
	i, ok := c.biomeIndex(x, y, z)
	if !ok {
		return false
	}
	if c.biomes[i] != b {
		c.biomes[i] = b
		c.MarkDirty()
	}
	return true
}

// BlockLight returns the block light level at a local position.
func (c *Chunk) BlockLight(x uint8, y int, z uint8) uint8 {
	return c.nibble(c.blockLight, x, y, z)
}

// SetBlockLight sets the block light level at a local position.
func (c *Chunk) SetBlockLight(x uint8, y int, z uint8, level uint8) {
	c.setNibble(c.blockLight, x, y, z, level)
}

// SkyLight returns the sky light level at a local position.
func (c *Chunk) SkyLight(x uint8, y int, z uint8) uint8 {
	return c.nibble(c.skyLight, x, y, z)
}

// SetSkyLight sets the sky light level at a local position.
func (c *Chunk) SetSkyLight(x uint8, y int, z uint8, level uint8) {
	c.setNibble(c.skyLight, x, y, z, level)
}

func (c *Chunk) nibble(arr []uint8, x uint8, y int, z uint8) uint8 {
	i, ok := c.index(x, y, z)
	if !ok {
		return 0
	}
	return arr[i>>1] >> ((i & 1) << 2) & 0xf
}

func (c *Chunk) setNibble(arr []uint8, x uint8, y int, z uint8, level uint8) {
	i, ok := c.index(x, y, z)
	if !ok {
		return
	}
	shift := (i & 1) << 2
	v := arr[i>>1]&^(0xf<<shift) | (level&0xf)<<shift
	if arr[i>>1] != v {
		arr[i>>1] = v
		c.MarkDirty()
	}
}

// Status returns the generation status of the Chunk.
func (c *Chunk) Status() Status {
	return c.status
}

// SetStatus changes the generation status of the Chunk.
func (c *Chunk) SetStatus(s Status) {
	if c.status != s {
		c.status = s
		c.MarkDirty()
	}
}

// Dirty checks if the Chunk changed since it was last persisted.
func (c *Chunk) Dirty() bool {
	return c.dirty
}

// ModCount returns a counter that increases with every change to the Chunk.
func (c *Chunk) ModCount() uint64 {
	return c.modCount
}

// MarkDirty marks the Chunk as changed.
func (c *Chunk) MarkDirty() {
	c.dirty = true
	c.modCount++
}

// ClearDirty clears the dirty flag of the Chunk if it was not changed after
// ModCount returned mod. It reports whether the flag was cleared.
func (c *Chunk) ClearDirty(mod uint64) bool {
	if c.modCount != mod {
		return false
	}
	c.dirty = false
	return true
}

// Touch sets the last access time of the Chunk to now. It is safe to call
// concurrently.
func (c *Chunk) Touch() {
	c.lastAccess.Store(time.Now().UnixNano())
}

// LastAccess returns the time the Chunk was last touched.
func (c *Chunk) LastAccess() time.Time {
	return time.Unix(0, c.lastAccess.Load())
}

// Clone returns a deep copy of the Chunk, including its dirty state.
func (c *Chunk) Clone() *Chunk {
	cp := &Chunk{
		pos:        c.pos,
		r:          c.r,
		blocks:     slices.Clone(c.blocks),
		biomes:     slices.Clone(c.biomes),
		blockLight: slices.Clone(c.blockLight),
		skyLight:   slices.Clone(c.skyLight),
		status:     c.status,
		dirty:      c.dirty,
		modCount:   c.modCount,
	}
	cp.lastAccess.Store(c.lastAccess.Load())
	return cp
}

// Equal checks if the position, blocks, biomes, light and status of two
// chunks are equal.
func (c *Chunk) Equal(o *Chunk) bool {
	return c.pos == o.pos && c.r == o.r && c.status == o.status &&
		slices.Equal(c.blocks, o.blocks) &&
		slices.Equal(c.biomes, o.biomes) &&
		slices.Equal(c.blockLight, o.blockLight) &&
		slices.Equal(c.skyLight, o.skyLight)
}
