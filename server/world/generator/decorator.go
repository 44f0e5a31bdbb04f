package generator

import (
	"math/rand/v2"

	"github.com/segmentio/fasthash/fnv1a"
	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/biome"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
)

// Decorator is a world.Populator that grows trees on generated terrain and
// lights the chunk afterwards. Trees are rooted in the chunk populated but
// their leaves may reach into its neighbours.
type Decorator struct {
	// Seed is the seed trees are placed with.
	Seed int64
}

// Populate ...
func (d Decorator) Populate(tx *world.Tx, pos chunk.Pos) {
	r := d.random(pos)

	var b biome.Biome
	tx.ModifyChunk(pos, func(c *chunk.Chunk) {
		b = c.Biome(8, c.HighestBlock(8, 8), 8)
	})
	origin := pos.BlockOrigin()
	for range treeCount(b, r) {
		x, z := origin[0]+r.IntN(16), origin[2]+r.IntN(16)
		y, ok := workableBlock(tx, x, z)
		if !ok {
			continue
		}
		height := 4 + r.IntN(3)
		if b == biome.Taiga || b == biome.SnowyPlains {
			height += 2
		}
		growTree(tx, cube.Pos{x, y, z}, height, r)
	}
	tx.ModifyChunk(pos, Light)
}

// random returns the random source used for a chunk. It only depends on the
// seed and the chunk position.
func (d Decorator) random(pos chunk.Pos) *rand.Rand {
	h := fnv1a.HashUint64(uint64(d.Seed))
	h = fnv1a.AddUint64(h, uint64(pos[0]))
	h = fnv1a.AddUint64(h, uint64(pos[1]))
	return rand.New(rand.NewPCG(uint64(d.Seed), h))
}

func treeCount(b biome.Biome, r *rand.Rand) int {
	switch b {
	case biome.Forest:
		return 4 + r.IntN(3)
	case biome.Taiga:
		return 2 + r.IntN(2)
	case biome.Plains, biome.Swamp, biome.SnowyPlains:
		if r.IntN(4) == 0 {
			return 1
		}
	}
	return 0
}

// workableBlock returns the Y a tree may be planted at in the column at x and
// z: right above grass or dirt.
func workableBlock(tx *world.Tx, x, z int) (int, bool) {
	y := tx.HighestBlock(x, z)
	s, ok := tx.Block(cube.Pos{x, y, z})
	if !ok {
		return 0, false
	}
	if k := s.Kind(); k != block.Grass && k != block.Dirt {
		return 0, false
	}
	return y + 1, true
}

func overridable(s block.State) bool {
	k := s.Kind()
	return k == block.Air || k == block.Leaves || k == block.Snow
}

// growTree grows an oak shaped tree with its trunk starting at pos.
func growTree(tx *world.Tx, pos cube.Pos, height int, r *rand.Rand) {
	if !canGrow(tx, pos, height) {
		return
	}
	leaves := block.New(block.Leaves, 0)
	top := pos[1] + height
	for yy := top - 3; yy <= top; yy++ {
		yOff := yy - top
		mid := 1 - yOff/2
		for xx := pos[0] - mid; xx <= pos[0]+mid; xx++ {
			xOff := abs(xx - pos[0])
			for zz := pos[2] - mid; zz <= pos[2]+mid; zz++ {
				zOff := abs(zz - pos[2])
				if xOff == mid && zOff == mid && (yOff == 0 || r.IntN(2) == 0) {
					continue
				}
				p := cube.Pos{xx, yy, zz}
				if s, ok := tx.Block(p); ok && overridable(s) {
					tx.SetBlock(p, leaves)
				}
			}
		}
	}

	tx.SetBlock(pos.Side(cube.FaceDown), block.New(block.Dirt, 0))
	for y := 0; y < height-1; y++ {
		p := pos.Add(cube.Pos{0, y, 0})
		if s, ok := tx.Block(p); ok && overridable(s) {
			tx.SetBlock(p, block.New(block.Log, 0))
		}
	}
}

// canGrow checks if the space a tree of the height passed takes up at pos is
// free. Chunks that are not resident count as free.
func canGrow(tx *world.Tx, pos cube.Pos, height int) bool {
	radius := 0
	for yy := 0; yy < height+3; yy++ {
		if yy == 1 || yy == height {
			radius++
		}
		for xx := -radius; xx <= radius; xx++ {
			for zz := -radius; zz <= radius; zz++ {
				p := cube.Pos{pos[0] + xx, pos[1] + yy, pos[2] + zz}
				if p.OutOfBounds(tx.Range()) {
					return false
				}
				if s, ok := tx.Block(p); ok && !overridable(s) {
					return false
				}
			}
		}
	}
	return true
}

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
