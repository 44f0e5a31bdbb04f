// Package generator holds the chunk generators and the populator of a World.
// Generators only ever see the chunk they fill and produce the same chunk for
// the same seed and position. Anything that crosses chunk borders, such as
// trees, is left to a Decorator.
package generator

import (
	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/biome"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
)

// Flat is a generator that fills every chunk with the same layers, starting
// at the bottom of the world.
type Flat struct {
	// Layers holds the blocks of the world from the bottom layer up.
	Layers []block.State
	// Biome is the biome set for every cell.
	Biome biome.Biome
}

// NewFlat returns a Flat generator with bedrock, two layers of dirt and a
// layer of grass in a plains biome.
func NewFlat() Flat {
	return Flat{
		Layers: []block.State{
			block.New(block.Bedrock, 0),
			block.New(block.Dirt, 0),
			block.New(block.Dirt, 0),
			block.New(block.Grass, 0),
		},
		Biome: biome.Plains,
	}
}

// GenerateChunk ...
func (f Flat) GenerateChunk(_ chunk.Pos, c *chunk.Chunk) {
	minY := c.Range().Min()
	for x := uint8(0); x < 16; x++ {
		for z := uint8(0); z < 16; z++ {
			for i, l := range f.Layers {
				c.SetBlock(x, minY+i, z, l)
			}
		}
	}
	fillBiome(c, func(uint8, uint8) biome.Biome { return f.Biome })
}

// fillBiome sets the biome of every cell of a chunk to the biome returned
// for its column.
func fillBiome(c *chunk.Chunk, f func(x, z uint8) biome.Biome) {
	r := c.Range()
	for x := uint8(0); x < 16; x += 4 {
		for z := uint8(0); z < 16; z += 4 {
			b := f(x, z)
			for y := r.Min(); y <= r.Max(); y += 4 {
				c.SetBiome(x, y, z, b)
			}
		}
	}
}
