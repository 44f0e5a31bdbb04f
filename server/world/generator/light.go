package generator

import (
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
)

// Light computes the sky light and block light of a chunk. Sky light falls
// straight down from the top of the world and weakens by the diffusion of
// every block it passes. Block light spreads from emitting blocks in all
// directions, losing one level per block. Light does not cross the borders
// of the chunk.
func Light(c *chunk.Chunk) {
	r := c.Range()
	for x := uint8(0); x < 16; x++ {
		for z := uint8(0); z < 16; z++ {
			level := uint8(15)
			for y := r.Max(); y >= r.Min(); y-- {
				if d := c.Block(x, y, z).LightDiffusion(); d >= level {
					level = 0
				} else {
					level -= d
				}
				c.SetSkyLight(x, y, z, level)
			}
		}
	}

	var queue []cube.Pos
	for x := uint8(0); x < 16; x++ {
		for z := uint8(0); z < 16; z++ {
			for y := r.Min(); y <= r.Max(); y++ {
				e := c.Block(x, y, z).LightEmission()
				c.SetBlockLight(x, y, z, e)
				if e > 0 {
					queue = append(queue, cube.Pos{int(x), y, int(z)})
				}
			}
		}
	}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		level := c.BlockLight(uint8(p[0]), p[1], uint8(p[2]))
		p.Neighbours(func(n cube.Pos) {
			if n[0] < 0 || n[0] > 15 || n[2] < 0 || n[2] > 15 {
				return
			}
			x, z := uint8(n[0]), uint8(n[2])
			loss := 1 + c.Block(x, n[1], z).LightDiffusion()
			if loss >= level {
				return
			}
			if level-loss > c.BlockLight(x, n[1], z) {
				c.SetBlockLight(x, n[1], z, level-loss)
				queue = append(queue, n)
			}
		}, r)
	}
}
