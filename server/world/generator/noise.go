package generator

import (
	"math"

	"github.com/segmentio/fasthash/fnv1a"
	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/biome"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
)

// SmoothSize is the radius in blocks over which the elevation of
// neighbouring biomes is blended.
const SmoothSize = 2

var gaussianKernel = func() (k [2*SmoothSize + 1][2*SmoothSize + 1]float64) {
	for x := -SmoothSize; x <= SmoothSize; x++ {
		for z := -SmoothSize; z <= SmoothSize; z++ {
			k[x+SmoothSize][z+SmoothSize] = 4 * math.Exp(-float64(x*x+z*z)/8)
		}
	}
	return k
}()

// Noise generates rolling terrain from seeded value noise. Biomes are picked
// from temperature and rainfall noise and decide the elevation and the
// ground cover of a column. Noise is safe for concurrent use.
type Noise struct {
	seed uint64
	// SeaLevel is the highest Y filled with water.
	SeaLevel int
}

// NewNoise returns a Noise generator for the seed passed, with a sea level
// of 62.
func NewNoise(seed int64) *Noise {
	return &Noise{seed: fnv1a.HashUint64(uint64(seed)), SeaLevel: 62}
}

// GenerateChunk ...
func (n *Noise) GenerateChunk(pos chunk.Pos, c *chunk.Chunk) {
	r := c.Range()
	baseX, baseZ := int64(pos[0])<<4, int64(pos[1])<<4

	var biomes [16][16]biome.Biome
	cache := make(map[[2]int64]biome.Biome, 20*20)
	pick := func(x, z int64) biome.Biome {
		k := [2]int64{x, z}
		if b, ok := cache[k]; ok {
			return b
		}
		b := n.Biome(x, z)
		cache[k] = b
		return b
	}

	for x := int64(0); x < 16; x++ {
		for z := int64(0); z < 16; z++ {
			wx, wz := baseX+x, baseZ+z
			b := pick(wx, wz)
			biomes[x][z] = b

			var minSum, maxSum, weightSum float64
			for sx := int64(-SmoothSize); sx <= SmoothSize; sx++ {
				for sz := int64(-SmoothSize); sz <= SmoothSize; sz++ {
					weight := gaussianKernel[sx+SmoothSize][sz+SmoothSize]
					lo, hi := elevation(pick(wx+sx, wz+sz))
					minSum += float64(lo) * weight
					maxSum += float64(hi) * weight
					weightSum += weight
				}
			}
			minSum /= weightSum
			maxSum /= weightSum

			height := int(minSum + (maxSum-minSum)*n.fbm(0, float64(wx), float64(wz), 1.0/48, 4))
			height = min(max(height, r.Min()+1), r.Max())
			n.column(c, uint8(x), uint8(z), height, b)
		}
	}
	fillBiome(c, func(x, z uint8) biome.Biome { return biomes[x][z] })
}

// column fills a single column of the chunk up to height.
func (n *Noise) column(c *chunk.Chunk, x, z uint8, height int, b biome.Biome) {
	r := c.Range()
	c.SetBlock(x, r.Min(), z, block.New(block.Bedrock, 0))

	cover := groundCover(b, height, n.SeaLevel)
	top := height - len(cover)
	for y := r.Min() + 1; y <= top; y++ {
		c.SetBlock(x, y, z, block.New(block.Stone, 0))
	}
	for i, s := range cover {
		if y := height - i; y > r.Min() {
			c.SetBlock(x, y, z, s)
		}
	}
	for y := height + 1; y <= n.SeaLevel && y <= r.Max(); y++ {
		c.SetBlock(x, y, z, block.WaterState(0))
	}
}

// Biome returns the biome of the column at the world X and Z passed.
func (n *Noise) Biome(x, z int64) biome.Biome {
	if n.fbm(3, float64(x), float64(z), 1.0/512, 2) < 0.32 {
		return biome.Ocean
	}
	temperature := n.fbm(1, float64(x), float64(z), 1.0/256, 2)
	rainfall := n.fbm(2, float64(x), float64(z), 1.0/256, 2)
	return biome.Select(temperature, rainfall)
}

// elevation returns the lowest and highest terrain height of a biome.
func elevation(b biome.Biome) (int, int) {
	switch b {
	case biome.Ocean:
		return 46, 58
	case biome.Desert, biome.Plains:
		return 63, 70
	case biome.Swamp:
		return 61, 64
	case biome.Forest:
		return 63, 78
	case biome.Taiga, biome.SnowyPlains:
		return 63, 84
	case biome.River:
		return 58, 62
	}
	return 63, 68
}

// groundCover returns the blocks covering the stone of a column, from the
// top down.
func groundCover(b biome.Biome, height, seaLevel int) []block.State {
	sand := block.New(block.Sand, 0)
	dirt := block.New(block.Dirt, 0)
	switch {
	case b == biome.Desert, height <= seaLevel+1 && b != biome.Swamp:
		return []block.State{sand, sand, sand}
	case b == biome.Ocean:
		return []block.State{block.New(block.Gravel, 0), dirt}
	}
	return []block.State{block.New(block.Grass, 0), dirt, dirt}
}

// lattice returns a value in the range 0-1 for a point of the noise lattice.
// Every octave of every noise map has a lattice of its own.
func (n *Noise) lattice(octave, x, z int64) float64 {
	h := fnv1a.AddUint64(n.seed, uint64(octave))
	h = fnv1a.AddUint64(h, uint64(x))
	h = fnv1a.AddUint64(h, uint64(z))
	// splitmix64 finaliser.
	h ^= h >> 29
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 32
	return float64(h>>11) / (1 << 53)
}

// value returns smoothly interpolated value noise at x and z.
func (n *Noise) value(octave int64, x, z float64) float64 {
	x0, z0 := math.Floor(x), math.Floor(z)
	fx, fz := smoothstep(x-x0), smoothstep(z-z0)
	ix, iz := int64(x0), int64(z0)

	a := n.lattice(octave, ix, iz)
	b := n.lattice(octave, ix+1, iz)
	c := n.lattice(octave, ix, iz+1)
	d := n.lattice(octave, ix+1, iz+1)
	return lerp(lerp(a, b, fx), lerp(c, d, fx), fz)
}

// fbm sums octaves of value noise for a noise map, each at double the
// frequency and half the amplitude of the previous. The result is in the
// range 0-1.
func (n *Noise) fbm(noise int64, x, z, scale float64, octaves int) float64 {
	var sum, norm float64
	amplitude := 1.0
	for i := range octaves {
		sum += amplitude * n.value(noise<<8|int64(i), x*scale, z*scale)
		norm += amplitude
		amplitude /= 2
		scale *= 2
	}
	return sum / norm
}

func smoothstep(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
