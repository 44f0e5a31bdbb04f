package world

import (
	"log/slog"
	"time"

	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/redstone"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/region"
)

// Config may be used to create a new World. It holds the settings that are
// fixed for the lifetime of the World.
type Config struct {
	// Log is the Logger that will be used to log errors and debug messages to.
	// If set to nil, slog.Default() is used.
	Log *slog.Logger
	// Name is the display name of the World, saved to level.dat.
	Name string
	// Dir is the directory the World is stored in. Region files go in its
	// region subdirectory and level.dat in the directory itself. If empty and
	// Store is nil, nothing is persisted.
	Dir string
	// Dim is the Dimension of the World. It decides the height range of the
	// chunks. Defaults to Overworld.
	Dim Dimension
	// Store is the storage chunks are loaded from and saved to. If nil, a
	// region.Provider is opened in Dir using Format, Compression and
	// RegionSize.
	Store region.Store
	// Format is the region file layout used when Store is nil.
	Format region.Format
	// Compression is the chunk compression used by the Anvil format.
	Compression region.Compression
	// RegionSize is the amount of chunks on each axis of a region. Defaults
	// to region.DefaultSize.
	RegionSize int
	// Seed is the seed of the World. A seed already stored in level.dat takes
	// precedence.
	Seed int64
	// Generator generates chunks that are not present in the Store. Defaults
	// to NopGenerator.
	Generator Generator
	// Populator runs once for every chunk whose neighbours are all generated.
	// If nil, chunks are never populated.
	Populator Populator
	// Entities is the EntityRegistry used to decode stored entities. Entities
	// of types not in the registry are kept as they were stored.
	Entities EntityRegistry
	// CacheSize is the amount of chunks kept in memory before unreferenced
	// chunks are evicted. Defaults to 1024.
	CacheSize int
	// TickInterval is the time between two ticks. Defaults to 50ms. A
	// negative value disables ticking entirely.
	TickInterval time.Duration
	// SaveInterval is the time between two saves of dirty chunks. Defaults to
	// 30s. A negative value disables periodic saving. Chunks are still saved
	// on eviction and when the World is closed.
	SaveInterval time.Duration
	// CorruptPolicy decides what happens when a stored chunk is corrupt.
	CorruptPolicy CorruptPolicy
	// Redstone holds the settings of redstone propagation.
	Redstone redstone.Config
}

// CorruptPolicy specifies how a World handles chunks that fail validation
// when loaded.
type CorruptPolicy uint8

const (
	// CorruptFail returns the error to the caller of World.Acquire. The chunk
	// cannot be used until the data is repaired.
	CorruptFail CorruptPolicy = iota
	// CorruptRegenerate logs the error and generates the chunk anew. The
	// corrupt data is overwritten on the next save.
	CorruptRegenerate
)

// String ...
func (p CorruptPolicy) String() string {
	if p == CorruptRegenerate {
		return "regenerate"
	}
	return "fail"
}

// ParseCorruptPolicy parses fail or regenerate into a CorruptPolicy.
func ParseCorruptPolicy(s string) (CorruptPolicy, bool) {
	switch s {
	case "fail", "":
		return CorruptFail, true
	case "regenerate":
		return CorruptRegenerate, true
	}
	return 0, false
}

func (conf Config) withDefaults() Config {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Name == "" {
		conf.Name = "World"
	}
	if conf.Dim == nil {
		conf.Dim = Overworld
	}
	if conf.RegionSize <= 0 {
		conf.RegionSize = region.DefaultSize
	}
	if conf.Generator == nil {
		conf.Generator = NopGenerator{}
	}
	if conf.CacheSize <= 0 {
		conf.CacheSize = 1024
	}
	if conf.TickInterval == 0 {
		conf.TickInterval = time.Second / 20
	}
	if conf.SaveInterval == 0 {
		conf.SaveInterval = time.Second * 30
	}
	return conf
}

// Generator handles the generation of new chunks. GenerateChunk must be
// deterministic and fill only the chunk passed: anything that depends on
// neighbouring chunks belongs in a Populator.
type Generator interface {
	// GenerateChunk generates the chunk at the position passed into the
	// empty chunk.Chunk.
	GenerateChunk(pos chunk.Pos, c *chunk.Chunk)
}

// NopGenerator is a Generator that leaves chunks empty.
type NopGenerator struct{}

// GenerateChunk ...
func (NopGenerator) GenerateChunk(chunk.Pos, *chunk.Chunk) {}

// Populator finishes the chunks a Generator produced once all eight of their
// neighbours exist, for example by placing trees that extend into them.
// Populate is called on the tick goroutine and may change blocks of the
// chunk and of its neighbours through the Tx.
type Populator interface {
	Populate(tx *Tx, pos chunk.Pos)
}
