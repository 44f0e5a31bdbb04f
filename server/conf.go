package server

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/entity"
	"github.com/wHoIsDReAmer/Pumpkin/server/world"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/biome"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/generator"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/redstone"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/region"
)

// Config contains options for starting a Pumpkin server.
type Config struct {
	// Log is the Logger to use for logging information. If nil, Log is set to
	// slog.Default().
	Log *slog.Logger
	// Name is the name of the server, saved as the level name of its worlds.
	Name string
	// Dir is the directory the overworld is stored in. The nether and the end
	// are stored in the DIM-1 and DIM1 subdirectories. If empty, nothing is
	// persisted.
	Dir string
	// Format is the region file format of newly created worlds. Existing
	// worlds must be opened with the format they were created with.
	Format region.Format
	// Compression is the chunk compression of the Anvil format.
	Compression region.Compression
	// RegionSize is the amount of chunks on each axis of a region file.
	RegionSize int
	// CacheSize is the amount of chunks each world keeps in memory.
	CacheSize int
	// TickInterval and SaveInterval are the time between two ticks and two
	// saves of every world.
	TickInterval, SaveInterval time.Duration
	// CorruptPolicy decides what happens to chunks that fail validation.
	CorruptPolicy world.CorruptPolicy
	// Redstone holds the redstone settings of every world.
	Redstone redstone.Config
	// Seed is the seed of the worlds. A seed stored in a world takes
	// precedence.
	Seed int64
	// Generator should return the world.Generator to use for every
	// world.Dimension. If nil, the overworld uses noise terrain and the
	// nether and end are flat.
	Generator func(dim world.Dimension) world.Generator
	// Populator should return the world.Populator of every world.Dimension.
	// If nil, the overworld is decorated with trees and the nether and end
	// are not populated.
	Populator func(dim world.Dimension) world.Populator
	// Entities is the registry used to load entities. If empty,
	// entity.DefaultRegistry is used.
	Entities world.EntityRegistry
	// DisableNether and DisableEnd prevent the nether and the end from being
	// opened.
	DisableNether, DisableEnd bool
}

// New creates a Server using fields of conf and opens its worlds.
func (conf Config) New() (*Server, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Name == "" {
		conf.Name = "Pumpkin Server"
	}
	if conf.Generator == nil {
		conf.Generator = defaultGeneratorProvider(conf.Seed)
	}
	if conf.Populator == nil {
		conf.Populator = defaultPopulatorProvider(conf.Seed)
	}
	if len(conf.Entities.Types()) == 0 {
		conf.Entities = entity.DefaultRegistry
	}

	srv := &Server{conf: conf, dimensions: make(map[world.Dimension]*world.World)}
	for _, dim := range []world.Dimension{world.Overworld, world.Nether, world.End} {
		if conf.dimensionDisabled(dim) {
			conf.Log.Info("Skipping dimension load: dimension disabled", "dimension", strings.ToLower(dim.String()))
			continue
		}
		w, err := srv.createWorld(dim)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("open %v: %w", dim, err), srv.Close())
		}
		srv.dimensions[dim] = w
	}
	srv.world = srv.dimensions[world.Overworld]
	return srv, nil
}

func (conf Config) dimensionDisabled(dim world.Dimension) bool {
	switch dim {
	case world.Nether:
		return conf.DisableNether
	case world.End:
		return conf.DisableEnd
	}
	return false
}

// defaultGeneratorProvider returns the generator function to use when none is supplied by the user configuration.
func defaultGeneratorProvider(seed int64) func(dim world.Dimension) world.Generator {
	return func(dim world.Dimension) world.Generator {
		switch dim {
		case world.Nether:
			return generator.Flat{Biome: biome.NetherWastes, Layers: []block.State{
				block.New(block.Bedrock, 0), block.New(block.Netherrack, 0), block.New(block.Netherrack, 0), block.New(block.Netherrack, 0),
			}}
		case world.End:
			return generator.Flat{Biome: biome.TheEnd, Layers: []block.State{
				block.New(block.Bedrock, 0), block.New(block.EndStone, 0), block.New(block.EndStone, 0), block.New(block.EndStone, 0),
			}}
		}
		return generator.NewNoise(seed)
	}
}

func defaultPopulatorProvider(seed int64) func(dim world.Dimension) world.Populator {
	return func(dim world.Dimension) world.Populator {
		if dim == world.Overworld {
			return generator.Decorator{Seed: seed}
		}
		return nil
	}
}

// UserConfig is the user configuration for a Pumpkin server. It is stored as
// config.toml and can be converted to a Config by calling UserConfig.Config().
type UserConfig struct {
	Server struct {
		// Name is the name of the server.
		Name string
		// LogLevel is the lowest level logged: debug, info, warn or error.
		LogLevel string
	}
	World struct {
		// SaveData controls whether the worlds are saved to and loaded from
		// Folder. If false, every chunk is generated anew on every start.
		SaveData bool
		// Folder is the folder that the data of the world resides in.
		Folder string
		// Format is the region file format of new worlds: anvil or linear.
		Format string
		// Compression is the chunk compression of the anvil format: zlib,
		// gzip or none.
		Compression string
		// RegionSize is the amount of chunks on each axis of a region file.
		RegionSize int
		// Seed controls the generation of the worlds.
		Seed int64
		// Generator is the overworld generator: noise or flat.
		Generator string
		// CorruptChunks decides what happens to chunks that fail validation:
		// fail or regenerate.
		CorruptChunks string
		// DisableNether and DisableEnd prevent the other dimensions from
		// being opened.
		DisableNether, DisableEnd bool
	}
	Performance struct {
		// CacheSize is the amount of chunks kept in memory per world.
		CacheSize int
		// TickInterval is the time between two ticks in milliseconds.
		TickInterval int
		// SaveInterval is the time between two saves in seconds.
		SaveInterval int
		// RedstoneBudget is the maximum amount of redstone components
		// updated per tick.
		RedstoneBudget int
	}
}

// Config converts a UserConfig to a Config, so that it may be used for
// creating a Server. An error is returned if one of the settings holds an
// unknown value.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	conf := Config{
		Log:           log,
		Name:          uc.Server.Name,
		RegionSize:    uc.World.RegionSize,
		CacheSize:     uc.Performance.CacheSize,
		TickInterval:  time.Duration(uc.Performance.TickInterval) * time.Millisecond,
		SaveInterval:  time.Duration(uc.Performance.SaveInterval) * time.Second,
		Redstone:      redstone.Config{BudgetPerTick: uc.Performance.RedstoneBudget},
		Seed:          uc.World.Seed,
		DisableNether: uc.World.DisableNether,
		DisableEnd:    uc.World.DisableEnd,
	}
	if uc.World.SaveData {
		conf.Dir = uc.World.Folder
	}
	var err error
	if conf.Format, err = region.ParseFormat(uc.World.Format); err != nil {
		return conf, fmt.Errorf("parse world format: %w", err)
	}
	if conf.Compression, err = region.ParseCompression(uc.World.Compression); err != nil {
		return conf, fmt.Errorf("parse world compression: %w", err)
	}
	policy, ok := world.ParseCorruptPolicy(uc.World.CorruptChunks)
	if !ok {
		return conf, fmt.Errorf("parse corrupt chunk policy: unknown policy %q", uc.World.CorruptChunks)
	}
	conf.CorruptPolicy = policy

	switch strings.ToLower(uc.World.Generator) {
	case "", "noise":
	case "flat":
		def := defaultGeneratorProvider(conf.Seed)
		conf.Generator = func(dim world.Dimension) world.Generator {
			if dim == world.Overworld {
				return generator.NewFlat()
			}
			return def(dim)
		}
	default:
		return conf, fmt.Errorf("parse generator: unknown generator %q", uc.World.Generator)
	}
	return conf, nil
}

// ParseLogLevel parses the log level of a UserConfig. Unknown levels fall
// back to info.
func ParseLogLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Server.Name = "Pumpkin Server"
	c.Server.LogLevel = "info"
	c.World.SaveData = true
	c.World.Folder = "world"
	c.World.Format = "anvil"
	c.World.Compression = "zlib"
	c.World.RegionSize = region.DefaultSize
	c.World.Generator = "noise"
	c.World.CorruptChunks = "fail"
	c.Performance.CacheSize = 1024
	c.Performance.TickInterval = 50
	c.Performance.SaveInterval = 30
	c.Performance.RedstoneBudget = 8192
	return c
}
