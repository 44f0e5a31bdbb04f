package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml"
	"github.com/wHoIsDReAmer/Pumpkin/server/world"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/region"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Log:          slog.New(slog.DiscardHandler),
		Dir:          t.TempDir(),
		TickInterval: -1,
		SaveInterval: -1,
	}
}

func TestDisabledDimensionsFallBackToOverworld(t *testing.T) {
	conf := testConfig(t)
	conf.DisableNether, conf.DisableEnd = true, true
	srv, err := conf.New()
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()

	if srv.Nether() != srv.World() {
		t.Fatalf("expected nether to fall back to overworld")
	}
	if srv.End() != srv.World() {
		t.Fatalf("expected end to fall back to overworld")
	}
	if n := len(srv.Worlds()); n != 1 {
		t.Fatalf("expected 1 world, got %d", n)
	}
}

func TestDimensionsUseSeparateDirectories(t *testing.T) {
	conf := testConfig(t)
	srv, err := conf.New()
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	for _, dim := range []world.Dimension{world.Overworld, world.Nether, world.End} {
		if got := srv.Dimension(dim).Dimension(); got != dim {
			t.Fatalf("expected %v world, got %v", dim, got)
		}
		if _, err := srv.RequestChunk(context.Background(), dim, chunk.Pos{0, 0}); err != nil {
			t.Fatalf("request %v chunk: %v", dim, err)
		}
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("close server: %v", err)
	}
	for _, sub := range []string{"", "DIM-1", "DIM1"} {
		dir := filepath.Join(conf.Dir, sub)
		if _, err := os.Stat(filepath.Join(dir, "level.dat")); err != nil {
			t.Fatalf("expected level.dat in %q: %v", sub, err)
		}
		if _, err := os.Stat(filepath.Join(dir, "region", "r.0.0.mca")); err != nil {
			t.Fatalf("expected region file in %q: %v", sub, err)
		}
	}
}

func TestNetherIsFlatNetherrack(t *testing.T) {
	conf := testConfig(t)
	conf.Dir = ""
	conf.DisableEnd = true
	srv, err := conf.New()
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()

	h, err := srv.Nether().Acquire(context.Background(), chunk.Pos{3, -2})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.Release()
	h.View(func(c *chunk.Chunk) {
		if got := c.HighestBlock(0, 0); got != 3 {
			t.Fatalf("expected highest block at 3, got %d", got)
		}
	})
}

func TestUserConfig(t *testing.T) {
	uc := DefaultConfig()
	data, err := toml.Marshal(uc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded UserConfig
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != uc {
		t.Fatalf("expected %+v, got %+v", uc, decoded)
	}

	uc.World.Format = "linear"
	uc.World.CorruptChunks = "regenerate"
	conf, err := uc.Config(slog.Default())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if conf.Format != region.Linear {
		t.Fatalf("expected linear format, got %v", conf.Format)
	}
	if conf.CorruptPolicy != world.CorruptRegenerate {
		t.Fatalf("expected regenerate policy, got %v", conf.CorruptPolicy)
	}
	if conf.Dir != "world" {
		t.Fatalf("expected dir world, got %q", conf.Dir)
	}

	for _, f := range []func(*UserConfig){
		func(uc *UserConfig) { uc.World.Format = "mcr" },
		func(uc *UserConfig) { uc.World.Compression = "lz4" },
		func(uc *UserConfig) { uc.World.CorruptChunks = "ignore" },
		func(uc *UserConfig) { uc.World.Generator = "void" },
	} {
		bad := DefaultConfig()
		f(&bad)
		if _, err := bad.Config(slog.Default()); err == nil {
			t.Fatalf("expected error for %+v", bad.World)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	if l := ParseLogLevel("debug"); l != slog.LevelDebug {
		t.Fatalf("expected debug, got %v", l)
	}
	if l := ParseLogLevel("nonsense"); l != slog.LevelInfo {
		t.Fatalf("expected info, got %v", l)
	}
}
