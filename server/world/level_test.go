package world

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/region"
)

func openDiskWorld(t *testing.T, conf Config) *World {
	t.Helper()
	conf.Log = slog.New(slog.DiscardHandler)
	conf.TickInterval, conf.SaveInterval = -1, -1
	w, err := conf.New()
	if err != nil {
		t.Fatalf("expected world to open, got %v", err)
	}
	return w
}

func TestCloseWritesRegionsAndLevel(t *testing.T) {
	dir := t.TempDir()
	w := openDiskWorld(t, Config{Dir: dir, Format: region.Linear, Seed: 42, Name: "test"})
	h, err := w.Acquire(context.Background(), chunk.Pos{-1, 3})
	if err != nil {
		t.Fatalf("expected acquire to succeed, got %v", err)
	}
	h.SetBlock(cube.Pos{-8, 10, 50}, block.New(block.Glass, 0))
	_ = h.Release()
	for range 7 {
		w.step()
	}
	if err := w.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}

	l, ok, err := LoadLevel(dir)
	if err != nil || !ok {
		t.Fatalf("expected level.dat to be written, got %v, %v", ok, err)
	}
	if l.Time != 7 || l.RandomSeed != 42 || l.ChunkFormat != "linear" || l.LevelName != "test" {
		t.Fatalf("unexpected level.dat contents: %+v", l)
	}

	p, err := region.Config{Dir: dir + "/region", Format: region.Linear}.Open()
	if err != nil {
		t.Fatalf("expected region store to open, got %v", err)
	}
	defer p.Close()
	col, err := p.Load(chunk.Pos{-1, 3})
	if err != nil {
		t.Fatalf("expected stored chunk, got %v", err)
	}
	if got := col.Block(8, 10, 2); got != block.New(block.Glass, 0) {
		t.Fatalf("expected glass in the stored chunk, got %v", got)
	}
}

func TestReopenRestoresTickAndSeed(t *testing.T) {
	dir := t.TempDir()
	w := openDiskWorld(t, Config{Dir: dir, Seed: 1})
	for range 3 {
		w.step()
	}
	if err := w.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}

	w = openDiskWorld(t, Config{Dir: dir, Seed: 99})
	defer w.Close()
	if w.Seed() != 1 {
		t.Fatalf("expected stored seed 1 to win, got %d", w.Seed())
	}
	if w.CurrentTick() != 3 {
		t.Fatalf("expected tick 3 to be restored, got %d", w.CurrentTick())
	}
}

func TestFormatMismatchRefused(t *testing.T) {
	dir := t.TempDir()
	w := openDiskWorld(t, Config{Dir: dir, Format: region.Anvil})
	if err := w.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	_, err := Config{Dir: dir, Format: region.Linear, Log: slog.New(slog.DiscardHandler)}.New()
	if err == nil || !strings.Contains(err.Error(), "chunk format") {
		t.Fatalf("expected format mismatch error, got %v", err)
	}
	_, err = Config{Dir: dir, RegionSize: 16, Log: slog.New(slog.DiscardHandler)}.New()
	if err == nil || !strings.Contains(err.Error(), "region size") {
		t.Fatalf("expected region size mismatch error, got %v", err)
	}
}

func TestDirectoryLockedWhileOpen(t *testing.T) {
	dir := t.TempDir()
	w := openDiskWorld(t, Config{Dir: dir})
	_, err := Config{Dir: dir, Log: slog.New(slog.DiscardHandler), TickInterval: -1, SaveInterval: -1}.New()
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked for a directory in use, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	w = openDiskWorld(t, Config{Dir: dir})
	if err := w.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
}

func TestFailedOpenReleasesLock(t *testing.T) {
	dir := t.TempDir()
	if err := (Level{ChunkFormat: "linear", RegionSize: region.DefaultSize}).Write(dir); err != nil {
		t.Fatalf("write level.dat: %v", err)
	}
	if _, err := (Config{Dir: dir, Log: slog.New(slog.DiscardHandler)}).New(); err == nil {
		t.Fatalf("expected format mismatch error")
	}
	w := openDiskWorld(t, Config{Dir: dir, Format: region.Linear})
	if err := w.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
}
