package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/region"
)

// inspect_region prints a summary of every chunk stored in the region files
// of a world directory.
func main() {
	dir := flag.String("world", "world", "world directory containing level.dat")
	flag.Parse()

	lvl, ok, err := world.LoadLevel(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "no level.dat in %v\n", *dir)
		os.Exit(2)
	}
	format, err := region.ParseFormat(lvl.ChunkFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	p, err := region.Config{
		Log:    slog.New(slog.NewTextHandler(os.Stderr, nil)),
		Dir:    filepath.Join(*dir, "region"),
		Format: format,
		Size:   int(lvl.RegionSize),
		Range:  cube.Range{int(lvl.MinY), int(lvl.MaxY)},
	}.Open()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer p.Close()

	fmt.Printf("%v: seed=%v tick=%v format=%v region_size=%v\n", lvl.LevelName, lvl.RandomSeed, lvl.Time, format, lvl.RegionSize)
	regions, err := p.Regions()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, rp := range regions {
		positions, err := p.Chunks(rp)
		if err != nil {
			fmt.Printf("region %v: %v\n", rp, err)
			continue
		}
		fmt.Printf("region %v: %v chunks\n", rp, len(positions))
		for _, pos := range positions {
			col, err := p.Load(pos)
			if err != nil {
				fmt.Printf("  chunk %v: %v\n", pos, err)
				continue
			}
			r := col.Range()
			solid := 0
			for x := uint8(0); x < 16; x++ {
				for z := uint8(0); z < 16; z++ {
					for y := r.Min(); y <= r.Max(); y++ {
						if col.Block(x, y, z) != block.AirState {
							solid++
						}
					}
				}
			}
			fmt.Printf("  chunk %v: status=%v blocks=%v entities=%v block_ticks=%v fluid_ticks=%v\n",
				pos, col.Status(), solid, len(col.Entities), len(col.BlockTicks), len(col.FluidTicks))
		}
	}
}
