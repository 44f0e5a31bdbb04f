package server

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/wHoIsDReAmer/Pumpkin/server/world"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
)

// Server holds the worlds of every enabled dimension. It is created by
// calling Config.New.
type Server struct {
	conf Config

	world      *world.World
	dimensions map[world.Dimension]*world.World

	once sync.Once
	err  error
}

// Name returns the name of the server.
func (srv *Server) Name() string {
	return srv.conf.Name
}

// World returns the overworld of the server. It is nil if the overworld
// could not be opened.
func (srv *Server) World() *world.World { return srv.world }

// Nether returns the nether of the server, or the overworld if the nether is
// disabled.
func (srv *Server) Nether() *world.World { return srv.Dimension(world.Nether) }

// End returns the end of the server, or the overworld if the end is
// disabled.
func (srv *Server) End() *world.World { return srv.Dimension(world.End) }

// Dimension returns the world of the dimension passed. Disabled dimensions
// fall back to the overworld.
func (srv *Server) Dimension(dim world.Dimension) *world.World {
	if w, ok := srv.dimensions[dim]; ok {
		return w
	}
	return srv.world
}

// Worlds returns every open world, overworld first.
func (srv *Server) Worlds() []*world.World {
	worlds := make([]*world.World, 0, len(srv.dimensions))
	for _, dim := range []world.Dimension{world.Overworld, world.Nether, world.End} {
		if w, ok := srv.dimensions[dim]; ok {
			worlds = append(worlds, w)
		}
	}
	return worlds
}

// RequestChunk returns the encoded chunk at pos in the dimension passed,
// loading or generating it if needed.
func (srv *Server) RequestChunk(ctx context.Context, dim world.Dimension, pos chunk.Pos) ([]byte, error) {
	return srv.Dimension(dim).RequestChunk(ctx, pos)
}

// Save writes the dirty chunks of every world to disk.
func (srv *Server) Save() error {
	var errs []error
	for _, w := range srv.Worlds() {
		if err := w.Save(); err != nil {
			errs = append(errs, fmt.Errorf("save %v: %w", w.Dimension(), err))
		}
	}
	return errors.Join(errs...)
}

// Close saves and closes every world. Calling Close more than once returns
// the result of the first call.
func (srv *Server) Close() error {
	srv.once.Do(func() {
		var errs []error
		for _, w := range srv.Worlds() {
			srv.conf.Log.Debug("Closing world...", "dimension", w.Dimension().String())
			if err := w.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %v: %w", w.Dimension(), err))
			}
		}
		srv.err = errors.Join(errs...)
	})
	return srv.err
}

func (srv *Server) createWorld(dim world.Dimension) (*world.World, error) {
	conf := srv.conf
	log := conf.Log.With("dimension", dim.String())
	log.Debug("Loading dimension...")

	dir := conf.Dir
	if dir != "" && dim.Dir() != "" {
		dir = filepath.Join(dir, dim.Dir())
	}
	w, err := world.Config{
		Log:           log,
		Name:          conf.Name,
		Dir:           dir,
		Dim:           dim,
		Format:        conf.Format,
		Compression:   conf.Compression,
		RegionSize:    conf.RegionSize,
		Seed:          conf.Seed,
		Generator:     conf.Generator(dim),
		Populator:     conf.Populator(dim),
		Entities:      conf.Entities,
		CacheSize:     conf.CacheSize,
		TickInterval:  conf.TickInterval,
		SaveInterval:  conf.SaveInterval,
		CorruptPolicy: conf.CorruptPolicy,
		Redstone:      conf.Redstone,
	}.New()
	if err != nil {
		return nil, err
	}
	log.Info("Opened world.", "name", w.Name(), "seed", w.Seed(), "tick", w.CurrentTick())
	return w, nil
}
