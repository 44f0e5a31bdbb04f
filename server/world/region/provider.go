package region

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
	"golang.org/x/sync/errgroup"
)

// Format is the on-disk layout of the region files of a world. A world uses a
// single Format for its entire lifetime.
type Format uint8

const (
	// Anvil is the segmented, vanilla compatible format: one .mca file per
	// region holding a sector index and compressed chunk payloads.
	Anvil Format = iota
	// Linear stores a log of whole-region snapshots in one .linear file per
	// region, each snapshot framed with its length and checksum.
	Linear
)

// String ...
func (f Format) String() string {
	if f == Linear {
		return "linear"
	}
	return "anvil"
}

// ParseFormat parses a format name, anvil or linear.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "anvil", "vanilla", "":
		return Anvil, nil
	case "linear":
		return Linear, nil
	}
	return 0, fmt.Errorf("unknown chunk format %q", s)
}

func (f Format) ext() string {
	if f == Linear {
		return "linear"
	}
	return "mca"
}

// Config holds the settings of a Provider.
type Config struct {
	// Log is the logger used to report recoverable problems such as torn
	// snapshots. If nil, slog.Default() is used.
	Log *slog.Logger
	// Dir is the directory region files are stored in. It is created if it
	// does not yet exist.
	Dir string
	// Format is the layout of the region files.
	Format Format
	// Compression is the compression used for chunk payloads in the Anvil
	// format. Linear always uses zstd for its snapshots. Defaults to zlib.
	Compression Compression
	// Size is the amount of chunks on each axis of a region. Defaults to
	// DefaultSize.
	Size int
	// Range is the height range of the chunks stored.
	Range cube.Range
	// Parallelism is the maximum amount of regions written concurrently in a
	// single Save. Defaults to 4.
	Parallelism int
}

// Open opens a Provider for the region directory in the Config.
func (conf Config) Open() (*Provider, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Size <= 0 {
		conf.Size = DefaultSize
	}
	if conf.Size > 256 {
		return nil, fmt.Errorf("region size %v exceeds 256", conf.Size)
	}
	if conf.Compression == 0 {
		conf.Compression = CompressionZlib
	}
	if conf.Parallelism <= 0 {
		conf.Parallelism = 4
	}
	if conf.Range == (cube.Range{}) {
		conf.Range = cube.Range{-64, 319}
	}
	if err := os.MkdirAll(conf.Dir, 0777); err != nil {
		return nil, fmt.Errorf("%w: create region directory: %w", ErrIO, err)
	}
	p := &Provider{conf: conf, regions: make(map[Pos]*regionHandle)}
	switch conf.Format {
	case Anvil:
		p.format = anvil{compression: conf.Compression, log: conf.Log}
	case Linear:
		p.format = linear{log: conf.Log}
	default:
		return nil, fmt.Errorf("unknown chunk format %v", conf.Format)
	}
	return p, nil
}

// Provider is a Store that keeps chunks in region files on disk. Every region
// has its own lock: writes to one region serialise, while reads share the
// lock and operations on different regions never wait on each other.
type Provider struct {
	conf   Config
	format format

	mu      sync.Mutex
	regions map[Pos]*regionHandle
	closed  bool
}

// format opens region files of one layout.
type format interface {
	// open opens the region file at path. If create is false and the file
	// does not exist, open returns a nil file and no error.
	open(path string, pos Pos, size int, create bool) (file, error)
}

// file is an opened region file. read may be called concurrently with other
// read calls. write and close require exclusive access.
type file interface {
	read(local int) ([]byte, error)
	write(slots []slot, now time.Time) (int, error)
	slots() []int
	close() error
}

// slot is the encoded chunk data for one index of a region.
type slot struct {
	local   int
	data    []byte
	version uint64
}

type regionHandle struct {
	mu   sync.RWMutex
	pos  Pos
	path string
	f    file
	// versions holds the highest Entry.Version written per slot.
	versions map[int]uint64
}

var errClosed = errors.New("region provider closed")

func (p *Provider) handle(pos Pos) (*regionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errClosed
	}
	h, ok := p.regions[pos]
	if !ok {
		name := fmt.Sprintf("r.%v.%v.%v", pos[0], pos[1], p.conf.Format.ext())
		h = &regionHandle{pos: pos, path: filepath.Join(p.conf.Dir, name)}
		p.regions[pos] = h
	}
	return h, nil
}

// readable returns the opened file of the region with h.mu read locked, or
// nil if the region file does not exist. The caller must call
// h.mu.RUnlock once done, also when an error is returned.
func (p *Provider) readable(h *regionHandle) (file, error) {
	h.mu.RLock()
	if h.f != nil {
		return h.f, nil
	}
	h.mu.RUnlock()

	h.mu.Lock()
	var err error
	if h.f == nil {
		h.f, err = p.format.open(h.path, h.pos, p.conf.Size, false)
	}
	h.mu.Unlock()
	h.mu.RLock()
	return h.f, err
}

// Load loads the column at a chunk position from its region file.
func (p *Provider) Load(pos chunk.Pos) (*chunk.Column, error) {
	rp := PosOf(pos, p.conf.Size)
	h, err := p.handle(rp)
	if err != nil {
		return nil, fmt.Errorf("%w: load chunk %v: %w", ErrIO, pos, err)
	}
	f, err := p.readable(h)
	if err != nil {
		h.mu.RUnlock()
		return nil, fmt.Errorf("load chunk %v: %w", pos, err)
	}
	if f == nil {
		h.mu.RUnlock()
		return nil, fmt.Errorf("load chunk %v: %w", pos, ErrNotFound)
	}
	data, err := f.read(Local(pos, p.conf.Size))
	h.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("load chunk %v: %w", pos, err)
	}
	col, err := chunk.Decode(data, pos, p.conf.Range)
	if err != nil {
		return nil, fmt.Errorf("%w: load chunk %v: %w", ErrCorrupt, pos, err)
	}
	return col, nil
}

// Save groups the entries per region and writes every region in its own
// goroutine. Regions that fail do not stop others from being written.
func (p *Provider) Save(entries []Entry) error {
	groups := make(map[Pos][]Entry)
	for _, e := range entries {
		rp := PosOf(e.Pos, p.conf.Size)
		groups[rp] = append(groups[rp], e)
	}
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed = make(map[Pos]error)
	)
	g.SetLimit(p.conf.Parallelism)
	for rp, group := range groups {
		g.Go(func() error {
			if err := p.saveRegion(rp, group); err != nil {
				mu.Lock()
				failed[rp] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(failed) > 0 {
		return &SaveError{Size: p.conf.Size, Regions: failed}
	}
	return nil
}

func (p *Provider) saveRegion(rp Pos, entries []Entry) error {
	slots := make([]slot, 0, len(entries))
	for _, e := range entries {
		if e.Column == nil || e.Column.Chunk == nil {
			return fmt.Errorf("save chunk %v: no column", e.Pos)
		}
		if e.Column.Pos() != e.Pos {
			return fmt.Errorf("save chunk %v: column holds chunk %v", e.Pos, e.Column.Pos())
		}
		data, err := chunk.Encode(e.Column)
		if err != nil {
			return fmt.Errorf("save chunk %v: %w", e.Pos, err)
		}
		slots = append(slots, slot{local: Local(e.Pos, p.conf.Size), data: data, version: e.Version})
	}
	// Keep the last entry for a slot if a chunk was passed more than once.
	slices.SortStableFunc(slots, func(a, b slot) int { return a.local - b.local })
	unique := slots[:0]
	for i, s := range slots {
		if i+1 < len(slots) && slots[i+1].local == s.local {
			continue
		}
		unique = append(unique, s)
	}
	slots = unique
	h, err := p.handle(rp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	slots = slices.DeleteFunc(slots, func(s slot) bool {
		return s.version != 0 && s.version < h.versions[s.local]
	})
	if len(slots) == 0 {
		return nil
	}
	if h.f == nil {
		if h.f, err = p.format.open(h.path, rp, p.conf.Size, true); err != nil {
			return err
		}
	}
	n, err := h.f.write(slots, time.Now())
	if err != nil {
		return err
	}
	for _, s := range slots {
		if s.version == 0 {
			continue
		}
		if h.versions == nil {
			h.versions = make(map[int]uint64)
		}
		h.versions[s.local] = s.version
	}
	if n > 0 {
		p.conf.Log.Debug("Saved region.", "region", rp.String(), "chunks", n)
	}
	return nil
}

// Regions lists the positions of all region files in the directory.
func (p *Provider) Regions() ([]Pos, error) {
	entries, err := os.ReadDir(p.conf.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list regions: %w", ErrIO, err)
	}
	var regions []Pos
	for _, e := range entries {
		parts := strings.Split(e.Name(), ".")
		if len(parts) != 4 || parts[0] != "r" || parts[3] != p.conf.Format.ext() {
			continue
		}
		x, errX := strconv.ParseInt(parts[1], 10, 32)
		z, errZ := strconv.ParseInt(parts[2], 10, 32)
		if errX != nil || errZ != nil {
			continue
		}
		regions = append(regions, Pos{int32(x), int32(z)})
	}
	return regions, nil
}

// Chunks lists the positions of all chunks stored in a region.
func (p *Provider) Chunks(rp Pos) ([]chunk.Pos, error) {
	h, err := p.handle(rp)
	if err != nil {
		return nil, err
	}
	f, err := p.readable(h)
	defer h.mu.RUnlock()
	if err != nil || f == nil {
		return nil, err
	}
	locals := f.slots()
	positions := make([]chunk.Pos, len(locals))
	for i, l := range locals {
		positions[i] = rp.Chunk(l, p.conf.Size)
	}
	return positions, nil
}

// Close closes all region files held open. Using the Provider after Close
// returns errors.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for _, h := range p.regions {
		h.mu.Lock()
		if h.f != nil {
			if err := h.f.close(); err != nil {
				errs = append(errs, fmt.Errorf("close region %v: %w", h.pos, err))
			}
			h.f = nil
		}
		h.mu.Unlock()
	}
	return errors.Join(errs...)
}

// writeFileAtomic writes data to a temporary file next to path, syncs it and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
