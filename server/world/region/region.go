// Package region implements durable storage of chunks in region files. Two
// layouts are supported: the segmented, vanilla compatible Anvil format and
// the Linear format, which appends whole-region snapshots to a log.
package region

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
)

var (
	// ErrNotFound is returned by Store.Load if no data is stored for a chunk.
	ErrNotFound = errors.New("chunk not found")
	// ErrCorrupt is returned if data stored for a chunk failed validation.
	// Corrupt data is never returned as a valid chunk.
	ErrCorrupt = errors.New("corrupt chunk data")
	// ErrIO is returned for failures of the underlying storage.
	ErrIO = errors.New("region i/o failure")
)

// DefaultSize is the amount of chunks on each axis of a region.
const DefaultSize = 32

// Pos is the position of a region: a chunk position floor divided by the
// region size.
type Pos [2]int32

// PosOf returns the position of the region of the size passed that holds the
// chunk position.
func PosOf(pos chunk.Pos, size int) Pos {
	return Pos{floorDiv(pos[0], int32(size)), floorDiv(pos[1], int32(size))}
}

// Local returns the index of a chunk inside its region, in the range
// [0, size*size).
func Local(pos chunk.Pos, size int) int {
	s := int32(size)
	return int(floorMod(pos[1], s)*s + floorMod(pos[0], s))
}

// Chunk returns the position of the chunk at the local index passed.
func (p Pos) Chunk(local, size int) chunk.Pos {
	return chunk.Pos{p[0]*int32(size) + int32(local%size), p[1]*int32(size) + int32(local/size)}
}

// String returns the region position as x.z, the way it appears in file
// names.
func (p Pos) String() string {
	return fmt.Sprintf("%v.%v", p[0], p[1])
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int32) int32 {
	return a - floorDiv(a, b)*b
}

// Entry is a single chunk passed to Store.Save.
type Entry struct {
	Pos    chunk.Pos
	Column *chunk.Column
	// Version orders the snapshots of a chunk. An entry is skipped if a
	// higher version of the same chunk was already written. Zero is always
	// written.
	Version uint64
}

// Store is durable storage of chunk columns. Implementations are safe for
// concurrent use.
type Store interface {
	// Load loads the column at the chunk position passed. If nothing is
	// stored, an error wrapping ErrNotFound is returned. Data that fails
	// validation results in an error wrapping ErrCorrupt.
	Load(pos chunk.Pos) (*chunk.Column, error)
	// Save durably stores a batch of columns that may span any amount of
	// regions. A nil error means all of them were written. Otherwise a
	// *SaveError holds the regions that failed.
	Save(entries []Entry) error
	// Close closes the Store and any files it holds open.
	Close() error
}

// SaveError is returned by Store.Save if storing the chunks of one or more
// regions failed. Chunks of regions not present in Regions were stored.
type SaveError struct {
	// Size is the region size used to map chunks to regions.
	Size int
	// Regions maps every failed region to the error it failed with.
	Regions map[Pos]error
}

// Error ...
func (e *SaveError) Error() string {
	keys := make([]Pos, 0, len(e.Regions))
	for p := range e.Regions {
		keys = append(keys, p)
	}
	slices.SortFunc(keys, func(a, b Pos) int {
		if c := cmp.Compare(a[0], b[0]); c != 0 {
			return c
		}
		return cmp.Compare(a[1], b[1])
	})
	parts := make([]string, len(keys))
	for i, p := range keys {
		parts[i] = fmt.Sprintf("region %v: %v", p, e.Regions[p])
	}
	return "save regions: " + strings.Join(parts, "; ")
}

// Unwrap returns the errors of all failed regions.
func (e *SaveError) Unwrap() []error {
	errs := make([]error, 0, len(e.Regions))
	for _, err := range e.Regions {
		errs = append(errs, err)
	}
	return errs
}

// Failed returns the error of the region holding the chunk position passed,
// or nil if that region was stored.
func (e *SaveError) Failed(pos chunk.Pos) error {
	return e.Regions[PosOf(pos, e.Size)]
}

// NopStore is a Store that holds no data. Load always returns ErrNotFound and
// Save discards its input.
type NopStore struct{}

// Load ...
func (NopStore) Load(pos chunk.Pos) (*chunk.Column, error) {
	return nil, fmt.Errorf("load chunk %v: %w", pos, ErrNotFound)
}

// Save ...
func (NopStore) Save([]Entry) error { return nil }

// Close ...
func (NopStore) Close() error { return nil }
