package world

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/region"
)

// memStore is a region.Store keeping encoded chunks in memory. Failures may
// be injected per chunk. Like region.Provider it drops entries older than the
// version already stored.
type memStore struct {
	r cube.Range

	mu       sync.Mutex
	data     map[chunk.Pos][]byte
	versions map[chunk.Pos]uint64
	loads    int
	saves    int
	loadErr  func(pos chunk.Pos) error
	saveErr  func(pos chunk.Pos) error
	// gate is called before a save takes the lock of the store.
	gate   func(entries []region.Entry)
	closed bool
}

func newMemStore(r cube.Range) *memStore {
	return &memStore{r: r, data: make(map[chunk.Pos][]byte), versions: make(map[chunk.Pos]uint64)}
}

func (s *memStore) Load(pos chunk.Pos) (*chunk.Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		if err := s.loadErr(pos); err != nil {
			return nil, err
		}
	}
	b, ok := s.data[pos]
	if !ok {
		return nil, fmt.Errorf("load %v: %w", pos, region.ErrNotFound)
	}
	col, err := chunk.Decode(b, pos, s.r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", region.ErrCorrupt, err)
	}
	return col, nil
}

func (s *memStore) Save(entries []region.Entry) error {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		gate(entries)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	var failed map[region.Pos]error
	for _, e := range entries {
		if s.saveErr != nil {
			if err := s.saveErr(e.Pos); err != nil {
				if failed == nil {
					failed = make(map[region.Pos]error)
				}
				failed[region.PosOf(e.Pos, region.DefaultSize)] = err
				continue
			}
		}
		if e.Version != 0 && e.Version < s.versions[e.Pos] {
			continue
		}
		b, err := chunk.Encode(e.Column)
		if err != nil {
			return err
		}
		s.data[e.Pos] = b
		s.versions[e.Pos] = e.Version
	}
	if failed != nil {
		return &region.SaveError{Size: region.DefaultSize, Regions: failed}
	}
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStore) stored(pos chunk.Pos) (*chunk.Column, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[pos]
	if !ok {
		return nil, false
	}
	col, err := chunk.Decode(b, pos, s.r)
	if err != nil {
		return nil, false
	}
	return col, true
}

func (s *memStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memStore) setSaveErr(f func(pos chunk.Pos) error) {
	s.mu.Lock()
	s.saveErr = f
	s.mu.Unlock()
}

func (s *memStore) setGate(f func(entries []region.Entry)) {
	s.mu.Lock()
	s.gate = f
	s.mu.Unlock()
}

// newTestWorld creates a World that does not tick or save on its own, so
// that tests can drive both with step and Save.
func newTestWorld(t *testing.T, conf Config) (*World, *memStore) {
	t.Helper()
	var store *memStore
	if conf.Store == nil {
		store = newMemStore(Overworld.Range())
		conf.Store = store
	} else {
		store, _ = conf.Store.(*memStore)
	}
	if conf.Log == nil {
		conf.Log = slog.New(slog.DiscardHandler)
	}
	if conf.TickInterval == 0 {
		conf.TickInterval = -1
	}
	if conf.SaveInterval == 0 {
		conf.SaveInterval = -1
	}
	w, err := conf.New()
	if err != nil {
		t.Fatalf("expected world to open, got %v", err)
	}
	t.Cleanup(func() {
		_ = w.Close()
	})
	return w, store
}

func (w *World) resident(pos chunk.Pos) bool {
	w.cache.mu.Lock()
	defer w.cache.mu.Unlock()
	_, ok := w.cache.entries[pos]
	return ok
}
