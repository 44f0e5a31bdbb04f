package region

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	sectorSize = 4096
	// maxSectors is the largest sector count a location entry can hold.
	// Payloads needing more sectors are stored in an external .mcc file.
	maxSectors = 255
	// externalFlag is set on the compression ID of payloads stored in an
	// external file.
	externalFlag = 128

	// compactMinSectors is the smallest file, in sectors, that is compacted.
	compactMinSectors = 64
)

// anvil opens region files in the segmented Anvil format.
type anvil struct {
	compression Compression
	log         *slog.Logger
}

func (a anvil) open(path string, pos Pos, size int, create bool) (file, error) {
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		if !create && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open region: %w", ErrIO, err)
	}
	af := &anvilFile{
		f:           f,
		path:        path,
		pos:         pos,
		size:        size,
		compression: a.compression,
		log:         a.log,
		digests:     make(map[int]uint64),
	}
	if err := af.readHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return af, nil
}

// anvilFile is an opened Anvil region file. The file starts with a table of
// size*size locations, each a 3 byte sector offset followed by a 1 byte
// sector count, and a table of as many timestamps. Chunk payloads follow in
// sectors of 4 KiB: a 4 byte length, a compression ID and the compressed
// chunk.
type anvilFile struct {
	f           *os.File
	path        string
	pos         Pos
	size        int
	compression Compression
	log         *slog.Logger

	tableSectors int
	locations    []uint32
	timestamps   []uint32
	// used holds one entry per sector of the file, true if the sector is
	// part of the header or referenced by a location.
	used []bool
	// digests holds a hash of the payload of every slot whose payload was
	// hashed since the file was opened.
	digests map[int]uint64
}

func (a *anvilFile) headerSectors() int {
	return a.tableSectors * 2
}

func (a *anvilFile) readHeader() error {
	n := a.size * a.size
	a.tableSectors = (n*4 + sectorSize - 1) / sectorSize
	stat, err := a.f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat region: %w", ErrIO, err)
	}
	header := make([]byte, a.headerSectors()*sectorSize)
	if _, err := a.f.ReadAt(header, 0); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: read region header: %w", ErrIO, err)
	}
	a.locations = make([]uint32, n)
	a.timestamps = make([]uint32, n)
	for i := 0; i < n; i++ {
		a.locations[i] = binary.BigEndian.Uint32(header[i*4:])
		a.timestamps[i] = binary.BigEndian.Uint32(header[a.tableSectors*sectorSize+i*4:])
	}
	fileSectors := int((stat.Size() + sectorSize - 1) / sectorSize)
	a.used = make([]bool, max(fileSectors, a.headerSectors()))
	for i := 0; i < a.headerSectors(); i++ {
		a.used[i] = true
	}
	for i, loc := range a.locations {
		off, count := splitLocation(loc)
		if loc == 0 {
			continue
		}
		if off < a.headerSectors() || count == 0 || off+count > fileSectors {
			a.log.Warn("Region location points outside the file.", "region", a.pos.String(), "slot", i, "offset", off, "sectors", count)
			continue
		}
		for s := off; s < off+count; s++ {
			a.used[s] = true
		}
	}
	return nil
}

func splitLocation(loc uint32) (offset, count int) {
	return int(loc >> 8), int(loc & 0xff)
}

func (a *anvilFile) externalPath(local int) string {
	c := a.pos.Chunk(local, a.size)
	return filepath.Join(filepath.Dir(a.path), fmt.Sprintf("c.%v.%v.mcc", c[0], c[1]))
}

// payload reads the compression ID and the compressed body stored for a
// slot, following external files.
func (a *anvilFile) payload(local int) (byte, []byte, error) {
	id, body, err := a.rawPayload(local)
	if err != nil || id&externalFlag == 0 {
		return id, body, err
	}
	if body, err = os.ReadFile(a.externalPath(local)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil, fmt.Errorf("%w: external chunk file missing", ErrCorrupt)
		}
		return 0, nil, fmt.Errorf("%w: read external chunk file: %w", ErrIO, err)
	}
	return id &^ externalFlag, body, nil
}

// rawPayload reads the compression ID, including the external flag, and the
// body stored in the sectors of a slot.
func (a *anvilFile) rawPayload(local int) (byte, []byte, error) {
	loc := a.locations[local]
	if loc == 0 {
		return 0, nil, ErrNotFound
	}
	off, count := splitLocation(loc)
	if off < a.headerSectors() || count == 0 || off+count > len(a.used) {
		return 0, nil, fmt.Errorf("%w: location %v+%v outside region of %v sectors", ErrCorrupt, off, count, len(a.used))
	}
	buf := make([]byte, count*sectorSize)
	n, err := a.f.ReadAt(buf, int64(off)*sectorSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, nil, fmt.Errorf("%w: read sectors: %w", ErrIO, err)
	}
	buf = buf[:n]
	if len(buf) < 5 {
		return 0, nil, fmt.Errorf("%w: payload header cut off", ErrCorrupt)
	}
	length := int(binary.BigEndian.Uint32(buf))
	if length < 1 || 4+length > len(buf) {
		return 0, nil, fmt.Errorf("%w: payload of %v bytes exceeds %v allocated sectors", ErrCorrupt, length, count)
	}
	return buf[4], buf[5 : 4+length], nil
}

func (a *anvilFile) read(local int) ([]byte, error) {
	id, body, err := a.payload(local)
	if err != nil {
		return nil, err
	}
	switch c := Compression(id); c {
	case CompressionGzip, CompressionZlib, CompressionNone:
		data, err := c.decompress(body)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress %v payload: %w", ErrCorrupt, c, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: unknown compression id %v", ErrCorrupt, id)
}

func payloadDigest(id byte, body []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write([]byte{id})
	_, _ = d.Write(body)
	return d.Sum64()
}

// digest returns the payload hash of a slot. ok is false if the slot holds
// no readable payload.
func (a *anvilFile) digest(local int) (uint64, bool) {
	if d, ok := a.digests[local]; ok {
		return d, true
	}
	id, body, err := a.payload(local)
	if err != nil {
		return 0, false
	}
	d := payloadDigest(id, body)
	a.digests[local] = d
	return d, true
}

// allocate reserves count consecutive free sectors, reusing the first gap
// that fits before appending to the end of the file.
func (a *anvilFile) allocate(count int) int {
	run := 0
	for i := a.headerSectors(); i < len(a.used); i++ {
		if a.used[i] {
			run = 0
			continue
		}
		if run++; run == count {
			start := i - count + 1
			for s := start; s <= i; s++ {
				a.used[s] = true
			}
			return start
		}
	}
	// Extend the trailing run of free sectors, if any, up to count sectors.
	start := len(a.used) - run
	for len(a.used) < start+count {
		a.used = append(a.used, false)
	}
	for s := start; s < start+count; s++ {
		a.used[s] = true
	}
	return start
}

type anvilUpdate struct {
	local       int
	loc         uint32
	digest      uint64
	external    bool
	oldExternal bool
}

// write stores the slots passed. New payloads are written into free sectors
// and synced before the header points at them. Sectors of the previous
// payloads are only freed once the new header is synced, so they are never
// reused while the header on disk still references them.
func (a *anvilFile) write(slots []slot, now time.Time) (int, error) {
	updates := make([]anvilUpdate, 0, len(slots))
	for _, s := range slots {
		compressed, err := a.compression.compress(s.data)
		if err != nil {
			return 0, fmt.Errorf("compress chunk: %w", err)
		}
		digest := payloadDigest(byte(a.compression), compressed)
		if d, ok := a.digest(s.local); ok && d == digest {
			continue
		}
		u := anvilUpdate{local: s.local, digest: digest, oldExternal: a.isExternal(s.local)}

		payload := make([]byte, 5, 5+len(compressed))
		binary.BigEndian.PutUint32(payload, uint32(len(compressed)+1))
		payload[4] = byte(a.compression)
		payload = append(payload, compressed...)
		count := (len(payload) + sectorSize - 1) / sectorSize
		if count > maxSectors {
			if err := writeFileAtomic(a.externalPath(s.local), compressed); err != nil {
				return 0, fmt.Errorf("%w: write external chunk file: %w", ErrIO, err)
			}
			payload = []byte{0, 0, 0, 1, byte(a.compression) | externalFlag}
			count, u.external = 1, true
		}
		off := a.allocate(count)
		buf := make([]byte, count*sectorSize)
		copy(buf, payload)
		if _, err := a.f.WriteAt(buf, int64(off)*sectorSize); err != nil {
			return 0, fmt.Errorf("%w: write sectors: %w", ErrIO, err)
		}
		u.loc = uint32(off)<<8 | uint32(count)
		updates = append(updates, u)
	}
	if len(updates) == 0 {
		return 0, nil
	}
	if err := a.f.Sync(); err != nil {
		return 0, fmt.Errorf("%w: sync sectors: %w", ErrIO, err)
	}

	locations, timestamps := make([]uint32, len(a.locations)), make([]uint32, len(a.timestamps))
	copy(locations, a.locations)
	copy(timestamps, a.timestamps)
	for _, u := range updates {
		locations[u.local] = u.loc
		timestamps[u.local] = uint32(now.Unix())
	}
	if _, err := a.f.WriteAt(a.encodeHeader(locations, timestamps), 0); err != nil {
		return 0, fmt.Errorf("%w: write region header: %w", ErrIO, err)
	}
	if err := a.f.Sync(); err != nil {
		return 0, fmt.Errorf("%w: sync region header: %w", ErrIO, err)
	}

	for _, u := range updates {
		if off, count := splitLocation(a.locations[u.local]); a.locations[u.local] != 0 && off >= a.headerSectors() && off+count <= len(a.used) {
			for s := off; s < off+count; s++ {
				a.used[s] = false
			}
		}
		if u.oldExternal && !u.external {
			_ = os.Remove(a.externalPath(u.local))
		}
		a.digests[u.local] = u.digest
	}
	a.locations, a.timestamps = locations, timestamps

	if err := a.truncate(); err != nil {
		return len(updates), err
	}
	if free, total := a.garbage(); total >= compactMinSectors && free*2 > total {
		if err := a.compact(); err != nil {
			a.log.Warn("Region compaction failed.", "region", a.pos.String(), "err", err)
		}
	}
	return len(updates), nil
}

func (a *anvilFile) isExternal(local int) bool {
	id, _, err := a.rawPayload(local)
	return err == nil && id&externalFlag != 0
}

func (a *anvilFile) encodeHeader(locations, timestamps []uint32) []byte {
	header := make([]byte, a.headerSectors()*sectorSize)
	for i := range locations {
		binary.BigEndian.PutUint32(header[i*4:], locations[i])
		binary.BigEndian.PutUint32(header[a.tableSectors*sectorSize+i*4:], timestamps[i])
	}
	return header
}

// truncate cuts free sectors off the end of the file.
func (a *anvilFile) truncate() error {
	last := len(a.used)
	for last > a.headerSectors() && !a.used[last-1] {
		last--
	}
	if last == len(a.used) {
		return nil
	}
	if err := a.f.Truncate(int64(last) * sectorSize); err != nil {
		return fmt.Errorf("%w: truncate region: %w", ErrIO, err)
	}
	a.used = a.used[:last]
	return nil
}

// garbage returns the amount of free sectors between payloads and the total
// amount of sectors in the file.
func (a *anvilFile) garbage() (free, total int) {
	for _, u := range a.used {
		if !u {
			free++
		}
	}
	return free, len(a.used)
}

// compact rewrites the region into a temporary file with all payloads
// stored back to back and renames it over the original.
func (a *anvilFile) compact() error {
	tmp := a.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	locations := make([]uint32, len(a.locations))
	next := a.headerSectors()
	for i, loc := range a.locations {
		off, count := splitLocation(loc)
		if loc == 0 || off < a.headerSectors() || off+count > len(a.used) {
			continue
		}
		buf := make([]byte, count*sectorSize)
		if _, err := a.f.ReadAt(buf, int64(off)*sectorSize); err != nil && !errors.Is(err, io.EOF) {
			return fail(err)
		}
		if _, err := f.WriteAt(buf, int64(next)*sectorSize); err != nil {
			return fail(err)
		}
		locations[i] = uint32(next)<<8 | uint32(count)
		next += count
	}
	if _, err := f.WriteAt(a.encodeHeader(locations, a.timestamps), 0); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return fail(err)
	}
	_ = a.f.Close()
	a.f = f
	a.locations = locations
	a.used = make([]bool, next)
	for i := range a.used {
		a.used[i] = true
	}
	return nil
}

func (a *anvilFile) slots() []int {
	var locals []int
	for i, loc := range a.locations {
		if loc != 0 {
			locals = append(locals, i)
		}
	}
	return locals
}

func (a *anvilFile) close() error {
	return a.f.Close()
}
