package region

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	linearSignature  uint64 = 0xc3ff13183cca9d9a
	linearVersion           = 1
	linearHeaderSize        = 9
	// frameHeaderSize is the size of the length and checksum in front of
	// every snapshot.
	frameHeaderSize = 12
	// linearMaxFrames is the amount of snapshots kept in a file before it
	// is rewritten with only the latest one.
	linearMaxFrames = 8
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// linear opens region files in the Linear format.
type linear struct {
	log *slog.Logger
}

// linearFile is an opened Linear region file: a signature and version
// followed by a log of frames. Every frame holds a 4 byte length, an xxhash64
// checksum of the body and the body itself, a zstd compressed snapshot of
// every chunk in the region. Only the last valid snapshot is kept in memory.
type linearFile struct {
	f    *os.File
	path string
	pos  Pos
	size int
	log  *slog.Logger

	chunks [][]byte
	times  []uint32
	// frames is the amount of complete frames in the file, valid or not.
	frames int
	// end is the offset just past the last complete frame. Bytes past it
	// are the remains of a torn write.
	end int64
	// fileSize is the size of the file on disk.
	fileSize int64
	// latest is the size of the last valid frame, header included.
	latest int64
	// corrupt is set if the file holds frames but none of them is valid.
	corrupt error
}

func (l linear) open(path string, pos Pos, size int, create bool) (file, error) {
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
	lf := &linearFile{f: f, path: path, pos: pos, size: size, log: l.log}
	if err := lf.scan(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return lf, nil
}

// scan reads the whole file and keeps the last snapshot that passes its
// checksum and decodes.
func (l *linearFile) scan() error {
	stat, err := l.f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat region: %w", ErrIO, err)
	}
	data := make([]byte, stat.Size())
	if _, err := l.f.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: read region: %w", ErrIO, err)
	}
	l.fileSize = int64(len(data))
	l.chunks, l.times = make([][]byte, l.size*l.size), make([]uint32, l.size*l.size)
	if len(data) < linearHeaderSize {
		// Either a new file or one torn while its header was written: no
		// snapshot can be in it.
		l.end = 0
		return nil
	}
	if sig := binary.BigEndian.Uint64(data); sig != linearSignature {
		return fmt.Errorf("%w: not a linear region file (signature %x)", ErrCorrupt, sig)
	}
	if v := data[8]; v != linearVersion {
		return fmt.Errorf("%w: unsupported linear version %v", ErrCorrupt, v)
	}
	off := int64(linearHeaderSize)
	l.end = off
	valid := 0
	for int64(len(data))-off >= frameHeaderSize {
		length := int64(binary.BigEndian.Uint32(data[off:]))
		sum := binary.BigEndian.Uint64(data[off+4:])
		if length > int64(len(data))-off-frameHeaderSize {
			break
		}
		body := data[off+frameHeaderSize : off+frameHeaderSize+length]
		next := off + frameHeaderSize + length
		l.end, l.frames = next, l.frames+1
		if xxhash.Sum64(body) != sum {
			l.log.Warn("Skipping linear snapshot with bad checksum.", "region", l.pos.String(), "offset", off)
			off = next
			continue
		}
		chunks, times, err := decodeSnapshot(body, l.size)
		if err != nil {
			l.log.Warn("Skipping undecodable linear snapshot.", "region", l.pos.String(), "offset", off, "err", err)
			off = next
			continue
		}
		l.chunks, l.times, l.latest = chunks, times, length+frameHeaderSize
		valid++
		off = next
	}
	if l.frames > 0 && valid == 0 {
		l.corrupt = fmt.Errorf("%w: none of %v snapshots in region %v is valid", ErrCorrupt, l.frames, l.pos)
	}
	if l.end < l.fileSize {
		l.log.Warn("Linear region has a torn snapshot at its end.", "region", l.pos.String(), "bytes", l.fileSize-l.end)
	}
	return nil
}

func (l *linearFile) read(local int) ([]byte, error) {
	if l.corrupt != nil {
		return nil, l.corrupt
	}
	if l.chunks[local] == nil {
		return nil, ErrNotFound
	}
	return l.chunks[local], nil
}

// write appends a snapshot with the slots passed merged into the latest one.
// If none of the slots differ from the latest snapshot, nothing is written.
// A file without any valid snapshot is moved aside first and replaced by an
// empty one.
func (l *linearFile) write(slots []slot, now time.Time) (int, error) {
	if l.corrupt != nil {
		if err := l.setAside(); err != nil {
			return 0, err
		}
	}
	chunks, times := make([][]byte, len(l.chunks)), make([]uint32, len(l.times))
	copy(chunks, l.chunks)
	copy(times, l.times)
	changed := 0
	for _, s := range slots {
		if chunks[s.local] != nil && bytes.Equal(chunks[s.local], s.data) {
			continue
		}
		chunks[s.local], times[s.local] = s.data, uint32(now.Unix())
		changed++
	}
	if changed == 0 {
		return 0, nil
	}
	body := zstdEncoder.EncodeAll(encodeSnapshot(chunks, times, now), nil)
	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	binary.BigEndian.PutUint64(frame[4:], xxhash.Sum64(body))
	frame = append(frame, body...)

	if l.end < linearHeaderSize {
		if err := l.writeHeader(); err != nil {
			return 0, err
		}
	}
	if l.fileSize > l.end {
		if err := l.f.Truncate(l.end); err != nil {
			return 0, fmt.Errorf("%w: truncate torn snapshot: %w", ErrIO, err)
		}
		l.fileSize = l.end
	}
	if _, err := l.f.WriteAt(frame, l.end); err != nil {
		return 0, fmt.Errorf("%w: append snapshot: %w", ErrIO, err)
	}
	l.fileSize = l.end + int64(len(frame))
	if err := l.f.Sync(); err != nil {
		return 0, fmt.Errorf("%w: sync snapshot: %w", ErrIO, err)
	}
	l.end, l.frames, l.latest = l.fileSize, l.frames+1, int64(len(frame))
	l.chunks, l.times = chunks, times

	if stale := l.end - linearHeaderSize - l.latest; l.frames > linearMaxFrames || stale*4 > (l.end-linearHeaderSize)*3 {
		if err := l.compact(frame); err != nil {
			l.log.Warn("Linear region compaction failed.", "region", l.pos.String(), "err", err)
		}
	}
	return changed, nil
}

// setAside renames the file to path.corrupt and continues with a new, empty
// file at path.
func (l *linearFile) setAside() error {
	aside := l.path + ".corrupt"
	if err := os.Rename(l.path, aside); err != nil {
		return fmt.Errorf("%w: move corrupt region aside: %w", ErrIO, err)
	}
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: recreate region: %w", ErrIO, err)
	}
	_ = l.f.Close()
	l.log.Warn("Moved linear region without a valid snapshot aside.", "region", l.pos.String(), "path", aside)
	l.f = f
	l.chunks, l.times = make([][]byte, l.size*l.size), make([]uint32, l.size*l.size)
	l.frames, l.end, l.fileSize, l.latest, l.corrupt = 0, 0, 0, 0, nil
	return nil
}

func (l *linearFile) writeHeader() error {
	header := make([]byte, linearHeaderSize)
	binary.BigEndian.PutUint64(header, linearSignature)
	header[8] = linearVersion
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("%w: reset region: %w", ErrIO, err)
	}
	if _, err := l.f.WriteAt(header, 0); err != nil {
		return fmt.Errorf("%w: write region header: %w", ErrIO, err)
	}
	l.end, l.fileSize = linearHeaderSize, linearHeaderSize
	return nil
}

// compact replaces the file with one holding only the frame passed.
func (l *linearFile) compact(frame []byte) error {
	data := make([]byte, linearHeaderSize, linearHeaderSize+len(frame))
	binary.BigEndian.PutUint64(data, linearSignature)
	data[8] = linearVersion
	data = append(data, frame...)
	if err := writeFileAtomic(l.path, data); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	_ = l.f.Close()
	l.f = f
	l.end, l.fileSize, l.frames = int64(len(data)), int64(len(data)), 1
	return nil
}

// encodeSnapshot lays out a snapshot body before compression: a timestamp,
// the amount of chunks, a length and timestamp per slot and then every chunk
// payload in slot order.
func encodeSnapshot(chunks [][]byte, times []uint32, now time.Time) []byte {
	total, count := 0, 0
	for _, c := range chunks {
		if c != nil {
			total += len(c)
			count++
		}
	}
	buf := make([]byte, 12+8*len(chunks), 12+8*len(chunks)+total)
	binary.BigEndian.PutUint64(buf, uint64(now.Unix()))
	binary.BigEndian.PutUint32(buf[8:], uint32(count))
	for i, c := range chunks {
		binary.BigEndian.PutUint32(buf[12+i*8:], uint32(len(c)))
		binary.BigEndian.PutUint32(buf[16+i*8:], times[i])
	}
	for _, c := range chunks {
		buf = append(buf, c...)
	}
	return buf
}

func decodeSnapshot(compressed []byte, size int) ([][]byte, []uint32, error) {
	body, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	n := size * size
	if len(body) < 12+8*n {
		return nil, nil, fmt.Errorf("snapshot of %v bytes too short for %v slots", len(body), n)
	}
	count := int(binary.BigEndian.Uint32(body[8:]))
	chunks, times := make([][]byte, n), make([]uint32, n)
	off, present := 12+8*n, 0
	for i := 0; i < n; i++ {
		length := int(binary.BigEndian.Uint32(body[12+i*8:]))
		times[i] = binary.BigEndian.Uint32(body[16+i*8:])
		if length == 0 {
			continue
		}
		if off+length > len(body) {
			return nil, nil, fmt.Errorf("slot %v runs past the end of the snapshot", i)
		}
		chunks[i] = body[off : off+length : off+length]
		off += length
		present++
	}
	if present != count || off != len(body) {
		return nil, nil, fmt.Errorf("snapshot holds %v chunks in %v bytes, header claims %v", present, off, count)
	}
	return chunks, times, nil
}

func (l *linearFile) slots() []int {
	if l.corrupt != nil {
		return nil
	}
	var locals []int
	for i, c := range l.chunks {
		if c != nil {
			locals = append(locals, i)
		}
	}
	return locals
}

func (l *linearFile) close() error {
	return l.f.Close()
}
