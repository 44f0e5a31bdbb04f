package world

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
)

// Level holds the world wide settings stored in the level.dat file of a
// world directory.
type Level struct {
	DataVersion int32  `nbt:"DataVersion"`
	LevelName   string `nbt:"LevelName"`
	RandomSeed  int64  `nbt:"RandomSeed"`
	// Time is the tick counter of the world when it was last closed.
	Time int64 `nbt:"Time"`
	// ChunkFormat is the region file format, anvil or linear. A world keeps
	// its format for its entire lifetime.
	ChunkFormat string `nbt:"ChunkFormat"`
	RegionSize  int32  `nbt:"RegionSize"`
	MinY        int32  `nbt:"MinY"`
	MaxY        int32  `nbt:"MaxY"`
}

type levelFile struct {
	Data Level `nbt:"Data"`
}

// LoadLevel reads level.dat from the directory passed. The bool returned is
// false if the file does not exist.
func LoadLevel(dir string) (Level, bool, error) {
	f, err := os.Open(filepath.Join(dir, "level.dat"))
	if errors.Is(err, fs.ErrNotExist) {
		return Level{}, false, nil
	} else if err != nil {
		return Level{}, false, fmt.Errorf("open level.dat: %w", err)
	}
	defer f.Close()

	r, err := gzip.NewReader(f)
	if err != nil {
		return Level{}, false, fmt.Errorf("read level.dat: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Level{}, false, fmt.Errorf("read level.dat: %w", err)
	}
	var lf levelFile
	if err := nbt.UnmarshalEncoding(data, &lf, nbt.BigEndian); err != nil {
		return Level{}, false, fmt.Errorf("decode level.dat: %w", err)
	}
	return lf.Data, true, nil
}

// Write writes the Level to level.dat in the directory passed. The file is
// replaced atomically.
func (l Level) Write(dir string) error {
	if l.DataVersion == 0 {
		l.DataVersion = chunk.DataVersion
	}
	data, err := nbt.MarshalEncoding(levelFile{Data: l}, nbt.BigEndian)
	if err != nil {
		return fmt.Errorf("encode level.dat: %w", err)
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return fmt.Errorf("compress level.dat: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("compress level.dat: %w", err)
	}

	if err := os.MkdirAll(dir, 0777); err != nil {
		return fmt.Errorf("create world directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "level.dat.*")
	if err != nil {
		return fmt.Errorf("write level.dat: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write level.dat: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write level.dat: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write level.dat: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, "level.dat")); err != nil {
		return fmt.Errorf("write level.dat: %w", err)
	}
	return nil
}
