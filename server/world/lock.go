package world

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrLocked is returned by Config.New if the directory of the World is
// already in use by another World, in this process or in another one.
var ErrLocked = errors.New("world directory is locked")

// dirLock is an exclusive lock held on the session.lock file of a world
// directory for as long as the World is open.
type dirLock struct {
	f *os.File
}

// lockDir creates the directory if needed and locks its session.lock file.
func lockDir(dir string) (*dirLock, error) {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, fmt.Errorf("create world directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "session.lock"), os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("open session.lock: %w", err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%w: %v is in use", ErrLocked, dir)
		}
		return nil, fmt.Errorf("lock session.lock: %w", err)
	}
	// Vanilla writes a snowman into the file it locks.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte("☃"), 0)
	}
	return &dirLock{f: f}, nil
}

// release unlocks and closes the lock file. Calling release on a nil
// dirLock does nothing.
func (l *dirLock) release() error {
	if l == nil {
		return nil
	}
	err := unlockFile(l.f)
	return errors.Join(err, l.f.Close())
}
