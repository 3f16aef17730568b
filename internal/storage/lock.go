package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = "session.lock"

// LevelLock удерживает эксклюзивную блокировку папки мира на время работы процесса.
type LevelLock struct {
	lock *flock.Flock
}

// LockLevel захватывает блокировку папки dir. Если папка уже занята,
// возвращается ErrLevelLocked.
func LockLevel(dir string) (*LevelLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать папку мира: %w", err)
	}
	l := flock.New(filepath.Join(dir, lockFileName))
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("блокировка папки мира: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", dir, ErrLevelLocked)
	}
	return &LevelLock{lock: l}, nil
}

// Unlock освобождает блокировку
func (l *LevelLock) Unlock() error {
	return l.lock.Unlock()
}
