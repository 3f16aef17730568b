package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annelo/go-world-server/internal/storage"
)

func TestFileInfoStore_ReadWrite(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewFileInfoStore(dir)

	_, err := store.ReadInfo()
	assert.ErrorIs(t, err, storage.ErrInfoNotFound)

	info := storage.NewWorldInfo("test", 77)
	info.SpawnX, info.SpawnZ = 3, -4
	require.NoError(t, store.WriteInfo(info))
	assert.NotZero(t, info.LastSaveAt)

	got, err := store.ReadInfo()
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)
	assert.Equal(t, int64(77), got.Seed)
	assert.Equal(t, int32(-4), got.SpawnZ)
	assert.Equal(t, storage.WorldInfoVersion, got.Version)

	// временный файл не остаётся
	_, err = os.Stat(filepath.Join(dir, "world_info.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileInfoStore_UnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "world_info.json"), []byte(`{"version": 99}`), 0644))

	_, err := storage.NewFileInfoStore(dir).ReadInfo()
	assert.ErrorIs(t, err, storage.ErrUnsupportedVersion)
}

func TestFileInfoStore_Backup(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewFileInfoStore(dir)

	// без исходного файла резервная копия не нужна
	require.NoError(t, store.Backup())
	_, err := os.Stat(filepath.Join(dir, "world_info.json_old"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, store.WriteInfo(storage.NewWorldInfo("w", 1)))
	require.NoError(t, store.Backup())

	orig, err := os.ReadFile(filepath.Join(dir, "world_info.json"))
	require.NoError(t, err)
	backup, err := os.ReadFile(filepath.Join(dir, "world_info.json_old"))
	require.NoError(t, err)
	assert.Equal(t, orig, backup)
}

func TestLockLevel_Exclusive(t *testing.T) {
	dir := t.TempDir()
	first, err := storage.LockLevel(dir)
	require.NoError(t, err)

	_, err = storage.LockLevel(dir)
	assert.ErrorIs(t, err, storage.ErrLevelLocked)

	require.NoError(t, first.Unlock())
	again, err := storage.LockLevel(dir)
	require.NoError(t, err)
	require.NoError(t, again.Unlock())
}
