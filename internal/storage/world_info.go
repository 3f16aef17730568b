package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// WorldInfoVersion - текущая версия формата world_info.json
	WorldInfoVersion = 1

	worldInfoFile   = "world_info.json"
	worldInfoBackup = "world_info.json_old"
)

// WorldInfo содержит общую информацию о игровом мире
type WorldInfo struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	Seed       int64             `json:"seed"`
	Version    int               `json:"version"`   // версия формата сохранения
	Format     string            `json:"format"`    // формат хранилища чанков
	Generator  string            `json:"generator"` // тип генератора
	SpawnX     int32             `json:"spawn_x"`
	SpawnZ     int32             `json:"spawn_z"`
	CreatedAt  int64             `json:"created_at"`
	LastSaveAt int64             `json:"last_save_at"`
	Properties map[string]string `json:"properties,omitempty"`
}

// NewWorldInfo создаёт информацию для нового мира
func NewWorldInfo(name string, seed int64) *WorldInfo {
	return &WorldInfo{
		ID:         uuid.New(),
		Name:       name,
		Seed:       seed,
		Version:    WorldInfoVersion,
		CreatedAt:  time.Now().Unix(),
		Properties: make(map[string]string),
	}
}

// WorldInfoStore читает и записывает информацию о мире.
type WorldInfoStore interface {
	ReadInfo() (*WorldInfo, error)
	WriteInfo(info *WorldInfo) error
}

// FileInfoStore хранит информацию о мире в JSON-файле в папке мира.
type FileInfoStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileInfoStore создаёт хранилище информации в каталоге dir
func NewFileInfoStore(dir string) *FileInfoStore {
	return &FileInfoStore{dir: dir}
}

// ReadInfo читает world_info.json. Отсутствие файла даёт ErrInfoNotFound.
func (s *FileInfoStore) ReadInfo() (*WorldInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var info WorldInfo
	if err := loadJSONFile(filepath.Join(s.dir, worldInfoFile), &info); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrInfoNotFound
		}
		return nil, fmt.Errorf("чтение информации о мире: %w", err)
	}
	if info.Version > WorldInfoVersion {
		return nil, fmt.Errorf("world_info версии %d: %w", info.Version, ErrUnsupportedVersion)
	}
	return &info, nil
}

// WriteInfo атомарно записывает world_info.json и обновляет время сохранения
func (s *FileInfoStore) WriteInfo(info *WorldInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *info
	cp.LastSaveAt = time.Now().Unix()
	if err := saveJSONFile(filepath.Join(s.dir, worldInfoFile), &cp); err != nil {
		return fmt.Errorf("запись информации о мире: %w", err)
	}
	info.LastSaveAt = cp.LastSaveAt
	return nil
}

// Backup копирует world_info.json в world_info.json_old. Отсутствие
// исходного файла не считается ошибкой.
func (s *FileInfoStore) Backup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := os.Open(filepath.Join(s.dir, worldInfoFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(s.dir, worldInfoBackup))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// Вспомогательные функции для работы с JSON
func saveJSONFile(path string, data any) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, jsonData, 0644)
}

func loadJSONFile(path string, data any) error {
	fileData, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(fileData, data)
}

// atomicWrite пишет во временный файл и переименовывает его поверх path
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("запись временного файла: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("переименование временного файла: %w", err)
	}
	return nil
}
