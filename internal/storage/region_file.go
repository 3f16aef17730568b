package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/annelo/go-world-server/internal/chunk"
)

const (
	// RegionSize - сторона региона в чанках
	RegionSize = 16

	regionMagic         = "BREG"
	regionFormatVersion = 2
	regionHeaderSize    = 256
	regionIndexEntry    = 16
	regionChunkCount    = RegionSize * RegionSize
	regionIndexSize     = regionIndexEntry * regionChunkCount
	regionDataStart     = regionHeaderSize + regionIndexSize
)

// RegionCompactionGrowFactor определяет, во сколько раз файл может превысить объём
// живых данных до компактации
var RegionCompactionGrowFactor = 1.5

// renameFile заменяется в тестах
var renameFile = os.Rename

// RegionPos - координаты региона.
type RegionPos struct {
	X int32
	Z int32
}

// RegionOf возвращает регион, содержащий чанк
func RegionOf(pos chunk.Pos) RegionPos {
	return RegionPos{X: chunk.FloorDiv(pos.X, RegionSize), Z: chunk.FloorDiv(pos.Z, RegionSize)}
}

// RegionFileName возвращает имя файла региона
func RegionFileName(rp RegionPos) string {
	return fmt.Sprintf("bchunk_%d_%d.dat", rp.X, rp.Z)
}

// Запись в индексной таблице
type chunkIndexEntry struct {
	Offset   uint32
	Size     uint32
	ModTime  uint32
	Checksum uint32
}

// RegionFile представляет файл региона, содержащий до 256 чанков.
// Данные каждого чанка занимают непрерывный участок после индексной таблицы.
type RegionFile struct {
	filename string
	pos      RegionPos
	file     *os.File
	mutex    sync.RWMutex
	index    [regionChunkCount]chunkIndexEntry
	size     int64
}

// OpenRegionFile открывает файл региона или создаёт новый
func OpenRegionFile(dir string, rp RegionPos) (*RegionFile, error) {
	fullPath := filepath.Join(dir, RegionFileName(rp))

	exists := false
	if _, err := os.Stat(fullPath); err == nil {
		exists = true
	}

	file, err := os.OpenFile(fullPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	region := &RegionFile{filename: fullPath, pos: rp, file: file}
	if !exists {
		err = region.initializeFile()
	} else {
		err = region.loadIndexTable()
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("регион %s: %w", fullPath, err)
	}
	return region, nil
}

// Инициализация нового файла: заголовок и пустая индексная таблица
func (r *RegionFile) initializeFile() error {
	buf := make([]byte, regionDataStart)

	copy(buf[0:4], regionMagic)
	binary.LittleEndian.PutUint32(buf[4:8], regionFormatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], regionChunkCount)
	now := uint64(time.Now().Unix())
	binary.LittleEndian.PutUint64(buf[12:20], now) // время создания
	binary.LittleEndian.PutUint64(buf[20:28], now) // последнее обновление
	binary.LittleEndian.PutUint32(buf[28:32], uint32(r.pos.X))
	binary.LittleEndian.PutUint32(buf[32:36], uint32(r.pos.Z))

	// Нулевое смещение и размер означают, что чанк еще не сохранен
	if _, err := r.file.WriteAt(buf, 0); err != nil {
		return err
	}
	r.size = regionDataStart
	return r.file.Sync()
}

// Загрузка индексной таблицы в память
func (r *RegionFile) loadIndexTable() error {
	buf := make([]byte, regionDataStart)
	if _, err := r.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: заголовок: %v", ErrCorruptedChunk, err)
	}
	if string(buf[0:4]) != regionMagic {
		return fmt.Errorf("%w: неверная сигнатура", ErrCorruptedChunk)
	}
	if v := binary.LittleEndian.Uint32(buf[4:8]); v != regionFormatVersion {
		return fmt.Errorf("версия региона %d: %w", v, ErrUnsupportedVersion)
	}

	info, err := r.file.Stat()
	if err != nil {
		return err
	}
	r.size = info.Size()

	for i := 0; i < regionChunkCount; i++ {
		off := regionHeaderSize + i*regionIndexEntry
		r.index[i] = chunkIndexEntry{
			Offset:   binary.LittleEndian.Uint32(buf[off : off+4]),
			Size:     binary.LittleEndian.Uint32(buf[off+4 : off+8]),
			ModTime:  binary.LittleEndian.Uint32(buf[off+8 : off+12]),
			Checksum: binary.LittleEndian.Uint32(buf[off+12 : off+16]),
		}
	}
	return nil
}

// slot возвращает номер записи индекса для чанка
func (r *RegionFile) slot(pos chunk.Pos) (int, error) {
	if RegionOf(pos) != r.pos {
		return -1, fmt.Errorf("чанк %s не принадлежит региону %d:%d", pos, r.pos.X, r.pos.Z)
	}
	lx := int(pos.X - r.pos.X*RegionSize)
	lz := int(pos.Z - r.pos.Z*RegionSize)
	return lz*RegionSize + lx, nil
}

// Has сообщает, сохранён ли чанк в регионе
func (r *RegionFile) Has(pos chunk.Pos) bool {
	idx, err := r.slot(pos)
	if err != nil {
		return false
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.index[idx].Size > 0
}

// ReadChunk возвращает сохранённые байты чанка
func (r *RegionFile) ReadChunk(pos chunk.Pos) ([]byte, error) {
	idx, err := r.slot(pos)
	if err != nil {
		return nil, err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entry := r.index[idx]
	if entry.Size == 0 {
		return nil, ErrChunkNotFound{X: pos.X, Z: pos.Z}
	}
	if int64(entry.Offset)+int64(entry.Size) > r.size {
		return nil, fmt.Errorf("%w: запись за пределами файла", ErrCorruptedChunk)
	}

	data := make([]byte, entry.Size)
	if _, err := r.file.ReadAt(data, int64(entry.Offset)); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(data) != entry.Checksum {
		return nil, fmt.Errorf("%w: контрольная сумма не совпадает", ErrCorruptedChunk)
	}
	return data, nil
}

// WriteChunk записывает байты чанка. Если новые данные помещаются в старое
// место, оно переиспользуется, иначе запись идёт в конец файла.
// Синхронизация с диском выполняется отдельно через Sync.
func (r *RegionFile) WriteChunk(pos chunk.Pos, data []byte) error {
	idx, err := r.slot(pos)
	if err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.writeChunkLocked(idx, data, uint32(time.Now().Unix()))
}

func (r *RegionFile) writeChunkLocked(idx int, data []byte, modTime uint32) error {
	if len(data) == 0 {
		return fmt.Errorf("пустая запись чанка")
	}

	entry := r.index[idx]
	var offset uint32
	if entry.Offset > 0 && uint32(len(data)) <= entry.Size {
		offset = entry.Offset
	} else {
		offset = uint32(r.size)
	}

	if _, err := r.file.WriteAt(data, int64(offset)); err != nil {
		return err
	}
	if end := int64(offset) + int64(len(data)); end > r.size {
		r.size = end
	}

	entry = chunkIndexEntry{
		Offset:   offset,
		Size:     uint32(len(data)),
		ModTime:  modTime,
		Checksum: crc32.ChecksumIEEE(data),
	}
	r.index[idx] = entry

	indexBytes := make([]byte, regionIndexEntry)
	binary.LittleEndian.PutUint32(indexBytes[0:4], entry.Offset)
	binary.LittleEndian.PutUint32(indexBytes[4:8], entry.Size)
	binary.LittleEndian.PutUint32(indexBytes[8:12], entry.ModTime)
	binary.LittleEndian.PutUint32(indexBytes[12:16], entry.Checksum)
	_, err := r.file.WriteAt(indexBytes, int64(regionHeaderSize+idx*regionIndexEntry))
	return err
}

// Positions возвращает позиции всех сохранённых чанков региона
func (r *RegionFile) Positions() []chunk.Pos {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var out []chunk.Pos
	for i, e := range r.index {
		if e.Size == 0 {
			continue
		}
		out = append(out, chunk.Pos{
			X: r.pos.X*RegionSize + int32(i%RegionSize),
			Z: r.pos.Z*RegionSize + int32(i/RegionSize),
		})
	}
	return out
}

// Filename возвращает путь к файлу
func (r *RegionFile) Filename() string {
	return r.filename
}

// Close закрывает файл региона
func (r *RegionFile) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.file.Close()
}

// Sync принудительно сбрасывает буферы файла на диск.
func (r *RegionFile) Sync() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.file.Sync()
}

// NeedsCompaction сообщает, превысил ли файл объём живых данных более чем
// в RegionCompactionGrowFactor раз.
func (r *RegionFile) NeedsCompaction() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.needsCompactionLocked()
}

func (r *RegionFile) needsCompactionLocked() bool {
	used := int64(regionDataStart)
	for _, e := range r.index {
		used += int64(e.Size)
	}
	return float64(r.size) > float64(used)*RegionCompactionGrowFactor
}

// Compact копирует все живые записи в новый временный файл и атомарно
// заменяет им старый. Блокирует регион на время операции.
func (r *RegionFile) Compact() (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.needsCompactionLocked() {
		return false, nil
	}

	tmpPath := r.filename + ".tmp"
	_ = os.Remove(tmpPath)

	tmpFile, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return false, fmt.Errorf("создание tmp-файла для компактации: %w", err)
	}
	tmp := &RegionFile{filename: tmpPath, pos: r.pos, file: tmpFile}

	fail := func(err error) (bool, error) {
		tmpFile.Close()
		_ = os.Remove(tmpPath)
		return false, err
	}

	if err := tmp.initializeFile(); err != nil {
		return fail(fmt.Errorf("инициализация tmp-файла: %w", err))
	}

	for idx, entry := range r.index {
		if entry.Size == 0 {
			continue
		}
		data := make([]byte, entry.Size)
		if _, err := r.file.ReadAt(data, int64(entry.Offset)); err != nil {
			return fail(err)
		}
		if err := tmp.writeChunkLocked(idx, data, entry.ModTime); err != nil {
			return fail(err)
		}
	}

	if err := tmp.file.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return false, err
	}

	if err := r.file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return false, r.reopen(err)
	}
	if err := renameFile(tmpPath, r.filename); err != nil {
		_ = os.Remove(tmpPath)
		return false, r.reopen(fmt.Errorf("замена файла региона: %w", err))
	}

	// с этого момента по пути лежит компактированный файл
	r.index = tmp.index
	r.size = tmp.size
	newFile, err := os.OpenFile(r.filename, os.O_RDWR, 0644)
	if err != nil {
		return false, r.reopen(err)
	}
	r.file = newFile
	return true, nil
}

// reopen открывает файл региона заново после неудачной замены, чтобы
// регион оставался читаемым. Возвращает исходную ошибку.
func (r *RegionFile) reopen(cause error) error {
	file, err := os.OpenFile(r.filename, os.O_RDWR, 0644)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("повторное открытие %s: %w", r.filename, err))
	}
	r.file = file
	return cause
}
