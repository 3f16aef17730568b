package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/df-mc/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/annelo/go-world-server/internal/chunk"
)

const chunkKeyPrefix = 'c'

// LevelDBIO реализует ChunkIO поверх базы LevelDB: один ключ на чанк.
type LevelDBIO struct {
	db      *leveldb.DB
	codec   Codec
	logger  *zap.SugaredLogger
	workers int

	ongoing sync.RWMutex
	closed  atomic.Bool
}

// OpenLevelDBIO открывает или создаёт базу в каталоге dir. Сжатием данных
// занимается codec, поэтому встроенное сжатие LevelDB отключено.
func OpenLevelDBIO(dir string, codec Codec, workers int, logger *zap.SugaredLogger) (*LevelDBIO, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{Compression: opt.NoCompression})
	if err != nil {
		return nil, fmt.Errorf("открытие leveldb %s: %w", dir, err)
	}
	if workers <= 0 {
		workers = DefaultIOWorkers
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LevelDBIO{db: db, codec: codec, logger: logger, workers: workers}, nil
}

func chunkDBKey(pos chunk.Pos) []byte {
	key := make([]byte, 9)
	key[0] = chunkKeyPrefix
	binary.BigEndian.PutUint32(key[1:5], uint32(pos.X))
	binary.BigEndian.PutUint32(key[5:9], uint32(pos.Z))
	return key
}

// FetchChunks реализует ChunkIO
func (l *LevelDBIO) FetchChunks(ctx context.Context, positions []chunk.Pos, results chan<- LoadedData) {
	l.ongoing.RLock()
	defer l.ongoing.RUnlock()

	jobs := make(chan chunk.Pos)
	var wg sync.WaitGroup
	for i := 0; i < l.workers && i < len(positions); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pos := range jobs {
				select {
				case results <- l.readOne(pos):
				case <-ctx.Done():
				}
			}
		}()
	}

feed:
	for _, pos := range positions {
		select {
		case jobs <- pos:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}

func (l *LevelDBIO) readOne(pos chunk.Pos) LoadedData {
	if l.closed.Load() {
		return LoadedData{Kind: Failed, Pos: pos, Err: ErrClosed}
	}
	raw, err := l.db.Get(chunkDBKey(pos), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return toLoaded(pos, nil, ErrChunkNotFound{X: pos.X, Z: pos.Z})
	}
	if err != nil {
		return toLoaded(pos, nil, err)
	}
	data, err := l.codec.Decode(pos, raw)
	return toLoaded(pos, data, err)
}

// SaveChunks записывает все чанки одним пакетом
func (l *LevelDBIO) SaveChunks(ctx context.Context, chunks []*chunk.Sync) error {
	l.ongoing.RLock()
	defer l.ongoing.RUnlock()

	if l.closed.Load() {
		return ErrClosed
	}

	batch := new(leveldb.Batch)
	var errs []error
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, _ := c.Snapshot()
		raw, err := l.codec.Encode(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("кодирование чанка %s: %w", c.Pos(), err))
			continue
		}
		batch.Put(chunkDBKey(c.Pos()), raw)
	}
	if batch.Len() > 0 {
		if err := l.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
			errs = append(errs, fmt.Errorf("запись пакета leveldb: %w", err))
		}
	}
	return errors.Join(errs...)
}

// WatchChunks ничего не делает: LevelDB сам управляет своими файлами.
func (l *LevelDBIO) WatchChunks([]chunk.Pos) {}

// UnwatchChunks ничего не делает.
func (l *LevelDBIO) UnwatchChunks([]chunk.Pos) {}

// ClearWatched ничего не делает.
func (l *LevelDBIO) ClearWatched() {}

// AwaitOngoing реализует ChunkIO
func (l *LevelDBIO) AwaitOngoing(ctx context.Context) error {
	return awaitRW(ctx, &l.ongoing)
}

// CompactLogs компактирует весь диапазон ключей чанков
func (l *LevelDBIO) CompactLogs(ctx context.Context) error {
	l.ongoing.RLock()
	defer l.ongoing.RUnlock()
	if l.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.db.CompactRange(*util.BytesPrefix([]byte{chunkKeyPrefix})); err != nil {
		return fmt.Errorf("компактация leveldb: %w", err)
	}
	return nil
}

// Close закрывает базу
func (l *LevelDBIO) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.ongoing.Lock()
	defer l.ongoing.Unlock()
	return l.db.Close()
}
