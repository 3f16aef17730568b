package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/annelo/go-world-server/internal/chunk"
)

var (
	regionCompactions = ensureCounter("region_compactions")
	regionReadErrors  = ensureCounter("region_read_errors")
)

// DefaultIOWorkers задаёт, сколько регионов обрабатываются параллельно
const DefaultIOWorkers = 8

// RegionIO реализует ChunkIO поверх файлов регионов.
type RegionIO struct {
	regions *RegionManager
	codec   Codec
	logger  *zap.SugaredLogger
	sem     chan struct{}

	// Операции держат RLock; AwaitOngoing берёт Lock и тем самым дожидается их.
	ongoing sync.RWMutex
	closed  atomic.Bool
}

// RegionIOOption настраивает RegionIO.
type RegionIOOption func(*RegionIO)

// WithIOWorkers ограничивает число параллельно обрабатываемых регионов.
func WithIOWorkers(n int) RegionIOOption {
	return func(r *RegionIO) {
		if n > 0 {
			r.sem = make(chan struct{}, n)
		}
	}
}

// WithMaxOpenRegions задаёт размер LRU открытых регионов.
func WithMaxOpenRegions(n int) RegionIOOption {
	return func(r *RegionIO) {
		if n > 0 {
			r.regions.maxOpenRegions = n
		}
	}
}

// WithRegionLogger задаёт логгер.
func WithRegionLogger(l *zap.SugaredLogger) RegionIOOption {
	return func(r *RegionIO) {
		r.logger = l
		r.regions.logger = l
	}
}

// NewRegionIO создаёт хранилище в каталоге dir.
func NewRegionIO(dir string, codec Codec, opts ...RegionIOOption) (*RegionIO, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию регионов: %w", err)
	}
	logger := zap.NewNop().Sugar()
	r := &RegionIO{
		regions: NewRegionManager(dir, DefaultMaxOpenRegions, logger),
		codec:   codec,
		logger:  logger,
		sem:     make(chan struct{}, DefaultIOWorkers),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func groupByRegion(positions []chunk.Pos) map[RegionPos][]chunk.Pos {
	groups := make(map[RegionPos][]chunk.Pos)
	for _, p := range positions {
		rp := RegionOf(p)
		groups[rp] = append(groups[rp], p)
	}
	return groups
}

// FetchChunks реализует ChunkIO
func (r *RegionIO) FetchChunks(ctx context.Context, positions []chunk.Pos, results chan<- LoadedData) {
	r.ongoing.RLock()
	defer r.ongoing.RUnlock()

	send := func(ld LoadedData) bool {
		select {
		case results <- ld:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if r.closed.Load() {
		for _, p := range positions {
			if !send(LoadedData{Kind: Failed, Pos: p, Err: ErrClosed}) {
				return
			}
		}
		return
	}

	var wg sync.WaitGroup
	for rp, group := range groupByRegion(positions) {
		wg.Add(1)
		go func(rp RegionPos, group []chunk.Pos) {
			defer wg.Done()
			select {
			case r.sem <- struct{}{}:
				defer func() { <-r.sem }()
			case <-ctx.Done():
				return
			}

			region, release, err := r.regions.Acquire(rp, false)
			if err != nil {
				for _, p := range group {
					ld := LoadedData{Kind: Missing, Pos: p}
					if !errors.Is(err, errRegionMissing) {
						regionReadErrors.Add(1)
						ld = LoadedData{Kind: Failed, Pos: p, Err: err}
					}
					if !send(ld) {
						return
					}
				}
				return
			}
			defer release()

			for _, p := range group {
				ld := r.readOne(region, p)
				if ld.Kind == Failed {
					regionReadErrors.Add(1)
				}
				if !send(ld) {
					return
				}
			}
		}(rp, group)
	}
	wg.Wait()
}

func (r *RegionIO) readOne(region *RegionFile, pos chunk.Pos) LoadedData {
	raw, err := region.ReadChunk(pos)
	if err != nil {
		return toLoaded(pos, nil, err)
	}
	data, err := r.codec.Decode(pos, raw)
	return toLoaded(pos, data, err)
}

// SaveChunks реализует ChunkIO
func (r *RegionIO) SaveChunks(ctx context.Context, chunks []*chunk.Sync) error {
	r.ongoing.RLock()
	defer r.ongoing.RUnlock()

	if r.closed.Load() {
		return ErrClosed
	}

	// Снимки делаем сразу, чтобы не держать блокировки чанков во время записи
	type encoded struct {
		pos chunk.Pos
		raw []byte
	}
	groups := make(map[RegionPos][]encoded)
	var errs []error
	for _, c := range chunks {
		data, _ := c.Snapshot()
		raw, err := r.codec.Encode(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("кодирование чанка %s: %w", c.Pos(), err))
			continue
		}
		rp := RegionOf(c.Pos())
		groups[rp] = append(groups[rp], encoded{pos: c.Pos(), raw: raw})
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for rp, group := range groups {
		wg.Add(1)
		go func(rp RegionPos, group []encoded) {
			defer wg.Done()
			fail := func(err error) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}

			select {
			case r.sem <- struct{}{}:
				defer func() { <-r.sem }()
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}

			region, release, err := r.regions.Acquire(rp, true)
			if err != nil {
				fail(err)
				return
			}
			defer release()

			for _, e := range group {
				if err := region.WriteChunk(e.pos, e.raw); err != nil {
					fail(fmt.Errorf("запись чанка %s: %w", e.pos, err))
				}
			}
			if err := region.Sync(); err != nil {
				fail(fmt.Errorf("sync региона %s: %w", region.Filename(), err))
			}
		}(rp, group)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// WatchChunks реализует ChunkIO
func (r *RegionIO) WatchChunks(positions []chunk.Pos) {
	r.regions.Watch(positions)
}

// UnwatchChunks реализует ChunkIO
func (r *RegionIO) UnwatchChunks(positions []chunk.Pos) {
	r.regions.Unwatch(positions)
}

// ClearWatched реализует ChunkIO
func (r *RegionIO) ClearWatched() {
	r.regions.ClearWatched()
}

// AwaitOngoing реализует ChunkIO
func (r *RegionIO) AwaitOngoing(ctx context.Context) error {
	return awaitRW(ctx, &r.ongoing)
}

// CompactLogs компактирует разросшиеся файлы регионов
func (r *RegionIO) CompactLogs(ctx context.Context) error {
	r.ongoing.RLock()
	defer r.ongoing.RUnlock()

	list, err := r.regions.RegionFiles()
	if err != nil {
		return err
	}
	for _, rp := range list {
		if err := ctx.Err(); err != nil {
			return err
		}
		region, release, err := r.regions.Acquire(rp, false)
		if err != nil {
			r.logger.Warnw("открытие региона для компактации", "region", rp, "error", err)
			continue
		}
		compacted, err := region.Compact()
		release()
		if err != nil {
			r.logger.Errorw("ошибка компактации региона", "region", region.Filename(), "error", err)
			continue
		}
		if compacted {
			regionCompactions.Add(1)
			r.logger.Infow("регион компактирован", "region", region.Filename())
		}
	}
	return nil
}

// OpenRegions возвращает число открытых файлов регионов
func (r *RegionIO) OpenRegions() int {
	return r.regions.OpenCount()
}

// Close дожидается текущих операций и закрывает файлы
func (r *RegionIO) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.ongoing.Lock()
	defer r.ongoing.Unlock()
	return r.regions.Close()
}

// awaitRW ждёт, пока все держатели RLock отпустят мьютекс
func awaitRW(ctx context.Context, mu *sync.RWMutex) error {
	done := make(chan struct{})
	go func() {
		mu.Lock()
		mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
