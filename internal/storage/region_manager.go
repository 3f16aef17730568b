package storage

import (
	"container/list"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/annelo/go-world-server/internal/chunk"
)

// DefaultMaxOpenRegions ограничивает, сколько файлов регионов держать открытыми
const DefaultMaxOpenRegions = 64

var errRegionMissing = errors.New("файл региона отсутствует")

// LRU элемент открытого региона
type regionItem struct {
	pos   RegionPos
	file  *RegionFile
	users int // сколько операций сейчас держат регион
}

// RegionManager управляет открытыми регионами и их кешем. Регионы, которые
// используются операцией или содержат наблюдаемые чанки, не закрываются.
type RegionManager struct {
	dir            string
	logger         *zap.SugaredLogger
	mu             sync.Mutex
	maxOpenRegions int
	regions        map[RegionPos]*list.Element
	lruList        *list.List
	watched        map[RegionPos]int // число наблюдаемых чанков в регионе
}

// NewRegionManager создаёт новый менеджер регионов
func NewRegionManager(dir string, maxOpen int, logger *zap.SugaredLogger) *RegionManager {
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenRegions
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RegionManager{
		dir:            dir,
		logger:         logger,
		maxOpenRegions: maxOpen,
		regions:        make(map[RegionPos]*list.Element),
		lruList:        list.New(),
		watched:        make(map[RegionPos]int),
	}
}

// Acquire возвращает открытый регион и функцию освобождения. Если create
// равно false и файла нет, возвращается errRegionMissing.
func (rm *RegionManager) Acquire(rp RegionPos, create bool) (*RegionFile, func(), error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if el, ok := rm.regions[rp]; ok {
		item := el.Value.(*regionItem)
		item.users++
		rm.lruList.MoveToFront(el)
		return item.file, rm.releaser(item), nil
	}

	if !create {
		if _, err := os.Stat(filepath.Join(rm.dir, RegionFileName(rp))); errors.Is(err, os.ErrNotExist) {
			return nil, nil, errRegionMissing
		}
	}

	// Проверяем, не превышен ли лимит открытых регионов
	if len(rm.regions) >= rm.maxOpenRegions {
		rm.closeOldestRegion()
	}

	file, err := OpenRegionFile(rm.dir, rp)
	if err != nil {
		return nil, nil, err
	}
	item := &regionItem{pos: rp, file: file, users: 1}
	rm.regions[rp] = rm.lruList.PushFront(item)
	return file, rm.releaser(item), nil
}

func (rm *RegionManager) releaser(item *regionItem) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			rm.mu.Lock()
			item.users--
			rm.mu.Unlock()
		})
	}
}

// Закрытие самого старого региона, который никто не использует
func (rm *RegionManager) closeOldestRegion() {
	for e := rm.lruList.Back(); e != nil; e = e.Prev() {
		item := e.Value.(*regionItem)
		if item.users > 0 || rm.watched[item.pos] > 0 {
			continue
		}
		if err := item.file.Sync(); err != nil {
			rm.logger.Warnw("sync региона перед закрытием", "region", item.file.Filename(), "error", err)
		}
		if err := item.file.Close(); err != nil {
			rm.logger.Warnw("закрытие региона", "region", item.file.Filename(), "error", err)
		}
		rm.lruList.Remove(e)
		delete(rm.regions, item.pos)
		rm.logger.Debugw("закрыт неиспользуемый регион", "region", item.file.Filename())
		return
	}
	// все регионы заняты, временно превышаем лимит
}

// Watch отмечает чанки как наблюдаемые
func (rm *RegionManager) Watch(positions []chunk.Pos) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, p := range positions {
		rm.watched[RegionOf(p)]++
	}
}

// Unwatch снимает отметку наблюдения
func (rm *RegionManager) Unwatch(positions []chunk.Pos) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, p := range positions {
		rp := RegionOf(p)
		if n := rm.watched[rp]; n > 1 {
			rm.watched[rp] = n - 1
		} else {
			delete(rm.watched, rp)
		}
	}
}

// ClearWatched снимает все отметки наблюдения
func (rm *RegionManager) ClearWatched() {
	rm.mu.Lock()
	rm.watched = make(map[RegionPos]int)
	rm.mu.Unlock()
}

// OpenCount возвращает число открытых регионов
func (rm *RegionManager) OpenCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.regions)
}

// RegionFiles возвращает все регионы, найденные в каталоге
func (rm *RegionManager) RegionFiles() ([]RegionPos, error) {
	matches, err := filepath.Glob(filepath.Join(rm.dir, "bchunk_*_*.dat"))
	if err != nil {
		return nil, err
	}
	out := make([]RegionPos, 0, len(matches))
	for _, m := range matches {
		var rp RegionPos
		if _, err := fmt.Sscanf(filepath.Base(m), "bchunk_%d_%d.dat", &rp.X, &rp.Z); err != nil {
			continue
		}
		out = append(out, rp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Z < out[j].Z
	})
	return out, nil
}

// Close закрывает все открытые регионы
func (rm *RegionManager) Close() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var lastErr error
	for _, el := range rm.regions {
		item := el.Value.(*regionItem)
		if err := item.file.Close(); err != nil {
			rm.logger.Errorw("закрытие региона", "region", item.file.Filename(), "error", err)
			lastErr = err
		}
	}
	rm.regions = make(map[RegionPos]*list.Element)
	rm.lruList = list.New()
	return lastErr
}
