package chunkmanager

import (
	"math"

	"go.uber.org/zap"

	"github.com/annelo/go-world-server/internal/chunk"
	"github.com/annelo/go-world-server/internal/syncmap"
)

// watcherTable считает интерес к позициям. Отсутствие записи и ноль
// равнозначны: нулевые записи сразу удаляются.
type watcherTable struct {
	m      *syncmap.Map[chunk.Pos, uint32]
	max    uint32
	logger *zap.SugaredLogger
}

func newWatcherTable(capacity int, logger *zap.SugaredLogger) *watcherTable {
	return &watcherTable{
		m:      syncmap.New[chunk.Pos, uint32](capacity, chunk.Pos.Hash),
		max:    math.MaxUint32,
		logger: logger,
	}
}

func (w *watcherTable) watch(positions []chunk.Pos) {
	for _, p := range positions {
		w.m.Compute(p, func(old uint32, _ bool) (uint32, bool) {
			if old >= w.max {
				w.logger.Errorw("Переполнение счётчика наблюдателей", "chunk", p)
				return old, true
			}
			return old + 1, true
		})
	}
}

// unwatch уменьшает счётчики и возвращает позиции, дошедшие до нуля.
// Позиции без наблюдателей пропускаются.
func (w *watcherTable) unwatch(positions []chunk.Pos) []chunk.Pos {
	var zero []chunk.Pos
	for _, p := range positions {
		w.m.Compute(p, func(old uint32, ok bool) (uint32, bool) {
			if !ok {
				return 0, false
			}
			if old <= 1 {
				zero = append(zero, p)
				return 0, false
			}
			return old - 1, true
		})
	}
	return zero
}

func (w *watcherTable) count(pos chunk.Pos) uint32 {
	n, _ := w.m.Load(pos)
	return n
}

func (w *watcherTable) isWatched(pos chunk.Pos) bool {
	return w.count(pos) > 0
}

func (w *watcherTable) len() int {
	return w.m.Len()
}

func (w *watcherTable) clear() {
	w.m.Clear()
}

func (w *watcherTable) shrink(threshold int) bool {
	return w.m.ShrinkIfSlack(threshold)
}
