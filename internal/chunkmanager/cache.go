package chunkmanager

import (
	"github.com/annelo/go-world-server/internal/chunk"
	"github.com/annelo/go-world-server/internal/syncmap"
)

// ChunkCache представляет конкурентную карту загруженных чанков.
// Для каждой позиции в карте не больше одного дескриптора.
type ChunkCache struct {
	m *syncmap.Map[chunk.Pos, *chunk.Sync]
}

// NewChunkCache создаёт кэш с начальной ёмкостью capacity
func NewChunkCache(capacity int) *ChunkCache {
	return &ChunkCache{m: syncmap.New[chunk.Pos, *chunk.Sync](capacity, chunk.Pos.Hash)}
}

// TryGet возвращает загруженный чанк
func (c *ChunkCache) TryGet(pos chunk.Pos) (*chunk.Sync, bool) {
	return c.m.Load(pos)
}

// GetOrInsertWith возвращает существующий дескриптор или создаёт его через
// produce. produce выполняется под блокировкой бакета, не больше одного раза
// на позицию. inserted равен true, если в кэш попал результат produce.
func (c *ChunkCache) GetOrInsertWith(pos chunk.Pos, produce func() *chunk.Sync) (h *chunk.Sync, inserted bool) {
	h, loaded := c.m.LoadOrCompute(pos, produce)
	return h, !loaded
}

// GetOrTryInsert работает как GetOrInsertWith, но produce может отказаться
// от вставки, вернув nil. ok равен false, если записи в итоге нет.
func (c *ChunkCache) GetOrTryInsert(pos chunk.Pos, produce func() *chunk.Sync) (h *chunk.Sync, inserted, ok bool) {
	h, ok = c.m.Compute(pos, func(old *chunk.Sync, loaded bool) (*chunk.Sync, bool) {
		if loaded {
			return old, true
		}
		fresh := produce()
		inserted = fresh != nil
		return fresh, inserted
	})
	return h, inserted, ok
}

// RemoveIf удаляет чанк, если pred вернул true. pred выполняется под
// блокировкой бакета.
func (c *ChunkCache) RemoveIf(pos chunk.Pos, pred func(h *chunk.Sync) bool) bool {
	return c.m.DeleteIf(pos, pred)
}

// Len возвращает число загруженных чанков
func (c *ChunkCache) Len() int {
	return c.m.Len()
}

// Positions возвращает позиции всех загруженных чанков
func (c *ChunkCache) Positions() []chunk.Pos {
	out := make([]chunk.Pos, 0, c.m.Len())
	c.m.Range(func(p chunk.Pos, _ *chunk.Sync) bool {
		out = append(out, p)
		return true
	})
	return out
}

// Handles возвращает снимок всех дескрипторов
func (c *ChunkCache) Handles() []*chunk.Sync {
	out := make([]*chunk.Sync, 0, c.m.Len())
	c.m.Range(func(_ chunk.Pos, h *chunk.Sync) bool {
		out = append(out, h)
		return true
	})
	return out
}

// Clear очищает кэш
func (c *ChunkCache) Clear() {
	c.m.Clear()
}

// Shrink сообщает, набралось ли с прошлого вызова не меньше threshold удалений
func (c *ChunkCache) Shrink(threshold int) bool {
	return c.m.ShrinkIfSlack(threshold)
}
