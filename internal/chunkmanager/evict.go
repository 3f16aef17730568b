package chunkmanager

import (
	"context"
	"fmt"

	"github.com/annelo/go-world-server/internal/chunk"
	"github.com/annelo/go-world-server/internal/events"
)

// CleanChunks выгружает из памяти позиции без наблюдателей. Чанки
// сохраняются в фоне, а удаляются из кэша, только если за время записи
// у них не появилось наблюдателей и изменений. Запись прерывается при
// остановке менеджера: такие чанки остаются в памяти и сохраняются
// вместе с остальными.
func (m *ChunkManager) CleanChunks(positions []chunk.Pos) {
	if !m.running() {
		return
	}
	candidates := m.evictionCandidates(positions)
	if len(candidates) == 0 {
		return
	}
	if !m.tasks.spawn(func() { m.evict(m.ctx, candidates) }) {
		m.logger.Debugw("Выгрузка пропущена: менеджер останавливается", "chunks", len(candidates))
	}
}

// CleanMemory синхронно выгружает все чанки без наблюдателей и сжимает
// внутренние карты, если в них накопилось много удалённых записей.
// Возвращает число выгруженных чанков.
func (m *ChunkManager) CleanMemory(ctx context.Context) int {
	if !m.running() || !m.tasks.add() {
		return 0
	}
	defer m.tasks.done()
	ctx, cancel := m.withShutdown(ctx)
	defer cancel()

	candidates := m.evictionCandidates(m.cache.Positions())
	evicted := 0
	if len(candidates) > 0 {
		evicted = m.evict(ctx, candidates)
	}

	if m.cache.Shrink(m.shrinkThreshold) {
		m.logger.Debugw("Кэш чанков сжат", "loaded", m.cache.Len())
	}
	m.watchers.shrink(m.shrinkThreshold)
	m.spawn.ShrinkIfSlack(m.shrinkThreshold)
	m.fence.prune()
	return evicted
}

func (m *ChunkManager) evictionCandidates(positions []chunk.Pos) []*chunk.Sync {
	var out []*chunk.Sync
	for _, p := range dedupe(positions) {
		if m.watchers.isWatched(p) {
			continue
		}
		if h, ok := m.cache.TryGet(p); ok {
			out = append(out, h)
		}
	}
	return out
}

// evict сохраняет кандидатов и удаляет их из кэша
func (m *ChunkManager) evict(ctx context.Context, handles []*chunk.Sync) int {
	versions, err := m.writeChunks(ctx, handles)
	if err != nil {
		// без успешной записи выгрузка потеряла бы изменения
		m.logger.Errorw("Не удалось сохранить чанки перед выгрузкой", "chunks", len(handles), "error", err)
		for _, h := range handles {
			m.restoreTicks(h)
		}
		return 0
	}

	evicted := 0
	for _, h := range handles {
		pos := h.Pos()
		saved := versions[pos]
		removed := m.cache.RemoveIf(pos, func(cur *chunk.Sync) bool {
			if cur != h || m.watchers.isWatched(pos) || h.Version() != saved {
				return false
			}
			m.fence.record(pos)
			return true
		})
		if removed {
			evicted++
			chunksEvicted.Add(1)
			m.publish(events.KindEvicted, pos)
		}
		// чанк остался доступен: тики снова должны идти из общей очереди
		if !removed || m.isSpawn(h) {
			m.restoreTicks(h)
		}
	}
	if evicted > 0 {
		m.logger.Debugw("Чанки выгружены", "evicted", evicted, "kept", len(handles)-evicted)
	}
	return evicted
}

// WriteChunks сохраняет чанки, не выгружая их
func (m *ChunkManager) WriteChunks(ctx context.Context, handles []*chunk.Sync) error {
	_, err := m.writeChunks(ctx, handles)
	for _, h := range handles {
		m.restoreTicks(h)
	}
	return err
}

// writeChunks переносит тики каждого чанка из общей очереди в его данные
// и отдаёт чанки хранилищу. Возвращает версии на момент записи.
func (m *ChunkManager) writeChunks(ctx context.Context, handles []*chunk.Sync) (map[chunk.Pos]uint64, error) {
	versions := make(map[chunk.Pos]uint64, len(handles))
	if len(handles) == 0 {
		return versions, nil
	}
	for _, h := range handles {
		pos := h.Pos()
		h.Write(func(d *chunk.Data) {
			d.BlockTicks = append(d.BlockTicks, m.ticks.DrainChunk(pos)...)
		})
		versions[pos] = h.Version()
	}

	if err := m.io.SaveChunks(ctx, handles); err != nil {
		chunkSaveErrors.Add(1)
		return versions, fmt.Errorf("сохранение %d чанков: %w", len(handles), err)
	}
	chunksSaved.Add(int64(len(handles)))
	for _, h := range handles {
		m.publish(events.KindSaved, h.Pos())
	}
	return versions, nil
}

// restoreTicks возвращает тики из данных чанка в общую очередь
func (m *ChunkManager) restoreTicks(h *chunk.Sync) {
	h.Write(func(d *chunk.Data) {
		if len(d.BlockTicks) == 0 {
			return
		}
		m.ticks.Extend(d.BlockTicks)
		d.BlockTicks = nil
	})
}

func (m *ChunkManager) isSpawn(h *chunk.Sync) bool {
	cur, ok := m.spawn.Load(h.Pos())
	return ok && cur == h
}
