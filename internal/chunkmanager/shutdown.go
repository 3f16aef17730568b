package chunkmanager

import (
	"context"
	"time"

	"github.com/annelo/go-world-server/internal/chunk"
)

// Shutdown останавливает менеджер: перестаёт принимать запросы, дожидается
// начатых загрузок и выгрузок, записывает все чанки из памяти и метаданные
// мира. Повторный вызов ничего не делает. После возврата кэш, таблица
// наблюдателей и чанки спавна пусты.
//
// Ошибка записи чанков возвращается вызывающему, ошибка записи метаданных
// только логируется.
func (m *ChunkManager) Shutdown(ctx context.Context) error {
	if !m.beginShutdown() {
		return nil
	}
	start := time.Now()

	m.tasks.close()
	if err := m.tasks.wait(ctx); err != nil {
		m.logger.Warnw("Не все фоновые операции завершились до остановки", "error", err)
	}

	m.setState(StateFlushing)
	if err := m.io.AwaitOngoing(ctx); err != nil {
		m.logger.Warnw("Не дождались операций хранилища", "error", err)
	}
	m.io.ClearWatched()
	m.pool.close()

	handles := m.residentHandles()
	m.cache.Clear()
	m.spawn.Clear()
	m.watchers.clear()

	_, saveErr := m.writeChunks(ctx, handles)
	if saveErr != nil {
		m.logger.Errorw("Ошибка сохранения чанков при остановке", "error", saveErr)
	}
	m.writeInfo()

	if pending := m.ticks.Len(); pending > 0 {
		m.logger.Warnw("Тики незагруженных чанков не сохранены", "ticks", pending)
	}

	m.setState(StateClosed)
	m.logger.Infow("Менеджер чанков остановлен", "saved", len(handles), "elapsed", time.Since(start))
	return saveErr
}

// beginShutdown атомарно переводит Running в Draining
func (m *ChunkManager) beginShutdown() bool {
	if !m.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return false
	}
	// повторная запись того же значения нужна, чтобы оповестить слушателей
	m.setState(StateDraining)
	m.cancel()
	return true
}

// residentHandles объединяет кэш и чанки спавна без повторов
func (m *ChunkManager) residentHandles() []*chunk.Sync {
	seen := make(map[chunk.Pos]*chunk.Sync)
	for _, h := range m.cache.Handles() {
		seen[h.Pos()] = h
	}
	m.spawn.Range(func(p chunk.Pos, h *chunk.Sync) bool {
		if cur, ok := seen[p]; ok && cur != h {
			m.logger.Warnw("Чанк спавна расходится с кэшем, сохраняется версия из кэша", "chunk", p)
			return true
		}
		seen[p] = h
		return true
	})

	out := make([]*chunk.Sync, 0, len(seen))
	for _, h := range seen {
		out = append(out, h)
	}
	return out
}

func (m *ChunkManager) writeInfo() {
	if m.info == nil || m.infoStore == nil {
		return
	}
	if err := m.infoStore.WriteInfo(m.info); err != nil {
		m.logger.Errorw("Не удалось сохранить метаданные мира", "error", err)
	}
}
