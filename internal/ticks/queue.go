// Package ticks хранит отложенные тики блоков всего мира.
package ticks

import (
	"sort"
	"sync"

	"github.com/annelo/go-world-server/internal/chunk"
)

// Queue представляет общую очередь отложенных тиков. Не зависит от того, загружен ли
// чанк: тики чанка переносятся в него только при сохранении.
type Queue struct {
	mu    sync.Mutex
	ticks []chunk.ScheduledTick
}

// NewQueue создаёт пустую очередь.
func NewQueue() *Queue {
	return &Queue{}
}

// Schedule добавляет тик. Дубликаты не отсекаются, см. IsScheduled.
func (q *Queue) Schedule(pos chunk.BlockPos, delay uint16, priority chunk.TickPriority, target uint16) {
	q.mu.Lock()
	q.ticks = append(q.ticks, chunk.ScheduledTick{
		Pos:         pos,
		Delay:       delay,
		Priority:    priority,
		TargetBlock: target,
	})
	q.mu.Unlock()
}

// IsScheduled проверяет наличие тика для блока с заданной целью. O(n).
func (q *Queue) IsScheduled(pos chunk.BlockPos, target uint16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.ticks {
		if t.Pos == pos && t.TargetBlock == target {
			return true
		}
	}
	return false
}

// Advance уменьшает задержку всех тиков на единицу и возвращает тики с
// нулевой задержкой, отсортированные по приоритету. Порядок тиков с
// одинаковым приоритетом сохраняется.
func (q *Queue) Advance() []chunk.ScheduledTick {
	q.mu.Lock()
	var due []chunk.ScheduledTick
	kept := q.ticks[:0]
	for _, t := range q.ticks {
		if t.Delay > 0 {
			t.Delay--
		}
		if t.Delay == 0 {
			due = append(due, t)
			continue
		}
		kept = append(kept, t)
	}
	// обнуляем хвост, чтобы не держать старые записи
	for i := len(kept); i < len(q.ticks); i++ {
		q.ticks[i] = chunk.ScheduledTick{}
	}
	q.ticks = kept
	q.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Priority < due[j].Priority
	})
	return due
}

// DrainChunk забирает из очереди все тики, принадлежащие чанку pos.
func (q *Queue) DrainChunk(pos chunk.Pos) []chunk.ScheduledTick {
	q.mu.Lock()
	defer q.mu.Unlock()
	var owned []chunk.ScheduledTick
	kept := q.ticks[:0]
	for _, t := range q.ticks {
		if t.Pos.ChunkPos() == pos {
			owned = append(owned, t)
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(q.ticks); i++ {
		q.ticks[i] = chunk.ScheduledTick{}
	}
	q.ticks = kept
	return owned
}

// Extend возвращает в очередь ранее снятые тики, например при загрузке чанка.
func (q *Queue) Extend(ticks []chunk.ScheduledTick) {
	if len(ticks) == 0 {
		return
	}
	q.mu.Lock()
	q.ticks = append(q.ticks, ticks...)
	q.mu.Unlock()
}

// Len возвращает число ожидающих тиков.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ticks)
}
