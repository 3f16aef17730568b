package gameloop

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/annelo/go-world-server/internal/chunk"
	"github.com/annelo/go-world-server/internal/chunkmanager"
)

// deferredTickDelay - через сколько тиков повторить тик незагруженного чанка
const deferredTickDelay = 20

// TickHandler применяет наступивший тик блока к загруженному чанку
type TickHandler func(ctx context.Context, c *chunk.Sync, t chunk.ScheduledTick) error

// ReplaceBlock используется как обработчик по умолчанию и ставит в позицию тика целевой блок
func ReplaceBlock(_ context.Context, c *chunk.Sync, t chunk.ScheduledTick) error {
	x, z := t.Pos.Local()
	c.Write(func(d *chunk.Data) { d.SetBlock(x, z, t.TargetBlock) })
	return nil
}

// BlockTickSystem продвигает очередь тиков блоков на один шаг за тик цикла
type BlockTickSystem struct {
	chunks  *chunkmanager.ChunkManager
	handler TickHandler
	logger  *zap.SugaredLogger

	applied  int64
	deferred int64
}

// NewBlockTickSystem создаёт систему. handler может быть nil.
func NewBlockTickSystem(handler TickHandler) *BlockTickSystem {
	if handler == nil {
		handler = ReplaceBlock
	}
	return &BlockTickSystem{handler: handler}
}

func (s *BlockTickSystem) Name() string { return "block_ticks" }

func (s *BlockTickSystem) Init(deps Dependencies) error {
	if deps.Chunks == nil {
		return errors.New("не задан менеджер чанков")
	}
	s.chunks = deps.Chunks
	s.logger = deps.Logger.Named(s.Name())
	return nil
}

func (s *BlockTickSystem) Tick(ctx context.Context, _ time.Duration) {
	for _, t := range s.chunks.TickBlockTicks() {
		c, ok := s.chunks.TryGetChunk(t.Pos.ChunkPos())
		if !ok {
			// чанк выгружен между планированием и наступлением тика
			s.chunks.ScheduleBlockTick(t.Pos, deferredTickDelay, t.Priority, t.TargetBlock)
			s.deferred++
			continue
		}
		if err := s.handler(ctx, c, t); err != nil {
			s.logger.Warnw("Ошибка обработки тика", "block", t.Pos, "error", err)
			continue
		}
		s.applied++
	}
}

// Stats возвращает число применённых и отложенных тиков
func (s *BlockTickSystem) Stats() (applied, deferred int64) {
	return s.applied, s.deferred
}
