// Package service запускает открытый мир: игровой цикл, периодическую
// статистику и сервер здоровья.
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/annelo/go-world-server/internal/gameloop"
	"github.com/annelo/go-world-server/internal/world"
)

// WorldService управляет фоновой работой одного мира
type WorldService struct {
	logger *zap.SugaredLogger
	world  *world.World
	health *Health

	tick          time.Duration
	statsInterval time.Duration

	loop   *gameloop.Loop
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorldService создаёт сервис. health может быть nil.
func NewWorldService(w *world.World, health *Health, tick time.Duration, logger *zap.SugaredLogger) *WorldService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WorldService{
		logger:        logger,
		world:         w,
		health:        health,
		tick:          tick,
		statsInterval: time.Minute,
	}
}

// Start запускает игровой цикл и сбор статистики
func (s *WorldService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.loop = gameloop.NewLoop(s.tick, s.world.Dependencies(), s.world.Systems()...)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.loop.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.monitorChunks(ctx)
	}()

	if s.health != nil {
		s.health.MarkServing()
	}
}

// monitorChunks периодически пишет в лог статистику чанков
func (s *WorldService) monitorChunks(ctx context.Context) {
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.logger.Infow("Статистика чанков",
				"loaded", s.world.Chunks.LoadedChunkCount(),
				"spawn", s.world.Chunks.SpawnChunkCount(),
				"ticks", s.world.Chunks.PendingBlockTicks(),
				"players", len(s.world.Players.GetAllPlayers()),
			)
		case <-ctx.Done():
			return
		}
	}
}

// Stop останавливает цикл и сохраняет мир
func (s *WorldService) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	err := s.world.Stop(ctx)
	if s.health != nil {
		s.health.Shutdown()
	}
	if err != nil {
		s.logger.Errorw("Мир остановлен с ошибкой", "error", err)
	} else {
		s.logger.Infow("Мир остановлен")
	}
	return err
}

// Ticks возвращает число выполненных тиков цикла
func (s *WorldService) Ticks() int64 {
	if s.loop == nil {
		return 0
	}
	return s.loop.Ticks()
}
