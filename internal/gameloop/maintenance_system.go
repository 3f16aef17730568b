package gameloop

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/annelo/go-world-server/internal/chunkmanager"
)

// MaintenanceSystem периодически выгружает ненаблюдаемые чанки и
// обслуживает хранилище. Работа идёт в фоне, чтобы не задерживать цикл;
// следующий запуск пропускается, пока не закончился предыдущий.
type MaintenanceSystem struct {
	cleanEvery   time.Duration
	compactEvery time.Duration

	chunks *chunkmanager.ChunkManager
	logger *zap.SugaredLogger

	sinceClean   time.Duration
	sinceCompact time.Duration
	busy         atomic.Bool
	runs         atomic.Int64
}

// NewMaintenanceSystem создаёт систему. Нулевой интервал отключает операцию.
func NewMaintenanceSystem(cleanEvery, compactEvery time.Duration) *MaintenanceSystem {
	return &MaintenanceSystem{cleanEvery: cleanEvery, compactEvery: compactEvery}
}

func (m *MaintenanceSystem) Name() string { return "maintenance" }

func (m *MaintenanceSystem) Init(deps Dependencies) error {
	if deps.Chunks == nil {
		return errors.New("не задан менеджер чанков")
	}
	m.chunks = deps.Chunks
	m.logger = deps.Logger.Named(m.Name())
	return nil
}

func (m *MaintenanceSystem) Tick(ctx context.Context, dt time.Duration) {
	m.sinceClean += dt
	m.sinceCompact += dt

	clean := m.cleanEvery > 0 && m.sinceClean >= m.cleanEvery
	compact := m.compactEvery > 0 && m.sinceCompact >= m.compactEvery
	if !clean && !compact {
		return
	}
	if !m.busy.CompareAndSwap(false, true) {
		return
	}
	if clean {
		m.sinceClean = 0
	}
	if compact {
		m.sinceCompact = 0
	}

	go func() {
		defer m.busy.Store(false)
		defer m.runs.Add(1)
		if clean {
			evicted := m.chunks.CleanMemory(ctx)
			m.logger.Debugw("Очистка памяти", "evicted", evicted, "loaded", m.chunks.LoadedChunkCount())
		}
		if compact {
			if err := m.chunks.CompactLogs(ctx); err != nil && !errors.Is(err, chunkmanager.ErrShuttingDown) {
				m.logger.Warnw("Ошибка обслуживания хранилища", "error", err)
			}
		}
	}()
}

// Runs возвращает число завершённых запусков
func (m *MaintenanceSystem) Runs() int64 {
	return m.runs.Load()
}
