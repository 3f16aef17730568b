// Package chunkmanager управляет жизненным циклом чанков мира: загрузкой,
// генерацией, наблюдением, выгрузкой и сохранением при остановке.
package chunkmanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/annelo/go-world-server/internal/chunk"
	"github.com/annelo/go-world-server/internal/events"
	"github.com/annelo/go-world-server/internal/generator"
	"github.com/annelo/go-world-server/internal/storage"
	"github.com/annelo/go-world-server/internal/syncmap"
	"github.com/annelo/go-world-server/internal/ticks"
)

// DefaultShrinkThreshold задаёт, сколько удалённых записей должно накопиться,
// прежде чем CleanMemory перевыделит карты.
const DefaultShrinkThreshold = 4096

// ErrShuttingDown возвращается операциями, вызванными после начала остановки.
var ErrShuttingDown = errors.New("менеджер чанков завершает работу")

// State обозначает стадию жизненного цикла менеджера
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateFlushing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateFlushing:
		return "flushing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FetchResult содержит одно значение, полученное из FetchChunks.
// Generated выставлен для чанков, прошедших через генератор.
// Regenerated означает, что хранилище вернуло ошибку и чанк был создан
// заново: прежнее содержимое на диске будет перезаписано при сохранении.
type FetchResult struct {
	Chunk       *chunk.Sync
	Generated   bool
	Regenerated bool
}

// ChunkManager владеет всеми загруженными чанками мира
type ChunkManager struct {
	logger *zap.SugaredLogger
	io     storage.ChunkIO
	gen    generator.Generator

	cache    *ChunkCache
	spawn    *syncmap.Map[chunk.Pos, *chunk.Sync]
	watchers *watcherTable
	fence    *evictionFence
	ticks    *ticks.Queue
	pool     *generationPool
	tasks    taskTracker

	// ctx отменяется в начале остановки, фоновые задачи его наблюдают
	ctx    context.Context
	cancel context.CancelFunc

	events    events.Publisher
	worldName string
	info      *storage.WorldInfo
	infoStore storage.WorldInfoStore

	state           atomic.Int32
	stateMu         sync.Mutex
	stateListeners  []func(State)
	shrinkThreshold int
	workers         int
	capacity        int
}

// Option настраивает ChunkManager
type Option func(*ChunkManager)

// WithLogger задаёт логгер
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *ChunkManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithGenerationWorkers задаёт размер пула генерации. По умолчанию NumCPU.
func WithGenerationWorkers(n int) Option {
	return func(m *ChunkManager) { m.workers = n }
}

// WithShrinkThreshold задаёт порог сжатия карт в CleanMemory
func WithShrinkThreshold(n int) Option {
	return func(m *ChunkManager) { m.shrinkThreshold = n }
}

// WithInitialCapacity задаёт начальную ёмкость кэша и таблицы наблюдателей
func WithInitialCapacity(n int) Option {
	return func(m *ChunkManager) { m.capacity = n }
}

// WithEventPublisher подключает шину событий
func WithEventPublisher(p events.Publisher) Option {
	return func(m *ChunkManager) {
		if p != nil {
			m.events = p
		}
	}
}

// WithStateListener добавляет обработчик смены стадии. Обработчик
// вызывается синхронно и не должен обращаться к менеджеру.
func WithStateListener(fn func(State)) Option {
	return func(m *ChunkManager) { m.stateListeners = append(m.stateListeners, fn) }
}

// WithWorldInfo задаёт метаданные мира, которые записываются в store при
// остановке. store может быть nil.
func WithWorldInfo(info *storage.WorldInfo, store storage.WorldInfoStore) Option {
	return func(m *ChunkManager) {
		m.info = info
		m.infoStore = store
		if info != nil {
			m.worldName = info.Name
		}
	}
}

// New создаёт менеджер поверх хранилища io и генератора gen
func New(io storage.ChunkIO, gen generator.Generator, opts ...Option) *ChunkManager {
	m := &ChunkManager{
		logger:          zap.NewNop().Sugar(),
		io:              io,
		gen:             gen,
		ticks:           ticks.NewQueue(),
		events:          events.Nop{},
		shrinkThreshold: DefaultShrinkThreshold,
		capacity:        syncmap.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.cache = NewChunkCache(m.capacity)
	m.spawn = syncmap.New[chunk.Pos, *chunk.Sync](m.capacity, chunk.Pos.Hash)
	m.watchers = newWatcherTable(m.capacity, m.logger)
	m.fence = newEvictionFence(m.capacity)
	m.pool = newGenerationPool(m.workers, m.logger)
	return m
}

// State возвращает текущую стадию
func (m *ChunkManager) State() State {
	return State(m.state.Load())
}

func (m *ChunkManager) running() bool {
	return m.State() == StateRunning
}

// setState переводит менеджер в следующую стадию и оповещает слушателей
func (m *ChunkManager) setState(s State) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.state.Store(int32(s))
	m.logger.Infow("Стадия менеджера чанков", "state", s.String())
	for _, fn := range m.stateListeners {
		fn(s)
	}
	m.events.Publish(events.Event{Kind: events.KindState, World: m.worldName, State: s.String(), At: time.Now()})
}

func (m *ChunkManager) publish(kind events.Kind, pos chunk.Pos) {
	m.events.Publish(events.Event{Kind: kind, World: m.worldName, X: pos.X, Z: pos.Z, At: time.Now()})
}

// WatchChunks увеличивает счётчики наблюдения. Пока счётчик больше нуля,
// чанк не выгружается.
func (m *ChunkManager) WatchChunks(positions []chunk.Pos) error {
	if !m.running() {
		m.logger.Warnw("Наблюдение отклонено: менеджер останавливается", "chunks", len(positions))
		return ErrShuttingDown
	}
	m.watchers.watch(positions)
	m.io.WatchChunks(positions)
	return nil
}

// UnwatchChunks уменьшает счётчики и возвращает позиции, у которых
// не осталось наблюдателей. Сами чанки остаются в памяти.
func (m *ChunkManager) UnwatchChunks(positions []chunk.Pos) []chunk.Pos {
	zero := m.watchers.unwatch(positions)
	m.io.UnwatchChunks(positions)
	return zero
}

// ReleaseChunks снимает наблюдение и выгружает чанки, оставшиеся без
// наблюдателей.
func (m *ChunkManager) ReleaseChunks(positions []chunk.Pos) {
	if zero := m.UnwatchChunks(positions); len(zero) > 0 {
		m.CleanChunks(zero)
	}
}

// IsChunkWatched сообщает, есть ли у чанка наблюдатели
func (m *ChunkManager) IsChunkWatched(pos chunk.Pos) bool {
	return m.watchers.isWatched(pos)
}

// WatcherCount возвращает число наблюдателей чанка
func (m *ChunkManager) WatcherCount(pos chunk.Pos) uint32 {
	return m.watchers.count(pos)
}

// TryGetChunk возвращает чанк, только если он уже в памяти
func (m *ChunkManager) TryGetChunk(pos chunk.Pos) (*chunk.Sync, bool) {
	return m.cache.TryGet(pos)
}

// LoadedChunkCount возвращает число чанков в памяти
func (m *ChunkManager) LoadedChunkCount() int {
	return m.cache.Len()
}

// ListCached возвращает позиции загруженных чанков
func (m *ChunkManager) ListCached() []chunk.Pos {
	return m.cache.Positions()
}

// ScheduleBlockTick ставит тик блока в общую очередь
func (m *ChunkManager) ScheduleBlockTick(pos chunk.BlockPos, delay uint16, priority chunk.TickPriority, target uint16) {
	m.ticks.Schedule(pos, delay, priority, target)
}

// IsBlockTickScheduled проверяет, запланирован ли тик блока для цели target
func (m *ChunkManager) IsBlockTickScheduled(pos chunk.BlockPos, target uint16) bool {
	return m.ticks.IsScheduled(pos, target)
}

// TickBlockTicks продвигает очередь на один игровой тик и возвращает
// наступившие тики в порядке приоритета.
func (m *ChunkManager) TickBlockTicks() []chunk.ScheduledTick {
	return m.ticks.Advance()
}

// PendingBlockTicks возвращает размер очереди тиков
func (m *ChunkManager) PendingBlockTicks() int {
	return m.ticks.Len()
}

// CompactLogs запускает обслуживание хранилища. Обслуживание прерывается,
// если менеджер начал останавливаться.
func (m *ChunkManager) CompactLogs(ctx context.Context) error {
	if !m.tasks.add() {
		return ErrShuttingDown
	}
	defer m.tasks.done()
	ctx, cancel := m.withShutdown(ctx)
	defer cancel()
	return m.io.CompactLogs(ctx)
}

// ShuttingDown возвращает канал, который закрывается в начале остановки
func (m *ChunkManager) ShuttingDown() <-chan struct{} {
	return m.ctx.Done()
}

// withShutdown возвращает контекст, отменяемый вместе с ctx или при
// начале остановки менеджера
func (m *ChunkManager) withShutdown(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
