// Package playermanager отслеживает игроков и чанки, которые они видят.
package playermanager

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/annelo/go-world-server/internal/chunk"
	"github.com/annelo/go-world-server/internal/chunkmanager"
)

var (
	ErrPlayerExists   = errors.New("игрок с таким ID уже существует")
	ErrPlayerNotFound = errors.New("игрок не найден")
)

// ChunkSource описывает часть менеджера чанков, нужная для обзора игроков
type ChunkSource interface {
	WatchChunks(positions []chunk.Pos) error
	ReleaseChunks(positions []chunk.Pos)
	StreamChunks(ctx context.Context, positions []chunk.Pos) <-chan chunkmanager.FetchResult
}

// PlayerData содержит информацию об игроке
type PlayerData struct {
	ID         string
	Name       string
	Position   chunk.BlockPos
	ViewRadius int32

	center  chunk.Pos
	watched map[chunk.Pos]struct{}
	queue   []chunk.Pos // чанки, ждущие загрузки, ближние первыми
	limiter *rate.Limiter
}

// ReadyFunc вызывается для каждого загруженного для игрока чанка
type ReadyFunc func(playerID string, r chunkmanager.FetchResult)

// PlayerManager управляет игроками и их областью обзора. Каждый видимый
// чанк наблюдается ровно один раз на игрока.
type PlayerManager struct {
	chunks ChunkSource
	logger *zap.SugaredLogger
	ready  ReadyFunc

	loadRate  rate.Limit
	loadBurst int

	players map[string]*PlayerData
	mu      sync.Mutex
	loads   sync.WaitGroup
}

// Option настраивает PlayerManager
type Option func(*PlayerManager)

// WithLogger задаёт логгер
func WithLogger(l *zap.SugaredLogger) Option {
	return func(pm *PlayerManager) {
		if l != nil {
			pm.logger = l
		}
	}
}

// WithLoadRate ограничивает число чанков в секунду, загружаемых для одного игрока
func WithLoadRate(perSecond float64, burst int) Option {
	return func(pm *PlayerManager) {
		pm.loadRate = rate.Limit(perSecond)
		if perSecond <= 0 {
			pm.loadRate = 0
		}
		pm.loadBurst = burst
	}
}

// WithReadyHandler задаёт обработчик загруженных чанков
func WithReadyHandler(fn ReadyFunc) Option {
	return func(pm *PlayerManager) { pm.ready = fn }
}

// NewPlayerManager создает новый экземпляр менеджера игроков
func NewPlayerManager(chunks ChunkSource, opts ...Option) *PlayerManager {
	pm := &PlayerManager{
		chunks:    chunks,
		logger:    zap.NewNop().Sugar(),
		loadRate:  rate.Inf,
		loadBurst: 1,
		players:   make(map[string]*PlayerData),
	}
	for _, opt := range opts {
		opt(pm)
	}
	if pm.loadBurst < 1 {
		pm.loadBurst = 1
	}
	return pm
}

// AddPlayer добавляет игрока. Чанки вокруг него встают в очередь загрузки.
func (pm *PlayerManager) AddPlayer(id, name string, pos chunk.BlockPos, radius int32) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.players[id]; exists {
		return ErrPlayerExists
	}
	p := &PlayerData{
		ID:         id,
		Name:       name,
		Position:   pos,
		ViewRadius: clampRadius(radius),
		center:     pos.ChunkPos(),
		watched:    make(map[chunk.Pos]struct{}),
		limiter:    rate.NewLimiter(pm.loadRate, pm.loadBurst),
	}
	p.queue = pm.pending(p)
	pm.players[id] = p
	pm.logger.Infow("Игрок добавлен", "id", id, "name", name, "chunk", p.center, "queued", len(p.queue))
	return nil
}

// GetPlayer возвращает копию данных игрока
func (pm *PlayerManager) GetPlayer(id string) (PlayerData, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p, ok := pm.players[id]
	if !ok {
		return PlayerData{}, ErrPlayerNotFound
	}
	return PlayerData{ID: p.ID, Name: p.Name, Position: p.Position, ViewRadius: p.ViewRadius}, nil
}

// UpdatePlayerPosition перемещает игрока. При смене чанка чанки вне радиуса
// освобождаются, а новые встают в очередь.
func (pm *PlayerManager) UpdatePlayerPosition(id string, pos chunk.BlockPos) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.players[id]
	if !ok {
		return ErrPlayerNotFound
	}
	p.Position = pos
	if center := pos.ChunkPos(); center != p.center {
		p.center = center
		pm.refresh(p)
	}
	return nil
}

// SetViewRadius меняет радиус обзора игрока
func (pm *PlayerManager) SetViewRadius(id string, radius int32) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.players[id]
	if !ok {
		return ErrPlayerNotFound
	}
	p.ViewRadius = clampRadius(radius)
	pm.refresh(p)
	return nil
}

// RemovePlayer удаляет игрока и освобождает все его чанки
func (pm *PlayerManager) RemovePlayer(id string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.players[id]
	if !ok {
		return ErrPlayerNotFound
	}
	released := make([]chunk.Pos, 0, len(p.watched))
	for pos := range p.watched {
		released = append(released, pos)
	}
	if len(released) > 0 {
		pm.chunks.ReleaseChunks(released)
	}
	delete(pm.players, id)
	pm.logger.Infow("Игрок удалён", "id", id, "released", len(released))
	return nil
}

// GetAllPlayers возвращает ID всех игроков
func (pm *PlayerManager) GetAllPlayers() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	ids := make([]string, 0, len(pm.players))
	for id := range pm.players {
		ids = append(ids, id)
	}
	return ids
}

// ViewedChunks возвращает чанки, которые наблюдает игрок
func (pm *PlayerManager) ViewedChunks(id string) []chunk.Pos {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p, ok := pm.players[id]
	if !ok {
		return nil
	}
	out := make([]chunk.Pos, 0, len(p.watched))
	for pos := range p.watched {
		out = append(out, pos)
	}
	return out
}

// QueuedChunks возвращает длину очереди загрузки игрока
func (pm *PlayerManager) QueuedChunks(id string) int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if p, ok := pm.players[id]; ok {
		return len(p.queue)
	}
	return 0
}

// Tick берёт из очередей столько чанков, сколько разрешают лимитеры,
// начинает их наблюдать и загружает в фоне. Возвращает число чанков,
// отправленных на загрузку.
func (pm *PlayerManager) Tick(ctx context.Context) int {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	total := 0
	for _, p := range pm.players {
		n := 0
		for n < len(p.queue) && p.limiter.Allow() {
			n++
		}
		if n == 0 {
			continue
		}
		batch := append([]chunk.Pos(nil), p.queue[:n]...)
		if err := pm.chunks.WatchChunks(batch); err != nil {
			pm.logger.Warnw("Не удалось начать наблюдение", "id", p.ID, "error", err)
			continue
		}
		p.queue = p.queue[n:]
		for _, pos := range batch {
			p.watched[pos] = struct{}{}
		}
		pm.stream(ctx, p.ID, batch)
		total += n
	}
	return total
}

// Wait дожидается фоновых загрузок
func (pm *PlayerManager) Wait() {
	pm.loads.Wait()
}

func (pm *PlayerManager) stream(ctx context.Context, id string, batch []chunk.Pos) {
	pm.loads.Add(1)
	go func() {
		defer pm.loads.Done()
		for r := range pm.chunks.StreamChunks(ctx, batch) {
			if pm.ready != nil {
				pm.ready(id, r)
			}
		}
	}()
}

// refresh освобождает чанки вне обзора и пересчитывает очередь.
// Вызывается под pm.mu.
func (pm *PlayerManager) refresh(p *PlayerData) {
	var released []chunk.Pos
	for pos := range p.watched {
		if !inView(p.center, pos, p.ViewRadius) {
			released = append(released, pos)
			delete(p.watched, pos)
		}
	}
	if len(released) > 0 {
		pm.chunks.ReleaseChunks(released)
	}
	p.queue = pm.pending(p)
}

// pending возвращает ещё не наблюдаемые чанки обзора
func (pm *PlayerManager) pending(p *PlayerData) []chunk.Pos {
	area := viewArea(p.center, p.ViewRadius)
	out := area[:0]
	for _, pos := range area {
		if _, ok := p.watched[pos]; !ok {
			out = append(out, pos)
		}
	}
	return out
}
