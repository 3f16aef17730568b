package chunkmanager_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/annelo/go-world-server/internal/chunk"
	"github.com/annelo/go-world-server/internal/chunkmanager"
	"github.com/annelo/go-world-server/internal/events"
	"github.com/annelo/go-world-server/internal/generator"
	"github.com/annelo/go-world-server/internal/storage"
)

// countingGen считает вызовы генератора
type countingGen struct {
	calls atomic.Int32
	delay time.Duration
	flat  *generator.FlatGenerator
}

func (g *countingGen) GenerateChunk(pos chunk.Pos) *chunk.Data {
	g.calls.Add(1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	return g.flat.GenerateChunk(pos)
}

func newManager(t *testing.T, io storage.ChunkIO, opts ...chunkmanager.Option) (*chunkmanager.ChunkManager, *countingGen) {
	t.Helper()
	gen := &countingGen{flat: generator.NewFlat(generator.BlockStone, 4)}
	opts = append([]chunkmanager.Option{
		chunkmanager.WithLogger(zaptest.NewLogger(t).Sugar()),
		chunkmanager.WithGenerationWorkers(2),
	}, opts...)
	m := chunkmanager.New(io, gen, opts...)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m, gen
}

func fetchAll(t *testing.T, m *chunkmanager.ChunkManager, positions ...chunk.Pos) map[chunk.Pos]chunkmanager.FetchResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make(map[chunk.Pos]chunkmanager.FetchResult)
	for r := range m.StreamChunks(ctx, positions) {
		pos := r.Chunk.Pos()
		_, dup := out[pos]
		require.False(t, dup, "повторный результат для %v", pos)
		out[pos] = r
	}
	require.NoError(t, ctx.Err())
	return out
}

func savedChunk(pos chunk.Pos) *chunk.Data {
	d := generator.NewFlat(generator.BlockDirt, 2).GenerateChunk(pos)
	d.SetBlock(0, 0, generator.BlockWood)
	return d
}

func TestFetch_ConcurrentCallersShareOneGeneration(t *testing.T) {
	m, gen := newManager(t, storage.NewMemoryIO())
	gen.delay = 20 * time.Millisecond
	pos := chunk.Pos{X: 0, Z: 0}

	const callers = 8
	handles := make([]*chunk.Sync, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := fetchAll(t, m, pos)
			handles[i] = res[pos].Chunk
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, 1, m.LoadedChunkCount())
}

func TestFetch_MixedSourcesDeduplicated(t *testing.T) {
	io := storage.NewMemoryIO()
	stored := chunk.Pos{X: 1, Z: 1}
	require.NoError(t, io.Put(savedChunk(stored)))
	m, gen := newManager(t, io)

	fresh := chunk.Pos{X: -5, Z: 2}
	res := fetchAll(t, m, stored, fresh, stored)

	require.Len(t, res, 2)
	assert.False(t, res[stored].Generated)
	assert.True(t, res[fresh].Generated)
	assert.False(t, res[fresh].Regenerated)
	assert.Equal(t, int32(1), gen.calls.Load())

	res[stored].Chunk.Read(func(d *chunk.Data) {
		assert.Equal(t, generator.BlockWood, d.Block(0, 0))
	})

	// повторный запрос обслуживается из кэша
	again := fetchAll(t, m, fresh)
	assert.Same(t, res[fresh].Chunk, again[fresh].Chunk)
	assert.False(t, again[fresh].Generated)
	assert.ElementsMatch(t, []chunk.Pos{stored, fresh}, m.ListCached())
}

func TestFetch_StorageErrorRegenerates(t *testing.T) {
	io := storage.NewMemoryIO()
	pos := chunk.Pos{X: 3, Z: 3}
	io.FailOn(pos, errors.New("bad sector"))
	rec := &events.Recorder{}
	m, _ := newManager(t, io, chunkmanager.WithEventPublisher(rec))

	res := fetchAll(t, m, pos)
	require.Contains(t, res, pos)
	assert.True(t, res[pos].Generated)
	assert.True(t, res[pos].Regenerated)
	assert.Equal(t, 1, rec.Count(events.KindRegenerated))
	assert.Equal(t, 0, rec.Count(events.KindGenerated))
}

func TestFetch_UnreportedPositionIsGenerated(t *testing.T) {
	io := storage.NewMemoryIO()
	quiet := chunk.Pos{X: 7, Z: -7}
	io.Silence(quiet)
	m, gen := newManager(t, io)

	res := fetchAll(t, m, quiet)
	require.Contains(t, res, quiet)
	assert.True(t, res[quiet].Generated)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestFetch_CancelledCallerStillCaches(t *testing.T) {
	io := storage.NewMemoryIO()
	release := io.HoldFetches()
	m, _ := newManager(t, io)
	pos := chunk.Pos{X: 9, Z: 9}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan chunkmanager.FetchResult)
	errc := make(chan error, 1)
	go func() { errc <- m.FetchChunks(ctx, []chunk.Pos{pos}, out) }()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("FetchChunks не вернулся после отмены")
	}

	release()
	require.Eventually(t, func() bool {
		_, ok := m.TryGetChunk(pos)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatch_CountsAreSymmetric(t *testing.T) {
	io := storage.NewMemoryIO()
	m, _ := newManager(t, io)
	pos := chunk.Pos{X: 2, Z: -1}

	require.NoError(t, m.WatchChunks([]chunk.Pos{pos}))
	require.NoError(t, m.WatchChunks([]chunk.Pos{pos}))
	assert.Equal(t, uint32(2), m.WatcherCount(pos))
	assert.Equal(t, 2, io.Watchers(pos))

	assert.Empty(t, m.UnwatchChunks([]chunk.Pos{pos}))
	assert.True(t, m.IsChunkWatched(pos))
	assert.Equal(t, []chunk.Pos{pos}, m.UnwatchChunks([]chunk.Pos{pos}))
	assert.False(t, m.IsChunkWatched(pos))
	assert.Equal(t, 0, io.Watchers(pos))

	// снятие наблюдения с ненаблюдаемой позиции ничего не делает
	assert.Empty(t, m.UnwatchChunks([]chunk.Pos{pos}))
	assert.Equal(t, uint32(0), m.WatcherCount(pos))
}

func TestRelease_EvictsAndRoundTrips(t *testing.T) {
	io := storage.NewMemoryIO()
	m, gen := newManager(t, io)
	pos := chunk.Pos{X: 4, Z: 4}

	require.NoError(t, m.WatchChunks([]chunk.Pos{pos}))
	res := fetchAll(t, m, pos)
	res[pos].Chunk.Write(func(d *chunk.Data) { d.SetBlock(5, 6, generator.BlockFlower) })

	m.ReleaseChunks([]chunk.Pos{pos})
	require.Eventually(t, func() bool {
		_, ok := m.TryGetChunk(pos)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, io.Has(pos))

	again := fetchAll(t, m, pos)
	assert.False(t, again[pos].Generated)
	assert.NotSame(t, res[pos].Chunk, again[pos].Chunk)
	again[pos].Chunk.Read(func(d *chunk.Data) {
		assert.Equal(t, generator.BlockFlower, d.Block(5, 6))
	})
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestRelease_TwoWatchersOnOrigin(t *testing.T) {
	io := storage.NewMemoryIO()
	m, gen := newManager(t, io)
	origin := chunk.Pos{}

	// два игрока смотрят на один чанк
	require.NoError(t, m.WatchChunks([]chunk.Pos{origin}))
	first := fetchAll(t, m, origin)
	require.NoError(t, m.WatchChunks([]chunk.Pos{origin}))
	second := fetchAll(t, m, origin)
	assert.Same(t, first[origin].Chunk, second[origin].Chunk)

	m.ReleaseChunks([]chunk.Pos{origin})
	assert.Equal(t, 0, m.CleanMemory(context.Background()))
	_, ok := m.TryGetChunk(origin)
	assert.True(t, ok)

	assert.Equal(t, 0, io.SaveCalls())
	generated, _ := first[origin].Chunk.Snapshot()

	m.ReleaseChunks([]chunk.Pos{origin})
	require.Eventually(t, func() bool {
		_, ok := m.TryGetChunk(origin)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, io.SaveCalls())
	assert.False(t, m.IsChunkWatched(origin))

	// повторная загрузка без наблюдателей читает сохранённый чанк
	again := fetchAll(t, m, origin)
	require.Contains(t, again, origin)
	assert.False(t, again[origin].Generated)
	again[origin].Chunk.Read(func(d *chunk.Data) {
		assert.Equal(t, generated.Blocks, d.Blocks)
		assert.Equal(t, generated.Heights, d.Heights)
		assert.Equal(t, generated.Status, d.Status)
	})
	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, 1, io.SaveCalls())
}

func TestCleanMemory_SkipsWatched(t *testing.T) {
	io := storage.NewMemoryIO()
	m, _ := newManager(t, io, chunkmanager.WithShrinkThreshold(1))
	watched := chunk.Pos{X: 1}
	idle := chunk.Pos{X: 2}

	require.NoError(t, m.WatchChunks([]chunk.Pos{watched}))
	fetchAll(t, m, watched, idle)

	assert.Equal(t, 1, m.CleanMemory(context.Background()))
	_, ok := m.TryGetChunk(watched)
	assert.True(t, ok)
	_, ok = m.TryGetChunk(idle)
	assert.False(t, ok)
	assert.True(t, io.Has(idle))
	assert.False(t, io.Has(watched))
}

func TestCleanMemory_SaveFailureKeepsChunk(t *testing.T) {
	io := storage.NewMemoryIO()
	m, _ := newManager(t, io)
	pos := chunk.Pos{X: 6, Z: 6}
	block := chunk.BlockPos{X: 6*16 + 1, Y: 10, Z: 6*16 + 1}

	fetchAll(t, m, pos)
	m.ScheduleBlockTick(block, 5, chunk.PriorityNormal, generator.BlockSand)
	io.FailSaves(errors.New("read-only filesystem"))

	assert.Equal(t, 0, m.CleanMemory(context.Background()))
	_, ok := m.TryGetChunk(pos)
	assert.True(t, ok)
	// тики вернулись в общую очередь
	assert.True(t, m.IsBlockTickScheduled(block, generator.BlockSand))

	io.FailSaves(nil)
	assert.Equal(t, 1, m.CleanMemory(context.Background()))
}

func TestTicks_SurviveEvictionAndReload(t *testing.T) {
	io := storage.NewMemoryIO()
	m, _ := newManager(t, io)
	pos := chunk.Pos{X: -1, Z: -1}
	block := chunk.BlockPos{X: -3, Y: 20, Z: -14}
	require.Equal(t, pos, block.ChunkPos())

	fetchAll(t, m, pos)
	m.ScheduleBlockTick(block, 3, chunk.PriorityHigh, generator.BlockWater)
	assert.Equal(t, 1, m.CleanMemory(context.Background()))
	assert.Equal(t, 0, m.PendingBlockTicks())
	assert.False(t, m.IsBlockTickScheduled(block, generator.BlockWater))

	fetchAll(t, m, pos)
	assert.True(t, m.IsBlockTickScheduled(block, generator.BlockWater))
	h, _ := m.TryGetChunk(pos)
	h.Read(func(d *chunk.Data) { assert.Empty(t, d.BlockTicks) })

	// тик с задержкой 3 наступает на третьем вызове
	assert.Empty(t, m.TickBlockTicks())
	assert.Empty(t, m.TickBlockTicks())
	due := m.TickBlockTicks()
	require.Len(t, due, 1)
	assert.Equal(t, block, due[0].Pos)
	assert.Equal(t, chunk.PriorityHigh, due[0].Priority)
}

func TestTicks_DueOrderedByPriority(t *testing.T) {
	m, _ := newManager(t, storage.NewMemoryIO())
	a := chunk.BlockPos{X: 1}
	b := chunk.BlockPos{X: 2}
	c := chunk.BlockPos{X: 3}
	m.ScheduleBlockTick(a, 1, chunk.PriorityLow, 1)
	m.ScheduleBlockTick(b, 0, chunk.PriorityExtremelyHigh, 1)
	m.ScheduleBlockTick(c, 1, chunk.PriorityLow, 2)

	due := m.TickBlockTicks()
	require.Len(t, due, 3)
	assert.Equal(t, b, due[0].Pos)
	assert.Equal(t, a, due[1].Pos)
	assert.Equal(t, c, due[2].Pos)
}

// hookIO вызывает onSave перед каждой записью. Ошибка onSave
// возвращается вместо записи.
type hookIO struct {
	*storage.MemoryIO
	onSave func(ctx context.Context) error
}

func (h *hookIO) SaveChunks(ctx context.Context, chunks []*chunk.Sync) error {
	if h.onSave != nil {
		if err := h.onSave(ctx); err != nil {
			return err
		}
	}
	return h.MemoryIO.SaveChunks(ctx, chunks)
}

func TestEviction_InterestReappearsDuringSave(t *testing.T) {
	io := &hookIO{MemoryIO: storage.NewMemoryIO()}
	m, _ := newManager(t, io)
	pos := chunk.Pos{X: 12, Z: 3}
	fetchAll(t, m, pos)

	io.onSave = func(context.Context) error { return m.WatchChunks([]chunk.Pos{pos}) }
	assert.Equal(t, 0, m.CleanMemory(context.Background()))
	io.onSave = nil
	_, ok := m.TryGetChunk(pos)
	assert.True(t, ok)
	assert.True(t, io.Has(pos))
}

func TestEviction_ModifiedDuringSave(t *testing.T) {
	io := &hookIO{MemoryIO: storage.NewMemoryIO()}
	m, _ := newManager(t, io)
	pos := chunk.Pos{X: -8, Z: 30}
	h := fetchAll(t, m, pos)[pos].Chunk

	io.onSave = func(context.Context) error {
		h.Write(func(d *chunk.Data) { d.SetBlock(1, 1, generator.BlockSnow) })
		return nil
	}
	assert.Equal(t, 0, m.CleanMemory(context.Background()))
	io.onSave = nil
	cur, ok := m.TryGetChunk(pos)
	require.True(t, ok)
	assert.Same(t, h, cur)
}

func TestSpawnChunks_PinnedAcrossEviction(t *testing.T) {
	io := storage.NewMemoryIO()
	m, gen := newManager(t, io)
	area := chunkmanager.SpawnArea(0, 0, 1)
	require.Len(t, area, 9)

	require.NoError(t, m.ReadSpawnChunks(context.Background(), area))
	assert.Equal(t, 9, m.SpawnChunkCount())
	before, _ := m.TryGetChunk(chunk.Pos{})

	assert.Equal(t, 9, m.CleanMemory(context.Background()))
	assert.Equal(t, 0, m.LoadedChunkCount())
	assert.Equal(t, 9, m.SpawnChunkCount())

	res := fetchAll(t, m, chunk.Pos{})
	assert.Same(t, before, res[chunk.Pos{}].Chunk)
	assert.False(t, res[chunk.Pos{}].Generated)
	assert.Equal(t, int32(9), gen.calls.Load())
}

func TestSpawnArea_NegativeSpawn(t *testing.T) {
	area := chunkmanager.SpawnArea(-1, -1, 0)
	assert.Equal(t, []chunk.Pos{{X: -1, Z: -1}}, area)
}

func TestShutdown_FlushesAndRejects(t *testing.T) {
	io := storage.NewMemoryIO()
	dir := t.TempDir()
	store := storage.NewFileInfoStore(dir)
	info := storage.NewWorldInfo("flush", 5)

	var mu sync.Mutex
	var states []chunkmanager.State
	m, _ := newManager(t, io,
		chunkmanager.WithWorldInfo(info, store),
		chunkmanager.WithStateListener(func(s chunkmanager.State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}),
	)

	require.NoError(t, m.ReadSpawnChunks(context.Background(), chunkmanager.SpawnArea(0, 0, 0)))
	watched := []chunk.Pos{{X: 1}, {X: 2}}
	require.NoError(t, m.WatchChunks(watched))
	fetchAll(t, m, watched...)
	m.ScheduleBlockTick(chunk.BlockPos{X: 17}, 40, chunk.PriorityNormal, 1)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, chunkmanager.StateClosed, m.State())
	assert.Equal(t, 0, m.LoadedChunkCount())
	assert.Equal(t, 0, m.SpawnChunkCount())
	assert.False(t, m.IsChunkWatched(watched[0]))
	assert.Equal(t, 0, m.PendingBlockTicks())
	for _, p := range append(watched, chunk.Pos{}) {
		assert.True(t, io.Has(p), p)
	}
	saved, err := io.Get(chunk.Pos{X: 1})
	require.NoError(t, err)
	assert.Len(t, saved.BlockTicks, 1)

	got, err := store.ReadInfo()
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)

	mu.Lock()
	assert.Equal(t, []chunkmanager.State{chunkmanager.StateDraining, chunkmanager.StateFlushing, chunkmanager.StateClosed}, states)
	mu.Unlock()

	err = m.FetchChunks(context.Background(), []chunk.Pos{{X: 50}}, make(chan chunkmanager.FetchResult, 1))
	assert.ErrorIs(t, err, chunkmanager.ErrShuttingDown)
	assert.ErrorIs(t, m.WatchChunks([]chunk.Pos{{X: 50}}), chunkmanager.ErrShuttingDown)
	assert.Equal(t, 0, m.CleanMemory(context.Background()))
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestShutdown_WaitsForInFlightFetch(t *testing.T) {
	io := storage.NewMemoryIO()
	release := io.HoldFetches()
	m, _ := newManager(t, io)
	pos := chunk.Pos{X: 21, Z: 21}

	fetched := make(chan error, 1)
	go func() {
		fetched <- m.FetchChunks(context.Background(), []chunk.Pos{pos}, make(chan chunkmanager.FetchResult, 1))
	}()
	// даём запросу зарегистрироваться
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- m.Shutdown(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, chunkmanager.StateDraining, m.State())

	release()
	require.NoError(t, <-fetched)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown не завершился")
	}
	assert.True(t, io.Has(pos))
}

func TestShutdown_ReportsSaveError(t *testing.T) {
	io := storage.NewMemoryIO()
	m, _ := newManager(t, io)
	fetchAll(t, m, chunk.Pos{X: 1, Z: 2})
	io.FailSaves(errors.New("disk full"))

	assert.Error(t, m.Shutdown(context.Background()))
	assert.Equal(t, chunkmanager.StateClosed, m.State())
}

func TestShutdown_WaitsForCancelledFetch(t *testing.T) {
	io := storage.NewMemoryIO()
	release := io.HoldFetches()
	m, _ := newManager(t, io)
	pos := chunk.Pos{X: -21, Z: 7}

	ctx, cancel := context.WithCancel(context.Background())
	fetched := make(chan error, 1)
	go func() {
		fetched <- m.FetchChunks(ctx, []chunk.Pos{pos}, make(chan chunkmanager.FetchResult))
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-fetched, context.Canceled)

	stopped := make(chan error, 1)
	go func() { stopped <- m.Shutdown(context.Background()) }()

	// загрузка ещё идёт в фоне, поэтому остановка ждёт её
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, chunkmanager.StateDraining, m.State())

	release()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown не завершился")
	}
	assert.Equal(t, chunkmanager.StateClosed, m.State())
	assert.Equal(t, 0, m.LoadedChunkCount())
	assert.True(t, io.Has(pos))
}

func TestShutdown_CancelsBackgroundEviction(t *testing.T) {
	io := &hookIO{MemoryIO: storage.NewMemoryIO()}
	m, _ := newManager(t, io)
	pos := chunk.Pos{X: 9, Z: -9}
	fetchAll(t, m, pos)

	entered := make(chan struct{})
	var first atomic.Bool
	io.onSave = func(ctx context.Context) error {
		if !first.CompareAndSwap(false, true) {
			return nil
		}
		// первая запись ждёт сигнала остановки
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}

	select {
	case <-m.ShuttingDown():
		t.Fatal("сигнал остановки до Shutdown")
	default:
	}

	m.CleanChunks([]chunk.Pos{pos})
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- m.Shutdown(context.Background()) }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown не прервал фоновую выгрузку")
	}

	select {
	case <-m.ShuttingDown():
	default:
		t.Fatal("сигнал остановки не отправлен")
	}
	assert.Equal(t, chunkmanager.StateClosed, m.State())
	assert.True(t, io.Has(pos))
	// прерванная запись не дошла до хранилища, чанк записан при остановке
	assert.Equal(t, 1, io.SaveCalls())
}

// failingInfoStore не может записать метаданные
type failingInfoStore struct {
	writes atomic.Int32
}

func (s *failingInfoStore) ReadInfo() (*storage.WorldInfo, error) {
	return nil, storage.ErrInfoNotFound
}

func (s *failingInfoStore) WriteInfo(*storage.WorldInfo) error {
	s.writes.Add(1)
	return errors.New("read-only filesystem")
}

func TestShutdown_InfoWriteFailureStillCloses(t *testing.T) {
	io := storage.NewMemoryIO()
	store := &failingInfoStore{}
	m, _ := newManager(t, io, chunkmanager.WithWorldInfo(storage.NewWorldInfo("ro", 1), store))
	positions := []chunk.Pos{{X: 3}, {Z: 3}}
	fetchAll(t, m, positions...)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, chunkmanager.StateClosed, m.State())
	assert.Equal(t, int32(1), store.writes.Load())
	assert.Equal(t, 0, m.LoadedChunkCount())
	for _, p := range positions {
		assert.True(t, io.Has(p), p)
	}
}

func TestTryGet_NotBlockedByGeneration(t *testing.T) {
	gate := make(chan struct{})
	slow := generator.Func(func(pos chunk.Pos) *chunk.Data {
		if pos.X == 100 {
			<-gate
		}
		return generator.NewFlat(generator.BlockSand, 1).GenerateChunk(pos)
	})
	m := chunkmanager.New(storage.NewMemoryIO(), slow,
		chunkmanager.WithLogger(zaptest.NewLogger(t).Sugar()),
		chunkmanager.WithInitialCapacity(1),
	)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	var opened sync.Once
	unblock := func() { opened.Do(func() { close(gate) }) }
	t.Cleanup(unblock)

	resident := chunk.Pos{X: 1}
	fetchAll(t, m, resident)

	pending := m.StreamChunks(context.Background(), []chunk.Pos{{X: 100}})
	// генерация держит только свою запись, чтение соседей не ждёт
	got := make(chan bool, 1)
	go func() {
		_, ok := m.TryGetChunk(resident)
		got <- ok
	}()
	select {
	case ok := <-got:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("TryGetChunk ждал генерацию")
	}

	unblock()
	for range pending {
	}
}

// pausedReadIO задерживает выдачу первого чтения уже после обращения к хранилищу
type pausedReadIO struct {
	*storage.MemoryIO
	read  chan struct{}
	gate  chan struct{}
	calls atomic.Int32
}

func (p *pausedReadIO) FetchChunks(ctx context.Context, positions []chunk.Pos, results chan<- storage.LoadedData) {
	if p.calls.Add(1) != 1 {
		p.MemoryIO.FetchChunks(ctx, positions, results)
		return
	}
	buf := make(chan storage.LoadedData, len(positions))
	p.MemoryIO.FetchChunks(ctx, positions, buf)
	close(buf)
	close(p.read)
	<-p.gate
	for ld := range buf {
		results <- ld
	}
}

func TestFetch_EvictedDuringReadIsReread(t *testing.T) {
	io := &pausedReadIO{
		MemoryIO: storage.NewMemoryIO(),
		read:     make(chan struct{}),
		gate:     make(chan struct{}),
	}
	m, gen := newManager(t, io)
	var opened sync.Once
	unblock := func() { opened.Do(func() { close(io.gate) }) }
	t.Cleanup(unblock)
	pos := chunk.Pos{X: 77}

	// первое чтение увидело пустое хранилище и задержалось
	slow := m.StreamChunks(context.Background(), []chunk.Pos{pos})
	<-io.read

	// тем временем чанк создали, изменили и выгрузили
	h := fetchAll(t, m, pos)[pos].Chunk
	h.Write(func(d *chunk.Data) { d.SetBlock(2, 2, generator.BlockFlower) })
	require.Equal(t, 1, m.CleanMemory(context.Background()))
	require.True(t, io.Has(pos))

	unblock()
	var got []chunkmanager.FetchResult
	for r := range slow {
		got = append(got, r)
	}
	require.Len(t, got, 1)
	assert.False(t, got[0].Generated)
	got[0].Chunk.Read(func(d *chunk.Data) {
		assert.Equal(t, generator.BlockFlower, d.Block(2, 2))
	})
	assert.Equal(t, int32(1), gen.calls.Load())
}
