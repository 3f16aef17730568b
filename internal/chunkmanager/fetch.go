package chunkmanager

import (
	"context"
	"sync"

	"github.com/annelo/go-world-server/internal/chunk"
	"github.com/annelo/go-world-server/internal/events"
	"github.com/annelo/go-world-server/internal/storage"
)

// genRequest содержит позицию для генерации и номер начала чтения, после
// которого хранилище сообщило об отсутствии чанка
type genRequest struct {
	pos        chunk.Pos
	regenerate bool
	since      uint64
}

// FetchChunks выдаёт в out ровно один результат на каждую различную позицию
// из positions: из кэша, из хранилища или от генератора. Порядок выдачи
// не определён. Метод возвращается, когда все результаты отданы.
//
// Если ctx отменён, метод возвращает ctx.Err(), а начатая работа
// завершается в фоне: чанки всё равно попадут в кэш.
func (m *ChunkManager) FetchChunks(ctx context.Context, positions []chunk.Pos, out chan<- FetchResult) error {
	if !m.running() || !m.tasks.add() {
		m.logger.Warnw("Загрузка отклонена: менеджер останавливается", "chunks", len(positions))
		return ErrShuttingDown
	}
	// после отмены задачу в трекере освобождает фоновый дочитыватель
	handedOff := false
	defer func() {
		if !handedOff {
			m.tasks.done()
		}
	}()

	positions = dedupe(positions)
	if len(positions) == 0 {
		return nil
	}

	missing := make([]chunk.Pos, 0, len(positions))
	for _, p := range positions {
		h, ok := m.lookup(p)
		if !ok {
			missing = append(missing, p)
			continue
		}
		select {
		case out <- FetchResult{Chunk: h}:
		case <-ctx.Done():
			// остальные позиции никто не ждёт, загружать их незачем
			return ctx.Err()
		}
	}
	if len(missing) == 0 {
		return nil
	}

	// каждая позиция даёт не больше одного результата, поэтому запись
	// в буфер никогда не блокирует производителей
	results := make(chan FetchResult, len(missing))
	go m.load(missing, results)

	for {
		select {
		case r, ok := <-results:
			if !ok {
				return nil
			}
			select {
			case out <- r:
				continue
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}

		// вызывающий ушёл: дочитываем в фоне, удерживая задачу в трекере
		handedOff = true
		go func() {
			defer m.tasks.done()
			for range results {
			}
		}()
		return ctx.Err()
	}
}

// StreamChunks работает как FetchChunks, но с собственным каналом,
// который закрывается по завершении.
func (m *ChunkManager) StreamChunks(ctx context.Context, positions []chunk.Pos) <-chan FetchResult {
	out := make(chan FetchResult)
	go func() {
		defer close(out)
		if err := m.FetchChunks(ctx, positions, out); err != nil && ctx.Err() == nil {
			m.logger.Debugw("Потоковая загрузка прервана", "error", err)
		}
	}()
	return out
}

// lookup ищет чанк в кэше, а затем среди чанков спавна
func (m *ChunkManager) lookup(pos chunk.Pos) (*chunk.Sync, bool) {
	if h, ok := m.cache.TryGet(pos); ok {
		return h, true
	}
	if h, ok := m.spawn.Load(pos); ok {
		h, _ = m.cache.GetOrInsertWith(pos, func() *chunk.Sync { return h })
		return h, true
	}
	return nil, false
}

// load читает позиции из хранилища и генерирует отсутствующие.
// Закрывает results, когда все производители закончили.
func (m *ChunkManager) load(positions []chunk.Pos, results chan<- FetchResult) {
	loaded := make(chan storage.LoadedData, len(positions))
	genRequests := make(chan genRequest, len(positions))
	since := m.fence.begin()
	defer m.fence.end()

	var producers sync.WaitGroup
	producers.Add(2)

	go func() {
		defer producers.Done()
		defer close(genRequests)
		m.handleLoaded(positions, since, loaded, genRequests, results)
	}()

	go func() {
		defer producers.Done()
		m.handleGenerate(genRequests, results)
	}()

	// хранилище читает до конца независимо от вызывающего:
	// недочитанные позиции ушли бы в генерацию и затёрли бы данные
	m.io.FetchChunks(context.Background(), positions, loaded)
	close(loaded)

	producers.Wait()
	close(results)
}

// refetch заново читает один чанк, выгруженный во время прежнего чтения.
// Выполняется в вызывающей горутине вместе с генерацией, если она нужна.
func (m *ChunkManager) refetch(pos chunk.Pos) FetchResult {
	m.logger.Debugw("Чанк выгружен во время чтения, читаем заново", "chunk", pos)
	for {
		since := m.fence.begin()
		res, ok := m.fetchOne(pos, since)
		m.fence.end()
		if ok {
			return res
		}
	}
}

func (m *ChunkManager) fetchOne(pos chunk.Pos, since uint64) (FetchResult, bool) {
	loaded := make(chan storage.LoadedData, 1)
	m.io.FetchChunks(context.Background(), []chunk.Pos{pos}, loaded)
	close(loaded)

	req := genRequest{pos: pos, since: since}
	for ld := range loaded {
		if ld.Pos != pos {
			continue
		}
		switch ld.Kind {
		case storage.Loaded:
			h, ok := m.insertLoaded(pos, ld.Chunk, since)
			return FetchResult{Chunk: h}, ok
		case storage.Missing:
		default:
			m.logger.Errorw("Ошибка чтения чанка, чанк будет сгенерирован заново", "chunk", pos, "error", ld.Err)
			req.regenerate = true
		}
		break
	}
	return m.generate(req)
}

func (m *ChunkManager) handleLoaded(positions []chunk.Pos, since uint64, loaded <-chan storage.LoadedData, gen chan<- genRequest, results chan<- FetchResult) {
	reported := make(map[chunk.Pos]bool, len(positions))
	for _, p := range positions {
		reported[p] = false
	}
	for ld := range loaded {
		seen, requested := reported[ld.Pos]
		if !requested || seen {
			m.logger.Warnw("Лишний результат хранилища пропущен", "chunk", ld.Pos)
			continue
		}
		reported[ld.Pos] = true

		switch ld.Kind {
		case storage.Loaded:
			h, ok := m.insertLoaded(ld.Pos, ld.Chunk, since)
			if !ok {
				results <- m.refetch(ld.Pos)
				continue
			}
			results <- FetchResult{Chunk: h}
		case storage.Missing:
			gen <- genRequest{pos: ld.Pos, since: since}
		default:
			m.logger.Errorw("Ошибка чтения чанка, чанк будет сгенерирован заново", "chunk", ld.Pos, "error", ld.Err)
			gen <- genRequest{pos: ld.Pos, regenerate: true, since: since}
		}
	}

	for _, p := range positions {
		if !reported[p] {
			m.logger.Warnw("Хранилище не вернуло результат, чанк будет сгенерирован", "chunk", p)
			gen <- genRequest{pos: p, since: since}
		}
	}
}

// insertLoaded кладёт прочитанный чанк в кэш. Тики чанка переходят в общую
// очередь, только если в кэш попал именно этот экземпляр. Возвращает false,
// если чанк выгружался после начала чтения since: данные устарели.
func (m *ChunkManager) insertLoaded(pos chunk.Pos, data *chunk.Data, since uint64) (*chunk.Sync, bool) {
	h, inserted, ok := m.cache.GetOrTryInsert(pos, func() *chunk.Sync {
		if m.fence.stale(pos, since) {
			return nil
		}
		m.ticks.Extend(data.BlockTicks)
		data.BlockTicks = nil
		return chunk.NewSync(data)
	})
	if inserted {
		chunksLoaded.Add(1)
		m.publish(events.KindLoaded, pos)
	}
	return h, ok
}

func (m *ChunkManager) handleGenerate(requests <-chan genRequest, results chan<- FetchResult) {
	var jobs sync.WaitGroup
	for req := range requests {
		jobs.Add(1)
		m.pool.submit(func() {
			defer jobs.Done()
			res, ok := m.generate(req)
			if !ok {
				res = m.refetch(req.pos)
			}
			results <- res
		})
	}
	jobs.Wait()
}

// generate возвращает false, если чанк успели сохранить после чтения
// req.since и генерировать его нельзя
func (m *ChunkManager) generate(req genRequest) (FetchResult, bool) {
	h, inserted, ok := m.cache.GetOrTryInsert(req.pos, func() *chunk.Sync {
		if m.fence.stale(req.pos, req.since) {
			return nil
		}
		data := m.gen.GenerateChunk(req.pos)
		data.Pos = req.pos
		return chunk.NewSync(data)
	})
	if inserted {
		if req.regenerate {
			chunksRegenerated.Add(1)
			m.publish(events.KindRegenerated, req.pos)
		} else {
			chunksGenerated.Add(1)
			m.publish(events.KindGenerated, req.pos)
		}
	}
	if !ok {
		return FetchResult{}, false
	}
	return FetchResult{Chunk: h, Generated: true, Regenerated: req.regenerate}, true
}

func dedupe(positions []chunk.Pos) []chunk.Pos {
	seen := make(map[chunk.Pos]struct{}, len(positions))
	out := make([]chunk.Pos, 0, len(positions))
	for _, p := range positions {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
