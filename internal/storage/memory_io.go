package storage

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/annelo/go-world-server/internal/chunk"
)

// MemoryIO хранит закодированные чанки в памяти. Используется в тестах и
// для временных миров. Позволяет подставлять ошибки чтения и записи.
type MemoryIO struct {
	codec Codec

	mu        sync.Mutex
	records   map[chunk.Pos][]byte
	failures  map[chunk.Pos]error
	silent    map[chunk.Pos]bool
	watched   map[chunk.Pos]int
	saveErr   error
	saveCalls int
	saved     int
	fetchGate chan struct{}

	ongoing sync.RWMutex
	closed  atomic.Bool
}

// NewMemoryIO создаёт пустое хранилище
func NewMemoryIO() *MemoryIO {
	return &MemoryIO{
		codec:    BinaryCodec{},
		records:  make(map[chunk.Pos][]byte),
		failures: make(map[chunk.Pos]error),
		silent:   make(map[chunk.Pos]bool),
		watched:  make(map[chunk.Pos]int),
	}
}

// Put записывает чанк напрямую, минуя SaveChunks
func (m *MemoryIO) Put(data *chunk.Data) error {
	raw, err := m.codec.Encode(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[data.Pos] = raw
	m.mu.Unlock()
	return nil
}

// PutRaw записывает произвольные байты, например повреждённую запись
func (m *MemoryIO) PutRaw(pos chunk.Pos, raw []byte) {
	m.mu.Lock()
	m.records[pos] = append([]byte(nil), raw...)
	m.mu.Unlock()
}

// Get читает и декодирует сохранённый чанк
func (m *MemoryIO) Get(pos chunk.Pos) (*chunk.Data, error) {
	m.mu.Lock()
	raw, ok := m.records[pos]
	m.mu.Unlock()
	if !ok {
		return nil, ErrChunkNotFound{X: pos.X, Z: pos.Z}
	}
	return m.codec.Decode(pos, raw)
}

// Has сообщает, есть ли запись для позиции
func (m *MemoryIO) Has(pos chunk.Pos) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[pos]
	return ok
}

// Len возвращает число записей
func (m *MemoryIO) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// FailOn заставляет чтение позиции возвращать err. nil снимает ошибку.
func (m *MemoryIO) FailOn(pos chunk.Pos, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, pos)
		return
	}
	m.failures[pos] = err
}

// Silence заставляет FetchChunks пропускать позицию без ответа
func (m *MemoryIO) Silence(pos chunk.Pos) {
	m.mu.Lock()
	m.silent[pos] = true
	m.mu.Unlock()
}

// FailSaves заставляет SaveChunks возвращать err. nil снимает ошибку.
func (m *MemoryIO) FailSaves(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

// HoldFetches задерживает все последующие чтения до вызова release
func (m *MemoryIO) HoldFetches() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.fetchGate = gate
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.fetchGate == gate {
				m.fetchGate = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// SaveCalls возвращает число вызовов SaveChunks
func (m *MemoryIO) SaveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCalls
}

// Saved возвращает общее число записанных чанков
func (m *MemoryIO) Saved() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved
}

// Watchers возвращает счётчик наблюдения позиции в хранилище
func (m *MemoryIO) Watchers(pos chunk.Pos) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watched[pos]
}

// FetchChunks реализует ChunkIO
func (m *MemoryIO) FetchChunks(ctx context.Context, positions []chunk.Pos, results chan<- LoadedData) {
	m.ongoing.RLock()
	defer m.ongoing.RUnlock()

	m.mu.Lock()
	gate := m.fetchGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return
		}
	}

	for _, pos := range positions {
		m.mu.Lock()
		raw, ok := m.records[pos]
		failure := m.failures[pos]
		silent := m.silent[pos]
		m.mu.Unlock()

		if silent {
			continue
		}

		var ld LoadedData
		switch {
		case m.closed.Load():
			ld = LoadedData{Kind: Failed, Pos: pos, Err: ErrClosed}
		case failure != nil:
			ld = toLoaded(pos, nil, failure)
		case !ok:
			ld = LoadedData{Kind: Missing, Pos: pos}
		default:
			data, err := m.codec.Decode(pos, raw)
			ld = toLoaded(pos, data, err)
		}

		select {
		case results <- ld:
		case <-ctx.Done():
			return
		}
	}
}

// SaveChunks реализует ChunkIO
func (m *MemoryIO) SaveChunks(ctx context.Context, chunks []*chunk.Sync) error {
	m.ongoing.RLock()
	defer m.ongoing.RUnlock()

	if m.closed.Load() {
		return ErrClosed
	}

	m.mu.Lock()
	m.saveCalls++
	err := m.saveErr
	m.mu.Unlock()
	if err != nil {
		return err
	}

	for _, c := range chunks {
		data, _ := c.Snapshot()
		raw, err := m.codec.Encode(data)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.records[c.Pos()] = raw
		m.saved++
		m.mu.Unlock()
	}
	return nil
}

// WatchChunks реализует ChunkIO
func (m *MemoryIO) WatchChunks(positions []chunk.Pos) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range positions {
		m.watched[p]++
	}
}

// UnwatchChunks реализует ChunkIO
func (m *MemoryIO) UnwatchChunks(positions []chunk.Pos) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range positions {
		if n := m.watched[p]; n > 1 {
			m.watched[p] = n - 1
		} else {
			delete(m.watched, p)
		}
	}
}

// ClearWatched реализует ChunkIO
func (m *MemoryIO) ClearWatched() {
	m.mu.Lock()
	m.watched = make(map[chunk.Pos]int)
	m.mu.Unlock()
}

// AwaitOngoing реализует ChunkIO
func (m *MemoryIO) AwaitOngoing(ctx context.Context) error {
	return awaitRW(ctx, &m.ongoing)
}

// CompactLogs ничего не делает
func (m *MemoryIO) CompactLogs(context.Context) error {
	return nil
}

// Close реализует ChunkIO
func (m *MemoryIO) Close() error {
	m.closed.Store(true)
	return nil
}
