package chunk

import (
	"sync"
	"sync/atomic"
)

// Sync представляет разделяемый дескриптор чанка. Все держатели указателя видят одно
// и то же содержимое; доступ к нему идёт через собственный RWMutex.
type Sync struct {
	pos     Pos
	mu      sync.RWMutex
	data    *Data
	version atomic.Uint64
}

// NewSync оборачивает данные в разделяемый дескриптор.
func NewSync(data *Data) *Sync {
	return &Sync{pos: data.Pos, data: data}
}

// Pos возвращает позицию чанка. Не требует блокировки.
func (s *Sync) Pos() Pos {
	return s.pos
}

// Read выполняет fn под разделяемой блокировкой.
func (s *Sync) Read(fn func(d *Data)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

// Write выполняет fn под эксклюзивной блокировкой и увеличивает версию.
func (s *Sync) Write(fn func(d *Data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.data)
	s.version.Add(1)
}

// Snapshot возвращает копию содержимого вместе с версией, при которой она снята.
func (s *Sync) Snapshot() (*Data, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Clone(), s.version.Load()
}

// Version возвращает счётчик изменений. Растёт при каждом Write.
func (s *Sync) Version() uint64 {
	return s.version.Load()
}
