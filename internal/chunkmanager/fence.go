package chunkmanager

import (
	"sync/atomic"

	"github.com/annelo/go-world-server/internal/chunk"
	"github.com/annelo/go-world-server/internal/syncmap"
)

// evictionFence запоминает выгрузки, случившиеся во время чтения из
// хранилища. Прочитанные до такой выгрузки данные устарели: чанк успели
// изменить и сохранить заново.
type evictionFence struct {
	seq     atomic.Uint64
	reading atomic.Int64
	evicted *syncmap.Map[chunk.Pos, uint64]
}

func newEvictionFence(capacity int) *evictionFence {
	return &evictionFence{evicted: syncmap.New[chunk.Pos, uint64](capacity, chunk.Pos.Hash)}
}

// begin отмечает начало чтения и возвращает номер, с которым сравнивает stale
func (f *evictionFence) begin() uint64 {
	f.reading.Add(1)
	return f.seq.Load()
}

func (f *evictionFence) end() {
	f.reading.Add(-1)
}

// record вызывается под блокировкой записи кэша, удаляющей pos
func (f *evictionFence) record(pos chunk.Pos) {
	s := f.seq.Add(1)
	if f.reading.Load() > 0 {
		f.evicted.Store(pos, s)
	}
}

// stale сообщает, выгружался ли pos после начала чтения since. Вызывается
// под блокировкой записи кэша для pos.
func (f *evictionFence) stale(pos chunk.Pos, since uint64) bool {
	at, ok := f.evicted.Load(pos)
	return ok && at > since
}

// prune удаляет записи, которые не нужны ни одному текущему чтению
func (f *evictionFence) prune() {
	cut := f.seq.Load()
	if f.reading.Load() > 0 {
		return
	}
	f.evicted.Range(func(p chunk.Pos, at uint64) bool {
		if at <= cut {
			f.evicted.DeleteIf(p, func(v uint64) bool { return v <= cut })
		}
		return true
	})
}

func (f *evictionFence) len() int {
	return f.evicted.Len()
}
