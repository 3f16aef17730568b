// Package syncmap оборачивает xsync.MapOf и добавляет учёт удалённых
// записей для периодического обслуживания карт.
package syncmap

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultCapacity задаёт начальную ёмкость карты по умолчанию.
const DefaultCapacity = 1024

// Map представляет конкурентную карту с атомарными операциями над записью.
// Функции, переданные в LoadOrCompute, Compute и DeleteIf, выполняются под
// блокировкой бакета и не должны обращаться к той же карте. Load не берёт
// блокировок.
type Map[K comparable, V any] struct {
	m       *xsync.MapOf[K, V]
	deleted atomic.Int64 // удалено с момента последнего сжатия
}

// New создаёт карту с начальной ёмкостью capacity. hash должен быть
// стабильным для ключа.
func New[K comparable, V any](capacity int, hash func(K) uint64) *Map[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	hasher := func(k K, seed uint64) uint64 {
		return hash(k) ^ seed
	}
	return &Map[K, V]{m: xsync.NewMapOfWithHasher[K, V](hasher, xsync.WithPresize(capacity))}
}

// Load возвращает значение по ключу.
func (m *Map[K, V]) Load(k K) (V, bool) {
	return m.m.Load(k)
}

// Store записывает значение, заменяя существующее.
func (m *Map[K, V]) Store(k K, v V) {
	m.m.Store(k, v)
}

// LoadOrCompute возвращает существующее значение, а если его нет, вызывает
// produce и сохраняет результат. produce вызывается не более одного раза на
// отсутствующий ключ, даже при конкурентных вызовах. Второе значение равно
// true, если запись уже существовала.
func (m *Map[K, V]) LoadOrCompute(k K, produce func() V) (V, bool) {
	return m.m.LoadOrCompute(k, produce)
}

// Compute атомарно пересчитывает запись. fn получает текущее значение и
// признак его наличия; если keep равно false, запись удаляется.
func (m *Map[K, V]) Compute(k K, fn func(old V, ok bool) (v V, keep bool)) (V, bool) {
	removed := false
	v, ok := m.m.Compute(k, func(old V, loaded bool) (V, bool) {
		v, keep := fn(old, loaded)
		removed = loaded && !keep
		return v, !keep
	})
	if removed {
		m.deleted.Add(1)
	}
	return v, ok
}

// DeleteIf удаляет запись, если pred вернул true. Возвращает факт удаления.
func (m *Map[K, V]) DeleteIf(k K, pred func(v V) bool) bool {
	removed := false
	m.m.Compute(k, func(old V, loaded bool) (V, bool) {
		if !loaded {
			return old, true
		}
		removed = pred(old)
		return old, removed
	})
	if removed {
		m.deleted.Add(1)
	}
	return removed
}

// Delete удаляет запись и возвращает прежнее значение.
func (m *Map[K, V]) Delete(k K) (V, bool) {
	v, ok := m.m.LoadAndDelete(k)
	if ok {
		m.deleted.Add(1)
	}
	return v, ok
}

// Range обходит карту. fn может изменять карту; обход прекращается,
// если fn вернул false.
func (m *Map[K, V]) Range(fn func(k K, v V) bool) {
	m.m.Range(fn)
}

// Len возвращает текущее число записей.
func (m *Map[K, V]) Len() int {
	return m.m.Size()
}

// Clear удаляет все записи и сбрасывает таблицу до начального размера.
func (m *Map[K, V]) Clear() {
	m.m.Clear()
	m.deleted.Store(0)
}

// Slack возвращает число удалений с момента последнего сжатия.
func (m *Map[K, V]) Slack() int {
	return int(m.deleted.Load())
}

// ShrinkIfSlack сбрасывает учёт, если удалений набралось не меньше
// threshold. Саму таблицу MapOf уменьшает при удалениях: карта создаётся
// без WithGrowOnly.
func (m *Map[K, V]) ShrinkIfSlack(threshold int) bool {
	if threshold <= 0 {
		return false
	}
	for {
		n := m.deleted.Load()
		if n < int64(threshold) {
			return false
		}
		if m.deleted.CompareAndSwap(n, 0) {
			return true
		}
	}
}
