// Package events публикует события жизненного цикла чанков во внешнюю шину.
package events

import (
	"fmt"
	"sync"
	"time"
)

// Kind - тип события
type Kind string

const (
	KindLoaded      Kind = "loaded"
	KindGenerated   Kind = "generated"
	KindRegenerated Kind = "regenerated"
	KindSaved       Kind = "saved"
	KindEvicted     Kind = "evicted"
	KindState       Kind = "state"
)

// Event описывает одно изменение. Для KindState заполняется только State.
type Event struct {
	Kind  Kind      `json:"kind"`
	World string    `json:"world"`
	X     int32     `json:"x"`
	Z     int32     `json:"z"`
	State string    `json:"state,omitempty"`
	At    time.Time `json:"at"`
}

// Subject возвращает тему шины для события
func Subject(world string, kind Kind) string {
	return fmt.Sprintf("world.%s.chunk.%s", world, kind)
}

// Publisher принимает события. Publish не должен блокироваться надолго:
// его вызывают из горячих путей загрузки и выгрузки.
type Publisher interface {
	Publish(ev Event)
}

// Nop отбрасывает все события
type Nop struct{}

func (Nop) Publish(Event) {}

// Recorder складывает события в память
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events возвращает копию накопленных событий
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count считает события заданного типа
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
