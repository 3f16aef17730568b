package chunkmanager

import (
	"context"
	"sync"
)

// taskTracker учитывает фоновые операции менеджера. После close новые
// задачи не принимаются, а wait дожидается уже запущенных.
type taskTracker struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// add регистрирует задачу. false означает, что менеджер уже закрывается.
func (t *taskTracker) add() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

func (t *taskTracker) done() {
	t.wg.Done()
}

// spawn запускает fn в отдельной горутине, если трекер открыт
func (t *taskTracker) spawn(fn func()) bool {
	if !t.add() {
		return false
	}
	go func() {
		defer t.done()
		fn()
	}()
	return true
}

func (t *taskTracker) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// wait ждёт завершения всех задач или отмены ctx
func (t *taskTracker) wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
