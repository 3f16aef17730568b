package chunkmanager

import (
	"runtime"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// generationPool держит фиксированный набор воркеров для генерации чанков.
// Генерация загружает процессор, поэтому число воркеров ограничено
// и не зависит от числа одновременных запросов.
type generationPool struct {
	jobs   chan func()
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newGenerationPool(workers int, logger *zap.SugaredLogger) *generationPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &generationPool{
		jobs:   make(chan func(), workers*4),
		logger: logger,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *generationPool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

// run выполняет задачу, не давая панике генератора убить воркер
func (p *generationPool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("Паника при генерации чанка", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	job()
}

// submit ставит задачу в очередь. Если пул закрыт, задача выполняется
// в вызывающей горутине.
func (p *generationPool) submit(job func()) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.run(job)
		return
	}
	p.jobs <- job
	p.mu.RUnlock()
}

// close останавливает воркеры после выполнения очереди
func (p *generationPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
