package gameloop

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Loop представляет главный цикл, вызывающий Tick всех зарегистрированных систем.
type Loop struct {
	systems []System
	tickDur time.Duration
	logger  *zap.SugaredLogger
	ticks   atomic.Int64
}

// NewLoop создаёт цикл с заданной длительностью тика. Системы, у которых
// Init вернул ошибку, в цикл не попадают.
func NewLoop(tick time.Duration, deps Dependencies, systems ...System) *Loop {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	l := &Loop{tickDur: tick, logger: deps.Logger.Named("gameloop")}
	for _, s := range systems {
		if err := s.Init(deps); err != nil {
			l.logger.Errorw("Ошибка инициализации системы", "system", s.Name(), "error", err)
			continue
		}
		l.systems = append(l.systems, s)
	}
	return l
}

// Run запускает цикл до отмены ctx.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.tickDur)
	defer ticker.Stop()

	l.logger.Infow("Игровой цикл запущен", "tick", l.tickDur, "systems", len(l.systems))
	last := time.Now()
	for {
		select {
		case t := <-ticker.C:
			dt := t.Sub(last)
			last = t
			l.Step(ctx, dt)
		case <-ctx.Done():
			l.logger.Infow("Игровой цикл остановлен", "ticks", l.ticks.Load())
			return
		}
	}
}

// Step выполняет один тик всех систем
func (l *Loop) Step(ctx context.Context, dt time.Duration) {
	l.ticks.Add(1)
	for _, s := range l.systems {
		l.tickSystem(ctx, s, dt)
	}
}

func (l *Loop) tickSystem(ctx context.Context, sys System, dt time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("Паника в системе", "system", sys.Name(), "panic", r)
		}
	}()
	sys.Tick(ctx, dt)
}

// Ticks возвращает число выполненных тиков
func (l *Loop) Ticks() int64 {
	return l.ticks.Load()
}
