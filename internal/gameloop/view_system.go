package gameloop

import (
	"context"
	"errors"
	"time"

	"github.com/annelo/go-world-server/internal/playermanager"
)

// ViewSystem загружает чанки из очередей обзора игроков
type ViewSystem struct {
	players *playermanager.PlayerManager
}

func NewViewSystem() *ViewSystem { return &ViewSystem{} }

func (v *ViewSystem) Name() string { return "view" }

func (v *ViewSystem) Init(deps Dependencies) error {
	if deps.Players == nil {
		return errors.New("не задан менеджер игроков")
	}
	v.players = deps.Players
	return nil
}

func (v *ViewSystem) Tick(ctx context.Context, _ time.Duration) {
	v.players.Tick(ctx)
}
