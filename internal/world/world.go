// Package world отвечает за инициализацию и связывание компонентов игрового мира
package world

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/annelo/go-world-server/internal/chunkmanager"
	"github.com/annelo/go-world-server/internal/config"
	"github.com/annelo/go-world-server/internal/events"
	"github.com/annelo/go-world-server/internal/gameloop"
	"github.com/annelo/go-world-server/internal/generator"
	"github.com/annelo/go-world-server/internal/playermanager"
	"github.com/annelo/go-world-server/internal/storage"
)

// World представляет один открытый мир: папку на диске, хранилище чанков
// и менеджеры поверх него.
type World struct {
	Info    *storage.WorldInfo
	Chunks  *chunkmanager.ChunkManager
	Players *playermanager.PlayerManager

	cfg       *config.Config
	logger    *zap.SugaredLogger
	io        storage.ChunkIO
	lock      *storage.LevelLock
	publisher *events.NATSPublisher
	bus       *events.EmbeddedServer
}

// Open захватывает папку мира, читает или создаёт метаданные, открывает
// хранилище и загружает чанки спавна. Дополнительные opts передаются
// менеджеру чанков.
func Open(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, opts ...chunkmanager.Option) (_ *World, err error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	dir := cfg.World.Path

	lock, err := storage.LockLevel(dir)
	if err != nil {
		return nil, err
	}
	w := &World{cfg: cfg, logger: logger, lock: lock}
	defer func() {
		if err != nil {
			w.release()
		}
	}()

	infoStore := storage.NewFileInfoStore(dir)
	w.Info, err = w.loadInfo(infoStore)
	if err != nil {
		return nil, err
	}

	w.io, err = storage.Open(dir, storage.Options{
		Format:         w.Info.Format,
		Compression:    cfg.Storage.Compression,
		IOWorkers:      cfg.Storage.IOWorkers,
		MaxOpenRegions: cfg.Storage.MaxOpenRegions,
	}, logger.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("открытие хранилища: %w", err)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.Enabled {
		if err := w.connectEvents(); err != nil {
			return nil, err
		}
		publisher = w.publisher
	}

	managerOpts := append([]chunkmanager.Option{
		chunkmanager.WithLogger(logger.Named("chunks")),
		chunkmanager.WithGenerationWorkers(cfg.Generation.Workers),
		chunkmanager.WithShrinkThreshold(cfg.Memory.ShrinkThreshold),
		chunkmanager.WithInitialCapacity(cfg.Memory.InitialCapacity),
		chunkmanager.WithEventPublisher(publisher),
		chunkmanager.WithWorldInfo(w.Info, infoStore),
	}, opts...)
	gen := generator.New(w.Info.Generator, w.Info.Seed)
	w.Chunks = chunkmanager.New(w.io, gen, managerOpts...)

	w.Players = playermanager.NewPlayerManager(w.Chunks,
		playermanager.WithLogger(logger.Named("players")),
		playermanager.WithLoadRate(cfg.Server.ChunkLoadRate, cfg.Server.ChunkLoadBurst),
	)

	spawn := chunkmanager.SpawnArea(w.Info.SpawnX, w.Info.SpawnZ, cfg.World.SpawnRadius)
	if err := w.Chunks.ReadSpawnChunks(ctx, spawn); err != nil {
		_ = w.Chunks.Shutdown(context.Background())
		return nil, fmt.Errorf("загрузка спавна: %w", err)
	}

	logger.Infow("Мир открыт",
		"name", w.Info.Name,
		"id", w.Info.ID,
		"seed", w.Info.Seed,
		"format", w.Info.Format,
		"generator", w.Info.Generator,
	)
	return w, nil
}

// loadInfo читает метаданные или создаёт их для нового мира. Формат
// хранилища и генератор существующего мира берутся из метаданных.
// Резервная копия обновляется только после успешного чтения.
func (w *World) loadInfo(store *storage.FileInfoStore) (*storage.WorldInfo, error) {
	info, err := store.ReadInfo()
	switch {
	case err == nil:
		if err := store.Backup(); err != nil {
			w.logger.Warnw("Не удалось создать резервную копию метаданных мира", "error", err)
		}
		if info.Format != w.cfg.Storage.Format {
			w.logger.Warnw("Формат хранилища мира отличается от настроек, используется формат мира",
				"world", info.Format, "config", w.cfg.Storage.Format)
		}
		return info, nil
	case errors.Is(err, storage.ErrInfoNotFound):
		seed := w.cfg.World.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		info = storage.NewWorldInfo(w.cfg.World.Name, seed)
		info.Format = w.cfg.Storage.Format
		info.Generator = w.cfg.World.Generator
		if err := store.WriteInfo(info); err != nil {
			return nil, fmt.Errorf("запись метаданных нового мира: %w", err)
		}
		w.logger.Infow("Создан новый мир", "name", info.Name, "seed", seed)
		return info, nil
	default:
		return nil, fmt.Errorf("чтение метаданных мира: %w", err)
	}
}

func (w *World) connectEvents() error {
	url := w.cfg.Events.URL
	if url == "" {
		bus, err := events.StartEmbedded("127.0.0.1", w.cfg.Events.EmbeddedPort, w.cfg.Events.StartTimeout)
		if err != nil {
			return err
		}
		w.bus = bus
		url = bus.ClientURL()
		w.logger.Infow("Запущена встроенная шина событий", "url", url)
	}
	publisher, err := events.ConnectNATS(url, w.cfg.World.Name, w.logger.Named("events"))
	if err != nil {
		return err
	}
	w.publisher = publisher
	return nil
}

// Systems возвращает игровые системы мира для игрового цикла
func (w *World) Systems() []gameloop.System {
	return []gameloop.System{
		gameloop.NewViewSystem(),
		gameloop.NewBlockTickSystem(nil),
		gameloop.NewMaintenanceSystem(w.cfg.Memory.CleanInterval, w.cfg.Memory.CompactInterval),
	}
}

// Dependencies возвращает зависимости для игровых систем
func (w *World) Dependencies() gameloop.Dependencies {
	return gameloop.Dependencies{Players: w.Players, Chunks: w.Chunks, Logger: w.logger}
}

// Stop отключает игроков, сохраняет все чанки и освобождает папку мира
func (w *World) Stop(ctx context.Context) error {
	for _, id := range w.Players.GetAllPlayers() {
		_ = w.Players.RemovePlayer(id)
	}
	err := w.Chunks.Shutdown(ctx)
	w.Players.Wait()
	return errors.Join(err, w.release())
}

// release закрывает хранилище, шину и снимает блокировку
func (w *World) release() error {
	var errs []error
	if w.io != nil {
		if err := w.io.Close(); err != nil {
			errs = append(errs, fmt.Errorf("закрытие хранилища: %w", err))
		}
		w.io = nil
	}
	if w.publisher != nil {
		if err := w.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
		w.publisher = nil
	}
	if w.bus != nil {
		w.bus.Shutdown()
		w.bus = nil
	}
	if w.lock != nil {
		if err := w.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("снятие блокировки: %w", err))
		}
		w.lock = nil
	}
	return errors.Join(errs...)
}
