package main

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/annelo/go-world-server/internal/admin"
	"github.com/annelo/go-world-server/internal/chunkmanager"
	"github.com/annelo/go-world-server/internal/config"
	"github.com/annelo/go-world-server/internal/service"
	"github.com/annelo/go-world-server/internal/world"
)

var (
	configPath = flag.String("config", "", "Путь до YAML-файла настроек")
	worldPath  = flag.String("world", "", "Путь для хранения данных мира (перекрывает настройки)")
	seed       = flag.Int64("seed", 0, "Сид для генерации нового мира (0 = из настроек)")
	port       = flag.Int("port", 0, "Порт для gRPC сервера (0 = из настроек)")
	debugAddr  = flag.String("debug-addr", "", "Адрес HTTP для /debug/vars")
	noConsole  = flag.Bool("no-console", false, "Не запускать консоль администратора")
)

func main() {
	// Парсим флаги командной строки
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Ошибка конфигурации: %v", err)
	}

	zl, err := cfg.Log.BuildLogger()
	if err != nil {
		log.Fatalf("Не удалось создать логгер: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	// Создаем контекст для управления сервисными задачами
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	health := service.NewHealth("world." + cfg.World.Name)
	w, err := world.Open(ctx, cfg, logger.Named("world"), chunkmanager.WithStateListener(health.OnStateChange))
	if err != nil {
		logger.Fatalw("Не удалось открыть мир", "path", cfg.World.Path, "error", err)
	}

	// Создаем TCP-слушатель
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		_ = w.Stop(context.Background())
		logger.Fatalw("Не удалось создать слушателя", "port", cfg.Server.Port, "error", err)
	}

	grpcServer := grpc.NewServer()
	health.Register(grpcServer)

	ws := service.NewWorldService(w, health, cfg.Server.TickInterval, logger.Named("service"))
	ws.Start(ctx)

	if *debugAddr != "" {
		go serveDebug(*debugAddr, logger)
	}

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			logger.Infow("Останавливаем сервер...")
			cancel()
		})
	}
	if !*noConsole {
		go runConsole(ctx, w, ws, stop, logger)
	}

	go func() {
		logger.Infow("Игровой сервер запущен", "port", cfg.Server.Port, "world", w.Info.Name, "seed", w.Info.Seed)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Errorw("Ошибка сервера", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infow("Получен сигнал завершения, сохраняем мир")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stopCancel()
	exitCode := 0
	if err := ws.Stop(stopCtx); err != nil {
		exitCode = 1
	}
	grpcServer.GracefulStop()
	if exitCode != 0 {
		_ = zl.Sync()
		os.Exit(exitCode)
	}
}

// loadConfig читает файл настроек и применяет флаги поверх него
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}
	if *worldPath != "" {
		cfg.World.Path = *worldPath
	}
	if *seed != 0 {
		cfg.World.Seed = *seed
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	return cfg, cfg.Validate()
}

func serveDebug(addr string, logger *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Infow("Отладочный HTTP запущен", "addr", addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Warnw("Отладочный HTTP остановлен", "error", err)
	}
}

// runConsole запускает консоль администратора на stdin
func runConsole(ctx context.Context, w *world.World, ws *service.WorldService, stop func(), logger *zap.SugaredLogger) {
	reg := admin.NewRegistry()
	reg.RegisterCommand("status", "Show world status", func(context.Context, []string) (string, error) {
		return fmt.Sprintf("state=%s loaded=%d spawn=%d ticks=%d players=%d loop=%d\n",
			w.Chunks.State(),
			w.Chunks.LoadedChunkCount(),
			w.Chunks.SpawnChunkCount(),
			w.Chunks.PendingBlockTicks(),
			len(w.Players.GetAllPlayers()),
			ws.Ticks(),
		), nil
	})
	reg.RegisterCommand("clean", "Evict unwatched chunks", func(ctx context.Context, _ []string) (string, error) {
		n := w.Chunks.CleanMemory(ctx)
		return fmt.Sprintf("Evicted %d chunks\n", n), nil
	})
	reg.RegisterCommand("compact", "Compact storage files", func(ctx context.Context, _ []string) (string, error) {
		if err := w.Chunks.CompactLogs(ctx); err != nil {
			return "", err
		}
		return "Storage compacted\n", nil
	})
	reg.RegisterCommand("stop", "Stop server", func(context.Context, []string) (string, error) {
		stop()
		return "Server stopping\n", nil
	})

	if err := reg.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Warnw("Консоль администратора остановлена", "error", err)
	}
}
