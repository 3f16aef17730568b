// Package config загружает настройки сервера мира из YAML.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/pixil98/go-errors"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"

	"github.com/annelo/go-world-server/internal/playermanager"
	"github.com/annelo/go-world-server/internal/storage"
)

// Config описывает корневой объект файла настроек
type Config struct {
	World      WorldConfig      `yaml:"world"`
	Storage    StorageConfig    `yaml:"storage"`
	Generation GenerationConfig `yaml:"generation"`
	Memory     MemoryConfig     `yaml:"memory"`
	Server     ServerConfig     `yaml:"server"`
	Events     EventsConfig     `yaml:"events"`
	Log        LogConfig        `yaml:"log"`
}

type WorldConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	// Seed 0 означает случайный сид для нового мира
	Seed        int64  `yaml:"seed"`
	Generator   string `yaml:"generator"`
	SpawnRadius int32  `yaml:"spawn_radius"`
}

type StorageConfig struct {
	Format         string `yaml:"format"`
	Compression    string `yaml:"compression"`
	IOWorkers      int    `yaml:"io_workers"`
	MaxOpenRegions int    `yaml:"max_open_regions"`
}

type GenerationConfig struct {
	Workers int `yaml:"workers"`
}

type MemoryConfig struct {
	InitialCapacity int           `yaml:"initial_capacity"`
	ShrinkThreshold int           `yaml:"shrink_threshold"`
	CleanInterval   time.Duration `yaml:"clean_interval"`
	CompactInterval time.Duration `yaml:"compact_interval"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ViewRadius      int32         `yaml:"view_radius"`
	ChunkLoadRate   float64       `yaml:"chunk_load_rate"`
	ChunkLoadBurst  int           `yaml:"chunk_load_burst"`
}

type EventsConfig struct {
	Enabled bool `yaml:"enabled"`
	// URL внешнего сервера NATS. Пустой URL при Embedded запускает сервер внутри процесса.
	URL          string        `yaml:"url"`
	Embedded     bool          `yaml:"embedded"`
	EmbeddedPort int           `yaml:"embedded_port"`
	StartTimeout time.Duration `yaml:"start_timeout"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default возвращает настройки по умолчанию
func Default() *Config {
	return &Config{
		World: WorldConfig{
			Name:        "default",
			Path:        "/tmp/world",
			Generator:   "biome",
			SpawnRadius: 2,
		},
		Storage: StorageConfig{
			Format:         storage.FormatRegion,
			Compression:    "zstd",
			IOWorkers:      4,
			MaxOpenRegions: 64,
		},
		Generation: GenerationConfig{Workers: runtime.NumCPU()},
		Memory: MemoryConfig{
			InitialCapacity: 1024,
			ShrinkThreshold: 4096,
			CleanInterval:   30 * time.Second,
			CompactInterval: 10 * time.Minute,
		},
		Server: ServerConfig{
			Port:            50051,
			TickInterval:    50 * time.Millisecond,
			ShutdownTimeout: 30 * time.Second,
			ViewRadius:      8,
			ChunkLoadRate:   200,
			ChunkLoadBurst:  64,
		},
		Events: EventsConfig{
			StartTimeout: 10 * time.Second,
			EmbeddedPort: -1,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load читает файл path поверх настроек по умолчанию и проверяет результат
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("конфигурация %s: %w", path, err)
	}
	return cfg, nil
}

// Validate собирает все ошибки настроек
func (c *Config) Validate() error {
	el := errors.NewErrorList()
	el.Add(c.World.validate())
	el.Add(c.Storage.validate())
	el.Add(c.Memory.validate())
	el.Add(c.Server.validate())
	el.Add(c.Events.validate())
	el.Add(c.Log.validate())
	if c.Generation.Workers < 0 {
		el.Add(fmt.Errorf("generation.workers не может быть отрицательным"))
	}
	return el.Err()
}

func (w *WorldConfig) validate() error {
	el := errors.NewErrorList()
	if w.Name == "" {
		el.Add(fmt.Errorf("world.name обязателен"))
	}
	if w.Path == "" {
		el.Add(fmt.Errorf("world.path обязателен"))
	}
	switch w.Generator {
	case "biome", "flat":
	default:
		el.Add(fmt.Errorf("world.generator: неизвестный генератор %q", w.Generator))
	}
	if w.SpawnRadius < 0 {
		el.Add(fmt.Errorf("world.spawn_radius не может быть отрицательным"))
	}
	return el.Err()
}

func (s *StorageConfig) validate() error {
	el := errors.NewErrorList()
	switch s.Format {
	case storage.FormatRegion, storage.FormatLevelDB, storage.FormatMemory:
	default:
		el.Add(fmt.Errorf("storage.format: неизвестный формат %q", s.Format))
	}
	if _, err := storage.NewCodec(s.Compression); err != nil {
		el.Add(fmt.Errorf("storage.compression: %w", err))
	}
	if s.IOWorkers < 1 {
		el.Add(fmt.Errorf("storage.io_workers должен быть не меньше 1"))
	}
	if s.MaxOpenRegions < 1 {
		el.Add(fmt.Errorf("storage.max_open_regions должен быть не меньше 1"))
	}
	return el.Err()
}

func (m *MemoryConfig) validate() error {
	el := errors.NewErrorList()
	if m.InitialCapacity < 0 {
		el.Add(fmt.Errorf("memory.initial_capacity не может быть отрицательной"))
	}
	if m.ShrinkThreshold < 0 {
		el.Add(fmt.Errorf("memory.shrink_threshold не может быть отрицательным"))
	}
	if m.CleanInterval < 0 || m.CompactInterval < 0 {
		el.Add(fmt.Errorf("memory: интервалы не могут быть отрицательными"))
	}
	return el.Err()
}

func (s *ServerConfig) validate() error {
	el := errors.NewErrorList()
	if s.Port < 0 || s.Port > 65535 {
		el.Add(fmt.Errorf("server.port вне диапазона: %d", s.Port))
	}
	if s.TickInterval < time.Millisecond {
		el.Add(fmt.Errorf("server.tick_interval должен быть не меньше 1ms"))
	}
	if s.ShutdownTimeout <= 0 {
		el.Add(fmt.Errorf("server.shutdown_timeout должен быть положительным"))
	}
	if s.ViewRadius < 0 || s.ViewRadius > playermanager.MaxViewRadius {
		el.Add(fmt.Errorf("server.view_radius должен быть от 0 до %d", playermanager.MaxViewRadius))
	}
	if s.ChunkLoadBurst < 1 {
		el.Add(fmt.Errorf("server.chunk_load_burst должен быть не меньше 1"))
	}
	return el.Err()
}

func (e *EventsConfig) validate() error {
	if !e.Enabled {
		return nil
	}
	el := errors.NewErrorList()
	if e.URL == "" && !e.Embedded {
		el.Add(fmt.Errorf("events: нужен url или embedded"))
	}
	if e.StartTimeout <= 0 {
		el.Add(fmt.Errorf("events.start_timeout должен быть положительным"))
	}
	return el.Err()
}

func (l *LogConfig) validate() error {
	if _, err := zap.ParseAtomicLevel(l.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// BuildLogger создаёт логгер по секции log
func (l *LogConfig) BuildLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
