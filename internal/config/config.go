// Package config загружает YAML-конфигурацию сервера с поддержкой
// fallback-значений из переменных окружения.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	World    WorldConfig    `yaml:"world"`
	Frames   FrameConfig    `yaml:"frames"`
	Interest InterestConfig `yaml:"interest"`
	Sync     SyncConfig     `yaml:"sync"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Storage  StorageConfig  `yaml:"storage"`
}

// ServerConfig настройки сетевого сервера
type ServerConfig struct {
	Transport       string `yaml:"transport"` // "kcp" или "tcp"
	GamePort        int    `yaml:"game_port"`
	PositionPort    int    `yaml:"position_port"` // UDP для PositionUpdate
	MetricsPort     int    `yaml:"metrics_port"`
	MOTD            string `yaml:"motd"`
	TickRate        int    `yaml:"tick_rate"`         // Тиков симуляции в секунду
	MaxDecodeErrors int    `yaml:"max_decode_errors"` // Порог обрыва соединения
}

// WorldConfig настройки мира и генерации
type WorldConfig struct {
	Seed               int64  `yaml:"seed"`
	DataPath           string `yaml:"data_path"`
	PopulationWorkers  int    `yaml:"population_workers"`   // Воркеры генерации чанков
	RebuildBudgetTick  int    `yaml:"rebuild_budget_tick"`  // Перестроек меша/физики за тик
	PlanetSizeChunks   int    `yaml:"planet_size_chunks"`   // Чанков вдоль ребра грани планеты
	AsteroidSizeChunks int    `yaml:"asteroid_size_chunks"` // Чанков вдоль ребра астероида
}

// FrameConfig пороги менеджера референсных фреймов.
// Значения намеренно конфигурируемые: исходные пороги слияния/разделения
// не фиксированы архитектурой и подбираются на живом сервере.
type FrameConfig struct {
	MergeThreshold float64 `yaml:"merge_threshold"` // Слияние фреймов: ближе порога
	SplitThreshold float64 `yaml:"split_threshold"` // Разделение: дальше порога от origin
}

// InterestConfig настройки менеджера загрузки по близости
type InterestConfig struct {
	LoadRadius   float64 `yaml:"load_radius"`
	UnloadRadius float64 `yaml:"unload_radius"` // Должен превышать load_radius (гистерезис)
	EntityCap    int     `yaml:"entity_cap"`    // Лимит записей на наблюдателя
	ScanEvery    int     `yaml:"scan_every"`    // Пересчёт каждые N тиков
}

// SyncConfig настройки протокола синхронизации
type SyncConfig struct {
	BatchSize    int `yaml:"batch_size"`
	FlushEveryMs int `yaml:"flush_every_ms"` // Период рассылки позиций по UDP
}

// EventBusConfig настройки шины событий
type EventBusConfig struct {
	URL       string `yaml:"url"` // Пусто — in-memory шина
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

// StorageConfig настройки хранилищ
type StorageConfig struct {
	DataPath  string `yaml:"data_path"`
	RedisAddr string `yaml:"redis_addr"` // Пусто — in-memory репозиторий позиций
}

// Default возвращает конфигурацию со значениями по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:       "kcp",
			GamePort:        7777,
			PositionPort:    7778,
			MetricsPort:     2112,
			MOTD:            "Welcome to the cosmos!",
			TickRate:        20,
			MaxDecodeErrors: 16,
		},
		World: WorldConfig{
			Seed:               1337,
			DataPath:           "data",
			PopulationWorkers:  4,
			RebuildBudgetTick:  8,
			PlanetSizeChunks:   16,
			AsteroidSizeChunks: 2,
		},
		Frames: FrameConfig{
			MergeThreshold: 2000,
			SplitThreshold: 5000,
		},
		Interest: InterestConfig{
			LoadRadius:   3000,
			UnloadRadius: 4500,
			EntityCap:    256,
			ScanEvery:    10,
		},
		Sync: SyncConfig{
			BatchSize:    128,
			FlushEveryMs: 50,
		},
		EventBus: EventBusConfig{
			Stream:    "COSMOS",
			Retention: 24,
		},
		Storage: StorageConfig{
			DataPath: "data",
		},
	}
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV COSMOS_CONFIG; если и её нет —
// возвращает дефолты.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("COSMOS_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет инварианты конфигурации
func (c *Config) Validate() error {
	if c.Interest.UnloadRadius <= c.Interest.LoadRadius {
		return fmt.Errorf("interest: unload_radius (%f) должен превышать load_radius (%f)",
			c.Interest.UnloadRadius, c.Interest.LoadRadius)
	}
	if c.Frames.SplitThreshold <= c.Frames.MergeThreshold {
		return fmt.Errorf("frames: split_threshold (%f) должен превышать merge_threshold (%f)",
			c.Frames.SplitThreshold, c.Frames.MergeThreshold)
	}
	if c.Server.TickRate <= 0 {
		return fmt.Errorf("server: tick_rate должен быть положительным")
	}
	return nil
}

// GetGamePort возвращает игровой порт с приоритетом: config -> env -> default
func (s *ServerConfig) GetGamePort() int {
	return getPortWithEnvFallback(s.GamePort, "COSMOS_GAME_PORT", 7777)
}

// GetPositionPort возвращает UDP порт позиций с поддержкой fallback значений
func (s *ServerConfig) GetPositionPort() int {
	return getPortWithEnvFallback(s.PositionPort, "COSMOS_POSITION_PORT", 7778)
}

// GetMetricsPort возвращает порт Prometheus метрик с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "COSMOS_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}
