// Сервер Cosmos: авторитетная симуляция вокселей в секторных координатах.
// Поднимает надёжный канал (KCP или TCP), UDP-канал позиций, воркеры
// генерации мира и цикл симуляции с фиксированным тиком.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucaspoffo/Cosmos/internal/config"
	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/eventbus"
	"github.com/lucaspoffo/Cosmos/internal/frame"
	"github.com/lucaspoffo/Cosmos/internal/game"
	"github.com/lucaspoffo/Cosmos/internal/interest"
	"github.com/lucaspoffo/Cosmos/internal/logging"
	"github.com/lucaspoffo/Cosmos/internal/network"
	"github.com/lucaspoffo/Cosmos/internal/physics"
	"github.com/lucaspoffo/Cosmos/internal/storage"
	"github.com/lucaspoffo/Cosmos/internal/sync"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world"
	"github.com/lucaspoffo/Cosmos/internal/world/block"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или ENV COSMOS_CONFIG)")
	flag.Parse()

	if err := logging.InitDefaultLogger("server"); err != nil {
		fmt.Fprintf(os.Stderr, "инициализация логгера: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("Конфигурация: %v", err)
		os.Exit(1)
	}
	logging.Info("🚀 Запуск сервера Cosmos (транспорт: %s)", cfg.Server.Transport)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Шина событий: JetStream при заданном URL, иначе in-memory
	var bus eventbus.Bus
	if cfg.EventBus.URL != "" {
		jsBus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream,
			time.Duration(cfg.EventBus.Retention)*time.Hour)
		if err != nil {
			logging.Error("Подключение к NATS: %v", err)
			os.Exit(1)
		}
		defer jsBus.Close()
		bus = jsBus
		logging.Info("📡 Шина событий: JetStream %s", cfg.EventBus.URL)
	} else {
		bus = eventbus.NewMemoryBus(1024)
		logging.Info("📡 Шина событий: in-memory")
	}
	eventbus.Init(bus)

	// Хранилище мира на Badger
	worldStorage, err := storage.NewWorldStorage(cfg.Storage.DataPath)
	if err != nil {
		logging.Error("Хранилище мира: %v", err)
		os.Exit(1)
	}
	defer worldStorage.Close()

	// Позиции игроков: Redis при заданном адресе, иначе память
	var positions storage.PositionRepo
	if cfg.Storage.RedisAddr != "" {
		positions, err = storage.NewRedisPositionRepo(cfg.Storage.RedisAddr)
		if err != nil {
			logging.Error("Подключение к Redis: %v", err)
			os.Exit(1)
		}
		logging.Info("🗄️ Позиции игроков: Redis %s", cfg.Storage.RedisAddr)
	} else {
		positions = storage.NewMemoryPositionRepo()
	}
	defer positions.Close()

	// Мир: реестр блоков, генераторы по видам структур, воркеры заполнения
	store := world.NewStore(block.DefaultRegistry(), cfg.World.Seed)
	store.SetGenerator(world.KindPlanet, world.NewGrassSurfaceGenerator(cfg.World.Seed))
	store.SetGenerator(world.KindAsteroid, world.NewAsteroidGenerator(cfg.World.Seed))
	store.SetGenerator(world.KindShip, &world.EmptyGenerator{})
	store.StartWorkers(ctx, cfg.World.PopulationWorkers)

	rebuild := world.NewRebuildScheduler(store, cfg.World.RebuildBudgetTick)
	rebuild.StartWorkers(ctx, 2)

	frames := frame.NewManager(cfg.Frames.MergeThreshold, cfg.Frames.SplitThreshold)
	im := interest.NewManager(cfg.Interest.LoadRadius, cfg.Interest.UnloadRadius, cfg.Interest.EntityCap)

	// Метрики Prometheus
	metrics := network.NewMetrics()
	network.StartMetricsHTTP(fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()))

	// Сетевые каналы: надёжный для состояния, UDP для позиций
	gs, err := network.NewGameServer(cfg.Server.Transport, cfg.Server.GetGamePort(),
		cfg.Server.MaxDecodeErrors, metrics)
	if err != nil {
		logging.Error("Игровой сервер: %v", err)
		os.Exit(1)
	}

	udp, err := network.NewUDPPositionServer(cfg.Server.GetPositionPort(), metrics)
	if err != nil {
		logging.Error("UDP сервер позиций: %v", err)
		os.Exit(1)
	}

	producer := sync.NewProducer(store, gs, cfg.Sync.BatchSize)

	g := game.NewGame(cfg, store, frames, im, producer, rebuild, physics.NewBoxWorld(),
		gs, udp, worldStorage, positions)

	gs.OnDisconnect(func(session *network.ClientSession, reason error) {
		g.HandleDisconnect(session.ID)
	})

	if err := g.LoadWorld(); err != nil {
		logging.Error("Загрузка мира: %v", err)
		os.Exit(1)
	}
	if store.Count() == 0 {
		bootstrapWorld(cfg, store, frames)
	}

	gs.Start()
	udp.Start()

	err = g.Run(ctx)

	logging.Info("🛑 Остановка сервера...")
	gs.Stop()
	udp.Stop()

	if err != nil && err != context.Canceled {
		logging.Error("Симуляция завершилась с ошибкой: %v", err)
		os.Exit(1)
	}
	logging.Info("👋 Сервер остановлен")
}

// bootstrapWorld создаёт стартовую систему при пустом хранилище:
// планету в начале координат и астероид неподалёку
func bootstrapWorld(cfg *config.Config, store *world.Store, frames *frame.Manager) {
	planetDims := vec.Vec3{
		X: int64(cfg.World.PlanetSizeChunks),
		Y: int64(cfg.World.PlanetSizeChunks),
		Z: int64(cfg.World.PlanetSizeChunks),
	}
	planet := store.CreateStructure(world.KindPlanet, "Terra Nova", planetDims,
		coords.Position{}, cfg.World.Seed)
	frames.AddStructure(planet, planet.Position())

	asteroidDims := vec.Vec3{
		X: int64(cfg.World.AsteroidSizeChunks),
		Y: int64(cfg.World.AsteroidSizeChunks),
		Z: int64(cfg.World.AsteroidSizeChunks),
	}
	asteroidPos := coords.NewPosition(vec.Vec3{}, vec.Vec3Float{X: 2500, Y: 400, Z: -1800})
	asteroid := store.CreateStructure(world.KindAsteroid, "", asteroidDims,
		asteroidPos, cfg.World.Seed+1)
	frames.AddStructure(asteroid, asteroid.Position())

	logging.Info("🌍 Создана стартовая система: планета %s и астероид", planet.Name)
}
