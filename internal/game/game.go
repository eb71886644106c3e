package game

import (
	"context"
	"errors"
	"math"
	"time"

	gosync "sync"

	"github.com/lucaspoffo/Cosmos/internal/config"
	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/eventbus"
	"github.com/lucaspoffo/Cosmos/internal/frame"
	"github.com/lucaspoffo/Cosmos/internal/interest"
	"github.com/lucaspoffo/Cosmos/internal/logging"
	"github.com/lucaspoffo/Cosmos/internal/network"
	"github.com/lucaspoffo/Cosmos/internal/physics"
	"github.com/lucaspoffo/Cosmos/internal/protocol"
	"github.com/lucaspoffo/Cosmos/internal/storage"
	"github.com/lucaspoffo/Cosmos/internal/sync"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world"
)

// netServer — контракт игрового сервера, нужный циклу симуляции
type netServer interface {
	Drain() []network.InboundMessage
	Send(clientID string, msg *protocol.Message) error
	Broadcast(msg *protocol.Message)
	Disconnect(clientID string, reason error)
	NoteDecodeError(clientID string)
}

// posChannel — контракт UDP-канала позиций
type posChannel interface {
	Drain() map[string]protocol.EntityPosition
	SendPositions(clientID string, upd *protocol.PositionUpdateMessage) error
	Forget(clientID string)
}

// Game — сердце сервера: один детерминированный тик симуляции.
// Все мутации мира происходят в Tick, воркеры генерации и перестроений
// подключаются только в фиксированных точках join.
type Game struct {
	cfg *config.Config

	store    *world.Store
	frames   *frame.Manager
	interest *interest.Manager
	producer *sync.Producer
	rebuild  *world.RebuildScheduler
	phys     physics.Capability

	net netServer
	udp posChannel

	worldStorage *storage.WorldStorage
	positions    storage.PositionRepo

	mu           gosync.Mutex
	players      map[uint64]*Player
	byClient     map[string]*Player
	nextPlayerID uint64

	tick uint64
}

// NewGame собирает игровой цикл из подсистем. worldStorage и udp
// могут быть nil (тесты, обособленные конфигурации).
func NewGame(
	cfg *config.Config,
	store *world.Store,
	frames *frame.Manager,
	im *interest.Manager,
	producer *sync.Producer,
	rebuild *world.RebuildScheduler,
	phys physics.Capability,
	net netServer,
	udp posChannel,
	worldStorage *storage.WorldStorage,
	positions storage.PositionRepo,
) *Game {
	return &Game{
		cfg:          cfg,
		store:        store,
		frames:       frames,
		interest:     im,
		producer:     producer,
		rebuild:      rebuild,
		phys:         phys,
		net:          net,
		udp:          udp,
		worldStorage: worldStorage,
		positions:    positions,
		players:      make(map[uint64]*Player),
		byClient:     make(map[string]*Player),
	}
}

// Tick возвращает номер текущего тика
func (g *Game) Tick() uint64 { return g.tick }

// PlayerByClient возвращает игрока по ID подключения
func (g *Game) PlayerByClient(clientID string) (*Player, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.byClient[clientID]
	return p, ok
}

// PlayerCount возвращает число подключённых игроков
func (g *Game) PlayerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.players)
}

// Run крутит цикл симуляции до отмены контекста
func (g *Game) Run(ctx context.Context) error {
	tickRate := g.cfg.Server.TickRate
	if tickRate <= 0 {
		tickRate = 20
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	logging.Info("🕹️ Цикл симуляции запущен: %d тиков/с", tickRate)

	for {
		select {
		case <-ctx.Done():
			g.saveWorld()
			return ctx.Err()
		case <-ticker.C:
			if err := g.Step(); err != nil {
				logging.Error("‼️ Тик %d прерван: %v", g.tick, err)
				return err
			}
		}
	}
}

// Step выполняет один тик симуляции. Порядок фаз фиксирован.
func (g *Game) Step() error {
	// 1. Входящие сообщения надёжного канала
	for _, in := range g.net.Drain() {
		g.handleMessage(in)
	}

	// 2. Доверенные отчёты о движении из UDP
	if g.udp != nil {
		for clientID, pos := range g.udp.Drain() {
			g.applyMovement(clientID, pos)
		}
	}

	// 3. Слияние и разделение фреймов
	if err := g.frames.Update(); err != nil {
		if errors.Is(err, frame.ErrFrameInconsistency) {
			return err // Фатально: состояние симуляции рассинхронизировано
		}
		logging.Warn("Обновление фреймов: %v", err)
	}

	// 4. Пересканирование интереса с фиксированной периодичностью
	scanEvery := g.cfg.Interest.ScanEvery
	if scanEvery <= 0 {
		scanEvery = 1
	}
	if g.tick%uint64(scanEvery) == 0 {
		g.scanInterest()
	}

	// 5. Точка join: результаты воркеров фиксируются до рассылки
	g.store.JoinCompleted()
	g.rebuild.ScheduleTick()
	g.applyColliders()
	if meshes := g.rebuild.DrainMeshes(); len(meshes) > 0 {
		logging.Trace("Перестроено мешей за тик: %d", len(meshes))
	}

	// 6. Распад кораблей, потерявших ядро
	g.reapMeltedStructures()

	// 7. Переназначения фреймов: сначала физика, затем рассылка диффов
	reassigned := g.frames.DrainReassignments()
	g.applyFrameOrigins(reassigned)
	g.producer.FlushTick(
		g.interest.DrainEvents(),
		g.store.DrainChanges(),
		g.store.DrainReady(),
		reassigned,
	)

	// 8. Позиции по UDP (без гарантий), с настроенной периодичностью
	if g.tick%g.positionFlushTicks() == 0 {
		g.broadcastPositions()
	}

	g.tick++
	return nil
}

// scanInterest пересчитывает записи загрузки всех игроков и
// замораживает структуры без наблюдателей
func (g *Game) scanInterest() {
	structures := g.store.All()
	infos := make([]interest.StructureInfo, 0, len(structures))
	for _, s := range structures {
		global, err := g.frames.GlobalOf(s)
		if err != nil {
			logging.Error("‼️ %v", err)
			continue
		}
		infos = append(infos, interest.StructureInfo{ID: s.ID, Pos: global})
	}

	g.mu.Lock()
	players := make([]*Player, 0, len(g.players))
	for _, p := range g.players {
		players = append(players, p)
	}
	g.mu.Unlock()

	for _, p := range players {
		global, err := g.frames.GlobalOf(p)
		if err != nil {
			logging.Error("‼️ %v", err)
			continue
		}
		g.interest.Scan(p.ID, global, infos)

		if rec, ok := g.interest.Record(p.ID); ok {
			for _, sid := range rec.Structures() {
				g.requestChunks(p, global, sid)
			}
		}
	}

	// Сервер объединяет радиусы: без наблюдателей структура спит
	for _, s := range structures {
		s.SetFrozen(!g.interest.Observed(s.ID))
	}
}

// requestChunks ставит в очередь генерацию чанков структуры вокруг
// игрока. Малые структуры запрашиваются целиком, у планет — только
// окрестность игрока.
func (g *Game) requestChunks(p *Player, playerGlobal coords.Position, structureID uint64) {
	s, ok := g.store.Get(structureID)
	if !ok {
		return
	}

	dims := s.Dims()
	if dims.X*dims.Y*dims.Z <= 64 {
		for x := int64(0); x < dims.X; x++ {
			for y := int64(0); y < dims.Y; y++ {
				for z := int64(0); z < dims.Z; z++ {
					_, _, _ = g.store.GetOrPopulateChunk(structureID, vec.Vec3{X: x, Y: y, Z: z})
				}
			}
		}
		return
	}

	sGlobal, err := g.frames.GlobalOf(s)
	if err != nil {
		return
	}
	// Смещение игрока в блоках от ЦЕНТРА структуры; индексы чанков
	// считаются от её угла, поэтому полуразмер добавляется до деления
	rel := playerGlobal.Sub(sGlobal)

	center := vec.Vec3{
		X: clampChunk(chunkIndexOf(rel.X, dims.X), dims.X),
		Y: clampChunk(chunkIndexOf(rel.Y, dims.Y), dims.Y),
		Z: clampChunk(chunkIndexOf(rel.Z, dims.Z), dims.Z),
	}

	const radius = int64(2)
	for x := max64(0, center.X-radius); x <= min64(dims.X-1, center.X+radius); x++ {
		for y := max64(0, center.Y-radius); y <= min64(dims.Y-1, center.Y+radius); y++ {
			for z := max64(0, center.Z-radius); z <= min64(dims.Z-1, center.Z+radius); z++ {
				_, _, _ = g.store.GetOrPopulateChunk(structureID, vec.Vec3{X: x, Y: y, Z: z})
			}
		}
	}
}

// chunkIndexOf переводит смещение в блоках от центра структуры в индекс
// чанка от её угла. Округление всегда вниз, в том числе для
// отрицательных смещений.
func chunkIndexOf(rel float64, dimChunks int64) int64 {
	blockCoord := rel + float64(dimChunks*world.ChunkSize)/2
	return int64(math.Floor(blockCoord / float64(world.ChunkSize)))
}

func clampChunk(v, dim int64) int64 {
	if v < 0 {
		return 0
	}
	if v >= dim {
		return dim - 1
	}
	return v
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// applyFrameOrigins перевыражает физические тела структур в origin их
// новых фреймов, иначе коллайдеры устаревают после слияния/разделения
func (g *Game) applyFrameOrigins(reassigned []frame.Reassignment) {
	for _, r := range reassigned {
		if r.IsPlayer {
			continue
		}
		s, ok := g.store.Get(r.EntityID)
		if !ok {
			continue
		}
		if h := s.BodyHandle(); h != 0 {
			g.phys.SetFrameOrigin(physics.Handle(h), r.FrameOrigin)
		}
	}
}

// applyColliders передаёт готовые коллизии физике
func (g *Game) applyColliders() {
	for _, res := range g.rebuild.DrainColliders() {
		s, ok := g.store.Get(res.Key.StructureID)
		if !ok {
			continue
		}
		h := s.BodyHandle()
		if h == 0 {
			h = uint64(g.phys.CreateBody(s.ID))
			s.SetBodyHandle(h)
		}
		g.phys.UpdateCollider(physics.Handle(h), res.Collider)
	}
}

// reapMeltedStructures убирает корабли, потерявшие ядро
func (g *Game) reapMeltedStructures() {
	for _, s := range g.store.All() {
		if !s.IsMeltingDown() {
			continue
		}

		logging.Info("💥 Структура %d (%s) распадается", s.ID, s.Name)
		g.producer.SendDespawn(s.ID, protocol.DespawnMeltingDown)

		if h := s.BodyHandle(); h != 0 {
			g.phys.RemoveBody(physics.Handle(h))
		}
		g.frames.Remove(s)
		g.store.RemoveStructure(s.ID)
		g.interest.ForgetStructure(s.ID)
		if g.worldStorage != nil {
			if err := g.worldStorage.DeleteStructure(s.ID); err != nil {
				logging.Warn("Не удалось удалить структуру %d из хранилища: %v", s.ID, err)
			}
		}

		_ = eventbus.PublishEvent(context.Background(), "game", eventbus.EventShipMeltdown, map[string]uint64{
			"structure_id": s.ID,
		})
	}
}

// applyMovement применяет доверенный отчёт о движении из UDP
func (g *Game) applyMovement(clientID string, ep protocol.EntityPosition) {
	p, ok := g.PlayerByClient(clientID)
	if !ok || p.ID != ep.EntityID {
		return
	}
	p.ApplyMovement(ep.Position, ep.Rotation, ep.Velocity, ep.Tick)
}

// positionFlushTicks переводит sync.flush_every_ms в период тиков
func (g *Game) positionFlushTicks() uint64 {
	ticks := int64(g.cfg.Sync.FlushEveryMs) * int64(g.cfg.Server.TickRate) / 1000
	if ticks < 1 {
		return 1
	}
	return uint64(ticks)
}

// broadcastPositions шлёт всем клиентам позиции игроков по UDP
func (g *Game) broadcastPositions() {
	if g.udp == nil {
		return
	}

	g.mu.Lock()
	positions := make([]protocol.EntityPosition, 0, len(g.players))
	clients := make([]string, 0, len(g.players))
	for _, p := range g.players {
		positions = append(positions, protocol.EntityPosition{
			EntityID: p.ID,
			FrameID:  p.FrameID(),
			Position: p.Position(),
			Rotation: p.Rotation(),
			Velocity: p.Velocity(),
			Tick:     g.tick,
		})
		clients = append(clients, p.ClientID)
	}
	g.mu.Unlock()

	if len(positions) == 0 {
		return
	}
	upd := &protocol.PositionUpdateMessage{Positions: positions}
	for _, clientID := range clients {
		if err := g.udp.SendPositions(clientID, upd); err != nil {
			logging.Warn("UDP-рассылка клиенту %s: %v", clientID, err)
		}
	}
}

// saveWorld сохраняет все структуры при остановке
func (g *Game) saveWorld() {
	if g.worldStorage == nil {
		return
	}

	count := 0
	for _, s := range g.store.All() {
		// В хранилище уходит глобальная позиция: фреймы при следующем
		// старте собираются заново
		if global, err := g.frames.GlobalOf(s); err == nil {
			s.SetPosition(global)
		}
		if err := g.worldStorage.SaveStructure(s); err != nil {
			logging.Error("Не удалось сохранить структуру %d: %v", s.ID, err)
			continue
		}
		count++
	}
	logging.Info("💾 Сохранено структур: %d", count)
}

// LoadWorld поднимает сохранённые структуры при старте и включает их
// в менеджер фреймов
func (g *Game) LoadWorld() error {
	if g.worldStorage == nil {
		return nil
	}

	loaded, err := g.worldStorage.LoadAll(g.store)
	if err != nil {
		return err
	}

	for _, s := range loaded {
		// Сохранённая позиция — глобальная на момент сохранения
		g.frames.AddStructure(s, s.Position())
	}
	if len(loaded) > 0 {
		logging.Info("🌍 Загружено структур из хранилища: %d", len(loaded))
	}
	return nil
}
