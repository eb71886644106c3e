package game

import (
	"context"
	"encoding/json"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaspoffo/Cosmos/internal/config"
	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/frame"
	"github.com/lucaspoffo/Cosmos/internal/interest"
	"github.com/lucaspoffo/Cosmos/internal/network"
	"github.com/lucaspoffo/Cosmos/internal/physics"
	"github.com/lucaspoffo/Cosmos/internal/protocol"
	"github.com/lucaspoffo/Cosmos/internal/storage"
	"github.com/lucaspoffo/Cosmos/internal/sync"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world"
	"github.com/lucaspoffo/Cosmos/internal/world/block"
)

// fakeNet подменяет сетевой сервер в тестах
type fakeNet struct {
	mu          gosync.Mutex
	queue       []network.InboundMessage
	sent        map[string][]*protocol.Message
	broadcast   []*protocol.Message
	decodeNotes map[string]int
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		sent:        make(map[string][]*protocol.Message),
		decodeNotes: make(map[string]int),
	}
}

func (f *fakeNet) push(clientID, msgType string, payload interface{}) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	msg.ClientID = clientID
	f.mu.Lock()
	f.queue = append(f.queue, network.InboundMessage{ClientID: clientID, Msg: msg})
	f.mu.Unlock()
}

func (f *fakeNet) Drain() []network.InboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.queue
	f.queue = nil
	return out
}

func (f *fakeNet) Send(clientID string, msg *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[clientID] = append(f.sent[clientID], msg)
	return nil
}

func (f *fakeNet) Broadcast(msg *protocol.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, msg)
}

// pushRaw ставит в очередь сообщение с сырой полезной нагрузкой
func (f *fakeNet) pushRaw(clientID, msgType string, raw []byte) {
	msg := &protocol.Message{Type: msgType, Data: json.RawMessage(raw), ClientID: clientID}
	f.mu.Lock()
	f.queue = append(f.queue, network.InboundMessage{ClientID: clientID, Msg: msg})
	f.mu.Unlock()
}

func (f *fakeNet) Disconnect(clientID string, reason error) {}

func (f *fakeNet) NoteDecodeError(clientID string) {
	f.mu.Lock()
	f.decodeNotes[clientID]++
	f.mu.Unlock()
}

func (f *fakeNet) take(clientID string) []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent[clientID]
	f.sent[clientID] = nil
	return out
}

func (f *fakeNet) byType(clientID, msgType string) []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Message
	for _, m := range f.sent[clientID] {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

// fakePhys записывает вызовы физического сервиса
type fakePhys struct {
	mu      gosync.Mutex
	nextID  physics.Handle
	origins map[physics.Handle]coords.Position
}

func newFakePhys() *fakePhys {
	return &fakePhys{nextID: 1, origins: make(map[physics.Handle]coords.Position)}
}

func (f *fakePhys) CreateBody(structureID uint64) physics.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.nextID
	f.nextID++
	return h
}

func (f *fakePhys) UpdateCollider(h physics.Handle, c *world.ChunkCollider) {}

func (f *fakePhys) SetFrameOrigin(h physics.Handle, origin coords.Position) {
	f.mu.Lock()
	f.origins[h] = origin
	f.mu.Unlock()
}

func (f *fakePhys) RemoveBody(h physics.Handle) {}

// fakePos считает рассылки позиций по UDP
type fakePos struct {
	sends int
}

func (f *fakePos) Drain() map[string]protocol.EntityPosition { return nil }

func (f *fakePos) SendPositions(clientID string, upd *protocol.PositionUpdateMessage) error {
	f.sends++
	return nil
}

func (f *fakePos) Forget(clientID string) {}

func newTestGame(t *testing.T) (*Game, *fakeNet) {
	t.Helper()
	return newTestGameWith(t, physics.NewBoxWorld(), nil)
}

func newTestGameWith(t *testing.T, phys physics.Capability, udp posChannel) (*Game, *fakeNet) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.MOTD = "Добро пожаловать в Cosmos!"
	cfg.Interest.ScanEvery = 1

	st := world.NewStore(block.DefaultRegistry(), cfg.World.Seed)
	st.SetGenerator(world.KindShip, &world.EmptyGenerator{})
	st.SetGenerator(world.KindPlanet, world.NewGrassSurfaceGenerator(cfg.World.Seed))
	st.SetGenerator(world.KindAsteroid, world.NewAsteroidGenerator(cfg.World.Seed))

	frames := frame.NewManager(cfg.Frames.MergeThreshold, cfg.Frames.SplitThreshold)
	im := interest.NewManager(cfg.Interest.LoadRadius, cfg.Interest.UnloadRadius, cfg.Interest.EntityCap)
	net := newFakeNet()
	producer := sync.NewProducer(st, net, cfg.Sync.BatchSize)
	rebuild := world.NewRebuildScheduler(st, cfg.World.RebuildBudgetTick)

	g := NewGame(cfg, st, frames, im, producer, rebuild, phys,
		net, udp, nil, storage.NewMemoryPositionRepo())
	return g, net
}

func join(t *testing.T, g *Game, net *fakeNet, clientID, name string) *Player {
	t.Helper()
	net.push(clientID, protocol.MsgTypeJoin, protocol.JoinRequest{Name: name})
	require.NoError(t, g.Step())

	p, ok := g.PlayerByClient(clientID)
	require.True(t, ok)
	return p
}

func TestJoinFlow(t *testing.T) {
	g, net := newTestGame(t)

	p := join(t, g, net, "c1", "Алиса")
	assert.Equal(t, 1, g.PlayerCount())
	assert.NotZero(t, p.FrameID())

	msgs := net.byType("c1", protocol.MsgTypeJoinResponse)
	require.Len(t, msgs, 1)
	var resp protocol.JoinResponse
	require.NoError(t, msgs[0].DecodeData(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, p.ID, resp.PlayerID)

	motd := net.byType("c1", protocol.MsgTypeMOTD)
	require.Len(t, motd, 1)
	var m protocol.MOTDMessage
	require.NoError(t, motd[0].DecodeData(&m))
	assert.Equal(t, "Добро пожаловать в Cosmos!", m.Motd)
}

func TestCreateShipSpawnsWithCore(t *testing.T) {
	g, net := newTestGame(t)
	join(t, g, net, "c1", "Боб")
	net.take("c1")

	net.push("c1", protocol.MsgTypeCreateShip, protocol.CreateShipRequest{Name: "Жемчужина"})
	require.NoError(t, g.Step())

	require.Equal(t, 1, g.store.Count())
	ship := g.store.All()[0]
	assert.Equal(t, world.KindShip, ship.Kind)
	assert.Equal(t, "Жемчужина", ship.Name)
	assert.Equal(t, 1, ship.BlockCount())
	_, hasCore := ship.CorePos()
	assert.True(t, hasCore)

	// Корабль рядом с игроком: следующий скан интереса его раздаёт
	require.NoError(t, g.Step())
	spawns := net.byType("c1", protocol.MsgTypeStructureSpawn)
	require.NotEmpty(t, spawns)
	var spawn protocol.StructureSpawnMessage
	require.NoError(t, spawns[0].DecodeData(&spawn))
	assert.Equal(t, ship.ID, spawn.StructureID)
	assert.Equal(t, "ship", spawn.Kind)
	assert.Equal(t, vec.Vec3{X: 4, Y: 4, Z: 4}, spawn.DimsChunks)
}

func TestBlockPlaceDesyncRejected(t *testing.T) {
	g, net := newTestGame(t)
	join(t, g, net, "c1", "Ева")

	net.push("c1", protocol.MsgTypeCreateShip, protocol.CreateShipRequest{})
	require.NoError(t, g.Step())
	ship := g.store.All()[0]
	net.take("c1")

	// Клиент думает, что на месте ядра воздух
	corePos, _ := ship.CorePos()
	net.push("c1", protocol.MsgTypeBlockPlace, protocol.BlockPlaceRequest{
		StructureID: ship.ID,
		Pos:         corePos,
		BlockID:     uint16(block.StoneID),
		ExpectedID:  uint16(block.AirID),
	})
	require.NoError(t, g.Step())

	warnings := net.byType("c1", protocol.MsgTypeServerMessage)
	require.Len(t, warnings, 1)

	b, err := ship.BlockAt(corePos)
	require.NoError(t, err)
	assert.Equal(t, block.ShipCoreID, b.ID)
}

func TestCoreBreakMeltsShipDown(t *testing.T) {
	g, net := newTestGame(t)
	p := join(t, g, net, "c1", "Ким")

	net.push("c1", protocol.MsgTypeCreateShip, protocol.CreateShipRequest{})
	require.NoError(t, g.Step())
	ship := g.store.All()[0]
	corePos, _ := ship.CorePos()

	// Раздаём корабль клиенту
	require.NoError(t, g.Step())
	net.take("c1")

	// Ядро — единственный блок: снятие разрешено и запускает распад
	net.push("c1", protocol.MsgTypeBlockBreak, protocol.BlockBreakRequest{
		StructureID: ship.ID,
		Pos:         corePos,
	})
	require.NoError(t, g.Step())

	assert.Equal(t, 0, g.store.Count())

	despawns := net.byType("c1", protocol.MsgTypeStructureDespawn)
	require.NotEmpty(t, despawns)
	var d protocol.StructureDespawnMessage
	require.NoError(t, despawns[0].DecodeData(&d))
	assert.Equal(t, protocol.DespawnMeltingDown, d.Reason)

	// Распавшийся корабль освобождает слот в записи загрузки
	rec, ok := g.interest.Record(p.ID)
	require.True(t, ok)
	assert.False(t, rec.Contains(ship.ID))
	assert.False(t, g.interest.Observed(ship.ID))
}

func TestCoreProtectedWhileHullRemains(t *testing.T) {
	g, net := newTestGame(t)
	join(t, g, net, "c1", "Ли")

	net.push("c1", protocol.MsgTypeCreateShip, protocol.CreateShipRequest{})
	require.NoError(t, g.Step())
	ship := g.store.All()[0]
	corePos, _ := ship.CorePos()

	hullPos := vec.Vec3{X: corePos.X + 1, Y: corePos.Y, Z: corePos.Z}
	net.push("c1", protocol.MsgTypeBlockPlace, protocol.BlockPlaceRequest{
		StructureID: ship.ID,
		Pos:         hullPos,
		BlockID:     uint16(block.ShipHullID),
		ExpectedID:  uint16(block.AirID),
	})
	require.NoError(t, g.Step())
	net.take("c1")

	net.push("c1", protocol.MsgTypeBlockBreak, protocol.BlockBreakRequest{
		StructureID: ship.ID,
		Pos:         corePos,
	})
	require.NoError(t, g.Step())

	// Корабль жив, клиент получил предупреждение
	assert.Equal(t, 1, g.store.Count())
	assert.False(t, ship.IsMeltingDown())
	warnings := net.byType("c1", protocol.MsgTypeServerMessage)
	require.Len(t, warnings, 1)

	b, err := ship.BlockAt(corePos)
	require.NoError(t, err)
	assert.Equal(t, block.ShipCoreID, b.ID)
}

func TestDisconnectSavesPosition(t *testing.T) {
	g, net := newTestGame(t)
	p := join(t, g, net, "c1", "Мия")
	require.NoError(t, g.Step())

	g.HandleDisconnect("c1")
	assert.Equal(t, 0, g.PlayerCount())

	// Повторный вход под тем же именем: новый игрок, позиция из репозитория
	p2 := join(t, g, net, "c2", "Мия")
	assert.NotEqual(t, p.ID, p2.ID)

	removes := 0
	for _, m := range net.broadcast {
		if m.Type == protocol.MsgTypePlayerRemove {
			removes++
		}
	}
	assert.Equal(t, 1, removes)
}

func TestRequestChunksCentersOnPlayer(t *testing.T) {
	g, net := newTestGame(t)

	// Планета велика: материализуется только окрестность игрока
	dims := vec.Vec3{X: 16, Y: 16, Z: 16}
	planet := g.store.CreateStructure(world.KindPlanet, "Terra", dims, coords.Position{}, 42)
	g.frames.AddStructure(planet, planet.Position())

	// Игрок в центре планеты
	join(t, g, net, "c1", "Ада")

	if _, ok := planet.Chunk(vec.Vec3{X: 8, Y: 8, Z: 8}); !ok {
		t.Fatal("Центральный чанк рядом с игроком не материализован")
	}
	if _, ok := planet.Chunk(vec.Vec3{}); ok {
		t.Error("Угловой чанк вдали от игрока материализован зря")
	}
	if _, ok := planet.Chunk(vec.Vec3{X: 15, Y: 15, Z: 15}); ok {
		t.Error("Дальний угловой чанк материализован зря")
	}
}

func TestPayloadDecodeErrorsCounted(t *testing.T) {
	g, net := newTestGame(t)

	// Валидный конверт с мусорной полезной нагрузкой
	net.pushRaw("c1", protocol.MsgTypeJoin, []byte(`{"name":`))
	require.NoError(t, g.Step())

	assert.Equal(t, 1, net.decodeNotes["c1"])
	assert.Equal(t, 0, g.PlayerCount())

	net.pushRaw("c1", protocol.MsgTypeBlockBreak, []byte(`[`))
	require.NoError(t, g.Step())
	assert.Equal(t, 2, net.decodeNotes["c1"])
}

func TestFrameMergeUpdatesPhysicsOrigins(t *testing.T) {
	fp := newFakePhys()
	g, net := newTestGameWith(t, fp, nil)

	// Второй игрок входит далеко от первого — в собственном фрейме
	require.NoError(t, g.positions.Save(context.Background(), &storage.PlayerPosition{
		PlayerID: stablePlayerKey("Борис"),
		Position: coords.NewPosition(vec.Vec3{}, vec.Vec3Float{X: 9000}),
	}))
	join(t, g, net, "c1", "Анна")
	pB := join(t, g, net, "c2", "Борис")
	require.NotEqual(t, uint64(0), pB.FrameID())
	require.Equal(t, 2, g.frames.FrameCount())

	net.push("c2", protocol.MsgTypeCreateShip, protocol.CreateShipRequest{})
	require.NoError(t, g.Step())
	ship := g.store.All()[0]
	ship.SetBodyHandle(uint64(fp.CreateBody(ship.ID)))
	require.NoError(t, g.Step()) // Переназначения создания уже слиты

	// Борис приходит к Анне: фреймы сливаются, корабль перевыражается
	pB.SetPosition(coords.NewPosition(vec.Vec3{}, vec.Vec3Float{X: -9000}))
	require.NoError(t, g.Step())
	require.Equal(t, 1, g.frames.FrameCount())

	origin, ok := fp.origins[physics.Handle(ship.BodyHandle())]
	require.True(t, ok, "Телу корабля не сообщён origin нового фрейма")
	assert.Equal(t, coords.Position{}, origin)
}

func TestPositionFlushCadence(t *testing.T) {
	fp := &fakePos{}
	g, net := newTestGameWith(t, physics.NewBoxWorld(), fp)
	g.cfg.Sync.FlushEveryMs = 100 // При 20 тиках/с — раз в два тика

	join(t, g, net, "c1", "Оля")  // Тик 0: рассылка
	require.NoError(t, g.Step()) // Тик 1: пропуск
	require.NoError(t, g.Step()) // Тик 2: рассылка
	require.NoError(t, g.Step()) // Тик 3: пропуск

	assert.Equal(t, 2, fp.sends)
}
