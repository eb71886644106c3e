package sync

import (
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/interest"
	"github.com/lucaspoffo/Cosmos/internal/protocol"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world"
	"github.com/lucaspoffo/Cosmos/internal/world/block"
)

// fakeSender собирает отправленные сообщения по клиентам
type fakeSender struct {
	mu   gosync.Mutex
	sent map[string][]*protocol.Message
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][]*protocol.Message)}
}

func (f *fakeSender) Send(clientID string, msg *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[clientID] = append(f.sent[clientID], msg)
	return nil
}

func (f *fakeSender) take(clientID string) []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent[clientID]
	f.sent[clientID] = nil
	return out
}

func types(msgs []*protocol.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func newSyncStore(t *testing.T) (*world.Store, *world.Structure) {
	t.Helper()
	st := world.NewStore(block.DefaultRegistry(), 7)
	st.SetGenerator(world.KindShip, &world.EmptyGenerator{})

	ship := st.CreateStructure(world.KindShip, "тест", vec.Vec3{X: 1, Y: 1, Z: 1}, coords.Position{}, 7)
	_, err := ship.SetBlock(vec.Vec3{X: 1, Y: 1, Z: 1}, block.New(block.ShipCoreID), st.Registry())
	require.NoError(t, err)
	return st, ship
}

func TestSpawnBeforeReference(t *testing.T) {
	st, ship := newSyncStore(t)
	sender := newFakeSender()
	p := NewProducer(st, sender, 8)
	p.AddClient("c1", 100)

	// Изменение блока до входа структуры в интерес — не уходит
	p.FlushTick(nil, []world.BlockChange{{StructureID: ship.ID, Pos: vec.Vec3{X: 2}}}, nil, nil)
	assert.Empty(t, sender.take("c1"))

	// Вход в интерес: spawn, затем данные чанков
	p.FlushTick([]interest.Event{
		{Kind: interest.EventEnter, ObserverID: 100, StructureID: ship.ID},
	}, nil, nil, nil)

	msgs := sender.take("c1")
	require.NotEmpty(t, msgs)
	assert.Equal(t, protocol.MsgTypeStructureSpawn, msgs[0].Type)
	for _, m := range msgs[1:] {
		assert.Equal(t, protocol.MsgTypeChunkData, m.Type)
	}

	// После spawn изменения уходят
	_, err := ship.SetBlock(vec.Vec3{X: 3, Y: 1, Z: 1}, block.New(block.ShipHullID), st.Registry())
	require.NoError(t, err)
	p.FlushTick(nil, []world.BlockChange{{
		StructureID: ship.ID,
		Pos:         vec.Vec3{X: 3, Y: 1, Z: 1},
		New:         block.New(block.ShipHullID),
	}}, nil, nil)

	msgs = sender.take("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.MsgTypeBlockChanged, msgs[0].Type)
}

func TestLeaveSendsDespawn(t *testing.T) {
	st, ship := newSyncStore(t)
	sender := newFakeSender()
	p := NewProducer(st, sender, 8)
	p.AddClient("c1", 100)

	p.FlushTick([]interest.Event{
		{Kind: interest.EventEnter, ObserverID: 100, StructureID: ship.ID},
	}, nil, nil, nil)
	sender.take("c1")

	p.FlushTick([]interest.Event{
		{Kind: interest.EventLeave, ObserverID: 100, StructureID: ship.ID},
	}, nil, nil, nil)

	msgs := sender.take("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.MsgTypeStructureDespawn, msgs[0].Type)

	var despawn protocol.StructureDespawnMessage
	require.NoError(t, msgs[0].DecodeData(&despawn))
	assert.Equal(t, protocol.DespawnOutOfRange, despawn.Reason)

	view, ok := p.View("c1")
	require.True(t, ok)
	assert.False(t, view.Knows(ship.ID))
}

func TestRequestEntityRecovery(t *testing.T) {
	st, ship := newSyncStore(t)
	sender := newFakeSender()
	p := NewProducer(st, sender, 8)
	p.AddClient("c1", 100)

	consumer := NewConsumer(block.DefaultRegistry())

	// Клиент получает изменение для неизвестной структуры: оно
	// буферизуется, уходит ровно один RequestEntity
	changed, err := protocol.NewMessage(protocol.MsgTypeBlockChanged, protocol.BlockChangedMessage{
		Changes: []protocol.BlockChange{
			{StructureID: ship.ID, Pos: vec.Vec3{X: 5, Y: 1, Z: 1}, BlockID: uint16(block.ShipHullID)},
			{StructureID: ship.ID, Pos: vec.Vec3{X: 6, Y: 1, Z: 1}, BlockID: uint16(block.ShipHullID)},
		},
	})
	require.NoError(t, err)
	require.NoError(t, consumer.Apply(changed))

	outbox := consumer.DrainOutbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, protocol.MsgTypeRequestEntity, outbox[0].Type)
	assert.Equal(t, 2, consumer.PendingCount(ship.ID))

	// Повторное неизвестное изменение не порождает второй запрос
	require.NoError(t, consumer.Apply(changed))
	assert.Empty(t, consumer.DrainOutbox())

	// Сервер к этому моменту уже применил изменения у себя
	_, err = ship.SetBlock(vec.Vec3{X: 5, Y: 1, Z: 1}, block.New(block.ShipHullID), st.Registry())
	require.NoError(t, err)
	_, err = ship.SetBlock(vec.Vec3{X: 6, Y: 1, Z: 1}, block.New(block.ShipHullID), st.Registry())
	require.NoError(t, err)

	// Сервер отвечает свежим spawn; буфер применяется после него
	var req protocol.RequestEntityMessage
	require.NoError(t, outbox[0].DecodeData(&req))
	require.NoError(t, p.HandleRequestEntity("c1", req.StructureID))

	for _, m := range sender.take("c1") {
		require.NoError(t, consumer.Apply(m))
	}

	b, err := consumer.BlockAt(ship.ID, vec.Vec3{X: 5, Y: 1, Z: 1})
	require.NoError(t, err)
	assert.Equal(t, block.ShipHullID, b.ID)

	// Ядро пришло в составе чанка
	core, err := consumer.BlockAt(ship.ID, vec.Vec3{X: 1, Y: 1, Z: 1})
	require.NoError(t, err)
	assert.Equal(t, block.ShipCoreID, core.ID)

	assert.Equal(t, 0, consumer.PendingCount(ship.ID))
}

func TestConsumerDespawnForgets(t *testing.T) {
	st, ship := newSyncStore(t)
	sender := newFakeSender()
	p := NewProducer(st, sender, 8)
	p.AddClient("c1", 100)

	consumer := NewConsumer(block.DefaultRegistry())

	view, _ := p.View("c1")
	require.NoError(t, p.SendSpawn("c1", view, ship.ID))
	for _, m := range sender.take("c1") {
		require.NoError(t, consumer.Apply(m))
	}
	assert.Equal(t, 1, consumer.StructureCount())

	p.SendDespawn(ship.ID, protocol.DespawnMeltingDown)
	for _, m := range sender.take("c1") {
		require.NoError(t, consumer.Apply(m))
	}
	assert.Equal(t, 0, consumer.StructureCount())
}
