// Package sync реализует авторитетную диф-синхронизацию: сервер ведёт
// представление каждого клиента и шлёт spawn/despawn/chunk/block-диффы,
// клиент применяет их и восстанавливается через RequestEntity.
package sync

import (
	gosync "sync"

	"github.com/lucaspoffo/Cosmos/internal/frame"
	"github.com/lucaspoffo/Cosmos/internal/interest"
	"github.com/lucaspoffo/Cosmos/internal/logging"
	"github.com/lucaspoffo/Cosmos/internal/protocol"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world"
)

// Sender отправляет сообщение конкретному клиенту
type Sender interface {
	Send(clientID string, msg *protocol.Message) error
}

// ClientView — серверное представление того, что клиент уже получил
type ClientView struct {
	PlayerID   uint64
	structures map[uint64]struct{}
	chunksSent map[world.ChunkKey]struct{}
}

// Knows проверяет, получал ли клиент spawn структуры
func (v *ClientView) Knows(structureID uint64) bool {
	_, ok := v.structures[structureID]
	return ok
}

// Producer превращает события мира в сообщения клиентам. Инвариант
// порядка: StructureSpawn уходит раньше любых ссылок на структуру,
// потому что диффы фильтруются по представлению клиента.
type Producer struct {
	mu gosync.Mutex

	store  *world.Store
	sender Sender

	views   map[string]*ClientView // clientID -> представление
	players map[uint64]string      // playerID -> clientID

	batchSize int
}

// NewProducer создаёт продюсер синхронизации
func NewProducer(store *world.Store, sender Sender, batchSize int) *Producer {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Producer{
		store:     store,
		sender:    sender,
		views:     make(map[string]*ClientView),
		players:   make(map[uint64]string),
		batchSize: batchSize,
	}
}

// AddClient регистрирует представление нового клиента
func (p *Producer) AddClient(clientID string, playerID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.views[clientID] = &ClientView{
		PlayerID:   playerID,
		structures: make(map[uint64]struct{}),
		chunksSent: make(map[world.ChunkKey]struct{}),
	}
	p.players[playerID] = clientID
}

// RemoveClient уничтожает представление отключившегося клиента
func (p *Producer) RemoveClient(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.views[clientID]; ok {
		delete(p.players, v.PlayerID)
		delete(p.views, clientID)
	}
}

// View возвращает представление клиента
func (p *Producer) View(clientID string) (*ClientView, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.views[clientID]
	return v, ok
}

// FlushTick рассылает диффы, накопленные за тик. Порядок фиксирован:
// входы интереса (spawn) → готовые чанки → изменения блоков →
// переносы кадров → выходы интереса (despawn).
func (p *Producer) FlushTick(
	events []interest.Event,
	changes []world.BlockChange,
	ready []world.ChunkReady,
	reassigned []frame.Reassignment,
) {
	for _, ev := range events {
		if ev.Kind != interest.EventEnter {
			continue
		}
		p.handleEnter(ev)
	}

	p.flushReadyChunks(ready)
	p.flushBlockChanges(changes)
	p.flushReassignments(reassigned)

	for _, ev := range events {
		if ev.Kind != interest.EventLeave {
			continue
		}
		p.handleLeave(ev)
	}
}

func (p *Producer) clientForObserver(observerID uint64) (string, *ClientView, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	clientID, ok := p.players[observerID]
	if !ok {
		return "", nil, false
	}
	v, ok := p.views[clientID]
	return clientID, v, ok
}

func (p *Producer) handleEnter(ev interest.Event) {
	clientID, view, ok := p.clientForObserver(ev.ObserverID)
	if !ok {
		return
	}
	if err := p.SendSpawn(clientID, view, ev.StructureID); err != nil {
		logging.Warn("Не удалось отправить spawn %d клиенту %s: %v", ev.StructureID, clientID, err)
	}
}

func (p *Producer) handleLeave(ev interest.Event) {
	clientID, view, ok := p.clientForObserver(ev.ObserverID)
	if !ok || !view.Knows(ev.StructureID) {
		return
	}

	p.mu.Lock()
	delete(view.structures, ev.StructureID)
	for key := range view.chunksSent {
		if key.StructureID == ev.StructureID {
			delete(view.chunksSent, key)
		}
	}
	p.mu.Unlock()

	msg, err := protocol.NewMessage(protocol.MsgTypeStructureDespawn, protocol.StructureDespawnMessage{
		StructureID: ev.StructureID,
		Reason:      protocol.DespawnOutOfRange,
	})
	if err != nil {
		return
	}
	_ = p.sender.Send(clientID, msg)
}

// SendSpawn отправляет клиенту spawn структуры и все уже
// материализованные чанки. Используется и как ответ на RequestEntity.
func (p *Producer) SendSpawn(clientID string, view *ClientView, structureID uint64) error {
	s, ok := p.store.Get(structureID)
	if !ok {
		return world.ErrUnknownStructure
	}

	spawn := protocol.StructureSpawnMessage{
		StructureID: s.ID,
		Kind:        s.Kind.String(),
		FrameID:     s.FrameID(),
		Position:    s.Position(),
		Rotation:    s.Rotation(),
		DimsChunks:  s.Dims(),
		Seed:        s.Seed(),
		Temperature: world.DefaultTemperature,
	}
	msg, err := protocol.NewMessage(protocol.MsgTypeStructureSpawn, spawn)
	if err != nil {
		return err
	}
	if err := p.sender.Send(clientID, msg); err != nil {
		return err
	}

	p.mu.Lock()
	view.structures[structureID] = struct{}{}
	p.mu.Unlock()

	// Уже заполненные чанки уходят сразу за spawn
	for coord, c := range s.Chunks() {
		if !c.IsPopulated() {
			continue
		}
		if err := p.sendChunk(clientID, view, s.ID, coord, c); err != nil {
			return err
		}
	}
	return nil
}

func (p *Producer) sendChunk(clientID string, view *ClientView, structureID uint64, coord vec.Vec3, c *world.Chunk) error {
	key := world.ChunkKey{StructureID: structureID, Coord: coord}

	p.mu.Lock()
	if _, sent := view.chunksSent[key]; sent {
		p.mu.Unlock()
		return nil
	}
	view.chunksSent[key] = struct{}{}
	p.mu.Unlock()

	snap := c.Snapshot()
	msg, err := protocol.NewMessage(protocol.MsgTypeChunkData, protocol.ChunkDataMessage{
		StructureID: structureID,
		Coord:       coord,
		Blocks:      protocol.EncodeChunkBlocks(&snap),
		NonAir:      c.NonAirCount(),
	})
	if err != nil {
		return err
	}
	return p.sender.Send(clientID, msg)
}

func (p *Producer) flushReadyChunks(ready []world.ChunkReady) {
	if len(ready) == 0 {
		return
	}

	p.mu.Lock()
	clients := make(map[string]*ClientView, len(p.views))
	for id, v := range p.views {
		clients[id] = v
	}
	p.mu.Unlock()

	for _, r := range ready {
		s, ok := p.store.Get(r.StructureID)
		if !ok {
			continue
		}
		c, ok := s.Chunk(r.Coord)
		if !ok {
			continue
		}

		for clientID, view := range clients {
			p.mu.Lock()
			knows := view.Knows(r.StructureID)
			p.mu.Unlock()
			if !knows {
				continue // Spawn раньше ссылок
			}
			if err := p.sendChunk(clientID, view, r.StructureID, r.Coord, c); err != nil {
				logging.Warn("Не удалось отправить чанк клиенту %s: %v", clientID, err)
			}
		}
	}
}

func (p *Producer) flushBlockChanges(changes []world.BlockChange) {
	if len(changes) == 0 {
		return
	}

	p.mu.Lock()
	clients := make(map[string]*ClientView, len(p.views))
	for id, v := range p.views {
		clients[id] = v
	}
	p.mu.Unlock()

	for clientID, view := range clients {
		var batch []protocol.BlockChange
		for _, ch := range changes {
			p.mu.Lock()
			knows := view.Knows(ch.StructureID)
			p.mu.Unlock()
			if !knows {
				continue
			}
			batch = append(batch, protocol.BlockChange{
				StructureID: ch.StructureID,
				Pos:         ch.Pos,
				BlockID:     uint16(ch.New.ID),
				Rotation:    uint8(ch.New.Rotation),
				Health:      ch.New.Health,
			})
			if len(batch) >= p.batchSize {
				p.sendBlockBatch(clientID, batch)
				batch = nil
			}
		}
		if len(batch) > 0 {
			p.sendBlockBatch(clientID, batch)
		}
	}
}

func (p *Producer) sendBlockBatch(clientID string, batch []protocol.BlockChange) {
	msg, err := protocol.NewMessage(protocol.MsgTypeBlockChanged, protocol.BlockChangedMessage{Changes: batch})
	if err != nil {
		return
	}
	if err := p.sender.Send(clientID, msg); err != nil {
		logging.Warn("Не удалось отправить изменения блоков клиенту %s: %v", clientID, err)
	}
}

func (p *Producer) flushReassignments(reassigned []frame.Reassignment) {
	if len(reassigned) == 0 {
		return
	}

	p.mu.Lock()
	clients := make(map[string]*ClientView, len(p.views))
	for id, v := range p.views {
		clients[id] = v
	}
	p.mu.Unlock()

	for _, r := range reassigned {
		payload := protocol.FrameReassignedMessage{
			EntityID:    r.EntityID,
			IsPlayer:    r.IsPlayer,
			FrameID:     r.FrameID,
			FrameOrigin: r.FrameOrigin,
			Local:       r.Local,
		}
		msg, err := protocol.NewMessage(protocol.MsgTypeFrameReassigned, payload)
		if err != nil {
			continue
		}

		for clientID, view := range clients {
			p.mu.Lock()
			relevant := r.IsPlayer || view.Knows(r.EntityID)
			p.mu.Unlock()
			if !relevant {
				continue
			}
			_ = p.sender.Send(clientID, msg)
		}
	}
}

// SendDespawn отправляет despawn с указанной причиной всем клиентам,
// знающим структуру (распад корабля, удаление сервером)
func (p *Producer) SendDespawn(structureID uint64, reason string) {
	p.mu.Lock()
	clients := make(map[string]*ClientView, len(p.views))
	for id, v := range p.views {
		clients[id] = v
	}
	p.mu.Unlock()

	msg, err := protocol.NewMessage(protocol.MsgTypeStructureDespawn, protocol.StructureDespawnMessage{
		StructureID: structureID,
		Reason:      reason,
	})
	if err != nil {
		return
	}

	for clientID, view := range clients {
		p.mu.Lock()
		knows := view.Knows(structureID)
		if knows {
			delete(view.structures, structureID)
			for key := range view.chunksSent {
				if key.StructureID == structureID {
					delete(view.chunksSent, key)
				}
			}
		}
		p.mu.Unlock()
		if knows {
			_ = p.sender.Send(clientID, msg)
		}
	}
}

// HandleRequestEntity отвечает на запрос неизвестной структуры свежим
// spawn. Это путь восстановления, а не ошибка.
func (p *Producer) HandleRequestEntity(clientID string, structureID uint64) error {
	p.mu.Lock()
	view, ok := p.views[clientID]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	logging.Debug("Клиент %s запросил структуру %d", clientID, structureID)
	return p.SendSpawn(clientID, view, structureID)
}
