package sync

import (
	gosync "sync"

	"github.com/lucaspoffo/Cosmos/internal/logging"
	"github.com/lucaspoffo/Cosmos/internal/protocol"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world"
	"github.com/lucaspoffo/Cosmos/internal/world/block"
)

// maxBufferedPerStructure ограничивает буфер диффов на неизвестную
// структуру; сверх лимита диффы отбрасываются — свежий spawn после
// RequestEntity всё равно несёт полное состояние
const maxBufferedPerStructure = 256

// bufferedDiff — дифф, пришедший раньше spawn своей структуры
type bufferedDiff struct {
	chunk  *protocol.ChunkDataMessage
	change *protocol.BlockChange
}

// Consumer — клиентская сторона синхронизации. Ведёт реплику
// структур и восстанавливается после потерянных spawn-сообщений:
// на неизвестную структуру уходит ровно один RequestEntity.
type Consumer struct {
	mu gosync.Mutex

	registry   *block.Registry
	structures map[uint64]*world.Structure

	pending   map[uint64][]bufferedDiff // Диффы до получения spawn
	requested map[uint64]bool           // RequestEntity уже отправлен

	outbox []*protocol.Message
}

// NewConsumer создаёт потребитель синхронизации
func NewConsumer(registry *block.Registry) *Consumer {
	return &Consumer{
		registry:   registry,
		structures: make(map[uint64]*world.Structure),
		pending:    make(map[uint64][]bufferedDiff),
		requested:  make(map[uint64]bool),
	}
}

// Structure возвращает реплику структуры
func (c *Consumer) Structure(id uint64) (*world.Structure, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.structures[id]
	return s, ok
}

// StructureCount возвращает число известных структур
func (c *Consumer) StructureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.structures)
}

// DrainOutbox забирает сообщения, которые клиент должен отправить
// серверу (запросы RequestEntity)
func (c *Consumer) DrainOutbox() []*protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.outbox
	c.outbox = nil
	return out
}

// Apply применяет входящее сообщение сервера к реплике
func (c *Consumer) Apply(msg *protocol.Message) error {
	switch msg.Type {
	case protocol.MsgTypeStructureSpawn:
		var spawn protocol.StructureSpawnMessage
		if err := msg.DecodeData(&spawn); err != nil {
			return err
		}
		return c.applySpawn(&spawn)

	case protocol.MsgTypeStructureDespawn:
		var despawn protocol.StructureDespawnMessage
		if err := msg.DecodeData(&despawn); err != nil {
			return err
		}
		c.applyDespawn(&despawn)
		return nil

	case protocol.MsgTypeChunkData:
		var chunk protocol.ChunkDataMessage
		if err := msg.DecodeData(&chunk); err != nil {
			return err
		}
		return c.applyChunk(&chunk)

	case protocol.MsgTypeBlockChanged:
		var changed protocol.BlockChangedMessage
		if err := msg.DecodeData(&changed); err != nil {
			return err
		}
		for i := range changed.Changes {
			c.applyBlockChange(&changed.Changes[i])
		}
		return nil

	default:
		return protocol.ErrUnknownMessageType
	}
}

func kindFromString(kind string) world.StructureKind {
	switch kind {
	case "planet":
		return world.KindPlanet
	case "asteroid":
		return world.KindAsteroid
	default:
		return world.KindShip
	}
}

func (c *Consumer) applySpawn(spawn *protocol.StructureSpawnMessage) error {
	c.mu.Lock()

	if _, exists := c.structures[spawn.StructureID]; exists {
		// Повторный spawn (ответ на RequestEntity после гонки) — реплика
		// пересоздаётся свежим состоянием
		delete(c.structures, spawn.StructureID)
	}

	s := world.NewStructure(spawn.StructureID, kindFromString(spawn.Kind), "", spawn.DimsChunks, spawn.Position)
	s.SetRotation(spawn.Rotation)
	s.SetSeed(spawn.Seed)
	s.SetFrameID(spawn.FrameID)
	c.structures[spawn.StructureID] = s

	buffered := c.pending[spawn.StructureID]
	delete(c.pending, spawn.StructureID)
	delete(c.requested, spawn.StructureID)
	c.mu.Unlock()

	// Буферизованные диффы применяются в исходном порядке
	for _, d := range buffered {
		if d.chunk != nil {
			if err := c.applyChunk(d.chunk); err != nil {
				return err
			}
		}
		if d.change != nil {
			c.applyBlockChange(d.change)
		}
	}
	return nil
}

func (c *Consumer) applyDespawn(despawn *protocol.StructureDespawnMessage) {
	c.mu.Lock()
	delete(c.structures, despawn.StructureID)
	delete(c.pending, despawn.StructureID)
	delete(c.requested, despawn.StructureID)
	c.mu.Unlock()

	if despawn.Reason == protocol.DespawnMeltingDown {
		logging.Debug("Структура %d распалась", despawn.StructureID)
	}
}

func (c *Consumer) applyChunk(chunk *protocol.ChunkDataMessage) error {
	c.mu.Lock()
	s, known := c.structures[chunk.StructureID]
	if !known {
		c.bufferLocked(chunk.StructureID, bufferedDiff{chunk: chunk})
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	data, err := protocol.DecodeChunkBlocks(chunk.Blocks)
	if err != nil {
		return err
	}
	return s.RestoreChunk(chunk.Coord, data, c.registry)
}

func (c *Consumer) applyBlockChange(change *protocol.BlockChange) {
	c.mu.Lock()
	s, known := c.structures[change.StructureID]
	if !known {
		c.bufferLocked(change.StructureID, bufferedDiff{change: change})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	b := block.Block{
		ID:       block.ID(change.BlockID),
		Rotation: block.Rotation(change.Rotation),
		Health:   change.Health,
	}
	if _, err := s.SetBlock(change.Pos, b, c.registry); err != nil {
		logging.Warn("Изменение блока %v структуры %d не применилось: %v",
			change.Pos, change.StructureID, err)
	}
}

// bufferLocked откладывает дифф и гарантирует единственный
// RequestEntity на структуру. Вызывается под c.mu.
func (c *Consumer) bufferLocked(structureID uint64, d bufferedDiff) {
	if len(c.pending[structureID]) < maxBufferedPerStructure {
		c.pending[structureID] = append(c.pending[structureID], d)
	}

	if c.requested[structureID] {
		return
	}
	c.requested[structureID] = true

	msg, err := protocol.NewMessage(protocol.MsgTypeRequestEntity, protocol.RequestEntityMessage{
		StructureID: structureID,
	})
	if err != nil {
		return
	}
	c.outbox = append(c.outbox, msg)
	logging.Debug("Неизвестная структура %d, запрошен spawn", structureID)
}

// PendingCount возвращает число отложенных диффов структуры
func (c *Consumer) PendingCount(structureID uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[structureID])
}

// BlockAt — удобный доступ к блоку реплики
func (c *Consumer) BlockAt(structureID uint64, pos vec.Vec3) (block.Block, error) {
	s, ok := c.Structure(structureID)
	if !ok {
		return block.Block{}, world.ErrUnknownStructure
	}
	return s.BlockAt(pos)
}
