package world

import (
	"sync"

	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world/block"
)

// ChunkSize — размер чанка в блоках вдоль каждой оси
const ChunkSize = 16

// BlocksPerChunk — общее число записей блоков в чанке
const BlocksPerChunk = ChunkSize * ChunkSize * ChunkSize

// ChunkState описывает состояние жизненного цикла чанка
type ChunkState int

const (
	// ChunkUnpopulated — чанк создан, но блоки ещё не сгенерированы
	ChunkUnpopulated ChunkState = iota
	// ChunkPopulated — блоки заполнены, меш и физика актуальны
	ChunkPopulated
	// ChunkMeshDirty — требуется перестроение меша
	ChunkMeshDirty
	// ChunkPhysicsDirty — требуется перестроение коллизии
	ChunkPhysicsDirty
	// ChunkClean — меш и физика перестроены после последнего изменения
	ChunkClean
)

// String возвращает строковое представление состояния
func (s ChunkState) String() string {
	switch s {
	case ChunkUnpopulated:
		return "unpopulated"
	case ChunkPopulated:
		return "populated"
	case ChunkMeshDirty:
		return "mesh_dirty"
	case ChunkPhysicsDirty:
		return "physics_dirty"
	case ChunkClean:
		return "clean"
	default:
		return "unknown"
	}
}

// ChunkData — плотный массив записей блоков чанка [x][y][z].
// Выделен в отдельный тип: генераторы заполняют его как приватный
// scratch-буфер и результат фиксируется в чанке только если чанк всё ещё
// нужен (отменённая генерация просто выбрасывает буфер).
type ChunkData [ChunkSize][ChunkSize][ChunkSize]block.Block

// Chunk представляет кубический участок структуры ChunkSize^3 блоков
type Chunk struct {
	Coords vec.Vec3 // Координаты чанка внутри структуры

	mu           sync.RWMutex
	blocks       ChunkData
	populated    bool
	meshDirty    bool
	physicsDirty bool
	nonAirCount  int
}

// NewChunk создаёт незаполненный чанк с указанными координатами
func NewChunk(coords vec.Vec3) *Chunk {
	return &Chunk{Coords: coords}
}

// inBounds проверяет, что локальная координата лежит внутри чанка
func inBounds(local vec.Vec3) bool {
	return local.X >= 0 && local.X < ChunkSize &&
		local.Y >= 0 && local.Y < ChunkSize &&
		local.Z >= 0 && local.Z < ChunkSize
}

// Block возвращает запись блока по локальным координатам
func (c *Chunk) Block(local vec.Vec3) block.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !inBounds(local) {
		return block.Block{}
	}
	return c.blocks[local.X][local.Y][local.Z]
}

// SetBlock устанавливает запись блока по локальным координатам и помечает
// чанк требующим перестроения меша и физики
func (c *Chunk) SetBlock(local vec.Vec3, b block.Block) error {
	if !inBounds(local) {
		return ErrInvalidCoordinate
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.blocks[local.X][local.Y][local.Z]
	c.blocks[local.X][local.Y][local.Z] = b

	if old.IsAir() && !b.IsAir() {
		c.nonAirCount++
	} else if !old.IsAir() && b.IsAir() {
		c.nonAirCount--
	}

	// Авторитетная правка материализует содержимое: чанк считается
	// заполненным и не перезаписывается поздней генерацией
	c.populated = true
	c.meshDirty = true
	c.physicsDirty = true
	return nil
}

// Commit фиксирует результат генерации в чанке. Чанк становится
// заполненным и сразу требует перестроения меша и физики.
func (c *Chunk) Commit(data *ChunkData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks = *data
	c.populated = true
	c.meshDirty = true
	c.physicsDirty = true

	c.nonAirCount = 0
	for x := 0; x < ChunkSize; x++ {
		for y := 0; y < ChunkSize; y++ {
			for z := 0; z < ChunkSize; z++ {
				if !data[x][y][z].IsAir() {
					c.nonAirCount++
				}
			}
		}
	}
}

// Snapshot возвращает копию данных чанка (для сериализации и воркеров)
func (c *Chunk) Snapshot() ChunkData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks
}

// State возвращает текущее состояние жизненного цикла
func (c *Chunk) State() ChunkState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case !c.populated:
		return ChunkUnpopulated
	case c.meshDirty:
		return ChunkMeshDirty
	case c.physicsDirty:
		return ChunkPhysicsDirty
	default:
		return ChunkClean
	}
}

// IsPopulated проверяет, заполнен ли чанк
func (c *Chunk) IsPopulated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.populated
}

// NeedsMeshRebuild проверяет, требуется ли перестроение меша
func (c *Chunk) NeedsMeshRebuild() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.populated && c.meshDirty
}

// NeedsPhysicsRebuild проверяет, требуется ли перестроение коллизии
func (c *Chunk) NeedsPhysicsRebuild() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.populated && c.physicsDirty
}

// SetMeshDirty помечает чанк требующим перестроения меша
func (c *Chunk) SetMeshDirty() {
	c.mu.Lock()
	c.meshDirty = true
	c.mu.Unlock()
}

// SetPhysicsDirty помечает чанк требующим перестроения коллизии
func (c *Chunk) SetPhysicsDirty() {
	c.mu.Lock()
	c.physicsDirty = true
	c.mu.Unlock()
}

// ClearMeshDirty снимает флаг после перестроения меша
func (c *Chunk) ClearMeshDirty() {
	c.mu.Lock()
	c.meshDirty = false
	c.mu.Unlock()
}

// ClearPhysicsDirty снимает флаг после перестроения коллизии
func (c *Chunk) ClearPhysicsDirty() {
	c.mu.Lock()
	c.physicsDirty = false
	c.mu.Unlock()
}

// NonAirCount возвращает число непустых блоков в чанке
func (c *Chunk) NonAirCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nonAirCount
}
