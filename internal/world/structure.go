package world

import (
	"sync"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world/block"
)

// StructureKind определяет вид воксельной структуры
type StructureKind uint8

const (
	KindPlanet StructureKind = iota
	KindShip
	KindAsteroid
)

// String возвращает строковое представление вида структуры
func (k StructureKind) String() string {
	switch k {
	case KindPlanet:
		return "planet"
	case KindShip:
		return "ship"
	case KindAsteroid:
		return "asteroid"
	default:
		return "unknown"
	}
}

// Quat представляет ориентацию структуры
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// IdentityQuat возвращает нейтральную ориентацию
func IdentityQuat() Quat {
	return Quat{W: 1}
}

// Structure представляет воксельное тело: планету, корабль или астероид.
// Владеет набором чанков; чанки материализуются лениво при первом
// обращении наблюдателя и выгружаются при потере интереса (их
// сериализованная форма переживает выгрузку).
type Structure struct {
	ID   uint64
	Kind StructureKind
	Name string

	// Размеры в чанках вдоль каждой оси; фиксируются при создании
	dims vec.Vec3

	mu          sync.RWMutex
	chunks      map[vec.Vec3]*Chunk
	pos         coords.Position
	rot         Quat
	frameID     uint64
	bodyHandle  uint64 // Хэндл тела в физическом сервисе (0 — нет тела)
	blockCount  int
	corePos     *vec.Vec3
	meltingDown bool
	frozen      bool // Нет наблюдателей — структура не симулируется
	seed        int64
}

// NewStructure создаёт структуру без материализованных чанков
func NewStructure(id uint64, kind StructureKind, name string, dims vec.Vec3, pos coords.Position) *Structure {
	return &Structure{
		ID:     id,
		Kind:   kind,
		Name:   name,
		dims:   dims,
		chunks: make(map[vec.Vec3]*Chunk),
		pos:    pos.Normalize(),
		rot:    IdentityQuat(),
	}
}

// EntityID возвращает ID структуры как сетевой сущности
func (s *Structure) EntityID() uint64 { return s.ID }

// Dims возвращает размеры структуры в чанках
func (s *Structure) Dims() vec.Vec3 { return s.dims }

// BlocksWidth возвращает ширину структуры в блоках
func (s *Structure) BlocksWidth() int64 { return s.dims.X * ChunkSize }

// BlocksHeight возвращает высоту структуры в блоках
func (s *Structure) BlocksHeight() int64 { return s.dims.Y * ChunkSize }

// BlocksLength возвращает длину структуры в блоках
func (s *Structure) BlocksLength() int64 { return s.dims.Z * ChunkSize }

// IsWithinBlocks проверяет, лежит ли координата блока внутри структуры
func (s *Structure) IsWithinBlocks(pos vec.Vec3) bool {
	return pos.X >= 0 && pos.X < s.BlocksWidth() &&
		pos.Y >= 0 && pos.Y < s.BlocksHeight() &&
		pos.Z >= 0 && pos.Z < s.BlocksLength()
}

// ChunkCoordFor возвращает координату чанка, содержащего блок
func ChunkCoordFor(blockPos vec.Vec3) vec.Vec3 {
	return vec.Vec3{
		X: blockPos.X / ChunkSize,
		Y: blockPos.Y / ChunkSize,
		Z: blockPos.Z / ChunkSize,
	}
}

// LocalBlockCoord возвращает координату блока внутри его чанка
func LocalBlockCoord(blockPos vec.Vec3) vec.Vec3 {
	return vec.Vec3{
		X: blockPos.X % ChunkSize,
		Y: blockPos.Y % ChunkSize,
		Z: blockPos.Z % ChunkSize,
	}
}

// Chunk возвращает чанк по координате внутри структуры
func (s *Structure) Chunk(coord vec.Vec3) (*Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[coord]
	return c, ok
}

// ensureChunk возвращает существующий чанк или материализует пустой.
// Инвариант "один чанк на координату" держится на этой единственной
// точке создания.
func (s *Structure) ensureChunk(coord vec.Vec3) *Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.chunks[coord]; ok {
		return c
	}
	c := NewChunk(coord)
	s.chunks[coord] = c
	return c
}

// RestoreChunk материализует чанк из сохранённого содержимого.
// Счётчик блоков и позиция ядра восстанавливаются по данным.
func (s *Structure) RestoreChunk(coord vec.Vec3, data *ChunkData, reg *block.Registry) error {
	if coord.X < 0 || coord.X >= s.dims.X ||
		coord.Y < 0 || coord.Y >= s.dims.Y ||
		coord.Z < 0 || coord.Z >= s.dims.Z {
		return ErrInvalidCoordinate
	}

	c := s.ensureChunk(coord)
	prev := c.NonAirCount()
	c.Commit(data)

	s.mu.Lock()
	s.blockCount += c.NonAirCount() - prev
	for x := 0; x < ChunkSize; x++ {
		for y := 0; y < ChunkSize; y++ {
			for z := 0; z < ChunkSize; z++ {
				desc, ok := reg.Get(data[x][y][z].ID)
				if ok && desc.ShipCore {
					p := vec.Vec3{
						X: coord.X*ChunkSize + int64(x),
						Y: coord.Y*ChunkSize + int64(y),
						Z: coord.Z*ChunkSize + int64(z),
					}
					s.corePos = &p
				}
			}
		}
	}
	s.mu.Unlock()
	return nil
}

// DiscardChunk выгружает чанк из памяти. Данные не уничтожаются:
// сериализованная форма остаётся в хранилище.
func (s *Structure) DiscardChunk(coord vec.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.chunks[coord]; ok {
		s.blockCount -= c.NonAirCount()
		delete(s.chunks, coord)
	}
}

// Chunks возвращает снимок карты материализованных чанков
func (s *Structure) Chunks() map[vec.Vec3]*Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[vec.Vec3]*Chunk, len(s.chunks))
	for k, v := range s.chunks {
		out[k] = v
	}
	return out
}

// BlockAt возвращает запись блока по координатам внутри структуры
func (s *Structure) BlockAt(pos vec.Vec3) (block.Block, error) {
	if !s.IsWithinBlocks(pos) {
		return block.Block{}, ErrInvalidCoordinate
	}

	c, ok := s.Chunk(ChunkCoordFor(pos))
	if !ok {
		return block.Block{}, nil // Нематериализованный чанк читается как пустота
	}
	return c.Block(LocalBlockCoord(pos)), nil
}

// SetBlock устанавливает блок по координатам внутри структуры.
// Проверяет границы, защиту ядра корабля и ведёт счётчик блоков.
// Возвращает прежнюю запись блока.
func (s *Structure) SetBlock(pos vec.Vec3, b block.Block, reg *block.Registry) (block.Block, error) {
	if !s.IsWithinBlocks(pos) {
		return block.Block{}, ErrInvalidCoordinate
	}
	if !reg.IsValid(b.ID) {
		return block.Block{}, ErrUnknownBlock
	}

	c := s.ensureChunk(ChunkCoordFor(pos))
	local := LocalBlockCoord(pos)
	old := c.Block(local)

	if b.ID == old.ID && b.Rotation == old.Rotation && b.Health == old.Health {
		return old, nil // Запись не меняется — без dirty-пометок и событий
	}

	s.mu.Lock()
	// Ядро корабля нельзя удалить, пока существует хотя бы один другой блок
	if s.corePos != nil && s.corePos.Equals(pos) && b.IsAir() {
		if s.blockCount > 1 {
			s.mu.Unlock()
			return old, ErrCoreBlockProtected
		}
		// Ядро было последним блоком: структура начинает разрушаться
		s.corePos = nil
		s.meltingDown = true
	}

	if desc, ok := reg.Get(b.ID); ok && desc.ShipCore {
		p := pos
		s.corePos = &p
	}

	if old.IsAir() && !b.IsAir() {
		s.blockCount++
	} else if !old.IsAir() && b.IsAir() {
		s.blockCount--
	}
	s.mu.Unlock()

	if err := c.SetBlock(local, b); err != nil {
		return old, err
	}
	return old, nil
}

// BlockCount возвращает число непустых блоков в материализованных чанках
func (s *Structure) BlockCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockCount
}

// CorePos возвращает координату ядра корабля, если оно есть
func (s *Structure) CorePos() (vec.Vec3, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.corePos == nil {
		return vec.Vec3{}, false
	}
	return *s.corePos, true
}

// IsMeltingDown проверяет, разрушается ли структура после потери ядра
func (s *Structure) IsMeltingDown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meltingDown
}

// Position возвращает позицию структуры (относительно origin её фрейма)
func (s *Structure) Position() coords.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos
}

// SetPosition устанавливает позицию структуры с нормализацией
func (s *Structure) SetPosition(pos coords.Position) {
	s.mu.Lock()
	s.pos = pos.Normalize()
	s.mu.Unlock()
}

// Rotation возвращает ориентацию структуры
func (s *Structure) Rotation() Quat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rot
}

// SetRotation устанавливает ориентацию структуры
func (s *Structure) SetRotation(q Quat) {
	s.mu.Lock()
	s.rot = q
	s.mu.Unlock()
}

// FrameID возвращает ID референсного фрейма структуры
func (s *Structure) FrameID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameID
}

// SetFrameID назначает структуре референсный фрейм
func (s *Structure) SetFrameID(id uint64) {
	s.mu.Lock()
	s.frameID = id
	s.mu.Unlock()
}

// BodyHandle возвращает хэндл физического тела (0 — тело не создано)
func (s *Structure) BodyHandle() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bodyHandle
}

// SetBodyHandle сохраняет хэндл физического тела
func (s *Structure) SetBodyHandle(h uint64) {
	s.mu.Lock()
	s.bodyHandle = h
	s.mu.Unlock()
}

// IsFrozen проверяет, заморожена ли структура (нет наблюдателей в радиусе)
func (s *Structure) IsFrozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// SetFrozen замораживает/размораживает симуляцию структуры
func (s *Structure) SetFrozen(frozen bool) {
	s.mu.Lock()
	s.frozen = frozen
	s.mu.Unlock()
}

// Seed возвращает сид генерации структуры
func (s *Structure) Seed() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seed
}

// SetSeed устанавливает сид генерации структуры
func (s *Structure) SetSeed(seed int64) {
	s.mu.Lock()
	s.seed = seed
	s.mu.Unlock()
}

// ChunkRelativePosition возвращает смещение центра чанка относительно
// центра структуры в мировых единицах (один блок — одна единица)
func (s *Structure) ChunkRelativePosition(coord vec.Vec3) vec.Vec3Float {
	half := s.dims.ToFloat().Scale(ChunkSize / 2)
	return coord.ToFloat().Scale(ChunkSize).Sub(half)
}
