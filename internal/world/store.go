package world

import (
	"context"
	"sync"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/logging"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world/block"
)

// ChunkKey адресует чанк глобально: структура + координата внутри неё
type ChunkKey struct {
	StructureID uint64
	Coord       vec.Vec3
}

// BlockChange — запись об изменении блока для распространения клиентам
type BlockChange struct {
	StructureID uint64
	Pos         vec.Vec3
	Old         block.Block
	New         block.Block
}

// ChunkReady — уведомление о завершённой генерации чанка
type ChunkReady struct {
	StructureID uint64
	Coord       vec.Vec3
}

// populateJob — задание воркеру генерации. Содержит только чистые входы:
// результат не зависит ни от какого состояния мира.
type populateJob struct {
	key ChunkKey
	gen Generator
	req PopulateRequest
}

type populateResult struct {
	key  ChunkKey
	data *ChunkData
}

// Store — арена структур мира. Владеет всеми загруженными структурами,
// ведёт очередь изменений блоков и координирует ленивую генерацию чанков.
//
// Генерация — единственная операция, выносимая в воркеры: это чистая
// функция входов. Результаты присоединяются к состоянию мира только в
// JoinCompleted, вызываемом в фиксированной точке тика, поэтому
// частично построенный чанк никогда не виден протоколу синхронизации.
type Store struct {
	mu         sync.RWMutex
	structures map[uint64]*Structure
	nextID     uint64

	registry   *block.Registry
	generators map[StructureKind]Generator

	inflight map[ChunkKey]struct{}
	jobs     chan populateJob
	results  chan populateResult

	changes []BlockChange
	ready   []ChunkReady
}

// NewStore создаёт хранилище структур. Реестр блоков обязан быть
// инициализирован до создания первой структуры.
func NewStore(registry *block.Registry, seed int64) *Store {
	return &Store{
		structures: make(map[uint64]*Structure),
		nextID:     1,
		registry:   registry,
		generators: map[StructureKind]Generator{
			KindPlanet:   NewGrassSurfaceGenerator(seed),
			KindAsteroid: NewAsteroidGenerator(seed),
			KindShip:     EmptyGenerator{},
		},
		inflight: make(map[ChunkKey]struct{}),
		jobs:     make(chan populateJob, 256),
		results:  make(chan populateResult, 256),
	}
}

// SetGenerator подменяет генератор для вида структур (внешняя биомная логика)
func (st *Store) SetGenerator(kind StructureKind, gen Generator) {
	st.mu.Lock()
	st.generators[kind] = gen
	st.mu.Unlock()
}

// Registry возвращает реестр блоков
func (st *Store) Registry() *block.Registry { return st.registry }

// StartWorkers запускает пул воркеров генерации чанков
func (st *Store) StartWorkers(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go st.workerLoop(ctx)
	}
	logging.Info("🌍 Запущено %d воркеров генерации чанков", workers)
}

func (st *Store) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-st.jobs:
			// Воркер пишет в приватный scratch-буфер; мир не трогается
			data := job.gen.Populate(job.req)
			select {
			case st.results <- populateResult{key: job.key, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

//================ Структуры =================//

// CreateStructure создаёт структуру и регистрирует её в арене
func (st *Store) CreateStructure(kind StructureKind, name string, dims vec.Vec3, pos coords.Position, seed int64) *Structure {
	st.mu.Lock()
	id := st.nextID
	st.nextID++
	s := NewStructure(id, kind, name, dims, pos)
	s.SetSeed(seed)
	st.structures[id] = s
	st.mu.Unlock()

	logging.Debug("Создана структура #%d (%s) %q: %s", id, kind, name, pos)
	return s
}

// InsertStructure регистрирует структуру, загруженную из хранилища.
// Счётчик ID сдвигается, чтобы новые структуры не конфликтовали.
func (st *Store) InsertStructure(s *Structure) {
	st.mu.Lock()
	st.structures[s.ID] = s
	if s.ID >= st.nextID {
		st.nextID = s.ID + 1
	}
	st.mu.Unlock()
}

// RemoveStructure удаляет структуру из арены и отменяет её генерации
func (st *Store) RemoveStructure(id uint64) {
	st.mu.Lock()
	delete(st.structures, id)
	for key := range st.inflight {
		if key.StructureID == id {
			delete(st.inflight, key)
		}
	}
	st.mu.Unlock()
}

// Get возвращает структуру по ID
func (st *Store) Get(id uint64) (*Structure, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.structures[id]
	return s, ok
}

// All возвращает снимок списка структур
func (st *Store) All() []*Structure {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]*Structure, 0, len(st.structures))
	for _, s := range st.structures {
		out = append(out, s)
	}
	return out
}

// Count возвращает число загруженных структур
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.structures)
}

//================ Чанки =================//

// GetOrPopulateChunk возвращает чанк структуры, при необходимости
// поставив его генерацию в очередь воркеров. Идемпотентна: повторные и
// конкурентные запросы одного чанка сходятся к одной генерации
// (PopulationConflict разрешается дедупликацией, это не ошибка).
//
// Возвращает (чанк, готов ли он). Незаполненный чанк готов не будет,
// пока JoinCompleted не зафиксирует результат воркера.
func (st *Store) GetOrPopulateChunk(structureID uint64, coord vec.Vec3) (*Chunk, bool, error) {
	s, ok := st.Get(structureID)
	if !ok {
		return nil, false, ErrUnknownStructure
	}

	dims := s.Dims()
	if coord.X < 0 || coord.X >= dims.X ||
		coord.Y < 0 || coord.Y >= dims.Y ||
		coord.Z < 0 || coord.Z >= dims.Z {
		return nil, false, ErrInvalidCoordinate
	}

	c := s.ensureChunk(coord)
	if c.IsPopulated() {
		return c, true, nil
	}

	key := ChunkKey{StructureID: structureID, Coord: coord}

	st.mu.Lock()
	if _, already := st.inflight[key]; already {
		st.mu.Unlock()
		return c, false, nil
	}
	st.inflight[key] = struct{}{}
	gen := st.generators[s.Kind]
	st.mu.Unlock()

	job := populateJob{
		key: key,
		gen: gen,
		req: PopulateRequest{
			ChunkCoord:  coord,
			DimsBlocks:  vec.Vec3{X: s.BlocksWidth(), Y: s.BlocksHeight(), Z: s.BlocksLength()},
			Seed:        s.Seed(),
			Face:        FaceForChunk(s, coord),
			Temperature: DefaultTemperature,
		},
	}

	select {
	case st.jobs <- job:
	default:
		// Очередь воркеров переполнена: снимаем пометку, запрос
		// повторится на следующем тике
		st.mu.Lock()
		delete(st.inflight, key)
		st.mu.Unlock()
	}

	return c, false, nil
}

// PopulateChunkBlocking генерирует чанк синхронно, минуя воркеров.
// Используется при начальной загрузке и в тестах.
func (st *Store) PopulateChunkBlocking(structureID uint64, coord vec.Vec3) (*Chunk, error) {
	c, ready, err := st.GetOrPopulateChunk(structureID, coord)
	if err != nil {
		return nil, err
	}
	if ready {
		return c, nil
	}

	s, _ := st.Get(structureID)
	key := ChunkKey{StructureID: structureID, Coord: coord}

	st.mu.Lock()
	gen := st.generators[s.Kind]
	delete(st.inflight, key) // Забираем задание себе
	st.mu.Unlock()

	data := gen.Populate(PopulateRequest{
		ChunkCoord:  coord,
		DimsBlocks:  vec.Vec3{X: s.BlocksWidth(), Y: s.BlocksHeight(), Z: s.BlocksLength()},
		Seed:        s.Seed(),
		Face:        FaceForChunk(s, coord),
		Temperature: DefaultTemperature,
	})

	if !c.IsPopulated() {
		c.Commit(data)
		st.mu.Lock()
		st.ready = append(st.ready, ChunkReady{StructureID: structureID, Coord: coord})
		st.mu.Unlock()
	}
	return c, nil
}

// AbandonChunk отменяет интерес к чанку: выгружает его и помечает
// незавершённую генерацию брошенной (результат будет выброшен)
func (st *Store) AbandonChunk(structureID uint64, coord vec.Vec3) {
	st.mu.Lock()
	delete(st.inflight, ChunkKey{StructureID: structureID, Coord: coord})
	st.mu.Unlock()

	if s, ok := st.Get(structureID); ok {
		s.DiscardChunk(coord)
	}
}

// JoinCompleted фиксирует результаты воркеров в состоянии мира.
// Вызывается в фиксированной точке тика симуляции — до того, как
// протокол синхронизации увидит новые чанки.
func (st *Store) JoinCompleted() {
	for {
		select {
		case res := <-st.results:
			st.mu.Lock()
			_, wanted := st.inflight[res.key]
			delete(st.inflight, res.key)
			s, exists := st.structures[res.key.StructureID]
			st.mu.Unlock()

			if !wanted || !exists {
				continue // Брошенная генерация: буфер выбрасывается
			}

			c, ok := s.Chunk(res.key.Coord)
			if !ok || c.IsPopulated() {
				continue
			}

			c.Commit(res.data)
			st.mu.Lock()
			st.ready = append(st.ready, ChunkReady{StructureID: res.key.StructureID, Coord: res.key.Coord})
			st.mu.Unlock()
		default:
			return
		}
	}
}

//================ Изменения блоков =================//

// SetBlock устанавливает блок структуры и записывает изменение для
// распространения. Ошибки координат и защиты ядра возвращаются вызывающему.
func (st *Store) SetBlock(structureID uint64, pos vec.Vec3, b block.Block) error {
	s, ok := st.Get(structureID)
	if !ok {
		return ErrUnknownStructure
	}

	old, err := s.SetBlock(pos, b, st.registry)
	if err != nil {
		return err
	}

	if old.ID == b.ID && old.Rotation == b.Rotation && old.Health == b.Health {
		return nil
	}

	st.mu.Lock()
	st.changes = append(st.changes, BlockChange{
		StructureID: structureID,
		Pos:         pos,
		Old:         old,
		New:         b,
	})
	st.mu.Unlock()
	return nil
}

// DrainChanges забирает накопленные изменения блоков
func (st *Store) DrainChanges() []BlockChange {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := st.changes
	st.changes = nil
	return out
}

// DrainReady забирает уведомления о готовых чанках
func (st *Store) DrainReady() []ChunkReady {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := st.ready
	st.ready = nil
	return out
}
