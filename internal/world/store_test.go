package world

import (
	"errors"
	"sync"
	"testing"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world/block"
)

func newTestStore() *Store {
	return NewStore(block.DefaultRegistry(), 42)
}

func TestPopulateDeterministic(t *testing.T) {
	st := newTestStore()
	p := st.CreateStructure(KindPlanet, "terra", vec.Vec3{X: 4, Y: 4, Z: 4}, coords.Position{}, 42)

	coord := vec.Vec3{X: 0, Y: 3, Z: 0}
	c1, err := st.PopulateChunkBlocking(p.ID, coord)
	if err != nil {
		t.Fatalf("Первая генерация: %v", err)
	}
	snap1 := c1.Snapshot()

	// Пересоздаём мир с тем же сидом: содержимое бит-идентично
	st2 := newTestStore()
	p2 := st2.CreateStructure(KindPlanet, "terra", vec.Vec3{X: 4, Y: 4, Z: 4}, coords.Position{}, 42)
	c2, err := st2.PopulateChunkBlocking(p2.ID, coord)
	if err != nil {
		t.Fatalf("Повторная генерация: %v", err)
	}
	snap2 := c2.Snapshot()

	if snap1 != snap2 {
		t.Error("Генерация с одинаковым сидом дала разные чанки")
	}
}

func TestEditReplayDeterministic(t *testing.T) {
	edits := []struct {
		pos vec.Vec3
		b   block.Block
	}{
		{vec.Vec3{X: 1, Y: 1, Z: 1}, block.New(block.StoneID)},
		{vec.Vec3{X: 1, Y: 2, Z: 1}, block.New(block.DirtID)},
		{vec.Vec3{X: 1, Y: 1, Z: 1}, block.New(block.AirID)},
		{vec.Vec3{X: 5, Y: 5, Z: 5}, block.New(block.GrassID)},
	}

	run := func() ChunkData {
		st := newTestStore()
		s := st.CreateStructure(KindAsteroid, "rock", vec.Vec3{X: 1, Y: 1, Z: 1}, coords.Position{}, 7)
		if _, err := st.PopulateChunkBlocking(s.ID, vec.Vec3{}); err != nil {
			t.Fatalf("Генерация: %v", err)
		}
		for _, e := range edits {
			if err := st.SetBlock(s.ID, e.pos, e.b); err != nil {
				t.Fatalf("SetBlock %v: %v", e.pos, err)
			}
		}
		c, _ := s.Chunk(vec.Vec3{})
		return c.Snapshot()
	}

	if run() != run() {
		t.Error("Повтор последовательности правок дал разные чанки")
	}
}

func TestPopulationPathsMatch(t *testing.T) {
	coord := vec.Vec3{X: 1, Y: 3, Z: 2}

	// Синхронный путь
	st1 := newTestStore()
	p1 := st1.CreateStructure(KindPlanet, "terra", vec.Vec3{X: 4, Y: 4, Z: 4}, coords.Position{}, 42)
	c1, err := st1.PopulateChunkBlocking(p1.ID, coord)
	if err != nil {
		t.Fatalf("Блокирующая генерация: %v", err)
	}

	// Путь через воркеров с тем же сидом
	st2 := newTestStore()
	p2 := st2.CreateStructure(KindPlanet, "terra", vec.Vec3{X: 4, Y: 4, Z: 4}, coords.Position{}, 42)
	if _, _, err := st2.GetOrPopulateChunk(p2.ID, coord); err != nil {
		t.Fatalf("GetOrPopulateChunk: %v", err)
	}
	job := <-st2.jobs
	st2.results <- populateResult{key: job.key, data: job.gen.Populate(job.req)}
	st2.JoinCompleted()

	c2, ok := p2.Chunk(coord)
	if !ok || !c2.IsPopulated() {
		t.Fatal("Чанк не материализован через воркеров")
	}

	// Оба пути обязаны собирать идентичный запрос генерации
	if c1.Snapshot() != c2.Snapshot() {
		t.Error("Синхронный и фоновый пути генерации разошлись")
	}
}

func TestGetOrPopulateIdempotent(t *testing.T) {
	st := newTestStore()
	p := st.CreateStructure(KindPlanet, "terra", vec.Vec3{X: 2, Y: 2, Z: 2}, coords.Position{}, 42)

	coord := vec.Vec3{X: 0, Y: 1, Z: 0}

	// Конкурентные запросы одного чанка сходятся к одной генерации
	var wg sync.WaitGroup
	chunks := make([]*Chunk, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _, err := st.GetOrPopulateChunk(p.ID, coord)
			if err != nil {
				t.Errorf("GetOrPopulateChunk: %v", err)
				return
			}
			chunks[i] = c
		}(i)
	}
	wg.Wait()

	for i := 1; i < 8; i++ {
		if chunks[i] != chunks[0] {
			t.Fatal("Конкурентные запросы вернули разные чанки")
		}
	}

	// В очереди ровно одно задание генерации
	if got := len(st.jobs); got != 1 {
		t.Errorf("Ожидалось 1 задание генерации, получено %d", got)
	}
}

func TestPopulateBounds(t *testing.T) {
	st := newTestStore()
	p := st.CreateStructure(KindPlanet, "terra", vec.Vec3{X: 2, Y: 2, Z: 2}, coords.Position{}, 42)

	_, _, err := st.GetOrPopulateChunk(p.ID, vec.Vec3{X: 5})
	if !errors.Is(err, ErrInvalidCoordinate) {
		t.Errorf("Ожидалась ErrInvalidCoordinate, получено %v", err)
	}

	_, _, err = st.GetOrPopulateChunk(999, vec.Vec3{})
	if !errors.Is(err, ErrUnknownStructure) {
		t.Errorf("Ожидалась ErrUnknownStructure, получено %v", err)
	}
}

func TestAbandonedPopulationDiscarded(t *testing.T) {
	st := newTestStore()
	p := st.CreateStructure(KindPlanet, "terra", vec.Vec3{X: 2, Y: 2, Z: 2}, coords.Position{}, 42)

	coord := vec.Vec3{X: 1, Y: 1, Z: 1}
	if _, _, err := st.GetOrPopulateChunk(p.ID, coord); err != nil {
		t.Fatalf("GetOrPopulateChunk: %v", err)
	}

	// Чанк выгружен до завершения генерации
	st.AbandonChunk(p.ID, coord)

	// Эмулируем завершившегося воркера
	job := <-st.jobs
	st.results <- populateResult{key: job.key, data: job.gen.Populate(job.req)}

	st.JoinCompleted()

	if _, ok := p.Chunk(coord); ok {
		t.Error("Брошенная генерация не должна материализовать чанк")
	}
	if len(st.DrainReady()) != 0 {
		t.Error("Брошенная генерация не должна попадать в готовые")
	}
}

func TestBlockChangesDrained(t *testing.T) {
	st := newTestStore()
	s := st.CreateStructure(KindShip, "ship", vec.Vec3{X: 1, Y: 1, Z: 1}, coords.Position{}, 0)

	if err := st.SetBlock(s.ID, vec.Vec3{X: 1}, block.New(block.ShipHullID)); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}
	if err := st.SetBlock(s.ID, vec.Vec3{X: 2}, block.New(block.ThrusterID)); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}

	changes := st.DrainChanges()
	if len(changes) != 2 {
		t.Fatalf("Ожидалось 2 изменения, получено %d", len(changes))
	}
	if changes[0].New.ID != block.ShipHullID || changes[1].New.ID != block.ThrusterID {
		t.Error("Изменения записаны в неверном порядке")
	}

	if len(st.DrainChanges()) != 0 {
		t.Error("Повторный Drain должен вернуть пустой список")
	}
}

func TestMeshRebuildLifecycle(t *testing.T) {
	st := newTestStore()
	s := st.CreateStructure(KindShip, "ship", vec.Vec3{X: 1, Y: 1, Z: 1}, coords.Position{}, 0)

	if err := st.SetBlock(s.ID, vec.Vec3{X: 1, Y: 1, Z: 1}, block.New(block.ShipHullID)); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}

	c, _ := s.Chunk(vec.Vec3{})
	if !c.NeedsMeshRebuild() || !c.NeedsPhysicsRebuild() {
		t.Fatal("Изменение блока должно пометить чанк MeshDirty и PhysicsDirty")
	}

	rs := NewRebuildScheduler(st, 8)
	if n := rs.ScheduleTick(); n != 2 {
		t.Errorf("Ожидалось 2 запланированных перестроения, получено %d", n)
	}

	// Выполняем задания синхронно вместо воркеров
	for i := 0; i < 2; i++ {
		job := <-rs.jobs
		switch job.kind {
		case rebuildMesh:
			rs.meshes <- MeshResult{Key: job.key, Mesh: BuildMesh(job.key.Coord, &job.data, st.Registry())}
		case rebuildPhysics:
			rs.colliders <- ColliderResult{Key: job.key, Collider: BuildCollider(job.key.Coord, &job.data, st.Registry())}
		}
	}

	meshes := rs.DrainMeshes()
	colliders := rs.DrainColliders()
	if len(meshes) != 1 || len(colliders) != 1 {
		t.Fatalf("Ожидался 1 меш и 1 коллайдер, получено %d/%d", len(meshes), len(colliders))
	}

	// Один блок без соседей: 6 видимых граней и один бокс коллизии
	if len(meshes[0].Mesh.Quads) != 6 {
		t.Errorf("Ожидалось 6 квадов, получено %d", len(meshes[0].Mesh.Quads))
	}
	if len(colliders[0].Collider.Boxes) != 1 {
		t.Errorf("Ожидался 1 бокс, получено %d", len(colliders[0].Collider.Boxes))
	}

	if c.NeedsMeshRebuild() || c.NeedsPhysicsRebuild() {
		t.Error("Флаги должны быть сняты после планирования")
	}
}
