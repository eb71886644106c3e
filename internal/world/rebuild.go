package world

import (
	"context"

	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world/block"
)

// Quad — одна видимая грань блока в меше чанка
type Quad struct {
	Pos      vec.Vec3       `json:"pos"`
	Side     Face           `json:"side"`
	BlockID  block.ID       `json:"block"`
	Rotation block.Rotation `json:"rot"`
}

// ChunkMesh — построенная геометрия чанка для рендера
type ChunkMesh struct {
	Coords vec.Vec3
	Quads  []Quad
}

// AABB — осесимметричный бокс коллизии в координатах чанка
type AABB struct {
	Min vec.Vec3Float
	Max vec.Vec3Float
}

// ChunkCollider — геометрия коллизии чанка для физического сервиса
type ChunkCollider struct {
	Coords vec.Vec3
	Boxes  []AABB
}

// BuildMesh строит меш по снимку данных чанка: по кваду на каждую грань
// непустого блока, не закрытую соседним непустым блоком. Чистая функция.
func BuildMesh(coords vec.Vec3, data *ChunkData, reg *block.Registry) *ChunkMesh {
	mesh := &ChunkMesh{Coords: coords}

	dirs := []struct {
		side    Face
		dx, dy, dz int64
	}{
		{FacePosY, 0, 1, 0},
		{FaceNegY, 0, -1, 0},
		{FacePosX, 1, 0, 0},
		{FaceNegX, -1, 0, 0},
		{FacePosZ, 0, 0, 1},
		{FaceNegZ, 0, 0, -1},
	}

	for x := int64(0); x < ChunkSize; x++ {
		for y := int64(0); y < ChunkSize; y++ {
			for z := int64(0); z < ChunkSize; z++ {
				b := data[x][y][z]
				if b.IsAir() {
					continue
				}

				for _, d := range dirs {
					nx, ny, nz := x+d.dx, y+d.dy, z+d.dz
					// Грани на границе чанка всегда видимы; стык
					// соседних чанков закрывает их на стороне клиента
					if nx >= 0 && nx < ChunkSize &&
						ny >= 0 && ny < ChunkSize &&
						nz >= 0 && nz < ChunkSize &&
						!data[nx][ny][nz].IsAir() {
						continue
					}
					mesh.Quads = append(mesh.Quads, Quad{
						Pos:      vec.Vec3{X: x, Y: y, Z: z},
						Side:     d.side,
						BlockID:  b.ID,
						Rotation: b.Rotation,
					})
				}
			}
		}
	}

	return mesh
}

// BuildCollider строит коллизию по снимку данных чанка: твёрдые блоки
// сливаются в боксы по вертикальным сериям. Чистая функция.
func BuildCollider(coords vec.Vec3, data *ChunkData, reg *block.Registry) *ChunkCollider {
	collider := &ChunkCollider{Coords: coords}

	solid := func(b block.Block) bool {
		if b.IsAir() {
			return false
		}
		d, ok := reg.Get(b.ID)
		return ok && d.Solid
	}

	for x := int64(0); x < ChunkSize; x++ {
		for z := int64(0); z < ChunkSize; z++ {
			y := int64(0)
			for y < ChunkSize {
				if !solid(data[x][y][z]) {
					y++
					continue
				}
				start := y
				for y < ChunkSize && solid(data[x][y][z]) {
					y++
				}
				collider.Boxes = append(collider.Boxes, AABB{
					Min: vec.Vec3Float{X: float64(x), Y: float64(start), Z: float64(z)},
					Max: vec.Vec3Float{X: float64(x + 1), Y: float64(y), Z: float64(z + 1)},
				})
			}
		}
	}

	return collider
}

//================ Планировщик перестроений =================//

type rebuildKind uint8

const (
	rebuildMesh rebuildKind = iota
	rebuildPhysics
)

type rebuildJob struct {
	key  ChunkKey
	kind rebuildKind
	data ChunkData
}

// MeshResult — готовый меш чанка
type MeshResult struct {
	Key  ChunkKey
	Mesh *ChunkMesh
}

// ColliderResult — готовая коллизия чанка
type ColliderResult struct {
	Key      ChunkKey
	Collider *ChunkCollider
}

// RebuildScheduler пакетирует перестроения меша и физики: не более budget
// чанков за тик вместо перестроения на каждое изменение блока, чтобы
// ограничить стоимость тика при быстром редактировании (взрывы).
type RebuildScheduler struct {
	store  *Store
	budget int

	jobs      chan rebuildJob
	meshes    chan MeshResult
	colliders chan ColliderResult
}

// NewRebuildScheduler создаёт планировщик с лимитом перестроений за тик
func NewRebuildScheduler(store *Store, budget int) *RebuildScheduler {
	if budget <= 0 {
		budget = 8
	}
	return &RebuildScheduler{
		store:     store,
		budget:    budget,
		jobs:      make(chan rebuildJob, budget*4),
		meshes:    make(chan MeshResult, budget*4),
		colliders: make(chan ColliderResult, budget*4),
	}
}

// StartWorkers запускает воркеров перестроения геометрии
func (rs *RebuildScheduler) StartWorkers(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go rs.workerLoop(ctx)
	}
}

func (rs *RebuildScheduler) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-rs.jobs:
			switch job.kind {
			case rebuildMesh:
				mesh := BuildMesh(job.key.Coord, &job.data, rs.store.Registry())
				select {
				case rs.meshes <- MeshResult{Key: job.key, Mesh: mesh}:
				case <-ctx.Done():
					return
				}
			case rebuildPhysics:
				col := BuildCollider(job.key.Coord, &job.data, rs.store.Registry())
				select {
				case rs.colliders <- ColliderResult{Key: job.key, Collider: col}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// ScheduleTick ставит в очередь перестроения грязных чанков в пределах
// бюджета. Флаг снимается при постановке: правка чанка после снимка
// снова пометит его грязным, и он попадёт в следующий тик.
func (rs *RebuildScheduler) ScheduleTick() int {
	scheduled := 0

	for _, s := range rs.store.All() {
		for coord, c := range s.Chunks() {
			if scheduled >= rs.budget {
				return scheduled
			}

			key := ChunkKey{StructureID: s.ID, Coord: coord}

			if c.NeedsMeshRebuild() {
				c.ClearMeshDirty()
				select {
				case rs.jobs <- rebuildJob{key: key, kind: rebuildMesh, data: c.Snapshot()}:
					scheduled++
				default:
					c.SetMeshDirty() // Очередь полна, вернём пометку
				}
			}
			if c.NeedsPhysicsRebuild() {
				c.ClearPhysicsDirty()
				select {
				case rs.jobs <- rebuildJob{key: key, kind: rebuildPhysics, data: c.Snapshot()}:
					scheduled++
				default:
					c.SetPhysicsDirty()
				}
			}
		}
	}

	return scheduled
}

// DrainMeshes забирает готовые меши (вызывается в точке join тика)
func (rs *RebuildScheduler) DrainMeshes() []MeshResult {
	var out []MeshResult
	for {
		select {
		case m := <-rs.meshes:
			out = append(out, m)
		default:
			return out
		}
	}
}

// DrainColliders забирает готовые коллизии (вызывается в точке join тика)
func (rs *RebuildScheduler) DrainColliders() []ColliderResult {
	var out []ColliderResult
	for {
		select {
		case c := <-rs.colliders:
			out = append(out, c)
		default:
			return out
		}
	}
}
