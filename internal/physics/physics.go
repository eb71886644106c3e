// Package physics определяет контракт физического сервиса, который ядро
// ведёт, но не реализует. Поставляется простая встроенная реализация на
// AABB-коллайдерах для серверной проверки столкновений.
package physics

import (
	"sync"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world"
)

// Handle — непрозрачный хэндл физического тела
type Handle uint64

// Capability — контракт внешнего физического сервиса
type Capability interface {
	// CreateBody создаёт тело для структуры и возвращает хэндл
	CreateBody(structureID uint64) Handle
	// UpdateCollider заменяет геометрию коллизии чанка тела
	UpdateCollider(h Handle, collider *world.ChunkCollider)
	// SetFrameOrigin сообщает телу origin его референсного фрейма
	SetFrameOrigin(h Handle, origin coords.Position)
	// RemoveBody уничтожает тело
	RemoveBody(h Handle)
}

//================ Встроенная реализация =================//

type body struct {
	structureID uint64
	origin      coords.Position
	colliders   map[vec.Vec3]*world.ChunkCollider
}

// BoxWorld — минимальная реализация Capability: хранит AABB-коллайдеры
// тел и отвечает на точечные запросы столкновений
type BoxWorld struct {
	mu     sync.RWMutex
	bodies map[Handle]*body
	nextID Handle
}

// NewBoxWorld создаёт пустой физический мир
func NewBoxWorld() *BoxWorld {
	return &BoxWorld{
		bodies: make(map[Handle]*body),
		nextID: 1,
	}
}

// CreateBody создаёт тело для структуры
func (w *BoxWorld) CreateBody(structureID uint64) Handle {
	w.mu.Lock()
	defer w.mu.Unlock()

	h := w.nextID
	w.nextID++
	w.bodies[h] = &body{
		structureID: structureID,
		colliders:   make(map[vec.Vec3]*world.ChunkCollider),
	}
	return h
}

// UpdateCollider заменяет геометрию коллизии чанка
func (w *BoxWorld) UpdateCollider(h Handle, collider *world.ChunkCollider) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if b, ok := w.bodies[h]; ok {
		if len(collider.Boxes) == 0 {
			delete(b.colliders, collider.Coords)
		} else {
			b.colliders[collider.Coords] = collider
		}
	}
}

// SetFrameOrigin сообщает телу origin его фрейма
func (w *BoxWorld) SetFrameOrigin(h Handle, origin coords.Position) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if b, ok := w.bodies[h]; ok {
		b.origin = origin
	}
}

// RemoveBody уничтожает тело
func (w *BoxWorld) RemoveBody(h Handle) {
	w.mu.Lock()
	delete(w.bodies, h)
	w.mu.Unlock()
}

// BodyCount возвращает число тел (для метрик)
func (w *BoxWorld) BodyCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.bodies)
}

// PointInBody проверяет, попадает ли точка (в локальных координатах тела)
// в какой-либо бокс коллизии
func (w *BoxWorld) PointInBody(h Handle, point vec.Vec3Float) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	b, ok := w.bodies[h]
	if !ok {
		return false
	}

	for coord, col := range b.colliders {
		base := vec.Vec3Float{
			X: float64(coord.X * world.ChunkSize),
			Y: float64(coord.Y * world.ChunkSize),
			Z: float64(coord.Z * world.ChunkSize),
		}
		local := point.Sub(base)
		for _, box := range col.Boxes {
			if local.X >= box.Min.X && local.X < box.Max.X &&
				local.Y >= box.Min.Y && local.Y < box.Max.Y &&
				local.Z >= box.Min.Z && local.Z < box.Max.Z {
				return true
			}
		}
	}
	return false
}
