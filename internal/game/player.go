// Package game связывает подсистемы в детерминированный цикл
// симуляции: сеть -> фреймы -> интерес -> join генерации -> рассылка.
package game

import (
	"sync"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world"
)

// Player — подключённый игрок. Позиция хранится относительно origin
// его текущего фрейма. Движение доверенное: сервер принимает
// присланную позицию без независимой ревалидации.
type Player struct {
	ID       uint64
	ClientID string
	Name     string

	mu       sync.RWMutex
	pos      coords.Position
	rot      world.Quat
	vel      vec.Vec3Float
	frameID  uint64
	lastTick uint64
}

// NewPlayer создаёт игрока
func NewPlayer(id uint64, clientID, name string) *Player {
	return &Player{
		ID:       id,
		ClientID: clientID,
		Name:     name,
		rot:      world.IdentityQuat(),
	}
}

// EntityID возвращает идентификатор сущности
func (p *Player) EntityID() uint64 { return p.ID }

// Position возвращает позицию относительно origin фрейма
func (p *Player) Position() coords.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pos
}

// SetPosition устанавливает позицию относительно origin фрейма
func (p *Player) SetPosition(pos coords.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos.Normalize()
}

// FrameID возвращает текущий фрейм игрока
func (p *Player) FrameID() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frameID
}

// SetFrameID назначает фрейм игрока
func (p *Player) SetFrameID(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frameID = id
}

// Rotation возвращает ориентацию игрока
func (p *Player) Rotation() world.Quat {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rot
}

// Velocity возвращает последнюю присланную скорость
func (p *Player) Velocity() vec.Vec3Float {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.vel
}

// ApplyMovement применяет доверенный отчёт о движении
func (p *Player) ApplyMovement(pos coords.Position, rot world.Quat, vel vec.Vec3Float, tick uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tick < p.lastTick {
		return // Опоздавший отчёт
	}
	p.pos = pos.Normalize()
	p.rot = rot
	p.vel = vel
	p.lastTick = tick
}

// LastTick возвращает тик последнего отчёта о движении
func (p *Player) LastTick() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastTick
}
