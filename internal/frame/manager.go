// Package frame реализует менеджер референсных фреймов ("миров игроков").
// Фрейм группирует близких игроков и структуры вокруг общего локального
// origin: физика и симуляция каждого фрейма остаются численно малыми
// независимо от того, как далеко разнесены несвязанные игроки.
package frame

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/logging"
)

// ErrFrameInconsistency — сущность без назначенного фрейма. Фатальное
// нарушение инварианта: означает рассинхронизированное состояние
// симуляции, молча назначать фрейм по умолчанию нельзя.
var ErrFrameInconsistency = errors.New("сущность без референсного фрейма")

// Member — участник фрейма. Позиция участника всегда выражена
// относительно origin его текущего фрейма, никогда — от корня вселенной.
type Member interface {
	EntityID() uint64
	Position() coords.Position
	SetPosition(coords.Position)
	FrameID() uint64
	SetFrameID(uint64)
}

// Frame — один референсный фрейм
type Frame struct {
	ID     uint64
	Origin coords.Position // Авторитетная позиция origin во вселенной

	members map[uint64]Member
	players map[uint64]Member // Подмножество members: игроки-владельцы
}

// Members возвращает снимок участников фрейма
func (f *Frame) Members() []Member {
	out := make([]Member, 0, len(f.members))
	for _, m := range f.members {
		out = append(out, m)
	}
	return out
}

// PlayerCount возвращает число игроков во фрейме
func (f *Frame) PlayerCount() int { return len(f.players) }

// Reassignment — событие переназначения сущности в другой фрейм,
// распространяется клиентам протоколом синхронизации
type Reassignment struct {
	EntityID    uint64
	IsPlayer    bool
	FrameID     uint64
	FrameOrigin coords.Position
	Local       coords.Position // Новая локальная позиция сущности
}

// Manager управляет жизненным циклом фреймов: создание, слияние при
// сближении игроков, разделение при расхождении. Пороги слияния и
// разделения — конфигурация, а не константы.
type Manager struct {
	mu     sync.RWMutex
	frames map[uint64]*Frame
	nextID uint64

	mergeThreshold float64
	splitThreshold float64

	reassigned []Reassignment
}

// NewManager создаёт менеджер фреймов с указанными порогами
func NewManager(mergeThreshold, splitThreshold float64) *Manager {
	return &Manager{
		frames:         make(map[uint64]*Frame),
		nextID:         1,
		mergeThreshold: mergeThreshold,
		splitThreshold: splitThreshold,
	}
}

// CreateFrame создаёт фрейм с origin в указанной позиции
func (mgr *Manager) CreateFrame(origin coords.Position) *Frame {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.createFrameLocked(origin)
}

func (mgr *Manager) createFrameLocked(origin coords.Position) *Frame {
	f := &Frame{
		ID:      mgr.nextID,
		Origin:  origin.Normalize(),
		members: make(map[uint64]Member),
		players: make(map[uint64]Member),
	}
	mgr.nextID++
	mgr.frames[f.ID] = f

	logging.Debug("Создан фрейм #%d: origin %s", f.ID, f.Origin)
	return f
}

// Frame возвращает фрейм по ID
func (mgr *Manager) Frame(id uint64) (*Frame, bool) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	f, ok := mgr.frames[id]
	return f, ok
}

// FrameCount возвращает число фреймов
func (mgr *Manager) FrameCount() int {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return len(mgr.frames)
}

// AddPlayer помещает игрока с глобальной позицией global во фрейм:
// в ближайший, если его origin в пределах порога слияния, иначе — в новый
func (mgr *Manager) AddPlayer(m Member, global coords.Position) *Frame {
	return mgr.add(m, global, true)
}

// AddStructure помещает структуру с глобальной позицией global во фрейм:
// правило то же, что для игроков — в ближайший, чей origin в пределах
// порога слияния, иначе в новый
func (mgr *Manager) AddStructure(m Member, global coords.Position) *Frame {
	return mgr.add(m, global, false)
}

func (mgr *Manager) add(m Member, global coords.Position, isPlayer bool) *Frame {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	f := mgr.nearestFrameLocked(global, mgr.mergeThreshold)
	if f == nil {
		f = mgr.createFrameLocked(global)
	}

	f.members[m.EntityID()] = m
	if isPlayer {
		f.players[m.EntityID()] = m
	}
	m.SetFrameID(f.ID)
	m.SetPosition(global.RelativeTo(f.Origin))

	mgr.reassigned = append(mgr.reassigned, Reassignment{
		EntityID:    m.EntityID(),
		IsPlayer:    isPlayer,
		FrameID:     f.ID,
		FrameOrigin: f.Origin,
		Local:       m.Position(),
	})
	return f
}

// nearestFrameLocked возвращает ближайший фрейм в пределах maxDist.
// Для структур без ограничения дистанции maxDist < 0.
func (mgr *Manager) nearestFrameLocked(global coords.Position, maxDist float64) *Frame {
	var best *Frame
	bestDist := maxDist

	// Детерминированный порядок обхода
	ids := make([]uint64, 0, len(mgr.frames))
	for id := range mgr.frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		f := mgr.frames[id]
		d := global.DistanceTo(f.Origin)
		if best == nil && maxDist < 0 {
			best, bestDist = f, d
			continue
		}
		if d < bestDist {
			best, bestDist = f, d
		}
	}
	return best
}

// Remove удаляет сущность из её фрейма; пустой фрейм уничтожается
func (mgr *Manager) Remove(m Member) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	f, ok := mgr.frames[m.FrameID()]
	if !ok {
		return
	}

	delete(f.members, m.EntityID())
	delete(f.players, m.EntityID())
	m.SetFrameID(0)

	if len(f.members) == 0 {
		delete(mgr.frames, f.ID)
		logging.Debug("Фрейм #%d опустел и уничтожен", f.ID)
	}
}

// GlobalOf возвращает глобальную позицию участника фрейма.
// Отсутствие фрейма у сущности — фатальное нарушение инварианта.
func (mgr *Manager) GlobalOf(m Member) (coords.Position, error) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.globalOfLocked(m)
}

func (mgr *Manager) globalOfLocked(m Member) (coords.Position, error) {
	f, ok := mgr.frames[m.FrameID()]
	if !ok {
		logging.Error("‼️ FrameInconsistency: сущность %d ссылается на несуществующий фрейм %d",
			m.EntityID(), m.FrameID())
		return coords.Position{}, fmt.Errorf("сущность %d: %w", m.EntityID(), ErrFrameInconsistency)
	}
	return f.Origin.Add(m.Position()), nil
}

// Update выполняет один проход слияний и разделений.
// Слияние: два фрейма, чьи игроки взаимно ближе mergeThreshold.
// Разделение: игрок дальше splitThreshold от origin своего фрейма.
func (mgr *Manager) Update() error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if err := mgr.mergePassLocked(); err != nil {
		return err
	}
	return mgr.splitPassLocked()
}

func (mgr *Manager) mergePassLocked() error {
	for {
		merged, err := mgr.findAndMergeLocked()
		if err != nil {
			return err
		}
		if !merged {
			return nil
		}
	}
}

func (mgr *Manager) findAndMergeLocked() (bool, error) {
	ids := make([]uint64, 0, len(mgr.frames))
	for id := range mgr.frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := mgr.frames[ids[i]], mgr.frames[ids[j]]

			near, err := mgr.playersCloseLocked(a, b)
			if err != nil {
				return false, err
			}
			if near {
				mgr.mergeLocked(a, b)
				return true, nil
			}
		}
	}
	return false, nil
}

// playersCloseLocked проверяет, есть ли пара игроков из разных фреймов
// ближе порога слияния
func (mgr *Manager) playersCloseLocked(a, b *Frame) (bool, error) {
	for _, pa := range a.players {
		ga, err := mgr.globalOfLocked(pa)
		if err != nil {
			return false, err
		}
		for _, pb := range b.players {
			gb, err := mgr.globalOfLocked(pb)
			if err != nil {
				return false, err
			}
			if ga.DistanceTo(gb) < mgr.mergeThreshold {
				return true, nil
			}
		}
	}
	return false, nil
}

// mergeLocked вливает absorbed во выживший фрейм: все участники
// перевыражаются относительно выжившего origin (глобальные позиции
// не меняются)
func (mgr *Manager) mergeLocked(survivor, absorbed *Frame) {
	logging.Info("🔀 Слияние фреймов: #%d поглощает #%d (%d участников)",
		survivor.ID, absorbed.ID, len(absorbed.members))

	for id, m := range absorbed.members {
		global := absorbed.Origin.Add(m.Position())
		m.SetPosition(global.RelativeTo(survivor.Origin))
		m.SetFrameID(survivor.ID)

		survivor.members[id] = m
		_, isPlayer := absorbed.players[id]
		if isPlayer {
			survivor.players[id] = m
		}

		mgr.reassigned = append(mgr.reassigned, Reassignment{
			EntityID:    id,
			IsPlayer:    isPlayer,
			FrameID:     survivor.ID,
			FrameOrigin: survivor.Origin,
			Local:       m.Position(),
		})
	}

	delete(mgr.frames, absorbed.ID)
}

func (mgr *Manager) splitPassLocked() error {
	ids := make([]uint64, 0, len(mgr.frames))
	for id := range mgr.frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		f := mgr.frames[id]

		diverged := mgr.divergedPlayerLocked(f)
		if diverged == nil {
			continue
		}

		global, err := mgr.globalOfLocked(diverged)
		if err != nil {
			return err
		}

		// Новый фрейм с origin в текущей позиции ушедшего игрока;
		// участники старого фрейма перераспределяются к ближайшему origin
		nf := mgr.createFrameLocked(global)
		logging.Info("✂️ Разделение фрейма #%d: игрок %d ушёл на %.0f, новый фрейм #%d",
			f.ID, diverged.EntityID(), global.DistanceTo(f.Origin), nf.ID)

		if err := mgr.reassignByNearestLocked(f, nf); err != nil {
			return err
		}
	}
	return nil
}

// divergedPlayerLocked возвращает игрока, ушедшего от origin дальше
// порога разделения
func (mgr *Manager) divergedPlayerLocked(f *Frame) Member {
	ids := make([]uint64, 0, len(f.players))
	for id := range f.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		p := f.players[id]
		if p.Position().DistanceTo(coords.Position{}) > mgr.splitThreshold {
			return p
		}
	}
	return nil
}

// reassignByNearestLocked распределяет участников old между old и split
// по ближайшему origin
func (mgr *Manager) reassignByNearestLocked(old, split *Frame) error {
	for id, m := range old.members {
		global := old.Origin.Add(m.Position())

		target := old
		if global.DistanceTo(split.Origin) < global.DistanceTo(old.Origin) {
			target = split
		}
		if target == old {
			continue
		}

		delete(old.members, id)
		split.members[id] = m
		_, isPlayer := old.players[id]
		if isPlayer {
			delete(old.players, id)
			split.players[id] = m
		}

		m.SetPosition(global.RelativeTo(split.Origin))
		m.SetFrameID(split.ID)

		mgr.reassigned = append(mgr.reassigned, Reassignment{
			EntityID:    id,
			IsPlayer:    isPlayer,
			FrameID:     split.ID,
			FrameOrigin: split.Origin,
			Local:       m.Position(),
		})
	}

	if len(old.members) == 0 {
		delete(mgr.frames, old.ID)
	}
	return nil
}

// DrainReassignments забирает накопленные переназначения для
// протокола синхронизации
func (mgr *Manager) DrainReassignments() []Reassignment {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	out := mgr.reassigned
	mgr.reassigned = nil
	return out
}
