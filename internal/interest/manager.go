// Package interest реализует менеджер загрузки по близости: решает,
// какие структуры материализованы для каждого наблюдателя, с
// гистерезисом по радиусам и лимитом записей на наблюдателя.
package interest

import (
	"sort"
	"sync"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/logging"
)

// EventKind определяет вид события загрузки
type EventKind uint8

const (
	// EventEnter — структура вошла в запись наблюдателя (нужен spawn)
	EventEnter EventKind = iota
	// EventLeave — структура покинула запись наблюдателя (нужен despawn)
	EventLeave
)

// Event — событие изменения записи загрузки
type Event struct {
	Kind        EventKind
	ObserverID  uint64
	StructureID uint64
}

// StructureInfo — позиция структуры для сканирования (глобальная)
type StructureInfo struct {
	ID  uint64
	Pos coords.Position
}

// Record — запись загрузки одного наблюдателя: множество структур,
// материализованных для него. Живёт и умирает вместе с наблюдателем.
type Record struct {
	ObserverID uint64
	structures map[uint64]struct{}
	deferred   int // Отложено загрузок из-за лимита (для метрик)
}

// Contains проверяет, входит ли структура в запись
func (r *Record) Contains(structureID uint64) bool {
	_, ok := r.structures[structureID]
	return ok
}

// Structures возвращает снимок множества структур записи
func (r *Record) Structures() []uint64 {
	out := make([]uint64, 0, len(r.structures))
	for id := range r.structures {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len возвращает размер записи
func (r *Record) Len() int { return len(r.structures) }

// Deferred возвращает число отложенных из-за лимита загрузок
func (r *Record) Deferred() int { return r.deferred }

// Manager пересчитывает записи загрузки наблюдателей с фиксированной
// периодичностью. Структура входит в запись на loadRadius и покидает её
// только за unloadRadius (> loadRadius): гистерезис исключает дрожание
// на границе. При превышении лимита откладываются самые дальние загрузки.
type Manager struct {
	mu sync.Mutex

	loadRadius   float64
	unloadRadius float64
	entityCap    int

	records map[uint64]*Record
	events  []Event
}

// NewManager создаёт менеджер загрузки. unloadRadius обязан превышать
// loadRadius (проверяется конфигурацией).
func NewManager(loadRadius, unloadRadius float64, entityCap int) *Manager {
	return &Manager{
		loadRadius:   loadRadius,
		unloadRadius: unloadRadius,
		entityCap:    entityCap,
		records:      make(map[uint64]*Record),
	}
}

// AddObserver создаёт запись загрузки для наблюдателя
func (m *Manager) AddObserver(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[id]; !exists {
		m.records[id] = &Record{
			ObserverID: id,
			structures: make(map[uint64]struct{}),
		}
	}
}

// RemoveObserver уничтожает запись наблюдателя, выгружая все структуры
func (m *Manager) RemoveObserver(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return
	}

	for sid := range r.structures {
		m.events = append(m.events, Event{Kind: EventLeave, ObserverID: id, StructureID: sid})
	}
	delete(m.records, id)
}

// Record возвращает запись загрузки наблюдателя
func (m *Manager) Record(id uint64) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

// candidate — структура-кандидат на загрузку
type candidate struct {
	id   uint64
	dist float64
}

// Scan пересчитывает запись одного наблюдателя по его глобальной позиции
func (m *Manager) Scan(observerID uint64, observerPos coords.Position, structures []StructureInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[observerID]
	if !ok {
		return
	}

	var candidates []candidate

	for _, s := range structures {
		dist := observerPos.DistanceTo(s.Pos)

		if r.Contains(s.ID) {
			// Выгрузка только за внешним радиусом (гистерезис)
			if dist > m.unloadRadius {
				delete(r.structures, s.ID)
				m.events = append(m.events, Event{
					Kind: EventLeave, ObserverID: observerID, StructureID: s.ID,
				})
			}
			continue
		}

		if dist <= m.loadRadius {
			candidates = append(candidates, candidate{id: s.ID, dist: dist})
		}
	}

	// Лимит записей: при переполнении откладываем самые дальние загрузки,
	// а не растём неограниченно
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	r.deferred = 0
	for i, c := range candidates {
		if m.entityCap > 0 && len(r.structures) >= m.entityCap {
			r.deferred = len(candidates) - i
			logging.Debug("Наблюдатель %d: лимит записей %d достигнут, отложено %d загрузок",
				observerID, m.entityCap, r.deferred)
			break
		}
		r.structures[c.id] = struct{}{}
		m.events = append(m.events, Event{
			Kind: EventEnter, ObserverID: observerID, StructureID: c.id,
		})
	}
}

// ForgetStructure выбрасывает уничтоженную структуру из всех записей,
// освобождая занятые ею слоты лимита. События выгрузки не создаются:
// despawn такой структуры уже разослан протоколом синхронизации.
func (m *Manager) ForgetStructure(structureID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.records {
		delete(r.structures, structureID)
	}
}

// Observed проверяет, есть ли у структуры хоть один наблюдатель.
// Сервер объединяет радиусы всех подключённых игроков: структура без
// наблюдателей нигде не симулируется (замораживается) до возвращения.
func (m *Manager) Observed(structureID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.records {
		if r.Contains(structureID) {
			return true
		}
	}
	return false
}

// DrainEvents забирает накопленные события загрузки/выгрузки
func (m *Manager) DrainEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.events
	m.events = nil
	return out
}
