package interest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/vec"
)

func posAt(x float64) coords.Position {
	return coords.NewPosition(vec.Vec3{}, vec.Vec3Float{X: x}).Normalize()
}

func drainKinds(m *Manager) (enters, leaves []uint64) {
	for _, e := range m.DrainEvents() {
		switch e.Kind {
		case EventEnter:
			enters = append(enters, e.StructureID)
		case EventLeave:
			leaves = append(leaves, e.StructureID)
		}
	}
	return
}

func TestLoadUnloadHysteresis(t *testing.T) {
	m := NewManager(3000, 4500, 0)
	m.AddObserver(1)

	structures := []StructureInfo{{ID: 10, Pos: posAt(2999)}}

	// На loadRadius - ε структура загружается
	m.Scan(1, posAt(0), structures)
	enters, leaves := drainKinds(m)
	require.Equal(t, []uint64{10}, enters)
	require.Empty(t, leaves)

	r, ok := m.Record(1)
	require.True(t, ok)
	assert.True(t, r.Contains(10))

	// Между радиусами выгрузки нет: гистерезис
	structures[0].Pos = posAt(3500)
	m.Scan(1, posAt(0), structures)
	enters, leaves = drainKinds(m)
	assert.Empty(t, enters)
	assert.Empty(t, leaves)
	assert.True(t, r.Contains(10))

	structures[0].Pos = posAt(4499)
	m.Scan(1, posAt(0), structures)
	_, leaves = drainKinds(m)
	assert.Empty(t, leaves)

	// Только за unloadRadius — выгрузка
	structures[0].Pos = posAt(4501)
	m.Scan(1, posAt(0), structures)
	_, leaves = drainKinds(m)
	require.Equal(t, []uint64{10}, leaves)
	assert.False(t, r.Contains(10))
}

func TestBoundaryOscillationStable(t *testing.T) {
	m := NewManager(3000, 4500, 0)
	m.AddObserver(1)

	// Дрожание вокруг loadRadius: одна загрузка, ноль выгрузок
	var totalEnters, totalLeaves int
	for i := 0; i < 50; i++ {
		x := 2990.0
		if i%2 == 1 {
			x = 3010.0
		}
		m.Scan(1, posAt(0), []StructureInfo{{ID: 7, Pos: posAt(x)}})
		e, l := drainKinds(m)
		totalEnters += len(e)
		totalLeaves += len(l)
	}

	assert.Equal(t, 1, totalEnters)
	assert.Equal(t, 0, totalLeaves)
}

func TestEntityCapDefersFarthest(t *testing.T) {
	m := NewManager(3000, 4500, 2)
	m.AddObserver(1)

	structures := []StructureInfo{
		{ID: 1, Pos: posAt(2500)},
		{ID: 2, Pos: posAt(100)},
		{ID: 3, Pos: posAt(1200)},
	}
	m.Scan(1, posAt(0), structures)

	enters, _ := drainKinds(m)
	// Ближайшие две загружены, самая дальняя отложена
	require.Equal(t, []uint64{2, 3}, enters)

	r, _ := m.Record(1)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 1, r.Deferred())
	assert.False(t, r.Contains(1))

	// Освободилось место — отложенная структура догружается
	structures[1].Pos = posAt(9000)
	m.Scan(1, posAt(0), structures)
	enters, leaves := drainKinds(m)
	assert.Equal(t, []uint64{2}, leaves)
	assert.Equal(t, []uint64{1}, enters)
	assert.True(t, r.Contains(1))
	assert.Equal(t, 0, r.Deferred())
}

func TestForgetStructureFreesCapSlot(t *testing.T) {
	m := NewManager(3000, 4500, 1)
	m.AddObserver(1)

	m.Scan(1, posAt(0), []StructureInfo{{ID: 1, Pos: posAt(100)}})
	drainKinds(m)

	r, _ := m.Record(1)
	require.Equal(t, 1, r.Len())

	// Уничтоженная структура освобождает слот лимита без событий выгрузки
	m.ForgetStructure(1)
	enters, leaves := drainKinds(m)
	assert.Empty(t, enters)
	assert.Empty(t, leaves)
	assert.Equal(t, 0, r.Len())
	assert.False(t, m.Observed(1))

	// Слот снова доступен следующей структуре
	m.Scan(1, posAt(0), []StructureInfo{{ID: 2, Pos: posAt(200)}})
	enters, _ = drainKinds(m)
	require.Equal(t, []uint64{2}, enters)
	assert.True(t, r.Contains(2))
}

func TestObservedUnionAcrossObservers(t *testing.T) {
	m := NewManager(3000, 4500, 0)
	m.AddObserver(1)
	m.AddObserver(2)

	structures := []StructureInfo{{ID: 5, Pos: posAt(6000)}}

	m.Scan(1, posAt(0), structures)    // далеко
	m.Scan(2, posAt(5500), structures) // близко
	drainKinds(m)

	assert.True(t, m.Observed(5))

	// Второй наблюдатель ушёл — структура осталась без наблюдателей
	m.Scan(2, posAt(20000), structures)
	_, leaves := drainKinds(m)
	require.Equal(t, []uint64{5}, leaves)
	assert.False(t, m.Observed(5))
}

func TestRemoveObserverEmitsLeaves(t *testing.T) {
	m := NewManager(3000, 4500, 0)
	m.AddObserver(1)

	m.Scan(1, posAt(0), []StructureInfo{
		{ID: 1, Pos: posAt(100)},
		{ID: 2, Pos: posAt(200)},
	})
	drainKinds(m)

	m.RemoveObserver(1)
	_, leaves := drainKinds(m)
	assert.Len(t, leaves, 2)

	_, ok := m.Record(1)
	assert.False(t, ok)
}
