package block

import "fmt"

// Константы ID базовых блоков
const (
	AirID   ID = iota // 0
	StoneID           // 1
	DirtID            // 2
	GrassID           // 3

	// Корабельные блоки (начиная с 100)
	ShipCoreID   ID = 100 // Ядро корабля, защищено от удаления
	ShipHullID   ID = 101
	ThrusterID   ID = 102
	EnergyCellID ID = 103
	LaserCannonID ID = 104
)

// Descriptor описывает тип блока: связка числового ID, стабильного
// строкового ID и свойств поведения
type Descriptor struct {
	ID       ID
	StringID string // Стабильный идентификатор вида "cosmos:stone"
	Name     string
	Solid    bool // Участвует в коллизиях
	Hardness float64
	ShipCore bool // Блок является ядром корабля
}

// Registry хранит описания блоков. Передаётся явно в компоненты,
// которым нужно разрешать ID; инициализируется до создания структур.
type Registry struct {
	byID       map[ID]*Descriptor
	byStringID map[string]*Descriptor
}

// NewRegistry создаёт пустой реестр блоков
func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[ID]*Descriptor),
		byStringID: make(map[string]*Descriptor),
	}
}

// Register добавляет описание блока в реестр
func (r *Registry) Register(d Descriptor) error {
	if _, exists := r.byID[d.ID]; exists {
		return fmt.Errorf("блок с ID %d уже зарегистрирован", d.ID)
	}
	if _, exists := r.byStringID[d.StringID]; exists {
		return fmt.Errorf("блок %q уже зарегистрирован", d.StringID)
	}

	copy := d
	r.byID[d.ID] = &copy
	r.byStringID[d.StringID] = &copy
	return nil
}

// Get возвращает описание блока по числовому ID
func (r *Registry) Get(id ID) (*Descriptor, bool) {
	d, exists := r.byID[id]
	return d, exists
}

// FromStringID возвращает описание блока по строковому ID
func (r *Registry) FromStringID(stringID string) (*Descriptor, bool) {
	d, exists := r.byStringID[stringID]
	return d, exists
}

// IsValid проверяет, является ли ID допустимым идентификатором блока
func (r *Registry) IsValid(id ID) bool {
	_, exists := r.byID[id]
	return exists
}

// DefaultRegistry возвращает реестр с базовым набором блоков
func DefaultRegistry() *Registry {
	r := NewRegistry()

	base := []Descriptor{
		{ID: AirID, StringID: "cosmos:air", Name: "Air", Solid: false},
		{ID: StoneID, StringID: "cosmos:stone", Name: "Stone", Solid: true, Hardness: 10},
		{ID: DirtID, StringID: "cosmos:dirt", Name: "Dirt", Solid: true, Hardness: 3},
		{ID: GrassID, StringID: "cosmos:grass", Name: "Grass", Solid: true, Hardness: 3},
		{ID: ShipCoreID, StringID: "cosmos:ship_core", Name: "Ship Core", Solid: true, Hardness: 20, ShipCore: true},
		{ID: ShipHullID, StringID: "cosmos:ship_hull", Name: "Ship Hull", Solid: true, Hardness: 15},
		{ID: ThrusterID, StringID: "cosmos:thruster", Name: "Thruster", Solid: true, Hardness: 8},
		{ID: EnergyCellID, StringID: "cosmos:energy_cell", Name: "Energy Cell", Solid: true, Hardness: 8},
		{ID: LaserCannonID, StringID: "cosmos:laser_cannon", Name: "Laser Cannon", Solid: true, Hardness: 8},
	}

	for _, d := range base {
		if err := r.Register(d); err != nil {
			// Базовый набор фиксирован, конфликт ID — ошибка программиста
			panic(err)
		}
	}

	return r
}
