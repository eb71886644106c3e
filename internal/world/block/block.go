// Package block определяет блоки структур и реестр их описаний.
// Ядро хранит только числовой ID, ориентацию и прочность блока; поведение
// разрешается через внешний реестр и никогда не встраивается в данные.
package block

// ID представляет числовой идентификатор типа блока
type ID uint16

// Rotation задаёт ориентацию блока: к какой грани он повёрнут
type Rotation uint8

// Грани блока
const (
	RotPosY Rotation = iota // Вверх (по умолчанию)
	RotNegY                 // Вниз
	RotPosX
	RotNegX
	RotPosZ
	RotNegZ
)

// FullHealth — прочность неповреждённого блока
const FullHealth uint8 = 255

// Block представляет одну запись блока внутри чанка
type Block struct {
	ID       ID       `json:"id"`
	Rotation Rotation `json:"rot,omitempty"`
	Health   uint8    `json:"hp,omitempty"`
}

// New создаёт неповреждённый блок с ориентацией по умолчанию
func New(id ID) Block {
	return Block{ID: id, Rotation: RotPosY, Health: FullHealth}
}

// IsAir проверяет, пустая ли запись
func (b Block) IsAir() bool {
	return b.ID == AirID
}
