// Package coords реализует секторную систему координат вселенной.
// Позиция задаётся парой (сектор, локальное смещение): сектор — целочисленный
// адрес кубической области, локальное смещение — ограниченный float-вектор
// внутри неё. Все межсекторные вычисления расстояний выполняются через
// вычитание секторов до вычитания локальных смещений, чтобы исключить
// катастрофическую потерю точности на межзвёздных дистанциях.
package coords

import (
	"fmt"
	"math"

	"github.com/lucaspoffo/Cosmos/internal/vec"
)

// SectorEdge — длина ребра сектора в мировых единицах.
// Локальное смещение после нормализации лежит в [-SectorEdge/2, SectorEdge/2).
const SectorEdge = 20000.0

// Position представляет глобально однозначную позицию во вселенной
type Position struct {
	Sector vec.Vec3      `json:"sector"`
	Local  vec.Vec3Float `json:"local"`
}

// NewPosition создаёт нормализованную позицию
func NewPosition(sector vec.Vec3, local vec.Vec3Float) Position {
	return Position{Sector: sector, Local: local}.Normalize()
}

// Normalize сворачивает вышедшее за границы локальное смещение обратно
// в допустимый диапазон, корректируя сектор. Ошибка никогда не копится
// молча: пересечение границы — это инкремент/декремент сектора и перенос
// остатка.
func (p Position) Normalize() Position {
	sx, lx := normalizeAxis(p.Sector.X, p.Local.X)
	sy, ly := normalizeAxis(p.Sector.Y, p.Local.Y)
	sz, lz := normalizeAxis(p.Sector.Z, p.Local.Z)

	return Position{
		Sector: vec.Vec3{X: sx, Y: sy, Z: sz},
		Local:  vec.Vec3Float{X: lx, Y: ly, Z: lz},
	}
}

// normalizeAxis переносит целое число секторов из локальной координаты в секторную
func normalizeAxis(sector int64, local float64) (int64, float64) {
	const half = SectorEdge / 2

	if local >= -half && local < half {
		return sector, local
	}

	shift := math.Floor((local + half) / SectorEdge)
	return sector + int64(shift), local - shift*SectorEdge
}

// IsNormalized проверяет, лежит ли локальное смещение в допустимом диапазоне
func (p Position) IsNormalized() bool {
	const half = SectorEdge / 2
	return p.Local.X >= -half && p.Local.X < half &&
		p.Local.Y >= -half && p.Local.Y < half &&
		p.Local.Z >= -half && p.Local.Z < half
}

// ToGlobal возвращает каноническое глобальное представление позиции.
// Использовать только для сравнений расстояний/упорядочивания: на больших
// секторах float64 теряет точность, поэтому для арифметики позиций
// применяются Sub/DistanceTo.
func (p Position) ToGlobal() vec.Vec3Float {
	return p.Sector.ToFloat().Scale(SectorEdge).Add(p.Local)
}

// Sub возвращает вектор от other к p с посекторным вычитанием:
// сначала разность секторов, затем разность локальных смещений
func (p Position) Sub(other Position) vec.Vec3Float {
	sectorDelta := p.Sector.Sub(other.Sector).ToFloat().Scale(SectorEdge)
	return sectorDelta.Add(p.Local.Sub(other.Local))
}

// Add покомпонентно складывает позиции (сектора отдельно от локальных
// смещений) и нормализует результат. Точность не теряется: целая часть
// дистанции остаётся в секторной арифметике.
func (p Position) Add(other Position) Position {
	return Position{
		Sector: p.Sector.Add(other.Sector),
		Local:  p.Local.Add(other.Local),
	}.Normalize()
}

// RelativeTo выражает позицию относительно нового origin. Используется
// при слиянии/разделении референсных фреймов: глобальная позиция члена
// не меняется, меняется только представление.
func (p Position) RelativeTo(origin Position) Position {
	return Position{
		Sector: p.Sector.Sub(origin.Sector),
		Local:  p.Local.Sub(origin.Local),
	}.Normalize()
}

// DistanceTo возвращает точное расстояние между позициями
func (p Position) DistanceTo(other Position) float64 {
	return p.Sub(other).Length()
}

// DistanceSqTo возвращает квадрат расстояния (для сравнений без корня)
func (p Position) DistanceSqTo(other Position) float64 {
	return p.Sub(other).LengthSq()
}

// Shift смещает позицию на вектор и нормализует результат
func (p Position) Shift(delta vec.Vec3Float) Position {
	return Position{
		Sector: p.Sector,
		Local:  p.Local.Add(delta),
	}.Normalize()
}

// String возвращает строковое представление для логов
func (p Position) String() string {
	return fmt.Sprintf("sector(%d,%d,%d) local(%.1f,%.1f,%.1f)",
		p.Sector.X, p.Sector.Y, p.Sector.Z, p.Local.X, p.Local.Y, p.Local.Z)
}
