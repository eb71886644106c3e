package vec

import "math"

// Vec3Float представляет трехмерный вектор с плавающими координатами.
// Используется для локальных позиций внутри сектора и для геометрии чанков.
type Vec3Float struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add складывает два вектора
func (v Vec3Float) Add(other Vec3Float) Vec3Float {
	return Vec3Float{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Sub вычитает другой вектор
func (v Vec3Float) Sub(other Vec3Float) Vec3Float {
	return Vec3Float{
		X: v.X - other.X,
		Y: v.Y - other.Y,
		Z: v.Z - other.Z,
	}
}

// Scale умножает вектор на скаляр
func (v Vec3Float) Scale(s float64) Vec3Float {
	return Vec3Float{
		X: v.X * s,
		Y: v.Y * s,
		Z: v.Z * s,
	}
}

// Length возвращает длину вектора
func (v Vec3Float) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// LengthSq возвращает квадрат длины вектора (без извлечения корня)
func (v Vec3Float) LengthSq() float64 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// DistanceTo возвращает расстояние до другого вектора
func (v Vec3Float) DistanceTo(other Vec3Float) float64 {
	return v.Sub(other).Length()
}

// MaxComponent возвращает максимальную по модулю компоненту
func (v Vec3Float) MaxComponent() float64 {
	m := math.Abs(v.X)
	if a := math.Abs(v.Y); a > m {
		m = a
	}
	if a := math.Abs(v.Z); a > m {
		m = a
	}
	return m
}
