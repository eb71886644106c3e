package vec

// Vec3 представляет трехмерный вектор с целочисленными координатами.
// Компоненты 64-битные: используется для секторов вселенной и не должен
// переполняться на реалистичных игровых дистанциях.
type Vec3 struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
	Z int64 `json:"z"`
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Sub вычитает другой вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{
		X: v.X - other.X,
		Y: v.Y - other.Y,
		Z: v.Z - other.Z,
	}
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// ToFloat преобразует в вектор с плавающими координатами
func (v Vec3) ToFloat() Vec3Float {
	return Vec3Float{
		X: float64(v.X),
		Y: float64(v.Y),
		Z: float64(v.Z),
	}
}
