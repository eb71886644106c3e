package world

import "github.com/lucaspoffo/Cosmos/internal/vec"

// Face определяет логическую грань кубической планеты. Планета — куб из
// шести граней, а не плоскость: это даёт полное 3D-покрытие поверхности
// без координатных сингулярностей на полюсах.
type Face uint8

const (
	FacePosY Face = iota // Верх
	FaceNegY             // Низ
	FacePosX
	FaceNegX
	FacePosZ
	FaceNegZ
)

// String возвращает строковое представление грани
func (f Face) String() string {
	switch f {
	case FacePosY:
		return "+y"
	case FaceNegY:
		return "-y"
	case FacePosX:
		return "+x"
	case FaceNegX:
		return "-x"
	case FacePosZ:
		return "+z"
	case FaceNegZ:
		return "-z"
	default:
		return "?"
	}
}

// UpAxis возвращает единичный вектор "вверх" для грани
func (f Face) UpAxis() vec.Vec3 {
	switch f {
	case FacePosY:
		return vec.Vec3{Y: 1}
	case FaceNegY:
		return vec.Vec3{Y: -1}
	case FacePosX:
		return vec.Vec3{X: 1}
	case FaceNegX:
		return vec.Vec3{X: -1}
	case FacePosZ:
		return vec.Vec3{Z: 1}
	default:
		return vec.Vec3{Z: -1}
	}
}

// FaceForChunk определяет грань планеты для чанка по доминирующей оси
// смещения его центра от центра структуры. На рёбрах куба выбор
// детерминирован порядком сравнения осей.
func FaceForChunk(s *Structure, coord vec.Vec3) Face {
	center := vec.Vec3Float{X: ChunkSize / 2, Y: ChunkSize / 2, Z: ChunkSize / 2}
	rel := s.ChunkRelativePosition(coord).Add(center)

	ax, ay, az := abs(rel.X), abs(rel.Y), abs(rel.Z)

	if ay >= ax && ay >= az {
		if rel.Y >= 0 {
			return FacePosY
		}
		return FaceNegY
	}
	if ax >= az {
		if rel.X >= 0 {
			return FacePosX
		}
		return FaceNegX
	}
	if rel.Z >= 0 {
		return FacePosZ
	}
	return FaceNegZ
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
