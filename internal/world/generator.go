package world

import (
	"math"

	"github.com/aquilax/go-perlin"

	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world/block"
)

// DefaultTemperature — температурный контекст по умолчанию, пока
// климатические зоны не вычисляются
const DefaultTemperature = 0.5

// PopulateRequest описывает запрос на генерацию содержимого чанка.
// Генерация обязана быть детерминированной: одинаковый запрос всегда
// даёт бит-идентичный результат.
type PopulateRequest struct {
	ChunkCoord  vec.Vec3 // Координата чанка внутри структуры
	DimsBlocks  vec.Vec3 // Размеры структуры в блоках
	Seed        int64    // Сид структуры
	Face        Face     // Грань планеты, которой принадлежит чанк
	Temperature float64  // Температурный контекст (0..1)
}

// Generator — контракт генератора содержимого чанков.
// Реальная биомная логика внешняя; здесь только интерфейс и
// детерминированные заглушки-реализации.
type Generator interface {
	Populate(req PopulateRequest) *ChunkData
}

//================ Поверхность планеты =================//

// GrassSurfaceGenerator генерирует травяную поверхность вдоль граней
// кубической планеты на основе шума Перлина
type GrassSurfaceGenerator struct {
	noise      *perlin.Perlin
	noiseScale float64
	relief     float64 // Амплитуда рельефа в блоках
}

// NewGrassSurfaceGenerator создаёт генератор поверхности с указанным сидом
func NewGrassSurfaceGenerator(seed int64) *GrassSurfaceGenerator {
	return &GrassSurfaceGenerator{
		noise:      perlin.NewPerlin(2.0, 2.0, 3, seed),
		noiseScale: 0.02,
		relief:     12,
	}
}

// Populate заполняет чанк поверхностью вдоль его грани планеты
func (g *GrassSurfaceGenerator) Populate(req PopulateRequest) *ChunkData {
	data := &ChunkData{}

	up := req.Face.UpAxis()
	half := req.DimsBlocks.ToFloat().Scale(0.5)

	// Каждая грань использует свой участок шумового поля
	faceOffset := float64(req.Face) * 10000.0

	// Температура сглаживает рельеф к полюсам температурной шкалы
	relief := g.relief * (0.5 + req.Temperature*0.5)

	for x := int64(0); x < ChunkSize; x++ {
		for y := int64(0); y < ChunkSize; y++ {
			for z := int64(0); z < ChunkSize; z++ {
				// Глобальная координата блока внутри структуры
				gp := vec.Vec3{
					X: req.ChunkCoord.X*ChunkSize + x,
					Y: req.ChunkCoord.Y*ChunkSize + y,
					Z: req.ChunkCoord.Z*ChunkSize + z,
				}

				// Смещение центра блока от центра структуры
				rel := vec.Vec3Float{
					X: float64(gp.X) + 0.5 - half.X,
					Y: float64(gp.Y) + 0.5 - half.Y,
					Z: float64(gp.Z) + 0.5 - half.Z,
				}

				// Высота вдоль оси грани и координаты на её плоскости
				elevation := rel.X*float64(up.X) + rel.Y*float64(up.Y) + rel.Z*float64(up.Z)
				u, v := tangentCoords(rel, up)

				n := g.noise.Noise2D(u*g.noiseScale+faceOffset, v*g.noiseScale)
				surface := maxHalf(half, up) - relief + (n+1.0)/2.0*relief

				var id block.ID
				switch {
				case elevation > surface:
					id = block.AirID
				case elevation > surface-1:
					id = block.GrassID
				case elevation > surface-4:
					id = block.DirtID
				default:
					id = block.StoneID
				}

				if id != block.AirID {
					data[x][y][z] = block.New(id)
				}
			}
		}
	}

	return data
}

// tangentCoords возвращает координаты точки на плоскости грани
func tangentCoords(rel vec.Vec3Float, up vec.Vec3) (float64, float64) {
	switch {
	case up.Y != 0:
		return rel.X, rel.Z
	case up.X != 0:
		return rel.Y, rel.Z
	default:
		return rel.X, rel.Y
	}
}

// maxHalf возвращает полуразмер структуры вдоль оси грани
func maxHalf(half vec.Vec3Float, up vec.Vec3) float64 {
	switch {
	case up.Y != 0:
		return half.Y
	case up.X != 0:
		return half.X
	default:
		return half.Z
	}
}

//================ Астероиды =================//

// AsteroidGenerator генерирует каменное тело неправильной формы:
// блок твёрдый, если зашумлённое расстояние от центра меньше радиуса
type AsteroidGenerator struct {
	noise      *perlin.Perlin
	noiseScale float64
}

// NewAsteroidGenerator создаёт генератор астероидов с указанным сидом
func NewAsteroidGenerator(seed int64) *AsteroidGenerator {
	return &AsteroidGenerator{
		noise:      perlin.NewPerlin(2.0, 2.0, 3, seed),
		noiseScale: 0.1,
	}
}

// Populate заполняет чанк астероидной породой
func (g *AsteroidGenerator) Populate(req PopulateRequest) *ChunkData {
	data := &ChunkData{}

	half := req.DimsBlocks.ToFloat().Scale(0.5)
	radius := math.Min(half.X, math.Min(half.Y, half.Z)) - 1

	for x := int64(0); x < ChunkSize; x++ {
		for y := int64(0); y < ChunkSize; y++ {
			for z := int64(0); z < ChunkSize; z++ {
				rel := vec.Vec3Float{
					X: float64(req.ChunkCoord.X*ChunkSize+x) + 0.5 - half.X,
					Y: float64(req.ChunkCoord.Y*ChunkSize+y) + 0.5 - half.Y,
					Z: float64(req.ChunkCoord.Z*ChunkSize+z) + 0.5 - half.Z,
				}

				n := g.noise.Noise3D(rel.X*g.noiseScale, rel.Y*g.noiseScale, rel.Z*g.noiseScale)
				if rel.Length()+n*radius*0.35 < radius {
					data[x][y][z] = block.New(block.StoneID)
				}
			}
		}
	}

	return data
}

//================ Корабли =================//

// EmptyGenerator возвращает пустые чанки. Используется для кораблей:
// их содержимое создаётся строительством, а не генерацией.
type EmptyGenerator struct{}

// Populate возвращает пустой буфер
func (EmptyGenerator) Populate(PopulateRequest) *ChunkData {
	return &ChunkData{}
}
