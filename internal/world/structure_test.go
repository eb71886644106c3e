package world

import (
	"errors"
	"testing"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world/block"
)

func newTestShip(t *testing.T) (*Structure, *block.Registry) {
	t.Helper()
	reg := block.DefaultRegistry()
	s := NewStructure(1, KindShip, "test-ship", vec.Vec3{X: 2, Y: 2, Z: 2}, coords.Position{})
	return s, reg
}

func TestSetBlockOutOfBounds(t *testing.T) {
	s, reg := newTestShip(t)

	_, err := s.SetBlock(vec.Vec3{X: 100, Y: 0, Z: 0}, block.New(block.StoneID), reg)
	if !errors.Is(err, ErrInvalidCoordinate) {
		t.Errorf("Ожидалась ErrInvalidCoordinate, получено %v", err)
	}

	_, err = s.SetBlock(vec.Vec3{X: -1, Y: 0, Z: 0}, block.New(block.StoneID), reg)
	if !errors.Is(err, ErrInvalidCoordinate) {
		t.Errorf("Ожидалась ErrInvalidCoordinate для отрицательной координаты, получено %v", err)
	}
}

func TestSetBlockUnknownID(t *testing.T) {
	s, reg := newTestShip(t)

	_, err := s.SetBlock(vec.Vec3{}, block.New(block.ID(9999)), reg)
	if !errors.Is(err, ErrUnknownBlock) {
		t.Errorf("Ожидалась ErrUnknownBlock, получено %v", err)
	}
}

func TestCoreBlockProtected(t *testing.T) {
	s, reg := newTestShip(t)

	corePos := vec.Vec3{X: 1, Y: 1, Z: 1}
	if _, err := s.SetBlock(corePos, block.New(block.ShipCoreID), reg); err != nil {
		t.Fatalf("Установка ядра: %v", err)
	}
	if _, err := s.SetBlock(vec.Vec3{X: 2, Y: 1, Z: 1}, block.New(block.ShipHullID), reg); err != nil {
		t.Fatalf("Установка обшивки: %v", err)
	}

	// Пока существует другой блок, ядро удалить нельзя
	_, err := s.SetBlock(corePos, block.New(block.AirID), reg)
	if !errors.Is(err, ErrCoreBlockProtected) {
		t.Fatalf("Ожидалась ErrCoreBlockProtected, получено %v", err)
	}

	// Удаляем обшивку — ядро остаётся последним блоком
	if _, err := s.SetBlock(vec.Vec3{X: 2, Y: 1, Z: 1}, block.New(block.AirID), reg); err != nil {
		t.Fatalf("Удаление обшивки: %v", err)
	}

	// Последний блок: удаление ядра разрешено
	if _, err := s.SetBlock(corePos, block.New(block.AirID), reg); err != nil {
		t.Fatalf("Удаление последнего ядра должно быть разрешено: %v", err)
	}

	if !s.IsMeltingDown() {
		t.Error("Структура без ядра должна начать разрушаться")
	}
	if s.BlockCount() != 0 {
		t.Errorf("Ожидалось 0 блоков, получено %d", s.BlockCount())
	}
}

func TestBlockCountTracking(t *testing.T) {
	s, reg := newTestShip(t)

	positions := []vec.Vec3{{X: 0}, {X: 1}, {X: 2}, {X: 3}}
	for _, p := range positions {
		if _, err := s.SetBlock(p, block.New(block.ShipHullID), reg); err != nil {
			t.Fatalf("SetBlock %v: %v", p, err)
		}
	}
	if s.BlockCount() != len(positions) {
		t.Errorf("Ожидалось %d блоков, получено %d", len(positions), s.BlockCount())
	}

	// Повторная установка того же блока счётчик не меняет
	if _, err := s.SetBlock(positions[0], block.New(block.ShipHullID), reg); err != nil {
		t.Fatalf("Повторная установка: %v", err)
	}
	if s.BlockCount() != len(positions) {
		t.Errorf("Счётчик изменился при повторной установке: %d", s.BlockCount())
	}

	if _, err := s.SetBlock(positions[0], block.New(block.AirID), reg); err != nil {
		t.Fatalf("Удаление: %v", err)
	}
	if s.BlockCount() != len(positions)-1 {
		t.Errorf("Ожидалось %d блоков после удаления, получено %d", len(positions)-1, s.BlockCount())
	}
}

func TestChunkCoordMapping(t *testing.T) {
	pos := vec.Vec3{X: 17, Y: 3, Z: 40}

	cc := ChunkCoordFor(pos)
	if !cc.Equals(vec.Vec3{X: 1, Y: 0, Z: 2}) {
		t.Errorf("Неверная координата чанка: %v", cc)
	}

	local := LocalBlockCoord(pos)
	if !local.Equals(vec.Vec3{X: 1, Y: 3, Z: 8}) {
		t.Errorf("Неверная локальная координата: %v", local)
	}
}

func TestOneChunkPerCoordinate(t *testing.T) {
	s, _ := newTestShip(t)

	c1 := s.ensureChunk(vec.Vec3{X: 1, Y: 1, Z: 1})
	c2 := s.ensureChunk(vec.Vec3{X: 1, Y: 1, Z: 1})

	if c1 != c2 {
		t.Error("Структура держит два чанка на одной координате")
	}
}
