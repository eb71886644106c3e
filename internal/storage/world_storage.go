// Package storage отвечает за постоянное хранение мира (BadgerDB)
// и быстрый доступ к позициям игроков (Redis или память).
package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/logging"
	"github.com/lucaspoffo/Cosmos/internal/protocol"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world"
)

// WorldStorage хранит структуры мира в BadgerDB.
// Ключи:
//
//	structure:<id>:meta          — метаданные структуры (JSON)
//	structure:<id>:chunk:<x>:<y>:<z> — содержимое чанка (zstd)
type WorldStorage struct {
	db      *badger.DB
	mutex   sync.RWMutex
	isReady bool
}

// StructureMeta — сериализуемые метаданные структуры
type StructureMeta struct {
	ID          uint64          `json:"id"`
	Kind        uint8           `json:"kind"`
	Name        string          `json:"name"`
	DimsChunks  vec.Vec3        `json:"dims_chunks"`
	Position    coords.Position `json:"position"`
	Rotation    world.Quat      `json:"rotation"`
	Seed        int64           `json:"seed"`
	MeltingDown bool            `json:"melting_down,omitempty"`
}

// NewWorldStorage открывает хранилище мира по указанному пути
func NewWorldStorage(dataPath string) (*WorldStorage, error) {
	opts := badger.DefaultOptions(filepath.Join(dataPath, "world"))
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &WorldStorage{db: db, isReady: true}, nil
}

// NewMemoryWorldStorage открывает хранилище в памяти (для тестов)
func NewMemoryWorldStorage() (*WorldStorage, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &WorldStorage{db: db, isReady: true}, nil
}

// Close закрывает хранилище данных
func (ws *WorldStorage) Close() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if !ws.isReady {
		return nil
	}
	ws.isReady = false
	return ws.db.Close()
}

func metaKey(id uint64) []byte {
	return []byte(fmt.Sprintf("structure:%d:meta", id))
}

func chunkKey(id uint64, coord vec.Vec3) []byte {
	return []byte(fmt.Sprintf("structure:%d:chunk:%d:%d:%d", id, coord.X, coord.Y, coord.Z))
}

// SaveStructure сохраняет метаданные структуры и все материализованные чанки
func (ws *WorldStorage) SaveStructure(s *world.Structure) error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	meta := StructureMeta{
		ID:          s.ID,
		Kind:        uint8(s.Kind),
		Name:        s.Name,
		DimsChunks:  s.Dims(),
		Position:    s.Position(),
		Rotation:    s.Rotation(),
		Seed:        s.Seed(),
		MeltingDown: s.IsMeltingDown(),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	chunks := s.Chunks()

	return ws.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(metaKey(s.ID), metaBytes); err != nil {
			return err
		}
		for coord, c := range chunks {
			if !c.IsPopulated() {
				continue
			}
			snap := c.Snapshot()
			if err := txn.Set(chunkKey(s.ID, coord), protocol.EncodeChunkBlocks(&snap)); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadStructure восстанавливает структуру по ID. Возвращает
// world.ErrUnknownStructure, если метаданные отсутствуют.
func (ws *WorldStorage) LoadStructure(id uint64, st *world.Store) (*world.Structure, error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var meta StructureMeta
	err := ws.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, world.ErrUnknownStructure
	}
	if err != nil {
		return nil, err
	}

	s := world.NewStructure(meta.ID, world.StructureKind(meta.Kind), meta.Name, meta.DimsChunks, meta.Position)
	s.SetRotation(meta.Rotation)
	s.SetSeed(meta.Seed)

	prefix := []byte(fmt.Sprintf("structure:%d:chunk:", id))
	err = ws.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			coord, err := parseChunkKey(string(item.Key()), string(prefix))
			if err != nil {
				logging.Warn("Пропущен повреждённый ключ чанка: %s", item.Key())
				continue
			}

			err = item.Value(func(val []byte) error {
				data, err := protocol.DecodeChunkBlocks(val)
				if err != nil {
					return err
				}
				return s.RestoreChunk(coord, data, st.Registry())
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	st.InsertStructure(s)
	return s, nil
}

// LoadAll восстанавливает все сохранённые структуры в Store
func (ws *WorldStorage) LoadAll(st *world.Store) ([]*world.Structure, error) {
	ids, err := ws.ListStructureIDs()
	if err != nil {
		return nil, err
	}

	out := make([]*world.Structure, 0, len(ids))
	for _, id := range ids {
		s, err := ws.LoadStructure(id, st)
		if err != nil {
			return nil, fmt.Errorf("структура %d: %w", id, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ListStructureIDs возвращает ID всех сохранённых структур
func (ws *WorldStorage) ListStructureIDs() ([]uint64, error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	var ids []uint64
	prefix := []byte("structure:")

	err := ws.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			if !strings.HasSuffix(key, ":meta") {
				continue
			}
			var id uint64
			if _, err := fmt.Sscanf(key, "structure:%d:meta", &id); err != nil {
				continue
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// DeleteStructure удаляет структуру и все её чанки
func (ws *WorldStorage) DeleteStructure(id uint64) error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	prefix := []byte(fmt.Sprintf("structure:%d:", id))

	return ws.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func parseChunkKey(key, prefix string) (vec.Vec3, error) {
	var coord vec.Vec3
	rest := strings.TrimPrefix(key, prefix)
	if _, err := fmt.Sscanf(rest, "%d:%d:%d", &coord.X, &coord.Y, &coord.Z); err != nil {
		return vec.Vec3{}, err
	}
	return coord, nil
}
