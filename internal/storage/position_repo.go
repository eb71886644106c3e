package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/world"
)

// PlayerPosition — последняя известная позиция игрока
type PlayerPosition struct {
	PlayerID  uint64          `json:"player_id"`
	FrameID   uint64          `json:"frame_id"`
	Position  coords.Position `json:"position"`
	Rotation  world.Quat      `json:"rotation"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PositionRepo хранит позиции игроков между сессиями
type PositionRepo interface {
	Save(ctx context.Context, pos *PlayerPosition) error
	Load(ctx context.Context, playerID uint64) (*PlayerPosition, bool, error)
	Delete(ctx context.Context, playerID uint64) error
	Close() error
}

//================ In-Memory реализация =================//

type memoryPositionRepo struct {
	mu        sync.RWMutex
	positions map[uint64]PlayerPosition
}

// NewMemoryPositionRepo создаёт репозиторий позиций в памяти
func NewMemoryPositionRepo() PositionRepo {
	return &memoryPositionRepo{positions: make(map[uint64]PlayerPosition)}
}

func (r *memoryPositionRepo) Save(_ context.Context, pos *PlayerPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[pos.PlayerID] = *pos
	return nil
}

func (r *memoryPositionRepo) Load(_ context.Context, playerID uint64) (*PlayerPosition, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.positions[playerID]
	if !ok {
		return nil, false, nil
	}
	return &pos, true, nil
}

func (r *memoryPositionRepo) Delete(_ context.Context, playerID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.positions, playerID)
	return nil
}

func (r *memoryPositionRepo) Close() error { return nil }

//================ Redis реализация =================//

// RedisPositionRepo хранит позиции игроков в Redis для быстрого
// доступа из других узлов
type RedisPositionRepo struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisPositionRepo подключается к Redis и проверяет соединение
func NewRedisPositionRepo(addr string) (*RedisPositionRepo, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis подключение: %w", err)
	}

	return &RedisPositionRepo{
		client:    client,
		keyPrefix: "cosmos:pos:",
		ttl:       24 * time.Hour,
	}, nil
}

func (r *RedisPositionRepo) key(playerID uint64) string {
	return fmt.Sprintf("%s%d", r.keyPrefix, playerID)
}

func (r *RedisPositionRepo) Save(ctx context.Context, pos *PlayerPosition) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(pos.PlayerID), data, r.ttl).Err()
}

func (r *RedisPositionRepo) Load(ctx context.Context, playerID uint64) (*PlayerPosition, bool, error) {
	data, err := r.client.Get(ctx, r.key(playerID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var pos PlayerPosition
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, false, err
	}
	return &pos, true, nil
}

func (r *RedisPositionRepo) Delete(ctx context.Context, playerID uint64) error {
	return r.client.Del(ctx, r.key(playerID)).Err()
}

func (r *RedisPositionRepo) Close() error {
	return r.client.Close()
}
