// Package protocol определяет формат сетевых сообщений: JSON-конверт
// с типизированными полезными нагрузками и кодек чанков на zstd.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world"
)

// Константы типов сообщений
const (
	// Клиент -> Сервер
	MsgTypeJoin          = "join"           // Вход в игру
	MsgTypePlayerMove    = "player_move"    // Перемещение игрока (доверенное)
	MsgTypeBlockBreak    = "block_break"    // Разрушение блока
	MsgTypeBlockPlace    = "block_place"    // Установка блока
	MsgTypeBlockInteract = "block_interact" // Взаимодействие с блоком
	MsgTypeCreateShip    = "create_ship"    // Создание нового корабля
	MsgTypeRequestEntity = "request_entity" // Запрос неизвестной структуры
	MsgTypeDisconnect    = "disconnect"     // Отключение

	// Сервер -> Клиент
	MsgTypeJoinResponse     = "join_response"     // Ответ на вход
	MsgTypeMOTD             = "motd"              // Сообщение дня
	MsgTypePlayerCreate     = "player_create"     // Появление игрока
	MsgTypePlayerRemove     = "player_remove"     // Уход игрока
	MsgTypeStructureSpawn   = "structure_spawn"   // Появление структуры
	MsgTypeStructureDespawn = "structure_despawn" // Исчезновение структуры
	MsgTypeChunkData        = "chunk_data"        // Данные чанка структуры
	MsgTypeBlockChanged     = "block_changed"     // Изменения блоков
	MsgTypeFrameReassigned  = "frame_reassigned"  // Смена системы отсчёта
	MsgTypeServerMessage    = "server_message"    // Системное сообщение

	// Оба направления (UDP, без гарантий)
	MsgTypePositionUpdate = "position_update" // Позиции сущностей
)

// Причины исчезновения структур
const (
	DespawnOutOfRange  = "out_of_range" // Вышла за радиус выгрузки
	DespawnMeltingDown = "melting_down" // Корабль потерял ядро
	DespawnRemoved     = "removed"      // Удалена сервером
)

// Message представляет базовую структуру сетевого сообщения
type Message struct {
	Type      string          `json:"type"`          // Тип сообщения
	Timestamp int64           `json:"timestamp"`     // Временная метка (мс)
	Data      json.RawMessage `json:"data"`          // Полезная нагрузка (зависит от типа)
	ClientID  string          `json:"client_id"`     // Идентификатор клиента
	Sequence  uint32          `json:"sequence"`      // Порядковый номер сообщения
	Ack       uint32          `json:"ack,omitempty"` // Подтверждение (опционально)
}

// NewMessage создает новое сообщение указанного типа
func NewMessage(msgType string, data interface{}) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixNano() / int64(time.Millisecond),
		Data:      dataBytes,
	}, nil
}

// DecodeData десериализует полезную нагрузку сообщения в v
func (m *Message) DecodeData(v interface{}) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return WrapMalformed(m.Type, err)
	}
	return nil
}

// Структуры данных для сообщений от клиента к серверу

// JoinRequest представляет запрос на вход в игру
type JoinRequest struct {
	Name string `json:"name"` // Имя игрока
}

// PlayerMoveRequest — доверенное перемещение игрока. Клиент присылает
// готовую позицию в своей системе отсчёта; сервер не ревалидирует её.
type PlayerMoveRequest struct {
	FrameID  uint64          `json:"frame_id"` // Система отсчёта клиента
	Position coords.Position `json:"position"` // Позиция относительно начала кадра
	Rotation world.Quat      `json:"rotation"` // Ориентация игрока
}

// BlockBreakRequest представляет запрос на разрушение блока
type BlockBreakRequest struct {
	StructureID uint64   `json:"structure_id"` // ID структуры
	Pos         vec.Vec3 `json:"pos"`          // Координата блока в структуре
}

// BlockPlaceRequest представляет запрос на установку блока.
// ExpectedID — блок, который клиент видит на этом месте: при
// расхождении с сервером запрос отклоняется (защита от рассинхрона).
type BlockPlaceRequest struct {
	StructureID uint64         `json:"structure_id"` // ID структуры
	Pos         vec.Vec3       `json:"pos"`          // Координата блока в структуре
	BlockID     uint16         `json:"block_id"`     // Устанавливаемый блок
	Rotation    uint8          `json:"rotation"`     // Ориентация блока
	ExpectedID  uint16         `json:"expected_id"`  // Блок, видимый клиентом
	ExpectedPos *vec.Vec3Float `json:"expected_pos,omitempty"`
}

// BlockInteractRequest представляет взаимодействие с блоком
type BlockInteractRequest struct {
	StructureID uint64   `json:"structure_id"` // ID структуры
	Pos         vec.Vec3 `json:"pos"`          // Координата блока
	Alternate   bool     `json:"alternate"`    // Альтернативное действие
}

// CreateShipRequest представляет запрос на создание корабля
type CreateShipRequest struct {
	Name string `json:"name,omitempty"` // Имя корабля (опционально)
}

// RequestEntityMessage — запрос структуры, на которую клиент получил
// ссылку раньше её spawn-сообщения
type RequestEntityMessage struct {
	StructureID uint64 `json:"structure_id"` // ID неизвестной структуры
}

// Структуры данных для сообщений от сервера к клиенту

// JoinResponse представляет ответ на вход в игру
type JoinResponse struct {
	Success  bool   `json:"success"`           // Успешность входа
	Message  string `json:"message,omitempty"` // Причина отказа
	PlayerID uint64 `json:"player_id"`         // ID игрока
	FrameID  uint64 `json:"frame_id"`          // Начальная система отсчёта
}

// MOTDMessage представляет сообщение дня
type MOTDMessage struct {
	Motd string `json:"motd"` // Текст сообщения
}

// PlayerCreateMessage представляет появление игрока в мире
type PlayerCreateMessage struct {
	PlayerID uint64          `json:"player_id"` // ID игрока
	Name     string          `json:"name"`      // Имя игрока
	FrameID  uint64          `json:"frame_id"`  // Система отсчёта
	Position coords.Position `json:"position"`  // Позиция относительно начала кадра
}

// PlayerRemoveMessage представляет уход игрока из мира
type PlayerRemoveMessage struct {
	PlayerID uint64 `json:"player_id"` // ID игрока
}

// StructureSpawnMessage представляет появление структуры. Несёт
// полные габариты, чтобы клиент сразу выделил хранилище чанков.
type StructureSpawnMessage struct {
	StructureID uint64          `json:"structure_id"` // ID структуры
	Kind        string          `json:"kind"`         // planet / asteroid / ship
	FrameID     uint64          `json:"frame_id"`     // Система отсчёта
	Position    coords.Position `json:"position"`     // Позиция относительно начала кадра
	Rotation    world.Quat      `json:"rotation"`     // Ориентация
	DimsChunks  vec.Vec3        `json:"dims_chunks"`  // Габариты в чанках
	Seed        int64           `json:"seed"`         // Семя генерации
	Temperature float64         `json:"temperature"`  // Температура (планеты)
}

// StructureDespawnMessage представляет исчезновение структуры
type StructureDespawnMessage struct {
	StructureID uint64 `json:"structure_id"`     // ID структуры
	Reason      string `json:"reason,omitempty"` // Причина (см. Despawn*)
}

// ChunkDataMessage несёт содержимое одного чанка структуры.
// Blocks — zstd-сжатый массив блоков (см. EncodeChunkBlocks).
type ChunkDataMessage struct {
	StructureID uint64   `json:"structure_id"` // ID структуры
	Coord       vec.Vec3 `json:"coord"`        // Координата чанка
	Blocks      []byte   `json:"blocks"`       // Сжатое содержимое
	NonAir      int      `json:"non_air"`      // Непустых блоков (контроль)
}

// BlockChange представляет одно изменение блока
type BlockChange struct {
	StructureID uint64   `json:"structure_id"` // ID структуры
	Pos         vec.Vec3 `json:"pos"`          // Координата блока
	BlockID     uint16   `json:"block_id"`     // Новый блок
	Rotation    uint8    `json:"rotation"`     // Ориентация
	Health      uint8    `json:"health"`       // Здоровье блока
}

// BlockChangedMessage представляет пакет изменений блоков за тик
type BlockChangedMessage struct {
	Changes []BlockChange `json:"changes"` // Изменения в порядке применения
}

// FrameReassignedMessage — перенос сущности в другую систему отсчёта.
// Позиция уже выражена относительно начала нового кадра.
type FrameReassignedMessage struct {
	EntityID    uint64          `json:"entity_id"`    // ID сущности
	IsPlayer    bool            `json:"is_player"`    // Игрок или структура
	FrameID     uint64          `json:"frame_id"`     // Новая система отсчёта
	FrameOrigin coords.Position `json:"frame_origin"` // Начало кадра (глобально)
	Local       coords.Position `json:"local"`        // Позиция в новом кадре
}

// ServerMessage представляет системное сообщение от сервера
type ServerMessage struct {
	Level   string `json:"level"`   // info, warning, error
	Content string `json:"content"` // Содержимое сообщения
}

// EntityPosition представляет позицию одной сущности
type EntityPosition struct {
	EntityID uint64          `json:"entity_id"` // ID сущности
	FrameID  uint64          `json:"frame_id"`  // Система отсчёта
	Position coords.Position `json:"position"`  // Позиция в кадре
	Rotation world.Quat      `json:"rotation"`  // Ориентация
	Velocity vec.Vec3Float   `json:"velocity"`  // Скорость
	Tick     uint64          `json:"tick"`      // Серверный тик (для отбора свежих)
}

// PositionUpdateMessage несёт позиции сущностей (UDP, последняя побеждает)
type PositionUpdateMessage struct {
	Positions []EntityPosition `json:"positions"`
}
