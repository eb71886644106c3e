package protocol

import (
	"errors"
	"fmt"
)

// Ошибки протокола. Они привязаны к соединению: после порога
// подряд идущих ошибок декодирования клиент отключается.
var (
	// ErrMalformedMessage — сообщение не разобралось как JSON-конверт
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownMessageType — неизвестный тип сообщения
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrPayloadTooLarge — полезная нагрузка превышает лимит
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrChunkCorrupt — содержимое чанка не распаковалось или имеет
	// неверный размер
	ErrChunkCorrupt = errors.New("chunk payload corrupt")
)

// MaxPayloadSize ограничивает размер полезной нагрузки одного сообщения
const MaxPayloadSize = 1 << 20 // 1 МиБ

// WrapMalformed оборачивает ошибку разбора с сохранением типа сообщения
func WrapMalformed(msgType string, err error) error {
	return fmt.Errorf("%w: type=%q: %v", ErrMalformedMessage, msgType, err)
}

// IsDecodeError сообщает, является ли ошибка ошибкой декодирования,
// после которой соединение остаётся пригодным (в отличие от ошибок I/O)
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrMalformedMessage) || errors.Is(err, ErrUnknownMessageType)
}
