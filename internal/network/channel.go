// Package network реализует транспорт сервера: надёжный канал игровых
// сообщений (KCP или TCP) и ненадёжный UDP-канал позиций.
package network

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/lucaspoffo/Cosmos/internal/protocol"
)

// ConnectionStats содержит статистику соединения
type ConnectionStats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
	DecodeErrors     uint64
	LastActivity     time.Time
	RemoteAddr       string
}

// Channel — надёжный канал игровых сообщений поверх net.Conn.
// Кадрирование: 4 байта длины (little-endian) + JSON-конверт.
// Работает одинаково для TCP и KCP (kcp.UDPSession — это net.Conn).
type Channel struct {
	conn net.Conn

	writeMu sync.Mutex
	statsMu sync.Mutex
	stats   ConnectionStats

	readTimeout time.Duration
}

// NewChannel оборачивает установленное соединение
func NewChannel(conn net.Conn, readTimeout time.Duration) *Channel {
	return &Channel{
		conn:        conn,
		readTimeout: readTimeout,
		stats:       ConnectionStats{RemoteAddr: conn.RemoteAddr().String()},
	}
}

// Send сериализует и отправляет сообщение
func (ch *Channel) Send(msg *protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(data) > protocol.MaxPayloadSize {
		return fmt.Errorf("%w: %d байт", protocol.ErrPayloadTooLarge, len(data))
	}

	frame := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	ch.writeMu.Lock()
	_, err = ch.conn.Write(frame)
	ch.writeMu.Unlock()
	if err != nil {
		return err
	}

	ch.statsMu.Lock()
	ch.stats.MessagesSent++
	ch.stats.BytesSent += uint64(len(frame))
	ch.statsMu.Unlock()
	return nil
}

// Receive блокирующе читает следующее сообщение.
// Ошибки декодирования возвращаются как protocol.ErrMalformedMessage;
// соединение при этом остаётся пригодным для чтения.
func (ch *Channel) Receive() (*protocol.Message, error) {
	if ch.readTimeout > 0 {
		_ = ch.conn.SetReadDeadline(time.Now().Add(ch.readTimeout))
	}

	sizeBuf := make([]byte, 4)
	if _, err := io.ReadFull(ch.conn, sizeBuf); err != nil {
		return nil, err
	}

	size := binary.LittleEndian.Uint32(sizeBuf)
	if size > protocol.MaxPayloadSize {
		// Кадр такого размера не восстановим: дальше в потоке мусор
		return nil, fmt.Errorf("%w: кадр %d байт", protocol.ErrPayloadTooLarge, size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(ch.conn, data); err != nil {
		return nil, err
	}

	ch.statsMu.Lock()
	ch.stats.MessagesReceived++
	ch.stats.BytesReceived += uint64(4 + size)
	ch.stats.LastActivity = time.Now()
	ch.statsMu.Unlock()

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		ch.statsMu.Lock()
		ch.stats.DecodeErrors++
		ch.statsMu.Unlock()
		return nil, protocol.WrapMalformed("", err)
	}
	if msg.Type == "" {
		ch.statsMu.Lock()
		ch.stats.DecodeErrors++
		ch.statsMu.Unlock()
		return nil, protocol.WrapMalformed("", fmt.Errorf("пустой тип"))
	}
	return &msg, nil
}

// Stats возвращает снимок статистики канала
func (ch *Channel) Stats() ConnectionStats {
	ch.statsMu.Lock()
	defer ch.statsMu.Unlock()
	return ch.stats
}

// RemoteAddr возвращает адрес удалённой стороны
func (ch *Channel) RemoteAddr() string {
	return ch.conn.RemoteAddr().String()
}

// Close закрывает нижележащее соединение
func (ch *Channel) Close() error {
	return ch.conn.Close()
}
