package network

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeSession(t *testing.T, id string) *ClientSession {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return &ClientSession{ID: id, channel: NewChannel(server, time.Second)}
}

func TestNoteDecodeErrorDisconnectsPastThreshold(t *testing.T) {
	gs := &GameServer{
		sessions:        make(map[string]*ClientSession),
		maxDecodeErrors: 3,
	}
	session := newPipeSession(t, "c1")
	gs.sessions[session.ID] = session

	// До порога сессия живёт
	gs.NoteDecodeError("c1")
	gs.NoteDecodeError("c1")
	_, ok := gs.Session("c1")
	require.True(t, ok)

	// Порог достигнут — соединение закрывается
	gs.NoteDecodeError("c1")
	_, ok = gs.Session("c1")
	assert.False(t, ok)

	// Неизвестный клиент игнорируется
	gs.NoteDecodeError("ghost")
}
