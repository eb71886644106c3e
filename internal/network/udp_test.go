package network

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaspoffo/Cosmos/internal/coords"
	"github.com/lucaspoffo/Cosmos/internal/protocol"
	"github.com/lucaspoffo/Cosmos/internal/vec"
)

func datagram(t *testing.T, clientID string, tick uint64, x float64) []byte {
	t.Helper()
	msg, err := protocol.NewMessage(protocol.MsgTypePositionUpdate, protocol.PositionUpdateMessage{
		Positions: []protocol.EntityPosition{{
			EntityID: 1,
			Position: coords.NewPosition(vec.Vec3{}, vec.Vec3Float{X: x}),
			Tick:     tick,
		}},
	})
	require.NoError(t, err)
	msg.ClientID = clientID

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestUDPMostRecentWins(t *testing.T) {
	us := &UDPPositionServer{
		latest: make(map[string]protocol.EntityPosition),
		addrs:  make(map[string]*net.UDPAddr),
	}
	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}

	us.handleDatagram(datagram(t, "c1", 5, 100), from)
	us.handleDatagram(datagram(t, "c1", 7, 300), from)
	// Опоздавшая датаграмма со старым тиком игнорируется
	us.handleDatagram(datagram(t, "c1", 6, 200), from)

	got := us.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(7), got["c1"].Tick)
	assert.InDelta(t, 300, got["c1"].Position.Local.X, 1e-9)

	// Очередь опустошена
	assert.Nil(t, us.Drain())
}

func TestUDPIgnoresJunk(t *testing.T) {
	us := &UDPPositionServer{
		latest: make(map[string]protocol.EntityPosition),
		addrs:  make(map[string]*net.UDPAddr),
	}
	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}

	us.handleDatagram([]byte("мусор"), from)
	us.handleDatagram(datagram(t, "", 1, 0), from) // без ClientID

	assert.Nil(t, us.Drain())
}

func TestUDPForget(t *testing.T) {
	us := &UDPPositionServer{
		latest: make(map[string]protocol.EntityPosition),
		addrs:  make(map[string]*net.UDPAddr),
	}
	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}

	us.handleDatagram(datagram(t, "c1", 1, 10), from)
	us.Forget("c1")
	assert.Nil(t, us.Drain())
}
