package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaspoffo/Cosmos/internal/vec"
	"github.com/lucaspoffo/Cosmos/internal/world"
	"github.com/lucaspoffo/Cosmos/internal/world/block"
)

func TestMessageEnvelopeRoundTrip(t *testing.T) {
	msg, err := NewMessage(MsgTypeBlockBreak, BlockBreakRequest{
		StructureID: 42,
		Pos:         vec.Vec3{X: 1, Y: 2, Z: 3},
	})
	require.NoError(t, err)
	msg.ClientID = "client-1"
	msg.Sequence = 7

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, MsgTypeBlockBreak, decoded.Type)
	assert.Equal(t, "client-1", decoded.ClientID)

	var req BlockBreakRequest
	require.NoError(t, decoded.DecodeData(&req))
	assert.Equal(t, uint64(42), req.StructureID)
	assert.Equal(t, vec.Vec3{X: 1, Y: 2, Z: 3}, req.Pos)
}

func TestDecodeDataMalformed(t *testing.T) {
	msg := &Message{Type: MsgTypePlayerMove, Data: json.RawMessage(`{"frame_id": "oops"}`)}

	var req PlayerMoveRequest
	err := msg.DecodeData(&req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestChunkCodecRoundTrip(t *testing.T) {
	var data world.ChunkData
	data[0][0][0] = block.New(block.StoneID)
	data[5][7][9] = block.Block{ID: block.ShipHullID, Rotation: block.RotNegX, Health: 120}
	data[15][15][15] = block.New(block.GrassID)

	payload := EncodeChunkBlocks(&data)
	require.NotEmpty(t, payload)

	decoded, err := DecodeChunkBlocks(payload)
	require.NoError(t, err)
	assert.Equal(t, data, *decoded)
}

func TestChunkCodecAirCompressesWell(t *testing.T) {
	var empty world.ChunkData
	payload := EncodeChunkBlocks(&empty)

	// Пустой чанк обязан сжиматься на порядки
	assert.Less(t, len(payload), 256)

	decoded, err := DecodeChunkBlocks(payload)
	require.NoError(t, err)
	assert.Equal(t, empty, *decoded)
}

func TestChunkCodecCorrupt(t *testing.T) {
	_, err := DecodeChunkBlocks([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChunkCorrupt)

	// Валидный zstd, но неверный размер содержимого
	short := chunkEncoder.EncodeAll([]byte{1, 2, 3, 4}, nil)
	_, err = DecodeChunkBlocks(short)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChunkCorrupt)
}
