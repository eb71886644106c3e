package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/lucaspoffo/Cosmos/internal/world"
	"github.com/lucaspoffo/Cosmos/internal/world/block"
)

// Кодек чанков: блоки сериализуются в плотный бинарный массив
// (4 байта на блок) и сжимаются zstd. Воздушные чанки сжимаются
// практически в ноль, поэтому спец-обработки пустоты не нужно.

const bytesPerBlock = 4

var (
	chunkEncoder *zstd.Encoder
	chunkDecoder *zstd.Decoder
)

func init() {
	var err error
	chunkEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("zstd encoder: %v", err))
	}
	chunkDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd decoder: %v", err))
	}
}

// EncodeChunkBlocks сжимает содержимое чанка для ChunkDataMessage
func EncodeChunkBlocks(data *world.ChunkData) []byte {
	raw := make([]byte, 0, world.BlocksPerChunk*bytesPerBlock)
	for x := 0; x < world.ChunkSize; x++ {
		for y := 0; y < world.ChunkSize; y++ {
			for z := 0; z < world.ChunkSize; z++ {
				b := data[x][y][z]
				raw = binary.LittleEndian.AppendUint16(raw, uint16(b.ID))
				raw = append(raw, byte(b.Rotation), b.Health)
			}
		}
	}
	return chunkEncoder.EncodeAll(raw, nil)
}

// DecodeChunkBlocks распаковывает содержимое чанка из ChunkDataMessage
func DecodeChunkBlocks(payload []byte) (*world.ChunkData, error) {
	raw, err := chunkDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChunkCorrupt, err)
	}
	if len(raw) != world.BlocksPerChunk*bytesPerBlock {
		return nil, fmt.Errorf("%w: размер %d", ErrChunkCorrupt, len(raw))
	}

	var data world.ChunkData
	i := 0
	for x := 0; x < world.ChunkSize; x++ {
		for y := 0; y < world.ChunkSize; y++ {
			for z := 0; z < world.ChunkSize; z++ {
				data[x][y][z] = block.Block{
					ID:       block.ID(binary.LittleEndian.Uint16(raw[i:])),
					Rotation: block.Rotation(raw[i+2]),
					Health:   raw[i+3],
				}
				i += bytesPerBlock
			}
		}
	}
	return &data, nil
}
