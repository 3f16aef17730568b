package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annelo/go-world-server/internal/chunk"
	"github.com/annelo/go-world-server/internal/storage"
)

func sampleChunk(pos chunk.Pos) *chunk.Data {
	d := chunk.NewData(pos)
	d.Status = chunk.StatusFull
	for i := range d.Blocks {
		d.Blocks[i] = uint16(i % 11)
		d.Heights[i] = uint8(i)
		d.Biomes[i] = uint8(i % 8)
	}
	d.SetProperty(3, 4, "color", "red")
	d.SetProperty(3, 4, "open", "true")
	d.BlockTicks = []chunk.ScheduledTick{
		{Pos: chunk.BlockPos{X: pos.X*16 + 1, Y: 64, Z: pos.Z*16 + 2}, Delay: 5, Priority: chunk.PriorityHigh, TargetBlock: 9},
	}
	return d
}

func TestCodec_RoundTrip(t *testing.T) {
	zc, err := storage.NewCompressedCodec(storage.BinaryCodec{})
	require.NoError(t, err)
	defer zc.Close()

	for name, codec := range map[string]storage.Codec{"binary": storage.BinaryCodec{}, "zstd": zc} {
		t.Run(name, func(t *testing.T) {
			pos := chunk.Pos{X: -2, Z: 9}
			in := sampleChunk(pos)

			raw, err := codec.Encode(in)
			require.NoError(t, err)
			out, err := codec.Decode(pos, raw)
			require.NoError(t, err)

			assert.Equal(t, in.Blocks, out.Blocks)
			assert.Equal(t, in.Heights, out.Heights)
			assert.Equal(t, in.Biomes, out.Biomes)
			assert.Equal(t, in.Properties, out.Properties)
			assert.Equal(t, in.BlockTicks, out.BlockTicks)
			assert.Equal(t, pos, out.Pos)
		})
	}
}

func TestCodec_NotGenerated(t *testing.T) {
	d := chunk.NewData(chunk.Pos{})
	raw, err := storage.BinaryCodec{}.Encode(d)
	require.NoError(t, err)

	_, err = storage.BinaryCodec{}.Decode(chunk.Pos{}, raw)
	assert.ErrorIs(t, err, storage.ErrChunkNotGenerated)
	assert.True(t, storage.IsAbsent(err))
}

func TestCodec_Truncated(t *testing.T) {
	raw, err := storage.BinaryCodec{}.Encode(sampleChunk(chunk.Pos{}))
	require.NoError(t, err)

	_, err = storage.BinaryCodec{}.Decode(chunk.Pos{}, raw[:100])
	assert.ErrorIs(t, err, storage.ErrCorruptedChunk)
	assert.False(t, storage.IsAbsent(err))
}

func TestCompressedCodec_ReadsRawScheme(t *testing.T) {
	zc, err := storage.NewCompressedCodec(storage.BinaryCodec{})
	require.NoError(t, err)
	defer zc.Close()

	plain, err := storage.BinaryCodec{}.Encode(sampleChunk(chunk.Pos{X: 1}))
	require.NoError(t, err)

	out, err := zc.Decode(chunk.Pos{X: 1}, append([]byte{0}, plain...))
	require.NoError(t, err)
	assert.Equal(t, chunk.StatusFull, out.Status)

	_, err = zc.Decode(chunk.Pos{X: 1}, []byte{9, 1, 2})
	assert.ErrorIs(t, err, storage.ErrUnsupportedVersion)

	compressed, err := zc.Encode(sampleChunk(chunk.Pos{X: 1}))
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(plain))
}

func TestNewCodec_Unknown(t *testing.T) {
	_, err := storage.NewCodec("lz5")
	assert.Error(t, err)

	c, err := storage.NewCodec("none")
	require.NoError(t, err)
	assert.IsType(t, storage.BinaryCodec{}, c)
}
