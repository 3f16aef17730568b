package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/annelo/go-world-server/internal/chunk"
	"github.com/annelo/go-world-server/internal/storage"
)

func openBackends(t *testing.T) map[string]storage.ChunkIO {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	out := make(map[string]storage.ChunkIO)
	for _, format := range []string{storage.FormatRegion, storage.FormatLevelDB, storage.FormatMemory} {
		io, err := storage.Open(t.TempDir(), storage.Options{Format: format, Compression: "zstd", IOWorkers: 2}, logger)
		require.NoError(t, err, format)
		out[format] = io
	}
	return out
}

func fetchAll(t *testing.T, io storage.ChunkIO, positions []chunk.Pos) map[chunk.Pos]storage.LoadedData {
	t.Helper()
	results := make(chan storage.LoadedData, len(positions))
	io.FetchChunks(context.Background(), positions, results)
	close(results)

	out := make(map[chunk.Pos]storage.LoadedData)
	for ld := range results {
		_, dup := out[ld.Pos]
		require.False(t, dup, "повторный результат для %v", ld.Pos)
		out[ld.Pos] = ld
	}
	require.Len(t, out, len(positions))
	return out
}

func TestChunkIO_SaveThenFetch(t *testing.T) {
	for name, io := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer io.Close()

			saved := []chunk.Pos{{X: 0, Z: 0}, {X: 17, Z: -3}, {X: -40, Z: 2}}
			var handles []*chunk.Sync
			for _, p := range saved {
				handles = append(handles, chunk.NewSync(sampleChunk(p)))
			}
			require.NoError(t, io.SaveChunks(context.Background(), handles))

			missing := chunk.Pos{X: 1, Z: 1}
			farMissing := chunk.Pos{X: 1000, Z: 1000}
			results := fetchAll(t, io, append(append([]chunk.Pos{}, saved...), missing, farMissing))

			for _, p := range saved {
				ld := results[p]
				require.Equal(t, storage.Loaded, ld.Kind, p)
				assert.Equal(t, sampleChunk(p).Blocks, ld.Chunk.Blocks)
				assert.Len(t, ld.Chunk.BlockTicks, 1)
			}
			assert.Equal(t, storage.Missing, results[missing].Kind)
			assert.Equal(t, storage.Missing, results[farMissing].Kind)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			assert.NoError(t, io.AwaitOngoing(ctx))
			assert.NoError(t, io.CompactLogs(ctx))
		})
	}
}

func TestChunkIO_FailedAfterClose(t *testing.T) {
	for name, io := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, io.Close())
			results := fetchAll(t, io, []chunk.Pos{{X: 3, Z: 3}})
			ld := results[chunk.Pos{X: 3, Z: 3}]
			assert.Equal(t, storage.Failed, ld.Kind)
			assert.ErrorIs(t, ld.Err, storage.ErrClosed)

			err := io.SaveChunks(context.Background(), []*chunk.Sync{chunk.NewSync(sampleChunk(chunk.Pos{}))})
			assert.ErrorIs(t, err, storage.ErrClosed)
		})
	}
}

func TestMemoryIO_FailuresAndSilence(t *testing.T) {
	io := storage.NewMemoryIO()
	bad := chunk.Pos{X: 1}
	quiet := chunk.Pos{X: 2}
	absent := chunk.Pos{X: 3}
	io.FailOn(bad, errors.New("disk on fire"))
	io.FailOn(absent, storage.ErrChunkNotFound{X: 3})
	io.Silence(quiet)

	results := make(chan storage.LoadedData, 3)
	io.FetchChunks(context.Background(), []chunk.Pos{bad, quiet, absent}, results)
	close(results)

	got := make(map[chunk.Pos]storage.LoadedData)
	for ld := range results {
		got[ld.Pos] = ld
	}
	require.Len(t, got, 2)
	assert.Equal(t, storage.Failed, got[bad].Kind)
	assert.Equal(t, storage.Missing, got[absent].Kind)
}

func TestMemoryIO_CorruptedRecordFails(t *testing.T) {
	io := storage.NewMemoryIO()
	pos := chunk.Pos{X: 9, Z: 9}
	io.PutRaw(pos, []byte{1, 0, 1})

	results := fetchAll(t, io, []chunk.Pos{pos})
	assert.Equal(t, storage.Failed, results[pos].Kind)
	assert.ErrorIs(t, results[pos].Err, storage.ErrCorruptedChunk)
}

func TestRegionIO_WatchedRegionsStayOpen(t *testing.T) {
	io, err := storage.NewRegionIO(t.TempDir(), storage.BinaryCodec{}, storage.WithMaxOpenRegions(1))
	require.NoError(t, err)
	defer io.Close()

	a := chunk.Pos{X: 0, Z: 0}
	b := chunk.Pos{X: 100, Z: 0}
	c := chunk.Pos{X: 200, Z: 0}
	for _, p := range []chunk.Pos{a, b, c} {
		require.NoError(t, io.SaveChunks(context.Background(), []*chunk.Sync{chunk.NewSync(sampleChunk(p))}))
	}
	assert.Equal(t, 1, io.OpenRegions())

	io.WatchChunks([]chunk.Pos{a})
	fetchAll(t, io, []chunk.Pos{a})
	fetchAll(t, io, []chunk.Pos{b})
	// регион a наблюдается и не закрывается, лимит временно превышен
	assert.Equal(t, 2, io.OpenRegions())

	io.UnwatchChunks([]chunk.Pos{a})
	fetchAll(t, io, []chunk.Pos{c})
	assert.Equal(t, 2, io.OpenRegions())
}
