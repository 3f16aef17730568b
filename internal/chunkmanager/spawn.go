package chunkmanager

import (
	"context"

	"github.com/annelo/go-world-server/internal/chunk"
)

// SpawnArea возвращает квадрат чанков радиуса radius вокруг блока спавна
func SpawnArea(spawnX, spawnZ int32, radius int32) []chunk.Pos {
	center := chunk.BlockPos{X: spawnX, Z: spawnZ}.ChunkPos()
	out := make([]chunk.Pos, 0, (2*radius+1)*(2*radius+1))
	for dz := -radius; dz <= radius; dz++ {
		for dx := -radius; dx <= radius; dx++ {
			out = append(out, center.Add(dx, dz))
		}
	}
	return out
}

// ReadSpawnChunks загружает чанки спавна и закрепляет их в памяти до
// остановки. Закреплённые чанки выгружаются из кэша как обычные, но
// возвращаются в него без обращения к хранилищу.
func (m *ChunkManager) ReadSpawnChunks(ctx context.Context, positions []chunk.Pos) error {
	results := make(chan FetchResult, len(positions))
	errc := make(chan error, 1)
	go func() {
		errc <- m.FetchChunks(ctx, positions, results)
		close(results)
	}()

	pinned := 0
	for r := range results {
		m.spawn.Store(r.Chunk.Pos(), r.Chunk)
		pinned++
	}
	if err := <-errc; err != nil {
		return err
	}
	m.logger.Infow("Чанки спавна загружены", "chunks", pinned)
	return nil
}

// SpawnChunkCount возвращает число закреплённых чанков спавна
func (m *ChunkManager) SpawnChunkCount() int {
	return m.spawn.Len()
}
