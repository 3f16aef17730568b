package util

import (
	"fmt"

	"github.com/annelo/go-world-server/internal/chunk"
)

// ChunkKey формирует текстовый ключ позиции чанка ("x:z").
func ChunkKey(pos chunk.Pos) string {
	return fmt.Sprintf("%d:%d", pos.X, pos.Z)
}

// ParseChunkKey разбирает ключ, сформированный ChunkKey.
func ParseChunkKey(key string) (chunk.Pos, error) {
	var pos chunk.Pos
	if _, err := fmt.Sscanf(key, "%d:%d", &pos.X, &pos.Z); err != nil {
		return chunk.Pos{}, fmt.Errorf("неверный ключ чанка %q: %w", key, err)
	}
	return pos, nil
}
