// Package generator строит содержимое новых чанков.
package generator

import "github.com/annelo/go-world-server/internal/chunk"

// Типы блоков
const (
	BlockAir uint16 = iota
	BlockGrass
	BlockDirt
	BlockStone
	BlockWater
	BlockSand
	BlockWood
	BlockLeaves
	BlockSnow
	BlockTallGrass
	BlockFlower
)

// Generator детерминированно строит чанк по координатам. Реализации должны
// быть безопасны для вызова из нескольких горутин одновременно.
type Generator interface {
	GenerateChunk(pos chunk.Pos) *chunk.Data
}

// Func позволяет использовать обычную функцию как Generator.
type Func func(pos chunk.Pos) *chunk.Data

// GenerateChunk вызывает f(pos).
func (f Func) GenerateChunk(pos chunk.Pos) *chunk.Data {
	return f(pos)
}

// New возвращает генератор по имени: "biome" или "flat".
func New(kind string, seed int64) Generator {
	if kind == "flat" {
		return NewFlat(BlockGrass, 64)
	}
	return NewBiome(seed)
}
