package generator

import "github.com/annelo/go-world-server/internal/chunk"

// FlatGenerator заполняет каждый чанк одним блоком на одной высоте.
type FlatGenerator struct {
	block  uint16
	height uint8
}

// NewFlat создаёт плоский генератор.
func NewFlat(block uint16, height uint8) *FlatGenerator {
	return &FlatGenerator{block: block, height: height}
}

// GenerateChunk реализует Generator.
func (g *FlatGenerator) GenerateChunk(pos chunk.Pos) *chunk.Data {
	data := chunk.NewData(pos)
	for i := range data.Blocks {
		data.Blocks[i] = g.block
		data.Heights[i] = g.height
	}
	data.Status = chunk.StatusFull
	return data
}
