package generator

import (
	"github.com/annelo/go-world-server/internal/chunk"
	"github.com/annelo/go-world-server/internal/noisegeneration"
)

// BiomeGenerator строит ландшафт по картам высоты, влажности и температуры.
type BiomeGenerator struct {
	seed  int64
	noise *noisegeneration.BiomeNoise
}

// NewBiome создаёт генератор биомов для сида.
func NewBiome(seed int64) *BiomeGenerator {
	return &BiomeGenerator{seed: seed, noise: noisegeneration.NewBiomeNoise(seed)}
}

// GenerateChunk реализует Generator.
func (g *BiomeGenerator) GenerateChunk(pos chunk.Pos) *chunk.Data {
	data := chunk.NewData(pos)
	for z := 0; z < chunk.Size; z++ {
		for x := 0; x < chunk.Size; x++ {
			worldX := pos.X*chunk.Size + int32(x)
			worldZ := pos.Z*chunk.Size + int32(z)

			height, moisture, temperature := g.noise.GetBiomeData(worldX, worldZ)
			biome := noisegeneration.GetBiomeType(height, moisture, temperature)

			idx := chunk.Index(x, z)
			data.Heights[idx] = uint8(height * 255)
			data.Biomes[idx] = uint8(biome)
			data.Blocks[idx] = g.decorate(worldX, worldZ, biome, blockForBiome(biome, height))
		}
	}
	data.Status = chunk.StatusFull
	return data
}

// decorate добавляет растительность поверх базового блока
func (g *BiomeGenerator) decorate(x, z int32, biome noisegeneration.BiomeType, base uint16) uint16 {
	if base != BlockGrass {
		return base
	}
	roll := columnHash(g.seed, x, z) % 100
	switch biome {
	case noisegeneration.BiomeForest:
		if roll < 12 {
			return BlockWood
		}
		if roll < 20 {
			return BlockLeaves
		}
	case noisegeneration.BiomePlains:
		if roll < 6 {
			return BlockTallGrass
		}
		if roll < 8 {
			return BlockFlower
		}
	}
	return base
}

// blockForBiome определяет тип блока на основе биома и высоты
func blockForBiome(biome noisegeneration.BiomeType, height float64) uint16 {
	switch biome {
	case noisegeneration.BiomeOcean:
		return BlockWater
	case noisegeneration.BiomeBeach, noisegeneration.BiomeDesert:
		return BlockSand
	case noisegeneration.BiomeTaiga:
		if height > 0.7 {
			return BlockSnow
		}
		return BlockGrass
	case noisegeneration.BiomeMountain:
		if height > 0.85 {
			return BlockSnow
		}
		return BlockStone
	case noisegeneration.BiomeSnowland:
		return BlockSnow
	default:
		return BlockGrass
	}
}

func columnHash(seed int64, x, z int32) uint64 {
	h := uint64(seed) ^ (uint64(uint32(x)) << 32) ^ uint64(uint32(z))
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}
