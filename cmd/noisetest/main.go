package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/annelo/go-world-server/internal/chunk"
	"github.com/annelo/go-world-server/internal/generator"
	"github.com/annelo/go-world-server/internal/noisegeneration"
)

var (
	seedFlag = flag.Int64("seed", 0, "Seed генератора (0 = текущее время)")
	kind     = flag.String("generator", "biome", "Генератор: biome или flat")
	chunksX  = flag.Int("w", 4, "Ширина области в чанках")
	chunksZ  = flag.Int("h", 2, "Высота области в чанках")
	step     = flag.Int("step", 2, "Шаг выборки блоков")
)

func main() {
	flag.Parse()

	seed := *seedFlag
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	fmt.Printf("Seed: %d, generator: %s\n", seed, *kind)

	gen := generator.New(*kind, seed)
	area := generate(gen)

	// Символы для различных высот от низкой к высокой
	heightChars := []rune{'~', '.', '-', '=', '#', '^', '*', '@'}
	fmt.Println("\nКарта высот:")
	render(area, func(d *chunk.Data, i int) rune {
		idx := int(d.Heights[i]) * len(heightChars) / 256
		return heightChars[idx]
	})

	// Символы для различных биомов
	biomeChars := map[noisegeneration.BiomeType]rune{
		noisegeneration.BiomeOcean:    '~', // вода
		noisegeneration.BiomeBeach:    ',', // песок
		noisegeneration.BiomeDesert:   '.', // пустыня
		noisegeneration.BiomePlains:   '_', // равнины
		noisegeneration.BiomeForest:   'f', // лес
		noisegeneration.BiomeTaiga:    't', // тайга
		noisegeneration.BiomeMountain: '^', // горы
		noisegeneration.BiomeSnowland: '*', // снежная земля
	}
	fmt.Println("\nКарта биомов:")
	render(area, func(d *chunk.Data, i int) rune {
		if r, ok := biomeChars[noisegeneration.BiomeType(d.Biomes[i])]; ok {
			return r
		}
		return '?'
	})

	// Гистограмма блоков по всей области
	counts := make(map[uint16]int)
	for _, d := range area {
		for _, b := range d.Blocks {
			counts[b]++
		}
	}
	fmt.Println("\nБлоки:")
	for b := generator.BlockAir; b <= generator.BlockFlower; b++ {
		if counts[b] > 0 {
			fmt.Printf("  %2d: %d\n", b, counts[b])
		}
	}
}

func generate(gen generator.Generator) map[chunk.Pos]*chunk.Data {
	start := time.Now()
	area := make(map[chunk.Pos]*chunk.Data, *chunksX**chunksZ)
	for z := 0; z < *chunksZ; z++ {
		for x := 0; x < *chunksX; x++ {
			pos := chunk.Pos{X: int32(x), Z: int32(z)}
			area[pos] = gen.GenerateChunk(pos)
		}
	}
	fmt.Printf("Сгенерировано %d чанков за %v\n", len(area), time.Since(start))
	return area
}

// render выводит область с шагом step, вызывая symbol для каждой колонки
func render(area map[chunk.Pos]*chunk.Data, symbol func(d *chunk.Data, i int) rune) {
	s := max(*step, 1)
	for bz := 0; bz < *chunksZ*chunk.Size; bz += s {
		for bx := 0; bx < *chunksX*chunk.Size; bx += s {
			b := chunk.BlockPos{X: int32(bx), Z: int32(bz)}
			d := area[b.ChunkPos()]
			x, z := b.Local()
			fmt.Print(string(symbol(d, chunk.Index(x, z))))
		}
		fmt.Println()
	}
}
