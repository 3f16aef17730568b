package noisegeneration

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/aquilax/go-perlin"
)

// CompactNoise хранит значение шума в компактном целочисленном виде.
type CompactNoise int8

const (
	// NoiseResolution - количество уровней шума для int8
	NoiseResolution = 255
	MinNoiseValue   = -1.0
	MaxNoiseValue   = 1.0
)

// FloatToCompact преобразует float64 в CompactNoise
func FloatToCompact(value float64) CompactNoise {
	normalized := (value - MinNoiseValue) / (MaxNoiseValue - MinNoiseValue)
	scaled := normalized * NoiseResolution
	return CompactNoise(int8(math.Min(127, math.Max(-127, math.Round(scaled)-128))))
}

// CompactToFloat преобразует CompactNoise обратно в float64
func CompactToFloat(value CompactNoise) float64 {
	scaled := float64(int8(value)) + 128.0
	normalized := scaled / NoiseResolution
	return normalized*(MaxNoiseValue-MinNoiseValue) + MinNoiseValue
}

// Quantize округляет значение до точности CompactNoise. Генератор работает
// только с квантованными значениями, поэтому попадание в кеш и промах дают
// одинаковый результат.
func Quantize(value float64) float64 {
	return CompactToFloat(FloatToCompact(value))
}

// NoiseMap генерирует многооктавный шум Перлина для одного параметра ландшафта.
// Безопасен для конкурентного чтения.
type NoiseMap struct {
	perlin      *perlin.Perlin
	scale       float64 // чем меньше, тем более плавный ландшафт
	persistence float64 // множитель амплитуды между октавами
	lacunarity  float64 // множитель частоты между октавами
}

// NewNoiseMap создает новую карту шума с заданными параметрами
func NewNoiseMap(seed int64, scale float64) *NoiseMap {
	// alpha и beta - параметры go-perlin, n - число его внутренних октав
	return &NoiseMap{
		perlin:      perlin.NewPerlin(2.0, 2.0, 3, seed),
		scale:       scale,
		persistence: 0.5,
		lacunarity:  2.0,
	}
}

// GetOctave2D возвращает значение шума в диапазоне [-1, 1] для заданного числа октав
func (nm *NoiseMap) GetOctave2D(x, y float64, octaves int) float64 {
	scaledX := x * nm.scale
	scaledY := y * nm.scale

	amplitude := 1.0
	frequency := 1.0
	total := 0.0
	maxValue := 0.0

	for i := 0; i < octaves; i++ {
		total += nm.perlin.Noise2D(scaledX*frequency, scaledY*frequency) * amplitude
		maxValue += amplitude

		amplitude *= nm.persistence
		frequency *= nm.lacunarity
	}
	if maxValue == 0 {
		return 0
	}
	return math.Max(MinNoiseValue, math.Min(MaxNoiseValue, total/maxValue))
}

// GetOctaveNormalized2D возвращает значение шума в диапазоне [0, 1]
func (nm *NoiseMap) GetOctaveNormalized2D(x, y float64, octaves int) float64 {
	return (nm.GetOctave2D(x, y, octaves) - MinNoiseValue) / (MaxNoiseValue - MinNoiseValue)
}

type biomeEntry struct {
	key    int64
	valid  bool
	values [3]CompactNoise // height, moisture, temperature
}

// BiomeCache представляет кеш биомов с прямым отображением: каждая ячейка хранит одну
// точку, новая точка просто вытесняет старую.
type BiomeCache struct {
	mu      sync.Mutex
	entries []biomeEntry
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewBiomeCache создает кеш на capacity точек
func NewBiomeCache(capacity int) *BiomeCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &BiomeCache{entries: make([]biomeEntry, capacity)}
}

func biomeKey(x, y int32) int64 {
	return (int64(x) << 32) | (int64(y) & 0xFFFFFFFF)
}

func (bc *BiomeCache) slot(key int64) int {
	h := uint64(key) * 0x9e3779b97f4a7c15
	return int(h % uint64(len(bc.entries)))
}

// Get получает данные о биоме из кеша
func (bc *BiomeCache) Get(x, y int32) (values [3]CompactNoise, ok bool) {
	key := biomeKey(x, y)
	bc.mu.Lock()
	e := bc.entries[bc.slot(key)]
	bc.mu.Unlock()
	if e.valid && e.key == key {
		bc.hits.Add(1)
		return e.values, true
	}
	bc.misses.Add(1)
	return values, false
}

// Put сохраняет данные о биоме в кеш
func (bc *BiomeCache) Put(x, y int32, values [3]CompactNoise) {
	key := biomeKey(x, y)
	bc.mu.Lock()
	bc.entries[bc.slot(key)] = biomeEntry{key: key, valid: true, values: values}
	bc.mu.Unlock()
}

// Stats возвращает попадания, промахи и долю попаданий
func (bc *BiomeCache) Stats() (int64, int64, float64) {
	hits, misses := bc.hits.Load(), bc.misses.Load()
	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return hits, misses, rate
}

// BiomeNoise объединяет карты высоты, влажности и температуры
type BiomeNoise struct {
	heightMap      *NoiseMap
	moistureMap    *NoiseMap
	temperatureMap *NoiseMap
	cache          *BiomeCache
}

// NewBiomeNoise создает новый генератор шума для биомов
func NewBiomeNoise(seed int64) *BiomeNoise {
	return &BiomeNoise{
		heightMap:      NewNoiseMap(seed, 0.01),
		moistureMap:    NewNoiseMap(seed+1, 0.005), // более плавная
		temperatureMap: NewNoiseMap(seed+2, 0.008),
		cache:          NewBiomeCache(1 << 14),
	}
}

// GetBiomeData возвращает квантованные высоту, влажность и температуру
// в точке (x, y), каждое в диапазоне [0, 1]
func (bn *BiomeNoise) GetBiomeData(x, y int32) (height, moisture, temperature float64) {
	values, ok := bn.cache.Get(x, y)
	if !ok {
		fx, fy := float64(x), float64(y)
		values = [3]CompactNoise{
			FloatToCompact(bn.heightMap.GetOctaveNormalized2D(fx, fy, 4)*2 - 1),
			FloatToCompact(bn.moistureMap.GetOctaveNormalized2D(fx, fy, 2)*2 - 1),
			FloatToCompact(bn.temperatureMap.GetOctaveNormalized2D(fx, fy, 3)*2 - 1),
		}
		bn.cache.Put(x, y, values)
	}
	return (CompactToFloat(values[0]) + 1) / 2,
		(CompactToFloat(values[1]) + 1) / 2,
		(CompactToFloat(values[2]) + 1) / 2
}

// CacheStats возвращает статистику кеша биомов
func (bn *BiomeNoise) CacheStats() (int64, int64, float64) {
	return bn.cache.Stats()
}

// IsWater определяет, является ли точка водой на основе высоты
func IsWater(height float64) bool {
	return height < 0.4
}

// BiomeType представляет тип биома
type BiomeType uint8

const (
	BiomeOcean BiomeType = iota
	BiomeBeach
	BiomeDesert
	BiomePlains
	BiomeForest
	BiomeTaiga
	BiomeMountain
	BiomeSnowland
)

var biomeNames = [...]string{"ocean", "beach", "desert", "plains", "forest", "taiga", "mountain", "snowland"}

func (b BiomeType) String() string {
	if int(b) < len(biomeNames) {
		return biomeNames[b]
	}
	return "unknown"
}

// GetBiomeType определяет тип биома на основе высоты, влажности и температуры
func GetBiomeType(height, moisture, temperature float64) BiomeType {
	if height < 0.3 {
		return BiomeOcean
	}
	if height < 0.4 {
		return BiomeBeach
	}
	if height > 0.75 {
		if temperature < 0.3 {
			return BiomeSnowland
		}
		return BiomeMountain
	}
	if temperature < 0.3 {
		return BiomeTaiga
	}
	if temperature > 0.7 && moisture < 0.3 {
		return BiomeDesert
	}
	if moisture > 0.6 {
		return BiomeForest
	}
	return BiomePlains
}
