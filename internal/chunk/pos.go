package chunk

import "fmt"

// Size - ширина чанка в блоках по каждой горизонтальной оси.
const Size = 16

// Pos представляет координаты чанка в сетке мира.
type Pos struct {
	X int32
	Z int32
}

// String возвращает позицию в виде "x:z".
func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.X, p.Z)
}

// Hash возвращает стабильный хеш позиции. Используется для выбора шарда.
func (p Pos) Hash() uint64 {
	h := uint64(uint32(p.X))<<32 | uint64(uint32(p.Z))
	// финализатор splitmix64
	h ^= h >> 30
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 27
	h *= 0x94d049bb133111eb
	h ^= h >> 31
	return h
}

// Add сдвигает позицию на dx, dz.
func (p Pos) Add(dx, dz int32) Pos {
	return Pos{X: p.X + dx, Z: p.Z + dz}
}

// BlockPos содержит абсолютные координаты блока.
type BlockPos struct {
	X int32
	Y int32
	Z int32
}

// ChunkPos возвращает позицию чанка, которому принадлежит блок.
func (b BlockPos) ChunkPos() Pos {
	return Pos{X: FloorDiv(b.X, Size), Z: FloorDiv(b.Z, Size)}
}

// Local возвращает координаты блока внутри чанка (0..15).
func (b BlockPos) Local() (int, int) {
	return int(b.X - FloorDiv(b.X, Size)*Size), int(b.Z - FloorDiv(b.Z, Size)*Size)
}

// FloorDiv делит с округлением вниз, корректно для отрицательных координат.
func FloorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
