package playermanager

import (
	"sort"

	"github.com/annelo/go-world-server/internal/chunk"
)

// MaxViewRadius ограничивает поддерживаемый радиус обзора в чанках
const MaxViewRadius = 32

// viewOffsets хранит смещения чанков в круге MaxViewRadius, от ближних к дальним
var viewOffsets []offset

type offset struct {
	dx, dz int32
	dist2  int32
}

func init() {
	const r = MaxViewRadius
	for dx := int32(-r); dx <= r; dx++ {
		for dz := int32(-r); dz <= r; dz++ {
			if d := dx*dx + dz*dz; d <= r*r {
				viewOffsets = append(viewOffsets, offset{dx: dx, dz: dz, dist2: d})
			}
		}
	}
	sort.SliceStable(viewOffsets, func(i, j int) bool {
		return viewOffsets[i].dist2 < viewOffsets[j].dist2
	})
}

// viewArea возвращает чанки в радиусе radius вокруг center, ближние первыми
func viewArea(center chunk.Pos, radius int32) []chunk.Pos {
	radius = clampRadius(radius)
	n := sort.Search(len(viewOffsets), func(i int) bool {
		return viewOffsets[i].dist2 > radius*radius
	})
	out := make([]chunk.Pos, n)
	for i, o := range viewOffsets[:n] {
		out[i] = center.Add(o.dx, o.dz)
	}
	return out
}

func inView(center, pos chunk.Pos, radius int32) bool {
	radius = clampRadius(radius)
	dx, dz := pos.X-center.X, pos.Z-center.Z
	return int64(dx)*int64(dx)+int64(dz)*int64(dz) <= int64(radius)*int64(radius)
}

func clampRadius(r int32) int32 {
	if r < 0 {
		return 0
	}
	if r > MaxViewRadius {
		return MaxViewRadius
	}
	return r
}
