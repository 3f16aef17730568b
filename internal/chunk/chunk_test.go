package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockPos_ChunkPosNegative(t *testing.T) {
	assert.Equal(t, Pos{X: 0, Z: 0}, BlockPos{X: 0, Z: 15}.ChunkPos())
	assert.Equal(t, Pos{X: -1, Z: -1}, BlockPos{X: -1, Z: -16}.ChunkPos())
	assert.Equal(t, Pos{X: -2, Z: 1}, BlockPos{X: -17, Z: 31}.ChunkPos())

	x, z := BlockPos{X: -1, Z: 17}.Local()
	assert.Equal(t, 15, x)
	assert.Equal(t, 1, z)
}

func TestPos_HashDistinct(t *testing.T) {
	seen := make(map[uint64]Pos)
	for x := int32(-16); x < 16; x++ {
		for z := int32(-16); z < 16; z++ {
			p := Pos{X: x, Z: z}
			h := p.Hash()
			if prev, ok := seen[h]; ok {
				t.Fatalf("коллизия хеша %v и %v", prev, p)
			}
			seen[h] = p
		}
	}
}

func TestSync_WriteBumpsVersion(t *testing.T) {
	s := NewSync(NewData(Pos{X: 3, Z: 4}))
	assert.Equal(t, Pos{X: 3, Z: 4}, s.Pos())
	assert.Equal(t, uint64(0), s.Version())

	s.Write(func(d *Data) { d.SetBlock(1, 2, 7) })
	assert.Equal(t, uint64(1), s.Version())

	s.Read(func(d *Data) { assert.Equal(t, uint16(7), d.Block(1, 2)) })
	assert.Equal(t, uint64(1), s.Version())
}

func TestData_CloneIsDeep(t *testing.T) {
	d := NewData(Pos{})
	d.SetProperty(0, 0, "state", "open")
	d.BlockTicks = []ScheduledTick{{Delay: 1}}

	cp := d.Clone()
	cp.Properties[0]["state"] = "closed"
	cp.BlockTicks[0].Delay = 9
	cp.Blocks[0] = 5

	require.Equal(t, "open", d.Properties[0]["state"])
	assert.Equal(t, uint16(1), d.BlockTicks[0].Delay)
	assert.Equal(t, uint16(0), d.Blocks[0])
}

func TestTickPriority_Order(t *testing.T) {
	assert.Equal(t, TickPriority(-3), PriorityExtremelyHigh)
	assert.Equal(t, TickPriority(0), PriorityNormal)
	assert.Equal(t, TickPriority(3), PriorityExtremelyLow)
	assert.Equal(t, "very_low", PriorityVeryLow.String())
}
