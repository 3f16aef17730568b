package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"

	termbox "github.com/nsf/termbox-go"
	"go.uber.org/zap"

	"github.com/annelo/go-world-server/internal/chunk"
	"github.com/annelo/go-world-server/internal/generator"
	"github.com/annelo/go-world-server/internal/storage"
	util "github.com/annelo/go-world-server/internal/storage/util"
)

var (
	worldPath   = flag.String("world", "/tmp/world", "Путь до папки мира")
	compression = flag.String("compression", "zstd", "Сжатие записей: none или zstd")
	zoom        = flag.Int("zoom", 1, "Коэффициент масштабирования блока -> символов (1-4)")
	startX      = flag.Int("x", 0, "Начальная мировая координата X камеры")
	startZ      = flag.Int("z", 0, "Начальная мировая координата Z камеры")
)

// viewer читает чанки прямо из region-файлов и кэширует декодированные
type viewer struct {
	regions *storage.RegionManager
	codec   storage.Codec
	cache   map[string]*chunk.Data
	errors  map[string]error
}

func main() {
	flag.Parse()

	codec, err := storage.NewCodec(*compression)
	if err != nil {
		log.Fatalf("codec: %v", err)
	}
	v := &viewer{
		regions: storage.NewRegionManager(filepath.Join(*worldPath, "regions"), 16, zap.NewNop().Sugar()),
		codec:   codec,
		cache:   make(map[string]*chunk.Data),
		errors:  make(map[string]error),
	}
	defer v.regions.Close()

	files, err := v.regions.RegionFiles()
	if err != nil {
		log.Fatalf("cannot list regions: %v", err)
	}

	// Инициализируем termbox
	if err := termbox.Init(); err != nil {
		log.Fatalf("termbox init error: %v", err)
	}
	defer termbox.Close()

	// Позиция камеры и курсора
	camX, camZ := int32(*startX), int32(*startZ)
	curX, curY := 0, 2

	draw := func() {
		termbox.Clear(termbox.ColorDefault, termbox.ColorDefault)
		width, height := termbox.Size()
		s := *zoom

		for py := 2; py < height; py += s {
			for px := 0; px < width; px += s {
				b := chunk.BlockPos{X: camX + int32(px/s), Z: camZ + int32((py-2)/s)}
				ch, fg, bg := blockSymbol(v.block(b))
				for dy := 0; dy < s; dy++ {
					for dx := 0; dx < s; dx++ {
						termbox.SetCell(px+dx, py+dy, ch, fg, bg)
					}
				}
			}
		}

		// Выделяем курсор (инвертируем цвета)
		if curX < width && curY < height {
			cell := termbox.CellBuffer()[curY*width+curX]
			termbox.SetCell(curX, curY, cell.Ch, cell.Bg|termbox.AttrBold, cell.Fg)
		}

		header := fmt.Sprintf("World %s  Regions=%d  Cam=(%d,%d)  Zoom=%dx", *worldPath, len(files), camX, camZ, *zoom)
		printLine(0, header, termbox.ColorYellow|termbox.AttrBold, width)

		b := chunk.BlockPos{X: camX + int32(curX/s), Z: camZ + int32((curY-2)/s)}
		printLine(1, v.describe(b), termbox.ColorWhite, width)
		termbox.Flush()
	}

	draw()

	// Основной цикл
	for {
		switch ev := termbox.PollEvent(); ev.Type {
		case termbox.EventKey:
			width, height := termbox.Size()
			s := *zoom
			switch ev.Key {
			case termbox.KeyEsc, termbox.KeyCtrlC:
				return
			case termbox.KeyArrowLeft:
				camX -= chunk.Size
			case termbox.KeyArrowRight:
				camX += chunk.Size
			case termbox.KeyArrowUp:
				camZ -= chunk.Size
			case termbox.KeyArrowDown:
				camZ += chunk.Size
			default:
				switch ev.Ch {
				case 'q':
					return
				case '+':
					if *zoom < 4 {
						*zoom++
					}
				case '-':
					if *zoom > 1 {
						*zoom--
					}
				// WASD для курсора
				case 'a':
					if curX > 0 {
						curX -= s
					}
				case 'd':
					if curX < width-s {
						curX += s
					}
				case 'w':
					if curY > 2 {
						curY -= s
					}
				case 's':
					if curY < height-s {
						curY += s
					}
				}
			}
			draw()
		case termbox.EventError:
			log.Printf("termbox error: %v", ev.Err)
			return
		case termbox.EventResize:
			draw()
		}
	}
}

func printLine(y int, text string, fg termbox.Attribute, width int) {
	for i, r := range []rune(text) {
		if i >= width {
			break
		}
		termbox.SetCell(i, y, r, fg, termbox.ColorBlack)
	}
}

// load возвращает чанк из кэша или читает его из региона
func (v *viewer) load(pos chunk.Pos) (*chunk.Data, error) {
	key := util.ChunkKey(pos)
	if d, ok := v.cache[key]; ok {
		return d, v.errors[key]
	}

	d, err := v.read(pos)
	v.cache[key] = d
	v.errors[key] = err
	return d, err
}

func (v *viewer) read(pos chunk.Pos) (*chunk.Data, error) {
	rp := storage.RegionOf(pos)
	region, release, err := v.regions.Acquire(rp, false)
	if err != nil {
		return nil, fmt.Errorf("регион %s: %w", storage.RegionFileName(rp), err)
	}
	defer release()

	raw, err := region.ReadChunk(pos)
	if err != nil {
		return nil, err
	}
	return v.codec.Decode(pos, raw)
}

func (v *viewer) block(b chunk.BlockPos) uint16 {
	d, err := v.load(b.ChunkPos())
	if err != nil || d == nil {
		return generator.BlockAir
	}
	x, z := b.Local()
	return d.Block(x, z)
}

func (v *viewer) describe(b chunk.BlockPos) string {
	pos := b.ChunkPos()
	d, err := v.load(pos)
	switch {
	case storage.IsAbsent(err):
		return fmt.Sprintf("Block (%d,%d) chunk %s: не сохранён", b.X, b.Z, pos)
	case err != nil:
		return fmt.Sprintf("Block (%d,%d) chunk %s: %v", b.X, b.Z, pos, err)
	}
	x, z := b.Local()
	i := chunk.Index(x, z)
	return fmt.Sprintf("Block (%d,%d) chunk %s Type=%d Height=%d Biome=%d Props=%d Ticks=%d",
		b.X, b.Z, pos, d.Blocks[i], d.Heights[i], d.Biomes[i], len(d.Properties[uint16(i)]), len(d.BlockTicks))
}

// Возвращает символ и цвета для типа блока
func blockSymbol(bt uint16) (rune, termbox.Attribute, termbox.Attribute) {
	switch bt {
	case generator.BlockGrass:
		return '_', termbox.ColorGreen, termbox.ColorBlack
	case generator.BlockDirt:
		return '.', termbox.ColorYellow, termbox.ColorBlack
	case generator.BlockStone:
		return '#', termbox.ColorWhite, termbox.ColorBlack
	case generator.BlockWater:
		return '~', termbox.ColorBlue, termbox.ColorBlack
	case generator.BlockSand:
		return ',', termbox.ColorYellow, termbox.ColorBlack
	case generator.BlockWood:
		return '|', termbox.ColorRed, termbox.ColorBlack
	case generator.BlockLeaves:
		return '@', termbox.ColorGreen, termbox.ColorBlack
	case generator.BlockSnow:
		return '*', termbox.ColorWhite, termbox.ColorBlue
	case generator.BlockTallGrass:
		return '"', termbox.ColorGreen, termbox.ColorBlack
	case generator.BlockFlower:
		return 'f', termbox.ColorMagenta, termbox.ColorBlack
	default:
		return ' ', termbox.ColorDefault, termbox.ColorDefault
	}
}
