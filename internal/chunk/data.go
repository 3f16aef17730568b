package chunk

// Status обозначает стадию готовности содержимого чанка.
type Status uint8

const (
	// StatusEmpty - чанк ещё не сгенерирован до конца.
	StatusEmpty Status = iota
	// StatusFull - чанк полностью сгенерирован и может отдаваться игрокам.
	StatusFull
)

func (s Status) String() string {
	switch s {
	case StatusFull:
		return "full"
	default:
		return "empty"
	}
}

// Area - количество колонок блоков в чанке.
const Area = Size * Size

// Data хранит содержимое чанка: блоки, высоты, биомы и отложенные тики,
// которые хранятся вместе с чанком на диске.
type Data struct {
	Pos     Pos
	Status  Status
	Blocks  [Area]uint16
	Heights [Area]uint8
	Biomes  [Area]uint8

	// Properties хранит свойства отдельных блоков по локальному индексу.
	Properties map[uint16]map[string]string

	// BlockTicks заполняется только при сохранении и сразу опустошается при загрузке.
	BlockTicks []ScheduledTick
}

// NewData создаёт пустой чанк в позиции pos.
func NewData(pos Pos) *Data {
	return &Data{Pos: pos, Properties: make(map[uint16]map[string]string)}
}

// Index возвращает индекс колонки по локальным координатам.
func Index(x, z int) int {
	return z*Size + x
}

// Block возвращает тип блока по локальным координатам.
func (d *Data) Block(x, z int) uint16 {
	return d.Blocks[Index(x, z)]
}

// SetBlock устанавливает тип блока и сбрасывает его свойства.
func (d *Data) SetBlock(x, z int, block uint16) {
	idx := Index(x, z)
	d.Blocks[idx] = block
	delete(d.Properties, uint16(idx))
}

// SetProperty задаёт свойство блока.
func (d *Data) SetProperty(x, z int, key, value string) {
	if d.Properties == nil {
		d.Properties = make(map[uint16]map[string]string)
	}
	idx := uint16(Index(x, z))
	props, ok := d.Properties[idx]
	if !ok {
		props = make(map[string]string)
		d.Properties[idx] = props
	}
	props[key] = value
}

// Clone возвращает глубокую копию данных.
func (d *Data) Clone() *Data {
	out := *d
	if d.Properties != nil {
		out.Properties = make(map[uint16]map[string]string, len(d.Properties))
		for idx, props := range d.Properties {
			cp := make(map[string]string, len(props))
			for k, v := range props {
				cp[k] = v
			}
			out.Properties[idx] = cp
		}
	}
	if d.BlockTicks != nil {
		out.BlockTicks = append([]ScheduledTick(nil), d.BlockTicks...)
	}
	return &out
}
