package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/annelo/go-world-server/internal/chunk"
)

// Codec сериализует содержимое чанка для хранилища.
type Codec interface {
	Encode(data *chunk.Data) ([]byte, error)
	Decode(pos chunk.Pos, raw []byte) (*chunk.Data, error)
}

const chunkFormatVersion uint16 = 1

// BinaryCodec реализует несжатый бинарный формат, все числа в LittleEndian.
type BinaryCodec struct{}

// Encode сериализует чанк
func (BinaryCodec) Encode(data *chunk.Data) ([]byte, error) {
	buf := new(bytes.Buffer)

	// Заголовок (8 байт): версия, статус, флаги, число свойств
	binary.Write(buf, binary.LittleEndian, chunkFormatVersion)
	buf.WriteByte(byte(data.Status))
	buf.WriteByte(0)
	binary.Write(buf, binary.LittleEndian, uint32(len(data.Properties)))

	binary.Write(buf, binary.LittleEndian, data.Blocks)
	buf.Write(data.Heights[:])
	buf.Write(data.Biomes[:])

	// Свойства пишем в порядке индексов, чтобы одинаковые чанки давали одинаковые байты
	indices := make([]int, 0, len(data.Properties))
	for idx := range data.Properties {
		indices = append(indices, int(idx))
	}
	sort.Ints(indices)
	for _, idx := range indices {
		props := data.Properties[uint16(idx)]
		if len(props) > 255 {
			return nil, fmt.Errorf("слишком много свойств у блока %d: %d", idx, len(props))
		}
		binary.Write(buf, binary.LittleEndian, uint16(idx))
		buf.WriteByte(uint8(len(props)))

		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := writeShortString(buf, k); err != nil {
				return nil, err
			}
			if err := writeShortString(buf, props[k]); err != nil {
				return nil, err
			}
		}
	}

	binary.Write(buf, binary.LittleEndian, uint32(len(data.BlockTicks)))
	for _, t := range data.BlockTicks {
		binary.Write(buf, binary.LittleEndian, t.Pos.X)
		binary.Write(buf, binary.LittleEndian, t.Pos.Y)
		binary.Write(buf, binary.LittleEndian, t.Pos.Z)
		binary.Write(buf, binary.LittleEndian, t.Delay)
		binary.Write(buf, binary.LittleEndian, int8(t.Priority))
		binary.Write(buf, binary.LittleEndian, t.TargetBlock)
	}

	return buf.Bytes(), nil
}

// Decode разбирает чанк. Запись с неполным статусом даёт ErrChunkNotGenerated.
func (BinaryCodec) Decode(pos chunk.Pos, raw []byte) (*chunk.Data, error) {
	r := bytes.NewReader(raw)

	var version uint16
	var status, flags uint8
	var propCount uint32
	if err := readAll(r, &version, &status, &flags, &propCount); err != nil {
		return nil, corrupted(err)
	}
	if version > chunkFormatVersion {
		return nil, fmt.Errorf("чанк %s версии %d: %w", pos, version, ErrUnsupportedVersion)
	}
	if chunk.Status(status) != chunk.StatusFull {
		return nil, ErrChunkNotGenerated
	}

	data := chunk.NewData(pos)
	data.Status = chunk.Status(status)
	if err := readAll(r, &data.Blocks, &data.Heights, &data.Biomes); err != nil {
		return nil, corrupted(err)
	}

	for i := uint32(0); i < propCount; i++ {
		var idx uint16
		var n uint8
		if err := readAll(r, &idx, &n); err != nil {
			return nil, corrupted(err)
		}
		props := make(map[string]string, n)
		for j := 0; j < int(n); j++ {
			k, err := readShortString(r)
			if err != nil {
				return nil, corrupted(err)
			}
			v, err := readShortString(r)
			if err != nil {
				return nil, corrupted(err)
			}
			props[k] = v
		}
		data.Properties[idx] = props
	}

	var tickCount uint32
	if err := readAll(r, &tickCount); err != nil {
		return nil, corrupted(err)
	}
	// 17 байт на тик: защищаемся от мусорного счётчика
	if int64(tickCount)*17 > int64(r.Len()) {
		return nil, corrupted(io.ErrUnexpectedEOF)
	}
	if tickCount > 0 {
		data.BlockTicks = make([]chunk.ScheduledTick, 0, tickCount)
	}
	for i := uint32(0); i < tickCount; i++ {
		var t chunk.ScheduledTick
		var prio int8
		if err := readAll(r, &t.Pos.X, &t.Pos.Y, &t.Pos.Z, &t.Delay, &prio, &t.TargetBlock); err != nil {
			return nil, corrupted(err)
		}
		t.Priority = chunk.TickPriority(prio)
		data.BlockTicks = append(data.BlockTicks, t)
	}
	return data, nil
}

func readAll(r io.Reader, fields ...any) error {
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func writeShortString(buf *bytes.Buffer, s string) error {
	if len(s) > 255 {
		return fmt.Errorf("строка длиннее 255 байт: %q", s[:32])
	}
	buf.WriteByte(uint8(len(s)))
	buf.WriteString(s)
	return nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func corrupted(err error) error {
	return fmt.Errorf("%w: %v", ErrCorruptedChunk, err)
}

// Схемы сжатия, первый байт записи.
const (
	schemeRaw  byte = 0
	schemeZstd byte = 1
)

// CompressedCodec сжимает записи другого кодека через zstd. Первый байт
// записи хранит схему, так что несжатые записи тоже читаются.
type CompressedCodec struct {
	inner   Codec
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressedCodec оборачивает inner. Encoder и decoder безопасны для
// конкурентного использования через EncodeAll/DecodeAll.
func NewCompressedCodec(inner Codec) (*CompressedCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("создание zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("создание zstd decoder: %w", err)
	}
	return &CompressedCodec{inner: inner, encoder: encoder, decoder: decoder}, nil
}

// Encode реализует Codec
func (c *CompressedCodec) Encode(data *chunk.Data) ([]byte, error) {
	raw, err := c.inner.Encode(data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1, len(raw)/2+1)
	out[0] = schemeZstd
	return c.encoder.EncodeAll(raw, out), nil
}

// Decode реализует Codec
func (c *CompressedCodec) Decode(pos chunk.Pos, raw []byte) (*chunk.Data, error) {
	if len(raw) == 0 {
		return nil, corrupted(io.ErrUnexpectedEOF)
	}
	switch raw[0] {
	case schemeRaw:
		return c.inner.Decode(pos, raw[1:])
	case schemeZstd:
		plain, err := c.decoder.DecodeAll(raw[1:], nil)
		if err != nil {
			return nil, corrupted(err)
		}
		return c.inner.Decode(pos, plain)
	default:
		return nil, fmt.Errorf("схема сжатия %d: %w", raw[0], ErrUnsupportedVersion)
	}
}

// Close освобождает ресурсы zstd
func (c *CompressedCodec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

// NewCodec возвращает кодек по имени схемы сжатия: "none" или "zstd".
func NewCodec(compression string) (Codec, error) {
	switch compression {
	case "", "none":
		return BinaryCodec{}, nil
	case "zstd":
		c, err := NewCompressedCodec(BinaryCodec{})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("неизвестная схема сжатия %q", compression)
	}
}
