package storage

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// Форматы хранилища чанков
const (
	FormatRegion  = "region"
	FormatLevelDB = "leveldb"
	FormatMemory  = "memory"
)

// Options описывает, как открыть хранилище чанков мира.
type Options struct {
	Format         string
	Compression    string
	IOWorkers      int
	MaxOpenRegions int
}

// Open открывает хранилище чанков в папке мира dir.
func Open(dir string, o Options, logger *zap.SugaredLogger) (ChunkIO, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	codec, err := NewCodec(o.Compression)
	if err != nil {
		return nil, err
	}

	switch o.Format {
	case FormatRegion, "":
		rio, err := NewRegionIO(filepath.Join(dir, "regions"), codec,
			WithIOWorkers(o.IOWorkers),
			WithMaxOpenRegions(o.MaxOpenRegions),
			WithRegionLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return rio, nil
	case FormatLevelDB:
		lio, err := OpenLevelDBIO(filepath.Join(dir, "db"), codec, o.IOWorkers, logger)
		if err != nil {
			return nil, err
		}
		return lio, nil
	case FormatMemory:
		io := NewMemoryIO()
		io.codec = codec
		return io, nil
	default:
		return nil, fmt.Errorf("неизвестный формат хранилища %q", o.Format)
	}
}
