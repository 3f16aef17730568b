package storage

import (
	"context"

	"github.com/annelo/go-world-server/internal/chunk"
)

// LoadKind обозначает исход чтения одной позиции.
type LoadKind uint8

const (
	// Loaded - чанк прочитан и разобран.
	Loaded LoadKind = iota
	// Missing - чанка в хранилище нет. Это не ошибка.
	Missing
	// Failed - чтение или разбор завершились ошибкой.
	Failed
)

func (k LoadKind) String() string {
	switch k {
	case Loaded:
		return "loaded"
	case Missing:
		return "missing"
	default:
		return "failed"
	}
}

// LoadedData содержит результат чтения одной позиции.
type LoadedData struct {
	Kind  LoadKind
	Pos   chunk.Pos
	Chunk *chunk.Data
	Err   error
}

// ChunkIO описывает асинхронное хранилище чанков.
type ChunkIO interface {
	// FetchChunks читает позиции пачкой и отправляет ровно один LoadedData
	// на каждую позицию. Канал не закрывается; метод возвращается, когда все
	// результаты отправлены или ctx отменён.
	FetchChunks(ctx context.Context, positions []chunk.Pos, results chan<- LoadedData)

	// SaveChunks сохраняет снимки чанков. Повторов нет: ошибка возвращается
	// вызывающему, чанки, которые удалось записать, остаются записанными.
	SaveChunks(ctx context.Context, chunks []*chunk.Sync) error

	// WatchChunks и UnwatchChunks сообщают, какие позиции интересны игрокам.
	// Хранилище может держать их файлы открытыми.
	WatchChunks(positions []chunk.Pos)
	UnwatchChunks(positions []chunk.Pos)
	ClearWatched()

	// AwaitOngoing ждёт завершения уже принятых операций.
	AwaitOngoing(ctx context.Context) error

	// CompactLogs выполняет периодическое обслуживание файлов.
	CompactLogs(ctx context.Context) error

	Close() error
}
