package storage

import (
	"errors"
	"fmt"

	"github.com/annelo/go-world-server/internal/chunk"
)

// ErrChunkNotFound возвращается, когда чанк не найден в хранилище
type ErrChunkNotFound struct {
	X int32
	Z int32
}

func (e ErrChunkNotFound) Error() string {
	return fmt.Sprintf("чанк [%d, %d] не найден в хранилище", e.X, e.Z)
}

var (
	// ErrChunkNotGenerated - запись есть, но чанк не был сгенерирован до конца.
	ErrChunkNotGenerated = errors.New("чанк не сгенерирован")
	// ErrCorruptedChunk - запись не удалось разобрать.
	ErrCorruptedChunk = errors.New("повреждённые данные чанка")
	// ErrUnsupportedVersion - формат файла новее, чем умеет сервер.
	ErrUnsupportedVersion = errors.New("неподдерживаемая версия формата")
	// ErrInfoNotFound возвращается, если файла с информацией о мире ещё нет.
	ErrInfoNotFound = errors.New("информация о мире не найдена")
	// ErrLevelLocked означает, что папку мира уже использует другой процесс.
	ErrLevelLocked = errors.New("папка мира заблокирована другим процессом")
	// ErrClosed возвращается после закрытия хранилища.
	ErrClosed = errors.New("хранилище закрыто")
)

// IsAbsent сообщает, означает ли ошибка подтверждённое отсутствие чанка.
func IsAbsent(err error) bool {
	var notFound ErrChunkNotFound
	return errors.As(err, &notFound) || errors.Is(err, ErrChunkNotGenerated)
}

// toLoaded превращает результат чтения одной позиции в LoadedData.
func toLoaded(pos chunk.Pos, data *chunk.Data, err error) LoadedData {
	switch {
	case err == nil:
		return LoadedData{Kind: Loaded, Pos: pos, Chunk: data}
	case IsAbsent(err):
		return LoadedData{Kind: Missing, Pos: pos}
	default:
		return LoadedData{Kind: Failed, Pos: pos, Err: fmt.Errorf("чтение чанка %s: %w", pos, err)}
	}
}
