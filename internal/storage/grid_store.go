package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/place3d/internal/grid"
)

// ErrStorageUnavailable оборачивает любой отказ слоя хранения.
// Проверяется через errors.Is.
var ErrStorageUnavailable = errors.New("storage unavailable")

// GridStore определяет интерфейс разреженной сетки кубов мира.
// Каждая операция явно принимает worldID: неявного «текущего мира» нет.
type GridStore interface {
	// Put записывает куб в его позицию, заменяя прежний (last-write-wins).
	// Параметры:
	//   ctx - контекст для отмены операции
	//   worldID - идентификатор мира
	//   cube - куб с заполненной позицией
	// Возвращает:
	//   error - ErrStorageUnavailable при отказе хранилища
	Put(ctx context.Context, worldID string, cube grid.Cube) error

	// GetAll возвращает всю сетку мира: ключ позиции -> куб.
	// Для мира без кубов возвращает пустую карту, а не ошибку.
	GetAll(ctx context.Context, worldID string) (map[string]grid.Cube, error)

	// Count возвращает число занятых позиций мира.
	Count(ctx context.Context, worldID string) (int64, error)
}

// unavailable оборачивает ошибку бэкенда в ErrStorageUnavailable,
// сохраняя исходную ошибку в цепочке.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// Unavailable экспортирует обёртку для других пакетов хранения (кулдаун, лидерборд, миры).
func Unavailable(op string, err error) error {
	return unavailable(op, err)
}
