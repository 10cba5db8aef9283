package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/annel0/place3d/internal/grid"
)

// MemoryGridStore реализует GridStore в памяти.
// Используется для CI/локальной разработки без Redis и в тестах.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryGridStore struct {
	mu     sync.RWMutex
	worlds map[string]map[string]grid.Cube // worldID -> ключ позиции -> куб
}

// NewMemoryGridStore создает новую сетку в памяти.
func NewMemoryGridStore() *MemoryGridStore {
	return &MemoryGridStore{
		worlds: make(map[string]map[string]grid.Cube),
	}
}

// Put сохраняет куб в памяти, если он новее уже записанного (grid.Cube.Newer).
func (s *MemoryGridStore) Put(ctx context.Context, worldID string, cube grid.Cube) error {
	if worldID == "" {
		return fmt.Errorf("пустой worldID")
	}

	// Проверяем контекст на отмену
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cubes, ok := s.worlds[worldID]
	if !ok {
		cubes = make(map[string]grid.Cube)
		s.worlds[worldID] = cubes
	}
	key := cube.Key()
	if cur, ok := cubes[key]; ok && !cube.Newer(cur) {
		return nil
	}
	cubes[key] = cube
	return nil
}

// GetAll возвращает копию сетки мира.
func (s *MemoryGridStore) GetAll(ctx context.Context, worldID string) (map[string]grid.Cube, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cubes := s.worlds[worldID]
	result := make(map[string]grid.Cube, len(cubes))
	for key, cube := range cubes {
		result[key] = cube
	}
	return result, nil
}

// Count возвращает число кубов мира.
func (s *MemoryGridStore) Count(ctx context.Context, worldID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.worlds[worldID])), nil
}
