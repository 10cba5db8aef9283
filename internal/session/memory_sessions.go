package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/annel0/place3d/internal/clock"
)

// MemorySessions — реестр миров в памяти.
type MemorySessions struct {
	clock clock.Clock

	mu     sync.RWMutex
	worlds map[string]World
}

func NewMemorySessions(c clock.Clock) *MemorySessions {
	if c == nil {
		c = clock.System{}
	}
	return &MemorySessions{clock: c, worlds: make(map[string]World)}
}

func (s *MemorySessions) Create(ctx context.Context, worldID string, endsAt *time.Time) (World, error) {
	if worldID == "" {
		return World{}, fmt.Errorf("пустой worldID")
	}
	if err := ctx.Err(); err != nil {
		return World{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.worlds[worldID]; ok {
		return World{}, fmt.Errorf("%w: %s", ErrWorldExists, worldID)
	}

	w := World{
		ID:        worldID,
		Status:    StatusActive,
		CreatedAt: s.clock.Now().UTC().Truncate(time.Millisecond),
	}
	if endsAt != nil {
		e := endsAt.UTC().Truncate(time.Millisecond)
		w.EndsAt = &e
	}
	s.worlds[worldID] = w
	return w, nil
}

func (s *MemorySessions) Get(ctx context.Context, worldID string) (World, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.worlds[worldID]
	if !ok {
		return World{}, fmt.Errorf("%w: %s", ErrWorldNotFound, worldID)
	}
	return w, nil
}

func (s *MemorySessions) Status(ctx context.Context, worldID string) (Status, error) {
	w, err := s.Get(ctx, worldID)
	if err != nil {
		return "", err
	}
	return w.Status, nil
}

func (s *MemorySessions) End(ctx context.Context, worldID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.worlds[worldID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrWorldNotFound, worldID)
	}
	if w.Status == StatusEnded {
		return false, nil
	}

	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	w.Status = StatusEnded
	w.EndedAt = &now
	s.worlds[worldID] = w
	return true, nil
}

func (s *MemorySessions) ListActive(ctx context.Context) ([]World, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]World, 0)
	for _, w := range s.worlds {
		if w.Status == StatusActive {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
