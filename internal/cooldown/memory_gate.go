package cooldown

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/place3d/internal/clock"
)

// sweepEvery — через сколько вызовов Set чистить истёкшие записи.
const sweepEvery = 1024

// MemoryGate хранит время истечения в памяти процесса.
type MemoryGate struct {
	clock clock.Clock

	mu      sync.RWMutex
	entries map[string]time.Time
	sets    int
}

// NewMemoryGate создаёт кулдаун в памяти; nil clock означает системные часы.
func NewMemoryGate(c clock.Clock) *MemoryGate {
	if c == nil {
		c = clock.System{}
	}
	return &MemoryGate{
		clock:   c,
		entries: make(map[string]time.Time),
	}
}

func (g *MemoryGate) TryAcquire(ctx context.Context, worldID, username string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	g.mu.RLock()
	expiresAt, ok := g.entries[key(worldID, username)]
	g.mu.RUnlock()

	if !ok {
		return Decision{Admitted: true}, nil
	}
	return decide(expiresAt, g.clock.Now()), nil
}

func (g *MemoryGate) Set(ctx context.Context, worldID, username string, window time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := g.clock.Now()
	k := key(worldID, username)

	g.mu.Lock()
	defer g.mu.Unlock()

	if window <= 0 {
		delete(g.entries, k)
		return nil
	}
	g.entries[k] = now.Add(window)

	g.sets++
	if g.sets%sweepEvery == 0 {
		for k, exp := range g.entries {
			if !exp.After(now) {
				delete(g.entries, k)
			}
		}
	}
	return nil
}

// Len возвращает число хранимых записей (для тестов).
func (g *MemoryGate) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}
