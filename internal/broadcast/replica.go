package broadcast

import (
	"sort"
	"sync"

	"github.com/annel0/place3d/internal/grid"
)

// Replica — клиентская модель сетки: снапшот плюс поток обновлений.
// Apply идемпотентен и не зависит от порядка: в каждой клетке остаётся
// наибольший по grid.Cube.Newer куб, тот же, что хранит GridStore.
type Replica struct {
	mu    sync.RWMutex
	cubes map[string]grid.Cube
}

func NewReplica() *Replica {
	return &Replica{cubes: make(map[string]grid.Cube)}
}

// Seed заменяет состояние снапшотом.
func (r *Replica) Seed(cubes map[string]grid.Cube) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cubes = make(map[string]grid.Cube, len(cubes))
	for _, c := range cubes {
		r.cubes[c.Key()] = c
	}
}

// Apply применяет обновление; возвращает true, если состояние изменилось.
func (r *Replica) Apply(c grid.Cube) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := c.Key()
	if cur, ok := r.cubes[key]; ok {
		if !c.Newer(cur) {
			return false
		}
	}
	r.cubes[key] = c
	return true
}

// Cubes возвращает копию состояния.
func (r *Replica) Cubes() map[string]grid.Cube {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]grid.Cube, len(r.cubes))
	for k, c := range r.cubes {
		out[k] = c
	}
	return out
}

// Sorted возвращает кубы в порядке ключей, удобно для отрисовки и сравнения.
func (r *Replica) Sorted() []grid.Cube {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.cubes))
	for k := range r.cubes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]grid.Cube, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.cubes[k])
	}
	return out
}

func (r *Replica) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cubes)
}

// Get возвращает куб клетки.
func (r *Replica) Get(key string) (grid.Cube, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cubes[key]
	return c, ok
}
