package broadcast

import (
	"testing"
	"time"

	"github.com/annel0/place3d/internal/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplica_SeedThenApply(t *testing.T) {
	r := NewReplica()
	old := cube(1, 1, 1, "#111111", "alice", t0)
	r.Seed(map[string]grid.Cube{old.Key(): old})
	assert.Equal(t, 1, r.Len())

	newer := cube(1, 1, 1, "#222222", "bob", t0.Add(time.Second))
	assert.True(t, r.Apply(newer))

	got, ok := r.Get("1_1_1")
	require.True(t, ok)
	assert.Equal(t, "bob", got.PlacedBy)
}

func TestReplica_StaleAndDuplicateUpdatesIgnored(t *testing.T) {
	r := NewReplica()
	newer := cube(2, 2, 2, "#222222", "bob", t0.Add(time.Second))
	older := cube(2, 2, 2, "#111111", "alice", t0)

	assert.True(t, r.Apply(newer))
	assert.False(t, r.Apply(newer), "повтор не меняет состояние")
	assert.False(t, r.Apply(older), "устаревшее обновление отбрасывается")

	got, _ := r.Get("2_2_2")
	assert.Equal(t, "#222222", got.Color)
}

func TestReplica_OrderIndependent(t *testing.T) {
	updates := []grid.Cube{
		cube(1, 1, 1, "#a", "u1", t0),
		cube(1, 1, 1, "#b", "u2", t0.Add(2*time.Millisecond)),
		cube(3, 1, 1, "#c", "u3", t0.Add(time.Millisecond)),
		cube(1, 1, 1, "#d", "u4", t0.Add(time.Millisecond)),
	}

	forward := NewReplica()
	for _, c := range updates {
		forward.Apply(c)
	}
	backward := NewReplica()
	for i := len(updates) - 1; i >= 0; i-- {
		backward.Apply(updates[i])
	}

	assert.Equal(t, forward.Sorted(), backward.Sorted())
	got, _ := forward.Get("1_1_1")
	assert.Equal(t, "#b", got.Color)
}

func TestReplica_EqualTimestampsConverge(t *testing.T) {
	a := cube(4, 4, 4, "#ff0000", "alice", t0)
	b := cube(4, 4, 4, "#00ff00", "bob", t0)
	c := cube(4, 4, 4, "#ff00ff", "bob", t0)

	orders := [][]grid.Cube{{a, b, c}, {c, b, a}, {b, a, c}, {c, a, b}}
	for _, order := range orders {
		r := NewReplica()
		for _, u := range order {
			r.Apply(u)
		}
		got, _ := r.Get("4_4_4")
		assert.Equal(t, c, got)
	}
}

func TestReplica_LateOlderUpdateAfterNewer(t *testing.T) {
	r := NewReplica()
	assert.True(t, r.Apply(cube(5, 5, 5, "#0000ff", "bob", t0.Add(time.Millisecond))))
	assert.False(t, r.Apply(cube(5, 5, 5, "#ff0000", "alice", t0)))

	got, _ := r.Get("5_5_5")
	assert.Equal(t, "bob", got.PlacedBy)
}

func TestReplica_CubesIsCopy(t *testing.T) {
	r := NewReplica()
	r.Apply(cube(1, 1, 1, "#a", "u", t0))
	m := r.Cubes()
	delete(m, "1_1_1")
	assert.Equal(t, 1, r.Len())
}
