package grid

import (
	"testing"
	"time"

	"github.com/annel0/place3d/internal/vec"
	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func at(color, user string, when time.Time) Cube {
	return Cube{Position: vec.Vec3{X: 1, Y: 1, Z: 1}, Color: color, PlacedBy: user, PlacedAt: when}
}

func TestNewer(t *testing.T) {
	tests := []struct {
		name string
		a, b Cube
		want bool
	}{
		{"later time wins", at("#000000", "alice", t0.Add(time.Millisecond)), at("#ffffff", "zed", t0), true},
		{"earlier time loses", at("#ffffff", "zed", t0), at("#000000", "alice", t0.Add(time.Millisecond)), false},
		{"tie broken by user", at("#000000", "bob", t0), at("#ffffff", "alice", t0), true},
		{"user prefix is smaller", at("#ffffff", "bo", t0), at("#000000", "bob", t0), false},
		{"tie broken by color", at("#00ff00", "bob", t0), at("#0000ff", "bob", t0), true},
		{"identical is not newer", at("#00ff00", "bob", t0), at("#00ff00", "bob", t0), false},
		{"sub-millisecond difference ignored", at("#000000", "bob", t0.Add(500*time.Microsecond)), at("#000000", "bob", t0), false},
		{"before epoch", at("#000000", "bob", time.UnixMilli(-5)), at("#000000", "bob", time.UnixMilli(-10)), true},
		{"epoch sign", at("#000000", "bob", time.UnixMilli(1)), at("#000000", "bob", time.UnixMilli(-1)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Newer(tt.b))
		})
	}
}

func TestNewerIsAntisymmetric(t *testing.T) {
	cubes := []Cube{
		at("#ff0000", "alice", t0),
		at("#00ff00", "alice", t0),
		at("#ff0000", "bob", t0),
		at("#ff0000", "alice", t0.Add(time.Millisecond)),
	}
	for i, a := range cubes {
		for j, b := range cubes {
			if i == j {
				continue
			}
			assert.NotEqual(t, a.Newer(b), b.Newer(a), "%d vs %d", i, j)
		}
	}
}
