// Package coords переводит координаты между пользовательской сеткой
// (целые, 1-based, [1, N] по каждой оси) и центрированной сценой рендера.
//
// Вся координатная арифметика проходит через Codec: смещение сетки задаётся
// ровно в одном месте.
package coords

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/annel0/place3d/internal/vec"
)

// VerticalShift поднимает центр куба на полклетки над платформой.
const VerticalShift = 0.5

// ErrOutOfBounds возвращается для координат вне [1, N].
var ErrOutOfBounds = errors.New("position out of bounds")

// ErrBadKey возвращается ParseKey для строки неверного формата.
var ErrBadKey = errors.New("malformed position key")

// Codec хранит размер сетки N и производное от него смещение.
type Codec struct {
	extent int
	offset float64
}

// NewCodec создаёт кодек для сетки N×N×N.
func NewCodec(extent int) (*Codec, error) {
	if extent <= 0 {
		return nil, fmt.Errorf("grid extent must be positive, got %d", extent)
	}
	return &Codec{
		extent: extent,
		offset: float64(extent)/2 - 0.5,
	}, nil
}

// Extent возвращает N.
func (c *Codec) Extent() int { return c.extent }

// Offset возвращает горизонтальное смещение N/2 - 0.5.
func (c *Codec) Offset() float64 { return c.offset }

// Validate проверяет, что позиция лежит внутри сетки.
func (c *Codec) Validate(p vec.Vec3) error {
	if !p.InCube(1, c.extent) {
		return fmt.Errorf("%w: %s not in [1,%d]", ErrOutOfBounds, p, c.extent)
	}
	return nil
}

// ToWorld переводит позицию сетки в координаты сцены.
func (c *Codec) ToWorld(p vec.Vec3) vec.Vec3Float {
	return vec.Vec3Float{
		X: float64(p.X-1) - c.offset,
		Y: float64(p.Y-1) + VerticalShift,
		Z: float64(p.Z-1) - c.offset,
	}
}

// ToStorage переводит координаты сцены в позицию сетки с округлением
// до ближайшей клетки. Результат вне сетки отклоняется, без клампинга.
func (c *Codec) ToStorage(w vec.Vec3Float) (vec.Vec3, error) {
	p := vec.Vec3{
		X: roundAxis(w.X + c.offset + 1),
		Y: roundAxis(w.Y - VerticalShift + 1),
		Z: roundAxis(w.Z + c.offset + 1),
	}
	if err := c.Validate(p); err != nil {
		return vec.Vec3{}, err
	}
	return p, nil
}

func roundAxis(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		// гарантированно вне сетки
		return math.MinInt32
	}
	return int(math.Round(f))
}

// Key возвращает ключ позиции "x_y_z". Ключи совпадают тогда и только тогда,
// когда совпадают позиции.
func Key(p vec.Vec3) string {
	return strconv.Itoa(p.X) + "_" + strconv.Itoa(p.Y) + "_" + strconv.Itoa(p.Z)
}

// ParseKey разбирает ключ, построенный Key.
func ParseKey(key string) (vec.Vec3, error) {
	parts := strings.Split(key, "_")
	if len(parts) != 3 {
		return vec.Vec3{}, fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	var axes [3]int
	for i, s := range parts {
		n, err := strconv.Atoi(s)
		if err != nil {
			return vec.Vec3{}, fmt.Errorf("%w: %q", ErrBadKey, key)
		}
		axes[i] = n
	}
	return vec.Vec3{X: axes[0], Y: axes[1], Z: axes[2]}, nil
}
