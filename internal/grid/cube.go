// Package grid описывает запись куба — единицу состояния мира.
package grid

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/annel0/place3d/internal/coords"
	"github.com/annel0/place3d/internal/vec"
)

// Cube — один поставленный куб. На позицию мира приходится не более одного куба;
// новая постановка в занятую клетку заменяет прежний куб.
type Cube struct {
	Position vec.Vec3  `json:"position"`
	Color    string    `json:"color"`
	PlacedBy string    `json:"placed_by"`
	PlacedAt time.Time `json:"placed_at"`
}

// Key возвращает ключ позиции куба.
func (c Cube) Key() string {
	return coords.Key(c.Position)
}

// OrderKey возвращает ключ полного порядка записей одной клетки:
// PlacedAt в миллисекундах, затем PlacedBy, затем Color.
// Побайтовое сравнение ключей совпадает с Newer, поэтому хранилища
// (Redis, SQL) сравнивают записи без разбора куба.
func (c Cube) OrderKey() []byte {
	key := make([]byte, 8, 8+len(c.PlacedBy)+1+len(c.Color))
	// смещение знака: отрицательные метки сортируются раньше положительных
	binary.BigEndian.PutUint64(key, uint64(c.PlacedAt.UnixMilli())^(1<<63))
	key = append(key, c.PlacedBy...)
	key = append(key, 0)
	key = append(key, c.Color...)
	return key
}

// Newer сообщает, должна ли запись c заменить other по правилу last-write-wins.
// Порядок полный и не зависит от порядка доставки: при равном времени
// сравниваются PlacedBy и Color. Одинаковые записи не новее друг друга.
func (c Cube) Newer(other Cube) bool {
	return bytes.Compare(c.OrderKey(), other.OrderKey()) > 0
}

// Marshal сериализует куб для хранилищ и шины.
func Marshal(c Cube) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal cube %s: %w", c.Position, err)
	}
	return data, nil
}

// Unmarshal разбирает куб, записанный Marshal.
func Unmarshal(data []byte) (Cube, error) {
	var c Cube
	if err := json.Unmarshal(data, &c); err != nil {
		return Cube{}, fmt.Errorf("unmarshal cube: %w", err)
	}
	return c, nil
}
