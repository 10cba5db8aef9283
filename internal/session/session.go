// Package session управляет жизненным циклом миров: Active при создании,
// Ended по явному завершению или истечению срока. Ended — терминальное
// состояние; мир не удаляется и остаётся доступен для чтения.
package session

import (
	"context"
	"errors"
	"time"
)

// Status — состояние мира.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrWorldNotFound = errors.New("world not found")
	ErrWorldExists   = errors.New("world already exists")
)

// World — игровая сессия (один пост).
type World struct {
	ID        string     `json:"world_id"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Expired сообщает, истёк ли срок активного мира к моменту now.
func (w World) Expired(now time.Time) bool {
	return w.Status == StatusActive && w.EndsAt != nil && !w.EndsAt.After(now)
}

// Sessions — реестр миров.
type Sessions interface {
	// Create создаёт активный мир; endsAt == nil — мир без срока.
	Create(ctx context.Context, worldID string, endsAt *time.Time) (World, error)

	// Get возвращает мир или ErrWorldNotFound.
	Get(ctx context.Context, worldID string) (World, error)

	// Status — чистое чтение состояния.
	Status(ctx context.Context, worldID string) (Status, error)

	// End переводит мир в Ended. Повторный вызов ничего не делает.
	// ended == true ровно у одного вызова: того, что выполнил переход.
	End(ctx context.Context, worldID string) (ended bool, err error)

	// ListActive возвращает все активные миры.
	ListActive(ctx context.Context) ([]World, error)
}
