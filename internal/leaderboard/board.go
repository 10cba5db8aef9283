// Package leaderboard ведёт счёт принятых постановок по пользователям мира.
// Счёт только растёт; удаления нет.
package leaderboard

import "context"

// Entry — строка рейтинга.
type Entry struct {
	Username string `json:"username"`
	Score    int64  `json:"score"`
}

// Board — рейтинг пользователей мира.
type Board interface {
	// Increment атомарно прибавляет by, создавая запись при первом вызове.
	Increment(ctx context.Context, worldID, username string, by int64) error

	// TopK возвращает не более k записей по убыванию счёта. Состояние между
	// вызовами не хранится. Порядок при равном счёте определяется бэкендом
	// и стабилен между чтениями.
	TopK(ctx context.Context, worldID string, k int) ([]Entry, error)

	// Score возвращает счёт пользователя, 0 если записи нет.
	Score(ctx context.Context, worldID, username string) (int64, error)
}

func key(worldID string) string {
	return "leaderboard:" + worldID
}
