// Package cooldown реализует допуск постановки кубов по кулдауну пользователя.
//
// Состояния на пару (мир, пользователь): Eligible (записи нет или она истекла)
// и Cooling (запись с будущим временем истечения). Set переводит в Cooling,
// истечение окна возвращает в Eligible. Других переходов нет.
//
// Каноническая семантика — абсолютное время истечения: оставшееся время
// считается как max(0, expiresAt - now).
package cooldown

import (
	"context"
	"math"
	"time"
)

// Decision — результат проверки кулдауна.
type Decision struct {
	Admitted  bool
	Remaining time.Duration
}

// RemainingSeconds округляет остаток вверх до целых секунд для показа пользователю.
func (d Decision) RemainingSeconds() int {
	if d.Remaining <= 0 {
		return 0
	}
	return int(math.Ceil(d.Remaining.Seconds()))
}

// Gate — контроль допуска.
type Gate interface {
	// TryAcquire только читает состояние и ничего не создаёт: окно взводится
	// отдельным вызовом Set после успешной записи куба.
	TryAcquire(ctx context.Context, worldID, username string) (Decision, error)

	// Set (пере)запускает окно, перезаписывая прежнюю запись.
	// window <= 0 ничего не сохраняет: пользователь всегда Eligible.
	Set(ctx context.Context, worldID, username string, window time.Duration) error
}

func key(worldID, username string) string {
	return "cooldown:" + worldID + ":" + username
}

// decide переводит абсолютное время истечения в решение.
func decide(expiresAt, now time.Time) Decision {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return Decision{Admitted: true}
	}
	return Decision{Admitted: false, Remaining: remaining}
}
