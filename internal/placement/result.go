package placement

import (
	"math"
	"time"

	"github.com/annel0/place3d/internal/grid"
)

// Outcome — итог попытки размещения.
type Outcome string

const (
	OutcomeAccepted       Outcome = "accepted"
	OutcomeCooldownActive Outcome = "cooldown_active"
	OutcomeWorldEnded     Outcome = "world_ended"
	OutcomeOutOfBounds    Outcome = "out_of_bounds"
	OutcomeInvalidRequest Outcome = "invalid_request"
	OutcomeStorageError   Outcome = "storage_error"
)

// Outcomes перечисляет все исходы (для инициализации метрик).
var Outcomes = []Outcome{
	OutcomeAccepted,
	OutcomeCooldownActive,
	OutcomeWorldEnded,
	OutcomeOutOfBounds,
	OutcomeInvalidRequest,
	OutcomeStorageError,
}

// Result — тегированный результат AttemptPlacement. Отказы — это значения,
// а не ошибки; Err заполняется только как причина для логов.
type Result struct {
	Outcome Outcome
	// Cube — сохранённый куб, только для accepted.
	Cube grid.Cube
	// Remaining — остаток кулдауна, только для cooldown_active.
	Remaining time.Duration
	Err       error
}

func (r Result) Accepted() bool {
	return r.Outcome == OutcomeAccepted
}

// RemainingSeconds округляет остаток кулдауна вверх.
func (r Result) RemainingSeconds() int {
	if r.Remaining <= 0 {
		return 0
	}
	return int(math.Ceil(r.Remaining.Seconds()))
}
