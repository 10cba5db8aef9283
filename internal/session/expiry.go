package session

import (
	"context"
	"time"

	"github.com/annel0/place3d/internal/clock"
	"github.com/annel0/place3d/internal/logging"
)

// ExpiryWatcher периодически завершает миры с истёкшим EndsAt.
type ExpiryWatcher struct {
	sessions Sessions
	clock    clock.Clock
	interval time.Duration
	onEnded  func(World)
	logger   *logging.Logger
}

// NewExpiryWatcher создаёт наблюдатель. onEnded (может быть nil) вызывается
// для каждого мира, завершённого наблюдателем.
func NewExpiryWatcher(sessions Sessions, c clock.Clock, interval time.Duration, onEnded func(World)) *ExpiryWatcher {
	if c == nil {
		c = clock.System{}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ExpiryWatcher{
		sessions: sessions,
		clock:    c,
		interval: interval,
		onEnded:  onEnded,
		logger:   logging.GetSessionLogger(),
	}
}

// Run крутит проверку до отмены ctx.
func (w *ExpiryWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("⏳ Expiry watcher started (interval %v)", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("⏹️ Expiry watcher stopped")
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Warn("Expiry sweep failed: %v", err)
			}
		}
	}
}

// Sweep делает один проход и возвращает число завершённых миров.
func (w *ExpiryWatcher) Sweep(ctx context.Context) (int, error) {
	active, err := w.sessions.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	now := w.clock.Now()
	ended := 0
	for _, world := range active {
		if !world.Expired(now) {
			continue
		}
		transitioned, err := w.sessions.End(ctx, world.ID)
		if err != nil {
			w.logger.Warn("Failed to end expired world %s: %v", world.ID, err)
			continue
		}
		if !transitioned {
			// завершён параллельно: оператором или другим узлом
			continue
		}
		ended++
		w.logger.Info("🏁 World %s ended (deadline %s)", world.ID, world.EndsAt.Format(time.RFC3339))
		if w.onEnded != nil {
			world.Status = StatusEnded
			w.onEnded(world)
		}
	}
	return ended, nil
}
