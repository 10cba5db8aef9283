// Package broadcast рассылает принятые кубы всем подписчикам мира.
//
// Доставка at-most-once: медленный подписчик теряет обновления (счётчик
// Dropped), а публикация никогда не блокирует и не откатывает размещение.
// Клиент восстанавливается повторным снапшотом и применяет обновления
// идемпотентно через Replica.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/annel0/place3d/internal/grid"
)

// ErrClosed возвращается при работе с закрытой шиной.
var ErrClosed = errors.New("broadcast bus closed")

// DefaultSubscriberBuffer — ёмкость канала подписчика по умолчанию.
const DefaultSubscriberBuffer = 64

// Subscription — подписка на обновления одного мира.
type Subscription interface {
	// C отдаёт поток кубов. Канал закрывается после Unsubscribe.
	C() <-chan grid.Cube
	Unsubscribe()
}

// Stats агрегированные метрики шины.
type Stats struct {
	Published   uint64
	Delivered   uint64
	Dropped     uint64
	Subscribers int
}

// Bus — широковещательная шина обновлений.
type Bus interface {
	Publish(ctx context.Context, worldID string, cube grid.Cube) error
	Subscribe(ctx context.Context, worldID string) (Subscription, error)
	Stats() Stats
	// Connected — готова ли шина доставлять обновления; отдаётся в /health.
	Connected() bool
	Close() error
}

type counters struct {
	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Published: c.published.Load(),
		Delivered: c.delivered.Load(),
		Dropped:   c.dropped.Load(),
	}
}

// subscriber — общий для реализаций локальный получатель.
type subscriber struct {
	worldID string
	ch      chan grid.Cube
	stats   *counters

	mu      sync.Mutex
	closed  bool
	once    sync.Once
	stop    chan struct{}
	onClose func()
}

func newSubscriber(worldID string, buffer int, stats *counters, onClose func()) *subscriber {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &subscriber{
		worldID: worldID,
		ch:      make(chan grid.Cube, buffer),
		stats:   stats,
		stop:    make(chan struct{}),
		onClose: onClose,
	}
}

func (s *subscriber) C() <-chan grid.Cube { return s.ch }

// deliver не блокирует: при полном буфере обновление отбрасывается.
func (s *subscriber) deliver(c grid.Cube) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- c:
		s.stats.delivered.Add(1)
	default:
		s.stats.dropped.Add(1)
	}
}

func (s *subscriber) Unsubscribe() {
	s.once.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		close(s.stop)
	})
}

// watch отписывает при отмене ctx.
func (s *subscriber) watch(ctx context.Context) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Unsubscribe()
		case <-s.stop:
		}
	}()
}
