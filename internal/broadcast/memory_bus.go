package broadcast

import (
	"context"
	"sync"

	"github.com/annel0/place3d/internal/grid"
)

type envelope struct {
	worldID string
	cube    grid.Cube
}

// MemoryBus — шина в пределах одного процесса. Единственный dispatch-цикл
// сохраняет порядок публикаций для каждого подписчика.
type MemoryBus struct {
	stats  counters
	buffer chan envelope
	subBuf int

	mu          sync.RWMutex
	subscribers map[string]map[int]*subscriber
	nextID      int
	closed      bool

	done chan struct{}
}

// NewMemoryBus создаёт шину с очередью capacity и буфером подписчика subBuffer.
func NewMemoryBus(capacity, subBuffer int) *MemoryBus {
	if capacity <= 0 {
		capacity = 1024
	}
	mb := &MemoryBus{
		buffer:      make(chan envelope, capacity),
		subBuf:      subBuffer,
		subscribers: make(map[string]map[int]*subscriber),
		done:        make(chan struct{}),
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *MemoryBus) Publish(ctx context.Context, worldID string, cube grid.Cube) error {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	if mb.closed {
		return ErrClosed
	}

	select {
	case mb.buffer <- envelope{worldID: worldID, cube: cube}:
		mb.stats.published.Add(1)
	default:
		// очередь заполнена — обновление теряется
		mb.stats.dropped.Add(1)
	}
	return nil
}

func (mb *MemoryBus) Subscribe(ctx context.Context, worldID string) (Subscription, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return nil, ErrClosed
	}

	id := mb.nextID
	mb.nextID++

	sub := newSubscriber(worldID, mb.subBuf, &mb.stats, func() {
		mb.mu.Lock()
		if subs, ok := mb.subscribers[worldID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(mb.subscribers, worldID)
			}
		}
		mb.mu.Unlock()
	})

	if mb.subscribers[worldID] == nil {
		mb.subscribers[worldID] = make(map[int]*subscriber)
	}
	mb.subscribers[worldID][id] = sub
	sub.watch(ctx)
	return sub, nil
}

func (mb *MemoryBus) Stats() Stats {
	s := mb.stats.snapshot()
	mb.mu.RLock()
	for _, subs := range mb.subscribers {
		s.Subscribers += len(subs)
	}
	mb.mu.RUnlock()
	return s
}

// Connected истинно до Close.
func (mb *MemoryBus) Connected() bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return !mb.closed
}

// Close останавливает dispatch и закрывает все подписки.
func (mb *MemoryBus) Close() error {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return nil
	}
	mb.closed = true
	close(mb.buffer)
	mb.mu.Unlock()

	<-mb.done

	mb.mu.RLock()
	var all []*subscriber
	for _, subs := range mb.subscribers {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	mb.mu.RUnlock()

	for _, sub := range all {
		sub.Unsubscribe()
	}
	return nil
}

// dispatchLoop рассылает события подписчикам мира.
func (mb *MemoryBus) dispatchLoop() {
	defer close(mb.done)

	for ev := range mb.buffer {
		mb.mu.RLock()
		subs := make([]*subscriber, 0, len(mb.subscribers[ev.worldID]))
		for _, sub := range mb.subscribers[ev.worldID] {
			subs = append(subs, sub)
		}
		mb.mu.RUnlock()

		for _, sub := range subs {
			sub.deliver(ev.cube)
		}
	}
}
