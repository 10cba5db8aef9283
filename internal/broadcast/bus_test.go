package broadcast

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/annel0/place3d/internal/grid"
	"github.com/annel0/place3d/internal/vec"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func cube(x, y, z int, color, user string, at time.Time) grid.Cube {
	return grid.Cube{Position: vec.Vec3{X: x, Y: y, Z: z}, Color: color, PlacedBy: user, PlacedAt: at}
}

func recv(t *testing.T, sub Subscription) grid.Cube {
	t.Helper()
	select {
	case c, ok := <-sub.C():
		require.True(t, ok, "канал подписки закрыт")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("обновление не пришло")
		return grid.Cube{}
	}
}

func runBusContract(t *testing.T, mk func(t *testing.T) Bus) {
	ctx := context.Background()

	t.Run("FanOutInOrder", func(t *testing.T) {
		bus := mk(t)
		assert.True(t, bus.Connected())
		a, err := bus.Subscribe(ctx, "w1")
		require.NoError(t, err)
		b, err := bus.Subscribe(ctx, "w1")
		require.NoError(t, err)
		flush(t, bus)

		for i := 1; i <= 5; i++ {
			require.NoError(t, bus.Publish(ctx, "w1", cube(i, 1, 1, "#ff0000", "alice", t0.Add(time.Duration(i)*time.Millisecond))))
		}
		flush(t, bus)

		for _, sub := range []Subscription{a, b} {
			for i := 1; i <= 5; i++ {
				assert.Equal(t, i, recv(t, sub).Position.X)
			}
		}
	})

	t.Run("WorldIsolation", func(t *testing.T) {
		bus := mk(t)
		other, err := bus.Subscribe(ctx, "w2")
		require.NoError(t, err)
		mine, err := bus.Subscribe(ctx, "w1")
		require.NoError(t, err)
		flush(t, bus)

		require.NoError(t, bus.Publish(ctx, "w1", cube(1, 1, 1, "#00ff00", "bob", t0)))
		flush(t, bus)

		assert.Equal(t, "bob", recv(t, mine).PlacedBy)
		select {
		case c := <-other.C():
			t.Fatalf("чужой мир получил %v", c)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("UnsubscribeClosesChannel", func(t *testing.T) {
		bus := mk(t)
		sub, err := bus.Subscribe(ctx, "w1")
		require.NoError(t, err)
		sub.Unsubscribe()
		sub.Unsubscribe()

		_, ok := <-sub.C()
		assert.False(t, ok)
		assert.NoError(t, bus.Publish(ctx, "w1", cube(1, 1, 1, "#000000", "eve", t0)))
	})

	t.Run("ContextCancelUnsubscribes", func(t *testing.T) {
		bus := mk(t)
		cctx, cancel := context.WithCancel(ctx)
		sub, err := bus.Subscribe(cctx, "w1")
		require.NoError(t, err)
		cancel()

		require.Eventually(t, func() bool {
			select {
			case _, ok := <-sub.C():
				return !ok
			default:
				return false
			}
		}, time.Second, 5*time.Millisecond)
	})
}

func flush(t *testing.T, bus Bus) {
	if nb, ok := bus.(*NATSBus); ok {
		require.NoError(t, nb.Flush(time.Second))
	}
}

func TestMemoryBus(t *testing.T) {
	runBusContract(t, func(t *testing.T) Bus {
		bus := NewMemoryBus(128, 16)
		t.Cleanup(func() { bus.Close() })
		return bus
	})
}

func TestNATSBus(t *testing.T) {
	nc, err := nats.Connect(nats.DefaultURL, nats.Timeout(500*time.Millisecond))
	if err != nil {
		t.Skipf("NATS недоступен: %v", err)
	}
	nc.Close()

	runBusContract(t, func(t *testing.T) Bus {
		bus, err := NewNATSBus(NATSConfig{
			URL:           nats.DefaultURL,
			SubjectPrefix: fmt.Sprintf("test_cube_updates_%d", time.Now().UnixNano()),
			NodeID:        "test",
		})
		require.NoError(t, err)
		t.Cleanup(func() { bus.Close() })
		return bus
	})
}

func TestNATSBus_RejectsWildcardWorld(t *testing.T) {
	b := &NATSBus{config: NATSConfig{SubjectPrefix: "cube_updates"}}
	for _, id := range []string{"", "a.b", "*", ">", "a b"} {
		_, err := b.subject(id)
		assert.Error(t, err, id)
	}
	s, err := b.subject("post_1")
	require.NoError(t, err)
	assert.Equal(t, "cube_updates.post_1", s)
}

func TestMemoryBus_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	bus := NewMemoryBus(256, 2)
	defer bus.Close()

	slow, err := bus.Subscribe(context.Background(), "w1")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = bus.Publish(context.Background(), "w1", cube(1, 1, 1, "#ffffff", "spam", t0.Add(time.Duration(i)*time.Millisecond)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish заблокировался на медленном подписчике")
	}

	require.Eventually(t, func() bool {
		s := bus.Stats()
		return s.Delivered+s.Dropped == 100
	}, time.Second, 5*time.Millisecond)

	s := bus.Stats()
	assert.Equal(t, uint64(100), s.Published)
	assert.Equal(t, uint64(2), s.Delivered)
	assert.Equal(t, uint64(98), s.Dropped)
	assert.Equal(t, 1, s.Subscribers)
	assert.Len(t, slow.C(), 2)
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(8, 8)
	sub, err := bus.Subscribe(context.Background(), "w1")
	require.NoError(t, err)
	assert.True(t, bus.Connected())

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.False(t, bus.Connected())

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.ErrorIs(t, bus.Publish(context.Background(), "w1", cube(1, 1, 1, "#fff", "a", t0)), ErrClosed)
	_, err = bus.Subscribe(context.Background(), "w1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBus_ConvergenceOfObservers(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(1024, 1024)
	defer bus.Close()

	const observers = 4
	replicas := make([]*Replica, observers)
	subs := make([]Subscription, observers)
	for i := range replicas {
		replicas[i] = NewReplica()
		sub, err := bus.Subscribe(ctx, "w1")
		require.NoError(t, err)
		subs[i] = sub
	}

	// последовательность размещений с перезаписью одних и тех же клеток
	expected := NewReplica()
	for i := 0; i < 60; i++ {
		c := cube(i%5+1, i%3+1, 1, fmt.Sprintf("#%06x", i), fmt.Sprintf("u%d", i%7), t0.Add(time.Duration(i)*time.Millisecond))
		expected.Apply(c)
		require.NoError(t, bus.Publish(ctx, "w1", c))
	}

	for i, sub := range subs {
		for n := 0; n < 60; n++ {
			replicas[i].Apply(recv(t, sub))
		}
		assert.Equal(t, expected.Sorted(), replicas[i].Sorted())
	}
}
