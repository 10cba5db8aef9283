package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/place3d/internal/clock"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newRedisSessions(t *testing.T, c clock.Clock) *RedisSessions {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis недоступен: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return NewRedisSessions(client, c)
}

func runSessionsContract(t *testing.T, mk func(t *testing.T, c clock.Clock) Sessions) {
	ctx := context.Background()

	t.Run("CreateGetStatus", func(t *testing.T) {
		clk := clock.NewManual(t0)
		s := mk(t, clk)

		ends := t0.Add(24 * time.Hour)
		w, err := s.Create(ctx, "post1", &ends)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, w.Status)
		assert.True(t, w.CreatedAt.Equal(t0))
		require.NotNil(t, w.EndsAt)
		assert.True(t, w.EndsAt.Equal(ends))

		got, err := s.Get(ctx, "post1")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, got.Status)
		assert.True(t, got.CreatedAt.Equal(t0))
		require.NotNil(t, got.EndsAt)
		assert.True(t, got.EndsAt.Equal(ends))

		st, err := s.Status(ctx, "post1")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, st)
	})

	t.Run("DuplicateCreate", func(t *testing.T) {
		s := mk(t, clock.NewManual(t0))
		_, err := s.Create(ctx, "post1", nil)
		require.NoError(t, err)
		_, err = s.Create(ctx, "post1", nil)
		assert.ErrorIs(t, err, ErrWorldExists)
	})

	t.Run("UnknownWorld", func(t *testing.T) {
		s := mk(t, clock.NewManual(t0))
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrWorldNotFound)
		_, err = s.Status(ctx, "nope")
		assert.ErrorIs(t, err, ErrWorldNotFound)
		_, err = s.End(ctx, "nope")
		assert.ErrorIs(t, err, ErrWorldNotFound)
	})

	t.Run("EndIsTerminalAndIdempotent", func(t *testing.T) {
		clk := clock.NewManual(t0)
		s := mk(t, clk)
		_, err := s.Create(ctx, "post1", nil)
		require.NoError(t, err)

		clk.Advance(time.Minute)
		ended, err := s.End(ctx, "post1")
		require.NoError(t, err)
		assert.True(t, ended)
		clk.Advance(time.Minute)
		ended, err = s.End(ctx, "post1")
		require.NoError(t, err)
		assert.False(t, ended, "повторное завершение не является переходом")

		w, err := s.Get(ctx, "post1")
		require.NoError(t, err)
		assert.Equal(t, StatusEnded, w.Status)
		require.NotNil(t, w.EndedAt)
		assert.True(t, w.EndedAt.Equal(t0.Add(time.Minute)), "время первого завершения сохраняется")
	})

	t.Run("ListActive", func(t *testing.T) {
		s := mk(t, clock.NewManual(t0))
		for _, id := range []string{"c", "a", "b"} {
			_, err := s.Create(ctx, id, nil)
			require.NoError(t, err)
		}
		_, err := s.End(ctx, "b")
		require.NoError(t, err)

		active, err := s.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, "a", active[0].ID)
		assert.Equal(t, "c", active[1].ID)
	})

	t.Run("ConcurrentEndSingleTransition", func(t *testing.T) {
		s := mk(t, clock.NewManual(t0))
		_, err := s.Create(ctx, "finale", nil)
		require.NoError(t, err)

		var transitions int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ended, err := s.End(ctx, "finale")
				assert.NoError(t, err)
				if ended {
					atomic.AddInt32(&transitions, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), transitions)
	})

	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) {
		s := mk(t, clock.NewManual(t0))
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Create(ctx, "race", nil); err == nil {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})
}

func TestMemorySessions(t *testing.T) {
	runSessionsContract(t, func(t *testing.T, c clock.Clock) Sessions {
		return NewMemorySessions(c)
	})
}

func TestRedisSessions(t *testing.T) {
	runSessionsContract(t, func(t *testing.T, c clock.Clock) Sessions {
		return newRedisSessions(t, c)
	})
}

func TestExpiryWatcher_Sweep(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(t0)
	s := NewMemorySessions(clk)

	short := t0.Add(4 * time.Minute)
	long := t0.Add(24 * time.Hour)
	_, err := s.Create(ctx, "short", &short)
	require.NoError(t, err)
	_, err = s.Create(ctx, "long", &long)
	require.NoError(t, err)
	_, err = s.Create(ctx, "forever", nil)
	require.NoError(t, err)

	var ended []string
	w := NewExpiryWatcher(s, clk, time.Second, func(world World) {
		assert.Equal(t, StatusEnded, world.Status)
		ended = append(ended, world.ID)
	})

	n, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(4 * time.Minute)
	n, err = w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"short"}, ended)

	st, err := s.Status(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, st)

	// повторный проход не трогает уже завершённые миры
	n, err = w.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(48 * time.Hour)
	n, err = w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"short", "long"}, ended)

	st, err = s.Status(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st)
}

// endedElsewhere завершает мир между ListActive и End, как оператор на другом узле.
type endedElsewhere struct {
	*MemorySessions
}

func (s endedElsewhere) ListActive(ctx context.Context) ([]World, error) {
	active, err := s.MemorySessions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range active {
		if _, err := s.MemorySessions.End(ctx, w.ID); err != nil {
			return nil, err
		}
	}
	return active, nil
}

func TestExpiryWatcher_SkipsWorldEndedConcurrently(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(t0)
	mem := NewMemorySessions(clk)

	deadline := t0.Add(time.Minute)
	_, err := mem.Create(ctx, "contested", &deadline)
	require.NoError(t, err)

	notified := 0
	w := NewExpiryWatcher(endedElsewhere{mem}, clk, time.Second, func(World) { notified++ })

	clk.Advance(2 * time.Minute)
	n, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, notified, "о завершении сообщает тот, кто его выполнил")
}

func TestExpiryWatcher_RunStopsOnCancel(t *testing.T) {
	s := NewMemorySessions(clock.System{})
	past := time.Now().Add(-time.Second)
	_, err := s.Create(context.Background(), "old", &past)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := NewExpiryWatcher(s, nil, 10*time.Millisecond, nil)
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		st, _ := s.Status(context.Background(), "old")
		return st == StatusEnded
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
