package cooldown

import (
	"context"
	"strconv"
	"time"

	"github.com/annel0/place3d/internal/clock"
	"github.com/annel0/place3d/internal/storage"
	"github.com/go-redis/redis/v8"
)

// RedisGate хранит кулдаун в ключе cooldown:{worldID}:{username}.
// Значение — время истечения в unix-миллисекундах, TTL ключа равен окну:
// решение принимается по сохранённой отметке, TTL лишь освобождает память Redis.
type RedisGate struct {
	client redis.UniversalClient
	clock  clock.Clock
}

// NewRedisGate создаёт кулдаун поверх клиента Redis.
func NewRedisGate(client redis.UniversalClient, c clock.Clock) *RedisGate {
	if c == nil {
		c = clock.System{}
	}
	return &RedisGate{client: client, clock: c}
}

func (g *RedisGate) TryAcquire(ctx context.Context, worldID, username string) (Decision, error) {
	raw, err := g.client.Get(ctx, key(worldID, username)).Result()
	if err == redis.Nil {
		return Decision{Admitted: true}, nil
	}
	if err != nil {
		return Decision{}, storage.Unavailable("cooldown get", err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Чужое значение в ключе не должно навсегда блокировать пользователя.
		return Decision{Admitted: true}, nil
	}
	return decide(time.UnixMilli(ms), g.clock.Now()), nil
}

func (g *RedisGate) Set(ctx context.Context, worldID, username string, window time.Duration) error {
	k := key(worldID, username)

	if window <= 0 {
		if err := g.client.Del(ctx, k).Err(); err != nil {
			return storage.Unavailable("cooldown clear", err)
		}
		return nil
	}

	expiresAt := g.clock.Now().Add(window)
	if err := g.client.Set(ctx, k, strconv.FormatInt(expiresAt.UnixMilli(), 10), window).Err(); err != nil {
		return storage.Unavailable("cooldown set", err)
	}
	return nil
}
