package leaderboard

import (
	"context"

	"github.com/annel0/place3d/internal/storage"
	"github.com/go-redis/redis/v8"
)

// RedisBoard хранит рейтинг в sorted set leaderboard:{worldID}.
// ZINCRBY атомарен; при равном счёте Redis упорядочивает участников
// лексикографически (в обратном порядке для ZREVRANGE).
type RedisBoard struct {
	client redis.UniversalClient
}

func NewRedisBoard(client redis.UniversalClient) *RedisBoard {
	return &RedisBoard{client: client}
}

func (b *RedisBoard) Increment(ctx context.Context, worldID, username string, by int64) error {
	if err := b.client.ZIncrBy(ctx, key(worldID), float64(by), username).Err(); err != nil {
		return storage.Unavailable("leaderboard incr", err)
	}
	return nil
}

func (b *RedisBoard) TopK(ctx context.Context, worldID string, k int) ([]Entry, error) {
	if k <= 0 {
		return []Entry{}, nil
	}

	zs, err := b.client.ZRevRangeWithScores(ctx, key(worldID), 0, int64(k-1)).Result()
	if err != nil {
		return nil, storage.Unavailable("leaderboard range", err)
	}

	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		name, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, Entry{Username: name, Score: int64(z.Score)})
	}
	return out, nil
}

func (b *RedisBoard) Score(ctx context.Context, worldID, username string) (int64, error) {
	score, err := b.client.ZScore(ctx, key(worldID), username).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, storage.Unavailable("leaderboard score", err)
	}
	return int64(score), nil
}
