package session

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/annel0/place3d/internal/clock"
	"github.com/annel0/place3d/internal/storage"
	"github.com/go-redis/redis/v8"
)

const activeSetKey = "worlds:active"

// RedisSessions хранит мир в hash world:{worldID}
// (status, created_at, ends_at, ended_at — unix-миллисекунды)
// и индекс активных миров в set worlds:active.
type RedisSessions struct {
	client redis.UniversalClient
	clock  clock.Clock
}

func NewRedisSessions(client redis.UniversalClient, c clock.Clock) *RedisSessions {
	if c == nil {
		c = clock.System{}
	}
	return &RedisSessions{client: client, clock: c}
}

func worldKey(worldID string) string {
	return "world:" + worldID
}

func (s *RedisSessions) Create(ctx context.Context, worldID string, endsAt *time.Time) (World, error) {
	if worldID == "" {
		return World{}, fmt.Errorf("пустой worldID")
	}

	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	key := worldKey(worldID)

	// HSETNX по created_at — атомарная проверка «мир ещё не создан».
	created, err := s.client.HSetNX(ctx, key, "created_at", now.UnixMilli()).Result()
	if err != nil {
		return World{}, storage.Unavailable("session create", err)
	}
	if !created {
		return World{}, fmt.Errorf("%w: %s", ErrWorldExists, worldID)
	}

	w := World{ID: worldID, Status: StatusActive, CreatedAt: now}
	fields := map[string]interface{}{"status": string(StatusActive)}
	if endsAt != nil {
		e := endsAt.UTC().Truncate(time.Millisecond)
		w.EndsAt = &e
		fields["ends_at"] = e.UnixMilli()
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.SAdd(ctx, activeSetKey, worldID)
		return nil
	})
	if err != nil {
		return World{}, storage.Unavailable("session create", err)
	}
	return w, nil
}

func (s *RedisSessions) Get(ctx context.Context, worldID string) (World, error) {
	fields, err := s.client.HGetAll(ctx, worldKey(worldID)).Result()
	if err != nil {
		return World{}, storage.Unavailable("session get", err)
	}
	return parseWorld(worldID, fields)
}

func parseWorld(worldID string, fields map[string]string) (World, error) {
	if len(fields) == 0 {
		return World{}, fmt.Errorf("%w: %s", ErrWorldNotFound, worldID)
	}

	w := World{ID: worldID, Status: Status(fields["status"])}
	if w.Status == "" {
		// создание прервалось между HSETNX и HSET
		w.Status = StatusActive
	}
	if ms, ok := parseMillis(fields["created_at"]); ok {
		w.CreatedAt = ms
	}
	if ms, ok := parseMillis(fields["ends_at"]); ok {
		w.EndsAt = &ms
	}
	if ms, ok := parseMillis(fields["ended_at"]); ok {
		w.EndedAt = &ms
	}
	return w, nil
}

func parseMillis(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(n).UTC(), true
}

func (s *RedisSessions) Status(ctx context.Context, worldID string) (Status, error) {
	raw, err := s.client.HGet(ctx, worldKey(worldID), "status").Result()
	if err == redis.Nil {
		// статус ещё не записан, но мир мог уже существовать
		if _, err := s.Get(ctx, worldID); err != nil {
			return "", err
		}
		return StatusActive, nil
	}
	if err != nil {
		return "", storage.Unavailable("session status", err)
	}
	return Status(raw), nil
}

// End завершает мир. Переход фиксирует тот вызов, чей SREM убрал мир
// из множества активных: MULTI исполняется атомарно.
func (s *RedisSessions) End(ctx context.Context, worldID string) (bool, error) {
	key := worldKey(worldID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, storage.Unavailable("session end", err)
	}
	if exists == 0 {
		return false, fmt.Errorf("%w: %s", ErrWorldNotFound, worldID)
	}

	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "status", string(StatusEnded))
		// время первого завершения не перезаписывается
		pipe.HSetNX(ctx, key, "ended_at", now.UnixMilli())
		removed = pipe.SRem(ctx, activeSetKey, worldID)
		return nil
	})
	if err != nil {
		return false, storage.Unavailable("session end", err)
	}
	return removed.Val() == 1, nil
}

func (s *RedisSessions) ListActive(ctx context.Context) ([]World, error) {
	ids, err := s.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, storage.Unavailable("session list", err)
	}
	if len(ids) == 0 {
		return []World{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, worldKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, storage.Unavailable("session list", err)
	}

	out := make([]World, 0, len(ids))
	for i, cmd := range cmds {
		w, err := parseWorld(ids[i], cmd.Val())
		if err != nil || w.Status != StatusActive {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
