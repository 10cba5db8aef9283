package storage

import (
	"context"

	"github.com/annel0/place3d/internal/grid"
	"github.com/annel0/place3d/internal/logging"
	"github.com/go-redis/redis/v8"
)

// putScript записывает куб, только если его ключ порядка больше сохранённого.
// KEYS[1] — hash кубов, KEYS[2] — hash ключей порядка.
// ARGV: поле, JSON куба, ключ порядка.
var putScript = redis.NewScript(`
local function greater(a, b)
	local n = math.min(#a, #b)
	for i = 1, n do
		local x, y = string.byte(a, i), string.byte(b, i)
		if x ~= y then
			return x > y
		end
	end
	return #a > #b
end

local cur = redis.call('HGET', KEYS[2], ARGV[1])
if cur and not greater(ARGV[3], cur) then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
return 1
`)

// RedisGridStore хранит сетку мира в Redis hash grid:{worldID},
// поле — ключ позиции "x_y_z", значение — JSON куба.
// Рядом лежит hash grid:{worldID}:order с grid.Cube.OrderKey каждой клетки;
// Lua-скрипт сравнивает ключи атомарно, и в клетке остаётся наибольший куб
// при любом порядке записи.
type RedisGridStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisGridStore создаёт сетку поверх готового клиента.
func NewRedisGridStore(client redis.UniversalClient) *RedisGridStore {
	return &RedisGridStore{
		client:    client,
		keyPrefix: "grid:",
	}
}

func (s *RedisGridStore) key(worldID string) string {
	return s.keyPrefix + worldID
}

func (s *RedisGridStore) orderKey(worldID string) string {
	return s.keyPrefix + worldID + ":order"
}

// Put записывает куб в hash мира, если он новее записанного.
func (s *RedisGridStore) Put(ctx context.Context, worldID string, cube grid.Cube) error {
	data, err := grid.Marshal(cube)
	if err != nil {
		return err
	}

	keys := []string{s.key(worldID), s.orderKey(worldID)}
	err = putScript.Run(ctx, s.client, keys, cube.Key(), data, cube.OrderKey()).Err()
	if err != nil {
		return unavailable("grid put", err)
	}
	return nil
}

// GetAll читает весь hash мира. Повреждённые записи пропускаются с предупреждением.
func (s *RedisGridStore) GetAll(ctx context.Context, worldID string) (map[string]grid.Cube, error) {
	raw, err := s.client.HGetAll(ctx, s.key(worldID)).Result()
	if err != nil {
		return nil, unavailable("grid get all", err)
	}

	result := make(map[string]grid.Cube, len(raw))
	for field, data := range raw {
		cube, err := grid.Unmarshal([]byte(data))
		if err != nil {
			logging.GetStorageLogger().Warn("⚠️ Skipping malformed cube %s in world %s: %v", field, worldID, err)
			continue
		}
		result[field] = cube
	}
	return result, nil
}

// Count возвращает HLEN hash мира.
func (s *RedisGridStore) Count(ctx context.Context, worldID string) (int64, error) {
	n, err := s.client.HLen(ctx, s.key(worldID)).Result()
	if err != nil {
		return 0, unavailable("grid count", err)
	}
	return n, nil
}
