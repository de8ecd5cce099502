package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// popReadyScript atomically pops the n oldest members when the set
// holds at least n, otherwise touches nothing. Running as a script
// keeps check-and-pop a single Redis operation.
var popReadyScript = redis.NewScript(`
local n = tonumber(ARGV[1])
if redis.call('ZCARD', KEYS[1]) < n then
	return {}
end
local members = redis.call('ZRANGE', KEYS[1], 0, n - 1)
for _, m in ipairs(members) do
	redis.call('ZREM', KEYS[1], m)
end
return members
`)

// removeUserScript removes the member whose user_id matches ARGV[1].
var removeUserScript = redis.NewScript(`
local members = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, m in ipairs(members) do
	local ok, obj = pcall(cjson.decode, m)
	if ok and obj.user_id == ARGV[1] then
		redis.call('ZREM', KEYS[1], m)
		return 1
	end
end
return 0
`)

// RedisStore keeps each pool in a sorted set scored by join time, with
// a per-user reverse index so a leave request can find its pool.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func userKey(userID string) string {
	return fmt.Sprintf("matchmaking:user:%s", userID)
}

func (s *RedisStore) Add(ctx context.Context, key string, e Entry) error {
	member, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode queue entry: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(e.JoinedAt),
		Member: string(member),
	}).Err(); err != nil {
		return fmt.Errorf("add to pool %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) PopReady(ctx context.Context, key string, n int) ([]Entry, error) {
	raw, err := popReadyScript.Run(ctx, s.rdb, []string{key}, n).Result()
	if err != nil {
		return nil, fmt.Errorf("pop from pool %s: %w", key, err)
	}

	entries, decErr := decodePoolMembers(raw)
	if decErr != nil {
		// The script already removed every popped member. Requeue the
		// decodable entries so a corrupt member never drops its
		// poolmates; only the corrupt member itself stays gone.
		for _, e := range entries {
			if aerr := s.Add(ctx, key, e); aerr != nil {
				return nil, fmt.Errorf("requeue pool %s after corrupt member: %w", key, aerr)
			}
		}
		return nil, fmt.Errorf("pool %s: %w", key, decErr)
	}
	if len(entries) < n {
		return nil, nil
	}
	return entries, nil
}

// decodePoolMembers decodes popped members in order, reporting an error
// when any member was not a valid entry so the caller can requeue the
// rest.
func decodePoolMembers(raw interface{}) ([]Entry, error) {
	members, ok := raw.([]interface{})
	if !ok || len(members) == 0 {
		return nil, nil
	}

	entries := make([]Entry, 0, len(members))
	corrupt := 0
	for _, m := range members {
		str, ok := m.(string)
		if !ok {
			corrupt++
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			corrupt++
			continue
		}
		entries = append(entries, e)
	}
	if corrupt > 0 {
		return entries, fmt.Errorf("%d undecodable pool member(s)", corrupt)
	}
	return entries, nil
}

func (s *RedisStore) Remove(ctx context.Context, key, userID string) error {
	if err := removeUserScript.Run(ctx, s.rdb, []string{key}, userID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("remove from pool %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetUserKey(ctx context.Context, userID, key string, ttl time.Duration) error {
	return s.rdb.Set(ctx, userKey(userID), key, ttl).Err()
}

func (s *RedisStore) GetUserKey(ctx context.Context, userID string) (string, error) {
	key, err := s.rdb.Get(ctx, userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return key, nil
}

func (s *RedisStore) ClearUserKey(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, userKey(userID)).Err()
}
