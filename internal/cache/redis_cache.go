package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"khata/backend/internal/domain"
)

// setIfNotOlder stores ARGV[1] unless the cached value carries a seq greater
// than ARGV[2]. ARGV[3] is the TTL in milliseconds; zero keeps the key
// without expiry.
var setIfNotOlder = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	local ok, decoded = pcall(cjson.decode, current)
	if ok and type(decoded) == 'table' and tonumber(decoded.seq) ~= nil and tonumber(decoded.seq) > tonumber(ARGV[2]) then
		return 0
	end
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

type RedisBalanceCache struct {
	client *redis.Client
}

func NewRedisBalanceCache(addr string, password string, db int) *RedisBalanceCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisBalanceCache{client: client}
}

func (c *RedisBalanceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisBalanceCache) Close() error {
	return c.client.Close()
}

func (c *RedisBalanceCache) Get(ctx context.Context, customerID string) (*domain.BalanceResponse, bool, error) {
	val, err := c.client.Get(ctx, balanceKey(customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resp domain.BalanceResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (c *RedisBalanceCache) Set(ctx context.Context, value *domain.BalanceResponse, ttl time.Duration) error {
	if value == nil || value.CustomerID == "" {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ttlMillis := int64(0)
	if ttl > 0 {
		ttlMillis = max(ttl.Milliseconds(), 1)
	}
	return setIfNotOlder.Run(ctx, c.client, []string{balanceKey(value.CustomerID)},
		string(payload), strconv.FormatInt(value.Seq, 10), strconv.FormatInt(ttlMillis, 10)).Err()
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, customerID string) error {
	return c.client.Del(ctx, balanceKey(customerID)).Err()
}
