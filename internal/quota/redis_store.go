// Package quota provides a Redis-backed daily quota counter store. It is used
// instead of the SQL counter table when several job runners share quota
// state, so increments are visible to all of them immediately.
package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/repository"
)

// DefaultTTL keeps a day's counters around long enough to cover any
// timezone skew between runners.
const DefaultTTL = 48 * time.Hour

const keyPrefix = "autoindex:quota:"

// consumeScript increments a hash field only if the result stays within the
// limit. Returns {applied, submissions, inspections}.
var consumeScript = redis.NewScript(`
	local current = tonumber(redis.call("HGET", KEYS[1], ARGV[1]) or "0")
	local n = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local applied = 0
	if current + n <= limit then
		redis.call("HINCRBY", KEYS[1], ARGV[1], n)
		redis.call("EXPIRE", KEYS[1], ARGV[4])
		applied = 1
	end
	local sub = tonumber(redis.call("HGET", KEYS[1], "submissions") or "0")
	local insp = tonumber(redis.call("HGET", KEYS[1], "inspections") or "0")
	return {applied, sub, insp}
`)

// RedisStore keeps per-user daily counters in a Redis hash with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis quota store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func key(userID, day string) string {
	return keyPrefix + userID + ":" + day
}

// Get returns the user's counters for the day. A missing key is zero usage.
func (s *RedisStore) Get(ctx context.Context, userID, day string) (models.QuotaUsage, error) {
	usage := models.QuotaUsage{UserID: userID, Day: day}
	vals, err := s.client.HMGet(ctx, key(userID, day), "submissions", "inspections").Result()
	if err != nil {
		return usage, fmt.Errorf("quota get: %w", err)
	}
	usage.Submissions = toInt(vals[0])
	usage.Inspections = toInt(vals[1])
	return usage, nil
}

// Increment adds to both counters unconditionally.
func (s *RedisStore) Increment(ctx context.Context, userID, day string, submissions, inspections int) (models.QuotaUsage, error) {
	k := key(userID, day)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, k, "submissions", int64(submissions))
		pipe.HIncrBy(ctx, k, "inspections", int64(inspections))
		pipe.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return models.QuotaUsage{}, fmt.Errorf("quota increment: %w", err)
	}
	return s.Get(ctx, userID, day)
}

// TryConsume atomically adds n to the bucket if the result stays within limit.
func (s *RedisStore) TryConsume(ctx context.Context, userID, day string, bucket models.QuotaBucket, n, limit int) (models.QuotaUsage, error) {
	usage := models.QuotaUsage{UserID: userID, Day: day}
	res, err := consumeScript.Run(ctx, s.client,
		[]string{key(userID, day)},
		string(bucket), n, limit, int(s.ttl.Seconds()),
	).Int64Slice()
	if err != nil {
		return usage, fmt.Errorf("quota consume: %w", err)
	}
	usage.Submissions = int(res[1])
	usage.Inspections = int(res[2])
	if res[0] == 0 {
		return usage, repository.ErrQuotaCeiling
	}
	return usage, nil
}

// DeleteBefore is a no-op; keys expire on their own.
func (s *RedisStore) DeleteBefore(ctx context.Context, day string) (int64, error) {
	return 0, nil
}

func toInt(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

var _ repository.QuotaRepository = (*RedisStore)(nil)
