// Package redis implements lease.Store on Redis. Each lease is a hash
// holding the owner and creation time; its expiry is the key TTL, so
// expired leases disappear without DeleteExpired.
package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/enverbisevac/leaselock/errors"
	"github.com/enverbisevac/leaselock/lease"
)

var (
	_ lease.Store  = (*Store)(nil)
	_ lease.Lister = (*Store)(nil)
)

var acquireScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], "owner", ARGV[1], "created_at", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

var renewScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "owner") == ARGV[1] then
    redis.call("HSET", KEYS[1], "created_at", ARGV[2])
    return redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return 0
`)

var deleteScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "owner") == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store implements lease.Store using Redis keys with a TTL.
type Store struct {
	config Config
	client redis.UniversalClient
}

// New returns a store using the provided client.
func New(client redis.UniversalClient, options ...Option) *Store {
	return &Store{
		config: defaultConfig(options...),
		client: client,
	}
}

func (s *Store) key(region, key string) string {
	return s.config.KeyPrefix + ":" + region + ":" + key
}

func (s *Store) TryInsert(ctx context.Context, key, region, owner string, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, s.client, []string{s.key(region, key)},
		owner, s.config.Now().UnixNano(), millis(ttl)).Int64()
	if err != nil {
		return false, s.wrap("try insert", err)
	}
	return n == 1, nil
}

func (s *Store) IsValid(ctx context.Context, key, region string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(region, key)).Result()
	if err != nil {
		return false, s.wrap("is valid", err)
	}
	return n == 1, nil
}

func (s *Store) Renew(ctx context.Context, key, region, owner string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, s.client, []string{s.key(region, key)},
		owner, s.config.Now().UnixNano(), millis(ttl)).Int64()
	if err != nil {
		return false, s.wrap("renew", err)
	}
	return n == 1, nil
}

func (s *Store) Delete(ctx context.Context, key, region, owner string) (bool, error) {
	n, err := deleteScript.Run(ctx, s.client, []string{s.key(region, key)}, owner).Int64()
	if err != nil {
		return false, s.wrap("delete", err)
	}
	return n == 1, nil
}

// DeleteExpired is a no-op: Redis drops expired keys itself.
func (s *Store) DeleteExpired(context.Context, string) (int64, error) {
	return 0, nil
}

func (s *Store) Check(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return s.wrap("check", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, region string) ([]lease.Lease, error) {
	prefix := s.key(region, "")
	now := s.config.Now()

	var leases []lease.Lease
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rkey := iter.Val()

		pipe := s.client.Pipeline()
		fields := pipe.HGetAll(ctx, rkey)
		pttl := pipe.PTTL(ctx, rkey)
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return nil, s.wrap("list", err)
		}

		values := fields.Val()
		ttl := pttl.Val()
		if len(values) == 0 || ttl <= 0 {
			// expired between SCAN and HGETALL
			continue
		}
		created, _ := strconv.ParseInt(values["created_at"], 10, 64)
		leases = append(leases, lease.Lease{
			Region:       region,
			Key:          strings.TrimPrefix(rkey, prefix),
			Owner:        values["owner"],
			CreatedAt:    time.Unix(0, created).UTC(),
			ExpiredAfter: now.Add(ttl).UTC(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, s.wrap("list", err)
	}
	return leases, nil
}

// wrap classifies err. Network failures and the retryable server replies
// are transient.
func (s *Store) wrap(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		redis.HasErrorPrefix(err, "LOADING"),
		redis.HasErrorPrefix(err, "TRYAGAIN"),
		redis.HasErrorPrefix(err, "CLUSTERDOWN"),
		redis.HasErrorPrefix(err, "MASTERDOWN"):
		return errors.Transient(err, "redis: %s", op)
	}
	return fmt.Errorf("redis: %s: %w", op, err)
}

func millis(d time.Duration) int64 {
	if ms := d.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}
