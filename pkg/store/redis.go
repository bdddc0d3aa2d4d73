package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/pkg/kerrors"
)

// RedisStore is the production Store, backed by a single redis.Client.
// Every call wraps connection-level failures as kerrors.Unavailable so
// callers above C1 never need to know the backend is Redis.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore parses url (a redis:// or rediss:// URL) and opens a client.
// Connectivity is not verified until the first call; callers that want a
// fail-fast startup should call Ping.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.InvalidArgument, "parse redis url", err)
	}
	return &RedisStore{rdb: redis.NewClient(opts)}, nil
}

// Ping verifies connectivity, used at startup to fail fast.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return kerrors.Wrap(kerrors.Unavailable, "redis unreachable", err)
	}
	return nil
}

func (s *RedisStore) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return kerrors.Wrap(kerrors.Unavailable, "redis set", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, kerrors.Wrap(kerrors.Unavailable, "redis get", err)
	}
	return val, true, nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return kerrors.Wrap(kerrors.Unavailable, "redis del", err)
	}
	return nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, kerrors.Wrap(kerrors.Unavailable, "redis expire", err)
	}
	return ok, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, kerrors.Wrap(kerrors.Unavailable, "redis incr", err)
	}
	return n, nil
}

// decrFloor0 is a Lua script so the decrement-and-clamp is atomic: a plain
// DECR followed by a check-and-reset would race against a concurrent INCR.
var decrFloor0Script = redis.NewScript(`
local n = redis.call("DECR", KEYS[1])
if n < 0 then
	redis.call("SET", KEYS[1], 0)
	return 0
end
return n
`)

func (s *RedisStore) DecrFloor0(ctx context.Context, key string) (int64, error) {
	n, err := decrFloor0Script.Run(ctx, s.rdb, []string{key}).Int64()
	if err != nil {
		return 0, kerrors.Wrap(kerrors.Unavailable, "redis decr", err)
	}
	return n, nil
}

func (s *RedisStore) LPush(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.LPush(ctx, key, value).Err(); err != nil {
		return kerrors.Wrap(kerrors.Unavailable, "redis lpush", err)
	}
	return nil
}

func (s *RedisStore) LPushFront(ctx context.Context, key string, value []byte) error {
	// Re-queueing after a failed delivery must land back at the pop side
	// (the list tail, since BRPop pops from the tail) so it is the very
	// next item handed out, ahead of anything enqueued meanwhile.
	if err := s.rdb.RPush(ctx, key, value).Err(); err != nil {
		return kerrors.Wrap(kerrors.Unavailable, "redis requeue", err)
	}
	return nil
}

func (s *RedisStore) BRPop(ctx context.Context, wait time.Duration, key string) ([]byte, bool, error) {
	res, err := s.rdb.BRPop(ctx, wait, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, nil
		}
		return nil, false, kerrors.Wrap(kerrors.Unavailable, "redis brpop", err)
	}
	// res is [key, value]
	if len(res) < 2 {
		return nil, false, nil
	}
	return []byte(res[1]), true, nil
}

func (s *RedisStore) RPop(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.RPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, kerrors.Wrap(kerrors.Unavailable, "redis rpop", err)
	}
	return val, true, nil
}

func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, kerrors.Wrap(kerrors.Unavailable, "redis llen", err)
	}
	return n, nil
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return kerrors.Wrap(kerrors.Unavailable, "redis publish", err)
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, kerrors.Wrap(kerrors.Unavailable, "redis subscribe", err)
	}
	return &redisSubscription{pubsub: pubsub, out: remapMessages(pubsub)}, nil
}

func (s *RedisStore) SAdd(ctx context.Context, key, member string) error {
	if err := s.rdb.SAdd(ctx, key, member).Err(); err != nil {
		return kerrors.Wrap(kerrors.Unavailable, "redis sadd", err)
	}
	return nil
}

func (s *RedisStore) SRem(ctx context.Context, key, member string) error {
	if err := s.rdb.SRem(ctx, key, member).Err(); err != nil {
		return kerrors.Wrap(kerrors.Unavailable, "redis srem", err)
	}
	return nil
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, kerrors.Wrap(kerrors.Unavailable, "redis smembers", err)
	}
	return members, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Message
}

func (r *redisSubscription) Channel() <-chan Message { return r.out }
func (r *redisSubscription) Close() error            { return r.pubsub.Close() }

func remapMessages(pubsub *redis.PubSub) chan Message {
	out := make(chan Message, 16)
	in := pubsub.Channel()
	go func() {
		defer close(out)
		for msg := range in {
			out <- Message{Channel: msg.Channel, Payload: msg.Payload}
		}
	}()
	return out
}
