package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRoomTTL = 24 * time.Hour

var (
	ErrNotFound = errors.New("store: key not found")
	// ErrConflict reports that a watched document changed during a Mutate.
	ErrConflict = errors.New("store: concurrent update")
)

// Store is the narrow shared-state adapter used by the game core.
type Store struct {
	rdb     *redis.Client
	roomTTL time.Duration
}

func New(rdb *redis.Client, roomTTL time.Duration) *Store {
	if roomTTL <= 0 {
		roomTTL = DefaultRoomTTL
	}
	return &Store{rdb: rdb, roomTTL: roomTTL}
}

// Open dials a redis:// or rediss:// URL and pings it.
func Open(ctx context.Context, rawURL string, roomTTL time.Duration) (*Store, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("redis url required")
	}
	opts, err := parseRedisURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, roomTTL), nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) RoomTTL() time.Duration { return s.roomTTL }

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

// Sorted sets

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZScore reports the member's score and whether it is present.
func (s *Store) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := s.rdb.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatFloat(min, 'f', -1, 64),
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}).Result()
}

// ZMembers lists every member of key in score order.
func (s *Store) ZMembers(ctx context.Context, key string) ([]string, error) {
	return s.rdb.ZRange(ctx, key, 0, -1).Result()
}

// ZRem returns how many of members were actually removed.
func (s *Store) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.ZRem(ctx, key, args...).Result()
}

var claimPairScript = redis.NewScript(`
if redis.call("ZSCORE", KEYS[1], ARGV[1]) and redis.call("ZSCORE", KEYS[1], ARGV[2]) then
	redis.call("ZREM", KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// ZClaimPair removes a and b from key only if both are present, atomically.
// Only one caller can ever win a given pair, across all instances sharing the store.
func (s *Store) ZClaimPair(ctx context.Context, key, a, b string) (bool, error) {
	n, err := claimPairScript.Run(ctx, s.rdb, []string{key}, a, b).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Documents

// PutJSON stores v under key with ttl (0 means no expiry).
func (s *Store) PutJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.rdb.Set(ctx, key, raw, ttl).Err()
}

func (s *Store) GetJSON(ctx context.Context, key string, v any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Mutate loads the document at key into v, calls fn and, when fn reports a
// change, writes v back keeping the key's remaining TTL. The read-modify-write
// runs under WATCH; a concurrent writer yields ErrConflict and nothing is written.
func (s *Store) Mutate(ctx context.Context, key string, v any, fn func() (bool, error)) error {
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		changed, err := fn()
		if err != nil || !changed {
			return err
		}
		out, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, redis.KeepTTL)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

// Hashes

func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	return s.rdb.HSet(ctx, key, field, value).Err()
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) HDel(ctx context.Context, key, field string) error {
	return s.rdb.HDel(ctx, key, field).Err()
}

var hdelIfScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
	return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`)

// HDelIf deletes field only while it still holds value.
func (s *Store) HDelIf(ctx context.Context, key, field, value string) (bool, error) {
	n, err := hdelIfScript.Run(ctx, s.rdb, []string{key}, field, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Sets

func (s *Store) SAdd(ctx context.Context, key, member string) error {
	return s.rdb.SAdd(ctx, key, member).Err()
}

func (s *Store) SRem(ctx context.Context, key, member string) error {
	return s.rdb.SRem(ctx, key, member).Err()
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.rdb.SMembers(ctx, key).Result()
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return s.rdb.SIsMember(ctx, key, member).Result()
}

// Pub/sub

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe returns a subscription whose Channel delivers published payloads.
// The caller must Close it.
func (s *Store) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, channel)
}

// parseRedisURL accepts redis://, rediss:// (TLS) and unix:// URLs with
// optional credentials, a database index and client query options.
func parseRedisURL(raw string) (*redis.Options, error) {
	return redis.ParseURL(strings.TrimSpace(raw))
}
