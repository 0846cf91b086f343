// Package coord is the shared coordination store the sorting-center workers
// use to exchange low-volume state: the next-expected-event index, the
// expected-scanner table, the late-package set, and the cross-center clock.
package coord

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/bkc/dell-unbounded-hackathon-2021/errs"
)

// Well-known coordination keys. All access goes through a Store, which
// prefixes them with the deployment scope.
const (
	KeyNextPackageEvent   = "next_package_event"
	KeyNextPackageScanner = "next_package_scanner"
	KeyLatePackages       = "late_packages"
	KeyClockSync          = "clock_sync"
)

// AllKeys lists every coordination key, for purge.
func AllKeys() []string {
	return []string{KeyNextPackageEvent, KeyNextPackageScanner, KeyLatePackages, KeyClockSync}
}

// Member is one scored entry of a sorted set.
type Member struct {
	Value string
	Score int64
}

// Store wraps a Redis connection with scope-prefixed keys.
type Store struct {
	rdb   *redis.Client
	scope string
}

// New builds a Store over an established Redis connection.
func New(rdb *redis.Client, scope string) *Store {
	return &Store{rdb: rdb, scope: scope}
}

func (s *Store) scoped(key string) string {
	return s.scope + ":" + key
}

func (s *Store) wrap(op, key string, err error) error {
	return errs.New("coord", errs.CodeUnavailable,
		errs.WithMessage(op), errs.WithField("key", s.scoped(key)), errs.WithCause(err))
}

// ZAdd inserts or updates member with the given score.
func (s *Store) ZAdd(ctx context.Context, key, member string, score int64) error {
	if err := s.rdb.ZAdd(ctx, s.scoped(key), redis.Z{Member: member, Score: float64(score)}).Err(); err != nil {
		return s.wrap("zadd", key, err)
	}
	return nil
}

// ZRem removes members from the sorted set. Unknown members are ignored.
func (s *Store) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.rdb.ZRem(ctx, s.scoped(key), args...).Err(); err != nil {
		return s.wrap("zrem", key, err)
	}
	return nil
}

// ZRangeByScore returns members with min <= score <= max, ascending by score.
func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max int64) ([]Member, error) {
	res, err := s.rdb.ZRangeByScoreWithScores(ctx, s.scoped(key), &redis.ZRangeBy{
		Min: strconv.FormatInt(min, 10),
		Max: strconv.FormatInt(max, 10),
	}).Result()
	if err != nil {
		return nil, s.wrap("zrangebyscore", key, err)
	}
	members := make([]Member, len(res))
	for i, z := range res {
		value, _ := z.Member.(string)
		members[i] = Member{Value: value, Score: int64(z.Score)}
	}
	return members, nil
}

// HSet stores field=value in the named hash.
func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	if err := s.rdb.HSet(ctx, s.scoped(key), field, value).Err(); err != nil {
		return s.wrap("hset", key, err)
	}
	return nil
}

// HGet reads a hash field. The second return is false when the field is
// absent.
func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	value, err := s.rdb.HGet(ctx, s.scoped(key), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.wrap("hget", key, err)
	}
	return value, true, nil
}

// HDel removes hash fields. Unknown fields are ignored.
func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.rdb.HDel(ctx, s.scoped(key), fields...).Err(); err != nil {
		return s.wrap("hdel", key, err)
	}
	return nil
}

// SAdd inserts member into the named set and reports whether it was newly
// added.
func (s *Store) SAdd(ctx context.Context, key, member string) (bool, error) {
	added, err := s.rdb.SAdd(ctx, s.scoped(key), member).Result()
	if err != nil {
		return false, s.wrap("sadd", key, err)
	}
	return added == 1, nil
}

// SRem removes members from the set. Unknown members are ignored.
func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.rdb.SRem(ctx, s.scoped(key), args...).Err(); err != nil {
		return s.wrap("srem", key, err)
	}
	return nil
}

// SMembers returns every member of the set.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, s.scoped(key)).Result()
	if err != nil {
		return nil, s.wrap("smembers", key, err)
	}
	return members, nil
}

// Del drops the given keys outright.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	scoped := make([]string, len(keys))
	for i, k := range keys {
		scoped[i] = s.scoped(k)
	}
	if err := s.rdb.Del(ctx, scoped...).Err(); err != nil {
		return errs.New("coord", errs.CodeUnavailable,
			errs.WithMessage("del"), errs.WithField("keys", strconv.Itoa(len(keys))), errs.WithCause(err))
	}
	return nil
}
